//go:build !linux

package hardware

import "context"

// ALSA is only available on linux; elsewhere every call fails.
type ALSA struct{}

// NewALSA returns a driver that reports ALSA as unsupported.
func NewALSA(card, device int) *ALSA { return &ALSA{} }

var errNoALSA = ErrHardware("alsa: not supported on this platform")

func (a *ALSA) Open(Params) error { return errNoALSA }
func (a *ALSA) Prepare() error { return errNoALSA }
func (a *ALSA) Write(context.Context, []byte) (int, error) { return 0, errNoALSA }
func (a *ALSA) Start() error { return errNoALSA }
func (a *ALSA) Pause(bool) error { return errNoALSA }
func (a *ALSA) Reset() error { return errNoALSA }
func (a *ALSA) Update(fn func()) { fn() }
func (a *ALSA) Timestamp() int64 { return 0 }
func (a *ALSA) Completions() <-chan struct{} { return nil }
func (a *ALSA) Close() error { return nil }
