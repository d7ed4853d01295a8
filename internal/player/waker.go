package player

import (
	"context"
	"fmt"
	"time"
)

// WakeReason tells a stage why it was woken. Stages always re-check state
// after waking; the reason is only used for logging.
type WakeReason int

const (
	WakeQueue WakeReason = iota + 1
	WakeRoute
	WakePauseResume
	WakeEffects
	WakeSeek
	WakeKill
)

func (r WakeReason) String() string {
	switch r {
	case WakeQueue:
		return "queue"
	case WakeRoute:
		return "route"
	case WakePauseResume:
		return "pause-resume"
	case WakeEffects:
		return "effects"
	case WakeSeek:
		return "seek"
	case WakeKill:
		return "kill"
	}
	return fmt.Sprintf("wake(%d)", int(r))
}

// waker is a coalescing wake-up channel for one stage. A notify that
// arrives while the stage is busy is held until its next wait, so a
// wake-up is never lost between checking a condition and sleeping.
type waker struct {
	ch chan WakeReason
}

func newWaker() *waker {
	return &waker{ch: make(chan WakeReason, 1)}
}

func (w *waker) notify(r WakeReason) {
	select {
	case w.ch <- r:
	default:
	}
}

// wait blocks until notified or ctx ends, in which case it returns WakeKill.
func (w *waker) wait(ctx context.Context) WakeReason {
	select {
	case <-ctx.Done():
		return WakeKill
	case r := <-w.ch:
		return r
	}
}

func (w *waker) drain() {
	select {
	case <-w.ch:
	default:
	}
}

// waitTimeout is wait bounded by d. It returns zero on timeout.
func (w *waker) waitTimeout(ctx context.Context, d time.Duration) WakeReason {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return WakeKill
	case r := <-w.ch:
		return r
	case <-t.C:
		return 0
	}
}
