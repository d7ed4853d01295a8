// Package effects implements the in-place post-processing applied to
// decoded s16le buffers before they reach the local device, and the file
// watcher that reloads its configuration.
package effects

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/micro-nova/lpaplayer/internal/models"
)

// Chain applies gain, balance and mute. Process always reads the
// unprocessed source and writes the destination, so reprocessing a buffer
// after a configuration change never compounds.
type Chain struct {
	mu    sync.RWMutex
	cfg   models.Effects
	left  float64
	right float64
}

// NewChain creates a chain with the given configuration.
func NewChain(cfg models.Effects) *Chain {
	c := &Chain{}
	c.Configure(cfg)
	return c
}

// Configure replaces the configuration.
func (c *Chain) Configure(cfg models.Effects) {
	gain := math.Pow(10, cfg.GainDB/20)
	left, right := gain, gain
	if cfg.Balance > 0 {
		left *= 1 - cfg.Balance
	} else if cfg.Balance < 0 {
		right *= 1 + cfg.Balance
	}
	if cfg.Mute {
		left, right = 0, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.left, c.right = left, right
}

// Config returns the current configuration.
func (c *Chain) Config() models.Effects {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Active reports whether processing changes the signal.
func (c *Chain) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Enabled
}

// Process writes the processed form of src into dst. Channel 0 is left and
// channel 1 right; further channels take the plain gain.
func (c *Chain) Process(dst, src []byte, channels int) {
	c.mu.RLock()
	enabled, left, right := c.cfg.Enabled, c.left, c.right
	c.mu.RUnlock()

	n := min(len(dst), len(src))
	if !enabled || channels <= 0 {
		copy(dst, src[:n])
		return
	}
	center := (left + right) / 2
	if channels < 2 {
		left = center
	}
	for i := 0; i+1 < n; i += 2 {
		ch := (i / 2) % channels
		g := center
		switch ch {
		case 0:
			g = left
		case 1:
			g = right
		}
		s := float64(int16(binary.LittleEndian.Uint16(src[i:])))
		binary.LittleEndian.PutUint16(dst[i:], uint16(clip16(s*g)))
	}
}

func clip16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}
