package config

import (
	"log/slog"
	"math"

	"github.com/micro-nova/lpaplayer/internal/models"
)

// migrateSettings replaces out-of-range values, which older or hand-edited
// config files may carry, with their defaults.
func migrateSettings(s *models.Settings) {
	def := models.DefaultSettings()

	if s.BufferCount <= 0 || s.BufferCount > models.MaxBufferCount {
		slog.Warn("config: invalid buffer_count, using default", "value", s.BufferCount)
		s.BufferCount = def.BufferCount
	}
	if s.BufferSize < models.MinBufferSize {
		slog.Warn("config: buffer_size too small, using default", "value", s.BufferSize)
		s.BufferSize = def.BufferSize
	}
	// Whole frames for any channel count up to 8 at 16 bits.
	if rem := s.BufferSize % 16; rem != 0 {
		slog.Warn("config: buffer_size not frame aligned, rounding down", "value", s.BufferSize)
		s.BufferSize -= rem
	}
	if s.PauseTimeoutMs <= 0 {
		s.PauseTimeoutMs = def.PauseTimeoutMs
	}
	if s.RetryPerSec <= 0 || math.IsNaN(s.RetryPerSec) || math.IsInf(s.RetryPerSec, 0) {
		s.RetryPerSec = def.RetryPerSec
	}
	if s.Route != models.RouteLocal && s.Route != models.RouteRemote {
		slog.Warn("config: unknown route, using local", "route", s.Route)
		s.Route = models.RouteLocal
	}
	if s.Card < 0 {
		s.Card = def.Card
	}
	if s.Device < 0 {
		s.Device = def.Device
	}
	if s.SerialBaud <= 0 {
		s.SerialBaud = def.SerialBaud
	}
	if s.EffectsFile == "" {
		s.EffectsFile = def.EffectsFile
	}

	e := &s.Effects
	if math.IsNaN(e.GainDB) {
		e.GainDB = 0
	}
	e.GainDB = min(max(e.GainDB, models.MinGainDB), models.MaxGainDB)
	if math.IsNaN(e.Balance) {
		e.Balance = 0
	}
	e.Balance = min(max(e.Balance, -1), 1)
}
