package controller

import (
	"context"
	"log/slog"

	"github.com/micro-nova/lpaplayer/internal/effects"
	"github.com/micro-nova/lpaplayer/internal/models"
	"github.com/micro-nova/lpaplayer/internal/route"
)

// Start opens the requested media (or the configured default) and starts
// playback on it.
func (c *Controller) Start(ctx context.Context, req models.StartRequest) (models.Status, *models.AppError) {
	name := req.File
	if name == "" {
		name = c.Settings().MediaFile
	}
	if name == "" {
		return models.Status{}, models.ErrInvalidField("file", "no media file given or configured")
	}
	if req.Route != "" && req.Route != models.RouteLocal && req.Route != models.RouteRemote {
		return models.Status{}, models.ErrInvalidField("route", "route must be local or remote")
	}

	src, err := c.open(name)
	if err != nil {
		return models.Status{}, models.ErrInvalidField("file", err.Error())
	}
	if err := c.player.SetSource(src); err != nil {
		return models.Status{}, toAppError(err)
	}
	if req.Route != "" {
		c.player.HandleRouteChange(req.Route == models.RouteRemote)
	}
	if err := c.player.Start(ctx, false); err != nil {
		// Detach the source so the next Start can attach a new one.
		_ = c.player.Reset()
		return models.Status{}, toAppError(err)
	}

	if req.File != "" {
		_, _ = c.apply(func(s *models.Settings) error {
			s.MediaFile = req.File
			return nil
		})
	}
	slog.Info("controller: playback started", "media", name)
	return c.publish(models.EventStatus), nil
}

// Pause pauses playback; drain lets queued audio finish on the output.
func (c *Controller) Pause(drain bool) (models.Status, *models.AppError) {
	if err := c.player.Pause(drain); err != nil {
		return models.Status{}, toAppError(err)
	}
	return c.publish(models.EventStatus), nil
}

// Resume continues playback after Pause.
func (c *Controller) Resume() (models.Status, *models.AppError) {
	if err := c.player.Resume(); err != nil {
		return models.Status{}, toAppError(err)
	}
	return c.publish(models.EventStatus), nil
}

// Seek moves playback to positionUs.
func (c *Controller) Seek(positionUs int64) (models.Status, *models.AppError) {
	if positionUs < 0 {
		return models.Status{}, models.ErrInvalidField("position_us", "position_us must not be negative")
	}
	if err := c.player.SeekTo(positionUs); err != nil {
		return models.Status{}, toAppError(err)
	}
	return c.publish(models.EventStatus), nil
}

// Reset stops playback and releases every output.
func (c *Controller) Reset() (models.Status, *models.AppError) {
	if err := c.player.Reset(); err != nil {
		slog.Warn("controller: reset", "err", err)
		return models.Status{}, toAppError(err)
	}
	return c.publish(models.EventStatus), nil
}

// SetRoute selects the output route and remembers it across restarts.
func (c *Controller) SetRoute(remote bool) (models.Status, *models.AppError) {
	if _, err := c.apply(func(s *models.Settings) error {
		s.Route = models.RouteLocal
		if remote {
			s.Route = models.RouteRemote
		}
		return nil
	}); err != nil {
		return models.Status{}, toAppError(err)
	}
	c.player.HandleRouteChange(remote)
	return c.publish(models.EventRoute), nil
}

// HandleRouteEvent follows a route notification from the route monitor.
// Monitor-driven changes are not persisted.
func (c *Controller) HandleRouteEvent(ev route.Event) {
	slog.Info("controller: route event", "remote", ev.Remote, "device", ev.Device)
	c.player.HandleRouteChange(ev.Remote)
	c.publish(models.EventRoute)
}

// Effects returns the active effects configuration.
func (c *Controller) Effects() models.Effects {
	return c.chain.Config()
}

// SetEffects merges upd into the active effects configuration, applies it
// to queued audio and persists it.
func (c *Controller) SetEffects(upd models.EffectsUpdate) (models.Effects, *models.AppError) {
	cfg, appErr := upd.Apply(c.chain.Config())
	if appErr != nil {
		return models.Effects{}, appErr
	}
	c.ApplyEffects(cfg)
	if _, err := c.apply(func(s *models.Settings) error {
		s.Effects = cfg
		return nil
	}); err != nil {
		return models.Effects{}, toAppError(err)
	}
	if c.effectsPath != "" {
		if err := effects.Save(c.effectsPath, cfg); err != nil {
			slog.Warn("controller: write effects file", "path", c.effectsPath, "err", err)
		}
	}
	return cfg, nil
}

// ApplyEffects reconfigures the chain and has the player reprocess queued
// buffers. An unchanged configuration is ignored.
func (c *Controller) ApplyEffects(cfg models.Effects) {
	if cfg == c.chain.Config() {
		return
	}
	c.chain.Configure(cfg)
	c.player.EffectsChanged()
	slog.Info("controller: effects changed",
		"enabled", cfg.Enabled, "gain_db", cfg.GainDB, "balance", cfg.Balance, "mute", cfg.Mute)
}
