// Package controller owns the daemon state: the persisted settings, the
// playback engine, the effects chain and the event bus. The HTTP API, the
// route monitor and the effects watcher all go through it.
package controller

import (
	"errors"
	"sync"

	"github.com/micro-nova/lpaplayer/internal/config"
	"github.com/micro-nova/lpaplayer/internal/effects"
	"github.com/micro-nova/lpaplayer/internal/events"
	"github.com/micro-nova/lpaplayer/internal/hardware"
	"github.com/micro-nova/lpaplayer/internal/models"
	"github.com/micro-nova/lpaplayer/internal/player"
	"github.com/micro-nova/lpaplayer/internal/route"
	"github.com/micro-nova/lpaplayer/internal/source"
)

// Opener resolves a media name to a source.
type Opener func(name string) (source.Source, error)

// Options are the collaborators of a Controller.
type Options struct {
	// Deps are handed to the player; Effects and Observer are filled in
	// by the controller.
	Deps player.Deps
	// Open defaults to source.Open.
	Open Opener
	// EffectsPath, when set, receives effects changes made through the API.
	EffectsPath string
	// Routes, when set, drives the output route from monitor events.
	Routes route.Notifier
}

// Controller is the central state holder for the daemon.
// Settings mutations go through apply() which persists them; playback
// state lives in the player and is published on the bus as it changes.
type Controller struct {
	mu       sync.RWMutex
	settings models.Settings
	store    config.Store
	bus      *events.Bus

	player      *player.Player
	chain       *effects.Chain
	open        Opener
	effectsPath string
	routes      route.Notifier
	routeSub    int
}

// New creates a Controller from the stored settings.
func New(store config.Store, bus *events.Bus, opts Options) (*Controller, error) {
	settings, err := store.Load()
	if err != nil {
		return nil, err
	}

	c := &Controller{
		settings:    *settings,
		store:       store,
		bus:         bus,
		chain:       effects.NewChain(settings.Effects),
		open:        opts.Open,
		effectsPath: opts.EffectsPath,
		routes:      opts.Routes,
	}
	if c.open == nil {
		c.open = source.Open
	}

	deps := opts.Deps
	deps.Effects = c.chain
	deps.Observer = c
	c.player = player.New(player.ConfigFromSettings(*settings), deps)
	if c.routes != nil {
		c.routeSub = c.routes.Subscribe(c.HandleRouteEvent)
	}
	return c, nil
}

// Settings returns a copy of the current settings.
func (c *Controller) Settings() models.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Status returns the current playback snapshot.
func (c *Controller) Status() models.Status {
	return c.player.Status()
}

// apply is the settings mutation primitive. It:
//  1. Acquires the write lock
//  2. Copies the current settings
//  3. Calls fn to modify the copy (fn may return an error to abort)
//  4. If fn succeeds: stores the copy and schedules a save
func (c *Controller) apply(fn func(*models.Settings) error) (models.Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.settings
	if err := fn(&next); err != nil {
		return models.Settings{}, err
	}

	c.settings = next
	_ = c.store.Save(&c.settings) // debounced, async
	return c.settings, nil
}

// publish sends the current status on the bus under the given kind.
func (c *Controller) publish(kind string) models.Status {
	st := c.player.Status()
	c.bus.Publish(models.Event{Kind: kind, Status: st})
	return st
}

// PostAudioEOS implements player.Observer.
func (c *Controller) PostAudioEOS() { c.publish(models.EventEOS) }

// PostAudioSeekComplete implements player.Observer.
func (c *Controller) PostAudioSeekComplete() { c.publish(models.EventSeekComplete) }

// Close stops playback and flushes pending settings.
func (c *Controller) Close() error {
	if c.routes != nil {
		c.routes.Unsubscribe(c.routeSub)
	}
	return errors.Join(c.player.Reset(), c.store.Flush())
}

// toAppError maps player and driver errors onto API errors.
func toAppError(err error) *models.AppError {
	var appErr *models.AppError
	var hwErr hardware.HardwareError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, player.ErrAlreadyStarted), errors.Is(err, player.ErrSourceSet):
		return models.ErrConflict("playback already started")
	case errors.Is(err, player.ErrNotStarted):
		return models.ErrConflict("playback not started")
	case errors.Is(err, player.ErrUnsupportedFormat), errors.Is(err, player.ErrNoSource):
		return models.ErrBadRequest(err.Error())
	case errors.As(err, &hwErr):
		return models.ErrUnavailable(err.Error())
	default:
		return models.ErrInternal(err.Error())
	}
}
