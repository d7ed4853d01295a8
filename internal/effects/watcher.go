package effects

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/micro-nova/lpaplayer/internal/models"
)

// Load reads an effects configuration file. A missing file yields the zero
// (disabled) configuration.
func Load(path string) (models.Effects, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Effects{}, nil
		}
		return models.Effects{}, err
	}
	var cfg models.Effects
	if err := json.Unmarshal(data, &cfg); err != nil {
		return models.Effects{}, err
	}
	return cfg, nil
}

// Save writes cfg atomically (temp file + rename).
func Save(path string, cfg models.Effects) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Watcher reloads an effects file whenever it is written and hands the new
// configuration to a callback.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(models.Effects)
	done     chan struct{}
}

// Watch starts watching path. The directory must exist.
func Watch(path string, onChange func(models.Effects)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		watcher:  fw,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				slog.Warn("effects: failed to reload config", "path", w.path, "err", err)
				continue
			}
			slog.Debug("effects: config reloaded", "path", w.path, "gain_db", cfg.GainDB, "enabled", cfg.Enabled)
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("effects: watcher error", "err", err)
		}
	}
}
