// Package auth guards the control API with access keys read from
// access.json in the config directory. Without keys the API is open.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const accessFileName = "access.json"

// Access is the on-disk format of access.json: client name to access key.
type Access struct {
	Keys map[string]string `json:"keys"`
}

// Service checks access keys and reloads them when access.json changes.
type Service struct {
	mu        sync.RWMutex
	configDir string
	keys      map[string]string
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

// NewService creates a new auth service watching the given config directory.
func NewService(configDir string) (*Service, error) {
	s := &Service{
		configDir: configDir,
		keys:      make(map[string]string),
		done:      make(chan struct{}),
	}

	// Missing file is OK: open mode
	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth: could not create fsnotify watcher", "err", err)
		close(s.done)
		return s, nil
	}
	s.watcher = watcher

	if err := watcher.Add(configDir); err != nil {
		slog.Warn("auth: could not watch config dir", "err", err)
	}

	go s.watchLoop(s.accessPath())
	return s, nil
}

func (s *Service) accessPath() string {
	return filepath.Join(s.configDir, accessFileName)
}

// Reload re-reads access.json.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.accessPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.keys = make(map[string]string)
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var access Access
	if err := json.Unmarshal(data, &access); err != nil {
		return err
	}
	keys := make(map[string]string, len(access.Keys))
	for name, key := range access.Keys {
		if key != "" {
			keys[name] = key
		}
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	slog.Debug("auth: reloaded access keys", "count", len(keys))
	return nil
}

// IsOpenMode returns true if no access keys are configured.
// In open mode, all requests are allowed without authentication.
func (s *Service) IsOpenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys) == 0
}

// Verify returns the client name owning key.
// Uses constant-time comparison to prevent timing attacks.
func (s *Service) Verify(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, k := range s.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			return name, true
		}
	}
	return "", false
}

// Close stops the file watcher.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
	<-s.done
}

func (s *Service) watchLoop(accessPath string) {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name == accessPath && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove)) {
				if err := s.Reload(); err != nil {
					slog.Warn("auth: failed to reload access keys", "err", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("auth: watcher error", "err", err)
		}
	}
}
