package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/micro-nova/lpaplayer/internal/models"
)

const (
	configFileName = "player.json"
	backupSuffix   = ".bak"
	debounceDelay  = 500 * time.Millisecond
)

// JSONStore keeps the settings in a JSON file with debounced writes.
//
// Each write replaces the file through a synced temp file and rotates the
// previous version to player.json.bak. Load falls back to that backup when
// the main file is missing or unreadable, so a power cut mid-write loses at
// most the last change.
type JSONStore struct {
	mu      sync.Mutex
	path    string
	timer   *time.Timer
	pending *models.Settings
	last    []byte // contents of the main file as last read or written
}

// NewJSONStore creates a new JSON store in the given config directory.
func NewJSONStore(configDir string) *JSONStore {
	return &JSONStore{
		path: filepath.Join(configDir, configFileName),
	}
}

// Path returns the file path used by this store.
func (s *JSONStore) Path() string { return s.path }

// BackupPath returns the path holding the previously written settings.
func (s *JSONStore) BackupPath() string { return s.path + backupSuffix }

// Load reads the settings from disk, trying the backup when the main file
// is missing or corrupt. Returns DefaultSettings when neither parses.
// Fields missing from the file keep their default values.
func (s *JSONStore) Load() (*models.Settings, error) {
	settings, data, err := readSettings(s.path)
	if err == nil {
		s.mu.Lock()
		s.last = data
		s.mu.Unlock()
		return settings, nil
	}
	if !errors.Is(err, os.ErrNotExist) && !isParseError(err) {
		return nil, err
	}
	if isParseError(err) {
		slog.Warn("config: corrupt JSON config, trying backup", "path", s.path, "err", err)
	}

	settings, _, berr := readSettings(s.BackupPath())
	if berr == nil {
		slog.Info("config: settings restored from backup", "path", s.BackupPath())
		return settings, nil
	}
	if isParseError(berr) {
		slog.Warn("config: corrupt backup, using defaults", "path", s.BackupPath(), "err", berr)
	}
	def := models.DefaultSettings()
	return &def, nil
}

type parseError struct{ err error }

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func isParseError(err error) bool {
	var pe *parseError
	return errors.As(err, &pe)
}

func readSettings(path string) (*models.Settings, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	settings := models.DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, nil, &parseError{err: err}
	}
	migrateSettings(&settings)
	return &settings, data, nil
}

// Save schedules a debounced write of the settings to disk.
// The actual write happens after 500ms of no further Save calls.
func (s *JSONStore) Save(settings *models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *settings
	s.pending = &cp

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceDelay, func() {
		if err := s.writePending(); err != nil {
			slog.Error("config: failed to write settings", "path", s.path, "err", err)
		}
	})
	return nil
}

// Flush forces an immediate write of any pending settings.
func (s *JSONStore) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.writePending()
}

func (s *JSONStore) writePending() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	data, err := json.MarshalIndent(s.pending, "", "  ")
	if err != nil {
		return err
	}
	if bytes.Equal(data, s.last) {
		s.pending = nil
		return nil
	}
	if err := s.replaceLocked(data); err != nil {
		return err
	}
	s.last = data
	s.pending = nil
	return nil
}

// replaceLocked writes data to a synced temp file, moves the current file to
// the backup and renames the temp file into place.
func (s *JSONStore) replaceLocked(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(s.path, s.BackupPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config: could not rotate backup", "path", s.BackupPath(), "err", err)
	}
	return os.Rename(tmpPath, s.path)
}
