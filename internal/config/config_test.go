package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/micro-nova/lpaplayer/internal/config"
	"github.com/micro-nova/lpaplayer/internal/models"
)

// --- JSONStore tests ---

func newTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lpaplayer-config-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func writeRaw(t *testing.T, dir string, raw map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "player.json"), data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestJSONStore_LoadMissingFile_ReturnsDefault(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	s, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if s == nil {
		t.Fatal("Load() returned nil settings")
	}
	if *s != models.DefaultSettings() {
		t.Errorf("Load() = %+v, want defaults", *s)
	}
}

func TestJSONStore_SaveLoadRoundTrip(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	s := models.DefaultSettings()
	s.BufferCount = 8
	s.Route = models.RouteRemote
	s.Effects.GainDB = -6

	if err := store.Save(&s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *loaded != s {
		t.Errorf("Load() = %+v, want %+v", *loaded, s)
	}
}

func TestJSONStore_CorruptJSON_ReturnsDefault(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	path := filepath.Join(dir, "player.json")
	if err := os.WriteFile(path, []byte("{invalid json!!!"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if *s != models.DefaultSettings() {
		t.Errorf("corrupt JSON: Load() = %+v, want defaults", *s)
	}
}

func TestJSONStore_MissingFieldsKeepDefaults(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)
	writeRaw(t, dir, map[string]interface{}{"buffer_count": 6})

	s, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.BufferCount != 6 {
		t.Errorf("BufferCount = %d, want 6", s.BufferCount)
	}
	if s.BufferSize != models.DefaultBufferSize {
		t.Errorf("BufferSize = %d, want default %d", s.BufferSize, models.DefaultBufferSize)
	}
	if s.SerialPort != "/dev/serial0" {
		t.Errorf("SerialPort = %q, want default", s.SerialPort)
	}
}

func TestJSONStore_FlushAfterSave_FileExists(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	s := models.DefaultSettings()
	if err := store.Save(&s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if _, err := os.Stat(store.Path()); err != nil {
		t.Errorf("expected file to exist at %q after Flush, got: %v", store.Path(), err)
	}
	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestJSONStore_FlushWithoutSave_NoError(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	if err := store.Flush(); err != nil {
		t.Errorf("Flush() with no pending save: error = %v, want nil", err)
	}
}

func TestJSONStore_Path(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)
	if p := store.Path(); p != filepath.Join(dir, "player.json") {
		t.Errorf("Path() = %q", p)
	}
}

func TestJSONStore_SaveTwice_LastWins(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	s1 := models.DefaultSettings()
	s1.MediaFile = "first.wav"
	s2 := models.DefaultSettings()
	s2.MediaFile = "second.wav"

	if err := store.Save(&s1); err != nil {
		t.Fatalf("First Save() error = %v", err)
	}
	if err := store.Save(&s2); err != nil {
		t.Fatalf("Second Save() error = %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.MediaFile != "second.wav" {
		t.Errorf("MediaFile = %q, want %q", loaded.MediaFile, "second.wav")
	}
}

func TestJSONStore_SaveCopiesInput(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	s := models.DefaultSettings()
	s.BufferCount = 5
	if err := store.Save(&s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.BufferCount = 9
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	loaded, _ := store.Load()
	if loaded.BufferCount != 5 {
		t.Errorf("BufferCount = %d, want 5 (value at Save time)", loaded.BufferCount)
	}
}

func TestJSONStore_Migrates(t *testing.T) {
	def := models.DefaultSettings()
	tests := []struct {
		name  string
		raw   map[string]interface{}
		check func(t *testing.T, s *models.Settings)
	}{
		{
			name: "buffer count zero",
			raw:  map[string]interface{}{"buffer_count": 0},
			check: func(t *testing.T, s *models.Settings) {
				if s.BufferCount != def.BufferCount {
					t.Errorf("BufferCount = %d, want %d", s.BufferCount, def.BufferCount)
				}
			},
		},
		{
			name: "buffer count too large",
			raw:  map[string]interface{}{"buffer_count": 1000},
			check: func(t *testing.T, s *models.Settings) {
				if s.BufferCount != def.BufferCount {
					t.Errorf("BufferCount = %d, want %d", s.BufferCount, def.BufferCount)
				}
			},
		},
		{
			name: "buffer size too small",
			raw:  map[string]interface{}{"buffer_size": 100},
			check: func(t *testing.T, s *models.Settings) {
				if s.BufferSize != def.BufferSize {
					t.Errorf("BufferSize = %d, want %d", s.BufferSize, def.BufferSize)
				}
			},
		},
		{
			name: "buffer size unaligned",
			raw:  map[string]interface{}{"buffer_size": 8197},
			check: func(t *testing.T, s *models.Settings) {
				if s.BufferSize != 8192 {
					t.Errorf("BufferSize = %d, want 8192", s.BufferSize)
				}
			},
		},
		{
			name: "timeouts and retry",
			raw:  map[string]interface{}{"pause_timeout_ms": -1, "retry_per_sec": 0},
			check: func(t *testing.T, s *models.Settings) {
				if s.PauseTimeoutMs != def.PauseTimeoutMs || s.RetryPerSec != def.RetryPerSec {
					t.Errorf("got timeout %d retry %v, want defaults", s.PauseTimeoutMs, s.RetryPerSec)
				}
			},
		},
		{
			name: "unknown route",
			raw:  map[string]interface{}{"route": "bluetooth"},
			check: func(t *testing.T, s *models.Settings) {
				if s.Route != models.RouteLocal {
					t.Errorf("Route = %q, want local", s.Route)
				}
			},
		},
		{
			name: "empty effects file and bad baud",
			raw:  map[string]interface{}{"effects_file": "", "serial_baud": 0},
			check: func(t *testing.T, s *models.Settings) {
				if s.EffectsFile != def.EffectsFile || s.SerialBaud != def.SerialBaud {
					t.Errorf("got %q/%d, want defaults", s.EffectsFile, s.SerialBaud)
				}
			},
		},
		{
			name: "effects clamped",
			raw: map[string]interface{}{
				"effects": map[string]interface{}{"enabled": true, "gain_db": 40.0, "balance": -3.0},
			},
			check: func(t *testing.T, s *models.Settings) {
				if s.Effects.GainDB != models.MaxGainDB {
					t.Errorf("GainDB = %v, want %v", s.Effects.GainDB, models.MaxGainDB)
				}
				if s.Effects.Balance != -1 {
					t.Errorf("Balance = %v, want -1", s.Effects.Balance)
				}
				if !s.Effects.Enabled {
					t.Error("Enabled lost during migration")
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := newTempDir(t)
			writeRaw(t, dir, tc.raw)
			s, err := config.NewJSONStore(dir).Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.check(t, s)
		})
	}
}

func saveAndFlush(t *testing.T, store *config.JSONStore, s models.Settings) {
	t.Helper()
	if err := store.Save(&s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestJSONStore_RotatesBackup(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	first := models.DefaultSettings()
	first.MediaFile = "first.wav"
	saveAndFlush(t, store, first)
	if _, err := os.Stat(store.BackupPath()); !os.IsNotExist(err) {
		t.Fatalf("backup exists after the first write: %v", err)
	}

	second := models.DefaultSettings()
	second.MediaFile = "second.wav"
	saveAndFlush(t, store, second)

	data, err := os.ReadFile(store.BackupPath())
	if err != nil {
		t.Fatalf("ReadFile backup: %v", err)
	}
	var backup models.Settings
	if err := json.Unmarshal(data, &backup); err != nil {
		t.Fatalf("backup is not valid JSON: %v", err)
	}
	if backup.MediaFile != "first.wav" {
		t.Errorf("backup MediaFile = %q, want first.wav", backup.MediaFile)
	}
}

func TestJSONStore_CorruptFile_LoadsBackup(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	good := models.DefaultSettings()
	good.BufferCount = 6
	saveAndFlush(t, store, good)
	newer := good
	newer.BufferCount = 7
	saveAndFlush(t, store, newer)

	if err := os.WriteFile(store.Path(), []byte("{\"buffer_co"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := config.NewJSONStore(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.BufferCount != 6 {
		t.Errorf("BufferCount = %d, want 6 from the backup", s.BufferCount)
	}
}

func TestJSONStore_MissingFile_LoadsBackup(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	s := models.DefaultSettings()
	s.Route = models.RouteRemote
	saveAndFlush(t, store, s)
	if err := os.Rename(store.Path(), store.BackupPath()); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	loaded, err := config.NewJSONStore(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Route != models.RouteRemote {
		t.Errorf("Route = %q, want remote from the backup", loaded.Route)
	}
}

func TestJSONStore_CorruptFileAndBackup_ReturnsDefault(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)
	if err := os.WriteFile(store.Path(), []byte("not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(store.BackupPath(), []byte("[1,2"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *s != models.DefaultSettings() {
		t.Errorf("Load() = %+v, want defaults", *s)
	}
}

func TestJSONStore_UnchangedSettings_SkipsWrite(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	first := models.DefaultSettings()
	first.MediaFile = "first.wav"
	saveAndFlush(t, store, first)
	second := first
	second.MediaFile = "second.wav"
	saveAndFlush(t, store, second)

	// an identical save must not rotate second.wav into the backup
	saveAndFlush(t, store, second)

	backup, err := loadFile(store.BackupPath())
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if backup.MediaFile != "first.wav" {
		t.Errorf("backup MediaFile = %q, want first.wav", backup.MediaFile)
	}
}

func loadFile(path string) (models.Settings, error) {
	var s models.Settings
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, err
	}
	return s, nil
}

// --- MemStore tests ---

func TestMemStore_LoadBeforeSave_ReturnsDefault(t *testing.T) {
	store := config.NewMemStore()

	s, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *s != models.DefaultSettings() {
		t.Errorf("Load() = %+v, want defaults", *s)
	}
}

func TestMemStore_MutationIsolation(t *testing.T) {
	store := config.NewMemStore()

	s := models.DefaultSettings()
	s.BufferCount = 7
	if err := store.Save(&s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.BufferCount = 1

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.BufferCount != 7 {
		t.Errorf("isolation broken: BufferCount = %d, want 7", loaded.BufferCount)
	}
	loaded.BufferCount = 99

	again, _ := store.Load()
	if again.BufferCount != 7 {
		t.Errorf("isolation broken through returned pointer: %d", again.BufferCount)
	}
	if store.Saves() != 1 {
		t.Errorf("Saves() = %d, want 1", store.Saves())
	}
}

func TestMemStore_PathAndFlush(t *testing.T) {
	store := config.NewMemStore()
	if store.Path() != ":memory:" {
		t.Errorf("Path() = %q, want \":memory:\"", store.Path())
	}
	if err := store.Flush(); err != nil {
		t.Errorf("Flush() error = %v, want nil", err)
	}
}
