// Package models defines the data structures shared by the player, the
// config store and the HTTP API.
package models

// Buffer pool tuning.
const (
	DefaultBufferCount    = 4
	DefaultBufferSize     = 262144
	MaxBufferCount        = 64
	MinBufferSize         = 4096
	DefaultPauseTimeoutMs = 3000
	DefaultRetryPerSec    = 200
)

// Route names.
const (
	RouteLocal  = "local"
	RouteRemote = "remote"
)

// Settings is the persisted daemon configuration.
type Settings struct {
	BufferCount    int     `json:"buffer_count"`
	BufferSize     int     `json:"buffer_size"`
	PauseTimeoutMs int     `json:"pause_timeout_ms"`
	RetryPerSec    float64 `json:"retry_per_sec"` // zero-length read backoff
	Route          string  `json:"route"`         // "local" | "remote"

	Card   int `json:"pcm_card"`
	Device int `json:"pcm_device"`

	SerialPort string `json:"serial_port"`
	SerialBaud int    `json:"serial_baud"`

	AmpPin string `json:"amp_pin"` // GPIO name, empty disables amp control

	EffectsFile string  `json:"effects_file"`
	Effects     Effects `json:"effects"`

	MediaFile string `json:"media_file,omitempty"`
}

// Effects is the post-processing chain configuration.
type Effects struct {
	Enabled bool    `json:"enabled"`
	GainDB  float64 `json:"gain_db"` // [-60, 12]
	Balance float64 `json:"balance"` // [-1 left, 1 right]
	Mute    bool    `json:"mute"`
}

// Effects bounds.
const (
	MinGainDB = -60.0
	MaxGainDB = 12.0
)

// DefaultSettings returns the configuration used when no config file exists.
func DefaultSettings() Settings {
	return Settings{
		BufferCount:    DefaultBufferCount,
		BufferSize:     DefaultBufferSize,
		PauseTimeoutMs: DefaultPauseTimeoutMs,
		RetryPerSec:    DefaultRetryPerSec,
		Route:          RouteLocal,
		Card:           0,
		Device:         0,
		SerialPort:     "/dev/serial0",
		SerialBaud:     921600,
		AmpPin:         "",
		EffectsFile:    "effects.json",
	}
}
