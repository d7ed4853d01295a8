package models

// Status is a point-in-time snapshot of the player.
type Status struct {
	State        string `json:"state"` // "idle" | "playing" | "paused"
	Route        string `json:"route"`
	Seeking      bool   `json:"seeking"`
	EOS          bool   `json:"eos"`
	PositionUs   int64  `json:"position_us"`
	SampleRate   int    `json:"sample_rate,omitempty"`
	Channels     int    `json:"channels,omitempty"`
	FramesPlayed int64  `json:"frames_played"`
	RemoteBytes  int64  `json:"remote_bytes"`
	Requests     int    `json:"request_buffers"`
	Responses    int    `json:"response_buffers"`
	InFlight     int    `json:"inflight_buffers"`
}

// Player states reported in Status.State.
const (
	StateIdle    = "idle"
	StatePlaying = "playing"
	StatePaused  = "paused"
)

// Event kinds published on the event bus.
const (
	EventStatus       = "status"
	EventEOS          = "eos"
	EventSeekComplete = "seek_complete"
	EventRoute        = "route"
)

// Event is a single bus message delivered to SSE subscribers.
type Event struct {
	Kind   string `json:"kind"`
	Status Status `json:"status"`
}
