package player

import "sync"

// playbackState is every flag and position shared between the control
// methods and the stages. It is only read or written through state.
type playbackState struct {
	started         bool
	paused          bool
	seeking         bool // user seek not yet consumed by the decode stage
	internalSeeking bool // route or timeout driven re-seek
	reachedEOS      bool
	eosPosted       bool
	remote          bool // route targets the remote sink
	sinkOpen        bool
	routed          bool // local session open and wake lock held
	resetting       bool
	deviceStarted   bool
	devicePaused    bool
	disconnectPause bool // remote went away while playing; next Pause finishes the switch
	routePending    bool // route switch waiting for the notify stage
	effectsPending  bool

	seekTimeUs  int64
	pauseTimeUs int64
	remoteBytes int64

	// writes handed to the device whose completion has not been consumed
	deviceQueued int

	sampleRate int
	channels   int
}

// state guards playbackState. Compound transitions run inside update so no
// stage observes a half-applied change. Lock order is state, then pool.
type state struct {
	mu sync.Mutex
	v  playbackState
}

// get returns a copy of the current state.
func (s *state) get() playbackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

// update runs fn with the state locked.
func (s *state) update(fn func(v *playbackState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.v)
}
