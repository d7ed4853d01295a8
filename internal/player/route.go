package player

import (
	"context"
	"log/slog"

	"github.com/micro-nova/lpaplayer/internal/bufpool"
	"github.com/micro-nova/lpaplayer/internal/hardware"
)

// HandleRouteChange is called when the remote output appears (true) or
// goes away (false). Switching to remote while playing pauses the local
// device and re-seeks to the current position; the notify stage then
// moves the stream. Losing the remote output while playing only marks the
// switch as pending: the next Pause completes it.
func (p *Player) HandleRouteChange(remote bool) {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	s := p.st.get()
	if s.remote == remote {
		return
	}
	if !s.started {
		p.st.update(func(v *playbackState) { v.remote = remote })
		slog.Info("player: route set", "remote", remote)
		return
	}

	if remote {
		if !s.paused && s.routed && s.deviceStarted && !s.devicePaused {
			if err := p.pcm.Pause(true); err != nil {
				slog.Warn("player: pause device for route switch", "err", err)
			}
		}
		p.st.update(func(v *playbackState) {
			if v.paused {
				v.seekTimeUs = v.pauseTimeUs
			} else {
				v.seekTimeUs += p.timestampLocked(v, false)
			}
			v.remote = true
			v.routePending = true
			v.disconnectPause = false
			v.internalSeeking = true
			v.remoteBytes = 0
			v.reachedEOS = false
			v.eosPosted = false
		})
		slog.Info("player: remote output connected")
		p.notifyWake.notify(WakeRoute)
		return
	}

	p.st.update(func(v *playbackState) {
		v.remote = false
		if v.paused {
			v.routePending = true
		} else {
			v.disconnectPause = true
		}
	})
	slog.Info("player: remote output disconnected", "paused", s.paused)
	if s.paused {
		p.notifyWake.notify(WakeRoute)
	}
}

func (p *Player) notifyLoop(ctx context.Context, pool *bufpool.Pool) {
	for {
		if p.notifyWake.wait(ctx) == WakeKill {
			return
		}
		p.completeRouteSwitch(pool)
	}
}

// completeRouteSwitch performs a pending route switch, if any. Pause and
// Resume call it too so they never act on a half-switched route.
func (p *Player) completeRouteSwitch(pool *bufpool.Pool) {
	p.routeMu.Lock()
	defer p.routeMu.Unlock()

	pending, remote := false, false
	p.st.update(func(v *playbackState) {
		pending = v.routePending && !v.resetting
		v.routePending = false
		remote = v.remote
	})
	if !pending {
		return
	}
	if remote {
		p.switchToRemote(pool)
	} else {
		p.switchToLocal(pool)
	}
}

// switchToRemote drops everything queued for the local device, hands the
// local session back and opens the remote sink.
func (p *Player) switchToRemote(pool *bufpool.Pool) {
	p.cancelWrite()
	p.applyMu.Lock()
	moved := 0
	var s playbackState
	p.st.update(func(v *playbackState) {
		moved = pool.Flush()
		v.internalSeeking = true
		v.deviceStarted = false
		v.devicePaused = false
		v.deviceQueued = 0
		s = *v
	})
	if err := p.pcm.Reset(); err != nil {
		slog.Warn("player: reset device for route switch", "err", err)
	}
	p.applyMu.Unlock()

	if !s.sinkOpen {
		if s.routed {
			if err := p.session.Close(); err != nil {
				slog.Warn("player: close session", "err", err)
			}
			_ = p.lock.Release()
			p.st.update(func(v *playbackState) { v.routed = false })
		}
		if err := p.sink.Open(s.sampleRate, s.channels, p.cfg.BufferCount); err != nil {
			slog.Error("player: open remote sink", "err", err)
			return
		}
		if !s.paused {
			if err := p.sink.Start(); err != nil {
				slog.Warn("player: start remote sink", "err", err)
			}
		}
		p.st.update(func(v *playbackState) { v.sinkOpen = true })
	}
	slog.Info("player: routed to remote sink", "flushed", moved)
	p.decodeWake.notify(WakeRoute)
	p.remoteWake.notify(WakeRoute)
}

// switchToLocal moves the seek baseline to the position reached on the
// remote sink and re-seeks. The local session and device are reopened by
// Resume.
func (p *Player) switchToLocal(pool *bufpool.Pool) {
	moved := 0
	p.st.update(func(v *playbackState) {
		moved = pool.Flush()
		v.internalSeeking = true
		v.reachedEOS = false
		v.eosPosted = false
		if v.paused {
			v.seekTimeUs = v.pauseTimeUs
		} else {
			v.seekTimeUs += hardware.DurationUs(v.remoteBytes, v.sampleRate, v.channels)
		}
		v.remoteBytes = 0
	})
	slog.Info("player: routed to local device", "flushed", moved)
	p.remoteWake.notify(WakeRoute)
	p.decodeWake.notify(WakeRoute)
}
