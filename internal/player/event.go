package player

import (
	"context"
	"log/slog"
	"time"

	"github.com/micro-nova/lpaplayer/internal/bufpool"
	"github.com/micro-nova/lpaplayer/internal/hardware"
)

// eventLoop returns played buffers to the request queue and reports the
// end of stream. A device may never signal completion for a final short
// period, so once only the last buffer remains a timer sized to its
// duration stands in for the completion.
func (p *Player) eventLoop(ctx context.Context, pool *bufpool.Pool) {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	arm := func(bytes int) {
		s := p.st.get()
		d := time.Duration(hardware.DurationUs(int64(bytes), s.sampleRate, s.channels)) * time.Microsecond
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		timerC = timer.C
		slog.Debug("player: end of stream timer armed", "after", d)
	}
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
	}
	defer disarm()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-p.lastBuffer:
			if p.st.get().reachedEOS {
				arm(n)
			}
		case <-timerC:
			timerC = nil
			p.finishEOS()
		case <-p.pcm.Completions():
			counted, remaining, next, eos := false, 0, 0, false
			p.st.update(func(v *playbackState) {
				if v.deviceQueued == 0 {
					return
				}
				r, nv, ok := pool.Complete()
				if !ok {
					return
				}
				v.deviceQueued--
				counted = true
				remaining, next, eos = r, nv, v.reachedEOS
			})
			if !counted {
				continue
			}
			p.decodeWake.notify(WakeQueue)
			switch {
			case eos && remaining == 1:
				arm(next)
			case eos && remaining == 0:
				disarm()
				p.finishEOS()
			}
		}
	}
}

// finishEOS posts the local end of stream and leaves the player paused at
// the final position.
func (p *Player) finishEOS() {
	p.postEOS(func(v *playbackState) bool {
		if v.paused || v.remote {
			return false
		}
		v.paused = true
		v.pauseTimeUs = v.seekTimeUs + p.pcm.Timestamp()
		return true
	})
}
