package player

import (
	"context"

	"github.com/micro-nova/lpaplayer/internal/bufpool"
)

// EffectsChanged tells the player the effects configuration changed.
// Buffers still queued for the local device are re-rendered in place before
// the device plays them, unless the player is paused, in which case the
// work waits for Resume.
func (p *Player) EffectsChanged() {
	p.st.update(func(v *playbackState) { v.effectsPending = true })
	p.effectsWake.notify(WakeEffects)
}

func (p *Player) effectsLoop(ctx context.Context, pool *bufpool.Pool) {
	for {
		if p.effectsWake.wait(ctx) == WakeKill {
			return
		}

		var queue []bufpool.Handle
		channels := 0
		p.st.update(func(v *playbackState) {
			if !v.effectsPending || v.paused {
				return
			}
			v.effectsPending = false
			channels = v.channels
			queue = pool.SnapshotResponse()
		})

		for len(queue) > 0 {
			if ctx.Err() != nil {
				return
			}
			s := p.st.get()
			if s.resetting || s.remote {
				break
			}
			if s.paused {
				p.st.update(func(v *playbackState) { v.effectsPending = true })
				break
			}
			h := queue[0]
			queue = queue[1:]

			// The device reads queued slots when it plays them, so the new
			// render reaches everything it has not consumed yet.
			p.applyMu.Lock()
			p.pcm.Update(func() {
				pool.Visit(h, func(b *bufpool.Buffer) {
					p.fx.Process(b.Device[:b.Valid], b.Local[:b.Valid], channels)
				})
			})
			p.applyMu.Unlock()
		}
	}
}
