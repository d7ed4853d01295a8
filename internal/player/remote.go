package player

import (
	"context"
	"log/slog"
	"time"

	"github.com/micro-nova/lpaplayer/internal/bufpool"
)

// remoteRetry bounds how long a transfer waits before offering the sink
// the remainder of a partially accepted write.
const remoteRetry = 5 * time.Millisecond

func (p *Player) remoteLoop(ctx context.Context, pool *bufpool.Pool) {
	for ctx.Err() == nil {
		if !p.remoteReady(pool) {
			p.remoteWake.wait(ctx)
			continue
		}
		h, ok := pool.PopResponse()
		if !ok {
			continue
		}
		p.transfer(ctx, pool, h)
	}
}

func (p *Player) remoteReady(pool *bufpool.Pool) bool {
	ready := false
	p.st.update(func(v *playbackState) {
		ready = pool.LenResponse() > 0 &&
			v.sinkOpen &&
			!v.paused &&
			v.remote &&
			!v.resetting
	})
	return ready
}

// transfer streams one buffer to the sink in chunks of at most the sink's
// buffer size. A flush while the buffer is out (seek or route change)
// abandons the rest of it.
func (p *Player) transfer(ctx context.Context, pool *bufpool.Pool, h bufpool.Handle) {
	data := pool.Buffer(h).Data()
	aborted := false
	for len(data) > 0 {
		if ctx.Err() != nil {
			pool.Return(h)
			return
		}
		p.sinkMu.Lock()
		s := p.st.get()
		if !s.remote || !s.sinkOpen || s.resetting || pool.Stale(h) {
			p.sinkMu.Unlock()
			aborted = true
			break
		}
		if s.paused {
			p.sinkMu.Unlock()
			p.remoteWake.wait(ctx)
			continue
		}

		chunk := min(len(data), max(p.sink.BufferSize(), 1))
		n, err := p.sink.Write(data[:chunk])
		p.sinkMu.Unlock()
		if err != nil {
			slog.Warn("player: remote write failed", "err", err)
			aborted = true
			break
		}
		if n > 0 {
			data = data[n:]
			p.st.update(func(v *playbackState) {
				if !pool.Stale(h) {
					v.remoteBytes += int64(n)
				}
			})
		}
		if n < chunk {
			p.remoteWake.waitTimeout(ctx, remoteRetry)
		}
	}

	pool.Return(h)
	p.decodeWake.notify(WakeQueue)
	if aborted {
		return
	}
	p.postEOS(func(v *playbackState) bool {
		return v.remote && pool.LenResponse() == 0
	})
}
