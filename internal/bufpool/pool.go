// Package bufpool implements the fixed arena of audio buffers shared by the
// player stages.
//
// Buffers are addressed by Handle. Every slot carries an owner tag which is
// the single source of truth for who may touch the buffer: the request queue,
// the response queue, or exactly one stage holding it in flight. All queue
// transitions happen under one mutex, so a buffer is never observable between
// two owners.
package bufpool

import (
	"fmt"
	"sync"
)

// Handle identifies a slot in the pool.
type Handle int

// Owner is the current holder of a slot.
type Owner int

const (
	Free Owner = iota
	Request
	Response
	InFlight
)

func (o Owner) String() string {
	switch o {
	case Free:
		return "free"
	case Request:
		return "request"
	case Response:
		return "response"
	case InFlight:
		return "inflight"
	}
	return fmt.Sprintf("owner(%d)", int(o))
}

// Buffer is one raw audio buffer. Local holds decoded data, Device holds the
// effects-processed copy handed to the local PCM device.
type Buffer struct {
	Local    []byte
	Device   []byte
	Capacity int
	Valid    int
}

// Data returns the valid portion of the local copy.
func (b *Buffer) Data() []byte { return b.Local[:b.Valid] }

// DeviceData returns the valid portion of the device copy.
func (b *Buffer) DeviceData() []byte { return b.Device[:b.Valid] }

// Clear zeroes the local copy and marks the buffer empty.
func (b *Buffer) Clear() {
	clear(b.Local)
	b.Valid = 0
}

type slot struct {
	buf   Buffer
	owner Owner
	gen   uint64
}

// Counts is a snapshot of how many buffers each owner holds.
type Counts struct {
	Free     int
	Request  int
	Response int
	InFlight int
	Total    int
}

// Pool is a bounded arena of equally sized buffers.
type Pool struct {
	mu       sync.Mutex
	slots    []slot
	request  []Handle
	response []Handle
	gen      uint64
}

// New allocates count buffers of size bytes each. All buffers start in the
// request queue. Allocation is all-or-nothing.
func New(count, size int) (*Pool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("bufpool: invalid buffer count %d", count)
	}
	if size <= 0 {
		return nil, fmt.Errorf("bufpool: invalid buffer size %d", size)
	}
	p := &Pool{
		slots:   make([]slot, count),
		request: make([]Handle, 0, count),
	}
	for i := range p.slots {
		p.slots[i] = slot{
			buf: Buffer{
				Local:    make([]byte, size),
				Device:   make([]byte, size),
				Capacity: size,
			},
			owner: Request,
		}
		p.request = append(p.request, Handle(i))
	}
	return p, nil
}

// Len returns the total number of slots.
func (p *Pool) Len() int { return len(p.slots) }

// Buffer returns the buffer behind h. The caller must currently own h.
func (p *Pool) Buffer(h Handle) *Buffer {
	return &p.slots[h].buf
}

// Owner reports the current owner of h.
func (p *Pool) Owner(h Handle) Owner {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[h].owner
}

// PopRequest takes the head of the request queue. The buffer becomes
// in flight and is stamped with the current flush generation.
func (p *Pool) PopRequest() (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.request) == 0 {
		return 0, false
	}
	h := p.request[0]
	p.request = p.request[1:]
	p.take(h)
	return h, true
}

// PushFront returns an in-flight buffer to the head of the request queue so
// it is the next one filled.
func (p *Pool) PushFront(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOwn(h, InFlight)
	p.slots[h].owner = Request
	p.request = append([]Handle{h}, p.request...)
}

// Return moves an in-flight buffer to the tail of the request queue.
func (p *Pool) Return(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOwn(h, InFlight)
	p.slots[h].owner = Request
	p.request = append(p.request, h)
}

// Deliver appends a filled in-flight buffer to the response queue. If the
// queues were flushed since the buffer was taken or restamped, its content
// is stale: it goes back to the request queue and Deliver returns false.
func (p *Pool) Deliver(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOwn(h, InFlight)
	if p.slots[h].gen != p.gen {
		p.slots[h].owner = Request
		p.request = append(p.request, h)
		return false
	}
	p.slots[h].owner = Response
	p.response = append(p.response, h)
	return true
}

// Restamp marks an in-flight buffer as belonging to the current generation.
func (p *Pool) Restamp(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots[h].gen = p.gen
}

// Stale reports whether the in-flight buffer h was taken before the last
// flush.
func (p *Pool) Stale(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[h].gen != p.gen
}

// Generation returns the current flush generation.
func (p *Pool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// PopResponse takes the oldest filled buffer for transfer.
func (p *Pool) PopResponse() (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.response) == 0 {
		return 0, false
	}
	h := p.response[0]
	p.response = p.response[1:]
	p.take(h)
	return h, true
}

// Complete moves the oldest response buffer back to the request queue after
// the device finished playing it. It returns how many response buffers
// remain and the valid byte count of the new head (zero if none).
func (p *Pool) Complete() (remaining, headValid int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.response) == 0 {
		return 0, 0, false
	}
	h := p.response[0]
	p.response = p.response[1:]
	p.slots[h].owner = Request
	p.request = append(p.request, h)
	if len(p.response) > 0 {
		headValid = p.slots[p.response[0]].buf.Valid
	}
	return len(p.response), headValid, true
}

// Flush moves every response buffer to the request queue in one critical
// section and invalidates in-flight fills. It returns the number of buffers
// moved out of the response queue.
func (p *Pool) Flush() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	moved := len(p.response)
	for _, h := range p.response {
		p.slots[h].owner = Request
		p.request = append(p.request, h)
	}
	p.response = p.response[:0]
	return moved
}

// SnapshotResponse returns a copy of the response queue in presentation
// order. The snapshot does not own the buffers.
func (p *Pool) SnapshotResponse() []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Handle, len(p.response))
	copy(out, p.response)
	return out
}

// Visit calls fn on the buffer while holding the pool lock, provided h is
// still waiting in the response queue. It reports whether fn ran.
func (p *Pool) Visit(h Handle, fn func(*Buffer)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(h) < 0 || int(h) >= len(p.slots) || p.slots[h].owner != Response {
		return false
	}
	fn(&p.slots[h].buf)
	return true
}

// InResponse reports whether h is still queued for playback.
func (p *Pool) InResponse(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[h].owner == Response
}

// LenRequest returns the request queue length.
func (p *Pool) LenRequest() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.request)
}

// LenResponse returns the response queue length.
func (p *Pool) LenResponse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.response)
}

// Counts returns per-owner totals.
func (p *Pool) Counts() Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := Counts{Total: len(p.slots)}
	for i := range p.slots {
		switch p.slots[i].owner {
		case Free:
			c.Free++
		case Request:
			c.Request++
		case Response:
			c.Response++
		case InFlight:
			c.InFlight++
		}
	}
	return c
}

// Release frees every buffer and clears both queues. No stage may hold a
// handle when Release is called.
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		p.slots[i].buf = Buffer{}
		p.slots[i].owner = Free
	}
	p.request = nil
	p.response = nil
	p.gen++
}

func (p *Pool) take(h Handle) {
	p.slots[h].owner = InFlight
	p.slots[h].gen = p.gen
}

func (p *Pool) mustOwn(h Handle, want Owner) {
	if got := p.slots[h].owner; got != want {
		panic(fmt.Sprintf("bufpool: handle %d owned by %s, want %s", h, got, want))
	}
}
