package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/micro-nova/lpaplayer/internal/models"
)

// sseKeepAlive is the idle interval after which a comment line is sent so
// proxies keep the stream open.
const sseKeepAlive = 15 * time.Second

var eventKinds = map[string]bool{
	models.EventStatus:       true,
	models.EventEOS:          true,
	models.EventSeekComplete: true,
	models.EventRoute:        true,
}

// sseStream writes numbered events to one client.
type sseStream struct {
	w     http.ResponseWriter
	f     http.Flusher
	seq   uint64
	kinds map[string]bool // nil means every kind
}

func (s *sseStream) send(ev models.Event) error {
	if s.kinds != nil && !s.kinds[ev.Kind] {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, ev.Kind, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseStream) ping() error {
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// parseKinds reads the optional comma separated kinds filter.
func parseKinds(r *http.Request) (map[string]bool, error) {
	raw := r.URL.Query().Get("kinds")
	if raw == "" {
		return nil, nil
	}
	kinds := make(map[string]bool)
	for _, k := range strings.Split(raw, ",") {
		k = strings.TrimSpace(k)
		if !eventKinds[k] {
			return nil, models.ErrInvalidField("kinds", fmt.Sprintf("unknown event kind %q", k))
		}
		kinds[k] = true
	}
	return kinds, nil
}

// sseEvents handles the SSE (Server-Sent Events) endpoint.
// Clients receive the current status immediately, then player events
// (status, eos, seek_complete, route) as they happen. ?kinds=eos,route
// limits the stream to the listed kinds.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	kinds, err := parseKinds(r)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	id := uuid.New().String()
	ch := h.events.Subscribe(id)
	defer h.events.Unsubscribe(id)

	stream := &sseStream{w: w, f: flusher, kinds: kinds}
	if err := stream.send(models.Event{Kind: models.EventStatus, Status: h.ctrl.Status()}); err != nil {
		return
	}
	// headers go out even when the filter held back the first event
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := stream.send(ev); err != nil {
				return
			}
			ticker.Reset(sseKeepAlive)
		case <-ticker.C:
			if err := stream.ping(); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
