package sink

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// HTTP writes events to an http.ResponseWriter. Headers are chosen by the
// first event: an event stream or a JSON document with the event's status.
// Liveness comes from the request context captured at construction.
type HTTP struct {
	w   http.ResponseWriter
	rc  *http.ResponseController
	ctx context.Context

	mu       sync.Mutex
	started  bool
	failed   bool
	complete bool
	once     sync.Once
}

// NewHTTP binds a sink to one response.
func NewHTTP(w http.ResponseWriter, r *http.Request) *HTTP {
	return &HTTP{w: w, rc: http.NewResponseController(w), ctx: r.Context()}
}

func (h *HTTP) Write(ev Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failed || h.complete || h.ctx.Err() != nil {
		return false
	}
	if !h.started {
		h.started = true
		hdr := h.w.Header()
		if ev.Stream || ev.Done {
			hdr.Set("Content-Type", "text/event-stream")
			hdr.Set("Cache-Control", "no-cache")
			hdr.Set("Connection", "keep-alive")
			hdr.Set("X-Accel-Buffering", "no")
			h.w.WriteHeader(http.StatusOK)
		} else {
			hdr.Set("Content-Type", "application/json")
			status := ev.Status
			if status == 0 {
				status = http.StatusOK
			}
			h.w.WriteHeader(status)
		}
	}
	if _, err := h.w.Write(ev.Frame()); err != nil {
		h.failed = true
		return false
	}
	if ev.Stream || ev.Done {
		if err := h.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			h.failed = true
			return false
		}
	}
	return true
}

func (h *HTTP) IsWritable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.failed && !h.complete && h.ctx.Err() == nil
}

func (h *HTTP) Complete() {
	h.once.Do(func() {
		h.mu.Lock()
		h.complete = true
		h.mu.Unlock()
	})
}

// Started reports whether any event reached the response.
func (h *HTTP) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}
