// Package sink delivers scheduler results to callers. A Sink is one-shot or
// streamed depending on the events written to it; the scheduler calls
// Complete exactly once per request on every path.
package sink

import (
	"bytes"
	"sync"
)

var (
	framePrefix = []byte("data: ")
	frameSuffix = []byte("\n\n")
	doneFrame   = []byte("data: [DONE]\n\n")
)

// Event is one delivery to a caller.
type Event struct {
	// Payload is one JSON document. Empty for the done sentinel.
	Payload []byte
	// Stream marks events belonging to an event stream.
	Stream bool
	// Done marks the terminal sentinel of an API-compatible stream.
	Done bool
	// Status is the HTTP-equivalent status of a one-shot payload; 0 means 200.
	Status int
}

// Frame renders the event for a text transport: `data: <json>\n\n` for
// stream events, `data: [DONE]\n\n` for the sentinel, the bare payload
// otherwise.
func (e Event) Frame() []byte {
	if e.Done {
		return doneFrame
	}
	if !e.Stream {
		return e.Payload
	}
	out := make([]byte, 0, len(framePrefix)+len(e.Payload)+len(frameSuffix))
	out = append(out, framePrefix...)
	out = append(out, e.Payload...)
	return append(out, frameSuffix...)
}

// Sink receives the results of one request.
type Sink interface {
	// Write delivers ev and reports whether the caller accepted it.
	Write(ev Event) bool
	// IsWritable probes caller liveness independent of the last Write.
	IsWritable() bool
	// Complete ends the request. It is idempotent.
	Complete()
}

// Buffer collects events in memory. It is safe for concurrent use.
type Buffer struct {
	mu        sync.Mutex
	events    []Event
	limit     int
	closed    bool
	completed int
	done      chan struct{}
	once      sync.Once
}

// NewBuffer returns an empty, writable Buffer.
func NewBuffer() *Buffer { return &Buffer{done: make(chan struct{})} }

// CloseAfter makes the buffer refuse writes and report not-writable once n
// events were accepted. n <= 0 closes immediately.
func (b *Buffer) CloseAfter(n int) *Buffer {
	b.mu.Lock()
	b.limit = n
	if n <= 0 {
		b.closed = true
	}
	b.mu.Unlock()
	return b
}

// Close makes the buffer not-writable.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *Buffer) Write(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.events = append(b.events, ev)
	if b.limit > 0 && len(b.events) >= b.limit {
		b.closed = true
	}
	return true
}

func (b *Buffer) IsWritable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

func (b *Buffer) Complete() {
	b.mu.Lock()
	b.completed++
	b.mu.Unlock()
	b.once.Do(func() { close(b.done) })
}

// Done is closed by the first Complete.
func (b *Buffer) Done() <-chan struct{} { return b.done }

// Completions returns how many times Complete was called.
func (b *Buffer) Completions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

// Events returns a copy of the accepted events.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Payloads returns the payloads of accepted non-sentinel events.
func (b *Buffer) Payloads() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, 0, len(b.events))
	for _, ev := range b.events {
		if !ev.Done {
			out = append(out, ev.Payload)
		}
	}
	return out
}

// Bytes returns the concatenated frames, as a text transport would see them.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var buf bytes.Buffer
	for _, ev := range b.events {
		buf.Write(ev.Frame())
	}
	return buf.Bytes()
}

// Status returns the status of the first event, 0 when none was written.
func (b *Buffer) Status() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return 0
	}
	return b.events[0].Status
}
