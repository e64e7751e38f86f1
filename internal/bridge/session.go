package bridge

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"llamacore/internal/scheduler"
	"llamacore/internal/sink"
)

var errUnknownSession = &scheduler.Error{Kind: scheduler.KindInvalidRequest, Message: "unknown or busy session"}

// session carries the frames of one chat exchange to the host.
type session struct {
	id   string
	ch   chan string
	quit chan struct{}
	push *sink.Push
	// active is set under Core.mu once a chat owns the session; the chat's
	// Complete then closes ch.
	active bool

	once     sync.Once
	quitOnce sync.Once
}

func (s *session) close() { s.once.Do(func() { close(s.ch) }) }

// detach refuses further frames; a streaming request sees the sink go
// not-writable and is cancelled.
func (s *session) detach() {
	s.quitOnce.Do(func() { close(s.quit) })
	s.push.Detach()
}

// NewSession registers a session and returns its id and frame channel. The
// channel is closed when the session's chat completes or it is closed.
func (c *Core) NewSession() (string, <-chan string) {
	s := &session{
		id:   uuid.NewString(),
		ch:   make(chan string, c.bufSize),
		quit: make(chan struct{}),
	}
	s.push = sink.NewPush(func(frame []byte) bool {
		select {
		case s.ch <- string(frame):
			return true
		case <-s.quit:
			return false
		}
	}, func() {
		c.drop(s.id)
		s.close()
	})
	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()
	return s.id, s.ch
}

// Chat runs one chat completion for session id and blocks until it is
// delivered. Frames go to the session channel; a failure is also reported
// in the Result.
func (c *Core) Chat(id, body string) Result {
	c.mu.Lock()
	s, ok := c.sessions[id]
	if ok && s.active {
		ok = false
	}
	if ok {
		s.active = true
	}
	c.mu.Unlock()
	if !ok {
		return failure(errUnknownSession)
	}
	if err := c.sched.ChatCompletions(context.Background(), []byte(body), s.push); err != nil {
		return failure(err)
	}
	return Result{Success: true}
}

// CloseSession detaches session id. A running chat is cancelled and closes
// the channel when it completes. Unknown ids are ignored.
func (c *Core) CloseSession(id string) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	delete(c.sessions, id)
	idle := ok && !s.active
	c.mu.Unlock()
	if !ok {
		return
	}
	s.detach()
	if idle {
		s.close()
	}
}

// Sessions returns the number of open sessions.
func (c *Core) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Core) drop(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}
