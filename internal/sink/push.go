package sink

import (
	"sync"
	"sync/atomic"
)

// Push forwards rendered frames across a boundary through a callback, the
// way bridge sessions hand tokens to a host application.
type Push struct {
	send       func(frame []byte) bool
	onComplete func()
	dead       atomic.Bool
	once       sync.Once
}

// NewPush returns a Push sink. send returning false marks the sink
// not-writable. onComplete may be nil.
func NewPush(send func(frame []byte) bool, onComplete func()) *Push {
	return &Push{send: send, onComplete: onComplete}
}

func (p *Push) Write(ev Event) bool {
	if p.dead.Load() {
		return false
	}
	if !p.send(ev.Frame()) {
		p.dead.Store(true)
		return false
	}
	return true
}

func (p *Push) IsWritable() bool { return !p.dead.Load() }

// Detach marks the receiver gone; further writes are refused.
func (p *Push) Detach() { p.dead.Store(true) }

func (p *Push) Complete() {
	p.once.Do(func() {
		if p.onComplete != nil {
			p.onComplete()
		}
	})
}
