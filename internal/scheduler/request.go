package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"llamacore/internal/sink"
)

// waiter blocks a handler on its inbox while watching the caller.
type waiter struct {
	ctx  context.Context
	box  *inbox
	snk  sink.Sink
	tick *time.Ticker
}

func (s *Scheduler) newWaiter(ctx context.Context, box *inbox, snk sink.Sink) *waiter {
	return &waiter{ctx: ctx, box: box, snk: snk, tick: time.NewTicker(s.poll)}
}

func (w *waiter) stop() { w.tick.Stop() }

// next returns the results that arrived since the last call. It reports false
// once the context is done or the sink stops being writable.
func (w *waiter) next() ([]*result, bool) {
	for {
		if !w.writable() {
			return nil, false
		}
		if rs := w.box.drain(); len(rs) > 0 {
			return rs, true
		}
		select {
		case <-w.box.notify:
		case <-w.ctx.Done():
			return nil, false
		case <-w.tick.C:
		}
	}
}

// writable checks the sink independently of the last write's result.
func (w *waiter) writable() bool {
	return w.snk == nil || w.snk.IsWritable()
}

// pendingSet tracks the ids of a request that have no final result yet.
type pendingSet map[int]struct{}

func newPendingSet(ts []*task) pendingSet {
	p := make(pendingSet, len(ts))
	for _, t := range ts {
		p[t.id] = struct{}{}
	}
	return p
}

func (p pendingSet) ids() []int {
	out := make([]int, 0, len(p))
	for id := range p {
		out = append(out, id)
	}
	return out
}

// collect waits for the final result of every task, ordered by index.
// The first error aborts the wait and cancels the remaining tasks.
func (s *Scheduler) collect(w *waiter, ts []*task) ([]*result, *Error) {
	pending := newPendingSet(ts)
	byID := make(map[int]*task, len(ts))
	for _, t := range ts {
		byID[t.id] = t
	}
	out := make([]*result, len(ts))
	for len(pending) > 0 {
		rs, ok := w.next()
		if !ok {
			s.cancel(pending.ids())
			return nil, errCancelled
		}
		for _, r := range rs {
			if r.err != nil {
				delete(pending, r.id)
				s.cancel(pending.ids())
				return nil, r.err
			}
			t, known := byID[r.id]
			if !known || !r.final {
				continue
			}
			out[t.index] = r
			delete(pending, r.id)
		}
	}
	return out, nil
}

// stream writes every result of ts as it arrives. It returns errCancelled
// when the caller went away, in which case the remaining tasks are cancelled.
func (s *Scheduler) stream(w *waiter, ts []*task) *Error {
	pending := newPendingSet(ts)
	byID := make(map[int]*task, len(ts))
	for _, t := range ts {
		byID[t.id] = t
	}
	started := make(map[int]bool, len(ts))
	for len(pending) > 0 {
		rs, ok := w.next()
		if !ok {
			s.cancel(pending.ids())
			return errCancelled
		}
		for _, r := range rs {
			if r.err != nil {
				delete(pending, r.id)
				s.cancel(pending.ids())
				s.writeError(w.snk, r.err, true)
				return r.err
			}
			t, known := byID[r.id]
			if !known {
				continue
			}
			if _, live := pending[r.id]; !live {
				continue
			}
			payload, err := chunk(t, r, !started[r.id])
			if err != nil {
				s.cancel(pending.ids())
				e := newError(KindEngineFailure, "failed to encode result: %v", err)
				s.writeError(w.snk, e, true)
				return e
			}
			started[r.id] = true
			if !w.writable() || !w.snk.Write(sink.Event{Payload: payload, Stream: true}) {
				s.cancel(pending.ids())
				return errCancelled
			}
			if r.final {
				delete(pending, r.id)
			}
		}
	}
	if ts[0].format.oai() {
		w.snk.Write(sink.Event{Stream: true, Done: true})
	}
	return nil
}

// deliver waits for the results of a submitted set and writes them to snk.
// The set is deregistered on return.
func (s *Scheduler) deliver(ctx context.Context, snk sink.Sink, ts []*task, box *inbox, stream bool) *Error {
	defer func() {
		s.waiters.remove(idsOf(ts))
		waitingSets.WithLabelValues(s.label).Set(float64(s.waiters.len()))
	}()
	w := s.newWaiter(ctx, box, snk)
	defer w.stop()
	if stream {
		return s.stream(w, ts)
	}
	rs, e := s.collect(w, ts)
	if e != nil {
		if e.Kind != KindCancelled {
			s.writeError(snk, e, false)
		}
		return e
	}
	payload, err := aggregate(ts, rs)
	if err != nil {
		e := newError(KindEngineFailure, "failed to encode result: %v", err)
		s.writeError(snk, e, false)
		return e
	}
	snk.Write(sink.Event{Payload: payload})
	return nil
}

// writeError writes the error envelope, as a stream event or as a one-shot
// payload carrying the status code.
func (s *Scheduler) writeError(snk sink.Sink, e *Error, stream bool) {
	payload, err := json.Marshal(e.Response())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode error")
		return
	}
	if stream {
		snk.Write(sink.Event{Payload: payload, Stream: true})
		return
	}
	snk.Write(sink.Event{Payload: payload, Status: e.StatusCode()})
}

// finalize records the outcome of a handler and converts it to the value
// handlers return. A cancelled request is not an error to the caller.
func (s *Scheduler) finalize(endpoint string, e *Error) error {
	s.observe(endpoint, errOrNil(e))
	if e == nil || e.Kind == KindCancelled {
		return nil
	}
	return e
}

func errOrNil(e *Error) error {
	if e == nil {
		return nil
	}
	return e
}
