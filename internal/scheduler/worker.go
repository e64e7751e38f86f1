package scheduler

import (
	"time"

	"llamacore/pkg/types"
)

// loop is the worker goroutine. It drains the queue, then advances active
// slots by one step, until Stop closes quit.
func (s *Scheduler) loop() {
	defer close(s.workerDone)
	for {
		select {
		case <-s.quit:
			return
		default:
		}
		for {
			t, ok := s.queue.pop()
			if !ok {
				break
			}
			s.process(t)
		}
		s.updateGauges()
		if s.busy() {
			s.step()
			continue
		}
		select {
		case <-s.queue.notify:
		case <-s.quit:
			return
		}
	}
}

func (s *Scheduler) busy() bool {
	for _, sl := range s.slots {
		if !sl.idle() {
			return true
		}
	}
	return false
}

func (s *Scheduler) process(t *task) {
	switch t.kind {
	case taskCancel:
		s.processCancel(t)
	case taskMetrics:
		s.processMetrics(t)
	case taskEmbedding:
		s.processEmbedding(t)
	default:
		s.processCompletion(t)
	}
}

func (s *Scheduler) processCancel(t *task) {
	ids := make(map[int]struct{}, len(t.targets))
	for _, id := range t.targets {
		ids[id] = struct{}{}
	}
	freed := false
	for _, sl := range s.slots {
		if sl.task == nil {
			continue
		}
		if _, ok := ids[sl.task.id]; ok {
			s.log.Debug().Int("id_slot", sl.id).Int("id_task", sl.task.id).Int("n_decoded", sl.nDecoded).Msg("cancel task")
			s.eng.End(sl.id)
			sl.release()
			freed = true
		}
	}
	s.queue.drop(ids)
	if freed {
		s.queue.requeueDeferred()
	}
}

func (s *Scheduler) processMetrics(t *task) {
	r := &result{id: t.id, index: t.index, final: true}
	r.slots = make([]types.SlotStatus, 0, len(s.slots))
	for _, sl := range s.slots {
		if sl.idle() {
			r.idle++
		}
		st := sl.status()
		st.Speculative = s.info.HasDraft
		r.slots = append(r.slots, st)
	}
	s.waiters.send(r)
}

// processCompletion starts a completion or infill task on a free slot, or
// defers it until one frees up.
func (s *Scheduler) processCompletion(t *task) {
	if !s.waiters.has(t.id) {
		return
	}
	sl, err := s.pickSlot(t)
	if err != nil {
		s.waiters.send(&result{id: t.id, index: t.index, final: true, err: err})
		return
	}
	if sl == nil {
		s.queue.deferTask(t)
		return
	}
	sl.assign(t)
	promptTokens.WithLabelValues(s.label).Add(float64(sl.nPrompt))
	if err := s.eng.Begin(sl.id, t.prompt, t.sampling); err != nil {
		sl.release()
		s.waiters.send(&result{id: t.id, index: t.index, final: true,
			err: newError(KindEngineFailure, "failed to evaluate prompt: %v", err)})
		return
	}
	sl.tPromptDone = time.Now()
}

// processEmbedding runs an embedding synchronously on a free slot.
func (s *Scheduler) processEmbedding(t *task) {
	if !s.waiters.has(t.id) {
		return
	}
	sl, err := s.pickSlot(t)
	if err != nil {
		s.waiters.send(&result{id: t.id, index: t.index, final: true, err: err})
		return
	}
	if sl == nil {
		s.queue.deferTask(t)
		return
	}
	sl.assign(t)
	vecs, eerr := s.eng.Embed(t.prompt)
	n := sl.nPrompt
	sl.release()
	if eerr != nil {
		s.waiters.send(&result{id: t.id, index: t.index, final: true,
			err: newError(KindEngineFailure, "failed to compute embedding: %v", eerr)})
		return
	}
	for i := range vecs {
		vecs[i] = normalize(vecs[i], t.normalize)
	}
	promptTokens.WithLabelValues(s.label).Add(float64(n))
	s.waiters.send(&result{id: t.id, index: t.index, final: true, slot: sl.id, nPrompt: n, embedding: vecs})
}

// step advances every active sequence by one token. An engine failure fails
// every active task.
func (s *Scheduler) step() {
	toks, err := s.eng.Step()
	if err != nil {
		s.log.Error().Err(err).Msg("engine step failed")
		for _, sl := range s.slots {
			if sl.task == nil {
				continue
			}
			s.waiters.send(&result{id: sl.task.id, index: sl.task.index, final: true,
				err: newError(KindEngineFailure, "decode failed: %v", err)})
			s.eng.End(sl.id)
			sl.release()
		}
		s.queue.requeueDeferred()
		return
	}
	if len(toks) == 0 {
		// engine has nothing for the active slots; avoid spinning
		time.Sleep(time.Millisecond)
		return
	}
	for _, tok := range toks {
		if tok.Seq < 0 || tok.Seq >= len(s.slots) {
			continue
		}
		sl := s.slots[tok.Seq]
		if sl.task == nil {
			continue
		}
		s.advance(sl, tok)
	}
}
