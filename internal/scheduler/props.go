package scheduler

import (
	"context"

	"llamacore/pkg/types"
)

// Props reports the server defaults and capabilities of the running engine.
func (s *Scheduler) Props() (types.Props, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running.Load() {
		return types.Props{}, errStopped
	}
	p := s.params
	return types.Props{
		DefaultGenerationSettings: types.DefaultGenerationSettings{
			Params: types.GenerationParams{
				NPredict:      p.NPredict,
				Temperature:   p.Temperature,
				TopK:          p.TopK,
				TopP:          p.TopP,
				MinP:          p.MinP,
				RepeatPenalty: p.RepeatPenalty,
				Seed:          p.Seed,
				Stop:          []string{},
			},
			NCtx: s.slotCtx(),
		},
		TotalSlots:      p.Parallel,
		ModelAlias:      s.modelName(),
		ModelPath:       p.Model,
		Modalities:      types.Modalities{Vision: s.info.Vision, Audio: s.info.Audio},
		EndpointSlots:   p.EndpointSlots,
		EndpointProps:   p.EndpointProps,
		EndpointMetrics: p.EndpointMetrics,
		ChatTemplate:    s.info.ChatTemplate,
		BOSToken:        s.info.BOSToken,
		EOSToken:        s.info.EOSToken,
		BuildInfo:       s.info.BuildInfo,
	}, nil
}

// Slots returns a snapshot of every slot, taken by the worker between steps.
// With failOnNoSlot it fails Unavailable when no slot is idle.
func (s *Scheduler) Slots(ctx context.Context, failOnNoSlot bool) ([]types.SlotStatus, error) {
	var (
		ts  []*task
		box *inbox
	)
	e := s.admit(func() *Error {
		if !s.params.EndpointSlots {
			return newError(KindNotSupported, "this server does not support the slots endpoint, start it with --slots")
		}
		ts = []*task{{kind: taskMetrics, slotID: -1}}
		var e *Error
		box, e = s.submit(ts, true)
		return e
	})
	if e != nil {
		return nil, s.finalize("slots", e)
	}
	defer s.waiters.remove(idsOf(ts))
	w := s.newWaiter(ctx, box, nil)
	defer w.stop()
	rs, e := s.collect(w, ts)
	if e != nil {
		if e.Kind == KindCancelled {
			s.observe("slots", e)
			return nil, e
		}
		return nil, s.finalize("slots", e)
	}
	r := rs[0]
	if failOnNoSlot && r.idle == 0 {
		return nil, s.finalize("slots", newError(KindUnavailable, "no slot available"))
	}
	s.observe("slots", nil)
	return r.slots, nil
}
