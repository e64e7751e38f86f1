package scheduler

import (
	"time"
	"unicode/utf8"

	"llamacore/internal/engine"
	"llamacore/pkg/types"
)

// slot is one unit of generation capacity. Its sequence id in the engine is
// its index. Slots are touched by the worker goroutine only.
type slot struct {
	id   int
	nCtx int

	task     *task
	lastUsed time.Time

	nPrompt  int
	nDecoded int
	text     string
	sent     int

	tStart      time.Time
	tPromptDone time.Time
}

func newSlots(n, nCtx int) []*slot {
	out := make([]*slot, n)
	for i := range out {
		out[i] = &slot{id: i, nCtx: nCtx}
	}
	return out
}

func (sl *slot) idle() bool { return sl.task == nil }

func (sl *slot) assign(t *task) {
	sl.task = t
	sl.nPrompt = len(t.prompt.Tokens)
	sl.nDecoded = 0
	sl.text = ""
	sl.sent = 0
	sl.tStart = time.Now()
	sl.tPromptDone = sl.tStart
}

func (sl *slot) release() {
	sl.task = nil
	sl.lastUsed = time.Now()
}

func (sl *slot) remain() int {
	if sl.task == nil || sl.task.sampling.NPredict < 0 {
		return -1
	}
	return max(0, sl.task.sampling.NPredict-sl.nDecoded)
}

func (sl *slot) status() types.SlotStatus {
	st := types.SlotStatus{
		ID:     sl.id,
		IDTask: -1,
		NCtx:   sl.nCtx,
	}
	if sl.task != nil {
		st.IDTask = sl.task.id
		st.IsProcessing = true
		st.NPromptTokens = sl.nPrompt
		st.NDecoded = sl.nDecoded
		st.NRemain = sl.remain()
		st.HasNextToken = true
	}
	return st
}

// pickSlot returns the slot a task should run on, nil when it has to wait,
// or an error for an out-of-range pinned slot.
func (s *Scheduler) pickSlot(t *task) (*slot, *Error) {
	if t.slotID >= 0 {
		if t.slotID >= len(s.slots) {
			return nil, invalidRequest("invalid slot id %d", t.slotID)
		}
		if sl := s.slots[t.slotID]; sl.idle() {
			return sl, nil
		}
		return nil, nil
	}
	var best *slot
	for _, sl := range s.slots {
		if sl.idle() && (best == nil || sl.lastUsed.Before(best.lastUsed)) {
			best = sl
		}
	}
	return best, nil
}

// advance feeds one generated token into a slot.
func (s *Scheduler) advance(sl *slot, tok engine.Token) {
	t := sl.task
	if tok.EOG {
		s.finish(sl, "eos", "", false)
		return
	}
	sl.nDecoded++
	tokensPredicted.WithLabelValues(s.label).Inc()
	prev := len(sl.text)
	sl.text += tok.Piece

	stops := t.sampling.Stop
	if len(stops) > 0 {
		from := prev - engine.MaxStopLen(stops)
		if idx, word := engine.FindStop(sl.text, stops, from); idx >= 0 {
			sl.text = sl.text[:idx]
			if sl.sent > len(sl.text) {
				sl.sent = len(sl.text)
			}
			s.finish(sl, "word", word, false)
			return
		}
	}

	if t.stream {
		safe := len(sl.text) - engine.PartialStop(sl.text, stops)
		safe = sl.sent + completeUTF8(sl.text[sl.sent:max(safe, sl.sent)])
		if safe > sl.sent {
			s.waiters.send(&result{
				id:    t.id,
				index: t.index,
				slot:  sl.id,
				text:  sl.text[sl.sent:safe],
			})
			sl.sent = safe
		}
	}

	if t.sampling.NPredict > 0 && sl.nDecoded >= t.sampling.NPredict {
		s.finish(sl, "limit", "", false)
		return
	}
	if sl.nPrompt+sl.nDecoded >= sl.nCtx {
		s.finish(sl, "limit", "", true)
	}
}

// finish sends the final result, ends the engine sequence and frees the slot.
func (s *Scheduler) finish(sl *slot, stopType, word string, truncated bool) {
	t := sl.task
	now := time.Now()
	text := sl.text
	if t.stream {
		text = sl.text[sl.sent:]
	}
	s.waiters.send(&result{
		id:           t.id,
		index:        t.index,
		final:        true,
		slot:         sl.id,
		text:         text,
		stopType:     stopType,
		stoppingWord: word,
		truncated:    truncated,
		nPrompt:      sl.nPrompt,
		nPredicted:   sl.nDecoded,
		promptTime:   sl.tPromptDone.Sub(sl.tStart),
		predictTime:  now.Sub(sl.tPromptDone),
	})
	s.eng.End(sl.id)
	sl.release()
	s.queue.requeueDeferred()
}

// completeUTF8 returns the length of s without a trailing incomplete rune.
func completeUTF8(s string) int {
	n := len(s)
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			if !utf8.FullRuneInString(s[i:]) {
				return i
			}
			break
		}
	}
	return n
}
