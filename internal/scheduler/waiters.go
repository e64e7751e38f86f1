package scheduler

import "sync"

// inbox receives the results of one TaskIdSet. It never drops a result:
// producers drain it after every notification.
type inbox struct {
	mu     sync.Mutex
	items  []*result
	notify chan struct{}
}

func newInbox() *inbox { return &inbox{notify: make(chan struct{}, 1)} }

func (b *inbox) push(r *result) {
	b.mu.Lock()
	b.items = append(b.items, r)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *inbox) drain() []*result {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

// waiting maps outstanding task ids to the inbox of their request.
type waiting struct {
	mu  sync.Mutex
	ids map[int]*inbox
}

func newWaiting() *waiting { return &waiting{ids: make(map[int]*inbox)} }

func (w *waiting) add(ids []int, b *inbox) {
	w.mu.Lock()
	for _, id := range ids {
		w.ids[id] = b
	}
	w.mu.Unlock()
}

func (w *waiting) remove(ids []int) {
	w.mu.Lock()
	for _, id := range ids {
		delete(w.ids, id)
	}
	w.mu.Unlock()
}

// send routes r to its waiter. Results for ids nobody waits on are dropped.
func (w *waiting) send(r *result) bool {
	w.mu.Lock()
	b, ok := w.ids[r.id]
	w.mu.Unlock()
	if !ok {
		return false
	}
	b.push(r)
	return true
}

func (w *waiting) has(id int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.ids[id]
	return ok
}

func (w *waiting) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ids)
}

// failAll delivers err once to every registered inbox.
func (w *waiting) failAll(err *Error) {
	w.mu.Lock()
	seen := make(map[*inbox]int, len(w.ids))
	for id, b := range w.ids {
		if _, ok := seen[b]; !ok {
			seen[b] = id
		}
	}
	w.mu.Unlock()
	for b, id := range seen {
		b.push(&result{id: id, final: true, err: err})
	}
}
