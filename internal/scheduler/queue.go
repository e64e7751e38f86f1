package scheduler

import "sync"

// taskQueue is the single serialized hand-off from producers to the worker.
// High-priority tasks go to the front. Tasks that find no free slot wait in
// the deferred list until a slot is released.
type taskQueue struct {
	mu       sync.Mutex
	nextID   int
	tasks    []*task
	deferred []*task
	open     bool
	notify   chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{notify: make(chan struct{}, 1)}
}

func (q *taskQueue) reset() {
	q.mu.Lock()
	q.tasks = nil
	q.deferred = nil
	q.open = true
	q.mu.Unlock()
}

// assignIDs gives every task the next monotonic id.
func (q *taskQueue) assignIDs(ts []*task) {
	q.mu.Lock()
	for _, t := range ts {
		t.id = q.nextID
		q.nextID++
	}
	q.mu.Unlock()
}

// peekID returns the id the next task would get.
func (q *taskQueue) peekID() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextID
}

// post appends ts, or prepends them when front is set, in one step.
func (q *taskQueue) post(ts []*task, front bool) bool {
	q.mu.Lock()
	if !q.open {
		q.mu.Unlock()
		return false
	}
	if front {
		q.tasks = append(append(make([]*task, 0, len(ts)+len(q.tasks)), ts...), q.tasks...)
	} else {
		q.tasks = append(q.tasks, ts...)
	}
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *taskQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *taskQueue) pop() (*task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *taskQueue) deferTask(t *task) {
	q.mu.Lock()
	q.deferred = append(q.deferred, t)
	q.mu.Unlock()
}

// requeueDeferred moves deferred tasks back to the front, oldest first.
func (q *taskQueue) requeueDeferred() {
	q.mu.Lock()
	if len(q.deferred) == 0 {
		q.mu.Unlock()
		return
	}
	q.tasks = append(q.deferred, q.tasks...)
	q.deferred = nil
	q.mu.Unlock()
	q.wake()
}

// drop removes queued and deferred tasks whose ids are in ids.
func (q *taskQueue) drop(ids map[int]struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	keep := func(ts []*task) []*task {
		out := ts[:0]
		for _, t := range ts {
			if _, ok := ids[t.id]; !ok {
				out = append(out, t)
			}
		}
		return out
	}
	q.tasks = keep(q.tasks)
	q.deferred = keep(q.deferred)
}

func (q *taskQueue) deferredLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deferred)
}

// terminate closes the queue to producers.
func (q *taskQueue) terminate() {
	q.mu.Lock()
	q.open = false
	q.tasks = nil
	q.deferred = nil
	q.mu.Unlock()
	q.wake()
}
