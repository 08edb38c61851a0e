package ingest

import "sync"

// Queue is the unbounded FIFO buffer between the ingester and the
// dispatcher. Push never blocks; Pop blocks until a payload arrives or the
// queue is closed. A closed queue still drains its remaining payloads, so
// nothing enqueued before shutdown is lost.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []map[string]interface{}
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a payload. Payloads pushed after Close are dropped.
func (q *Queue) Push(payload map[string]interface{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.items = append(q.items, payload)
	q.cond.Signal()
}

// Pop removes and returns the oldest payload, blocking while the queue is
// empty. It returns ok=false once the queue is closed and fully drained.
func (q *Queue) Pop() (map[string]interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	payload := q.items[0]
	q.items = q.items[1:]
	return payload, true
}

// Close marks the queue as closed and wakes all blocked Pop calls. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of payloads currently buffered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
