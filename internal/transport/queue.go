package transport

import "sync"

// EventQueue buffers connection events without bound and delivers them in
// order on Events, so producers never block on a slow consumer. The channel is
// closed after the first EventClose or EventError has been delivered.
type EventQueue struct {
	out  chan Event
	wake chan struct{}

	mu       sync.Mutex
	queue    []Event
	finished bool
}

func NewEventQueue() *EventQueue {
	q := &EventQueue{
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
	}
	go q.forward()
	return q
}

func (q *EventQueue) Events() <-chan Event { return q.out }

// Push enqueues ev and reports whether it was accepted. Events pushed after a
// terminal event are discarded.
func (q *EventQueue) Push(ev Event) bool {
	q.mu.Lock()
	if q.finished {
		q.mu.Unlock()
		return false
	}
	q.queue = append(q.queue, ev)
	if terminal(ev) {
		q.finished = true
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Finished reports whether a terminal event has been pushed.
func (q *EventQueue) Finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finished
}

func (q *EventQueue) forward() {
	for range q.wake {
		q.mu.Lock()
		batch := q.queue
		q.queue = nil
		q.mu.Unlock()

		for _, ev := range batch {
			q.out <- ev
			if terminal(ev) {
				close(q.out)
				return
			}
		}
	}
}

func terminal(ev Event) bool {
	return ev.Kind == EventClose || ev.Kind == EventError
}
