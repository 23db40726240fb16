package tinybase

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Op identifies the kind of change a table event describes.
type Op int

const (
	OpInsert Op = iota + 1
	OpRemove
	OpUpdate
)

func (v Op) String() string {
	switch v {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpUpdate:
		return "update"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// event is a change notification published by a table to its subscribers.
// For OpUpdate, rec carries the new data and old the previous data.
type event[T any] struct {
	op  Op
	rec Record[T]
	old T
}

// subscription is one table-held endpoint feeding one index's event stream:
// an unbounded ordered queue with a single producer (the table, from any
// writing goroutine) and a single consumer (the owning index's replay).
// Publishing never blocks; draining never waits for new events.
type subscription[T any] struct {
	id uuid.UUID

	mu    sync.Mutex
	queue []event[T]
}

func newSubscription[T any]() *subscription[T] {
	return &subscription[T]{id: uuid.New()}
}

func (s *subscription[T]) publish(ev event[T]) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
}

// drain removes and returns all currently queued events, in publish order.
func (s *subscription[T]) drain() []event[T] {
	s.mu.Lock()
	evs := s.queue
	s.queue = nil
	s.mu.Unlock()
	return evs
}

// requeue puts events back at the front of the queue, ahead of anything
// published since they were drained.
func (s *subscription[T]) requeue(evs []event[T]) {
	if len(evs) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(evs, s.queue...)
	s.mu.Unlock()
}

// discard drops all currently queued events.
func (s *subscription[T]) discard() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}
