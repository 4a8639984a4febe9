// Package events provides the broadcast streams the session exposes upward.
package events

import (
	"sync"
)

const subscriberBuffer = 16

// Stream is a multi-subscriber broadcast channel. New subscribers receive
// only events published after they subscribe; there is no replay. Publish
// never blocks: a subscriber that stops draining loses events rather than
// stalling the publisher.
type Stream[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	nextID int
	closed bool
}

func NewStream[T any]() *Stream[T] {
	return &Stream[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a receive channel and a cancel function. Cancel must be
// called when the subscriber is done; the channel is closed by cancel or by
// Close.
func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	ch := make(chan T, subscriberBuffer)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *Stream[T]) Publish(value T) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- value:
		default:
		}
	}
}

func (s *Stream[T]) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
