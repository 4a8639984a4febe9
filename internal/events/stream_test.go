package events

import (
	"testing"
	"time"
)

func TestStream(t *testing.T) {
	t.Run("BroadcastsToAllSubscribers", func(t *testing.T) {
		s := NewStream[int]()
		defer s.Close()

		a, cancelA := s.Subscribe()
		b, cancelB := s.Subscribe()
		defer cancelA()
		defer cancelB()

		s.Publish(7)

		for name, ch := range map[string]<-chan int{"a": a, "b": b} {
			select {
			case v := <-ch:
				if v != 7 {
					t.Errorf("subscriber %s: expected 7, got %d", name, v)
				}
			case <-time.After(time.Second):
				t.Fatalf("subscriber %s: no event received", name)
			}
		}
	})

	t.Run("NoReplayForLateSubscribers", func(t *testing.T) {
		s := NewStream[string]()
		defer s.Close()

		s.Publish("early")

		ch, cancel := s.Subscribe()
		defer cancel()

		select {
		case v := <-ch:
			t.Fatalf("late subscriber received replayed event %q", v)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("PublishNeverBlocksOnSlowSubscriber", func(t *testing.T) {
		s := NewStream[int]()
		defer s.Close()

		_, cancel := s.Subscribe()
		defer cancel()

		done := make(chan struct{})
		go func() {
			for i := 0; i < subscriberBuffer*3; i++ {
				s.Publish(i)
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publish blocked on a subscriber that never drains")
		}
	})

	t.Run("CancelRemovesSubscriber", func(t *testing.T) {
		s := NewStream[int]()
		defer s.Close()

		ch, cancel := s.Subscribe()
		cancel()

		if _, open := <-ch; open {
			t.Error("channel should be closed after cancel")
		}
		if s.SubscriberCount() != 0 {
			t.Errorf("expected 0 subscribers, got %d", s.SubscriberCount())
		}
	})

	t.Run("CloseClosesAllChannels", func(t *testing.T) {
		s := NewStream[int]()
		ch, _ := s.Subscribe()
		s.Close()

		if _, open := <-ch; open {
			t.Error("channel should be closed after stream close")
		}
		s.Publish(1) // must not panic after close
	})
}
