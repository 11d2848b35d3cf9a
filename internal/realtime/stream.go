// Package realtime turns stored state into live queries: every subscriber
// gets a full snapshot up front and a fresh one after each change
// notification on its topic.
package realtime

import (
	"context"
	"sync"

	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/metrics"
)

// Stream delivers successive snapshots of a live query. Updates is closed
// when the stream ends; Err then tells a failure apart from a normal close.
type Stream[T any] struct {
	updates  chan []T
	cancel   context.CancelFunc
	finished chan struct{}
	once     sync.Once

	mu  sync.Mutex
	err error
}

// Updates yields full snapshots. A slow reader only ever sees the latest
// snapshot; older ones are dropped.
func (s *Stream[T]) Updates() <-chan []T { return s.updates }

// Err returns the error that ended the stream, or nil.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the stream has stopped.
func (s *Stream[T]) Done() <-chan struct{} { return s.finished }

// Close stops the stream and waits for it to release its subscription.
func (s *Stream[T]) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.finished
	})
}

func (s *Stream[T]) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Stream[T]) deliver(items []T) {
	for {
		select {
		case s.updates <- items:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

// startStream runs load once immediately and again after each
// notification on topic, until ctx ends, the stream is closed, the bus
// shuts down, or load fails.
func startStream[T any](ctx context.Context, bus events.Bus, topic, kind string, load func(context.Context) ([]T, error)) *Stream[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream[T]{
		updates:  make(chan []T, 1),
		cancel:   cancel,
		finished: make(chan struct{}),
	}

	// Subscribe before the first load so no change between the two is lost.
	notify, unsubscribe := bus.Subscribe(topic)

	go func() {
		metrics.LiveStreams.WithLabelValues(kind).Inc()
		defer func() {
			unsubscribe()
			close(s.updates)
			metrics.LiveStreams.WithLabelValues(kind).Dec()
			close(s.finished)
		}()

		for {
			items, err := load(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.fail(err)
					metrics.StreamFailures.WithLabelValues(kind).Inc()
				}
				return
			}
			s.deliver(items)

			select {
			case <-ctx.Done():
				return
			case _, ok := <-notify:
				if !ok {
					return
				}
			}
		}
	}()

	return s
}
