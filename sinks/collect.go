package sinks

import (
	"context"
	"slices"
	"sync"

	"github.com/creastat/kmerge/core"
)

// CollectSink keeps every event it receives in memory
type CollectSink struct {
	mu     sync.Mutex
	events []core.Event
	types  []core.EventType
}

// NewCollectSink creates a collect sink. With no types it accepts every event.
func NewCollectSink(types ...core.EventType) *CollectSink {
	return &CollectSink{types: types}
}

// Name returns the sink name
func (s *CollectSink) Name() string {
	return "collect_sink"
}

// InputTypes returns the event types this sink accepts
func (s *CollectSink) InputTypes() []core.EventType {
	return s.types
}

// Consume implements the Sink interface
func (s *CollectSink) Consume(ctx context.Context, input <-chan core.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-input:
			if !ok {
				return nil
			}
			s.mu.Lock()
			s.events = append(s.events, event)
			s.mu.Unlock()
		}
	}
}

// Events returns a copy of the events received so far
func (s *CollectSink) Events() []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}
