package kmerge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/creastat/kmerge/core"
	"pgregory.net/rapid"
)

// TestFanOutBasicRouting tests that events are routed to all branches
func TestFanOutBasicRouting(t *testing.T) {
	sink1 := &CollectingMockSink{name: "sink1"}
	sink2 := &CollectingMockSink{name: "sink2"}

	config := &core.FanOutConfig{
		ErrorPolicy: core.ErrorPolicyCancelAll,
		Branches: []core.BranchConfig{
			{Sink: sink1},
			{Sink: sink2},
		},
	}

	router := NewFanOutRouter(config)

	input := make(chan core.Event, 10)
	go func() {
		input <- core.StartEvent{Workers: 1, RunLength: 1}
		input <- core.RoundEvent[int]{Round: 1, Winner: 0, Min: 4}
		close(input)
	}()

	if err := router.Route(context.Background(), input); err != nil {
		t.Fatalf("routing failed: %v", err)
	}

	if got := len(sink1.Events()); got != 2 {
		t.Errorf("sink1 received %d events, want 2", got)
	}
	if got := len(sink2.Events()); got != 2 {
		t.Errorf("sink2 received %d events, want 2", got)
	}
}

// TestFanOutEventFiltering tests that event filters work correctly
func TestFanOutEventFiltering(t *testing.T) {
	config := &core.FanOutConfig{
		ErrorPolicy: core.ErrorPolicyCancelAll,
		Branches: []core.BranchConfig{
			{
				Sink:        &CollectingMockSink{name: "rounds"},
				EventFilter: []core.EventType{core.EventTypeRound},
			},
			{
				Sink:        &CollectingMockSink{name: "blocks"},
				EventFilter: []core.EventType{core.EventTypeBlock},
			},
		},
	}

	router := NewFanOutRouter(config)

	roundEvent := core.RoundEvent[int]{Round: 1}
	blockEvent := core.BlockEvent[int]{Worker: 0}

	if !router.shouldForwardEvent(config.Branches[0], roundEvent) {
		t.Error("branch 1 should forward round events")
	}
	if router.shouldForwardEvent(config.Branches[0], blockEvent) {
		t.Error("branch 1 should not forward block events")
	}
	if !router.shouldForwardEvent(config.Branches[1], blockEvent) {
		t.Error("branch 2 should forward block events")
	}
	if router.shouldForwardEvent(config.Branches[1], roundEvent) {
		t.Error("branch 2 should not forward round events")
	}
}

// TestFanOutWildcardFilter tests that the wildcard forwards all events
func TestFanOutWildcardFilter(t *testing.T) {
	branch := core.BranchConfig{
		Sink:        &CollectingMockSink{name: "all"},
		EventFilter: []core.EventType{core.EventTypeWildcard},
	}
	router := NewFanOutRouter(&core.FanOutConfig{Branches: []core.BranchConfig{branch}})

	for _, event := range []core.Event{core.StartEvent{}, core.RoundEvent[int]{}, core.DoneEvent[int]{}} {
		if !router.shouldForwardEvent(branch, event) {
			t.Errorf("wildcard should forward %s events", event.EventType())
		}
	}
}

// TestFanOutIsolatedPolicy tests that a failing sink does not stop the others
func TestFanOutIsolatedPolicy(t *testing.T) {
	collector := &CollectingMockSink{name: "collector"}

	config := &core.FanOutConfig{
		ErrorPolicy: core.ErrorPolicyIsolated,
		BufferSize:  1,
		Branches: []core.BranchConfig{
			{Sink: &FailingMockSink{name: "failing"}},
			{Sink: collector},
		},
	}

	router := NewFanOutRouter(config)

	input := make(chan core.Event)
	go func() {
		defer close(input)
		for i := 1; i <= 20; i++ {
			input <- core.RoundEvent[int]{Round: i}
		}
	}()

	err := router.Route(context.Background(), input)
	if err == nil || err.Error() != "sink failed" {
		t.Fatalf("expected 'sink failed', got %v", err)
	}

	if got := len(collector.Events()); got != 20 {
		t.Errorf("collector received %d events, want 20", got)
	}
}

// Fan-out delivers every event to every unfiltered branch
func TestPropertyFanOutDeliversAllEvents(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		branchCount := rapid.IntRange(1, 4).Draw(rt, "branchCount")
		eventCount := rapid.IntRange(0, 30).Draw(rt, "eventCount")

		sinks := make([]*CollectingMockSink, branchCount)
		branches := make([]core.BranchConfig, branchCount)
		for i := range sinks {
			sinks[i] = &CollectingMockSink{name: "sink"}
			branches[i] = core.BranchConfig{Sink: sinks[i]}
		}

		router := NewFanOutRouter(&core.FanOutConfig{
			ErrorPolicy: core.ErrorPolicyCancelAll,
			Branches:    branches,
		})

		input := make(chan core.Event)
		go func() {
			defer close(input)
			for i := 1; i <= eventCount; i++ {
				input <- core.RoundEvent[int]{Round: i}
			}
		}()

		if err := router.Route(context.Background(), input); err != nil {
			rt.Fatalf("routing failed: %v", err)
		}

		for i, sink := range sinks {
			events := sink.Events()
			if len(events) != eventCount {
				rt.Fatalf("sink %d received %d events, want %d", i, len(events), eventCount)
			}
			for j, event := range events {
				if event.(core.RoundEvent[int]).Round != j+1 {
					rt.Fatalf("sink %d received events out of order", i)
				}
			}
		}
	})
}

// Default error policy cancels all branches
func TestPropertyDefaultErrorPolicyCancelsAll(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		config := &core.FanOutConfig{
			ErrorPolicy: core.ErrorPolicyCancelAll,
			Branches: []core.BranchConfig{
				{Sink: &FailingMockSink{name: "failing", delay: 5 * time.Millisecond}},
				{Sink: &BlockingMockSink{name: "blocking"}},
			},
		}

		router := NewFanOutRouter(config)

		// Input is never closed; only the cancellation can end the route.
		input := make(chan core.Event)

		done := make(chan error, 1)
		go func() {
			done <- router.Route(context.Background(), input)
		}()

		select {
		case err := <-done:
			if err == nil {
				rt.Fatalf("expected error from failing sink")
			}
		case <-time.After(2 * time.Second):
			rt.Fatalf("route did not return after sink failure")
		}
	})
}

// TestFanOutContextCancellation tests that routing stops with the context
func TestFanOutContextCancellation(t *testing.T) {
	router := NewFanOutRouter(&core.FanOutConfig{
		Branches: []core.BranchConfig{{Sink: &BlockingMockSink{name: "blocking"}}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	input := make(chan core.Event)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := router.Route(ctx, input)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// TestFanOutDrainsInputAfterCancellation tests that a producer whose
// consumer went away can still deliver its remaining events and close
func TestFanOutDrainsInputAfterCancellation(t *testing.T) {
	router := NewFanOutRouter(&core.FanOutConfig{
		Branches: []core.BranchConfig{{Sink: &BlockingMockSink{name: "blocking"}}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := make(chan core.Event)
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		defer close(input)
		for i := 1; i <= 5; i++ {
			input <- core.RoundEvent[int]{Round: i}
		}
		input <- core.ErrorEvent{Error: context.Canceled}
	}()

	if err := router.Route(ctx, input); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	select {
	case <-produced:
	case <-time.After(time.Second):
		t.Fatal("producer parked after routing stopped")
	}
}

// FailingMockSink returns an error without reading its input
type FailingMockSink struct {
	name  string
	delay time.Duration
}

func (m *FailingMockSink) Name() string {
	return m.name
}

func (m *FailingMockSink) Consume(ctx context.Context, input <-chan core.Event) error {
	time.Sleep(m.delay)
	return errors.New("sink failed")
}

func (m *FailingMockSink) InputTypes() []core.EventType {
	return []core.EventType{}
}

// BlockingMockSink waits for cancellation
type BlockingMockSink struct {
	name string
}

func (m *BlockingMockSink) Name() string {
	return m.name
}

func (m *BlockingMockSink) Consume(ctx context.Context, input <-chan core.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *BlockingMockSink) InputTypes() []core.EventType {
	return []core.EventType{}
}

// CollectingMockSink is a mock sink that collects all events it receives
type CollectingMockSink struct {
	name   string
	events []core.Event
	mu     sync.Mutex
}

func (m *CollectingMockSink) Name() string {
	return m.name
}

func (m *CollectingMockSink) Consume(ctx context.Context, input <-chan core.Event) error {
	for event := range input {
		m.mu.Lock()
		m.events = append(m.events, event)
		m.mu.Unlock()
	}
	return nil
}

func (m *CollectingMockSink) InputTypes() []core.EventType {
	return []core.EventType{}
}

func (m *CollectingMockSink) Events() []core.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Event(nil), m.events...)
}
