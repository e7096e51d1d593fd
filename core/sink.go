package core

import "context"

// EventTypeWildcard represents a sink that accepts all event types
const EventTypeWildcard EventType = "*"

// Sink consumes merge events, typically for reporting
type Sink interface {
	Name() string
	Consume(ctx context.Context, input <-chan Event) error

	// InputTypes returns the event types this sink accepts.
	// Returns empty slice to accept all event types.
	InputTypes() []EventType
}

// MergeOutput is a channel of events
type MergeOutput <-chan Event

// ErrorPolicy selects what a failing sink does to its siblings
type ErrorPolicy string

const (
	// ErrorPolicyCancelAll stops every sink once one fails (default)
	ErrorPolicyCancelAll ErrorPolicy = "cancel-all"

	// ErrorPolicyIsolated lets the remaining sinks keep consuming
	ErrorPolicyIsolated ErrorPolicy = "isolated"
)

// BranchConfig binds one sink to the fan-out
type BranchConfig struct {
	Sink Sink

	// EventFilter lists the event types delivered to Sink. Empty delivers
	// everything; EventTypeWildcard matches any type.
	EventFilter []EventType
}

// FanOutConfig configures event broadcast to several sinks
type FanOutConfig struct {
	ErrorPolicy ErrorPolicy
	Branches    []BranchConfig

	// BufferSize is the per-branch channel capacity (defaults to 100)
	BufferSize int
}
