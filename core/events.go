package core

import "cmp"

// Event represents any merge event
type Event interface {
	EventType() EventType
}

// StartEvent is emitted once the participants have been launched
type StartEvent struct {
	RunID     string
	Workers   int
	RunLength int
}

func (e StartEvent) EventType() EventType {
	return EventTypeStart
}

// RoundEvent describes the coordinator's selection for one round
type RoundEvent[T cmp.Ordered] struct {
	Round  int
	Winner int
	Min    T
}

func (e RoundEvent[T]) EventType() EventType {
	return EventTypeRound
}

// BlockEvent is emitted when a worker completes: its run is empty and its
// output block is full
type BlockEvent[T cmp.Ordered] struct {
	Worker int
	Round  int
	Block  []T
}

func (e BlockEvent[T]) EventType() EventType {
	return EventTypeBlock
}

// ErrorEvent represents an error
type ErrorEvent struct {
	Error     error
	Retryable bool
}

func (e ErrorEvent) EventType() EventType {
	return EventTypeError
}

// DoneEvent signals merge completion and carries the gathered output blocks
type DoneEvent[T cmp.Ordered] struct {
	RunID  string
	Rounds int
	Blocks [][]T
}

func (e DoneEvent[T]) EventType() EventType {
	return EventTypeDone
}
