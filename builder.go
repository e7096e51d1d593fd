package kmerge

import (
	"cmp"
	"context"
	"fmt"

	"github.com/creastat/infra/telemetry"
	"github.com/creastat/kmerge/dataset"
)

// Builder constructs a Merger with a fluent API
type Builder[T cmp.Ordered] struct {
	config MergeConfig[T]
	values []T
	err    error
}

// NewBuilder creates a new merge builder
func NewBuilder[T cmp.Ordered]() *Builder[T] {
	return &Builder[T]{}
}

// WithShape sets K (workers) and N (run length). The shape is never inferred
// from the runs; it is checked against them on Build.
func (b *Builder[T]) WithShape(workers, runLength int) *Builder[T] {
	b.config.Workers = workers
	b.config.RunLength = runLength
	return b
}

// WithRuns sets pre-sorted runs
func (b *Builder[T]) WithRuns(runs [][]T) *Builder[T] {
	b.config.Runs = runs
	b.values = nil
	return b
}

// WithValues sets a flat, unsorted input. Build partitions it into K runs and
// sorts each run.
func (b *Builder[T]) WithValues(values []T) *Builder[T] {
	b.values = values
	b.config.Runs = nil
	return b
}

// WithRunID sets the merge identifier
func (b *Builder[T]) WithRunID(id string) *Builder[T] {
	b.config.RunID = id
	return b
}

// WithEventBuffer sets the capacity of the Execute channel
func (b *Builder[T]) WithEventBuffer(size int) *Builder[T] {
	b.config.EventBuffer = size
	return b
}

// WithLogger sets the logger passed to every participant
func (b *Builder[T]) WithLogger(logger telemetry.Logger) *Builder[T] {
	b.config.Logger = logger
	return b
}

// Build validates the configuration and creates the merger
func (b *Builder[T]) Build(ctx context.Context) (*Merger[T], error) {
	config := b.config

	if b.values != nil {
		if err := validateShape(config.Workers, config.RunLength); err != nil {
			return nil, err
		}
		if len(b.values) != config.Workers*config.RunLength {
			return nil, ValidationError{
				Message: "merge validation failed",
				Details: fmt.Sprintf("got %d values, want %d", len(b.values), config.Workers*config.RunLength),
				Err:     ErrRunLength,
			}
		}
		runs, err := dataset.Partition(ctx, b.values, config.Workers)
		if err != nil {
			return nil, fmt.Errorf("failed to partition input: %w", err)
		}
		config.Runs = runs
	}

	merger, err := NewMerger(config)
	if err != nil {
		return nil, fmt.Errorf("failed to build merger: %w", err)
	}
	return merger, nil
}
