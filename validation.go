package kmerge

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	// ErrNoWorkers is returned when K < 1
	ErrNoWorkers = errors.New("at least one worker is required")

	// ErrEmptyRun is returned when N < 1
	ErrEmptyRun = errors.New("run length must be at least 1")

	// ErrRunCount is returned when the number of runs differs from K
	ErrRunCount = errors.New("run count does not match worker count")

	// ErrRunLength is returned when a run's length differs from N
	ErrRunLength = errors.New("run length mismatch")

	// ErrUnsortedRun is returned when a run is not sorted ascending
	ErrUnsortedRun = errors.New("run is not sorted")

	// ErrShapeTooLarge is returned when K*N does not fit in an int
	ErrShapeTooLarge = errors.New("workers times run length overflows")
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Message string
	Details string
	Err     error
}

func (e ValidationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

// ValidateRuns checks the startup invariants of a merge: K >= 1, N >= 1,
// exactly K runs of exactly N values, each sorted ascending. A merge that
// starts with any of these broken never completes.
func ValidateRuns[T cmp.Ordered](runs [][]T, workers, runLength int) error {
	if err := validateShape(workers, runLength); err != nil {
		return err
	}

	if len(runs) != workers {
		return ValidationError{
			Message: "merge validation failed",
			Details: fmt.Sprintf("got %d runs for %d workers", len(runs), workers),
			Err:     ErrRunCount,
		}
	}

	for i, run := range runs {
		if len(run) != runLength {
			return ValidationError{
				Message: "merge validation failed",
				Details: fmt.Sprintf("run %d has %d values, want %d", i, len(run), runLength),
				Err:     ErrRunLength,
			}
		}
		if !slices.IsSorted(run) {
			return ValidationError{
				Message: "merge validation failed",
				Details: fmt.Sprintf("run %d is not sorted ascending", i),
				Err:     ErrUnsortedRun,
			}
		}
	}

	return nil
}

// validateShape rejects the degenerate shapes K < 1 and N < 1, and shapes
// whose total K*N overflows
func validateShape(workers, runLength int) error {
	if workers < 1 {
		return ValidationError{
			Message: "merge validation failed",
			Details: fmt.Sprintf("workers=%d", workers),
			Err:     ErrNoWorkers,
		}
	}
	if runLength < 1 {
		return ValidationError{
			Message: "merge validation failed",
			Details: fmt.Sprintf("run length=%d", runLength),
			Err:     ErrEmptyRun,
		}
	}
	if workers > math.MaxInt/runLength {
		return ValidationError{
			Message: "merge validation failed",
			Details: fmt.Sprintf("workers=%d, run length=%d", workers, runLength),
			Err:     ErrShapeTooLarge,
		}
	}
	return nil
}
