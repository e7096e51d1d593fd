package kmerge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/creastat/kmerge/core"
)

// ErrStopped is returned to participants once every worker has completed
var ErrStopped = errors.New("merge stopped")

// ProtocolError reports a violation of the round discipline, such as a
// worker publishing twice in one round or a selection with no live run.
type ProtocolError struct {
	Round  int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation in round %d: %s", e.Round, e.Reason)
}

// Selection is the coordinator's decision for one round
type Selection[T cmp.Ordered] struct {
	Round  int
	Winner int
	Min    T
}

// RoundState is the state shared by all participants of one merge. All
// fields are guarded by mu; no lock is held across a barrier wait.
type RoundState[T cmp.Ordered] struct {
	mu        sync.Mutex
	ready     *sync.Cond
	slots     []core.Head[T]
	fresh     []bool
	published int
	selection Selection[T]
	round     int
	maxRounds int
	done      []bool
	completed int
	stopped   bool
	onStop    func()
}

// NewRoundState creates the shared state for workers runs of runLength
// values. onStop, if non-nil, is invoked once when the last worker completes.
func NewRoundState[T cmp.Ordered](workers, runLength int, onStop func()) *RoundState[T] {
	s := &RoundState[T]{
		slots:     make([]core.Head[T], workers),
		fresh:     make([]bool, workers),
		done:      make([]bool, workers),
		maxRounds: workers * runLength,
		onStop:    onStop,
	}
	s.ready = sync.NewCond(&s.mu)
	return s
}

// Workers returns the number of worker participants
func (s *RoundState[T]) Workers() int {
	return len(s.slots)
}

// Publish writes a worker's head for the current round
func (s *RoundState[T]) Publish(worker int, head core.Head[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.fresh[worker] {
		return &ProtocolError{Round: s.round + 1, Reason: fmt.Sprintf("worker %d published twice", worker)}
	}

	s.slots[worker] = head
	s.fresh[worker] = true
	s.published++
	if s.published == len(s.slots) {
		s.ready.Broadcast()
	}
	return nil
}

// AwaitPublished blocks until every worker has published for the current
// round. It returns ErrStopped once the merge has completed and ctx.Err()
// if ctx is done first.
func (s *RoundState[T]) AwaitPublished(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.ready.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	for s.published < len(s.slots) {
		if s.stopped {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.ready.Wait()
	}
	return nil
}

// Select picks the minimum published head, lowest worker index winning ties,
// advances the round counter and opens the next publish phase.
func (s *RoundState[T]) Select() (Selection[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.round + 1
	if s.published != len(s.slots) {
		return Selection[T]{}, &ProtocolError{Round: next, Reason: fmt.Sprintf("%d of %d heads published", s.published, len(s.slots))}
	}
	if s.round >= s.maxRounds {
		return Selection[T]{}, &ProtocolError{Round: next, Reason: fmt.Sprintf("round limit %d exceeded", s.maxRounds)}
	}

	winner := 0
	for i := 1; i < len(s.slots); i++ {
		if s.slots[i].Less(s.slots[winner]) {
			winner = i
		}
	}
	if !s.slots[winner].Present {
		return Selection[T]{}, &ProtocolError{Round: next, Reason: "every run is exhausted"}
	}

	s.round = next
	s.selection = Selection[T]{Round: next, Winner: winner, Min: s.slots[winner].Value}
	s.published = 0
	clear(s.fresh)
	return s.selection, nil
}

// Selection returns the most recent selection
func (s *RoundState[T]) Selection() Selection[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// Round returns the number of completed selections
func (s *RoundState[T]) Round() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

// Complete records that a worker finished. It returns the completed count
// and whether this call was the worker's first completion.
func (s *RoundState[T]) Complete(worker int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done[worker] {
		return s.completed, false
	}
	s.done[worker] = true
	s.completed++
	return s.completed, true
}

// Completed returns how many workers have completed
func (s *RoundState[T]) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Stop raises the cooperative stop signal. It is a no-op until every worker
// has completed, and idempotent afterwards.
func (s *RoundState[T]) Stop() bool {
	s.mu.Lock()
	if s.stopped || s.completed < len(s.slots) {
		s.mu.Unlock()
		return false
	}
	s.stopped = true
	s.ready.Broadcast()
	onStop := s.onStop
	s.mu.Unlock()

	if onStop != nil {
		onStop()
	}
	return true
}

// Stopped reports whether the stop signal has been raised
func (s *RoundState[T]) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
