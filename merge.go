package kmerge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/creastat/infra/telemetry"
	"github.com/creastat/kmerge/core"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultEventBuffer = 100

// ErrMergeInProgress is returned when a Merger is run again before its
// previous run has returned
var ErrMergeInProgress = errors.New("merge already in progress")

// MergeConfig configures one merge
type MergeConfig[T cmp.Ordered] struct {
	// Workers is K, the number of runs and worker participants
	Workers int

	// RunLength is N, the length of every run and of every output block
	RunLength int

	// Runs holds the K pre-sorted runs
	Runs [][]T

	// RunID identifies the merge in logs and events; generated when empty
	RunID string

	// EventBuffer is the capacity of the channel returned by Execute
	EventBuffer int

	Logger telemetry.Logger
}

// Result holds the gathered output blocks of a completed merge
type Result[T cmp.Ordered] struct {
	RunID  string
	Rounds int
	Blocks [][]T
}

// Sorted concatenates the output blocks in worker order
func (r *Result[T]) Sorted() []T {
	out := make([]T, 0, len(r.Blocks)*r.blockLen())
	for _, block := range r.Blocks {
		out = append(out, block...)
	}
	return out
}

func (r *Result[T]) blockLen() int {
	if len(r.Blocks) == 0 {
		return 0
	}
	return len(r.Blocks[0])
}

// Merger runs the round protocol between K workers and one coordinator
type Merger[T cmp.Ordered] struct {
	config    MergeConfig[T]
	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
	running   bool
}

// NewMerger validates the configuration and creates a merger
func NewMerger[T cmp.Ordered](config MergeConfig[T]) (*Merger[T], error) {
	if err := ValidateRuns(config.Runs, config.Workers, config.RunLength); err != nil {
		return nil, err
	}
	if config.RunID == "" {
		config.RunID = uuid.New().String()
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}
	if config.Logger == nil {
		config.Logger = telemetry.New(telemetry.Config{Level: "error"})
	}
	return &Merger[T]{config: config}, nil
}

// RunID returns the identifier of this merge
func (m *Merger[T]) RunID() string {
	return m.config.RunID
}

// Run executes the merge and returns the K output blocks. A Merger runs one
// merge at a time; overlapping calls fail with ErrMergeInProgress.
func (m *Merger[T]) Run(ctx context.Context) (*Result[T], error) {
	return m.run(ctx, nil)
}

// Execute runs the merge in the background and streams its events.
// The channel ends with a DoneEvent or an ErrorEvent and is then closed.
// Callers must drain it; the participants block on a full channel, and the
// final event is delivered even after ctx is done.
func (m *Merger[T]) Execute(ctx context.Context) core.MergeOutput {
	output := make(chan core.Event, m.config.EventBuffer)

	emit := func(ctx context.Context, event core.Event) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case output <- event:
			return nil
		}
	}

	go func() {
		defer close(output)

		if err := emit(ctx, core.StartEvent{
			RunID:     m.config.RunID,
			Workers:   m.config.Workers,
			RunLength: m.config.RunLength,
		}); err != nil {
			output <- core.ErrorEvent{Error: context.Cause(ctx), Retryable: false}
			return
		}

		result, err := m.run(ctx, emit)
		if err != nil {
			output <- core.ErrorEvent{Error: err, Retryable: false}
			return
		}
		output <- core.DoneEvent[T]{
			RunID:  result.RunID,
			Rounds: result.Rounds,
			Blocks: result.Blocks,
		}
	}()

	return output
}

// Cancel aborts the merge in progress. Called before the participants are
// launched, it aborts them as soon as they are.
func (m *Merger[T]) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelled = true
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Merger[T]) run(ctx context.Context, emit emitFunc) (*Result[T], error) {
	logger := m.config.Logger.WithModule("merge")
	k, n := m.config.Workers, m.config.RunLength

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, ErrMergeInProgress
	}
	m.running = true
	m.cancel = cancel
	if m.cancelled {
		cancel()
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.cancelled = false
		m.mu.Unlock()
	}()

	// Completion of the last worker cancels runCtx, releasing every
	// participant still parked at a suspension point.
	state := NewRoundState[T](k, n, cancel)
	barrierA := NewBarrier(k + 1)
	barrierB := NewBarrier(k)

	logger.Info("Starting merge",
		telemetry.String("run_id", m.config.RunID),
		telemetry.Int("workers", k),
		telemetry.Int("run_length", n))

	workers := make([]*Worker[T], k)
	for i := range workers {
		workers[i] = NewWorker(WorkerConfig[T]{
			Index:     i,
			Run:       m.config.Runs[i],
			RunLength: n,
			State:     state,
			BarrierA:  barrierA,
			BarrierB:  barrierB,
			Logger:    m.config.Logger,
			emit:      emit,
		})
	}
	coordinator := NewCoordinator(CoordinatorConfig[T]{
		State:    state,
		BarrierA: barrierA,
		Logger:   m.config.Logger,
		emit:     emit,
	})

	g, gctx := errgroup.WithContext(runCtx)
	abort := func() {
		barrierA.Break()
		barrierB.Break()
	}
	for _, w := range workers {
		g.Go(participant(fmt.Sprintf("worker %d", w.Index()), abort, func() error {
			return w.Run(gctx)
		}))
	}
	g.Go(participant(string(core.RoleCoordinator), abort, func() error {
		return coordinator.Run(gctx)
	}))

	if err := g.Wait(); err != nil {
		// Once the run context is cancelled, peers fail with whichever
		// suspension error they hit first; report the cancellation itself.
		if runCtx.Err() != nil && !state.Stopped() {
			err = context.Cause(runCtx)
		}
		logger.Error("Merge failed", telemetry.String("run_id", m.config.RunID), telemetry.Err(err))
		return nil, err
	}
	if !state.Stopped() {
		return nil, fmt.Errorf("merge %s ended before all workers completed", m.config.RunID)
	}

	blocks := make([][]T, k)
	for i, w := range workers {
		blocks[i] = slices.Clone(w.Block())
	}

	logger.Info("Merge finished",
		telemetry.String("run_id", m.config.RunID),
		telemetry.Int("rounds", state.Round()))

	return &Result[T]{
		RunID:  m.config.RunID,
		Rounds: state.Round(),
		Blocks: blocks,
	}, nil
}

// participant wraps a participant loop with panic recovery. Any failure
// breaks the barriers so that no peer stays parked.
func participant(name string, abort func(), fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				err = fmt.Errorf("%s panicked: %v\nStack trace:\n%s", name, r, string(buf[:n]))
			}
			if err != nil {
				abort()
			}
		}()
		return fn()
	}
}
