package kmerge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/creastat/infra/telemetry"
	"github.com/creastat/kmerge/core"
)

// emitFunc delivers an event to the merge observer. A nil emitFunc drops events.
type emitFunc func(ctx context.Context, event core.Event) error

func (e emitFunc) send(ctx context.Context, event core.Event) error {
	if e == nil {
		return nil
	}
	return e(ctx, event)
}

// WorkerConfig holds the wiring of one worker participant
type WorkerConfig[T cmp.Ordered] struct {
	Index     int
	Run       []T
	RunLength int
	State     *RoundState[T]
	BarrierA  *Barrier
	BarrierB  *Barrier
	Logger    telemetry.Logger
	emit      emitFunc
}

// Worker owns one sorted run and assembles one output block: the values
// selected during rounds [Index*N+1, (Index+1)*N].
type Worker[T cmp.Ordered] struct {
	config   WorkerConfig[T]
	run      []T
	block    []T
	first    int
	last     int
	signaled bool
	state    core.WorkerState
}

// NewWorker creates a worker. The run is copied so the worker owns it.
func NewWorker[T cmp.Ordered](config WorkerConfig[T]) *Worker[T] {
	if config.Logger == nil {
		config.Logger = telemetry.New(telemetry.Config{Level: "error"})
	}
	return &Worker[T]{
		config: config,
		run:    slices.Clone(config.Run),
		block:  make([]T, 0, config.RunLength),
		first:  config.Index*config.RunLength + 1,
		last:   (config.Index + 1) * config.RunLength,
		state:  core.WorkerPublishing,
	}
}

// Index returns the worker's position
func (w *Worker[T]) Index() int {
	return w.config.Index
}

// RankRange returns the inclusive round range this worker collects
func (w *Worker[T]) RankRange() (first, last int) {
	return w.first, w.last
}

// Block returns the output block assembled so far. Only safe to call once
// Run has returned.
func (w *Worker[T]) Block() []T {
	return w.block
}

// State returns the worker's current protocol state. Only safe to call once
// Run has returned.
func (w *Worker[T]) State() core.WorkerState {
	return w.state
}

// Run drives the worker through rounds until the merge stops
func (w *Worker[T]) Run(ctx context.Context) error {
	logger := w.config.Logger.WithModule(fmt.Sprintf("worker-%d", w.config.Index))
	logger.Debug("Worker started",
		telemetry.Int("run_length", len(w.run)),
		telemetry.Int("first_round", w.first),
		telemetry.Int("last_round", w.last))

	for {
		w.state = core.WorkerPublishing
		head := core.Exhausted[T]()
		if len(w.run) > 0 {
			head = core.Some(w.run[0])
		}
		if err := w.config.State.Publish(w.config.Index, head); err != nil {
			return w.exit(err)
		}

		w.state = core.WorkerAwaitingBarrierA
		if err := w.config.BarrierA.Wait(ctx); err != nil {
			return w.exit(err)
		}

		w.state = core.WorkerReducing
		if err := w.reduce(w.config.State.Selection()); err != nil {
			return err
		}

		w.state = core.WorkerAwaitingBarrierB
		if err := w.config.BarrierB.Wait(ctx); err != nil {
			return w.exit(err)
		}

		if !w.signaled && len(w.run) == 0 && len(w.block) == w.config.RunLength {
			w.signaled = true
			round := w.config.State.Round()

			// The block is reported before the completion is counted so the
			// stop raised by the last worker never races a pending report.
			if err := w.config.emit.send(ctx, core.BlockEvent[T]{
				Worker: w.config.Index,
				Round:  round,
				Block:  slices.Clone(w.block),
			}); err != nil {
				return w.exit(err)
			}

			completed, _ := w.config.State.Complete(w.config.Index)
			logger.Info("Worker completed",
				telemetry.Int("round", round),
				telemetry.Int("completed", completed))

			if completed == w.config.State.Workers() {
				w.config.State.Stop()
			}
		}

		if w.config.State.Stopped() {
			w.state = core.WorkerTerminal
			return nil
		}
	}
}

// reduce applies one round's selection: pop on a win, append when the round
// falls inside the rank range.
func (w *Worker[T]) reduce(sel Selection[T]) error {
	if sel.Winner == w.config.Index {
		if len(w.run) == 0 {
			return &ProtocolError{Round: sel.Round, Reason: fmt.Sprintf("worker %d selected with an empty run", w.config.Index)}
		}
		w.run = w.run[1:]
	}
	if sel.Round >= w.first && sel.Round <= w.last && len(w.block) < w.config.RunLength {
		w.block = append(w.block, sel.Min)
	}
	return nil
}

// exit converts suspension errors caused by the cooperative stop into a
// clean return.
func (w *Worker[T]) exit(err error) error {
	if errors.Is(err, ErrStopped) || w.config.State.Stopped() {
		w.state = core.WorkerTerminal
		return nil
	}
	return fmt.Errorf("worker %d: %w", w.config.Index, err)
}
