package kmerge

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"github.com/creastat/infra/telemetry"
	"github.com/creastat/kmerge/core"
)

// CoordinatorConfig holds the wiring of the coordinator participant
type CoordinatorConfig[T cmp.Ordered] struct {
	State    *RoundState[T]
	BarrierA *Barrier
	Logger   telemetry.Logger
	emit     emitFunc
}

// Coordinator selects the global minimum of every round. It is the only
// writer of the round's winner and minimum.
type Coordinator[T cmp.Ordered] struct {
	config CoordinatorConfig[T]
}

// NewCoordinator creates a coordinator
func NewCoordinator[T cmp.Ordered](config CoordinatorConfig[T]) *Coordinator[T] {
	if config.Logger == nil {
		config.Logger = telemetry.New(telemetry.Config{Level: "error"})
	}
	return &Coordinator[T]{config: config}
}

// Run selects one minimum per round until the merge stops
func (c *Coordinator[T]) Run(ctx context.Context) error {
	logger := c.config.Logger.WithModule(string(core.RoleCoordinator))
	logger.Debug("Coordinator started", telemetry.Int("workers", c.config.State.Workers()))

	for {
		if err := c.config.State.AwaitPublished(ctx); err != nil {
			return c.exit(err)
		}

		sel, err := c.config.State.Select()
		if err != nil {
			logger.Error("Selection failed", telemetry.Err(err))
			return err
		}
		logger.Trace("Round selected",
			telemetry.Int("round", sel.Round),
			telemetry.Int("winner", sel.Winner))

		if err := c.config.emit.send(ctx, core.RoundEvent[T]{
			Round:  sel.Round,
			Winner: sel.Winner,
			Min:    sel.Min,
		}); err != nil {
			return c.exit(err)
		}

		// Arriving here is the (K+1)th arrival that releases the workers.
		if err := c.config.BarrierA.Wait(ctx); err != nil {
			return c.exit(err)
		}
	}
}

func (c *Coordinator[T]) exit(err error) error {
	if errors.Is(err, ErrStopped) || c.config.State.Stopped() {
		return nil
	}
	return fmt.Errorf("coordinator: %w", err)
}
