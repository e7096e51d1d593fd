// Package sinks holds the consumers of merge events.
package sinks

import (
	"cmp"
	"context"
	"fmt"
	"io"

	"github.com/creastat/infra/telemetry"
	"github.com/creastat/kmerge/core"
)

// LogSinkConfig holds log sink configuration
type LogSinkConfig struct {
	// Report receives the per-worker block report. Nil disables it.
	Report io.Writer

	// Rounds enables a report line per coordinator selection
	Rounds bool

	Logger telemetry.Logger
}

// LogSink reports merge progress through the logger and, optionally, as a
// human-readable report
type LogSink[T cmp.Ordered] struct {
	config LogSinkConfig
}

// NewLogSink creates a new log sink
func NewLogSink[T cmp.Ordered](config LogSinkConfig) *LogSink[T] {
	if config.Logger == nil {
		config.Logger = telemetry.New(telemetry.Config{Level: "error"})
	}
	return &LogSink[T]{config: config}
}

// Name returns the sink name
func (s *LogSink[T]) Name() string {
	return "log_sink"
}

// InputTypes returns the event types this sink accepts
func (s *LogSink[T]) InputTypes() []core.EventType {
	return []core.EventType{
		core.EventTypeStart,
		core.EventTypeRound,
		core.EventTypeBlock,
		core.EventTypeError,
		core.EventTypeDone,
	}
}

// Consume implements the Sink interface
func (s *LogSink[T]) Consume(ctx context.Context, input <-chan core.Event) error {
	logger := s.config.Logger.WithModule(s.Name())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-input:
			if !ok {
				return nil
			}
			if err := s.handle(logger, event); err != nil {
				return fmt.Errorf("log sink: %w", err)
			}
		}
	}
}

func (s *LogSink[T]) handle(logger telemetry.Logger, event core.Event) error {
	switch e := event.(type) {
	case core.StartEvent:
		logger.Info("Merge started",
			telemetry.String("run_id", e.RunID),
			telemetry.Int("workers", e.Workers),
			telemetry.Int("run_length", e.RunLength))

	case core.RoundEvent[T]:
		logger.Debug("Round selected",
			telemetry.Int("round", e.Round),
			telemetry.Int("winner", e.Winner))
		if s.config.Rounds {
			return s.printf("round %d: worker %d -> %v\n", e.Round, e.Winner, e.Min)
		}

	case core.BlockEvent[T]:
		logger.Info("Worker block complete",
			telemetry.Int("worker", e.Worker),
			telemetry.Int("round", e.Round))
		return s.printf("-------\nworker %d\nround %d\n%v\n-------\n", e.Worker, e.Round, e.Block)

	case core.ErrorEvent:
		logger.Error("Merge failed", telemetry.Err(e.Error))

	case core.DoneEvent[T]:
		logger.Info("Merge done",
			telemetry.String("run_id", e.RunID),
			telemetry.Int("rounds", e.Rounds))
	}
	return nil
}

func (s *LogSink[T]) printf(format string, args ...any) error {
	if s.config.Report == nil {
		return nil
	}
	_, err := fmt.Fprintf(s.config.Report, format, args...)
	return err
}
