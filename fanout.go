package kmerge

import (
	"context"
	"sync"

	"github.com/creastat/kmerge/core"
)

const defaultBranchBuffer = 100

// FanOutRouter broadcasts merge events from a single input to several sinks
// with support for event filtering and configurable error handling policies
type FanOutRouter struct {
	config *core.FanOutConfig
	inputs []chan core.Event
	done   []chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewFanOutRouter creates a new fan-out router with the given configuration
func NewFanOutRouter(config *core.FanOutConfig) *FanOutRouter {
	ctx, cancel := context.WithCancel(context.Background())

	size := config.BufferSize
	if size <= 0 {
		size = defaultBranchBuffer
	}

	inputs := make([]chan core.Event, len(config.Branches))
	done := make([]chan struct{}, len(config.Branches))
	for i := range config.Branches {
		inputs[i] = make(chan core.Event, size)
		done[i] = make(chan struct{})
	}

	return &FanOutRouter{
		config: config,
		inputs: inputs,
		done:   done,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Route distributes events from the input channel to all sinks according to
// the configured error policy and event filters. It returns once every sink
// has returned, with the first sink error if any.
func (fr *FanOutRouter) Route(ctx context.Context, input <-chan core.Event) error {
	// Create a merged context that respects both the router's context and the provided context
	mergedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(fr.ctx, cancel)
	defer stop()

	var branchWg sync.WaitGroup
	errorChan := make(chan error, len(fr.config.Branches))

	for i, branch := range fr.config.Branches {
		branchWg.Add(1)
		go fr.processBranch(mergedCtx, i, branch, &branchWg, errorChan)
	}

	if !fr.distributeEvents(mergedCtx, input) {
		// Drain the input to its close so the producer never parks.
		go func() {
			for range input {
			}
		}()
	}

	branchWg.Wait()

	close(errorChan)
	var errors []error
	for err := range errorChan {
		if err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return errors[0]
	}

	return nil
}

// distributeEvents reads from the input channel and forwards events to every
// live branch whose filter accepts them. It reports whether the input was
// read to the end.
func (fr *FanOutRouter) distributeEvents(ctx context.Context, input <-chan core.Event) bool {
	defer func() {
		for _, ch := range fr.inputs {
			close(ch)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-input:
			if !ok {
				return true
			}

			for i, branch := range fr.config.Branches {
				if !fr.shouldForwardEvent(branch, event) {
					continue
				}

				// A branch that already returned is skipped instead of blocking
				// the others.
				select {
				case <-ctx.Done():
					return false
				case <-fr.done[i]:
				case fr.inputs[i] <- event:
				}
			}
		}
	}
}

// processBranch runs a single sink
func (fr *FanOutRouter) processBranch(ctx context.Context, branchIndex int, branch core.BranchConfig, wg *sync.WaitGroup, errorChan chan<- error) {
	defer wg.Done()
	defer close(fr.done[branchIndex])

	err := branch.Sink.Consume(ctx, fr.inputs[branchIndex])
	if err != nil {
		select {
		case errorChan <- err:
		default:
		}

		fr.handleBranchError()
	}
}

// handleBranchError handles errors according to the configured error policy
func (fr *FanOutRouter) handleBranchError() {
	if fr.config.ErrorPolicy != core.ErrorPolicyIsolated {
		fr.cancel()
	}
}

// shouldForwardEvent checks if an event should be forwarded to a branch
// based on the branch's event filter
func (fr *FanOutRouter) shouldForwardEvent(branch core.BranchConfig, event core.Event) bool {
	if len(branch.EventFilter) == 0 {
		return true
	}

	eventType := event.EventType()
	for _, filterType := range branch.EventFilter {
		if filterType == eventType || filterType == core.EventTypeWildcard {
			return true
		}
	}

	return false
}

// Cancel cancels the fan-out router and all its branches
func (fr *FanOutRouter) Cancel() {
	fr.cancel()
}
