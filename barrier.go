package kmerge

import (
	"context"
	"errors"
	"sync"
)

// ErrBarrierBroken is returned by Wait once any participant has abandoned the
// barrier. A broken barrier stays broken.
var ErrBarrierBroken = errors.New("barrier broken")

// Barrier is a cyclic rendezvous for a fixed number of participants.
// Wait blocks until all parties have arrived, then releases them together and
// resets for the next round.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	arrived    int
	generation uint64
	broken     bool
}

// NewBarrier creates a barrier for the given number of parties
func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		panic("kmerge: barrier parties must be >= 1")
	}
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Parties returns the number of participants required to trip the barrier
func (b *Barrier) Parties() int {
	return b.parties
}

// Generation returns how many times the barrier has been released
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Broken reports whether the barrier has been broken
func (b *Barrier) Broken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}

// Wait registers an arrival and blocks until the current generation is
// released. The last arrival releases everyone with a single broadcast.
//
// If ctx is done before the release, the barrier breaks: the caller gets
// ctx.Err() and every other waiter, present or future, gets ErrBarrierBroken.
// Each participant must call Wait exactly once per generation.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken {
		return ErrBarrierBroken
	}
	if err := ctx.Err(); err != nil {
		b.breakLocked()
		return err
	}

	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
		return nil
	}

	gen := b.generation
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	for gen == b.generation {
		if b.broken {
			return ErrBarrierBroken
		}
		if err := ctx.Err(); err != nil {
			b.breakLocked()
			return err
		}
		b.cond.Wait()
	}
	return nil
}

// Break breaks the barrier, releasing all waiters with ErrBarrierBroken
func (b *Barrier) Break() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breakLocked()
}

func (b *Barrier) breakLocked() {
	if b.broken {
		return
	}
	b.broken = true
	b.arrived = 0
	b.cond.Broadcast()
}
