// Package dataset produces merge input: random values and their partition
// into sorted runs.
package dataset

import (
	"cmp"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxValue bounds generated values to [0, DefaultMaxValue)
const DefaultMaxValue = 1000

// Generate returns count pseudo-random values in [0, bound). The same seed
// always yields the same values.
func Generate(count int, seed uint64, bound int) []int {
	if bound <= 0 {
		bound = DefaultMaxValue
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	values := make([]int, count)
	for i := range values {
		values[i] = rng.IntN(bound)
	}
	return values
}

// Partition splits values into k contiguous chunks of equal length and sorts
// each chunk in its own goroutine. The input slice is not modified.
func Partition[T cmp.Ordered](ctx context.Context, values []T, k int) ([][]T, error) {
	if k < 1 {
		return nil, fmt.Errorf("partition into %d chunks", k)
	}
	if len(values)%k != 0 {
		return nil, fmt.Errorf("%d values do not split into %d equal chunks", len(values), k)
	}

	n := len(values) / k
	chunks := make([][]T, k)

	g, gctx := errgroup.WithContext(ctx)
	for i := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunk := slices.Clone(values[i*n : (i+1)*n])
			slices.Sort(chunk)
			chunks[i] = chunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return chunks, nil
}
