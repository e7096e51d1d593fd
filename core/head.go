package core

import "cmp"

// Head is the value a worker publishes for a round: either the current head of
// its run or the exhausted marker. An exhausted head orders after every present
// one, so a worker with an empty run is never selected.
type Head[T cmp.Ordered] struct {
	Value   T
	Present bool
}

// Some wraps a run head
func Some[T cmp.Ordered](v T) Head[T] {
	return Head[T]{Value: v, Present: true}
}

// Exhausted returns the marker published by a worker whose run is empty
func Exhausted[T cmp.Ordered]() Head[T] {
	return Head[T]{}
}

// Less reports whether h orders strictly before other.
func (h Head[T]) Less(other Head[T]) bool {
	switch {
	case !h.Present:
		return false
	case !other.Present:
		return true
	default:
		return cmp.Less(h.Value, other.Value)
	}
}
