// Package chunkgrid translates between array-index space and chunk-index
// space for chunked n-dimensional arrays.
package chunkgrid

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var (
	// ErrRange reports an index or slice argument outside the valid range.
	ErrRange = errors.New("index out of range")
	// ErrConstruction reports an invalid chunk specification.
	ErrConstruction = errors.New("invalid chunk specification")
	// ErrUnknownDim reports a dimension name absent from a grid.
	ErrUnknownDim = errors.New("unknown dimension")
)

// Slice is a half-open [Start, Stop) range of array or chunk indices.
type Slice struct {
	Start int
	Stop  int
}

// Axis is an immutable table of chunk boundaries along one dimension.
// bounds[c] is the array index where chunk c begins, so chunk c spans
// [bounds[c], bounds[c+1]).
type Axis struct {
	chunks []int
	bounds []int
}

// NewAxis builds an Axis from per-chunk lengths. Every chunk must have
// positive length and at least one chunk is required.
func NewAxis(chunks ...int) (*Axis, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("axis needs at least one chunk: %w", ErrConstruction)
	}
	a := &Axis{
		chunks: slices.Clone(chunks),
		bounds: make([]int, len(chunks)+1),
	}
	for i, c := range chunks {
		if c <= 0 {
			return nil, fmt.Errorf("chunk %d has non-positive length %d: %w", i, c, ErrConstruction)
		}
		a.bounds[i+1] = a.bounds[i] + c
	}
	return a, nil
}

// Len returns the total array length covered by the axis.
func (a *Axis) Len() int { return a.bounds[len(a.bounds)-1] }

// NChunks returns the number of chunks.
func (a *Axis) NChunks() int { return len(a.chunks) }

// Chunks returns a copy of the per-chunk lengths.
func (a *Axis) Chunks() []int { return slices.Clone(a.chunks) }

// Equal reports whether two axes have identical chunk layouts.
func (a *Axis) Equal(b *Axis) bool { return slices.Equal(a.chunks, b.chunks) }

// ArrayIndexToChunkIndex returns the ordinal of the chunk containing array
// position i.
func (a *Axis) ArrayIndexToChunkIndex(i int) (int, error) {
	if i < 0 || i >= a.Len() {
		return 0, fmt.Errorf("array index %d outside [0, %d): %w", i, a.Len(), ErrRange)
	}
	// bounds is strictly increasing; the containing chunk is the last one
	// whose start is <= i.
	return sort.SearchInts(a.bounds, i+1) - 1, nil
}

// ArraySliceToChunkSlice returns the minimal chunk range [c0, c1) whose
// union covers the array range [start, stop).
func (a *Axis) ArraySliceToChunkSlice(start, stop int) (Slice, error) {
	if start < 0 || stop > a.Len() || start >= stop {
		return Slice{}, fmt.Errorf("array slice [%d, %d) invalid for axis of length %d: %w",
			start, stop, a.Len(), ErrRange)
	}
	first, err := a.ArrayIndexToChunkIndex(start)
	if err != nil {
		return Slice{}, err
	}
	last, err := a.ArrayIndexToChunkIndex(stop - 1)
	if err != nil {
		return Slice{}, err
	}
	return Slice{Start: first, Stop: last + 1}, nil
}

// ChunkIndexToArraySlice returns the array range [start, stop) spanned by
// chunk c.
func (a *Axis) ChunkIndexToArraySlice(c int) (Slice, error) {
	if c < 0 || c >= len(a.chunks) {
		return Slice{}, fmt.Errorf("chunk index %d outside [0, %d): %w", c, len(a.chunks), ErrRange)
	}
	return Slice{Start: a.bounds[c], Stop: a.bounds[c+1]}, nil
}

// Subset returns a new Axis in which every chunk of length L is divided
// into factor nearly-equal pieces: factor - L%factor pieces of length
// L/factor followed by L%factor pieces of length L/factor + 1. Pieces that
// would be empty (factor > L) are dropped.
//
// The smaller-pieces-first ordering is normative; the opener's subset
// slicing relies on it.
func (a *Axis) Subset(factor int) (*Axis, error) {
	if factor < 1 {
		return nil, fmt.Errorf("subset factor %d < 1: %w", factor, ErrConstruction)
	}
	out := make([]int, 0, len(a.chunks)*factor)
	for _, c := range a.chunks {
		div, mod := c/factor, c%factor
		for i := 0; i < factor-mod; i++ {
			if div > 0 {
				out = append(out, div)
			}
		}
		for i := 0; i < mod; i++ {
			out = append(out, div+1)
		}
	}
	return NewAxis(out...)
}

// Consolidate returns a new Axis obtained by summing runs of factor
// consecutive chunks into one. The final run may be shorter.
func (a *Axis) Consolidate(factor int) (*Axis, error) {
	if factor < 1 {
		return nil, fmt.Errorf("consolidate factor %d < 1: %w", factor, ErrConstruction)
	}
	out := make([]int, 0, (len(a.chunks)+factor-1)/factor)
	for i := 0; i < len(a.chunks); i += factor {
		sum := 0
		for j := i; j < min(i+factor, len(a.chunks)); j++ {
			sum += a.chunks[j]
		}
		out = append(out, sum)
	}
	return NewAxis(out...)
}

// UniformAxis builds an Axis with chunkSize-long chunks covering length,
// plus a final length%chunkSize remainder chunk when non-zero.
func UniformAxis(chunkSize, length int) (*Axis, error) {
	if chunkSize <= 0 || length <= 0 {
		return nil, fmt.Errorf("uniform axis (chunk %d, length %d) must be positive: %w",
			chunkSize, length, ErrConstruction)
	}
	n := length / chunkSize
	chunks := make([]int, 0, n+1)
	for i := 0; i < n; i++ {
		chunks = append(chunks, chunkSize)
	}
	if rem := length % chunkSize; rem > 0 {
		chunks = append(chunks, rem)
	}
	return NewAxis(chunks...)
}
