package chunkgrid

import (
	"fmt"
	"maps"
	"slices"
)

// Dim is one dimension of a uniform chunking specification: chunks of
// ChunkSize elements covering Length elements in total.
type Dim struct {
	ChunkSize int
	Length    int
}

// Grid is an immutable set of named, orthogonal chunk axes.
type Grid struct {
	axes map[string]*Axis
}

// NewGrid builds a Grid from per-dimension chunk length tuples.
func NewGrid(chunks map[string][]int) (*Grid, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("grid needs at least one dimension: %w", ErrConstruction)
	}
	axes := make(map[string]*Axis, len(chunks))
	for dim, cs := range chunks {
		ax, err := NewAxis(cs...)
		if err != nil {
			return nil, fmt.Errorf("dimension %q: %w", dim, err)
		}
		axes[dim] = ax
	}
	return &Grid{axes: axes}, nil
}

// FromUniformGrid builds a Grid where each dimension has uniform chunks of
// spec[dim].ChunkSize plus a final remainder chunk when the chunk size does
// not divide spec[dim].Length.
func FromUniformGrid(spec map[string]Dim) (*Grid, error) {
	if len(spec) == 0 {
		return nil, fmt.Errorf("grid needs at least one dimension: %w", ErrConstruction)
	}
	axes := make(map[string]*Axis, len(spec))
	for dim, d := range spec {
		ax, err := UniformAxis(d.ChunkSize, d.Length)
		if err != nil {
			return nil, fmt.Errorf("dimension %q: %w", dim, err)
		}
		axes[dim] = ax
	}
	return &Grid{axes: axes}, nil
}

// Dims returns the dimension names in sorted order.
func (g *Grid) Dims() []string {
	return slices.Sorted(maps.Keys(g.axes))
}

// NDim returns the number of dimensions.
func (g *Grid) NDim() int { return len(g.axes) }

// Axis returns the axis for one dimension.
func (g *Grid) Axis(dim string) (*Axis, bool) {
	ax, ok := g.axes[dim]
	return ax, ok
}

// Shape maps each dimension to its total array length.
func (g *Grid) Shape() map[string]int {
	out := make(map[string]int, len(g.axes))
	for dim, ax := range g.axes {
		out[dim] = ax.Len()
	}
	return out
}

// NChunks maps each dimension to its chunk count.
func (g *Grid) NChunks() map[string]int {
	out := make(map[string]int, len(g.axes))
	for dim, ax := range g.axes {
		out[dim] = ax.NChunks()
	}
	return out
}

// Equal reports whether two grids have identical dimensions and chunk
// layouts.
func (g *Grid) Equal(other *Grid) bool {
	if len(g.axes) != len(other.axes) {
		return false
	}
	for dim, ax := range g.axes {
		o, ok := other.axes[dim]
		if !ok || !ax.Equal(o) {
			return false
		}
	}
	return true
}

// ArrayIndexToChunkIndex applies the array-to-chunk index translation to
// every dimension present in indexes. Dimensions absent from the input are
// absent from the output.
func (g *Grid) ArrayIndexToChunkIndex(indexes map[string]int) (map[string]int, error) {
	out := make(map[string]int, len(indexes))
	for dim, i := range indexes {
		ax, ok := g.axes[dim]
		if !ok {
			return nil, fmt.Errorf("dimension %q: %w", dim, ErrUnknownDim)
		}
		c, err := ax.ArrayIndexToChunkIndex(i)
		if err != nil {
			return nil, fmt.Errorf("dimension %q: %w", dim, err)
		}
		out[dim] = c
	}
	return out, nil
}

// ArraySliceToChunkSlice applies the array-slice-to-chunk-slice translation
// per dimension, independently.
func (g *Grid) ArraySliceToChunkSlice(slices map[string]Slice) (map[string]Slice, error) {
	out := make(map[string]Slice, len(slices))
	for dim, sl := range slices {
		ax, ok := g.axes[dim]
		if !ok {
			return nil, fmt.Errorf("dimension %q: %w", dim, ErrUnknownDim)
		}
		cs, err := ax.ArraySliceToChunkSlice(sl.Start, sl.Stop)
		if err != nil {
			return nil, fmt.Errorf("dimension %q: %w", dim, err)
		}
		out[dim] = cs
	}
	return out, nil
}

// ChunkIndexToArraySlice applies the chunk-to-array-slice translation per
// dimension, independently.
func (g *Grid) ChunkIndexToArraySlice(indexes map[string]int) (map[string]Slice, error) {
	out := make(map[string]Slice, len(indexes))
	for dim, c := range indexes {
		ax, ok := g.axes[dim]
		if !ok {
			return nil, fmt.Errorf("dimension %q: %w", dim, ErrUnknownDim)
		}
		sl, err := ax.ChunkIndexToArraySlice(c)
		if err != nil {
			return nil, fmt.Errorf("dimension %q: %w", dim, err)
		}
		out[dim] = sl
	}
	return out, nil
}
