// Package rechunk cuts dataset fragments, addressed through n-dimensional
// file patterns, into pieces aligned to a target chunk grid, and
// reassembles the pieces into destination chunks.
package rechunk

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/TuSKan/rechunk-gomlx/chunkgrid"
	"github.com/TuSKan/rechunk-gomlx/dataset"
	"github.com/TuSKan/rechunk-gomlx/pattern"
)

// ChunkRef names one destination chunk along one dimension.
type ChunkRef struct {
	Dim   string
	Chunk int
}

// GroupKey identifies a destination chunk: one ChunkRef per split
// dimension, ordered by dimension name.
type GroupKey []ChunkRef

// String renders a stable key usable for grouping, e.g. "lat=0;time=2".
func (k GroupKey) String() string {
	var sb strings.Builder
	for i, ref := range k {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(ref.Dim)
		sb.WriteByte('=')
		sb.WriteString(strconv.Itoa(ref.Chunk))
	}
	return sb.String()
}

// Piece is one chunk-aligned cut of a fragment, described purely in index
// space. Index places the piece globally, with the destination chunk
// ordinal in each concat entry; Sel holds the piece's offsets local to the
// source fragment, ready for a dataset slicer.
type Piece struct {
	Key   GroupKey
	Index pattern.Index
	Sel   map[string]chunkgrid.Slice
}

// FragmentPiece is a Piece with its data payload attached.
type FragmentPiece struct {
	Key   GroupKey
	Index pattern.Index
	Data  *dataset.Fragment
}

// one candidate destination chunk along one dimension
type dimOption struct {
	key   pattern.DimKey
	chunk int
	val   pattern.DimVal
	local chunkgrid.Slice
}

// Split cuts a fragment, described only by its Index, into pieces aligned
// to the target chunking spec. Concat dimensions present in both the Index
// and the target are split; concat dimensions absent from the target pass
// through unsplit; target dimensions absent from the Index are ignored.
// Merge entries are copied into every piece.
//
// For a fixed destination key, the pieces emitted across all fragments of
// a dataset tile the destination chunk exactly, with no gaps and no
// overlaps, whatever order the fragments are processed in.
func Split(index pattern.Index, target map[string]chunkgrid.Dim) ([]Piece, error) {
	if err := index.Validate(); err != nil {
		return nil, err
	}
	base := make(pattern.Index, len(index))
	options := make(map[string][]dimOption)
	var dims []string
	for dk, dv := range index {
		if dk.Op != pattern.OpConcat {
			base[dk] = dv
			continue
		}
		spec, ok := target[dk.Name]
		if !ok {
			base[dk] = dv
			continue
		}
		ax, err := chunkgrid.UniformAxis(spec.ChunkSize, spec.Length)
		if err != nil {
			return nil, fmt.Errorf("target spec for %q: %w", dk.Name, err)
		}
		covered, err := ax.ArraySliceToChunkSlice(dv.Start, dv.Stop)
		if err != nil {
			return nil, fmt.Errorf("fragment range on %q: %w", dk.Name, err)
		}
		opts := make([]dimOption, 0, covered.Stop-covered.Start)
		for c := covered.Start; c < covered.Stop; c++ {
			extent, err := ax.ChunkIndexToArraySlice(c)
			if err != nil {
				return nil, err
			}
			lo := max(extent.Start, dv.Start)
			hi := min(extent.Stop, dv.Stop)
			opts = append(opts, dimOption{
				key:   dk,
				chunk: c,
				val:   pattern.ConcatVal(c, lo, hi),
				local: chunkgrid.Slice{Start: lo - dv.Start, Stop: hi - dv.Start},
			})
		}
		dims = append(dims, dk.Name)
		options[dk.Name] = opts
	}
	sort.Strings(dims)

	if len(dims) == 0 {
		// Nothing to split: the fragment maps to a single piece.
		return []Piece{{Index: base, Sel: map[string]chunkgrid.Slice{}}}, nil
	}

	// Cartesian product across split dimensions, last varying fastest.
	var pieces []Piece
	cur := make([]int, len(dims))
	for {
		key := make(GroupKey, len(dims))
		ix := base.Clone()
		sel := make(map[string]chunkgrid.Slice, len(dims))
		for i, dim := range dims {
			o := options[dim][cur[i]]
			key[i] = ChunkRef{Dim: dim, Chunk: o.chunk}
			ix[o.key] = o.val
			sel[dim] = o.local
		}
		pieces = append(pieces, Piece{Key: key, Index: ix, Sel: sel})

		i := len(dims) - 1
		for ; i >= 0; i-- {
			cur[i]++
			if cur[i] < len(options[dims[i]]) {
				break
			}
			cur[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return pieces, nil
}

// SplitFragment cuts a fragment's data into chunk-aligned pieces. The
// fragment's extent along every concat dimension of the Index must match
// the Index's declared range.
func SplitFragment(index pattern.Index, frag *dataset.Fragment, target map[string]chunkgrid.Dim) ([]FragmentPiece, error) {
	for dk, dv := range index {
		if dk.Op != pattern.OpConcat {
			continue
		}
		n, ok := frag.Size(dk.Name)
		if !ok {
			return nil, fmt.Errorf("index names dimension %q the fragment does not have: %w",
				dk.Name, pattern.ErrShapeMismatch)
		}
		if n != dv.Stop-dv.Start {
			return nil, fmt.Errorf("fragment spans %d items on %q, index declares [%d, %d): %w",
				n, dk.Name, dv.Start, dv.Stop, pattern.ErrShapeMismatch)
		}
	}
	pieces, err := Split(index, target)
	if err != nil {
		return nil, err
	}
	out := make([]FragmentPiece, 0, len(pieces))
	for _, p := range pieces {
		sub, err := frag.Isel(p.Sel)
		if err != nil {
			return nil, fmt.Errorf("piece %s: %w", p.Key, err)
		}
		out = append(out, FragmentPiece{Key: p.Key, Index: p.Index, Data: sub})
	}
	return out, nil
}
