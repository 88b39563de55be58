package rechunk

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/TuSKan/rechunk-gomlx/chunkgrid"
	"github.com/TuSKan/rechunk-gomlx/dataset"
	"github.com/TuSKan/rechunk-gomlx/pattern"
)

var (
	// ErrTiling reports pieces that do not tile their destination chunk
	// exactly (a gap, an overlap, or a duplicate).
	ErrTiling = errors.New("inconsistent destination chunk tiling")
	// ErrIncomplete reports destination chunks still missing pieces.
	ErrIncomplete = errors.New("incomplete destination chunks")
)

// AssembledChunk is one fully reconstructed destination chunk.
type AssembledChunk struct {
	Key GroupKey
	// Index places the chunk globally: one concat entry per split
	// dimension spanning the chunk's full extent, plus any merge entries.
	Index pattern.Index
	Data  *dataset.Fragment
}

// Combiner accumulates split pieces and emits destination chunks as soon
// as all of a chunk's pieces have arrived. Arrival order is irrelevant:
// assembly always concatenates in array-index order. Not safe for
// concurrent use; feed it from a single goroutine.
type Combiner struct {
	target  map[string]chunkgrid.Dim
	axes    map[string]*chunkgrid.Axis
	pending map[string]*assembly
}

type assembly struct {
	key     GroupKey
	pieces  []FragmentPiece
	covered int
	volume  int
}

// NewCombiner builds a Combiner for one target chunking spec.
func NewCombiner(target map[string]chunkgrid.Dim) (*Combiner, error) {
	axes := make(map[string]*chunkgrid.Axis, len(target))
	for dim, spec := range target {
		ax, err := chunkgrid.UniformAxis(spec.ChunkSize, spec.Length)
		if err != nil {
			return nil, fmt.Errorf("target spec for %q: %w", dim, err)
		}
		axes[dim] = ax
	}
	return &Combiner{
		target:  maps.Clone(target),
		axes:    axes,
		pending: make(map[string]*assembly),
	}, nil
}

// groupID extends the destination chunk key with the piece's merge
// selectors, so distinct merged variables never share an assembly.
func groupID(p FragmentPiece) string {
	var merges []string
	for dk, dv := range p.Index {
		if dk.Op == pattern.OpMerge {
			merges = append(merges, dk.Name+":"+strconv.Itoa(dv.Index))
		}
	}
	sort.Strings(merges)
	return p.Key.String() + "|" + strings.Join(merges, ",")
}

// Add ingests one piece. It returns a non-nil AssembledChunk when the
// piece completes its destination chunk, nil otherwise.
func (c *Combiner) Add(p FragmentPiece) (*AssembledChunk, error) {
	for dk := range p.Index {
		if dk.Op == pattern.OpConcat {
			if _, ok := c.target[dk.Name]; !ok {
				return nil, fmt.Errorf("target spec does not cover concatenated dimension %q: %w",
					dk.Name, pattern.ErrShapeMismatch)
			}
		}
	}
	id := groupID(p)
	a := c.pending[id]
	if a == nil {
		volume := 1
		for _, ref := range p.Key {
			extent, err := c.axes[ref.Dim].ChunkIndexToArraySlice(ref.Chunk)
			if err != nil {
				return nil, fmt.Errorf("destination chunk %s: %w", p.Key, err)
			}
			volume *= extent.Stop - extent.Start
		}
		a = &assembly{key: p.Key, volume: volume}
		c.pending[id] = a
	}

	pieceVol := 1
	for _, ref := range p.Key {
		dv := p.Index[pattern.DimKey{Name: ref.Dim, Op: pattern.OpConcat}]
		pieceVol *= dv.Stop - dv.Start
	}
	a.pieces = append(a.pieces, p)
	a.covered += pieceVol
	if a.covered > a.volume {
		return nil, fmt.Errorf("destination chunk %s: pieces cover %d of %d elements: %w",
			p.Key, a.covered, a.volume, ErrTiling)
	}
	if a.covered < a.volume {
		return nil, nil
	}
	delete(c.pending, id)
	return c.assemble(a)
}

// Pending returns the keys of destination chunks still waiting for pieces.
func (c *Combiner) Pending() []string {
	return slices.Sorted(maps.Keys(c.pending))
}

func (c *Combiner) assemble(a *assembly) (*AssembledChunk, error) {
	extents := make(map[string]chunkgrid.Slice, len(a.key))
	for _, ref := range a.key {
		extent, err := c.axes[ref.Dim].ChunkIndexToArraySlice(ref.Chunk)
		if err != nil {
			return nil, err
		}
		extents[ref.Dim] = extent
	}
	data, err := assembleAlong(a.key, extents, a.pieces)
	if err != nil {
		return nil, fmt.Errorf("destination chunk %s: %w", a.key, err)
	}
	ix := make(pattern.Index)
	for dk, dv := range a.pieces[0].Index {
		if dk.Op == pattern.OpMerge {
			ix[dk] = dv
		}
	}
	for _, ref := range a.key {
		extent := extents[ref.Dim]
		ix[pattern.DimKey{Name: ref.Dim, Op: pattern.OpConcat}] =
			pattern.ConcatVal(ref.Chunk, extent.Start, extent.Stop)
	}
	return &AssembledChunk{Key: a.key, Index: ix, Data: data}, nil
}

// assembleAlong stitches pieces back together one dimension at a time,
// always in array-index order.
func assembleAlong(refs GroupKey, extents map[string]chunkgrid.Slice, pieces []FragmentPiece) (*dataset.Fragment, error) {
	if len(refs) == 0 {
		if len(pieces) != 1 {
			return nil, fmt.Errorf("%d pieces for one grid cell: %w", len(pieces), ErrTiling)
		}
		return pieces[0].Data, nil
	}
	dim := refs[0].Dim
	dk := pattern.DimKey{Name: dim, Op: pattern.OpConcat}
	groups := make(map[int][]FragmentPiece)
	stops := make(map[int]int)
	for _, p := range pieces {
		dv := p.Index[dk]
		if stop, ok := stops[dv.Start]; ok && stop != dv.Stop {
			return nil, fmt.Errorf("dimension %q: ranges [%d, %d) and [%d, %d) collide: %w",
				dim, dv.Start, dv.Stop, dv.Start, stop, ErrTiling)
		}
		stops[dv.Start] = dv.Stop
		groups[dv.Start] = append(groups[dv.Start], p)
	}
	starts := slices.Sorted(maps.Keys(groups))
	next := extents[dim].Start
	parts := make([]*dataset.Fragment, 0, len(starts))
	for _, start := range starts {
		if start != next {
			return nil, fmt.Errorf("dimension %q: expected range starting at %d, got %d: %w",
				dim, next, start, ErrTiling)
		}
		sub, err := assembleAlong(refs[1:], extents, groups[start])
		if err != nil {
			return nil, err
		}
		parts = append(parts, sub)
		next = stops[start]
	}
	if next != extents[dim].Stop {
		return nil, fmt.Errorf("dimension %q: coverage stops at %d, chunk ends at %d: %w",
			dim, next, extents[dim].Stop, ErrTiling)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return dataset.Concat(dim, parts...)
}
