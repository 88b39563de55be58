package pattern

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/TuSKan/rechunk-gomlx/chunkgrid"
)

var (
	// ErrShapeMismatch reports a key whose coordinate count does not match
	// the pattern's dimension count.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrConstruction reports an invalid pattern definition.
	ErrConstruction = errors.New("invalid pattern")
)

// SubsetSpec explains how to subset a file along one dimension: take
// segment ThisSegment of TotalSegments.
type SubsetSpec struct {
	Dim           string
	ThisSegment   int
	TotalSegments int
}

// OpenSpec explains how to open one file: its identifier plus any subset
// slicing to apply after opening.
type OpenSpec struct {
	FName   string
	Subsets []SubsetSpec
}

// FormatFunc maps the keys of every non-subset combine dimension (dimension
// name to key) to a file identifier.
type FormatFunc func(keys map[string]string) string

// FilePattern is an n-dimensional matrix of source files addressed through
// a sequence of combine dimensions. It is immutable and safe to iterate
// from any number of goroutines.
type FilePattern struct {
	format FormatFunc
	dims   []CombineDim
}

// New builds a FilePattern. Dimension names must be unique across the
// pattern, every dimension must carry at least one key, and subset factors
// must be positive.
func New(format FormatFunc, dims ...CombineDim) (*FilePattern, error) {
	if format == nil {
		return nil, fmt.Errorf("format function is required: %w", ErrConstruction)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("pattern needs at least one combine dimension: %w", ErrConstruction)
	}
	seen := make(map[string]bool, len(dims))
	for _, d := range dims {
		name := d.DimName()
		if seen[name] {
			return nil, fmt.Errorf("duplicate dimension %q: %w", name, ErrConstruction)
		}
		seen[name] = true
		if d.NKeys() <= 0 {
			return nil, fmt.Errorf("dimension %q has no keys: %w", name, ErrConstruction)
		}
		if cd, ok := d.(ConcatDim); ok && cd.NItemsPerFile < 0 {
			return nil, fmt.Errorf("dimension %q: negative items per file: %w", name, ErrConstruction)
		}
	}
	return &FilePattern{format: format, dims: slices.Clone(dims)}, nil
}

// CombineDims returns the combine dimensions in declaration order.
func (p *FilePattern) CombineDims() []CombineDim { return slices.Clone(p.dims) }

// DimNames returns the pattern dimension names in declaration order.
func (p *FilePattern) DimNames() []string {
	out := make([]string, len(p.dims))
	for i, d := range p.dims {
		out[i] = d.DimName()
	}
	return out
}

// Dims maps each pattern dimension name to its key count. Use DimNames for
// declaration order.
func (p *FilePattern) Dims() map[string]int {
	out := make(map[string]int, len(p.dims))
	for _, d := range p.dims {
		out[d.DimName()] = d.NKeys()
	}
	return out
}

// Shape returns the per-dimension key counts in declaration order.
func (p *FilePattern) Shape() []int {
	out := make([]int, len(p.dims))
	for i, d := range p.dims {
		out[i] = d.NKeys()
	}
	return out
}

func (p *FilePattern) dimNamesByOp(op CombineOp) []string {
	var out []string
	for _, d := range p.dims {
		if d.Op() == op {
			out = append(out, d.DimName())
		}
	}
	return out
}

// MergeDims returns the names of merge dimensions, in declaration order.
func (p *FilePattern) MergeDims() []string { return p.dimNamesByOp(OpMerge) }

// ConcatDims returns the names of concat dimensions, in declaration order.
func (p *FilePattern) ConcatDims() []string { return p.dimNamesByOp(OpConcat) }

// SubsetDims returns the names of subset dimensions ("<dim>_subset"), in
// declaration order.
func (p *FilePattern) SubsetDims() []string { return p.dimNamesByOp(OpSubset) }

// NItemsPerInput maps each concat dimension to the number of items per
// source file, 0 when unknown.
func (p *FilePattern) NItemsPerInput() map[string]int {
	out := make(map[string]int)
	for _, d := range p.dims {
		if cd, ok := d.(ConcatDim); ok {
			out[cd.Name] = cd.NItemsPerFile
		}
	}
	return out
}

// ConcatSequenceLens maps each concat dimension to its total sequence
// length (items per file times key count), 0 when the per-file item count
// is unknown.
func (p *FilePattern) ConcatSequenceLens() map[string]int {
	out := make(map[string]int)
	for _, d := range p.dims {
		if cd, ok := d.(ConcatDim); ok {
			out[cd.Name] = cd.NItemsPerFile * len(cd.Keys)
		}
	}
	return out
}

// Resolve maps a pattern key (one coordinate per combine dimension, in
// declaration order) to the OpenSpec for the file it addresses.
func (p *FilePattern) Resolve(key []int) (OpenSpec, error) {
	if len(key) != len(p.dims) {
		return OpenSpec{}, fmt.Errorf("key has %d coordinates, pattern has %d dimensions: %w",
			len(key), len(p.dims), ErrShapeMismatch)
	}
	kwargs := make(map[string]string)
	var subsets []SubsetSpec
	for i, d := range p.dims {
		k := key[i]
		if k < 0 || k >= d.NKeys() {
			return OpenSpec{}, fmt.Errorf("coordinate %d for dimension %q outside [0, %d): %w",
				k, d.DimName(), d.NKeys(), chunkgrid.ErrRange)
		}
		switch cd := d.(type) {
		case ConcatDim:
			kwargs[cd.Name] = cd.Keys[k]
		case MergeDim:
			kwargs[cd.Name] = cd.Keys[k]
		case SubsetDim:
			subsets = append(subsets, SubsetSpec{
				Dim:           cd.Dim,
				ThisSegment:   k,
				TotalSegments: cd.Factor,
			})
		}
	}
	return OpenSpec{FName: p.format(kwargs), Subsets: subsets}, nil
}

// Keys iterates over every pattern key in row-major order over the
// declared dimension order, last dimension varying fastest. The sequence
// is lazy and restartable; each yielded slice is a fresh copy.
func (p *FilePattern) Keys() iter.Seq[[]int] {
	shape := p.Shape()
	return func(yield func([]int) bool) {
		key := make([]int, len(shape))
		for {
			if !yield(slices.Clone(key)) {
				return
			}
			i := len(shape) - 1
			for ; i >= 0; i-- {
				key[i]++
				if key[i] < shape[i] {
					break
				}
				key[i] = 0
			}
			if i < 0 {
				return
			}
		}
	}
}

// Items pairs every pattern key with its resolved OpenSpec, in the same
// order as Keys.
func (p *FilePattern) Items() iter.Seq2[[]int, OpenSpec] {
	return func(yield func([]int, OpenSpec) bool) {
		for key := range p.Keys() {
			spec, err := p.Resolve(key)
			if err != nil {
				// Keys only yields in-range coordinates.
				panic(err)
			}
			if !yield(key, spec) {
				return
			}
		}
	}
}

// Prune derives a smaller pattern for dry runs: merge dimensions are kept
// intact, every concat dimension is truncated to its first nkeep keys, and
// subset dimensions are untouched. The format function is reused.
func (p *FilePattern) Prune(nkeep int) *FilePattern {
	dims := make([]CombineDim, len(p.dims))
	for i, d := range p.dims {
		if cd, ok := d.(ConcatDim); ok && len(cd.Keys) > nkeep {
			cd.Keys = cd.Keys[:nkeep]
			dims[i] = cd
		} else {
			dims[i] = d
		}
	}
	return &FilePattern{format: p.format, dims: dims}
}

// FragmentIndex maps a pattern key to the positional Index of the fragment
// the key addresses, in global array-index space. It requires every concat
// dimension to declare NItemsPerFile. Subset dimensions refine the range of
// the concat dimension they subdivide, using the same division rule as
// chunkgrid.Axis.Subset.
func (p *FilePattern) FragmentIndex(key []int) (Index, error) {
	if len(key) != len(p.dims) {
		return nil, fmt.Errorf("key has %d coordinates, pattern has %d dimensions: %w",
			len(key), len(p.dims), ErrShapeMismatch)
	}
	ix := make(Index, len(p.dims))
	for i, d := range p.dims {
		k := key[i]
		if k < 0 || k >= d.NKeys() {
			return nil, fmt.Errorf("coordinate %d for dimension %q outside [0, %d): %w",
				k, d.DimName(), d.NKeys(), chunkgrid.ErrRange)
		}
		switch cd := d.(type) {
		case ConcatDim:
			if cd.NItemsPerFile <= 0 {
				return nil, fmt.Errorf("dimension %q has unknown items per file: %w",
					cd.Name, ErrConstruction)
			}
			n := cd.NItemsPerFile
			ix[DimKey{cd.Name, OpConcat}] = ConcatVal(k, k*n, (k+1)*n)
		case MergeDim:
			ix[DimKey{cd.Name, OpMerge}] = MergeVal(k)
		}
	}
	// Subset dimensions narrow the concat entry they refine; handled after
	// all concat entries exist.
	for i, d := range p.dims {
		sd, ok := d.(SubsetDim)
		if !ok {
			continue
		}
		seg := key[i]
		dk := DimKey{sd.Dim, OpConcat}
		dv, ok := ix[dk]
		if !ok {
			return nil, fmt.Errorf("subset dimension %q refines no concat dimension %q: %w",
				sd.DimName(), sd.Dim, ErrShapeMismatch)
		}
		ax, err := chunkgrid.NewAxis(dv.Stop - dv.Start)
		if err != nil {
			return nil, err
		}
		sub, err := ax.Subset(sd.Factor)
		if err != nil {
			return nil, err
		}
		if seg >= sub.NChunks() {
			return nil, fmt.Errorf("segment %d of %d is empty for %d items on %q: %w",
				seg, sd.Factor, dv.Stop-dv.Start, sd.Dim, chunkgrid.ErrRange)
		}
		sl, err := sub.ChunkIndexToArraySlice(seg)
		if err != nil {
			return nil, err
		}
		ix[dk] = ConcatVal(dv.Index*sd.Factor+seg, dv.Start+sl.Start, dv.Start+sl.Stop)
	}
	return ix, nil
}

// FromFileSequence builds a single-concat-dimension pattern over an
// explicit list of file identifiers.
func FromFileSequence(files []string, concatDim string, nitemsPerFile int) (*FilePattern, error) {
	keys := make([]string, len(files))
	copy(keys, files)
	format := func(kw map[string]string) string { return kw[concatDim] }
	return New(format, ConcatDim{Name: concatDim, Keys: keys, NItemsPerFile: nitemsPerFile})
}
