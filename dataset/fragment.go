// Package dataset holds the in-memory fragment type that flows through a
// rechunking pipeline: a typed n-dimensional block with named dimensions.
package dataset

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/TuSKan/rechunk-gomlx/chunkgrid"
)

var (
	// ErrDType reports an unsupported or mismatched element type.
	ErrDType = errors.New("unsupported dtype")
	// ErrShape reports a dims/shape/payload inconsistency.
	ErrShape = errors.New("fragment shape mismatch")
)

// Fragment is an immutable in-memory slice of a larger dataset: a C-order
// flat payload with one name per axis. Supported element types are
// float32, float64, int32, and int64.
type Fragment struct {
	dims  []string
	shape []int
	data  any
}

// New builds a Fragment. The payload must be a flat slice whose length is
// the product of shape.
func New(dims []string, shape []int, data any) (*Fragment, error) {
	if len(dims) == 0 || len(dims) != len(shape) {
		return nil, fmt.Errorf("%d dims for %d-d shape: %w", len(dims), len(shape), ErrShape)
	}
	seen := make(map[string]bool, len(dims))
	n := 1
	for i, d := range dims {
		if seen[d] {
			return nil, fmt.Errorf("duplicate dimension %q: %w", d, ErrShape)
		}
		seen[d] = true
		if shape[i] <= 0 {
			return nil, fmt.Errorf("dimension %q has non-positive length %d: %w", d, shape[i], ErrShape)
		}
		n *= shape[i]
	}
	if got := flatLen(data); got < 0 {
		return nil, fmt.Errorf("%T: %w", data, ErrDType)
	} else if got != n {
		return nil, fmt.Errorf("payload has %d elements, shape needs %d: %w", got, n, ErrShape)
	}
	return &Fragment{dims: slices.Clone(dims), shape: slices.Clone(shape), data: data}, nil
}

func flatLen(data any) int {
	switch v := data.(type) {
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	case []int32:
		return len(v)
	case []int64:
		return len(v)
	}
	return -1
}

// Dims returns the dimension names in axis order.
func (f *Fragment) Dims() []string { return slices.Clone(f.dims) }

// Shape returns the per-axis lengths.
func (f *Fragment) Shape() []int { return slices.Clone(f.shape) }

// Size returns the length along one named dimension.
func (f *Fragment) Size(dim string) (int, bool) {
	i := slices.Index(f.dims, dim)
	if i < 0 {
		return 0, false
	}
	return f.shape[i], true
}

// DType returns the element type name: "float32", "float64", "int32", or
// "int64".
func (f *Fragment) DType() string {
	switch f.data.(type) {
	case []float32:
		return "float32"
	case []float64:
		return "float64"
	case []int32:
		return "int32"
	case []int64:
		return "int64"
	}
	return "invalid"
}

// Data returns the flat C-order payload. Callers must not mutate it.
func (f *Fragment) Data() any { return f.data }

// Equal reports whether two fragments have identical dims, shapes, and
// payloads.
func (f *Fragment) Equal(other *Fragment) bool {
	if !slices.Equal(f.dims, other.dims) || !slices.Equal(f.shape, other.shape) {
		return false
	}
	switch a := f.data.(type) {
	case []float32:
		b, ok := other.data.([]float32)
		return ok && slices.Equal(a, b)
	case []float64:
		b, ok := other.data.([]float64)
		return ok && slices.Equal(a, b)
	case []int32:
		b, ok := other.data.([]int32)
		return ok && slices.Equal(a, b)
	case []int64:
		b, ok := other.data.([]int64)
		return ok && slices.Equal(a, b)
	}
	return false
}

// Tensor exports the fragment as a gomlx tensor of the same shape.
func (f *Fragment) Tensor() *tensors.Tensor {
	switch v := f.data.(type) {
	case []float32:
		return tensors.FromFlatDataAndDimensions(v, f.shape...)
	case []float64:
		return tensors.FromFlatDataAndDimensions(v, f.shape...)
	case []int32:
		return tensors.FromFlatDataAndDimensions(v, f.shape...)
	case []int64:
		return tensors.FromFlatDataAndDimensions(v, f.shape...)
	}
	return nil
}

// Isel restricts the fragment to the given per-dimension index ranges.
// Dimensions absent from sel keep their full extent.
func (f *Fragment) Isel(sel map[string]chunkgrid.Slice) (*Fragment, error) {
	start := make([]int, len(f.dims))
	shape := slices.Clone(f.shape)
	for dim, sl := range sel {
		i := slices.Index(f.dims, dim)
		if i < 0 {
			return nil, fmt.Errorf("fragment has no dimension %q: %w", dim, ErrShape)
		}
		if sl.Start < 0 || sl.Stop > f.shape[i] || sl.Start >= sl.Stop {
			return nil, fmt.Errorf("selection [%d, %d) on %q of length %d: %w",
				sl.Start, sl.Stop, dim, f.shape[i], chunkgrid.ErrRange)
		}
		start[i] = sl.Start
		shape[i] = sl.Stop - sl.Start
	}
	out := &Fragment{dims: slices.Clone(f.dims), shape: shape}
	switch v := f.data.(type) {
	case []float32:
		out.data = extract(v, f.shape, start, shape)
	case []float64:
		out.data = extract(v, f.shape, start, shape)
	case []int32:
		out.data = extract(v, f.shape, start, shape)
	case []int64:
		out.data = extract(v, f.shape, start, shape)
	}
	return out, nil
}

// Concat concatenates fragments along one named dimension, in argument
// order. All fragments must agree on dims, dtype, and every other axis
// length.
func Concat(dim string, frags ...*Fragment) (*Fragment, error) {
	if len(frags) == 0 {
		return nil, fmt.Errorf("nothing to concatenate: %w", ErrShape)
	}
	first := frags[0]
	axis := slices.Index(first.dims, dim)
	if axis < 0 {
		return nil, fmt.Errorf("fragments have no dimension %q: %w", dim, ErrShape)
	}
	shape := slices.Clone(first.shape)
	shape[axis] = 0
	for _, f := range frags {
		if !slices.Equal(f.dims, first.dims) || f.DType() != first.DType() {
			return nil, fmt.Errorf("fragments disagree on dims or dtype: %w", ErrShape)
		}
		for i := range f.shape {
			if i != axis && f.shape[i] != first.shape[i] {
				return nil, fmt.Errorf("dimension %q: length %d vs %d: %w",
					first.dims[i], f.shape[i], first.shape[i], ErrShape)
			}
		}
		shape[axis] += f.shape[axis]
	}
	out := &Fragment{dims: slices.Clone(first.dims), shape: shape}
	switch first.data.(type) {
	case []float32:
		out.data = concatData[float32](frags, axis, shape)
	case []float64:
		out.data = concatData[float64](frags, axis, shape)
	case []int32:
		out.data = concatData[int32](frags, axis, shape)
	case []int64:
		out.data = concatData[int64](frags, axis, shape)
	}
	return out, nil
}

func concatData[T any](frags []*Fragment, axis int, shape []int) []T {
	n := 1
	for _, s := range shape {
		n *= s
	}
	dst := make([]T, n)
	dstStart := make([]int, len(shape))
	offset := 0
	for _, f := range frags {
		dstStart[axis] = offset
		insert(dst, shape, dstStart, f.data.([]T), f.shape)
		offset += f.shape[axis]
	}
	return dst
}

// strides computes the C-order strides for a given shape.
func strides(shape []int) []int {
	s := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}

// extract copies the block-shaped region of src starting at srcStart into
// a fresh flat slice.
func extract[T any](src []T, srcShape, srcStart, block []int) []T {
	n := 1
	for _, s := range block {
		n *= s
	}
	dst := make([]T, n)
	copyBlock(dst, block, make([]int, len(block)), src, srcShape, srcStart, block)
	return dst
}

// insert copies src (a full block) into dst at dstStart.
func insert[T any](dst []T, dstShape, dstStart []int, src []T, srcShape []int) {
	copyBlock(dst, dstShape, dstStart, src, srcShape, make([]int, len(srcShape)), srcShape)
}

// copyBlock copies a block-shaped region from src (at srcStart) into dst
// (at dstStart). Shapes are C-order; the innermost run is copied
// contiguously.
func copyBlock[T any](dst []T, dstShape, dstStart []int, src []T, srcShape, srcStart, block []int) {
	srcStr := strides(srcShape)
	dstStr := strides(dstShape)
	srcBase, dstBase := 0, 0
	for i := range block {
		srcBase += srcStart[i] * srcStr[i]
		dstBase += dstStart[i] * dstStr[i]
	}
	last := len(block) - 1
	var rec func(dim, so, do int)
	rec = func(dim, so, do int) {
		if dim == last {
			copy(dst[do:do+block[dim]], src[so:so+block[dim]])
			return
		}
		for i := 0; i < block[dim]; i++ {
			rec(dim+1, so+i*srcStr[dim], do+i*dstStr[dim])
		}
	}
	rec(0, srcBase, dstBase)
}
