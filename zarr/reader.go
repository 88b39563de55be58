package zarr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/TuSKan/rechunk-gomlx/chunkgrid"
	"github.com/TuSKan/rechunk-gomlx/dataset"
	"github.com/TuSKan/rechunk-gomlx/pattern"
)

// Array is a read handle on one Zarr v2 array.
type Array struct {
	bucket *blob.Bucket
	meta   *Metadata
	dims   []string
}

// OpenArray opens the array stored at the given blob URL (for example
// "file:///tmp/store" or "s3://bucket/store"). The array must carry
// _ARRAY_DIMENSIONS attributes naming its dimensions.
func OpenArray(ctx context.Context, url string) (*Array, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}

	reader, err := bucket.NewReader(ctx, ".zarray", nil)
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("failed to open .zarray: %w", err)
	}
	meta, err := LoadMetadata(reader)
	reader.Close()
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	attrBytes, err := bucket.ReadAll(ctx, ".zattrs")
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("failed to read .zattrs: %w", err)
	}
	attrs, err := loadAttrs(attrBytes)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	if len(attrs.ArrayDimensions) != len(meta.Shape) {
		bucket.Close()
		return nil, fmt.Errorf("%d dimension names for %d-d array",
			len(attrs.ArrayDimensions), len(meta.Shape))
	}

	return &Array{bucket: bucket, meta: meta, dims: attrs.ArrayDimensions}, nil
}

// Metadata returns the array's .zarray metadata.
func (a *Array) Metadata() *Metadata { return a.meta }

// Dims returns the array's dimension names.
func (a *Array) Dims() []string { return slices.Clone(a.dims) }

// Close closes the underlying bucket.
func (a *Array) Close() error { return a.bucket.Close() }

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

// readChunk reads and decompresses a single raw chunk. A missing chunk is
// returned zero-filled (the store's fill value).
func (a *Array) readChunk(ctx context.Context, coords []int, itemSize int) ([]byte, error) {
	key := ChunkKey(coords, ".")

	expected := itemSize
	for _, c := range a.meta.Chunks {
		expected *= c
	}

	raw, err := a.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return make([]byte, expected), nil
		}
		return nil, fmt.Errorf("failed to read chunk %s: %w", key, err)
	}

	if a.meta.Compressor == nil {
		return raw, nil
	}
	switch a.meta.Compressor.ID {
	case "zstd":
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer decoder.Close()
		out, err := decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress chunk %s: %w", key, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compressor: %s", a.meta.Compressor.ID)
	}
}

// ReadFragment reads an n-dimensional region of the array as a fragment.
func (a *Array) ReadFragment(ctx context.Context, start, shape []int) (*dataset.Fragment, error) {
	if len(start) != len(a.meta.Shape) || len(shape) != len(a.meta.Shape) {
		return nil, fmt.Errorf("start and shape must match array dimensionality")
	}
	for i := range a.meta.Shape {
		if start[i] < 0 || shape[i] <= 0 || start[i]+shape[i] > a.meta.Shape[i] {
			return nil, fmt.Errorf("region out of bounds at dimension %d: %w", i, chunkgrid.ErrRange)
		}
	}

	_, itemSize, err := ParseDType(a.meta.DType)
	if err != nil {
		return nil, fmt.Errorf("invalid dtype: %w", err)
	}

	totalElements := 1
	for _, dim := range shape {
		totalElements *= dim
	}
	out := make([]byte, totalElements*itemSize)

	minChunk := make([]int, len(start))
	maxChunk := make([]int, len(start))
	for i := range start {
		minChunk[i] = start[i] / a.meta.Chunks[i]
		maxChunk[i] = (start[i] + shape[i] - 1) / a.meta.Chunks[i]
	}

	dstStrides := strides(shape)
	chunkStrides := strides(a.meta.Chunks)

	var iterateChunks func(dim int, coords []int) error
	iterateChunks = func(dim int, coords []int) error {
		if dim == len(minChunk) {
			chunkData, err := a.readChunk(ctx, coords, itemSize)
			if err != nil {
				return err
			}

			copyShape := make([]int, len(a.meta.Shape))
			srcOffset := make([]int, len(a.meta.Shape))
			dstOffset := make([]int, len(a.meta.Shape))

			for i := range a.meta.Shape {
				chunkStart := coords[i] * a.meta.Chunks[i]
				chunkEnd := min(chunkStart+a.meta.Chunks[i], a.meta.Shape[i])

				intersectStart := max(chunkStart, start[i])
				intersectEnd := min(chunkEnd, start[i]+shape[i])
				if intersectStart >= intersectEnd {
					return nil
				}

				copyShape[i] = intersectEnd - intersectStart
				srcOffset[i] = intersectStart - chunkStart
				dstOffset[i] = intersectStart - start[i]
			}

			copyND(out, dstStrides, dstOffset, chunkData, chunkStrides, srcOffset, copyShape, itemSize)
			return nil
		}

		for i := minChunk[dim]; i <= maxChunk[dim]; i++ {
			coords[dim] = i
			if err := iterateChunks(dim+1, coords); err != nil {
				return err
			}
		}
		return nil
	}

	coords := make([]int, len(minChunk))
	if err := iterateChunks(0, coords); err != nil {
		return nil, err
	}

	data, err := decodeData(a.meta.DType, out)
	if err != nil {
		return nil, err
	}
	return dataset.New(a.dims, shape, data)
}

// copyND recursively copies n-dimensional data from src to dst.
func copyND(
	dst []byte, dstStrides, dstOffset []int,
	src []byte, srcStrides, srcOffset []int,
	copyShape []int, itemSize int,
) {
	startSrcIdx := 0
	startDstIdx := 0
	for i := range copyShape {
		startSrcIdx += srcOffset[i] * srcStrides[i]
		startDstIdx += dstOffset[i] * dstStrides[i]
	}

	var iterate func(dim int, currentSrcIdx, currentDstIdx int)
	iterate = func(dim int, currentSrcIdx, currentDstIdx int) {
		// Bulk copy for the innermost contiguous dimension.
		if dim == len(copyShape)-1 {
			n := copyShape[dim]
			if srcStrides[dim] == 1 && dstStrides[dim] == 1 {
				byteLen := n * itemSize
				srcStart := currentSrcIdx * itemSize
				dstStart := currentDstIdx * itemSize
				copy(dst[dstStart:dstStart+byteLen], src[srcStart:srcStart+byteLen])
				return
			}
			for i := 0; i < n; i++ {
				srcStart := (currentSrcIdx + i*srcStrides[dim]) * itemSize
				dstStart := (currentDstIdx + i*dstStrides[dim]) * itemSize
				copy(dst[dstStart:dstStart+itemSize], src[srcStart:srcStart+itemSize])
			}
			return
		}

		for i := 0; i < copyShape[dim]; i++ {
			iterate(dim+1, currentSrcIdx+i*srcStrides[dim], currentDstIdx+i*dstStrides[dim])
		}
	}
	iterate(0, startSrcIdx, startDstIdx)
}

// decodeData converts little-endian raw bytes into a typed flat slice.
func decodeData(dtype string, raw []byte) (any, error) {
	switch dtype {
	case "<f4":
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case "<f8":
		out := make([]float64, len(raw)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case "<i4":
		out := make([]int32, len(raw)/4)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case "<i8":
		out := make([]int64, len(raw)/8)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported dtype: %s", dtype)
}

// Opener resolves OpenSpecs against Zarr stores: the file identifier is a
// blob URL and subset specs select segments of the stored array.
type Opener struct{}

// Open reads the (possibly subset) array named by spec as one fragment.
// Segment boundaries follow the chunkgrid subset division rule, so an
// opener and an index algebra built on the same pattern always agree.
func (Opener) Open(ctx context.Context, spec pattern.OpenSpec) (*dataset.Fragment, error) {
	arr, err := OpenArray(ctx, spec.FName)
	if err != nil {
		return nil, err
	}
	defer arr.Close()

	start := make([]int, len(arr.meta.Shape))
	shape := slices.Clone(arr.meta.Shape)
	for _, ss := range spec.Subsets {
		d := slices.Index(arr.dims, ss.Dim)
		if d < 0 {
			return nil, fmt.Errorf("subset dimension %q not in array dims %v: %w",
				ss.Dim, arr.dims, pattern.ErrShapeMismatch)
		}
		ax, err := chunkgrid.NewAxis(arr.meta.Shape[d])
		if err != nil {
			return nil, err
		}
		sub, err := ax.Subset(ss.TotalSegments)
		if err != nil {
			return nil, err
		}
		if ss.ThisSegment >= sub.NChunks() {
			return nil, fmt.Errorf("segment %d of %d is empty for %d items on %q: %w",
				ss.ThisSegment, ss.TotalSegments, arr.meta.Shape[d], ss.Dim, chunkgrid.ErrRange)
		}
		sl, err := sub.ChunkIndexToArraySlice(ss.ThisSegment)
		if err != nil {
			return nil, err
		}
		start[d], shape[d] = sl.Start, sl.Stop-sl.Start
	}
	return arr.ReadFragment(ctx, start, shape)
}

func loadAttrs(raw []byte) (*Attrs, error) {
	var attrs Attrs
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attrs: %w", err)
	}
	return &attrs, nil
}
