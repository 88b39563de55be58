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

	"github.com/TuSKan/rechunk-gomlx/chunkgrid"
	"github.com/TuSKan/rechunk-gomlx/dataset"
)

// Store writes destination chunks into a Zarr v2 store. One array is
// created per merged variable (the root array when the variable is "").
// Chunks are zstd-compressed and named with the Zarr v2 "." separator.
// Not safe for concurrent use; a rechunk pipeline writes from a single
// goroutine.
type Store struct {
	bucket    *blob.Bucket
	dims      []string
	shape     []int
	chunks    []int
	gridShape []int
	dtype     string
	encoder   *zstd.Encoder
	created   map[string]bool
}

// NewStore opens (or creates) a store at the given blob URL for arrays
// with the given dimension order and element type. Every dimension must
// appear in the target chunking spec.
func NewStore(ctx context.Context, url string, dims []string, target map[string]chunkgrid.Dim, dtypeName string) (*Store, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("store needs at least one dimension: %w", chunkgrid.ErrConstruction)
	}
	dtype, err := FormatDType(dtypeName)
	if err != nil {
		return nil, err
	}
	shape := make([]int, len(dims))
	chunks := make([]int, len(dims))
	for i, dim := range dims {
		spec, ok := target[dim]
		if !ok {
			return nil, fmt.Errorf("dimension %q missing from target spec: %w", dim, chunkgrid.ErrUnknownDim)
		}
		if spec.ChunkSize <= 0 || spec.Length <= 0 {
			return nil, fmt.Errorf("dimension %q: chunk %d over length %d: %w",
				dim, spec.ChunkSize, spec.Length, chunkgrid.ErrConstruction)
		}
		shape[i] = spec.Length
		chunks[i] = min(spec.ChunkSize, spec.Length)
	}

	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	return &Store{
		bucket:    bucket,
		dims:      slices.Clone(dims),
		shape:     shape,
		chunks:    chunks,
		gridShape: GridShape(shape, chunks),
		dtype:     dtype,
		encoder:   encoder,
		created:   make(map[string]bool),
	}, nil
}

// Dims returns the store's dimension order.
func (s *Store) Dims() []string { return slices.Clone(s.dims) }

// NChunks returns the number of chunks along each dimension.
func (s *Store) NChunks() []int { return slices.Clone(s.gridShape) }

func (s *Store) ensureArray(ctx context.Context, variable string) error {
	if s.created[variable] {
		return nil
	}
	prefix := ""
	if variable != "" {
		prefix = variable + "/"
	}
	meta := Metadata{
		ZarrFormat: 2,
		Shape:      s.shape,
		Chunks:     s.chunks,
		DType:      s.dtype,
		Compressor: &CompressorConfig{ID: "zstd"},
		FillValue:  0.0,
		Order:      "C",
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, prefix+".zarray", metaBytes, nil); err != nil {
		return fmt.Errorf("failed to write .zarray: %w", err)
	}
	attrBytes, err := json.Marshal(Attrs{ArrayDimensions: s.dims})
	if err != nil {
		return fmt.Errorf("failed to encode attrs: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, prefix+".zattrs", attrBytes, nil); err != nil {
		return fmt.Errorf("failed to write .zattrs: %w", err)
	}
	s.created[variable] = true
	return nil
}

// WriteChunk writes one destination chunk. coords maps split dimensions to
// chunk ordinals; dimensions absent from coords must have a single chunk.
// The fragment's dims and shape must match the chunk's exact extent,
// including a shorter trailing chunk.
func (s *Store) WriteChunk(ctx context.Context, variable string, coords map[string]int, frag *dataset.Fragment) error {
	indices := make([]int, len(s.dims))
	expected := make([]int, len(s.dims))
	for dim := range coords {
		if !slices.Contains(s.dims, dim) {
			return fmt.Errorf("dimension %q: %w", dim, chunkgrid.ErrUnknownDim)
		}
	}
	for i, dim := range s.dims {
		c, ok := coords[dim]
		if !ok {
			if s.gridShape[i] != 1 {
				return fmt.Errorf("dimension %q has %d chunks but no coordinate: %w",
					dim, s.gridShape[i], chunkgrid.ErrRange)
			}
			c = 0
		}
		if c < 0 || c >= s.gridShape[i] {
			return fmt.Errorf("chunk coordinate %d for %q outside [0, %d): %w",
				c, dim, s.gridShape[i], chunkgrid.ErrRange)
		}
		indices[i] = c
		expected[i] = min(s.chunks[i], s.shape[i]-c*s.chunks[i])
	}
	if !slices.Equal(frag.Dims(), s.dims) {
		return fmt.Errorf("fragment dims %v, store dims %v: %w", frag.Dims(), s.dims, dataset.ErrShape)
	}
	if !slices.Equal(frag.Shape(), expected) {
		return fmt.Errorf("fragment shape %v, chunk %v needs %v: %w",
			frag.Shape(), indices, expected, dataset.ErrShape)
	}
	if got, err := FormatDType(frag.DType()); err != nil || got != s.dtype {
		return fmt.Errorf("fragment dtype %s, store dtype %s: %w", frag.DType(), s.dtype, dataset.ErrDType)
	}

	if err := s.ensureArray(ctx, variable); err != nil {
		return err
	}

	raw, err := encodeData(frag.Data())
	if err != nil {
		return err
	}
	// Ragged edge chunks are stored padded to the full chunk shape.
	if !slices.Equal(expected, s.chunks) {
		_, itemSize, err := ParseDType(s.dtype)
		if err != nil {
			return err
		}
		n := itemSize
		for _, c := range s.chunks {
			n *= c
		}
		full := make([]byte, n)
		zero := make([]int, len(s.chunks))
		copyND(full, strides(s.chunks), zero, raw, strides(expected), zero, expected, itemSize)
		raw = full
	}
	key := ChunkKey(indices, ".")
	if variable != "" {
		key = variable + "/" + key
	}
	if err := s.bucket.WriteAll(ctx, key, s.encoder.EncodeAll(raw, nil), nil); err != nil {
		return fmt.Errorf("failed to write chunk %s: %w", key, err)
	}
	return nil
}

// Close releases the encoder and the bucket.
func (s *Store) Close() error {
	s.encoder.Close()
	return s.bucket.Close()
}

// encodeData converts a typed flat slice into little-endian raw bytes.
func encodeData(data any) ([]byte, error) {
	switch v := data.(type) {
	case []float32:
		out := make([]byte, 4*len(v))
		for i, f := range v {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
		}
		return out, nil
	case []float64:
		out := make([]byte, 8*len(v))
		for i, f := range v {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(f))
		}
		return out, nil
	case []int32:
		out := make([]byte, 4*len(v))
		for i, n := range v {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(n))
		}
		return out, nil
	case []int64:
		out := make([]byte, 8*len(v))
		for i, n := range v {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(n))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported payload type %T", data)
}
