package zarr_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	_ "gocloud.dev/blob/fileblob"

	"github.com/TuSKan/rechunk-gomlx/chunkgrid"
	"github.com/TuSKan/rechunk-gomlx/dataset"
	"github.com/TuSKan/rechunk-gomlx/pattern"
	"github.com/TuSKan/rechunk-gomlx/zarr"
)

func seqFragment(t *testing.T, dims []string, shape []int) *dataset.Fragment {
	t.Helper()
	n := 1
	for _, s := range shape {
		n *= s
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i)
	}
	f, err := dataset.New(dims, shape, data)
	require.NoError(t, err)
	return f
}

// writeSeqArray writes a 5x3 sequence array chunked (2, 3) along
// (time, lat), so the final time chunk is ragged.
func writeSeqArray(t *testing.T, ctx context.Context, url string) *dataset.Fragment {
	t.Helper()
	target := map[string]chunkgrid.Dim{
		"time": {ChunkSize: 2, Length: 5},
		"lat":  {ChunkSize: 3, Length: 3},
	}
	store, err := zarr.NewStore(ctx, url, []string{"time", "lat"}, target, "float32")
	require.NoError(t, err)
	defer store.Close()

	global := seqFragment(t, []string{"time", "lat"}, []int{5, 3})
	for c := range 3 {
		stop := min((c+1)*2, 5)
		frag, err := global.Isel(map[string]chunkgrid.Slice{"time": {Start: c * 2, Stop: stop}})
		require.NoError(t, err)
		require.NoError(t, store.WriteChunk(ctx, "", map[string]int{"time": c}, frag))
	}
	return global
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	url := "file://" + t.TempDir()
	global := writeSeqArray(t, ctx, url)

	arr, err := zarr.OpenArray(ctx, url)
	require.NoError(t, err)
	defer arr.Close()

	require.Equal(t, []string{"time", "lat"}, arr.Dims())
	require.Equal(t, []int{5, 3}, arr.Metadata().Shape)
	require.Equal(t, []int{2, 3}, arr.Metadata().Chunks)
	require.Equal(t, "<f4", arr.Metadata().DType)

	full, err := arr.ReadFragment(ctx, []int{0, 0}, []int{5, 3})
	require.NoError(t, err)
	require.True(t, global.Equal(full))
}

// TestStoreReadRegion reads a window that crosses a chunk boundary and ends
// inside the ragged final chunk.
func TestStoreReadRegion(t *testing.T) {
	ctx := context.Background()
	url := "file://" + t.TempDir()
	global := writeSeqArray(t, ctx, url)

	arr, err := zarr.OpenArray(ctx, url)
	require.NoError(t, err)
	defer arr.Close()

	got, err := arr.ReadFragment(ctx, []int{1, 1}, []int{4, 2})
	require.NoError(t, err)
	want, err := global.Isel(map[string]chunkgrid.Slice{
		"time": {Start: 1, Stop: 5},
		"lat":  {Start: 1, Stop: 3},
	})
	require.NoError(t, err)
	require.True(t, want.Equal(got))

	_, err = arr.ReadFragment(ctx, []int{3, 0}, []int{3, 3})
	require.ErrorIs(t, err, chunkgrid.ErrRange)
}

// TestStoreMissingChunk checks that an absent chunk reads back as the fill
// value rather than an error.
func TestStoreMissingChunk(t *testing.T) {
	ctx := context.Background()
	url := "file://" + t.TempDir()
	target := map[string]chunkgrid.Dim{"time": {ChunkSize: 2, Length: 4}}
	store, err := zarr.NewStore(ctx, url, []string{"time"}, target, "float32")
	require.NoError(t, err)

	frag, err := dataset.New([]string{"time"}, []int{2}, []float32{7, 8})
	require.NoError(t, err)
	require.NoError(t, store.WriteChunk(ctx, "", map[string]int{"time": 0}, frag))
	require.NoError(t, store.Close())

	arr, err := zarr.OpenArray(ctx, url)
	require.NoError(t, err)
	defer arr.Close()

	got, err := arr.ReadFragment(ctx, []int{0}, []int{4})
	require.NoError(t, err)
	require.Equal(t, []float32{7, 8, 0, 0}, got.Data())
}

func TestStoreVariables(t *testing.T) {
	ctx := context.Background()
	url := "file://" + t.TempDir()
	target := map[string]chunkgrid.Dim{"time": {ChunkSize: 3, Length: 3}}
	store, err := zarr.NewStore(ctx, url, []string{"time"}, target, "float32")
	require.NoError(t, err)

	for _, v := range []string{"foo", "bar"} {
		frag, err := dataset.New([]string{"time"}, []int{3}, []float32{1, 2, 3})
		require.NoError(t, err)
		require.NoError(t, store.WriteChunk(ctx, v, nil, frag))
	}
	require.NoError(t, store.Close())

	for _, v := range []string{"foo", "bar"} {
		arr, err := zarr.OpenArray(ctx, url+"/"+v)
		require.NoError(t, err)
		got, err := arr.ReadFragment(ctx, []int{0}, []int{3})
		require.NoError(t, err)
		require.Equal(t, []float32{1, 2, 3}, got.Data())
		require.NoError(t, arr.Close())
	}
}

func TestStoreWriteChunkValidation(t *testing.T) {
	ctx := context.Background()
	target := map[string]chunkgrid.Dim{
		"time": {ChunkSize: 2, Length: 5},
		"lat":  {ChunkSize: 3, Length: 3},
	}
	store, err := zarr.NewStore(ctx, "file://"+t.TempDir(), []string{"time", "lat"}, target, "float32")
	require.NoError(t, err)
	defer store.Close()

	// Wrong extent for chunk 0.
	bad := seqFragment(t, []string{"time", "lat"}, []int{3, 3})
	err = store.WriteChunk(ctx, "", map[string]int{"time": 0}, bad)
	require.ErrorIs(t, err, dataset.ErrShape)

	// Unknown coordinate dimension.
	good := seqFragment(t, []string{"time", "lat"}, []int{2, 3})
	err = store.WriteChunk(ctx, "", map[string]int{"depth": 0}, good)
	require.ErrorIs(t, err, chunkgrid.ErrUnknownDim)

	// Chunk ordinal out of range.
	err = store.WriteChunk(ctx, "", map[string]int{"time": 3}, good)
	require.ErrorIs(t, err, chunkgrid.ErrRange)

	// Element type mismatch.
	ints, err := dataset.New([]string{"time", "lat"}, []int{2, 3}, []int64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	err = store.WriteChunk(ctx, "", map[string]int{"time": 0}, ints)
	require.ErrorIs(t, err, dataset.ErrDType)

	// Missing dimension in the target spec.
	_, err = zarr.NewStore(ctx, "file://"+t.TempDir(), []string{"time", "lon"}, target, "float32")
	require.ErrorIs(t, err, chunkgrid.ErrUnknownDim)
}

// TestOpenerSubsets checks that subset specs select the same segment
// boundaries the index algebra computes: 5 items over 2 segments divide
// (2, 3), smaller segments first.
func TestOpenerSubsets(t *testing.T) {
	ctx := context.Background()
	url := "file://" + t.TempDir()
	global := writeSeqArray(t, ctx, url)

	var opener zarr.Opener
	whole, err := opener.Open(ctx, pattern.OpenSpec{FName: url})
	require.NoError(t, err)
	require.True(t, global.Equal(whole))

	for seg, want := range [][2]int{{0, 2}, {2, 5}} {
		got, err := opener.Open(ctx, pattern.OpenSpec{
			FName:   url,
			Subsets: []pattern.SubsetSpec{{Dim: "time", ThisSegment: seg, TotalSegments: 2}},
		})
		require.NoError(t, err)
		w, err := global.Isel(map[string]chunkgrid.Slice{"time": {Start: want[0], Stop: want[1]}})
		require.NoError(t, err)
		require.True(t, w.Equal(got), "segment %d", seg)
	}

	_, err = opener.Open(ctx, pattern.OpenSpec{
		FName:   url,
		Subsets: []pattern.SubsetSpec{{Dim: "depth", ThisSegment: 0, TotalSegments: 2}},
	})
	require.ErrorIs(t, err, pattern.ErrShapeMismatch)
}
