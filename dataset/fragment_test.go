package dataset_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TuSKan/rechunk-gomlx/chunkgrid"
	"github.com/TuSKan/rechunk-gomlx/dataset"
)

// seq builds a [n0, n1, ...] fragment whose flat values are 0, 1, 2, ...
func seq(t *testing.T, dims []string, shape []int) *dataset.Fragment {
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

func TestNewValidation(t *testing.T) {
	_, err := dataset.New([]string{"x"}, []int{2, 3}, []float32{0})
	require.ErrorIs(t, err, dataset.ErrShape)

	_, err = dataset.New([]string{"x", "x"}, []int{2, 2}, make([]float32, 4))
	require.ErrorIs(t, err, dataset.ErrShape)

	_, err = dataset.New([]string{"x"}, []int{0}, []float32{})
	require.ErrorIs(t, err, dataset.ErrShape)

	_, err = dataset.New([]string{"x"}, []int{3}, make([]float32, 4))
	require.ErrorIs(t, err, dataset.ErrShape)

	_, err = dataset.New([]string{"x"}, []int{2}, []string{"a", "b"})
	require.ErrorIs(t, err, dataset.ErrDType)

	f, err := dataset.New([]string{"time", "lat"}, []int{2, 3}, make([]int64, 6))
	require.NoError(t, err)
	require.Equal(t, "int64", f.DType())
	require.Equal(t, []string{"time", "lat"}, f.Dims())
	require.Equal(t, []int{2, 3}, f.Shape())

	n, ok := f.Size("lat")
	require.True(t, ok)
	require.Equal(t, 3, n)
	_, ok = f.Size("lon")
	require.False(t, ok)
}

func TestIsel(t *testing.T) {
	// 3x4: rows 0..2, cols 0..3, value = row*4 + col.
	f := seq(t, []string{"time", "lat"}, []int{3, 4})

	got, err := f.Isel(map[string]chunkgrid.Slice{"time": {Start: 1, Stop: 3}, "lat": {Start: 1, Stop: 3}})
	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, got.Shape())
	require.Equal(t, []float32{5, 6, 9, 10}, got.Data())

	// Absent dimensions keep their full extent.
	rows, err := f.Isel(map[string]chunkgrid.Slice{"time": {Start: 2, Stop: 3}})
	require.NoError(t, err)
	require.Equal(t, []int{1, 4}, rows.Shape())
	require.Equal(t, []float32{8, 9, 10, 11}, rows.Data())

	// Empty selection is the identity.
	same, err := f.Isel(nil)
	require.NoError(t, err)
	require.True(t, f.Equal(same))

	_, err = f.Isel(map[string]chunkgrid.Slice{"lon": {Start: 0, Stop: 1}})
	require.ErrorIs(t, err, dataset.ErrShape)

	_, err = f.Isel(map[string]chunkgrid.Slice{"lat": {Start: 2, Stop: 2}})
	require.ErrorIs(t, err, chunkgrid.ErrRange)

	_, err = f.Isel(map[string]chunkgrid.Slice{"lat": {Start: 0, Stop: 5}})
	require.ErrorIs(t, err, chunkgrid.ErrRange)
}

func TestConcat(t *testing.T) {
	f := seq(t, []string{"time", "lat"}, []int{3, 4})

	top, err := f.Isel(map[string]chunkgrid.Slice{"time": {Start: 0, Stop: 1}})
	require.NoError(t, err)
	bottom, err := f.Isel(map[string]chunkgrid.Slice{"time": {Start: 1, Stop: 3}})
	require.NoError(t, err)

	back, err := dataset.Concat("time", top, bottom)
	require.NoError(t, err)
	require.True(t, f.Equal(back))

	// Concat along the inner axis interleaves correctly.
	left, err := f.Isel(map[string]chunkgrid.Slice{"lat": {Start: 0, Stop: 1}})
	require.NoError(t, err)
	right, err := f.Isel(map[string]chunkgrid.Slice{"lat": {Start: 1, Stop: 4}})
	require.NoError(t, err)
	back, err = dataset.Concat("lat", left, right)
	require.NoError(t, err)
	require.True(t, f.Equal(back))

	// Mismatched off-axis lengths are rejected.
	_, err = dataset.Concat("time", top, left)
	require.ErrorIs(t, err, dataset.ErrShape)

	_, err = dataset.Concat("lon", top, bottom)
	require.ErrorIs(t, err, dataset.ErrShape)

	_, err = dataset.Concat("time")
	require.ErrorIs(t, err, dataset.ErrShape)
}

func TestTensorExport(t *testing.T) {
	f := seq(t, []string{"time", "lat"}, []int{2, 3})

	tensor := f.Tensor()
	require.NotNil(t, tensor)
	require.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	require.Equal(t, [][]float32{{0, 1, 2}, {3, 4, 5}}, tensor.Value().([][]float32))
}

func TestEqual(t *testing.T) {
	a := seq(t, []string{"x"}, []int{4})
	b := seq(t, []string{"x"}, []int{4})
	require.True(t, a.Equal(b))

	c := seq(t, []string{"y"}, []int{4})
	require.False(t, a.Equal(c))

	d, err := dataset.New([]string{"x"}, []int{4}, []float64{0, 1, 2, 3})
	require.NoError(t, err)
	require.False(t, a.Equal(d))
}
