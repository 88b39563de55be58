package zarr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDType(t *testing.T) {
	tests := []struct {
		dtype string
		name  string
		size  int
	}{
		{"<f4", "float32", 4},
		{"<f8", "float64", 8},
		{"<i4", "int32", 4},
		{"<i8", "int64", 8},
		{"<u2", "uint16", 2},
		{"|b1", "bool", 1},
		{"<c16", "complex128", 16},
	}
	for _, tt := range tests {
		name, size, err := ParseDType(tt.dtype)
		require.NoError(t, err, tt.dtype)
		require.Equal(t, tt.name, name)
		require.Equal(t, tt.size, size)
	}

	for _, bad := range []string{"", "<f", ">f4", "<x4", "<fx"} {
		_, _, err := ParseDType(bad)
		require.Error(t, err, bad)
	}
}

func TestFormatDType(t *testing.T) {
	for name, want := range map[string]string{
		"float32": "<f4",
		"float64": "<f8",
		"int32":   "<i4",
		"int64":   "<i8",
	} {
		got, err := FormatDType(name)
		require.NoError(t, err)
		require.Equal(t, want, got)

		// ParseDType inverts FormatDType.
		back, _, err := ParseDType(got)
		require.NoError(t, err)
		require.Equal(t, name, back)
	}

	_, err := FormatDType("uint8")
	require.Error(t, err)
}

func TestLoadMetadata(t *testing.T) {
	const raw = `{
		"zarr_format": 2,
		"shape": [20, 6],
		"chunks": [5, 3],
		"dtype": "<f4",
		"compressor": {"id": "zstd"},
		"fill_value": 0.0,
		"order": "C"
	}`
	meta, err := LoadMetadata(strings.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, []int{20, 6}, meta.Shape)
	require.Equal(t, []int{5, 3}, meta.Chunks)
	require.Equal(t, "<f4", meta.DType)
	require.Equal(t, "zstd", meta.Compressor.ID)
}

func TestLoadMetadataRejectsV3(t *testing.T) {
	_, err := LoadMetadata(strings.NewReader(`{"zarr_format": 3}`))
	require.Error(t, err)
}

func TestGridShape(t *testing.T) {
	require.Equal(t, []int{4, 2}, GridShape([]int{20, 6}, []int{5, 3}))
	require.Equal(t, []int{3}, GridShape([]int{10}, []int{4}))
	require.Equal(t, []int{1}, GridShape([]int{3}, []int{10}))
	require.Equal(t, []int{}, GridShape(nil, nil))
}

func TestChunkKey(t *testing.T) {
	require.Equal(t, "0", ChunkKey(nil, "."))
	require.Equal(t, "7", ChunkKey([]int{7}, "."))
	require.Equal(t, "1.4", ChunkKey([]int{1, 4}, "."))
	require.Equal(t, "1/4/0", ChunkKey([]int{1, 4, 0}, "/"))
}
