package results

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/BossBobxuan/dsst-eval/internal/config"
	"github.com/BossBobxuan/dsst-eval/internal/fsutil"
)

var marker15 = config.MarkerSize{Height: 15, Width: 15}

func sampleMatrix() *mat.Dense {
	return mat.NewDense(3, 6, []float64{
		0, 10, 20, 10, 20, 1,
		1, math.NaN(), math.NaN(), 11.5, 21, 1.05,
		2, 12, 22, 0.1, 1e-7, 0.9523809523809523,
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(fsutil.NewMemoryFileSystem())
	m := sampleMatrix()

	path, err := store.Save(m, "/out", "bus", 7, marker15)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "bus", "tracks", "DSST_15x15", "track.007.csv"), path)

	loaded, err := store.Load("/out", "bus", marker15)
	require.NoError(t, err)
	require.Contains(t, loaded, "track.007.csv")

	got := loaded["track.007.csv"]
	r, c := got.Dims()
	require.Equal(t, 3, r)
	require.Equal(t, 6, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			want := m.At(i, j)
			if math.IsNaN(want) {
				assert.True(t, math.IsNaN(got.At(i, j)), "(%d,%d)", i, j)
				continue
			}
			assert.Equal(t, want, got.At(i, j), "(%d,%d)", i, j)
		}
	}
}

func TestSaveIsDeterministic(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	store := NewStore(fs)

	path, err := store.Save(sampleMatrix(), "/out", "bus", 0, marker15)
	require.NoError(t, err)
	first, err := fs.ReadFile(path)
	require.NoError(t, err)

	_, err = store.Save(sampleMatrix(), "/out", "bus", 0, marker15)
	require.NoError(t, err)
	second, err := fs.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "0,10,20,10,20,1\n1,nan,nan,11.5,21,1.05\n2,12,22,0.1,1e-07,0.9523809523809523\n", string(first))
}

func TestSaveNilWritesEmptyFile(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	store := NewStore(fs)

	path, err := store.Save(nil, "/out", "bus", 2, marker15)
	require.NoError(t, err)
	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)

	loaded, err := store.Load("/out", "bus", marker15)
	require.NoError(t, err)
	m, ok := loaded["track.002.csv"]
	assert.True(t, ok)
	assert.Nil(t, m)
}

func TestSaveNilDenseWritesEmptyFile(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	var m *mat.Dense

	path, err := NewStore(fs).Save(m, "/out", "bus", 3, marker15)
	require.NoError(t, err)
	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestSaveRejectsEscapingDataset(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	_, err := NewStore(fs).Save(sampleMatrix(), "/out", "../elsewhere", 0, marker15)
	require.Error(t, err)
	assert.False(t, fs.Exists(filepath.Join("/elsewhere", "tracks")))
}

func TestLoadMissingDirectory(t *testing.T) {
	loaded, err := NewStore(fsutil.NewMemoryFileSystem()).Load("/out", "bus", marker15)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadMalformed(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	dir := Dir("/out", "bus", marker15)
	require.NoError(t, fs.MkdirAll(dir, 0755))
	require.NoError(t, fs.WriteFile(filepath.Join(dir, "track.001.csv"), []byte("0,1,2\n1,x,2\n"), 0644))

	_, err := NewStore(fs).Load("/out", "bus", marker15)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "track.001.csv")
}

func TestParseMatrixRagged(t *testing.T) {
	_, err := ParseMatrix([]byte("1,2,3\n4,5\n"))
	assert.Error(t, err)
}

func TestTrackNumber(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"track.000.csv", 0, false},
		{"track.042.csv", 42, false},
		{"/out/bus/tracks/DSST_9x9/track.1234.csv", 1234, false},
		{"track.abc.csv", 0, true},
		{"errors.csv", 0, true},
		{"track.001.txt", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TrackNumber(tc.name)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
	assert.Equal(t, "track.005.csv", FileName(5))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "nan", FormatFloat(math.NaN()))
	assert.Equal(t, "inf", FormatFloat(math.Inf(1)))
	assert.Equal(t, "-inf", FormatFloat(math.Inf(-1)))
	assert.Equal(t, "3", FormatFloat(3))
	assert.Equal(t, "0.30000000000000004", FormatFloat(0.1+0.2))
}
