package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/BossBobxuan/dsst-eval/internal/config"
	"github.com/BossBobxuan/dsst-eval/internal/db"
	"github.com/BossBobxuan/dsst-eval/internal/frames"
	"github.com/BossBobxuan/dsst-eval/internal/fsutil"
	"github.com/BossBobxuan/dsst-eval/internal/groundtruth"
	"github.com/BossBobxuan/dsst-eval/internal/monitoring"
	"github.com/BossBobxuan/dsst-eval/internal/results"
	"github.com/BossBobxuan/dsst-eval/internal/testutil"
	"github.com/BossBobxuan/dsst-eval/internal/tracking"
)

const frameHeight = 20

var (
	marker9  = config.MarkerSize{Height: 9, Width: 9}
	marker15 = config.MarkerSize{Height: 15, Width: 15}
	marker21 = config.MarkerSize{Height: 21, Width: 21}
)

// stationaryTracker reports the initial position on every frame.
type stationaryTracker struct {
	pos groundtruth.Position
}

func (s *stationaryTracker) Initialize(_ *mat.Dense, target groundtruth.Position) error {
	s.pos = target
	return nil
}

func (s *stationaryTracker) Update(_ *mat.Dense) (groundtruth.Position, float64, error) {
	return s.pos, 1, nil
}

func stationaryFactory(config.MarkerSize) (tracking.Tracker, error) {
	return &stationaryTracker{}, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	runs      []*db.RunRecord
	summaries []*db.ErrorSummary
}

func (f *fakeRecorder) RecordRun(_ context.Context, rec *db.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, rec)
	return nil
}

func (f *fakeRecorder) RecordErrorSummary(_ context.Context, s *db.ErrorSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

const datasetYAML = `
bus:
  drivers: [0]
  minframe_threshold: 0
  maxframe_threshold: 5
  mintest_threshold: 5
  maxtest_threshold: 10
`

// newFixture builds an orchestrator over an in-memory dataset "bus" with
// ten blank frames and two tracks. Track 0 moves one column per frame
// along row 10; track 1 sits at (10, 0) from frame 2 on.
func newFixture(t *testing.T, yamlConfig string) (*Orchestrator, *fsutil.MemoryFileSystem, *fakeRecorder) {
	t.Helper()
	monitoring.SetOutput(io.Discard, zerolog.Disabled)

	fs := fsutil.NewMemoryFileSystem()
	var moving, still []testutil.GTRow
	for f := 0; f < 10; f++ {
		moving = append(moving, testutil.GTRow{Frame: f, X: float64(f), Y: 10})
		if f >= 2 {
			still = append(still, testutil.GTRow{Frame: f, X: 0, Y: 10})
		}
	}
	for _, ds := range []string{"bus", "car"} {
		testutil.WriteTrack(t, fs, "/data", ds, "B_man", "t.000.csv", moving)
		testutil.WriteTrack(t, fs, "/data", ds, "B_man", "t.001.csv", still)
	}

	datasets, err := config.ParseDatasetConfig([]byte(yamlConfig))
	require.NoError(t, err)

	root, out, workers := "/data", "/out", 2
	cfg := &config.EvalConfig{RootDir: &root, OutRootDir: &out, MaxWorkers: &workers}
	o := NewOrchestrator(cfg, datasets, fs, stationaryFactory)
	o.OpenFrames = func(string) (frames.Source, error) {
		src := make(frames.Slice, 10)
		for i := range src {
			src[i] = mat.NewDense(frameHeight, frameHeight, nil)
		}
		return src, nil
	}
	rec := &fakeRecorder{}
	o.Recorder = rec
	return o, fs, rec
}

func TestEvaluateDataset_WritesResults(t *testing.T) {
	o, fs, rec := newFixture(t, datasetYAML)
	ctx := context.Background()

	require.NoError(t, o.EvaluateDataset(ctx, "bus", marker9))

	loaded, err := o.Results.Load("/out", "bus", marker9)
	require.NoError(t, err)
	require.Len(t, loaded, 2, "driver 0 and default predict track 1")

	m := loaded["track.000.csv"]
	require.NotNil(t, m)
	r, c := m.Dims()
	assert.Equal(t, 10, r)
	assert.Equal(t, tracking.RowWidth, c)
	// Test window restarts the tracker at frame 5.
	assert.Equal(t, []float64{5, 10, 5, 10, 5, 1}, mat.Row(nil, 5, m))
	assert.Equal(t, []float64{9, 10, 9, 10, 5, 1}, mat.Row(nil, 9, m))

	m = loaded["track.001.csv"]
	r, _ = m.Dims()
	assert.Equal(t, 8, r, "train starts at first label 2")

	assert.Len(t, rec.runs, 4)
	assert.Equal(t, "bus", rec.runs[0].Dataset)
	assert.Equal(t, "9x9", rec.runs[0].MarkerSize)
	assert.Equal(t, "[0, 5)", rec.runs[0].Window)
	assert.Equal(t, string(tracking.StateCompleted), rec.runs[0].State)
	require.NotNil(t, rec.runs[2].StartFrame)
	assert.Equal(t, 2, *rec.runs[2].StartFrame)

	assert.True(t, fs.Exists("/out/bus/tracks/DSST_9x9/track.001.csv"))
}

func TestEvaluateDataset_Idempotent(t *testing.T) {
	o, fs, _ := newFixture(t, datasetYAML)
	ctx := context.Background()
	path := "/out/bus/tracks/DSST_9x9/track.000.csv"

	require.NoError(t, o.EvaluateDataset(ctx, "bus", marker9))
	first, err := fs.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, o.EvaluateDataset(ctx, "bus", marker9))
	second, err := fs.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEvaluateDataset_EmptyDrivers(t *testing.T) {
	o, fs, rec := newFixture(t, "bus:\n  drivers: []\n")
	called := false
	o.NewTracker = func(config.MarkerSize) (tracking.Tracker, error) {
		called = true
		return &stationaryTracker{}, nil
	}

	err := o.EvaluateDataset(context.Background(), "bus", marker9)
	var ce *config.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "bus", ce.Dataset)
	assert.False(t, called)
	assert.Empty(t, rec.runs)
	assert.False(t, fs.Exists(results.Dir("/out", "bus", marker9)))
}

func TestEvaluateDataset_MissingTrack(t *testing.T) {
	o, _, _ := newFixture(t, "bus:\n  drivers: [7]\n")
	err := o.EvaluateDataset(context.Background(), "bus", marker9)
	assert.ErrorIs(t, err, groundtruth.ErrNotFound)
}

func TestEvaluateDataset_ExplicitPredict(t *testing.T) {
	o, _, _ := newFixture(t, "bus:\n  drivers: [1]\n  predict: [1]\n")
	require.NoError(t, o.EvaluateDataset(context.Background(), "bus", marker9))

	loaded, err := o.Results.Load("/out", "bus", marker9)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	assert.Contains(t, loaded, "track.001.csv")
}

func TestEvaluateDataset_TrackWithoutLabelsInWindows(t *testing.T) {
	// Track 1 is labelled from frame 2 on, after both windows.
	o, fs, rec := newFixture(t, `
bus:
  drivers: [1]
  predict: [1]
  minframe_threshold: 0
  maxframe_threshold: 1
  mintest_threshold: 1
  maxtest_threshold: 2
`)
	ctx := context.Background()

	require.NotPanics(t, func() {
		require.NoError(t, o.EvaluateDataset(ctx, "bus", marker9))
	})

	data, err := fs.ReadFile("/out/bus/tracks/DSST_9x9/track.001.csv")
	require.NoError(t, err)
	assert.Empty(t, data)

	require.Len(t, rec.runs, 2)
	for _, run := range rec.runs {
		assert.Equal(t, string(tracking.StateCompleted), run.State)
		assert.Zero(t, run.Steps)
		assert.Nil(t, run.StartFrame)
	}

	tables, err := o.ErrorTable(ctx, []config.MarkerSize{marker9}, CategoryAll, TrackTypeAll)
	require.NoError(t, err)
	require.Contains(t, tables, "bus")
	assert.Empty(t, tables["bus"].Columns)
	assert.Empty(t, tables["bus"].Frames)
}

func TestTrackAll_ContinuesPastFailingDataset(t *testing.T) {
	o, _, _ := newFixture(t, datasetYAML+"car:\n  drivers: []\n")

	err := o.TrackAll(context.Background(), []config.MarkerSize{marker9, marker15})
	require.Error(t, err)

	var de *DatasetError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "car", de.Dataset)
	var ce *config.ConfigurationError
	assert.ErrorAs(t, err, &ce)

	for _, m := range []config.MarkerSize{marker9, marker15} {
		loaded, err := o.Results.Load("/out", "bus", m)
		require.NoError(t, err)
		assert.Len(t, loaded, 2, "marker %s", m)
	}
}

func TestTrackAll_Success(t *testing.T) {
	o, _, rec := newFixture(t, datasetYAML+"car:\n  drivers: [1]\n")
	require.NoError(t, o.TrackAll(context.Background(), []config.MarkerSize{marker9}))
	assert.Len(t, rec.runs, 8)
}

func TestTrackAll_RespectsMaxWorkers(t *testing.T) {
	names := []string{"bus", "car", "tram", "van", "bike", "cart"}
	var yamlConfig string
	for _, name := range names {
		yamlConfig += name + ":\n  drivers: [0]\n"
	}
	o, fs, _ := newFixture(t, yamlConfig)
	for _, name := range names[2:] {
		testutil.WriteTrack(t, fs, "/data", name, "B_man", "t.000.csv",
			[]testutil.GTRow{{Frame: 0, X: 1, Y: 10}, {Frame: 1, X: 2, Y: 10}})
	}

	var mu sync.Mutex
	inFlight, peak := 0, 0
	open := o.OpenFrames
	o.OpenFrames = func(dataset string) (frames.Source, error) {
		mu.Lock()
		inFlight++
		peak = max(peak, inFlight)
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return open(dataset)
	}

	require.NoError(t, o.TrackAll(context.Background(), []config.MarkerSize{marker9}))
	assert.GreaterOrEqual(t, peak, 1)
	assert.LessOrEqual(t, peak, o.MaxWorkers)
	for _, name := range names {
		assert.True(t, fs.Exists("/out/"+name+"/tracks/DSST_9x9/track.000.csv"), name)
	}
}

func TestErrorTable(t *testing.T) {
	o, _, rec := newFixture(t, datasetYAML)
	ctx := context.Background()
	require.NoError(t, o.TrackAll(ctx, []config.MarkerSize{marker9, marker15}))

	markers := []config.MarkerSize{marker9, marker15, marker21}
	tests := []struct {
		name      string
		category  Category
		trackType TrackType
		frames    []int
		values    []float64
	}{
		{
			name: "all tracks", category: CategoryAll, trackType: TrackTypeAll,
			frames: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
			values: []float64{0, 0.5, 2, 4.5, 8, 0, 0.5, 2, 4.5, 8},
		},
		{
			name: "drivers", category: CategoryAll, trackType: TrackTypeDrivers,
			frames: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
			values: []float64{0, 1, 4, 9, 16, 0, 1, 4, 9, 16},
		},
		{
			name: "predict", category: CategoryAll, trackType: TrackTypePredict,
			frames: []int{2, 3, 4, 5, 6, 7, 8, 9},
			values: []float64{0, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "train rows", category: CategoryTrain, trackType: TrackTypeDrivers,
			frames: []int{0, 1, 2, 3, 4},
			values: []float64{0, 1, 4, 9, 16},
		},
		{
			name: "test rows", category: CategoryTest, trackType: TrackTypeAll,
			frames: []int{5, 6, 7, 8, 9},
			values: []float64{0, 0.5, 2, 4.5, 8},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tables, err := o.ErrorTable(ctx, markers, tc.category, tc.trackType)
			require.NoError(t, err)
			require.Contains(t, tables, "bus")

			table := tables["bus"]
			assert.Equal(t, []string{"9x9", "15x15"}, table.Columns, "21x21 has no results")
			assert.Equal(t, tc.frames, table.Frames)
			for _, name := range table.Columns {
				col, _ := table.Column(name)
				assert.Equal(t, tc.values, col, name)
			}
		})
	}

	assert.NotEmpty(t, rec.summaries)
	last := rec.summaries[len(rec.summaries)-1]
	assert.Equal(t, "test", last.Category)
	assert.Equal(t, 5, last.Frames)
	assert.InDelta(t, 3.0, last.MeanError, 1e-12)
}

func TestErrorTable_InvalidDatasetSkipped(t *testing.T) {
	o, _, _ := newFixture(t, datasetYAML+"car:\n  drivers: []\n")
	ctx := context.Background()
	_ = o.TrackAll(ctx, []config.MarkerSize{marker9})

	tables, err := o.ErrorTable(ctx, []config.MarkerSize{marker9}, CategoryAll, TrackTypeAll)
	var ce *config.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "car", ce.Dataset)
	assert.Contains(t, tables, "bus")
	assert.NotContains(t, tables, "car")
}

func TestErrorTable_NoResults(t *testing.T) {
	o, _, _ := newFixture(t, datasetYAML)
	tables, err := o.ErrorTable(context.Background(), []config.MarkerSize{marker9}, CategoryAll, TrackTypeAll)
	require.NoError(t, err)
	assert.Empty(t, tables["bus"].Columns)
	assert.Empty(t, tables["bus"].Frames)
}

func TestErrorTable_UnknownSelectors(t *testing.T) {
	o, _, _ := newFixture(t, datasetYAML)
	ctx := context.Background()

	_, err := o.ErrorTable(ctx, []config.MarkerSize{marker9}, "bogus", TrackTypeAll)
	assert.Error(t, err)
	_, err = o.ErrorTable(ctx, []config.MarkerSize{marker9}, CategoryAll, "bogus")
	assert.Error(t, err)
}

func TestWriteTables(t *testing.T) {
	o, fs, _ := newFixture(t, datasetYAML)
	ctx := context.Background()
	require.NoError(t, o.TrackAll(ctx, []config.MarkerSize{marker9}))

	tables, err := o.ErrorTable(ctx, []config.MarkerSize{marker9}, CategoryTrain, TrackTypeDrivers)
	require.NoError(t, err)

	paths, err := WriteTables(fs, tables, "/out", "train")
	require.NoError(t, err)
	require.Equal(t, []string{"/out/bus/errors_train.csv"}, paths)

	data, err := fs.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "frame,9x9\n0,0\n1,1\n2,4\n3,9\n4,16\n", string(data))
}

func TestTrackAll_Cancelled(t *testing.T) {
	o, _, _ := newFixture(t, datasetYAML)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := o.TrackAll(ctx, []config.MarkerSize{marker9})
	assert.True(t, errors.Is(err, context.Canceled), fmt.Sprint(err))
}
