package evaluation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/BossBobxuan/dsst-eval/internal/config"
	"github.com/BossBobxuan/dsst-eval/internal/db"
	"github.com/BossBobxuan/dsst-eval/internal/frames"
	"github.com/BossBobxuan/dsst-eval/internal/fsutil"
	"github.com/BossBobxuan/dsst-eval/internal/groundtruth"
	"github.com/BossBobxuan/dsst-eval/internal/monitoring"
	"github.com/BossBobxuan/dsst-eval/internal/results"
	"github.com/BossBobxuan/dsst-eval/internal/security"
	"github.com/BossBobxuan/dsst-eval/internal/tracking"
)

// RunRecorder persists run and error table summaries. *db.DB implements
// it.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec *db.RunRecord) error
	RecordErrorSummary(ctx context.Context, s *db.ErrorSummary) error
}

var _ RunRecorder = (*db.DB)(nil)

// FrameOpener returns the frame source of a dataset.
type FrameOpener func(dataset string) (frames.Source, error)

// Orchestrator runs tracking and error aggregation over every configured
// dataset.
type Orchestrator struct {
	Datasets    config.DatasetConfig
	GroundTruth *groundtruth.Store
	Results     *results.Store
	FS          fsutil.FileSystem
	OutRootDir  string
	NewTracker  tracking.Factory
	OpenFrames  FrameOpener
	MaxWorkers  int

	// Recorder is optional.
	Recorder RunRecorder
}

// NewOrchestrator wires an Orchestrator from the evaluation config. A nil
// fs uses the OS filesystem.
func NewOrchestrator(cfg *config.EvalConfig, datasets config.DatasetConfig, fs fsutil.FileSystem, factory tracking.Factory) *Orchestrator {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	root := cfg.GetRootDir()
	return &Orchestrator{
		Datasets:    datasets,
		GroundTruth: groundtruth.NewStore(fs, root, cfg.GetTrackSubdir()),
		Results:     results.NewStore(fs),
		FS:          fs,
		OutRootDir:  cfg.GetOutRootDir(),
		NewTracker:  factory,
		OpenFrames: func(dataset string) (frames.Source, error) {
			return frames.OpenDirectory(fs, root, dataset)
		},
		MaxWorkers: cfg.GetMaxWorkers(),
	}
}

// EvaluateDataset tracks every driver and then every predict track of
// dataset over its train and test windows at marker, saving one result
// file per track.
func (o *Orchestrator) EvaluateDataset(ctx context.Context, dataset string, marker config.MarkerSize) error {
	entry, err := o.Datasets.Entry(dataset)
	if err != nil {
		return err
	}

	src, err := o.OpenFrames(dataset)
	if err != nil {
		return fmt.Errorf("open frames of %q: %w", dataset, err)
	}
	height, _, err := frames.Size(src)
	if err != nil {
		return fmt.Errorf("dataset %q: %w", dataset, err)
	}

	paths, err := o.GroundTruth.TrackPaths(dataset)
	if err != nil {
		return fmt.Errorf("list tracks of %q: %w", dataset, err)
	}

	var numbers []int
	seen := map[int]bool{}
	for _, n := range append(append([]int{}, entry.Drivers...), entry.ResolvePredict(len(paths))...) {
		if !seen[n] {
			seen[n] = true
			numbers = append(numbers, n)
		}
	}

	log := monitoring.Component("evaluation")
	driver := tracking.NewDriver(dataset, src)
	for _, n := range numbers {
		if err := ctx.Err(); err != nil {
			return err
		}
		track, err := o.GroundTruth.LoadTrack(dataset, n, height)
		if err != nil {
			return err
		}

		var runs []*tracking.Run
		for _, window := range []groundtruth.FrameSlice{entry.TrainWindow(), entry.TestWindow()} {
			tr, err := o.NewTracker(marker)
			if err != nil {
				return fmt.Errorf("create tracker: %w", err)
			}
			run, err := driver.Run(ctx, tr, track, window)
			if err != nil {
				return fmt.Errorf("dataset %q track %d window %s: %w", dataset, n, window, err)
			}
			runs = append(runs, run)
		}

		m, err := tracking.Matrix(runs...)
		if err != nil {
			return fmt.Errorf("dataset %q: %w", dataset, err)
		}
		path, err := o.Results.Save(m, o.OutRootDir, dataset, n, marker)
		if err != nil {
			return err
		}
		log.Debug().Str("dataset", dataset).Int("track", n).Str("marker", marker.String()).
			Str("path", path).Msg("saved result")

		for _, run := range runs {
			o.recordRun(ctx, run, marker, path)
		}
	}
	return nil
}

func (o *Orchestrator) recordRun(ctx context.Context, run *tracking.Run, marker config.MarkerSize, path string) {
	if o.Recorder == nil {
		return
	}
	rec := &db.RunRecord{
		Dataset:     run.Dataset,
		MarkerSize:  marker.String(),
		TrackNumber: run.TrackNumber,
		Window:      run.Window.String(),
		State:       string(run.State),
		Steps:       len(run.Steps),
		ResultPath:  path,
	}
	if run.Started {
		start := run.StartFrame
		rec.StartFrame = &start
	}
	if run.FailedFrame >= 0 {
		failed := run.FailedFrame
		rec.FailedFrame = &failed
	}
	if err := o.Recorder.RecordRun(ctx, rec); err != nil {
		monitoring.Logf("failed to record run for %s track %d: %v", run.Dataset, run.TrackNumber, err)
	}
}

// ErrorTable aggregates saved results into one table per dataset, with a
// column per marker size that has data. trackType chooses which result
// files contribute and category restricts rows to the train or test
// window. Datasets whose configuration is invalid are skipped and their
// errors returned joined.
func (o *Orchestrator) ErrorTable(ctx context.Context, markers []config.MarkerSize, category Category, trackType TrackType) (map[string]*ErrorTable, error) {
	tables := make(map[string]*ErrorTable)
	var errs []error
	for _, dataset := range o.Datasets.Datasets() {
		if err := ctx.Err(); err != nil {
			return tables, err
		}
		t, err := o.datasetTable(ctx, dataset, markers, category, trackType)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tables[dataset] = t
	}
	return tables, errors.Join(errs...)
}

func (o *Orchestrator) datasetTable(ctx context.Context, dataset string, markers []config.MarkerSize, category Category, trackType TrackType) (*ErrorTable, error) {
	entry, err := o.Datasets.Entry(dataset)
	if err != nil {
		return nil, err
	}

	var selected map[int]bool
	switch trackType {
	case TrackTypeDrivers:
		selected = set(entry.Drivers)
	case TrackTypePredict:
		paths, err := o.GroundTruth.TrackPaths(dataset)
		if err != nil {
			return nil, fmt.Errorf("list tracks of %q: %w", dataset, err)
		}
		selected = set(entry.ResolvePredict(len(paths)))
	case TrackTypeAll, "":
	default:
		return nil, fmt.Errorf("unknown track type %q", trackType)
	}

	var names []string
	var columns []ErrorSeries
	for _, marker := range markers {
		files, err := o.Results.Load(o.OutRootDir, dataset, marker)
		if err != nil {
			return nil, err
		}
		fileNames := make([]string, 0, len(files))
		for name := range files {
			fileNames = append(fileNames, name)
		}
		sort.Strings(fileNames)

		var series []ErrorSeries
		for _, name := range fileNames {
			if selected != nil {
				n, err := results.TrackNumber(name)
				if err != nil || !selected[n] {
					continue
				}
			}
			s, err := ComputeError(filepath.Join(dataset, name), files[name])
			if err != nil {
				return nil, err
			}
			series = append(series, s)
		}

		mean, ok, err := AlignAndAverage(series)
		if err != nil {
			return nil, fmt.Errorf("dataset %q marker %s: %w", dataset, marker, err)
		}
		if !ok {
			continue
		}
		names = append(names, marker.String())
		columns = append(columns, mean)
	}

	table := NewErrorTable(dataset, names, columns)
	switch category {
	case CategoryTrain:
		table.Restrict(entry.TrainWindow())
	case CategoryTest:
		table.Restrict(entry.TestWindow())
	case CategoryAll, "":
	default:
		return nil, fmt.Errorf("unknown category %q", category)
	}

	o.recordSummaries(ctx, table, category, trackType)
	return table, nil
}

func (o *Orchestrator) recordSummaries(ctx context.Context, t *ErrorTable, category Category, trackType TrackType) {
	if o.Recorder == nil {
		return
	}
	for _, name := range t.Columns {
		mean, n := t.ColumnMean(name)
		err := o.Recorder.RecordErrorSummary(ctx, &db.ErrorSummary{
			Dataset:    t.Dataset,
			MarkerSize: name,
			Category:   string(category),
			TrackType:  string(trackType),
			MeanError:  mean,
			Frames:     n,
		})
		if err != nil {
			monitoring.Logf("failed to record error summary for %s %s: %v", t.Dataset, name, err)
		}
	}
}

// WriteTables writes each table to <outRoot>/<dataset>/errors_<name>.csv
// and returns the paths in dataset order.
func WriteTables(fs fsutil.FileSystem, tables map[string]*ErrorTable, outRoot, name string) ([]string, error) {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	datasets := make([]string, 0, len(tables))
	for ds := range tables {
		datasets = append(datasets, ds)
	}
	sort.Strings(datasets)

	var paths []string
	for _, ds := range datasets {
		dir := filepath.Join(outRoot, ds)
		if err := security.ValidatePathWithinDirectory(dir, outRoot); err != nil {
			return paths, err
		}
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return paths, fmt.Errorf("create %s: %w", dir, err)
		}
		var buf bytes.Buffer
		if err := NewTableWriter(&buf).Write(tables[ds]); err != nil {
			return paths, fmt.Errorf("format table %s: %w", ds, err)
		}
		path := filepath.Join(dir, "errors_"+security.SanitizeFilename(name)+".csv")
		if err := fs.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func set(values []int) map[int]bool {
	m := make(map[int]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}
