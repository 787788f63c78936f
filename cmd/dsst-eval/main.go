// Command dsst-eval replays the reference tracker over every configured
// dataset and marker size, then writes per-frame squared error tables.
//
// Usage:
//
//	dsst-eval [eval-config.json]
//
// The config path defaults to config/eval.defaults.json.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/BossBobxuan/dsst-eval/internal/config"
	"github.com/BossBobxuan/dsst-eval/internal/db"
	"github.com/BossBobxuan/dsst-eval/internal/evaluation"
	"github.com/BossBobxuan/dsst-eval/internal/fsutil"
	"github.com/BossBobxuan/dsst-eval/internal/monitoring"
	"github.com/BossBobxuan/dsst-eval/internal/tracking/template"
	"github.com/BossBobxuan/dsst-eval/internal/version"
)

// Summary is written next to the error tables as summary.json.
type Summary struct {
	Version      string              `json:"version"`
	GitSHA       string              `json:"git_sha"`
	ConfigPath   string              `json:"config_path"`
	DurationSecs float64             `json:"duration_secs"`
	MarkerSizes  []config.MarkerSize `json:"marker_sizes"`
	Tables       []TableSummary      `json:"tables"`
	Failures     []string            `json:"failures,omitempty"`
}

// TableSummary condenses one error table.
type TableSummary struct {
	Dataset string             `json:"dataset"`
	Name    string             `json:"name"`
	Path    string             `json:"path"`
	Frames  int                `json:"frames"`
	Means   map[string]float64 `json:"mean_error"`
}

// tableSpec names one exported error table.
type tableSpec struct {
	name      string
	category  evaluation.Category
	trackType evaluation.TrackType
}

var tableSpecs = []tableSpec{
	{"all", evaluation.CategoryAll, evaluation.TrackTypeAll},
	{"train", evaluation.CategoryTrain, evaluation.TrackTypeAll},
	{"test", evaluation.CategoryTest, evaluation.TrackTypeAll},
	{"drivers", evaluation.CategoryAll, evaluation.TrackTypeDrivers},
	{"predict", evaluation.CategoryAll, evaluation.TrackTypePredict},
}

func main() {
	if len(os.Args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: dsst-eval [eval-config.json]")
		os.Exit(2)
	}
	configPath := config.DefaultConfigPath
	if len(os.Args) == 2 {
		configPath = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, err := run(ctx, configPath, fsutil.OSFileSystem{})
	if summary != nil {
		printResults(os.Stdout, summary)
	}
	if err != nil {
		log.Printf("dsst-eval failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, fs fsutil.FileSystem) (*Summary, error) {
	started := time.Now()
	monitoring.Logf("dsst-eval %s", version.String())

	cfg, err := config.LoadEvalConfig(configPath)
	if err != nil {
		return nil, err
	}
	datasets, err := config.LoadDatasetConfig(cfg.GetDatasetConfig())
	if err != nil {
		return nil, err
	}

	o := evaluation.NewOrchestrator(cfg, datasets, fs, template.NewFactory(template.ParamsFromConfig(cfg)))
	if path := cfg.GetRunDB(); path != "" {
		if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create run ledger dir: %w", err)
		}
		ledger, err := db.NewDB(path)
		if err != nil {
			return nil, fmt.Errorf("open run ledger: %w", err)
		}
		defer ledger.Close()
		o.Recorder = ledger
	}

	markers := cfg.GetMarkerSizes()
	summary := &Summary{
		Version:     version.Version,
		GitSHA:      version.GitSHA,
		ConfigPath:  configPath,
		MarkerSizes: markers,
	}

	var failures []error
	if err := o.TrackAll(ctx, markers); err != nil {
		failures = append(failures, err)
	}
	if ctx.Err() != nil {
		return summary, errors.Join(failures...)
	}

	for _, ts := range tableSpecs {
		tables, err := o.ErrorTable(ctx, markers, ts.category, ts.trackType)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s tables: %w", ts.name, err))
		}
		paths, err := evaluation.WriteTables(fs, tables, cfg.GetOutRootDir(), ts.name)
		if err != nil {
			failures = append(failures, err)
		}
		summary.Tables = append(summary.Tables, summarise(tables, ts.name, paths)...)
	}

	for _, err := range failures {
		summary.Failures = append(summary.Failures, err.Error())
	}
	summary.DurationSecs = time.Since(started).Seconds()

	if err := exportJSON(fs, summary, filepath.Join(cfg.GetOutRootDir(), "summary.json")); err != nil {
		failures = append(failures, fmt.Errorf("export summary: %w", err))
	}
	return summary, errors.Join(failures...)
}

// summarise lists tables in dataset order; paths follows the same order.
func summarise(tables map[string]*evaluation.ErrorTable, name string, paths []string) []TableSummary {
	datasets := make([]string, 0, len(tables))
	for ds := range tables {
		datasets = append(datasets, ds)
	}
	sort.Strings(datasets)

	out := make([]TableSummary, 0, len(datasets))
	for i, ds := range datasets {
		t := tables[ds]
		ts := TableSummary{Dataset: ds, Name: name, Frames: len(t.Frames), Means: map[string]float64{}}
		if i < len(paths) {
			ts.Path = paths[i]
		}
		for _, col := range t.Columns {
			if mean, n := t.ColumnMean(col); n > 0 {
				ts.Means[col] = mean
			}
		}
		out = append(out, ts)
	}
	return out
}

func printResults(w io.Writer, s *Summary) {
	fmt.Fprintln(w, "\n=== Tracker Evaluation Results ===")
	fmt.Fprintf(w, "Config: %s\n", s.ConfigPath)
	fmt.Fprintf(w, "Processing Time: %.2fs\n", s.DurationSecs)
	fmt.Fprintf(w, "Marker Sizes: %d\n", len(s.MarkerSizes))

	fmt.Fprintln(w, "\n--- Mean Squared Error ---")
	for _, t := range s.Tables {
		fmt.Fprintf(w, "\n%s [%s] (%d frames)\n", t.Dataset, t.Name, t.Frames)
		for _, m := range s.MarkerSizes {
			if mean, ok := t.Means[m.String()]; ok {
				fmt.Fprintf(w, "  %-7s %.3f\n", m.String(), mean)
			}
		}
	}

	if len(s.Failures) > 0 {
		fmt.Fprintln(w, "\n--- Failures ---")
		for _, f := range s.Failures {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
}

func exportJSON(fs fsutil.FileSystem, s *Summary, path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return fs.WriteFile(path, append(data, '\n'), 0644)
}
