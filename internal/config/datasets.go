package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/BossBobxuan/dsst-eval/internal/groundtruth"
	"github.com/BossBobxuan/dsst-eval/internal/security"
)

// ConfigurationError reports a dataset entry that cannot be evaluated.
// It is raised before any tracking work for that dataset begins.
type ConfigurationError struct {
	Dataset string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("dataset %q: %s", e.Dataset, e.Reason)
}

// DatasetEntry is one dataset's block in the dataset configuration file.
type DatasetEntry struct {
	Drivers []int `yaml:"drivers"`
	Predict []int `yaml:"predict"`

	MinFrameThreshold *int `yaml:"minframe_threshold"`
	MaxFrameThreshold *int `yaml:"maxframe_threshold"`
	MinTestThreshold  *int `yaml:"mintest_threshold"`
	MaxTestThreshold  *int `yaml:"maxtest_threshold"`
}

// TrainWindow returns the train frame window.
func (d DatasetEntry) TrainWindow() groundtruth.FrameSlice {
	return groundtruth.FrameSlice{Start: d.MinFrameThreshold, Stop: d.MaxFrameThreshold}
}

// TestWindow returns the test frame window.
func (d DatasetEntry) TestWindow() groundtruth.FrameSlice {
	return groundtruth.FrameSlice{Start: d.MinTestThreshold, Stop: d.MaxTestThreshold}
}

// ResolvePredict returns the explicit predict list, or when it is empty
// every track number in [0, available) that is not a driver.
func (d DatasetEntry) ResolvePredict(available int) []int {
	if len(d.Predict) > 0 {
		return d.Predict
	}
	drivers := make(map[int]bool, len(d.Drivers))
	for _, n := range d.Drivers {
		drivers[n] = true
	}
	var out []int
	for n := 0; n < available; n++ {
		if !drivers[n] {
			out = append(out, n)
		}
	}
	return out
}

// DatasetConfig maps dataset name to its entry.
type DatasetConfig map[string]DatasetEntry

// LoadDatasetConfig parses the YAML dataset configuration.
func LoadDatasetConfig(path string) (DatasetConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset config: %w", err)
	}
	return ParseDatasetConfig(data)
}

// ParseDatasetConfig parses YAML dataset configuration bytes.
func ParseDatasetConfig(data []byte) (DatasetConfig, error) {
	cfg := DatasetConfig{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse dataset config YAML: %w", err)
	}
	return cfg, nil
}

// Datasets returns the configured dataset names in sorted order.
func (c DatasetConfig) Datasets() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entry returns the validated entry for dataset. The name must be a single
// path element, drivers must be non-empty and any window with both bounds
// set must have start < stop.
func (c DatasetConfig) Entry(dataset string) (DatasetEntry, error) {
	if err := security.ValidateComponent(dataset); err != nil {
		return DatasetEntry{}, &ConfigurationError{Dataset: dataset, Reason: err.Error()}
	}
	entry, ok := c[dataset]
	if !ok {
		return DatasetEntry{}, &ConfigurationError{Dataset: dataset, Reason: "not present in dataset config"}
	}
	if len(entry.Drivers) == 0 {
		return DatasetEntry{}, &ConfigurationError{Dataset: dataset, Reason: "drivers cannot be empty"}
	}
	for _, w := range []struct {
		name string
		slc  groundtruth.FrameSlice
	}{
		{"train", entry.TrainWindow()},
		{"test", entry.TestWindow()},
	} {
		if w.slc.Start != nil && w.slc.Stop != nil && *w.slc.Start >= *w.slc.Stop {
			return DatasetEntry{}, &ConfigurationError{
				Dataset: dataset,
				Reason:  fmt.Sprintf("%s window %s is empty", w.name, w.slc),
			}
		}
	}
	return entry, nil
}
