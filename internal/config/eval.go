package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical evaluation defaults file.
const DefaultConfigPath = "config/eval.defaults.json"

// MarkerSize is the target template size in pixels (rows, columns) handed
// to the tracker.
type MarkerSize struct {
	Height int
	Width  int
}

// String returns the compact "HxW" form used in output directory names and
// table headers.
func (m MarkerSize) String() string {
	return fmt.Sprintf("%dx%d", m.Height, m.Width)
}

// MarshalJSON encodes the marker size as a two element array.
func (m MarkerSize) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{m.Height, m.Width})
}

// UnmarshalJSON accepts the two element array form, e.g. [15, 15].
func (m *MarkerSize) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("marker size must be [height, width]: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("marker size must have 2 elements, got %d", len(pair))
	}
	m.Height, m.Width = pair[0], pair[1]
	return nil
}

// DefaultMarkerSizes are the template sizes swept when the config does not
// list any.
var DefaultMarkerSizes = []MarkerSize{
	{9, 9},
	{15, 15},
	{21, 21},
	{25, 25},
	{31, 31},
}

// TrackerParams holds the reference template tracker settings.
type TrackerParams struct {
	SearchRadius   *int     `json:"search_radius,omitempty"`
	ScaleStep      *float64 `json:"scale_step,omitempty"`
	MinCorrelation *float64 `json:"min_correlation,omitempty"`
}

// EvalConfig is the root configuration for an evaluation run. All paths
// are explicit here; nothing in the evaluation reads process-wide state.
type EvalConfig struct {
	RootDir       *string      `json:"root_dir,omitempty"`
	OutRootDir    *string      `json:"out_root_dir,omitempty"`
	DatasetConfig *string      `json:"dataset_config,omitempty"`
	TrackSubdir   *string      `json:"track_subdir,omitempty"`
	MarkerSizes   []MarkerSize `json:"marker_sizes,omitempty"`
	MaxWorkers    *int         `json:"max_workers,omitempty"`

	// RunDB is the sqlite run ledger path; empty disables the ledger.
	RunDB *string `json:"run_db,omitempty"`

	Tracker TrackerParams `json:"tracker"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyEvalConfig returns an EvalConfig with all fields unset.
func EmptyEvalConfig() *EvalConfig {
	return &EvalConfig{}
}

// LoadEvalConfig loads an EvalConfig from a JSON file.
// The file must have a .json extension and be under the max file size.
// Fields omitted from the JSON file fall back to the Get* defaults.
func LoadEvalConfig(path string) (*EvalConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEvalConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *EvalConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/tracking/template/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadEvalConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *EvalConfig) Validate() error {
	for i, m := range c.MarkerSizes {
		if m.Height <= 0 || m.Width <= 0 {
			return fmt.Errorf("marker_sizes[%d] must be positive, got %s", i, m)
		}
	}

	if c.MaxWorkers != nil && *c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", *c.MaxWorkers)
	}

	if c.Tracker.SearchRadius != nil && *c.Tracker.SearchRadius < 1 {
		return fmt.Errorf("tracker.search_radius must be at least 1, got %d", *c.Tracker.SearchRadius)
	}

	if c.Tracker.ScaleStep != nil && *c.Tracker.ScaleStep < 1 {
		return fmt.Errorf("tracker.scale_step must be >= 1, got %f", *c.Tracker.ScaleStep)
	}

	if c.Tracker.MinCorrelation != nil {
		if v := *c.Tracker.MinCorrelation; v < -1 || v > 1 {
			return fmt.Errorf("tracker.min_correlation must be between -1 and 1, got %f", v)
		}
	}

	return nil
}

// GetRootDir returns the dataset root directory or the default.
func (c *EvalConfig) GetRootDir() string {
	if c.RootDir == nil || *c.RootDir == "" {
		return "data"
	}
	return *c.RootDir
}

// GetOutRootDir returns the output root, defaulting to the dataset root so
// results land next to their ground truth.
func (c *EvalConfig) GetOutRootDir() string {
	if c.OutRootDir == nil || *c.OutRootDir == "" {
		return c.GetRootDir()
	}
	return *c.OutRootDir
}

// GetDatasetConfig returns the dataset config path or the default.
func (c *EvalConfig) GetDatasetConfig() string {
	if c.DatasetConfig == nil || *c.DatasetConfig == "" {
		return "config/dataset_config.yaml"
	}
	return *c.DatasetConfig
}

// GetTrackSubdir returns the ground truth track subdirectory or the default.
func (c *EvalConfig) GetTrackSubdir() string {
	if c.TrackSubdir == nil || *c.TrackSubdir == "" {
		return "B_man"
	}
	return *c.TrackSubdir
}

// GetMarkerSizes returns the configured marker sizes or DefaultMarkerSizes.
func (c *EvalConfig) GetMarkerSizes() []MarkerSize {
	if len(c.MarkerSizes) == 0 {
		out := make([]MarkerSize, len(DefaultMarkerSizes))
		copy(out, DefaultMarkerSizes)
		return out
	}
	return c.MarkerSizes
}

// GetMaxWorkers returns the dataset worker pool size or the default.
func (c *EvalConfig) GetMaxWorkers() int {
	if c.MaxWorkers == nil {
		return 8
	}
	return *c.MaxWorkers
}

// GetRunDB returns the run ledger path; empty means disabled.
func (c *EvalConfig) GetRunDB() string {
	if c.RunDB == nil {
		return ""
	}
	return *c.RunDB
}

// GetSearchRadius returns the tracker search radius in pixels or the default.
func (c *EvalConfig) GetSearchRadius() int {
	if c.Tracker.SearchRadius == nil {
		return 8
	}
	return *c.Tracker.SearchRadius
}

// GetScaleStep returns the tracker scale step or the default.
func (c *EvalConfig) GetScaleStep() float64 {
	if c.Tracker.ScaleStep == nil {
		return 1.05
	}
	return *c.Tracker.ScaleStep
}

// GetMinCorrelation returns the tracker acceptance threshold or the default.
func (c *EvalConfig) GetMinCorrelation() float64 {
	if c.Tracker.MinCorrelation == nil {
		return 0.3
	}
	return *c.Tracker.MinCorrelation
}
