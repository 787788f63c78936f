// Package template is a reference single-target tracker: it matches a
// grayscale template by normalised cross-correlation over a square search
// window and three candidate scales per frame.
package template

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/BossBobxuan/dsst-eval/internal/config"
	"github.com/BossBobxuan/dsst-eval/internal/groundtruth"
	"github.com/BossBobxuan/dsst-eval/internal/tracking"
)

// Params tunes the tracker.
type Params struct {
	// SearchRadius is the maximum per-frame displacement in pixels.
	SearchRadius int
	// ScaleStep is the multiplicative scale change tried each frame.
	ScaleStep float64
	// MinCorrelation is the lowest accepted match score.
	MinCorrelation float64
}

// ParamsFromConfig reads tracker settings from the evaluation config.
func ParamsFromConfig(cfg *config.EvalConfig) Params {
	return Params{
		SearchRadius:   cfg.GetSearchRadius(),
		ScaleStep:      cfg.GetScaleStep(),
		MinCorrelation: cfg.GetMinCorrelation(),
	}
}

// Tracker follows one target.
type Tracker struct {
	params Params
	height int
	width  int

	template []float64 // zero mean, unit norm; nil when flat
	row, col int
	scale    float64

	patch []float64
}

var _ tracking.Tracker = (*Tracker)(nil)

// New creates a Tracker with a template of the given marker size.
func New(marker config.MarkerSize, params Params) *Tracker {
	if params.ScaleStep < 1 {
		params.ScaleStep = 1
	}
	return &Tracker{
		params: params,
		height: marker.Height,
		width:  marker.Width,
		patch:  make([]float64, marker.Height*marker.Width),
	}
}

// NewFactory returns a tracking.Factory that builds template trackers.
func NewFactory(params Params) tracking.Factory {
	return func(marker config.MarkerSize) (tracking.Tracker, error) {
		return New(marker, params), nil
	}
}

// Initialize cuts the template centred on target.
func (t *Tracker) Initialize(frame *mat.Dense, target groundtruth.Position) error {
	if target.IsMissing() {
		return &tracking.TrackingFailure{Reason: "no initial position"}
	}
	row, col := int(math.Round(target.Row)), int(math.Round(target.Col))
	if !t.sample(frame, row, col, 1) {
		return &tracking.TrackingFailure{Reason: "template outside frame"}
	}

	t.template = make([]float64, len(t.patch))
	copy(t.template, t.patch)
	if !normalise(t.template) {
		t.template = nil
	}
	t.row, t.col, t.scale = row, col, 1
	return nil
}

// Update searches around the previous position. Scale 1 relative to the
// previous frame is evaluated first; another scale only wins on a strictly
// higher score.
func (t *Tracker) Update(frame *mat.Dense) (groundtruth.Position, float64, error) {
	scales := []float64{t.scale, t.scale / t.params.ScaleStep, t.scale * t.params.ScaleStep}

	best := math.Inf(-1)
	bestRow, bestCol, bestScale := 0, 0, 0.0
	found := false
	r := t.params.SearchRadius
	for _, s := range scales {
		for dr := -r; dr <= r; dr++ {
			for dc := -r; dc <= r; dc++ {
				row, col := t.row+dr, t.col+dc
				if !t.sample(frame, row, col, s) {
					continue
				}
				score := t.score()
				if !found || score > best {
					best, bestRow, bestCol, bestScale = score, row, col, s
					found = true
				}
			}
		}
	}

	if !found {
		return groundtruth.Missing, 0, &tracking.TrackingFailure{Reason: "target left frame", Score: math.NaN()}
	}
	if best < t.params.MinCorrelation {
		return groundtruth.Missing, 0, &tracking.TrackingFailure{Reason: "correlation below threshold", Score: best}
	}

	t.row, t.col, t.scale = bestRow, bestCol, bestScale
	return groundtruth.Position{Row: float64(bestRow), Col: float64(bestCol)}, bestScale, nil
}

// sample fills t.patch with the frame resampled around (row, col) at scale,
// nearest neighbour. It reports false when any sample falls outside the
// frame.
func (t *Tracker) sample(frame *mat.Dense, row, col int, scale float64) bool {
	rows, cols := frame.Dims()
	cy := float64(t.height-1) / 2
	cx := float64(t.width-1) / 2
	for i := 0; i < t.height; i++ {
		y := row + int(math.Round((float64(i)-cy)*scale))
		if y < 0 || y >= rows {
			return false
		}
		for j := 0; j < t.width; j++ {
			x := col + int(math.Round((float64(j)-cx)*scale))
			if x < 0 || x >= cols {
				return false
			}
			t.patch[i*t.width+j] = frame.At(y, x)
		}
	}
	return true
}

// score is the normalised cross-correlation of t.patch with the template.
// Flat patches or a flat template score 0.
func (t *Tracker) score() float64 {
	if t.template == nil || !normalise(t.patch) {
		return 0
	}
	return floats.Dot(t.template, t.patch)
}

// normalise makes v zero mean and unit norm in place. It reports false for
// a constant vector.
func normalise(v []float64) bool {
	mean := floats.Sum(v) / float64(len(v))
	floats.AddConst(-mean, v)
	n := floats.Norm(v, 2)
	if n < 1e-12 {
		return false
	}
	floats.Scale(1/n, v)
	return true
}
