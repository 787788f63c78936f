// Package tracking replays a single-target tracker over a ground truth
// track, one frame at a time, and records what it predicted.
package tracking

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/BossBobxuan/dsst-eval/internal/config"
	"github.com/BossBobxuan/dsst-eval/internal/groundtruth"
)

// ErrTrackingFailure matches every *TrackingFailure via errors.Is.
var ErrTrackingFailure = errors.New("tracking failure")

// TrackingFailure is returned by a Tracker that has lost its target. The
// driver recovers from it; any other error aborts the run.
type TrackingFailure struct {
	Reason string
	Score  float64
}

func (e *TrackingFailure) Error() string {
	return fmt.Sprintf("tracking failure: %s (score %.3f)", e.Reason, e.Score)
}

// Is makes errors.Is(err, ErrTrackingFailure) true.
func (e *TrackingFailure) Is(target error) bool {
	return target == ErrTrackingFailure
}

// Tracker abstracts the single-target tracking implementation.
// This interface decouples the replay driver from the algorithm so tests
// can script failures at chosen frames.
type Tracker interface {
	// Initialize seeds the tracker with the first frame and the target
	// position in it.
	Initialize(frame *mat.Dense, target groundtruth.Position) error

	// Update advances to the next frame and returns the new target
	// position and its scale factor relative to the initial template.
	// A lost target is reported as an error matching ErrTrackingFailure.
	Update(frame *mat.Dense) (groundtruth.Position, float64, error)
}

// Factory builds a fresh Tracker for one run at the given marker size.
type Factory func(marker config.MarkerSize) (Tracker, error)
