package tracking

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/BossBobxuan/dsst-eval/internal/frames"
	"github.com/BossBobxuan/dsst-eval/internal/groundtruth"
	"github.com/BossBobxuan/dsst-eval/internal/monitoring"
)

// RunState is the lifecycle state of a tracking run.
type RunState string

const (
	StateUnstarted   RunState = "unstarted"
	StateInitialized RunState = "initialized"
	StateRunning     RunState = "running"
	StateCompleted   RunState = "completed" // stop frame or last frame reached
	StateFailed      RunState = "failed"    // tracker lost the target
)

// RowWidth is the column count of a result row:
// frame, gt_row, gt_col, pred_row, pred_col, scale.
const RowWidth = 6

// Step is one predicted position.
type Step struct {
	Frame    int
	Position groundtruth.Position
	Scale    float64
}

// ShapeError reports predictions and ground truth of different lengths.
type ShapeError struct {
	Predictions int
	GroundTruth int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("prediction/ground truth length mismatch: %d predictions, %d ground truth rows",
		e.Predictions, e.GroundTruth)
}

// Run is the outcome of replaying one track over one frame window.
type Run struct {
	Dataset     string
	TrackNumber int
	Window      groundtruth.FrameSlice

	// StartFrame is only meaningful when Started is true.
	StartFrame int
	Started    bool

	State RunState
	Steps []Step

	// GroundTruth holds the labelled position at each step's frame, or
	// groundtruth.Missing where the frame is unlabelled.
	GroundTruth []groundtruth.Position

	// FailedFrame is the frame the tracker lost the target on, or -1.
	FailedFrame int
	Failure     error
}

// LastOffset returns the offset from StartFrame of the last good step, or
// -1 when the run produced nothing.
func (r *Run) LastOffset() int {
	if len(r.Steps) == 0 {
		return -1
	}
	return r.Steps[len(r.Steps)-1].Frame - r.StartFrame
}

// Rows returns one result row per step.
func (r *Run) Rows() ([][]float64, error) {
	if len(r.Steps) != len(r.GroundTruth) {
		return nil, &ShapeError{Predictions: len(r.Steps), GroundTruth: len(r.GroundTruth)}
	}
	rows := make([][]float64, len(r.Steps))
	for i, s := range r.Steps {
		gt := r.GroundTruth[i]
		rows[i] = []float64{float64(s.Frame), gt.Row, gt.Col, s.Position.Row, s.Position.Col, s.Scale}
	}
	return rows, nil
}

// Matrix stacks the rows of runs in order. It returns nil when the runs
// produced no rows at all.
func Matrix(runs ...*Run) (*mat.Dense, error) {
	var data []float64
	n := 0
	for _, r := range runs {
		rows, err := r.Rows()
		if err != nil {
			return nil, fmt.Errorf("track %d window %s: %w", r.TrackNumber, r.Window, err)
		}
		for _, row := range rows {
			data = append(data, row...)
		}
		n += len(rows)
	}
	if n == 0 {
		return nil, nil
	}
	return mat.NewDense(n, RowWidth, data), nil
}

// Driver replays trackers over the frames of one dataset.
type Driver struct {
	Dataset string
	Frames  frames.Source
}

// NewDriver creates a Driver for dataset.
func NewDriver(dataset string, src frames.Source) *Driver {
	return &Driver{Dataset: dataset, Frames: src}
}

// Run tracks track over window with tr. Tracking starts at the first
// labelled frame of the window and continues until the window stop or the
// last available frame. A tracking failure ends the run early in
// StateFailed but is not returned; I/O and tracker errors are.
func (d *Driver) Run(ctx context.Context, tr Tracker, track *groundtruth.Track, window groundtruth.FrameSlice) (*Run, error) {
	run := &Run{
		Dataset:     d.Dataset,
		TrackNumber: track.Number,
		Window:      window,
		State:       StateUnstarted,
		FailedFrame: -1,
	}

	start, ok := groundtruth.FindStartFrame(track, window)
	if !ok {
		run.State = StateCompleted
		return run, nil
	}
	run.StartFrame = start
	run.Started = true

	stop := d.Frames.Count()
	if window.Stop != nil && *window.Stop < stop {
		stop = *window.Stop
	}

	target, _ := track.Lookup(start)
	img, err := d.Frames.Frame(start)
	if err != nil {
		return nil, fmt.Errorf("load start frame %d: %w", start, err)
	}
	if err := tr.Initialize(img, target); err != nil {
		if errors.Is(err, ErrTrackingFailure) {
			d.fail(run, start, err)
			return run, nil
		}
		return nil, fmt.Errorf("initialize tracker at frame %d: %w", start, err)
	}
	run.State = StateInitialized
	run.Steps = append(run.Steps, Step{Frame: start, Position: target, Scale: 1.0})

	run.State = StateRunning
	for frame := start + 1; frame < stop; frame++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := d.Frames.Frame(frame)
		if err != nil {
			return nil, fmt.Errorf("load frame %d: %w", frame, err)
		}
		pos, scale, err := tr.Update(img)
		if err != nil {
			if errors.Is(err, ErrTrackingFailure) {
				d.fail(run, frame, err)
				break
			}
			return nil, fmt.Errorf("update tracker at frame %d: %w", frame, err)
		}
		run.Steps = append(run.Steps, Step{Frame: frame, Position: pos, Scale: scale})
	}
	if run.State == StateRunning {
		run.State = StateCompleted
	}

	run.GroundTruth = make([]groundtruth.Position, len(run.Steps))
	for i, s := range run.Steps {
		run.GroundTruth[i], _ = track.Lookup(s.Frame)
	}
	return run, nil
}

func (d *Driver) fail(run *Run, frame int, err error) {
	run.State = StateFailed
	run.FailedFrame = frame
	run.Failure = err

	log := monitoring.Component("tracking")
	log.Warn().
		Str("dataset", d.Dataset).
		Int("track", run.TrackNumber).
		Int("frame", frame).
		Int("last_offset", run.LastOffset()).
		Err(err).
		Msg("tracker lost target")
}
