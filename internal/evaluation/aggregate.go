// Package evaluation turns saved tracking results into per-frame squared
// error series, averages them across tracks and drives whole evaluation
// runs over datasets and marker sizes.
package evaluation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MaxAlignedFrames bounds the frame range AlignAndAverage will materialise.
const MaxAlignedFrames = 1 << 24

// Result matrix columns.
const (
	colFrame = iota
	colGTRow
	colGTCol
	colPredRow
	colPredCol
)

// ErrorSeries is a per-frame error sequence. Frames and Values are
// parallel; Frames may be unsorted or contain duplicates until aligned.
type ErrorSeries struct {
	Name   string
	Frames []int
	Values []float64
}

// Len returns the number of samples.
func (s ErrorSeries) Len() int { return len(s.Frames) }

// AlignmentError reports a series that cannot be aligned.
type AlignmentError struct {
	Name   string
	Reason string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("cannot align %s: %s", e.Name, e.Reason)
}

// ComputeError returns the squared distance between ground truth and
// prediction for every row of a result matrix. NaN terms are skipped, so an
// unlabelled frame contributes 0. A nil matrix yields an empty series.
func ComputeError(name string, m *mat.Dense) (ErrorSeries, error) {
	out := ErrorSeries{Name: name}
	if m == nil {
		return out, nil
	}
	rows, cols := m.Dims()
	if cols <= colPredCol {
		return out, &AlignmentError{Name: name, Reason: fmt.Sprintf("expected at least %d columns, got %d", colPredCol+1, cols)}
	}

	out.Frames = make([]int, rows)
	out.Values = make([]float64, rows)
	for i := 0; i < rows; i++ {
		f := m.At(i, colFrame)
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return ErrorSeries{Name: name}, &AlignmentError{Name: name, Reason: fmt.Sprintf("row %d has non-integer frame %v", i, f)}
		}
		out.Frames[i] = int(f)

		var sum float64
		for _, d := range [2]float64{
			m.At(i, colGTRow) - m.At(i, colPredRow),
			m.At(i, colGTCol) - m.At(i, colPredCol),
		} {
			if !math.IsNaN(d) {
				sum += d * d
			}
		}
		out.Values[i] = sum
	}
	return out, nil
}

// AlignAndAverage averages series frame by frame. When every series has
// the same sorted, duplicate-free frame sequence the values are averaged
// directly. Otherwise each series is sorted by frame, duplicate frames keep
// their first occurrence, and all series are spread over the contiguous
// range from the smallest to the largest frame seen, with absent frames
// contributing 0. The sum is divided by the number of series. ok is false
// when there is no data.
func AlignAndAverage(series []ErrorSeries) (ErrorSeries, bool, error) {
	if len(series) == 0 {
		return ErrorSeries{}, false, nil
	}
	for _, s := range series {
		if len(s.Frames) != len(s.Values) {
			return ErrorSeries{}, false, &AlignmentError{
				Name:   s.Name,
				Reason: fmt.Sprintf("%d frames but %d values", len(s.Frames), len(s.Values)),
			}
		}
	}

	n := float64(len(series))
	if sameFrames(series) {
		if series[0].Len() == 0 {
			return ErrorSeries{}, false, nil
		}
		acc := make([]float64, series[0].Len())
		for _, s := range series {
			floats.Add(acc, s.Values)
		}
		floats.Scale(1/n, acc)
		frames := make([]int, len(series[0].Frames))
		copy(frames, series[0].Frames)
		return ErrorSeries{Name: "mean", Frames: frames, Values: acc}, true, nil
	}

	lo, hi := math.MaxInt, math.MinInt
	for _, s := range series {
		for _, f := range s.Frames {
			lo = min(lo, f)
			hi = max(hi, f)
		}
	}
	if lo > hi {
		return ErrorSeries{}, false, nil
	}
	span := int64(hi) - int64(lo) + 1
	if span > MaxAlignedFrames {
		return ErrorSeries{}, false, &AlignmentError{
			Name:   widest(series),
			Reason: fmt.Sprintf("frame range [%d, %d] is too large to align", lo, hi),
		}
	}

	acc := make([]float64, span)
	dense := make([]float64, span)
	for _, s := range series {
		for i := range dense {
			dense[i] = 0
		}
		seen := make(map[int]bool, s.Len())
		for _, i := range sortedOrder(s.Frames) {
			f := s.Frames[i]
			if seen[f] {
				continue
			}
			seen[f] = true
			dense[f-lo] = s.Values[i]
		}
		floats.Add(acc, dense)
	}
	floats.Scale(1/n, acc)

	frames := make([]int, span)
	for i := range frames {
		frames[i] = lo + i
	}
	return ErrorSeries{Name: "mean", Frames: frames, Values: acc}, true, nil
}

// sameFrames reports whether every series has the same strictly increasing
// frame sequence.
func sameFrames(series []ErrorSeries) bool {
	first := series[0].Frames
	for i := 1; i < len(first); i++ {
		if first[i] <= first[i-1] {
			return false
		}
	}
	for _, s := range series[1:] {
		if len(s.Frames) != len(first) {
			return false
		}
		for i, f := range s.Frames {
			if f != first[i] {
				return false
			}
		}
	}
	return true
}

// sortedOrder returns the indices of frames in ascending frame order,
// keeping the original order among equal frames.
func sortedOrder(frames []int) []int {
	idx := make([]int, len(frames))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return frames[idx[a]] < frames[idx[b]] })
	return idx
}

// widest names the series with the largest frame span.
func widest(series []ErrorSeries) string {
	name := series[0].Name
	var best int64 = -1
	for _, s := range series {
		if s.Len() == 0 {
			continue
		}
		lo, hi := s.Frames[0], s.Frames[0]
		for _, f := range s.Frames {
			lo = min(lo, f)
			hi = max(hi, f)
		}
		if span := int64(hi) - int64(lo); span > best {
			best, name = span, s.Name
		}
	}
	return name
}
