package evaluation

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/BossBobxuan/dsst-eval/internal/groundtruth"
	"github.com/BossBobxuan/dsst-eval/internal/results"
)

// Category selects which frames of an error table are kept.
type Category string

const (
	CategoryAll   Category = "all"
	CategoryTrain Category = "train" // train window rows only
	CategoryTest  Category = "test"  // test window rows only
)

// TrackType selects which result files contribute to an error table.
type TrackType string

const (
	TrackTypeAll     TrackType = "all"
	TrackTypeDrivers TrackType = "drivers"
	TrackTypePredict TrackType = "predict"
)

// ErrorTable is a dataset's averaged error, one column per marker size,
// over the union of the columns' frames. Cells a column does not cover
// are NaN. Marker sizes without data have no column.
type ErrorTable struct {
	Dataset string
	Frames  []int
	Columns []string
	Values  [][]float64 // Values[column][row]
}

// NewErrorTable joins aggregated series on frame. names and series are
// parallel.
func NewErrorTable(dataset string, names []string, series []ErrorSeries) *ErrorTable {
	union := map[int]bool{}
	for _, s := range series {
		for _, f := range s.Frames {
			union[f] = true
		}
	}
	frames := make([]int, 0, len(union))
	for f := range union {
		frames = append(frames, f)
	}
	sort.Ints(frames)

	row := make(map[int]int, len(frames))
	for i, f := range frames {
		row[f] = i
	}

	t := &ErrorTable{Dataset: dataset, Frames: frames}
	for i, s := range series {
		col := make([]float64, len(frames))
		for j := range col {
			col[j] = math.NaN()
		}
		for j, f := range s.Frames {
			col[row[f]] = s.Values[j]
		}
		t.Columns = append(t.Columns, names[i])
		t.Values = append(t.Values, col)
	}
	return t
}

// Column returns the values of the named column.
func (t *ErrorTable) Column(name string) ([]float64, bool) {
	for i, c := range t.Columns {
		if c == name {
			return t.Values[i], true
		}
	}
	return nil, false
}

// Restrict keeps only rows whose frame lies in slc.
func (t *ErrorTable) Restrict(slc groundtruth.FrameSlice) {
	var keep []int
	vals := make([][]float64, len(t.Values))
	for i, f := range t.Frames {
		if !slc.Contains(f) {
			continue
		}
		keep = append(keep, f)
		for c := range t.Values {
			vals[c] = append(vals[c], t.Values[c][i])
		}
	}
	t.Frames = keep
	t.Values = vals
}

// ColumnMean returns the mean of the non-NaN cells of a column and how
// many there were.
func (t *ErrorTable) ColumnMean(name string) (float64, int) {
	col, ok := t.Column(name)
	if !ok {
		return math.NaN(), 0
	}
	var vals []float64
	for _, v := range col {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN(), 0
	}
	return stat.Mean(vals, nil), len(vals)
}

// TableWriter wraps csv.Writer for error table output.
type TableWriter struct {
	w *csv.Writer
}

// NewTableWriter creates a TableWriter on w.
func NewTableWriter(w io.Writer) *TableWriter {
	return &TableWriter{w: csv.NewWriter(w)}
}

// Write writes the header "frame,<columns...>" and one row per frame.
func (tw *TableWriter) Write(t *ErrorTable) error {
	header := append([]string{"frame"}, t.Columns...)
	if err := tw.w.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for i, f := range t.Frames {
		record[0] = strconv.Itoa(f)
		for c := range t.Values {
			record[c+1] = results.FormatFloat(t.Values[c][i])
		}
		if err := tw.w.Write(record); err != nil {
			return fmt.Errorf("write frame %d: %w", f, err)
		}
	}
	tw.w.Flush()
	return tw.w.Error()
}
