package groundtruth

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BossBobxuan/dsst-eval/internal/fsutil"
)

// ErrNotFound matches every *NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a requested track or frame that has no file.
type NotFoundError struct {
	Kind    string // "track" or "frame"
	Dataset string
	Number  int
	Path    string
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %d of dataset %q not found at %s", e.Kind, e.Number, e.Dataset, e.Path)
	}
	return fmt.Sprintf("%s %d of dataset %q not found", e.Kind, e.Number, e.Dataset)
}

// Is makes errors.Is(err, ErrNotFound) true.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Sample is one labelled frame.
type Sample struct {
	Frame    int
	Position Position
}

// Track is the labelled position sequence of one physical track. Samples
// keep file order; lookups by frame return the first occurrence.
type Track struct {
	Number  int
	Path    string
	Samples []Sample

	index  map[int]int
	frames []int
}

// NewTrack indexes samples by frame.
func NewTrack(number int, samples []Sample) *Track {
	t := &Track{
		Number:  number,
		Samples: samples,
		index:   make(map[int]int, len(samples)),
	}
	for i, s := range samples {
		if _, dup := t.index[s.Frame]; dup {
			continue
		}
		t.index[s.Frame] = i
		t.frames = append(t.frames, s.Frame)
	}
	sort.Ints(t.frames)
	return t
}

// Lookup returns the labelled position at frame.
func (t *Track) Lookup(frame int) (Position, bool) {
	i, ok := t.index[frame]
	if !ok {
		return Missing, false
	}
	return t.Samples[i].Position, true
}

// Has reports whether frame is labelled.
func (t *Track) Has(frame int) bool {
	_, ok := t.index[frame]
	return ok
}

// Frames returns the distinct labelled frames in ascending order.
func (t *Track) Frames() []int {
	return t.frames
}

// FindStartFrame resolves where tracking over slc begins: slc.Start when it
// is labelled, otherwise the first labelled frame after it that is still
// inside the window. ok is false when the track has no label in slc.
func FindStartFrame(t *Track, slc FrameSlice) (frame int, ok bool) {
	if slc.Start != nil && t.Has(*slc.Start) {
		return *slc.Start, true
	}
	frames := t.Frames()
	i := 0
	if slc.Start != nil {
		i = sort.SearchInts(frames, *slc.Start)
	}
	if i >= len(frames) {
		return 0, false
	}
	if slc.Stop != nil && frames[i] >= *slc.Stop {
		return 0, false
	}
	return frames[i], true
}

// ParseTrack reads "frame,x,y" rows and converts them to top-origin
// positions. A non-numeric first line is treated as a header and skipped.
func ParseTrack(r io.Reader, imageHeight int) ([]Sample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var samples []Sample
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		frame, err := ParseFrameIndex(record[0])
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("line %d: expected frame,x,y, got %d fields", line, len(record))
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid x %q: %w", line, record[1], err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid y %q: %w", line, record[2], err)
		}
		samples = append(samples, Sample{Frame: frame, Position: FromCSV(x, y, imageHeight)})
	}
	return samples, nil
}

// ParseFrameIndex parses a frame number, accepting integral floats such as
// "12.0" or "1.2e+01".
func ParseFrameIndex(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame index %q", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("frame index %q is not an integer", s)
	}
	return int(f), nil
}

// Store reads ground truth tracks from <Root>/<dataset>/tracks/<Subdir>.
type Store struct {
	FS     fsutil.FileSystem
	Root   string
	Subdir string
}

// NewStore creates a Store. A nil fs uses the OS filesystem.
func NewStore(fs fsutil.FileSystem, root, subdir string) *Store {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Store{FS: fs, Root: root, Subdir: subdir}
}

// TrackPaths lists the dataset's track files in sorted order. A track
// number is a position in this list.
func (s *Store) TrackPaths(dataset string) ([]string, error) {
	return s.FS.Glob(filepath.Join(s.Root, dataset, "tracks", s.Subdir, "*.csv"))
}

// LoadTrack reads track number trackNumber of dataset.
func (s *Store) LoadTrack(dataset string, trackNumber, imageHeight int) (*Track, error) {
	paths, err := s.TrackPaths(dataset)
	if err != nil {
		return nil, fmt.Errorf("list tracks of %q: %w", dataset, err)
	}
	if trackNumber < 0 || trackNumber >= len(paths) {
		return nil, &NotFoundError{Kind: "track", Dataset: dataset, Number: trackNumber}
	}

	path := paths[trackNumber]
	data, err := s.FS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read track %s: %w", path, err)
	}
	samples, err := ParseTrack(bytes.NewReader(data), imageHeight)
	if err != nil {
		return nil, fmt.Errorf("parse track %s: %w", path, err)
	}

	t := NewTrack(trackNumber, samples)
	t.Path = path
	return t, nil
}
