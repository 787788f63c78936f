// Package results persists per-track result matrices as headerless CSV
// files under <root>/<dataset>/tracks/DSST_<HxW>/track.NNN.csv.
package results

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/BossBobxuan/dsst-eval/internal/config"
	"github.com/BossBobxuan/dsst-eval/internal/fsutil"
	"github.com/BossBobxuan/dsst-eval/internal/security"
)

// DirPrefix prefixes the per marker size result directory.
const DirPrefix = "DSST_"

// Dir returns the result directory for dataset and marker.
func Dir(root, dataset string, marker config.MarkerSize) string {
	return filepath.Join(root, dataset, "tracks", DirPrefix+marker.String())
}

// FileName returns the result file name for a track number.
func FileName(trackNumber int) string {
	return fmt.Sprintf("track.%03d.csv", trackNumber)
}

// TrackNumber parses the track number out of a result file name.
func TrackNumber(fileName string) (int, error) {
	base := filepath.Base(fileName)
	if !strings.HasPrefix(base, "track.") || !strings.HasSuffix(base, ".csv") {
		return 0, fmt.Errorf("not a result file name: %q", base)
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(base, "track."), ".csv")
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid track number in %q", base)
	}
	return n, nil
}

// FormatFloat renders v in its shortest round-trip form, with "nan" for
// NaN, so that saving the same matrix twice yields identical bytes.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Store reads and writes result files.
type Store struct {
	FS fsutil.FileSystem
}

// NewStore creates a Store. A nil fs uses the OS filesystem.
func NewStore(fs fsutil.FileSystem) *Store {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Store{FS: fs}
}

// Save writes m as the result file of trackNumber, creating directories as
// needed, and returns the path written. A nil m writes an empty file.
func (s *Store) Save(m *mat.Dense, outRoot, dataset string, trackNumber int, marker config.MarkerSize) (string, error) {
	dir := Dir(outRoot, dataset, marker)
	if err := security.ValidatePathWithinDirectory(dir, outRoot); err != nil {
		return "", err
	}
	if err := s.FS.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create result dir %s: %w", dir, err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if m != nil {
		rows, cols := m.Dims()
		record := make([]string, cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				record[j] = FormatFloat(m.At(i, j))
			}
			if err := w.Write(record); err != nil {
				return "", err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, FileName(trackNumber))
	if err := s.FS.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write result %s: %w", path, err)
	}
	return path, nil
}

// Load reads every result file of dataset at marker, keyed by file name.
// A missing directory yields an empty map. An empty file maps to nil.
func (s *Store) Load(root, dataset string, marker config.MarkerSize) (map[string]*mat.Dense, error) {
	paths, err := s.FS.Glob(filepath.Join(Dir(root, dataset, marker), "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list results of %q: %w", dataset, err)
	}

	out := make(map[string]*mat.Dense, len(paths))
	for _, p := range paths {
		data, err := s.FS.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read result %s: %w", p, err)
		}
		m, err := ParseMatrix(data)
		if err != nil {
			return nil, fmt.Errorf("parse result %s: %w", p, err)
		}
		out[filepath.Base(p)] = m
	}
	return out, nil
}

// ParseMatrix parses headerless numeric CSV. Every row must have the same
// number of columns. Empty input returns nil.
func ParseMatrix(data []byte) (*mat.Dense, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	cols := len(records[0])
	values := make([]float64, 0, len(records)*cols)
	for i, rec := range records {
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: invalid number %q", i+1, j+1, field)
			}
			values = append(values, v)
		}
	}
	return mat.NewDense(len(records), cols, values), nil
}
