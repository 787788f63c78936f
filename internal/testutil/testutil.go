// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/BossBobxuan/dsst-eval/internal/fsutil"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// GTRow is one ground truth line: frame, x, y (y from the image bottom).
type GTRow struct {
	Frame int
	X, Y  float64
}

// WriteTrack writes a ground truth CSV at
// <root>/<dataset>/tracks/<subdir>/<name>.
func WriteTrack(t testing.TB, fs fsutil.FileSystem, root, dataset, subdir, name string, rows []GTRow) string {
	t.Helper()
	dir := filepath.Join(root, dataset, "tracks", subdir)
	AssertNoError(t, fs.MkdirAll(dir, 0755))

	var buf bytes.Buffer
	for _, r := range rows {
		fmt.Fprintf(&buf, "%d,%g,%g\n", r.Frame, r.X, r.Y)
	}
	path := filepath.Join(dir, name)
	AssertNoError(t, fs.WriteFile(path, buf.Bytes(), 0644))
	return path
}

// BlobFrame returns a dark h x w image with a bright square of side
// 2*half+1 centred on (row, col) and a fainter gradient border so that
// every template patch has texture.
func BlobFrame(h, w, row, col, half int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*3 + y*5) % 40)})
		}
	}
	for y := row - half; y <= row+half; y++ {
		for x := col - half; x <= col+half; x++ {
			if y < 0 || y >= h || x < 0 || x >= w {
				continue
			}
			// Uneven shading inside the square keeps the correlation peak sharp.
			img.SetGray(x, y, color.Gray{Y: uint8(180 + (x-col+half)*4)})
		}
	}
	return img
}

// WriteFrames writes imgs as PNG files <root>/<dataset>/frames/frame_NNNN.png.
func WriteFrames(t testing.TB, fs fsutil.FileSystem, root, dataset string, imgs []image.Image) []string {
	t.Helper()
	dir := filepath.Join(root, dataset, "frames")
	AssertNoError(t, fs.MkdirAll(dir, 0755))

	paths := make([]string, len(imgs))
	for i, img := range imgs {
		var buf bytes.Buffer
		AssertNoError(t, png.Encode(&buf, img))
		paths[i] = filepath.Join(dir, fmt.Sprintf("frame_%04d.png", i))
		AssertNoError(t, fs.WriteFile(paths[i], buf.Bytes(), 0644))
	}
	return paths
}
