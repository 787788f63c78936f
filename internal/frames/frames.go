// Package frames lists a dataset's frame images and decodes them into
// grayscale matrices for the tracker.
package frames

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"

	"github.com/BossBobxuan/dsst-eval/internal/fsutil"
	"github.com/BossBobxuan/dsst-eval/internal/groundtruth"
)

// Luminance weights (ITU-R BT.709), so intensities are in [0, 1].
const (
	lumaR = 0.2125
	lumaG = 0.7154
	lumaB = 0.0721
)

// SupportedExtensions are the frame file extensions Directory picks up.
var SupportedExtensions = []string{".png", ".bmp", ".tif", ".tiff", ".jpg", ".jpeg"}

// Source provides frames by position. Frame i of a dataset is the i-th
// image in sorted file name order.
type Source interface {
	Count() int
	Frame(i int) (*mat.Dense, error)
}

// Size returns the height and width of frame 0.
func Size(src Source) (height, width int, err error) {
	if src.Count() == 0 {
		return 0, 0, fmt.Errorf("frame source is empty")
	}
	f, err := src.Frame(0)
	if err != nil {
		return 0, 0, err
	}
	height, width = f.Dims()
	return height, width, nil
}

// Directory reads frames from <root>/<dataset>/frames.
type Directory struct {
	fs      fsutil.FileSystem
	dataset string
	paths   []string
}

// OpenDirectory lists the frame images of dataset. A nil fs uses the OS
// filesystem.
func OpenDirectory(fs fsutil.FileSystem, root, dataset string) (*Directory, error) {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	all, err := fs.Glob(filepath.Join(root, dataset, "frames", "*"))
	if err != nil {
		return nil, fmt.Errorf("list frames of %q: %w", dataset, err)
	}

	var paths []string
	for _, p := range all {
		ext := strings.ToLower(filepath.Ext(p))
		for _, supported := range SupportedExtensions {
			if ext == supported {
				paths = append(paths, p)
				break
			}
		}
	}
	sort.Strings(paths)
	return &Directory{fs: fs, dataset: dataset, paths: paths}, nil
}

// Count returns the number of frames.
func (d *Directory) Count() int { return len(d.paths) }

// Path returns the file backing frame i.
func (d *Directory) Path(i int) string { return d.paths[i] }

// Frame decodes frame i.
func (d *Directory) Frame(i int) (*mat.Dense, error) {
	if i < 0 || i >= len(d.paths) {
		return nil, &groundtruth.NotFoundError{Kind: "frame", Dataset: d.dataset, Number: i}
	}
	f, err := d.fs.Open(d.paths[i])
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", d.paths[i], err)
	}
	defer f.Close()

	gray, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", d.paths[i], err)
	}
	return gray, nil
}

// Decode reads any registered image format and converts it to grayscale.
func Decode(r io.Reader) (*mat.Dense, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	return ToGray(img), nil
}

// ToGray converts img to a rows x cols luminance matrix in [0, 1].
func ToGray(img image.Image) *mat.Dense {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	data := make([]float64, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			if g, ok := c.(color.Gray); ok {
				data[y*cols+x] = float64(g.Y) / 255
				continue
			}
			r, g, bl, _ := c.RGBA()
			data[y*cols+x] = (lumaR*float64(r) + lumaG*float64(g) + lumaB*float64(bl)) / 0xffff
		}
	}
	return mat.NewDense(rows, cols, data)
}

// Slice is an in-memory Source.
type Slice []*mat.Dense

// Count returns the number of frames.
func (s Slice) Count() int { return len(s) }

// Frame returns frame i.
func (s Slice) Frame(i int) (*mat.Dense, error) {
	if i < 0 || i >= len(s) {
		return nil, &groundtruth.NotFoundError{Kind: "frame", Number: i}
	}
	return s[i], nil
}
