// Package groundtruth loads hand-labelled track positions and resolves the
// frame windows they are evaluated over.
//
// Ground truth files store (x, y) with y measured from the image bottom.
// Everything inside this module uses (row, col) with the row measured from
// the image top; FromCSV and ToCSV convert between the two.
package groundtruth

import (
	"fmt"
	"math"
	"strconv"
)

// Position is an image-space coordinate with a top-origin row.
type Position struct {
	Row float64
	Col float64
}

// Missing is the placeholder for a frame without a label.
var Missing = Position{Row: math.NaN(), Col: math.NaN()}

// IsMissing reports whether either component is NaN.
func (p Position) IsMissing() bool {
	return math.IsNaN(p.Row) || math.IsNaN(p.Col)
}

func (p Position) String() string {
	return fmt.Sprintf("(%g, %g)", p.Row, p.Col)
}

// FromCSV converts a bottom-origin (x, y) label to a top-origin position.
func FromCSV(x, y float64, imageHeight int) Position {
	return Position{Row: float64(imageHeight) - y, Col: x}
}

// ToCSV converts a position back to the bottom-origin (x, y) label format.
func ToCSV(p Position, imageHeight int) (x, y float64) {
	return p.Col, float64(imageHeight) - p.Row
}

// FrameSlice is a half-open frame window [Start, Stop). A nil bound is open.
type FrameSlice struct {
	Start *int
	Stop  *int
}

// Window builds a closed-bounds FrameSlice.
func Window(start, stop int) FrameSlice {
	return FrameSlice{Start: &start, Stop: &stop}
}

// Contains reports whether frame lies inside the window.
func (s FrameSlice) Contains(frame int) bool {
	if s.Start != nil && frame < *s.Start {
		return false
	}
	if s.Stop != nil && frame >= *s.Stop {
		return false
	}
	return true
}

func (s FrameSlice) String() string {
	bound := func(v *int) string {
		if v == nil {
			return "_"
		}
		return strconv.Itoa(*v)
	}
	return "[" + bound(s.Start) + ", " + bound(s.Stop) + ")"
}
