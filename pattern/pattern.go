/*
Package pattern reads exposure patterns and projects them into stage space.

A pattern file is a whitespace or comma separated numeric table.  The first
row is a header and is skipped.  Every following row holds x, y, and then a
trailing marker column which is ignored.  Blank lines and lines beginning
with # are skipped.

	x y marker
	0 0 1
	10 0 1
	10 10 0
*/
package pattern

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/transform"
)

var (
	// ErrMissingReference is returned by Project when either reference point is unset
	ErrMissingReference = fault.NewPrecondition("positions not defined, set both reference points")

	// ErrEmptyPattern is a warning returned alongside an empty projection
	ErrEmptyPattern = errors.New("exposure list not loaded, pattern is empty")

	// ErrBadScale is returned by Project for a scale that is not strictly positive
	ErrBadScale = fault.NewPrecondition("pattern scale must be > 0")
)

// Pattern is an ordered list of pattern-local points.  The order is the
// order in which they are exposed.
type Pattern []transform.Point

// Parse reads a pattern table from r
func Parse(r io.Reader) (Pattern, error) {
	var (
		out    = Pattern{}
		header = true
		line   int
	)
	scn := bufio.NewScanner(r)
	for scn.Scan() {
		line++
		txt := strings.TrimSpace(scn.Text())
		if txt == "" || strings.HasPrefix(txt, "#") {
			continue
		}
		if header {
			header = false
			continue
		}
		fields := strings.FieldsFunc(txt, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == ';'
		})
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected at least x and y, got %d column(s)", line, len(fields))
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: x", line)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: y", line)
		}
		out = append(out, transform.Point{X: x, Y: y})
	}
	if err := scn.Err(); err != nil {
		return nil, errors.Wrap(err, "reading pattern")
	}
	return out, nil
}

// Load reads a pattern from the file at path
func Load(path string) (Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "loading pattern %s", path)
	}
	return p, nil
}

// Projection is a pattern carried into absolute stage coordinates
type Projection struct {
	// Positions are the stage positions, in pattern order
	Positions []transform.Point

	// Transform is the affine that produced Positions
	Transform transform.Affine
}

// Len is the number of positions
func (p Projection) Len() int {
	return len(p.Positions)
}

// Pixels returns each position in pixel space as seen with the stage at
// stage, for drawing over the live image
func (p Projection) Pixels(stage transform.Point, cal transform.Calibration) []transform.Point {
	out := make([]transform.Point, len(p.Positions))
	for i, s := range p.Positions {
		out[i] = transform.StepToPixel(s, stage, cal)
	}
	return out
}

// Project rotates, scales, and anchors raw onto the reference points.
// If raw is empty the returned projection is valid but empty and the error
// is ErrEmptyPattern, which callers should treat as a warning.
func Project(raw Pattern, refs transform.ReferencePoints, scale, stepsPerMicron float64) (Projection, error) {
	if !refs.Complete() {
		return Projection{}, ErrMissingReference
	}
	if !(scale > 0) {
		return Projection{}, ErrBadScale
	}
	if !(stepsPerMicron > 0) {
		return Projection{}, fault.NewPrecondition(fmt.Sprintf("steps per micron must be > 0, got %g", stepsPerMicron))
	}
	aff := transform.DeriveCalibrationTransform(*refs.P1, *refs.P2, scale, stepsPerMicron)
	proj := Projection{Positions: aff.ApplyAll(raw), Transform: aff}
	if len(raw) == 0 {
		return proj, ErrEmptyPattern
	}
	return proj, nil
}
