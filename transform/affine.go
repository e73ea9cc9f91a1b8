package transform

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Epsilon is added to the x separation of the reference points so the
// rotation stays defined when both share an x coordinate
const Epsilon = 1e-10

// Affine carries pattern-local coordinates into absolute stage steps
type Affine struct {
	// Alpha is the rotation angle in radians
	Alpha float64

	// Scale is patternScale * stepsPerMicron
	Scale float64

	// Offset is the stage position of pattern point (0, 0), the first reference
	Offset Point

	rot *mat.Dense
}

// DeriveCalibrationTransform builds the transform that rotates a pattern onto
// the line from p1 to p2 and anchors it at p1.  p1 == p2 is accepted; the
// rotation is then zero and the geometry is the operator's to judge.
func DeriveCalibrationTransform(p1, p2 Point, patternScale, stepsPerMicron float64) Affine {
	alpha := math.Atan2(p2.Y-p1.Y, p2.X-p1.X+Epsilon)
	s, c := math.Sincos(alpha)
	return Affine{
		Alpha:  alpha,
		Scale:  patternScale * stepsPerMicron,
		Offset: p1,
		rot:    mat.NewDense(2, 2, []float64{c, -s, s, c}),
	}
}

// Rotation returns a copy of the 2x2 rotation matrix
func (a Affine) Rotation() *mat.Dense {
	return mat.DenseCopyOf(a.rotation())
}

func (a Affine) rotation() *mat.Dense {
	if a.rot == nil {
		s, c := math.Sincos(a.Alpha)
		return mat.NewDense(2, 2, []float64{c, -s, s, c})
	}
	return a.rot
}

// Apply maps a pattern point to an absolute stage position.  The pattern axes
// are mirrored into stage axes, so (1, 0) lands at Offset - (Scale, 0) when
// Alpha is zero.
func (a Affine) Apply(q Point) Point {
	v := mat.NewVecDense(2, []float64{-q.X * a.Scale, -q.Y * a.Scale})
	var out mat.VecDense
	out.MulVec(a.rotation(), v)
	return Point{X: a.Offset.X + out.AtVec(0), Y: a.Offset.Y + out.AtVec(1)}
}

// ApplyAll maps every point of pts, preserving order
func (a Affine) ApplyAll(pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = a.Apply(p)
	}
	return out
}
