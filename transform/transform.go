/*
Package transform converts between camera pixel space and stage-step space,
and derives the rotation that carries a pattern onto two operator-marked
reference points.

Pixel space has its origin at the top-left of the sensor.  Stage-step space
is the native unit of the motorized stage controller.  The two are related by
a Calibration: the pixel scale (microns per pixel), the stage scale (steps per
micron), and the pixel that lies on the optical axis of the illumination spot.
The stage x axis runs opposite the camera x axis on the instrument this was
built for, which is why PixelToStep subtracts in x and adds in y.
*/
package transform

import (
	"fmt"
	"math"

	"github.com/nasa-jpl/daisy/fault"
)

const (
	// DefaultMicronsPerPixel is the pixel scale of a 2560x2160 sCMOS behind a 40x objective
	DefaultMicronsPerPixel = 0.1705

	// DefaultStepsPerMicron is the stage calibration of the motorized XY stage
	DefaultStepsPerMicron = 0.8

	// DefaultOriginX is the x pixel of the UV spot on the camera
	DefaultOriginX = 1106

	// DefaultOriginY is the y pixel of the UV spot on the camera
	DefaultOriginY = 1149
)

// Point is a location in pixel space or stage-step space
type Point struct {
	X float64 `json:"x" yaml:"X" koanf:"x"`
	Y float64 `json:"y" yaml:"Y" koanf:"y"`
}

// Add returns p+o
func (p Point) Add(o Point) Point {
	return Point{X: p.X + o.X, Y: p.Y + o.Y}
}

// Sub returns p-o
func (p Point) Sub(o Point) Point {
	return Point{X: p.X - o.X, Y: p.Y - o.Y}
}

// Distance returns the euclidean distance between p and o
func (p Point) Distance(o Point) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

func (p Point) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", p.X, p.Y)
}

// Calibration relates pixel space to stage-step space
type Calibration struct {
	// MicronsPerPixel is the size of one camera pixel at the sample
	MicronsPerPixel float64 `json:"micronsPerPixel" yaml:"MicronsPerPixel" koanf:"micronsperpixel"`

	// StepsPerMicron is the number of stage steps per micron of travel
	StepsPerMicron float64 `json:"stepsPerMicron" yaml:"StepsPerMicron" koanf:"stepspermicron"`

	// Origin is the pixel on the optical axis of the illumination spot
	Origin Point `json:"origin" yaml:"Origin" koanf:"origin"`
}

// DefaultCalibration returns the calibration used at startup
func DefaultCalibration() Calibration {
	return Calibration{
		MicronsPerPixel: DefaultMicronsPerPixel,
		StepsPerMicron:  DefaultStepsPerMicron,
		Origin:          Point{X: DefaultOriginX, Y: DefaultOriginY},
	}
}

// Validate returns a precondition fault if either conversion factor is not
// strictly positive.  The origin is not checked against the sensor bounds.
func (c Calibration) Validate() error {
	if !(c.MicronsPerPixel > 0) {
		return fault.NewPrecondition(fmt.Sprintf("microns per pixel must be > 0, got %g", c.MicronsPerPixel))
	}
	if !(c.StepsPerMicron > 0) {
		return fault.NewPrecondition(fmt.Sprintf("steps per micron must be > 0, got %g", c.StepsPerMicron))
	}
	return nil
}

// StepsPerPixel is the number of stage steps spanned by one camera pixel
func (c Calibration) StepsPerPixel() float64 {
	return c.MicronsPerPixel * c.StepsPerMicron
}

// PixelToStep converts a pixel to the stage position that would place it
// under the illumination spot, given the current stage position.
func PixelToStep(px, stage Point, c Calibration) Point {
	k := c.StepsPerPixel()
	return Point{
		X: stage.X - (px.X-c.Origin.X)*k,
		Y: stage.Y + (px.Y-c.Origin.Y)*k,
	}
}

// StepToPixel is the inverse of PixelToStep
func StepToPixel(s, stage Point, c Calibration) Point {
	k := c.StepsPerPixel()
	return Point{
		X: -(s.X-stage.X)/k + c.Origin.X,
		Y: (s.Y-stage.Y)/k + c.Origin.Y,
	}
}

// ReferencePoints are the two stage positions the operator marks to fix the
// orientation and anchor of a pattern.  A nil member is unset.
type ReferencePoints struct {
	P1 *Point `json:"p1" yaml:"P1"`
	P2 *Point `json:"p2" yaml:"P2"`
}

// Complete returns true if both points are set
func (r ReferencePoints) Complete() bool {
	return r.P1 != nil && r.P2 != nil
}

// Set stores p as reference n, which must be 1 or 2
func (r *ReferencePoints) Set(n int, p Point) error {
	switch n {
	case 1:
		r.P1 = &p
	case 2:
		r.P2 = &p
	default:
		return fault.NewPrecondition(fmt.Sprintf("reference point must be 1 or 2, got %d", n))
	}
	return nil
}
