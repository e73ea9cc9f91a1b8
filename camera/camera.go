/*
Package camera describes the imaging collaborator and the frames it produces.

A Camera captures one 16-bit frame per GetFrame call at the exposure last set
with SetExposureTime.  Synthetic draws a noisy test pattern with a bright
disc where the UV spot would be, for running without hardware.  HTTPCamera
drives a camera served by another process.
*/
package camera

import (
	"context"
	"image"
	"time"

	"github.com/nasa-jpl/daisy/fault"
)

// ErrBadExposure is returned for a negative exposure time
var ErrBadExposure = fault.NewPrecondition("exposure time must not be negative")

// Camera is a device which can capture images
type Camera interface {
	// SetExposureTime sets the exposure time
	SetExposureTime(time.Duration) error

	// GetExposureTime gets the exposure time
	GetExposureTime() (time.Duration, error)

	// GetFrame triggers capture of a frame and returns it
	GetFrame(context.Context) (*image.Gray16, error)
}

// Frame is a captured image and the conditions it was taken under.
// Frames are shared between goroutines and must not be modified.
type Frame struct {
	*image.Gray16

	// Exposure is the exposure time the frame was taken with
	Exposure time.Duration

	// Captured is when GetFrame returned
	Captured time.Time

	// Seq is the acquisition sequence number, starting at 1
	Seq uint64
}

// Value returns the raw value at pixel (x, y) and false if it is out of bounds
func (f *Frame) Value(x, y int) (uint16, bool) {
	if f == nil || f.Gray16 == nil || !(image.Point{X: x, Y: y}).In(f.Bounds()) {
		return 0, false
	}
	return f.Gray16At(x, y).Y, true
}
