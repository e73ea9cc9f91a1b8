// Package motion contains the interfaces for the sample stage and its
// implementations: an adapter from per-axis controllers to an XY(Z) stage,
// a client for controllers exposed over HTTP, software limits, and a mock.
package motion

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/transform"
)

var (
	// ErrNotInPosition is returned when an axis does not report in position
	// before the wait expires
	ErrNotInPosition = errors.New("axis did not reach position in time")
)

// Mover describes an interface with position-related methods for axes
type Mover interface {
	// GetPos gets the current position of an axis
	GetPos(string) (float64, error)

	// MoveAbs moves an axis to an absolute position
	MoveAbs(string, float64) error

	// MoveRel moves an axis a relative amount
	MoveRel(string, float64) error
}

// InPositionQueryer is a type which can query whether an axis is in position
type InPositionQueryer interface {
	// GetInPosition returns True if the axis is in position
	GetInPosition(string) (bool, error)
}

// Stage is an XY sample stage in step units
type Stage interface {
	// GetPosition returns the current XY position
	GetPosition() (transform.Point, error)

	// MoveAbsolute moves to p and returns once the stage confirms arrival
	MoveAbsolute(context.Context, transform.Point) error

	// MoveRelative moves by d and returns once the stage confirms arrival
	MoveRelative(context.Context, transform.Point) error
}

// Focuser moves the objective along the optical axis
type Focuser interface {
	GetFocus() (float64, error)
	MoveFocus(context.Context, float64) error
}

// AxisStage presents a per-axis controller as a Stage and Focuser
type AxisStage struct {
	Mov Mover

	// X, Y, and Z are the controller's axis names
	X, Y, Z string

	// MaxWait bounds the in-position wait after each move
	MaxWait time.Duration
}

// NewAxisStage returns a stage over m using axes "X", "Y", and "Z"
func NewAxisStage(m Mover) *AxisStage {
	return &AxisStage{Mov: m, X: "X", Y: "Y", Z: "Z", MaxWait: 30 * time.Second}
}

// GetPosition returns the XY position
func (s *AxisStage) GetPosition() (transform.Point, error) {
	x, err := s.Mov.GetPos(s.X)
	if err != nil {
		return transform.Point{}, fault.NewDevice("stage get position", err)
	}
	y, err := s.Mov.GetPos(s.Y)
	if err != nil {
		return transform.Point{}, fault.NewDevice("stage get position", err)
	}
	return transform.Point{X: x, Y: y}, nil
}

// MoveAbsolute moves X then Y and waits for both to settle
func (s *AxisStage) MoveAbsolute(ctx context.Context, p transform.Point) error {
	if err := s.Mov.MoveAbs(s.X, p.X); err != nil {
		return fault.NewDevice("stage move", err)
	}
	if err := s.Mov.MoveAbs(s.Y, p.Y); err != nil {
		return fault.NewDevice("stage move", err)
	}
	return s.wait(ctx, s.X, s.Y)
}

// MoveRelative moves X then Y by d and waits for both to settle
func (s *AxisStage) MoveRelative(ctx context.Context, d transform.Point) error {
	if d.X != 0 {
		if err := s.Mov.MoveRel(s.X, d.X); err != nil {
			return fault.NewDevice("stage move", err)
		}
	}
	if d.Y != 0 {
		if err := s.Mov.MoveRel(s.Y, d.Y); err != nil {
			return fault.NewDevice("stage move", err)
		}
	}
	return s.wait(ctx, s.X, s.Y)
}

// GetFocus returns the Z position
func (s *AxisStage) GetFocus() (float64, error) {
	z, err := s.Mov.GetPos(s.Z)
	return z, fault.NewDevice("focus get position", err)
}

// MoveFocus moves Z by dz
func (s *AxisStage) MoveFocus(ctx context.Context, dz float64) error {
	if err := s.Mov.MoveRel(s.Z, dz); err != nil {
		return fault.NewDevice("focus move", err)
	}
	return s.wait(ctx, s.Z)
}

// wait polls GetInPosition, if the controller supports it, at exponentially
// growing intervals until every axis reports in position.  ctx ending during
// the wait returns ctx.Err().
func (s *AxisStage) wait(ctx context.Context, axes ...string) error {
	inpos, ok := s.Mov.(InPositionQueryer)
	if !ok {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	arrived := func() (bool, error) {
		for _, ax := range axes {
			in, err := inpos.GetInPosition(ax)
			if err != nil || !in {
				return false, err
			}
		}
		return true, nil
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         100 * time.Millisecond,
		MaxElapsedTime:      s.MaxWait,
		Clock:               backoff.SystemClock}
	b.Reset()
	for {
		in, err := arrived()
		if err != nil {
			return fault.NewDevice("stage wait", err)
		}
		if in {
			return nil
		}
		next := b.NextBackOff()
		if next == backoff.Stop {
			return fault.NewDevice("stage wait", ErrNotInPosition)
		}
		t := time.NewTimer(next)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
