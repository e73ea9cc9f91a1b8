package motion

import (
	"fmt"

	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/util"
)

// Limited imposes software limits on a mover.  A move that would leave the
// limits of its axis is refused before any command is sent.
type Limited struct {
	Mover

	// Limits maps axis names to their limits.  Axes without an entry are unlimited.
	Limits map[string]util.Limiter
}

// MoveAbs moves axis to pos if pos is within limits
func (l *Limited) MoveAbs(axis string, pos float64) error {
	if err := l.Check(axis, pos); err != nil {
		return err
	}
	return l.Mover.MoveAbs(axis, pos)
}

// MoveRel moves axis by delta if the destination is within limits
func (l *Limited) MoveRel(axis string, delta float64) error {
	if _, ok := l.Limits[axis]; ok {
		cur, err := l.Mover.GetPos(axis)
		if err != nil {
			return err
		}
		if err := l.Check(axis, cur+delta); err != nil {
			return err
		}
	}
	return l.Mover.MoveRel(axis, delta)
}

// GetInPosition passes through to the wrapped mover, reporting in position
// if it cannot be queried
func (l *Limited) GetInPosition(axis string) (bool, error) {
	if iq, ok := l.Mover.(InPositionQueryer); ok {
		return iq.GetInPosition(axis)
	}
	return true, nil
}

// Limit returns the limits of axis, if it has any
func (l *Limited) Limit(axis string) (util.Limiter, bool) {
	lim, ok := l.Limits[axis]
	return lim, ok
}

// Check returns a precondition fault if pos is outside the limits of axis
func (l *Limited) Check(axis string, pos float64) error {
	lim, ok := l.Limits[axis]
	if !ok || lim.Check(pos) {
		return nil
	}
	return fault.NewPrecondition(fmt.Sprintf("requested position %g on axis %s violates software limits [%g, %g], aborted",
		pos, axis, lim.Min, lim.Max))
}
