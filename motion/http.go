package motion

import (
	"net/url"

	"github.com/nasa-jpl/daisy/generichttp"
)

// HTTPMover is a Mover backed by a motion controller served over HTTP with
// the /axis/{axis}/pos and /axis/{axis}/inposition routes
type HTTPMover struct {
	c *generichttp.Client
}

// NewHTTPMover returns a mover for the controller at base,
// e.g. http://192.168.100.10:8000/xy
func NewHTTPMover(base string) *HTTPMover {
	return &HTTPMover{c: generichttp.NewClient(base)}
}

func axisPath(axis, leaf string) string {
	return "/axis/" + url.PathEscape(axis) + "/" + leaf
}

// GetPos gets the position of an axis
func (h *HTTPMover) GetPos(axis string) (float64, error) {
	return h.c.GetFloat(axisPath(axis, "pos"))
}

// MoveAbs moves an axis to an absolute position
func (h *HTTPMover) MoveAbs(axis string, pos float64) error {
	return h.c.PostFloat(axisPath(axis, "pos"), pos)
}

// MoveRel moves an axis by a relative amount
func (h *HTTPMover) MoveRel(axis string, delta float64) error {
	return h.c.PostFloat(axisPath(axis, "pos")+"?relative=true", delta)
}

// GetInPosition returns true if the axis is in position
func (h *HTTPMover) GetInPosition(axis string) (bool, error) {
	return h.c.GetBool(axisPath(axis, "inposition"))
}

// Home homes an axis
func (h *HTTPMover) Home(axis string) error {
	return h.c.Post(axisPath(axis, "home"))
}
