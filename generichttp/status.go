package generichttp

import (
	"net/http"

	"github.com/nasa-jpl/daisy/fault"
)

// StatusFor maps an error to an HTTP status code by its fault kind.
// Precondition faults are the client's to fix (409), a missing spot is
// 422, a device fault is 502, and everything else is a 500.
func StatusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.Precondition:
		return http.StatusConflict
	case fault.NoSpot:
		return http.StatusUnprocessableEntity
	case fault.Device:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
