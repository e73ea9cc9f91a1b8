package camera

import (
	"bytes"
	"context"
	"image"
	"time"

	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/generichttp"
	"github.com/nasa-jpl/daisy/util"
)

// HTTPCamera is a camera served over HTTP with the /exposure-time and
// /image?fmt=fits routes
type HTTPCamera struct {
	c *generichttp.Client
}

// NewHTTPCamera returns a camera client for the server at base
func NewHTTPCamera(base string) *HTTPCamera {
	c := generichttp.NewClient(base)
	c.HTTP.Timeout = 30 * time.Second
	return &HTTPCamera{c: c}
}

// SetExposureTime sets the exposure time
func (h *HTTPCamera) SetExposureTime(d time.Duration) error {
	return fault.NewDevice("camera set exposure", h.c.PostFloat("/exposure-time", d.Seconds()))
}

// GetExposureTime gets the exposure time
func (h *HTTPCamera) GetExposureTime() (time.Duration, error) {
	f, err := h.c.GetFloat("/exposure-time")
	if err != nil {
		return 0, fault.NewDevice("camera get exposure", err)
	}
	return util.SecsToDuration(f), nil
}

// GetFrame fetches a frame as FITS and decodes it
func (h *HTTPCamera) GetFrame(ctx context.Context) (*image.Gray16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := h.c.GetRaw("/image?fmt=fits")
	if err != nil {
		return nil, fault.NewDevice("camera capture", err)
	}
	img, _, err := ReadFits(bytes.NewReader(buf))
	if err != nil {
		return nil, fault.NewDevice("camera decode", err)
	}
	return img, nil
}
