// Package camera provides a generic HTTP interface to a camera.Camera
package camera

import (
	"encoding/json"
	"go/types"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/daisy/camera"
	"github.com/nasa-jpl/daisy/generichttp"
	"github.com/nasa-jpl/daisy/imgrec"
	"github.com/nasa-jpl/daisy/util"
)

// MetadataMaker can produce an array of FITS cards
type MetadataMaker interface {
	// CollectHeaderMetadata produces an array of FITS cards
	CollectHeaderMetadata() []fitsio.Card
}

// HTTPPicture injects HTTP methods into a route table for a camera.
// rec may be nil.  The routes are
//
//	GET  /exposure-time  {'f64': seconds}
//	POST /exposure-time  {'f64': seconds} or ?exposureTime=25ms
//	GET  /image          ?fmt=jpg|png|fits&exposureTime=25ms
func HTTPPicture(c camera.Camera, table generichttp.RouteTable, rec *imgrec.Recorder) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure-time"}] = GetExposureTime(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure-time"}] = SetExposureTime(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/image"}] = GetFrame(c, rec)
}

// parseExposure parses a duration from a query parameter; a bare number is seconds
func parseExposure(texp string) (time.Duration, error) {
	if util.AllElementsNumbers(texp) {
		texp = texp + "s"
	}
	return time.ParseDuration(texp)
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
func SetExposureTime(c camera.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		texp := r.URL.Query().Get("exposureTime")
		var d time.Duration
		var err error
		if texp == "" {
			f := generichttp.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			d = util.SecsToDuration(f.F64)
		} else {
			d, err = parseExposure(texp)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = c.SetExposureTime(d)
		if err != nil {
			http.Error(w, err.Error(), generichttp.StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetExposureTime gets the exposure time in seconds on a GET request
func GetExposureTime(c camera.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := c.GetExposureTime()
		if err != nil {
			http.Error(w, err.Error(), generichttp.StatusFor(err))
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: d.Seconds()}
		hp.EncodeAndRespond(w, r)
	}
}

// GetFrame takes a picture and returns it on a GET request.
//
// the image format may be specified in a query parameter; default to jpg.
// jpg and png are the high byte of each pixel.
//
// the exposure time may be specified as a query parameter in any time-looking
// format, such as "25ms" or "10us".  If no unit is appended, an s (seconds) is
// added.  If no exposure time is provided the existing value is used.
//
// fits frames are also written to rec when it is enabled.
func GetFrame(c camera.Camera, rec *imgrec.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if texp := q.Get("exposureTime"); texp != "" {
			d, err := parseExposure(texp)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			err = c.SetExposureTime(d)
			if err != nil {
				http.Error(w, err.Error(), generichttp.StatusFor(err))
				return
			}
		}
		img, err := c.GetFrame(r.Context())
		if err != nil {
			http.Error(w, err.Error(), generichttp.StatusFor(err))
			return
		}

		format := q.Get("fmt")
		if format == "" {
			format = "jpg"
		}
		switch format {
		case "jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.WriteHeader(http.StatusOK)
			jpeg.Encode(w, highByte(img), nil)
		case "png":
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			png.Encode(w, highByte(img))
		case "fits":
			cards := []fitsio.Card{}
			if carder, ok := c.(MetadataMaker); ok {
				cards = carder.CollectHeaderMetadata()
			}
			if d, err := c.GetExposureTime(); err == nil {
				cards = append(cards, fitsio.Card{Name: "EXPTIME", Value: d.Seconds(), Comment: "exposure time, seconds"})
			}
			if rec != nil && rec.IsEnabled() {
				if _, err := rec.Save(img, cards); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
			hdr := w.Header()
			hdr.Set("Content-Type", "image/fits")
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			err = camera.WriteFits(w, cards, img)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		default:
			http.Error(w, "format must be one of jpg, png, fits", http.StatusBadRequest)
		}
	}
}

// WriteImage encodes img as jpg or png to w
func WriteImage(w io.Writer, img image.Image, format string) error {
	if format == "png" {
		return png.Encode(w, img)
	}
	return jpeg.Encode(w, img, nil)
}

// highByte scales a 16 bit image to 8 bits
func highByte(img *image.Gray16) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Pix[out.PixOffset(x, y)] = img.Pix[img.PixOffset(x, y)]
		}
	}
	return out
}
