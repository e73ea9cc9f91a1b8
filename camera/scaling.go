package camera

import (
	"image"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// AutoLowPercentile is the lower display limit under auto scaling
	AutoLowPercentile = 5

	// AutoHighPercentile is the upper display limit under auto scaling
	AutoHighPercentile = 95

	// maxPercentileSamples bounds the pixels sorted to find the percentiles
	maxPercentileSamples = 1 << 18
)

// Scaling selects how a 16-bit frame is mapped to 8 bits for display
type Scaling struct {
	// Auto uses the 5th and 95th percentiles of the frame
	Auto bool `json:"auto" yaml:"Auto"`

	// Min and Max are the fixed limits when Auto is false
	Min float64 `json:"min" yaml:"Min"`
	Max float64 `json:"max" yaml:"Max"`
}

// DefaultScaling is auto scaling
func DefaultScaling() Scaling {
	return Scaling{Auto: true, Min: 0, Max: 65535}
}

// Limits returns the input range that maps to [0, 255].  The range never has
// zero width; when min == max, max is moved to min+1.
func (s Scaling) Limits(img *image.Gray16) (lo, hi float64) {
	if s.Auto {
		lo, hi = Percentiles(img, AutoLowPercentile, AutoHighPercentile)
	} else {
		lo, hi = s.Min, s.Max
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

// Percentiles returns the p1-th and p2-th percentiles (0-100) of the pixel
// values, linearly interpolated.  Large frames are decimated to at most a
// quarter million samples before sorting.
func Percentiles(img *image.Gray16, p1, p2 float64) (float64, float64) {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0, 0
	}
	step := 1
	if n > maxPercentileSamples {
		step = n / maxPercentileSamples
	}
	x := make([]float64, 0, n/step+1)
	// i counts pixels of the rectangle in row order; rows may not be
	// contiguous in Pix
	w := b.Dx()
	for i := 0; i < n; i += step {
		off := img.PixOffset(b.Min.X+i%w, b.Min.Y+i/w)
		x = append(x, float64(uint16(img.Pix[off])<<8|uint16(img.Pix[off+1])))
	}
	sort.Float64s(x)
	return stat.Quantile(p1/100, stat.LinInterp, x, nil), stat.Quantile(p2/100, stat.LinInterp, x, nil)
}

// Rescale maps img to 8 bits, clipping values outside [lo, hi]
func Rescale(img *image.Gray16, lo, hi float64) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	span := hi - lo
	if span == 0 {
		span = 1
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := (float64(img.Gray16At(x, y).Y) - lo) / span * 255
			switch {
			case v < 0:
				v = 0
			case v > 255:
				v = 255
			}
			out.Pix[out.PixOffset(x, y)] = uint8(v + 0.5)
		}
	}
	return out
}
