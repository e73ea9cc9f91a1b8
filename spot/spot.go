/*
Package spot locates the illumination spot in a camera frame.

The estimator looks for local maxima in a 16-bit frame that exceed a fraction
of the frame's global maximum, keeps the brightest few, and asks a Policy to
pick one.  The default policy keeps the rightmost candidate.
*/
package spot

import (
	"image"
	"math"
	"sort"

	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/transform"
)

const (
	// DefaultThreshold is the fraction of the frame maximum a peak must exceed
	DefaultThreshold = 0.5

	// DefaultNumPeaks is the number of brightest peaks passed to the policy
	DefaultNumPeaks = 1
)

// ErrNoSpotDetected is returned when no local maximum clears the threshold
var ErrNoSpotDetected = fault.NewNoSpot("no spot detected")

// Peak is a candidate local maximum
type Peak struct {
	X, Y  int
	Value uint16
}

// Point returns the pixel coordinates of the peak
func (p Peak) Point() transform.Point {
	return transform.Point{X: float64(p.X), Y: float64(p.Y)}
}

// Policy selects one peak from a non-empty candidate list
type Policy func([]Peak) Peak

// Rightmost picks the peak with the largest x, breaking ties by intensity
func Rightmost(peaks []Peak) Peak {
	best := peaks[0]
	for _, p := range peaks[1:] {
		if p.X > best.X || (p.X == best.X && p.Value > best.Value) {
			best = p
		}
	}
	return best
}

// Brightest picks the peak with the highest value, breaking ties by the larger x
func Brightest(peaks []Peak) Peak {
	best := peaks[0]
	for _, p := range peaks[1:] {
		if p.Value > best.Value || (p.Value == best.Value && p.X > best.X) {
			best = p
		}
	}
	return best
}

// Nearest returns a policy that picks the peak closest to pt
func Nearest(pt transform.Point) Policy {
	return func(peaks []Peak) Peak {
		best := peaks[0]
		bestD := best.Point().Distance(pt)
		for _, p := range peaks[1:] {
			if d := p.Point().Distance(pt); d < bestD {
				best, bestD = p, d
			}
		}
		return best
	}
}

// PolicyByName maps a configuration string to a policy.  Unknown names
// return Rightmost and false.
func PolicyByName(name string) (Policy, bool) {
	switch name {
	case "", "rightmost":
		return Rightmost, true
	case "brightest":
		return Brightest, true
	}
	return Rightmost, false
}

// Estimator finds the spot center in a frame.  The zero value is not usable;
// use NewEstimator.
type Estimator struct {
	// Threshold is the fraction of the frame maximum a peak must strictly exceed
	Threshold float64

	// NumPeaks limits the candidates handed to Policy to the N brightest
	NumPeaks int

	// CentroidRadius, if > 0, refines the chosen peak to the intensity-weighted
	// centroid of the square window of this half-width around it
	CentroidRadius int

	// Policy picks among the candidates
	Policy Policy
}

// NewEstimator returns an estimator with the default threshold, one peak,
// and the rightmost policy
func NewEstimator() *Estimator {
	return &Estimator{
		Threshold: DefaultThreshold,
		NumPeaks:  DefaultNumPeaks,
		Policy:    Rightmost,
	}
}

// Peaks returns every local maximum of img above the threshold, brightest
// first.  Pixels on the outermost row and column are never peaks.
func (e *Estimator) Peaks(img *image.Gray16) []Peak {
	b := img.Bounds()
	var max uint16
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if v := img.Gray16At(x, y).Y; v > max {
				max = v
			}
		}
	}
	cutoff := e.Threshold * float64(max)
	var peaks []Peak
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			v := img.Gray16At(x, y).Y
			if float64(v) <= cutoff {
				continue
			}
			if isLocalMax(img, x, y, v) {
				peaks = append(peaks, Peak{X: x, Y: y, Value: v})
			}
		}
	}
	sort.SliceStable(peaks, func(i, j int) bool {
		return peaks[i].Value > peaks[j].Value
	})
	return peaks
}

func isLocalMax(img *image.Gray16, x, y int, v uint16) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if img.Gray16At(x+dx, y+dy).Y > v {
				return false
			}
		}
	}
	return true
}

// Estimate returns the pixel coordinates of the spot center, or
// ErrNoSpotDetected
func (e *Estimator) Estimate(img *image.Gray16) (transform.Point, error) {
	if img == nil {
		return transform.Point{}, ErrNoSpotDetected
	}
	peaks := e.Peaks(img)
	if len(peaks) == 0 {
		return transform.Point{}, ErrNoSpotDetected
	}
	if n := e.NumPeaks; n > 0 && len(peaks) > n {
		// keep peaks tied with the last one admitted
		last := peaks[n-1].Value
		for n < len(peaks) && peaks[n].Value == last {
			n++
		}
		peaks = peaks[:n]
	}
	policy := e.Policy
	if policy == nil {
		policy = Rightmost
	}
	chosen := policy(peaks)
	if e.CentroidRadius > 0 {
		return centroid(img, chosen, e.CentroidRadius), nil
	}
	return chosen.Point(), nil
}

func centroid(img *image.Gray16, p Peak, r int) transform.Point {
	win := image.Rect(p.X-r, p.Y-r, p.X+r+1, p.Y+r+1).Intersect(img.Bounds())
	var sum, sx, sy float64
	for y := win.Min.Y; y < win.Max.Y; y++ {
		for x := win.Min.X; x < win.Max.X; x++ {
			v := float64(img.Gray16At(x, y).Y)
			sum += v
			sx += v * float64(x)
			sy += v * float64(y)
		}
	}
	if sum == 0 || math.IsNaN(sum) {
		return p.Point()
	}
	return transform.Point{X: sx / sum, Y: sy / sum}
}
