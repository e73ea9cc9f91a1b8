package spot

import (
	"image"
	"image/color"
	"testing"

	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/transform"
)

func disc(w, h, cx, cy, r int, peak uint16) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	drawDisc(img, cx, cy, r, peak)
	return img
}

func drawDisc(img *image.Gray16, cx, cy, r int, peak uint16) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			d2 := dx*dx + dy*dy
			if d2 > r*r {
				continue
			}
			v := int(peak) - d2*int(peak)/(2*r*r)
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
}

func TestEstimateBlankFrame(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 32, 32))
	_, err := NewEstimator().Estimate(img)
	if err != ErrNoSpotDetected {
		t.Fatalf("expected ErrNoSpotDetected, got %v", err)
	}
	if fault.KindOf(err) != fault.NoSpot {
		t.Errorf("expected NoSpot kind, got %v", fault.KindOf(err))
	}
}

func TestEstimateNilFrame(t *testing.T) {
	if _, err := NewEstimator().Estimate(nil); err != ErrNoSpotDetected {
		t.Errorf("expected ErrNoSpotDetected, got %v", err)
	}
}

func TestEstimateDisc(t *testing.T) {
	img := disc(64, 48, 40, 20, 5, 60000)
	pt, err := NewEstimator().Estimate(img)
	if err != nil {
		t.Fatal(err)
	}
	if pt.X < 35 || pt.X > 45 || pt.Y < 15 || pt.Y > 25 {
		t.Errorf("center %v outside disc bounding box", pt)
	}
	if pt.X != 40 || pt.Y != 20 {
		t.Errorf("expected exact peak (40, 20), got %v", pt)
	}
}

func TestEstimateBorderIgnored(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 16, 16))
	img.SetGray16(0, 8, color.Gray16{Y: 65535})
	if _, err := NewEstimator().Estimate(img); err != ErrNoSpotDetected {
		t.Errorf("border pixel should not be a peak, got %v", err)
	}
}

func TestEstimateBelowThreshold(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 16, 16))
	img.SetGray16(0, 0, color.Gray16{Y: 1000})
	img.SetGray16(8, 8, color.Gray16{Y: 400})
	if _, err := NewEstimator().Estimate(img); err != ErrNoSpotDetected {
		t.Errorf("peak under half the frame max should be rejected, got %v", err)
	}
}

func TestRightmostAmongTiedPeaks(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 32, 32))
	img.SetGray16(5, 10, color.Gray16{Y: 5000})
	img.SetGray16(25, 3, color.Gray16{Y: 5000})
	img.SetGray16(15, 20, color.Gray16{Y: 5000})
	pt, err := NewEstimator().Estimate(img)
	if err != nil {
		t.Fatal(err)
	}
	if pt != (transform.Point{X: 25, Y: 3}) {
		t.Errorf("expected rightmost peak (25, 3), got %v", pt)
	}
}

func TestBrightestWinsWithOnePeak(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 32, 32))
	img.SetGray16(5, 10, color.Gray16{Y: 9000})
	img.SetGray16(25, 3, color.Gray16{Y: 6000})
	pt, err := NewEstimator().Estimate(img)
	if err != nil {
		t.Fatal(err)
	}
	if pt != (transform.Point{X: 5, Y: 10}) {
		t.Errorf("expected brightest peak (5, 10), got %v", pt)
	}
}

func TestNearestPolicy(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 32, 32))
	img.SetGray16(5, 10, color.Gray16{Y: 9000})
	img.SetGray16(25, 3, color.Gray16{Y: 8000})
	e := NewEstimator()
	e.NumPeaks = 0
	e.Policy = Nearest(transform.Point{X: 24, Y: 4})
	pt, err := e.Estimate(img)
	if err != nil {
		t.Fatal(err)
	}
	if pt != (transform.Point{X: 25, Y: 3}) {
		t.Errorf("expected nearest peak (25, 3), got %v", pt)
	}
}

func TestCentroidRefinement(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 16, 16))
	img.SetGray16(8, 8, color.Gray16{Y: 1000})
	img.SetGray16(9, 8, color.Gray16{Y: 1000})
	e := NewEstimator()
	e.CentroidRadius = 2
	pt, err := e.Estimate(img)
	if err != nil {
		t.Fatal(err)
	}
	if pt.X != 8.5 || pt.Y != 8 {
		t.Errorf("expected centroid (8.5, 8), got %v", pt)
	}
}

func TestPolicyByName(t *testing.T) {
	if _, ok := PolicyByName("rightmost"); !ok {
		t.Error("rightmost not recognized")
	}
	if _, ok := PolicyByName("brightest"); !ok {
		t.Error("brightest not recognized")
	}
	if _, ok := PolicyByName("leftmost"); ok {
		t.Error("unknown policy accepted")
	}
}
