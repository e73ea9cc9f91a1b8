package camera

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"sync"
	"time"
)

const (
	// DefaultWidth is the width of the sCMOS sensor in pixels
	DefaultWidth = 2560

	// DefaultHeight is the height of the sCMOS sensor in pixels
	DefaultHeight = 2160

	// SyntheticSpotRadius is the radius of the synthetic spot in pixels
	SyntheticSpotRadius = 15

	syntheticNoise = 16
)

// Synthetic is a camera that returns low-level noise with a saturated disc
// centered on Spot.  GetFrame sleeps for the exposure time.
type Synthetic struct {
	mu       sync.Mutex
	rng      *rand.Rand
	exposure time.Duration

	Width, Height int

	// SpotX and SpotY locate the disc
	SpotX, SpotY int
}

// NewSynthetic returns a synthetic camera of size w x h with the spot at (sx, sy)
func NewSynthetic(w, h, sx, sy int) *Synthetic {
	return &Synthetic{
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		exposure: 10 * time.Millisecond,
		Width:    w,
		Height:   h,
		SpotX:    sx,
		SpotY:    sy,
	}
}

// SetExposureTime sets the exposure time
func (s *Synthetic) SetExposureTime(d time.Duration) error {
	if d < 0 {
		return ErrBadExposure
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposure = d
	return nil
}

// GetExposureTime gets the exposure time
func (s *Synthetic) GetExposureTime() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposure, nil
}

// GetFrame waits out the exposure and draws a new test pattern
func (s *Synthetic) GetFrame(ctx context.Context) (*image.Gray16, error) {
	s.mu.Lock()
	exp := s.exposure
	s.mu.Unlock()
	if exp > 0 {
		t := time.NewTimer(exp)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	img := image.NewGray16(image.Rect(0, 0, s.Width, s.Height))
	for i := 0; i < len(img.Pix); i += 2 {
		img.Pix[i+1] = byte(s.rng.Intn(syntheticNoise))
	}
	r := SyntheticSpotRadius
	for y := s.SpotY - r; y <= s.SpotY+r; y++ {
		for x := s.SpotX - r; x <= s.SpotX+r; x++ {
			dx, dy := x-s.SpotX, y-s.SpotY
			if dx*dx+dy*dy < r*r {
				img.SetGray16(x, y, color.Gray16{Y: 0xFFFF})
			}
		}
	}
	return img, nil
}
