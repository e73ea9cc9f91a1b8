// Package acquire runs the continuous capture loop that keeps the live frame
// current.
//
// The loop is the only writer of the live frame.  Readers call Latest and get
// an immutable snapshot; a new frame replaces the pointer rather than the
// pixels.
package acquire

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nasa-jpl/daisy/camera"
	"github.com/nasa-jpl/daisy/logger"
)

const (
	// DefaultIdleInterval is the poll period while not acquiring
	DefaultIdleInterval = 100 * time.Millisecond

	// DefaultExposure is the camera exposure at startup
	DefaultExposure = 50 * time.Millisecond
)

// LiveFrame is the most recent frame and its display rendition
type LiveFrame struct {
	*camera.Frame

	// Display is the frame rescaled to 8 bits with Lo and Hi
	Display *image.Gray

	// Lo and Hi are the input limits used for Display
	Lo, Hi float64

	// Scaling is the setting Lo and Hi were derived from
	Scaling camera.Scaling
}

// Observer is told about each loop iteration.  Calls are made from the loop
// goroutine and must not block.
type Observer interface {
	FrameAcquired(*LiveFrame)
	CaptureFailed(error)
}

// Loop captures frames while acquiring is set
type Loop struct {
	Camera camera.Camera

	// IdleInterval is the sleep between polls of the acquiring flag, and
	// between retries after a capture error
	IdleInterval time.Duration

	// Limiter, if not nil, caps the capture rate
	Limiter *rate.Limiter

	// Observer, if not nil, is notified of frames and errors
	Observer Observer

	Logger logger.ILogger

	latest    atomic.Pointer[LiveFrame]
	acquiring atomic.Bool
	seq       atomic.Uint64

	mu       sync.Mutex
	exposure time.Duration
	scaling  camera.Scaling
}

// New returns a loop over cam with the default idle interval, exposure, and
// auto scaling.  maxFPS <= 0 means uncapped.
func New(cam camera.Camera, maxFPS float64, l logger.ILogger) *Loop {
	loop := &Loop{
		Camera:       cam,
		IdleInterval: DefaultIdleInterval,
		Logger:       logger.OrNull(l),
		exposure:     DefaultExposure,
		scaling:      camera.DefaultScaling(),
	}
	if maxFPS > 0 {
		loop.Limiter = rate.NewLimiter(rate.Limit(maxFPS), 1)
	}
	return loop
}

// Latest returns the newest live frame, or nil before the first capture
func (l *Loop) Latest() *LiveFrame {
	return l.latest.Load()
}

// SetAcquiring starts or pauses acquisition
func (l *Loop) SetAcquiring(b bool) {
	l.acquiring.Store(b)
}

// Acquiring returns true if the loop is capturing
func (l *Loop) Acquiring() bool {
	return l.acquiring.Load()
}

// Toggle flips acquisition and returns the new state
func (l *Loop) Toggle() bool {
	for {
		cur := l.acquiring.Load()
		if l.acquiring.CompareAndSwap(cur, !cur) {
			return !cur
		}
	}
}

// SetExposure sets the exposure used from the next capture on
func (l *Loop) SetExposure(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exposure = d
}

// Exposure returns the capture exposure
func (l *Loop) Exposure() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exposure
}

// SetScaling sets the display scaling from the next capture on
func (l *Loop) SetScaling(s camera.Scaling) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scaling = s
}

// Scaling returns the display scaling
func (l *Loop) Scaling() camera.Scaling {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scaling
}

// Run loops until ctx is done.  Pausing acquisition does not end the loop.
func (l *Loop) Run(ctx context.Context) error {
	log := logger.OrNull(l.Logger)
	idle := l.IdleInterval
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if !l.Acquiring() {
			if !sleep(ctx, idle) {
				return nil
			}
			continue
		}
		if l.Limiter != nil {
			if err := l.Limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		if _, err := l.Once(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("capture failed: %v", err)
			if l.Observer != nil {
				l.Observer.CaptureFailed(err)
			}
			if !sleep(ctx, idle) {
				return nil
			}
		}
	}
}

// Once performs a single capture and publishes it, regardless of the
// acquiring flag
func (l *Loop) Once(ctx context.Context) (*LiveFrame, error) {
	l.mu.Lock()
	exp, sc := l.exposure, l.scaling
	l.mu.Unlock()

	if err := l.Camera.SetExposureTime(exp); err != nil {
		return nil, err
	}
	img, err := l.Camera.GetFrame(ctx)
	if err != nil {
		return nil, err
	}
	lo, hi := sc.Limits(img)
	lf := &LiveFrame{
		Frame: &camera.Frame{
			Gray16:   img,
			Exposure: exp,
			Captured: time.Now(),
			Seq:      l.seq.Add(1),
		},
		Display: camera.Rescale(img, lo, hi),
		Lo:      lo,
		Hi:      hi,
		Scaling: sc,
	}
	l.latest.Store(lf)
	if l.Observer != nil {
		l.Observer.FrameAcquired(lf)
	}
	return lf, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
