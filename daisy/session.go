/*
Package daisy is the application layer of the pattern exposure system.

A Session ties the hardware context, the live view loop, the spot estimator,
and the exposure sequencer together and holds the operator's working state:
the calibration, the two reference points, the loaded pattern and its
projection onto the stage.  Every foreground operation is a Session method;
HTTPWrapper exposes them over HTTP.

Stage, focus, and shutter commands are refused while an exposure pass is
running.  The live view keeps running during a pass.
*/
package daisy

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/daisy/acquire"
	"github.com/nasa-jpl/daisy/expose"
	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/hardware"
	"github.com/nasa-jpl/daisy/imgrec"
	"github.com/nasa-jpl/daisy/logger"
	"github.com/nasa-jpl/daisy/overlay"
	"github.com/nasa-jpl/daisy/pattern"
	"github.com/nasa-jpl/daisy/server/middleware/locker"
	"github.com/nasa-jpl/daisy/spot"
	"github.com/nasa-jpl/daisy/transform"
	"github.com/nasa-jpl/daisy/util"
)

var (
	// ErrBusy is returned by stage and shutter commands during a pass
	ErrBusy = fault.NewPrecondition("exposure in progress")

	// ErrNoFrame is returned when an operation needs a frame and none has been acquired
	ErrNoFrame = fault.NewPrecondition("no frame acquired")

	// ErrNoPattern is returned by BuildPattern before a pattern is loaded
	ErrNoPattern = fault.NewPrecondition("exposure list not loaded")
)

// Session is the operator's working state and the devices it drives
type Session struct {
	cfg  Config
	hw   *hardware.Context
	loop *acquire.Loop
	seq  *expose.Sequencer
	est  *spot.Estimator
	ann  *overlay.List
	rec  *imgrec.Recorder
	lock *locker.Locker
	log  logger.ILogger

	lmu       sync.Mutex
	listeners []Listener

	// startMu serializes StartExposure
	startMu sync.Mutex

	mu            sync.Mutex
	ctx           context.Context
	cal           transform.Calibration
	initialOrigin transform.Point
	refs          transform.ReferencePoints
	raw           pattern.Pattern
	loaded        bool
	patternName   string
	proj          pattern.Projection
	patternScale  float64
	exposeCfg     expose.Config
	stepSize      float64
	focusStep     float64
	status        string
	last          *expose.Summary
	progress      *expose.Progress

	// released is closed once the latest pass has released the lock
	released chan struct{}
}

// New returns a session over hw.  The live view loop is not started until Run.
func New(cfg Config, hw *hardware.Context, l logger.ILogger) (*Session, error) {
	log := logger.OrNull(l)
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, err
	}
	est, ok := cfg.estimator()
	if !ok {
		log.Errorf("unknown spot policy %q, using rightmost", cfg.Spot.Policy)
	}
	s := &Session{
		cfg:           cfg,
		hw:            hw,
		est:           est,
		ann:           overlay.NewList(),
		rec:           imgrec.New(cfg.Recorder.Root, cfg.Recorder.Prefix),
		lock:          locker.New(),
		log:           log,
		ctx:           context.Background(),
		cal:           cfg.Calibration,
		initialOrigin: cfg.Calibration.Origin,
		patternScale:  cfg.PatternScale,
		exposeCfg:     cfg.exposeConfig(),
		stepSize:      cfg.StepSize,
		focusStep:     cfg.FocusStep,
		status:        "Ready",
	}
	if s.patternScale <= 0 {
		s.patternScale = DefaultPatternScale
	}
	s.rec.Enabled = cfg.Recorder.AutoWrite
	s.lock.Protect = []string{"/stage", "/shutter"}
	s.loop = acquire.New(hw.Camera, cfg.MaxFPS, log)
	s.loop.Observer = s
	s.loop.SetExposure(util.MillisToDuration(cfg.CameraExposureMs))
	s.loop.SetAcquiring(cfg.Acquire)
	s.seq = expose.New(hw.Stage, hw.Shutter, s, log)
	if hw.Simulated {
		s.status = "Simulate mode: " + hw.Reason
	}
	return s, nil
}

// Listen adds a listener for session events
func (s *Session) Listen(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Session) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.lmu.Lock()
	ls := append([]Listener(nil), s.listeners...)
	s.lmu.Unlock()
	for _, l := range ls {
		l.Event(e)
	}
}

// setStatus replaces the status line and notifies listeners
func (s *Session) setStatus(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	s.mu.Lock()
	s.status = msg
	s.mu.Unlock()
	s.log.Infof("%s", msg)
	s.emit(Event{Kind: EventStatus, Status: msg})
}

// Status returns the status line
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Hardware returns the hardware context
func (s *Session) Hardware() *hardware.Context {
	return s.hw
}

// Loop returns the live view loop
func (s *Session) Loop() *acquire.Loop {
	return s.loop
}

// Recorder returns the frame recorder
func (s *Session) Recorder() *imgrec.Recorder {
	return s.rec
}

// Locker returns the lock engaged while a pass runs
func (s *Session) Locker() *locker.Locker {
	return s.lock
}

// Run drives the live view until ctx is done.  ctx also bounds exposure
// passes started while it runs; when it ends any pass closes the shutter and
// stops.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	return s.loop.Run(ctx)
}

// Close waits out any active pass and releases the hardware
func (s *Session) Close() error {
	if r := s.seq.Active(); r != nil {
		r.Cancel()
		r.Wait()
	}
	s.waitReleased()
	return s.hw.Close()
}

// Calibration returns the current calibration
func (s *Session) Calibration() transform.Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cal
}

// SetCalibration replaces the calibration.  It does not reproject the pattern.
func (s *Session) SetCalibration(c transform.Calibration) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cal = c
	s.mu.Unlock()
	s.ann.Set(overlay.Origin, nil)
	s.setStatus("Calibration set: %.4f um/px, %.4f steps/um, origin %v", c.MicronsPerPixel, c.StepsPerMicron, c.Origin)
	return nil
}

// EstimateOrigin locates the spot in the latest frame and makes it the
// calibration origin
func (s *Session) EstimateOrigin() (transform.Point, error) {
	lf := s.loop.Latest()
	if lf == nil {
		return transform.Point{}, ErrNoFrame
	}
	est := *s.est
	if s.cfg.Spot.Policy == "nearest" {
		est.Policy = spot.Nearest(s.Calibration().Origin)
	}
	pt, err := est.Estimate(lf.Gray16)
	if err != nil {
		if errors.Is(err, spot.ErrNoSpotDetected) {
			s.setStatus("No spot detected...")
		}
		return transform.Point{}, err
	}
	s.SetOrigin(pt)
	s.ann.Set(overlay.Origin, []overlay.Annotation{{Shape: overlay.Circle, Center: pt, Size: overlay.OriginRadius}})
	return pt, nil
}

// ResetOrigin restores the origin the session started with
func (s *Session) ResetOrigin() transform.Point {
	s.mu.Lock()
	o := s.initialOrigin
	s.mu.Unlock()
	s.SetOrigin(o)
	s.ann.Set(overlay.Origin, nil)
	return o
}

// SetOrigin moves the calibration origin to pixel p
func (s *Session) SetOrigin(p transform.Point) {
	s.mu.Lock()
	s.cal.Origin = p
	s.mu.Unlock()
	s.emit(Event{Kind: EventOrigin, Point: &p})
	s.setStatus("Origin set to x: %.0f y: %.0f", p.X, p.Y)
}

// MarkReference stores the stage position that brings pixel px under the
// spot as reference point n (1 or 2) and returns it
func (s *Session) MarkReference(n int, px transform.Point) (transform.Point, error) {
	if n != 1 && n != 2 {
		return transform.Point{}, fault.NewPrecondition(fmt.Sprintf("reference point must be 1 or 2, got %d", n))
	}
	stage, err := s.hw.Stage.GetPosition()
	if err != nil {
		return transform.Point{}, err
	}
	s.mu.Lock()
	pt := transform.PixelToStep(px, stage, s.cal)
	s.mu.Unlock()
	return pt, s.SetReference(n, pt)
}

// SetReference stores the stage point pt as reference point n (1 or 2)
func (s *Session) SetReference(n int, pt transform.Point) error {
	s.mu.Lock()
	err := s.refs.Set(n, pt)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.emit(Event{Kind: EventReference, Index: n, Point: &pt})
	s.setStatus("Reference point %d: x: %.0f y: %.0f", n, pt.X, pt.Y)
	return nil
}

// References returns the reference points
func (s *Session) References() transform.ReferencePoints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRefs(s.refs)
}

// ClearReferences unsets both reference points
func (s *Session) ClearReferences() {
	s.mu.Lock()
	s.refs = transform.ReferencePoints{}
	s.mu.Unlock()
	s.setStatus("Reference points cleared")
}

func copyRefs(r transform.ReferencePoints) transform.ReferencePoints {
	var out transform.ReferencePoints
	if r.P1 != nil {
		p := *r.P1
		out.P1 = &p
	}
	if r.P2 != nil {
		p := *r.P2
		out.P2 = &p
	}
	return out
}

// LoadPattern parses a pattern from r and replaces the loaded one.  The
// projection is cleared until BuildPattern is called.
func (s *Session) LoadPattern(r io.Reader, name string) (int, error) {
	p, err := pattern.Parse(r)
	if err != nil {
		return 0, fault.NewPrecondition(err.Error())
	}
	s.mu.Lock()
	s.raw = p
	s.loaded = true
	s.patternName = name
	s.proj = pattern.Projection{}
	s.mu.Unlock()
	s.emit(Event{Kind: EventPattern, Status: name, Count: len(p)})
	s.setStatus("Pattern %s loaded, %d position(s)", name, len(p))
	return len(p), nil
}

// LoadPatternFile loads the pattern file at path
func (s *Session) LoadPatternFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return s.LoadPattern(f, filepath.Base(path))
}

// Pattern returns the loaded pattern and its name
func (s *Session) Pattern() (pattern.Pattern, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(pattern.Pattern(nil), s.raw...), s.patternName
}

// PatternScale returns the pattern scale
func (s *Session) PatternScale() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patternScale
}

// SetPatternScale sets the pattern scale used by the next BuildPattern
func (s *Session) SetPatternScale(f float64) error {
	if !(f > 0) {
		return pattern.ErrBadScale
	}
	s.mu.Lock()
	s.patternScale = f
	s.mu.Unlock()
	return nil
}

// BuildPattern projects the loaded pattern onto the reference points and
// returns the number of positions.  An empty pattern builds an empty
// projection and sets a warning status.
func (s *Session) BuildPattern() (int, error) {
	s.mu.Lock()
	raw, loaded, refs, scale, spm := s.raw, s.loaded, s.refs, s.patternScale, s.cal.StepsPerMicron
	s.mu.Unlock()
	if !refs.Complete() {
		s.setStatus("Positions not defined...")
		return 0, pattern.ErrMissingReference
	}
	if !loaded {
		s.setStatus("Exposure list not loaded...")
		return 0, ErrNoPattern
	}
	proj, err := pattern.Project(raw, refs, scale, spm)
	if err != nil && !errors.Is(err, pattern.ErrEmptyPattern) {
		return 0, err
	}
	s.mu.Lock()
	s.proj = proj
	s.mu.Unlock()
	s.emit(Event{Kind: EventPattern, Count: proj.Len()})
	if err != nil {
		s.setStatus("Warning: pattern is empty, nothing to expose")
		return 0, nil
	}
	s.setStatus("Pattern built: %d position(s), rotation %.2f deg", proj.Len(), proj.Transform.Alpha*180/math.Pi)
	return proj.Len(), nil
}

// Positions returns a copy of the projected stage positions
func (s *Session) Positions() []transform.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transform.Point(nil), s.proj.Positions...)
}
