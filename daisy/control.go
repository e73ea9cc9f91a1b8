package daisy

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/daisy/acquire"
	"github.com/nasa-jpl/daisy/camera"
	"github.com/nasa-jpl/daisy/expose"
	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/mathx"
	"github.com/nasa-jpl/daisy/overlay"
	"github.com/nasa-jpl/daisy/transform"
)

// ExposureStatus describes the sequencer and the latest pass
type ExposureStatus struct {
	State    string           `json:"state"`
	RunID    string           `json:"runID,omitempty"`
	Progress *expose.Progress `json:"progress,omitempty"`
	Last     *expose.Summary  `json:"last,omitempty"`
	LastErr  string           `json:"lastErr,omitempty"`
}

// StartExposure begins a pass over the projected positions and returns its
// id.  The lock is held until the pass ends.
func (s *Session) StartExposure() (string, error) {
	s.mu.Lock()
	ctx, pos, cfg := s.ctx, append([]transform.Point(nil), s.proj.Positions...), s.exposeCfg
	s.mu.Unlock()
	if s.seq.Active() != nil {
		s.setStatus("Already exposing!")
		return "", expose.ErrAlreadyRunning
	}
	s.startMu.Lock()
	defer s.startMu.Unlock()
	s.setStatus("Exposing %d position(s), %v each", len(pos), cfg.Exposure)
	run, err := s.seq.Start(ctx, pos, cfg)
	switch err {
	case nil:
	case expose.ErrAlreadyRunning:
		s.setStatus("Already exposing!")
		return "", err
	case expose.ErrNoPositions:
		s.setStatus("Define positions first!")
		return "", err
	default:
		return "", err
	}
	// the previous pass must release before this one locks; this pass may
	// already be over, its release still follows the Lock
	s.waitReleased()
	s.lock.Lock()
	released := make(chan struct{})
	s.mu.Lock()
	s.released = released
	s.mu.Unlock()
	go func() {
		<-run.Done()
		s.lock.Unlock()
		close(released)
	}()
	return run.ID, nil
}

// StopExposure asks the active pass to stop after its current position.  It
// returns false if no pass is running.
func (s *Session) StopExposure() bool {
	if !s.seq.Cancel() {
		return false
	}
	s.setStatus("Stopping after the current position...")
	return true
}

// Wait blocks until the active pass, if any, ends and the lock is released
func (s *Session) Wait() {
	if r := s.seq.Active(); r != nil {
		r.Wait()
	}
	s.waitReleased()
}

// waitReleased blocks until the latest pass has released the lock
func (s *Session) waitReleased() {
	s.mu.Lock()
	ch := s.released
	s.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

// ExposureStatus returns the sequencer state and progress
func (s *Session) ExposureStatus() ExposureStatus {
	st := ExposureStatus{State: s.seq.State().String()}
	if r := s.seq.Active(); r != nil {
		st.RunID = r.ID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress != nil && (s.progress.RunID == st.RunID || s.last != nil && s.progress.RunID == s.last.RunID) {
		p := *s.progress
		st.Progress = &p
	}
	if s.last != nil {
		l := *s.last
		st.Last = &l
		if l.Err != nil {
			st.LastErr = l.Err.Error()
		}
	}
	return st
}

// ExposureTime returns the per-position exposure
func (s *Session) ExposureTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposeCfg.Exposure
}

// SetExposureTime sets the per-position exposure of the next pass
func (s *Session) SetExposureTime(d time.Duration) error {
	if d < 0 {
		return expose.ErrBadExposure
	}
	s.mu.Lock()
	s.exposeCfg.Exposure = d
	s.mu.Unlock()
	return nil
}

// Progress satisfies expose.Notifier
func (s *Session) Progress(p expose.Progress) {
	s.mu.Lock()
	s.progress = &p
	s.mu.Unlock()
	s.emit(Event{Kind: EventProgress, Progress: &p})
	s.setStatus("Exposing => x: %.0f y: %.0f (%.0f%%)", p.To.X, p.To.Y, p.Percent)
}

// Done satisfies expose.Notifier
func (s *Session) Done(sum expose.Summary) {
	s.mu.Lock()
	s.last = &sum
	s.mu.Unlock()
	s.emit(Event{Kind: EventDone, Summary: &sum})
	switch {
	case sum.Cancelled:
		s.setStatus("Exposure stopped after %d of %d position(s)", sum.Exposed, sum.Total)
	case sum.Err != nil:
		s.setStatus("Exposure failed after %d of %d position(s): %v", sum.Exposed, sum.Total, sum.Err)
	default:
		s.setStatus("Exposure done!")
	}
}

func (s *Session) busy() error {
	if s.seq.Active() != nil {
		return ErrBusy
	}
	return nil
}

// StagePosition returns the stage position
func (s *Session) StagePosition() (transform.Point, error) {
	return s.hw.Stage.GetPosition()
}

// MoveStage moves the stage to p, or by p if relative
func (s *Session) MoveStage(p transform.Point, relative bool) error {
	if err := s.busy(); err != nil {
		return err
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	var err error
	if relative {
		err = s.hw.Stage.MoveRelative(ctx, p)
	} else {
		err = s.hw.Stage.MoveAbsolute(ctx, p)
	}
	if err != nil {
		return err
	}
	pos, err := s.hw.Stage.GetPosition()
	if err == nil {
		s.emit(Event{Kind: EventStage, Point: &pos})
	}
	return nil
}

// Jog moves the stage one step in dir: left, right, up, or down.  Left is +x
// and up is -y in stage steps, matching the camera image orientation.
func (s *Session) Jog(dir string) error {
	s.mu.Lock()
	d := s.stepSize * s.cal.StepsPerMicron
	s.mu.Unlock()
	var delta transform.Point
	switch strings.ToLower(dir) {
	case "left":
		delta.X = d
	case "right":
		delta.X = -d
	case "up":
		delta.Y = -d
	case "down":
		delta.Y = d
	default:
		return fault.NewPrecondition(fmt.Sprintf("jog direction must be left, right, up, or down, got %q", dir))
	}
	return s.MoveStage(delta, true)
}

// Focus moves the focus axis one focus step up or down
func (s *Session) Focus(dir string) error {
	if err := s.busy(); err != nil {
		return err
	}
	if s.hw.Focuser == nil {
		return fault.NewPrecondition("no focus axis")
	}
	s.mu.Lock()
	d, ctx := s.focusStep, s.ctx
	s.mu.Unlock()
	switch strings.ToLower(dir) {
	case "up":
	case "down":
		d = -d
	default:
		return fault.NewPrecondition(fmt.Sprintf("focus direction must be up or down, got %q", dir))
	}
	return s.hw.Focuser.MoveFocus(ctx, d)
}

// StepSize returns the jog step in microns
func (s *Session) StepSize() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepSize
}

// SetStepSize sets the jog step in microns
func (s *Session) SetStepSize(f float64) error {
	if !(f > 0) {
		return fault.NewPrecondition(fmt.Sprintf("step size must be > 0, got %g", f))
	}
	s.mu.Lock()
	s.stepSize = f
	s.mu.Unlock()
	return nil
}

// Shutter returns true if the shutter is open
func (s *Session) Shutter() (bool, error) {
	return s.hw.Shutter.GetShutter()
}

// SetShutter opens or closes the shutter by hand
func (s *Session) SetShutter(open bool) error {
	if err := s.busy(); err != nil {
		return err
	}
	if err := s.hw.Shutter.SetShutter(open); err != nil {
		return fault.NewDevice("shutter", err)
	}
	s.emit(Event{Kind: EventShutter, Open: open})
	return nil
}

// ToggleShutter flips the shutter and returns the new state
func (s *Session) ToggleShutter() (bool, error) {
	open, err := s.Shutter()
	if err != nil {
		return false, fault.NewDevice("shutter", err)
	}
	return !open, s.SetShutter(!open)
}

// FrameAcquired satisfies acquire.Observer
func (s *Session) FrameAcquired(lf *acquire.LiveFrame) {
	s.emit(Event{Kind: EventFrame, Seq: lf.Seq})
	if s.rec.IsEnabled() {
		if _, err := s.rec.SaveFrame(lf.Frame, s.calibrationCards()...); err != nil {
			s.log.Errorf("autowrite: %v", err)
		}
	}
}

// CaptureFailed satisfies acquire.Observer
func (s *Session) CaptureFailed(err error) {
	s.emit(Event{Kind: EventCaptureError, Err: err.Error()})
}

func (s *Session) calibrationCards() []fitsio.Card {
	cal := s.Calibration()
	cards := []fitsio.Card{
		{Name: "UMPERPX", Value: cal.MicronsPerPixel, Comment: "microns per pixel"},
		{Name: "STPPERUM", Value: cal.StepsPerMicron, Comment: "stage steps per micron"},
		{Name: "ORIGINX", Value: cal.Origin.X, Comment: "spot x, pixels"},
		{Name: "ORIGINY", Value: cal.Origin.Y, Comment: "spot y, pixels"},
	}
	if pos, err := s.hw.Stage.GetPosition(); err == nil {
		cards = append(cards,
			fitsio.Card{Name: "STAGEX", Value: pos.X, Comment: "stage x, steps"},
			fitsio.Card{Name: "STAGEY", Value: pos.Y, Comment: "stage y, steps"})
	}
	return cards
}

// SaveImage writes the latest frame to the recorder and returns the path
func (s *Session) SaveImage() (string, error) {
	lf := s.loop.Latest()
	if lf == nil {
		return "", ErrNoFrame
	}
	fn, err := s.rec.SaveFrame(lf.Frame, s.calibrationCards()...)
	if err != nil {
		return "", err
	}
	s.setStatus("Saved %s", fn)
	return fn, nil
}

// Inspection describes one pixel of the live view
type Inspection struct {
	Pixel transform.Point `json:"pixel"`

	// Microns is the offset from the origin at the sample
	Microns transform.Point `json:"microns"`

	// Stage is the position that would bring the pixel under the spot
	Stage transform.Point `json:"stage"`

	// Value is the raw pixel value; InBounds is false when there is no frame
	// or the pixel is outside it
	Value    uint16 `json:"value"`
	InBounds bool   `json:"inBounds"`
}

// Inspect reports the position and value of pixel px
func (s *Session) Inspect(px transform.Point) (Inspection, error) {
	stage, err := s.hw.Stage.GetPosition()
	if err != nil {
		return Inspection{}, err
	}
	cal := s.Calibration()
	in := Inspection{
		Pixel: px,
		Microns: transform.Point{
			X: mathx.Round((px.X-cal.Origin.X)*cal.MicronsPerPixel, 0.001),
			Y: mathx.Round((px.Y-cal.Origin.Y)*cal.MicronsPerPixel, 0.001),
		},
		Stage: transform.PixelToStep(px, stage, cal),
	}
	if lf := s.loop.Latest(); lf != nil {
		in.Value, in.InBounds = lf.Value(int(px.X), int(px.Y))
	}
	return in, nil
}

// Annotations returns the overlay for the current stage position: projected
// positions, reference marks, and the estimated origin
func (s *Session) Annotations() []overlay.Annotation {
	stage, err := s.hw.Stage.GetPosition()
	if err == nil {
		s.mu.Lock()
		cal, refs := s.cal, copyRefs(s.refs)
		px := s.proj.Pixels(stage, cal)
		s.mu.Unlock()
		s.ann.Set(overlay.Positions, overlay.PositionMarks(px))
		var marks []overlay.Annotation
		for _, r := range []*transform.Point{refs.P1, refs.P2} {
			if r != nil {
				c := transform.StepToPixel(*r, stage, cal)
				marks = append(marks, overlay.Annotation{Shape: overlay.Square, Center: c, Size: overlay.ReferenceSize})
			}
		}
		s.ann.Set(overlay.References, marks)
	}
	return s.ann.All()
}

// Preview renders the latest display frame scaled by scale, with the
// overlay if withOverlay is set
func (s *Session) Preview(scale float64, withOverlay bool) (image.Image, error) {
	lf := s.loop.Latest()
	if lf == nil {
		return nil, ErrNoFrame
	}
	if !withOverlay {
		return overlay.Scale(lf.Display, scale), nil
	}
	return overlay.Render(lf.Display, s.Annotations(), scale), nil
}

// Latest returns the latest live frame, or nil
func (s *Session) Latest() *acquire.LiveFrame {
	return s.loop.Latest()
}

// Scaling returns the live view scaling
func (s *Session) Scaling() camera.Scaling {
	return s.loop.Scaling()
}

// SetScaling sets the live view scaling
func (s *Session) SetScaling(sc camera.Scaling) error {
	if !sc.Auto && sc.Max < sc.Min {
		return fault.NewPrecondition(fmt.Sprintf("scaling max %g is below min %g", sc.Max, sc.Min))
	}
	s.loop.SetScaling(sc)
	return nil
}
