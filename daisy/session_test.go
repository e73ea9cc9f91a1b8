package daisy

import (
	"context"
	"image"
	"image/color"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nasa-jpl/daisy/camera"
	"github.com/nasa-jpl/daisy/expose"
	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/hardware"
	"github.com/nasa-jpl/daisy/transform"
)

var testOrigin = transform.Point{X: 40, Y: 20}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Calibration.Origin = testOrigin
	cfg.Hardware.Simulate = true
	cfg.Hardware.Camera.Width, cfg.Hardware.Camera.Height = 64, 48
	cfg.CameraExposureMs = 0
	cfg.ExposureMs = 0
	cfg.SettleMs = 0
	cfg.MaxFPS = 0
	cfg.Acquire = false
	cfg.Recorder.Root = t.TempDir()
	return cfg
}

// blankCamera returns black frames
type blankCamera struct{}

func (blankCamera) SetExposureTime(time.Duration) error     { return nil }
func (blankCamera) GetExposureTime() (time.Duration, error) { return 0, nil }
func (blankCamera) GetFrame(context.Context) (*image.Gray16, error) {
	return image.NewGray16(image.Rect(0, 0, 64, 48)), nil
}

// twoSpotCamera returns frames with two equal single-pixel spots
type twoSpotCamera struct{}

func (twoSpotCamera) SetExposureTime(time.Duration) error     { return nil }
func (twoSpotCamera) GetExposureTime() (time.Duration, error) { return 0, nil }
func (twoSpotCamera) GetFrame(context.Context) (*image.Gray16, error) {
	img := image.NewGray16(image.Rect(0, 0, 64, 48))
	img.SetGray16(10, 24, color.Gray16{Y: 0xFFFF})
	img.SetGray16(50, 24, color.Gray16{Y: 0xFFFF})
	return img, nil
}

func newSession(t *testing.T) *Session {
	return newSessionWith(t, nil)
}

func newSessionWith(t *testing.T, cam camera.Camera) *Session {
	cfg := testConfig(t)
	hw := hardware.Connect(cfg.Hardware, cfg.Calibration.Origin, nil)
	if cam != nil {
		hw.Camera = cam
	}
	s, err := New(cfg, hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func capture(t *testing.T, s *Session) {
	t.Helper()
	if _, err := s.Loop().Once(context.Background()); err != nil {
		t.Fatal(err)
	}
}

type events struct {
	sync.Mutex
	got []Event
}

func (e *events) Event(ev Event) {
	e.Lock()
	defer e.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) kinds() []EventKind {
	e.Lock()
	defer e.Unlock()
	out := make([]EventKind, len(e.got))
	for i, ev := range e.got {
		out[i] = ev.Kind
	}
	return out
}

// patternSession has both references marked and a two point pattern built
func patternSession(t *testing.T) *Session {
	s := newSession(t)
	if _, err := s.MarkReference(1, testOrigin); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkReference(2, transform.Point{X: testOrigin.X - 100, Y: testOrigin.Y}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadPattern(strings.NewReader("x,y\n0,0\n10,0\n"), "two.csv"); err != nil {
		t.Fatal(err)
	}
	n, err := s.BuildPattern()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 positions, got %d", n)
	}
	return s
}

func TestNewRejectsBadCalibration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Calibration.StepsPerMicron = 0
	hw := hardware.Simulate(cfg.Hardware, testOrigin, "test")
	if _, err := New(cfg, hw, nil); !fault.Is(err, fault.Precondition) {
		t.Errorf("expected a precondition fault, got %v", err)
	}
}

func TestSimulateStatus(t *testing.T) {
	s := newSession(t)
	if !strings.HasPrefix(s.Status(), "Simulate mode") {
		t.Errorf("unexpected status %q", s.Status())
	}
}

func TestEstimateOriginNeedsFrame(t *testing.T) {
	s := newSession(t)
	if _, err := s.EstimateOrigin(); err != ErrNoFrame {
		t.Errorf("expected ErrNoFrame, got %v", err)
	}
}

func TestEstimateOrigin(t *testing.T) {
	s := newSession(t)
	s.SetOrigin(transform.Point{})
	capture(t, s)
	pt, err := s.EstimateOrigin()
	if err != nil {
		t.Fatal(err)
	}
	// the rightmost pixel of the saturated disc
	if pt.X != testOrigin.X+camera.SyntheticSpotRadius-1 || math.Abs(pt.Y-testOrigin.Y) > 5 {
		t.Errorf("spot estimated at %v", pt)
	}
	if s.Calibration().Origin != pt {
		t.Error("estimate not stored as origin")
	}
	if len(s.Annotations()) == 0 {
		t.Error("no origin annotation")
	}
}

func TestEstimateOriginNoSpot(t *testing.T) {
	s := newSessionWith(t, blankCamera{})
	capture(t, s)
	before := s.Calibration().Origin
	_, err := s.EstimateOrigin()
	if !fault.Is(err, fault.NoSpot) {
		t.Fatalf("expected a NoSpot fault, got %v", err)
	}
	if s.Status() != "No spot detected..." {
		t.Errorf("unexpected status %q", s.Status())
	}
	if s.Calibration().Origin != before {
		t.Error("failed estimate changed the origin")
	}
}

func TestResetOrigin(t *testing.T) {
	s := newSession(t)
	s.SetOrigin(transform.Point{X: 1, Y: 2})
	if o := s.ResetOrigin(); o != testOrigin {
		t.Errorf("reset to %v", o)
	}
	if s.Calibration().Origin != testOrigin {
		t.Error("origin not restored")
	}
}

func TestSetCalibration(t *testing.T) {
	s := newSession(t)
	c := s.Calibration()
	c.MicronsPerPixel = -1
	if err := s.SetCalibration(c); !fault.Is(err, fault.Precondition) {
		t.Errorf("expected a precondition fault, got %v", err)
	}
	c.MicronsPerPixel = 0.2
	if err := s.SetCalibration(c); err != nil {
		t.Fatal(err)
	}
	if s.Calibration().MicronsPerPixel != 0.2 {
		t.Error("calibration not stored")
	}
}

func TestMarkReference(t *testing.T) {
	s := newSession(t)
	if err := s.MoveStage(transform.Point{X: 100, Y: 200}, false); err != nil {
		t.Fatal(err)
	}
	pt, err := s.MarkReference(1, testOrigin)
	if err != nil {
		t.Fatal(err)
	}
	if pt != (transform.Point{X: 100, Y: 200}) {
		t.Errorf("origin pixel should map to the stage position, got %v", pt)
	}
	if _, err := s.MarkReference(3, testOrigin); !fault.Is(err, fault.Precondition) {
		t.Errorf("expected a precondition fault, got %v", err)
	}
	refs := s.References()
	if refs.P1 == nil || refs.P2 != nil {
		t.Fatalf("unexpected references %+v", refs)
	}
	refs.P1.X = -1
	if s.References().P1.X != 100 {
		t.Error("References returned shared storage")
	}
	s.ClearReferences()
	if s.References().P1 != nil {
		t.Error("references not cleared")
	}
}

func TestSetReference(t *testing.T) {
	s := newSession(t)
	if err := s.SetReference(2, transform.Point{X: 5, Y: 6}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetReference(0, transform.Point{}); !fault.Is(err, fault.Precondition) {
		t.Errorf("expected a precondition fault, got %v", err)
	}
	refs := s.References()
	if refs.P1 != nil || refs.P2 == nil || *refs.P2 != (transform.Point{X: 5, Y: 6}) {
		t.Errorf("unexpected references %+v", refs)
	}
}

func TestBuildPatternPreconditions(t *testing.T) {
	s := newSession(t)
	if _, err := s.BuildPattern(); !fault.Is(err, fault.Precondition) {
		t.Errorf("expected a precondition fault, got %v", err)
	}
	if s.Status() != "Positions not defined..." {
		t.Errorf("unexpected status %q", s.Status())
	}
	s.MarkReference(1, testOrigin)
	s.MarkReference(2, transform.Point{X: 0, Y: 0})
	if _, err := s.BuildPattern(); err != ErrNoPattern {
		t.Errorf("expected ErrNoPattern, got %v", err)
	}
	if s.Status() != "Exposure list not loaded..." {
		t.Errorf("unexpected status %q", s.Status())
	}
}

func TestBuildEmptyPatternWarns(t *testing.T) {
	s := newSession(t)
	s.MarkReference(1, testOrigin)
	s.MarkReference(2, transform.Point{X: 0, Y: 0})
	if _, err := s.LoadPattern(strings.NewReader("x,y\n"), "empty"); err != nil {
		t.Fatal(err)
	}
	n, err := s.BuildPattern()
	if err != nil || n != 0 {
		t.Fatalf("empty pattern should build with a warning, got %d, %v", n, err)
	}
	if !strings.HasPrefix(s.Status(), "Warning") {
		t.Errorf("unexpected status %q", s.Status())
	}
	if _, err := s.StartExposure(); err != expose.ErrNoPositions {
		t.Errorf("expected ErrNoPositions, got %v", err)
	}
	if s.Locker().Locked() {
		t.Error("refused start left the lock engaged")
	}
}

func TestLoadPatternBadFile(t *testing.T) {
	s := newSession(t)
	if _, err := s.LoadPattern(strings.NewReader("x,y\n1,banana\n"), "bad"); !fault.Is(err, fault.Precondition) {
		t.Errorf("expected a precondition fault, got %v", err)
	}
	if _, err := s.LoadPatternFile("does-not-exist.csv"); err == nil {
		t.Error("missing file loaded")
	}
}

func TestBuildPatternPositions(t *testing.T) {
	s := patternSession(t)
	k := transform.DefaultMicronsPerPixel * transform.DefaultStepsPerMicron
	want := []transform.Point{
		{X: 0, Y: 0},
		{X: -10 * DefaultPatternScale * transform.DefaultStepsPerMicron, Y: 0},
	}
	if diff := cmp.Diff(want, s.Positions(), cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Error(diff)
	}
	if p2 := s.References().P2; math.Abs(p2.X-100*k) > 1e-9 {
		t.Errorf("P2 at %v", p2)
	}
	p, name := s.Pattern()
	if name != "two.csv" || len(p) != 2 {
		t.Errorf("pattern %s with %d points", name, len(p))
	}
}

func TestExposurePass(t *testing.T) {
	s := patternSession(t)
	ev := &events{}
	s.Listen(ev)
	if _, err := s.StartExposure(); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	st := s.ExposureStatus()
	if st.State != "idle" || st.Last == nil {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Last.Exposed != 2 || st.Last.Cancelled {
		t.Errorf("unexpected summary %+v", st.Last)
	}
	if st.Progress == nil || st.Progress.Percent != 100 {
		t.Errorf("unexpected progress %+v", st.Progress)
	}
	if s.Status() != "Exposure done!" {
		t.Errorf("unexpected status %q", s.Status())
	}
	if s.Locker().Locked() {
		t.Error("lock held after the pass")
	}
	if open, _ := s.Shutter(); open {
		t.Error("shutter left open")
	}
	var progress, done int
	for _, k := range ev.kinds() {
		switch k {
		case EventProgress:
			progress++
		case EventDone:
			done++
		}
	}
	if progress != 2 || done != 1 {
		t.Errorf("got %d progress and %d done events", progress, done)
	}
}

func TestCommandsRefusedWhileExposing(t *testing.T) {
	s := patternSession(t)
	s.SetExposureTime(200 * time.Millisecond)
	if _, err := s.StartExposure(); err != nil {
		t.Fatal(err)
	}
	if !s.Locker().Locked() {
		t.Error("lock not engaged")
	}
	if err := s.Jog("left"); err != ErrBusy {
		t.Errorf("jog: expected ErrBusy, got %v", err)
	}
	if err := s.Focus("up"); err != ErrBusy {
		t.Errorf("focus: expected ErrBusy, got %v", err)
	}
	if err := s.SetShutter(false); err != ErrBusy {
		t.Errorf("shutter: expected ErrBusy, got %v", err)
	}
	if _, err := s.StartExposure(); err != expose.ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if s.Status() != "Already exposing!" {
		t.Errorf("unexpected status %q", s.Status())
	}
	// stop once the first position is under exposure
	deadline := time.Now().Add(5 * time.Second)
	for open, _ := s.Shutter(); !open; open, _ = s.Shutter() {
		if time.Now().After(deadline) {
			t.Fatal("shutter never opened")
		}
		time.Sleep(time.Millisecond)
	}
	if !s.StopExposure() {
		t.Fatal("stop found no pass")
	}
	s.Wait()
	st := s.ExposureStatus()
	if st.Last == nil || !st.Last.Cancelled || st.Last.Exposed != 1 {
		t.Errorf("unexpected summary %+v", st.Last)
	}
	if s.Locker().Locked() {
		t.Error("lock held after the pass")
	}
	if s.StopExposure() {
		t.Error("stop reported a pass when idle")
	}
}

func TestConcurrentStartsReleaseLock(t *testing.T) {
	s := patternSession(t)
	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.StartExposure(); err != nil && err != expose.ErrAlreadyRunning {
					t.Errorf("unexpected start error %v", err)
				}
			}()
		}
		wg.Wait()
		s.Wait()
		if s.Locker().Locked() {
			t.Fatalf("iteration %d: lock held with no pass running", i)
		}
	}
}

func TestShutdownDuringExposure(t *testing.T) {
	s := patternSession(t)
	s.SetExposureTime(10 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()
	// wait for Run to install its context
	for i := 0; i < 100; i++ {
		s.mu.Lock()
		installed := s.ctx == ctx
		s.mu.Unlock()
		if installed {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := s.StartExposure(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	cancel()
	s.Wait()
	if time.Since(start) > time.Second {
		t.Error("shutdown waited out the exposure")
	}
	if open, _ := s.Shutter(); open {
		t.Error("shutter left open at shutdown")
	}
	if err := <-done; err != nil {
		t.Error(err)
	}
}

func TestJog(t *testing.T) {
	s := newSession(t)
	if err := s.SetStepSize(10); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStepSize(0); !fault.Is(err, fault.Precondition) {
		t.Errorf("expected a precondition fault, got %v", err)
	}
	d := 10 * transform.DefaultStepsPerMicron
	tests := []struct {
		dir  string
		want transform.Point
	}{
		{"left", transform.Point{X: d}},
		{"up", transform.Point{X: d, Y: -d}},
		{"right", transform.Point{X: 0, Y: -d}},
		{"DOWN", transform.Point{X: 0, Y: 0}},
	}
	for _, tt := range tests {
		if err := s.Jog(tt.dir); err != nil {
			t.Fatal(err)
		}
		pos, _ := s.StagePosition()
		if diff := cmp.Diff(tt.want, pos, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("after %s: %s", tt.dir, diff)
		}
	}
	if err := s.Jog("sideways"); !fault.Is(err, fault.Precondition) {
		t.Errorf("expected a precondition fault, got %v", err)
	}
}

func TestFocus(t *testing.T) {
	s := newSession(t)
	for _, dir := range []string{"up", "up", "down"} {
		if err := s.Focus(dir); err != nil {
			t.Fatal(err)
		}
	}
	z, err := s.Hardware().Focuser.GetFocus()
	if err != nil {
		t.Fatal(err)
	}
	if z != DefaultFocusStep {
		t.Errorf("expected focus at %v, got %v", float64(DefaultFocusStep), z)
	}
	if err := s.Focus("in"); !fault.Is(err, fault.Precondition) {
		t.Errorf("expected a precondition fault, got %v", err)
	}
}

func TestToggleShutter(t *testing.T) {
	s := newSession(t)
	open, err := s.ToggleShutter()
	if err != nil || !open {
		t.Fatalf("toggle gave %v, %v", open, err)
	}
	if open, _ := s.Shutter(); !open {
		t.Error("shutter not open")
	}
	open, _ = s.ToggleShutter()
	if open {
		t.Error("second toggle did not close")
	}
}

func TestInspect(t *testing.T) {
	s := newSession(t)
	in, err := s.Inspect(testOrigin)
	if err != nil {
		t.Fatal(err)
	}
	if in.InBounds {
		t.Error("pixel in bounds with no frame")
	}
	capture(t, s)
	in, err = s.Inspect(transform.Point{X: testOrigin.X + 10, Y: testOrigin.Y})
	if err != nil {
		t.Fatal(err)
	}
	if !in.InBounds || in.Value != 0xFFFF {
		t.Errorf("unexpected value %v in bounds %v", in.Value, in.InBounds)
	}
	if math.Abs(in.Microns.X-10*transform.DefaultMicronsPerPixel) > 1e-9 || in.Microns.Y != 0 {
		t.Errorf("unexpected microns %v", in.Microns)
	}
	if in.Stage.X >= 0 {
		t.Errorf("pixel right of the origin should need -x travel, got %v", in.Stage)
	}
}

func TestSaveImage(t *testing.T) {
	s := newSession(t)
	if _, err := s.SaveImage(); err != ErrNoFrame {
		t.Errorf("expected ErrNoFrame, got %v", err)
	}
	capture(t, s)
	fn, err := s.SaveImage()
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, cards, err := camera.ReadFits(f)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 64 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}
	found := false
	for _, c := range cards {
		if c.Name == "STPPERUM" {
			found = true
		}
	}
	if !found {
		t.Error("calibration cards missing")
	}
}

func TestPreviewAndOverlay(t *testing.T) {
	s := patternSession(t)
	if _, err := s.Preview(1, true); err != ErrNoFrame {
		t.Errorf("expected ErrNoFrame, got %v", err)
	}
	capture(t, s)
	img, err := s.Preview(0.5, true)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("unexpected preview bounds %v", b)
	}
	// two positions and two reference marks
	if n := len(s.Annotations()); n != 4 {
		t.Errorf("expected 4 annotations, got %d", n)
	}
}

func TestSetScaling(t *testing.T) {
	s := newSession(t)
	if err := s.SetScaling(camera.Scaling{Min: 10, Max: 5}); !fault.Is(err, fault.Precondition) {
		t.Errorf("expected a precondition fault, got %v", err)
	}
	sc := camera.Scaling{Min: 0, Max: 1000}
	if err := s.SetScaling(sc); err != nil {
		t.Fatal(err)
	}
	if s.Scaling() != sc {
		t.Error("scaling not stored")
	}
}

func TestNearestFollowsCurrentOrigin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Spot.Policy = "nearest"
	cfg.Spot.NumPeaks = 2
	hw := hardware.Connect(cfg.Hardware, cfg.Calibration.Origin, nil)
	hw.Camera = twoSpotCamera{}
	s, err := New(cfg, hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	capture(t, s)

	for _, c := range []struct{ origin, want transform.Point }{
		{transform.Point{X: 12, Y: 24}, transform.Point{X: 10, Y: 24}},
		{transform.Point{X: 48, Y: 24}, transform.Point{X: 50, Y: 24}},
	} {
		s.SetOrigin(c.origin)
		got, err := s.EstimateOrigin()
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("origin %v: expected %v, got %v", c.origin, c.want, got)
		}
	}
}

func TestConfigEstimator(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spot.Policy = "sideways"
	if _, ok := cfg.estimator(); ok {
		t.Error("unknown policy accepted")
	}
	cfg.Spot.Policy = "nearest"
	if est, ok := cfg.estimator(); !ok || est.Policy == nil {
		t.Error("nearest policy not built")
	}
	if d := DefaultConfig().exposeConfig(); d.Exposure != expose.DefaultExposure || d.Settle != expose.DefaultSettle {
		t.Errorf("unexpected default dwell %+v", d)
	}
}
