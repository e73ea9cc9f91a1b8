package expose

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/motion"
	"github.com/nasa-jpl/daisy/shutter"
	"github.com/nasa-jpl/daisy/transform"
)

// recorder is a Notifier that keeps everything it is told and can run a hook
// on each progress notification
type recorder struct {
	mu       sync.Mutex
	progress []Progress
	done     []Summary
	hook     func(Progress)
}

func (r *recorder) Progress(p Progress) {
	r.mu.Lock()
	r.progress = append(r.progress, p)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(p)
	}
}

func (r *recorder) Done(s Summary) {
	r.mu.Lock()
	r.done = append(r.done, s)
	r.mu.Unlock()
}

func positions(n int) []transform.Point {
	out := make([]transform.Point, n)
	for i := range out {
		out[i] = transform.Point{X: float64(i * 10), Y: float64(-i)}
	}
	return out
}

var fast = Config{Exposure: time.Millisecond, Settle: time.Millisecond}

func newSequencer() (*Sequencer, *motion.Mock, *shutter.Mock, *recorder) {
	m := motion.NewMock()
	sh := &shutter.Mock{}
	rec := &recorder{}
	return New(motion.NewAxisStage(m), sh, rec, nil), m, sh, rec
}

func TestProgressReachesHundred(t *testing.T) {
	s, m, sh, rec := newSequencer()
	pos := positions(4)
	sum, err := s.Expose(context.Background(), pos, fast)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.progress) != 4 {
		t.Fatalf("expected 4 progress notifications, got %d", len(rec.progress))
	}
	for i, p := range rec.progress {
		exp := float64(i+1) / 4 * 100
		if p.Percent != exp || p.Index != i {
			t.Errorf("notification %d: expected %.0f%% at index %d, got %.0f%% at %d", i, exp, i, p.Percent, p.Index)
		}
		if p.To != pos[i] {
			t.Errorf("notification %d: position %v, expected %v", i, p.To, pos[i])
		}
	}
	if rec.progress[3].Percent != 100 {
		t.Error("last notification not 100%")
	}
	if sum.Exposed != 4 || sum.Cancelled {
		t.Errorf("unexpected summary %+v", sum)
	}
	if sh.Opens() != 4 {
		t.Errorf("expected 4 shutter opens, got %d", sh.Opens())
	}
	if open, _ := sh.GetShutter(); open {
		t.Error("shutter left open")
	}
	if m.Moves != 8 {
		t.Errorf("expected 8 axis moves, got %d", m.Moves)
	}
	if len(rec.done) != 1 {
		t.Errorf("expected one completion, got %d", len(rec.done))
	}
	if s.State() != Idle || s.Active() != nil {
		t.Error("sequencer not idle after pass")
	}
}

func TestShutterSequencePerStep(t *testing.T) {
	s, _, sh, _ := newSequencer()
	if _, err := s.Expose(context.Background(), positions(2), fast); err != nil {
		t.Fatal(err)
	}
	exp := []bool{false, true, false, false, true, false}
	if len(sh.Log) != len(exp) {
		t.Fatalf("expected %v, got %v", exp, sh.Log)
	}
	for i := range exp {
		if sh.Log[i] != exp[i] {
			t.Fatalf("expected %v, got %v", exp, sh.Log)
		}
	}
}

func TestCancelAfterStep(t *testing.T) {
	const k = 2
	s, _, sh, rec := newSequencer()
	rec.hook = func(p Progress) {
		if p.Index == k {
			s.Cancel()
		}
	}
	sum, err := s.Expose(context.Background(), positions(10), fast)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Cancelled {
		t.Error("summary not marked cancelled")
	}
	if sum.Exposed != k+1 {
		t.Errorf("expected %d exposures, got %d", k+1, sum.Exposed)
	}
	if sh.Opens() != k+1 {
		t.Errorf("expected %d shutter opens, got %d", k+1, sh.Opens())
	}
}

func TestCancelDoesNotCutExposure(t *testing.T) {
	s, _, sh, _ := newSequencer()
	cfg := Config{Exposure: 50 * time.Millisecond}
	r, err := s.Start(context.Background(), positions(3), cfg)
	if err != nil {
		t.Fatal(err)
	}
	for sh.Opens() == 0 {
		time.Sleep(time.Millisecond)
	}
	start := time.Now()
	r.Cancel()
	if s.State() != Cancelling {
		t.Errorf("expected cancelling, got %v", s.State())
	}
	sum := r.Wait()
	if sum.Exposed != 1 {
		t.Errorf("expected the in-flight exposure to finish, exposed %d", sum.Exposed)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("cancel interrupted an open shutter")
	}
}

func TestSecondStartRefused(t *testing.T) {
	s, _, _, _ := newSequencer()
	r, err := s.Start(context.Background(), positions(3), Config{Exposure: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Start(context.Background(), positions(1), fast)
	if err != ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if !fault.Is(err, fault.Precondition) {
		t.Error("already running should be a precondition fault")
	}
	sum := r.Wait()
	if sum.Exposed != 3 || sum.Cancelled {
		t.Errorf("first pass disturbed: %+v", sum)
	}
}

func TestNoPositions(t *testing.T) {
	s, _, _, rec := newSequencer()
	if _, err := s.Start(context.Background(), nil, fast); err != ErrNoPositions {
		t.Errorf("expected ErrNoPositions, got %v", err)
	}
	if len(rec.done) != 0 || s.State() != Idle {
		t.Error("refused start changed state")
	}
	if _, err := s.Start(context.Background(), positions(1), Config{Exposure: -1}); err != ErrBadExposure {
		t.Errorf("expected ErrBadExposure, got %v", err)
	}
}

func TestDeviceErrorKeepsPartialProgress(t *testing.T) {
	s, m, sh, rec := newSequencer()
	m.FailAfter = 4 // two XY moves succeed
	sum, err := s.Expose(context.Background(), positions(5), fast)
	if !fault.Is(err, fault.Device) {
		t.Fatalf("expected device fault, got %v", err)
	}
	if !errors.Is(err, motion.ErrMockFault) {
		t.Errorf("device fault lost its cause: %v", err)
	}
	if sum.Exposed != 2 || sum.Cancelled {
		t.Errorf("expected 2 exposed and not cancelled, got %+v", sum)
	}
	if len(rec.progress) != 2 {
		t.Errorf("expected 2 progress notifications, got %d", len(rec.progress))
	}
	if open, _ := sh.GetShutter(); open {
		t.Error("shutter left open after device fault")
	}
	if s.State() != Idle {
		t.Error("sequencer not idle after device fault")
	}
}

func TestShutdownClosesShutter(t *testing.T) {
	s, _, sh, _ := newSequencer()
	ctx, cancel := context.WithCancel(context.Background())
	r, err := s.Start(ctx, positions(2), Config{Exposure: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	for sh.Opens() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("shutdown did not end the hold")
	}
	sum := r.Wait()
	if !sum.Cancelled || sum.Err != context.Canceled {
		t.Errorf("unexpected summary %+v", sum)
	}
	if open, _ := sh.GetShutter(); open {
		t.Error("shutter left open on shutdown")
	}
}

func TestSimulateTiming(t *testing.T) {
	s := New(motion.NewAxisStage(motion.NewMock()), &shutter.Null{}, nil, nil)
	cfg := Config{Exposure: 10 * time.Millisecond, Settle: 5 * time.Millisecond}
	start := time.Now()
	sum, err := s.Expose(context.Background(), positions(3), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if el := time.Since(start); el < 45*time.Millisecond {
		t.Errorf("simulated pass took %v, expected at least 45ms", el)
	}
	if sum.Exposed != 3 {
		t.Errorf("expected 3 exposures, got %d", sum.Exposed)
	}
}

func TestStateString(t *testing.T) {
	for st, exp := range map[State]string{Idle: "idle", Running: "running", Cancelling: "cancelling", Completed: "completed"} {
		if st.String() != exp {
			t.Errorf("%d: expected %s, got %s", st, exp, st.String())
		}
	}
}
