package motion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/generichttp"
	"github.com/nasa-jpl/daisy/transform"
	"github.com/nasa-jpl/daisy/util"
)

func TestAxisStageMoveAbsolute(t *testing.T) {
	m := NewMock()
	s := NewAxisStage(m)
	target := transform.Point{X: 12.5, Y: -4}
	if err := s.MoveAbsolute(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetPosition()
	if err != nil {
		t.Fatal(err)
	}
	if got != target {
		t.Errorf("expected %v, got %v", target, got)
	}
}

func TestAxisStageWaitsForTravel(t *testing.T) {
	m := NewMock()
	m.Travel = 20 * time.Millisecond
	s := NewAxisStage(m)
	start := time.Now()
	if err := s.MoveAbsolute(context.Background(), transform.Point{X: 1, Y: 1}); err != nil {
		t.Fatal(err)
	}
	if el := time.Since(start); el < m.Travel {
		t.Errorf("move returned after %v, before travel of %v", el, m.Travel)
	}
}

func TestAxisStageWaitCancelled(t *testing.T) {
	m := NewMock()
	m.Travel = time.Hour
	s := NewAxisStage(m)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.MoveAbsolute(ctx, transform.Point{X: 1})
	if err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestAxisStageWaitDeadlineBeforeMaxWait(t *testing.T) {
	m := NewMock()
	m.Travel = time.Hour
	s := NewAxisStage(m)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.MoveAbsolute(ctx, transform.Point{X: 1})
	if err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if el := time.Since(start); el < 50*time.Millisecond {
		t.Errorf("wait gave up after %v, before the deadline", el)
	}
}

func TestAxisStageWaitTimesOut(t *testing.T) {
	m := NewMock()
	m.Travel = time.Hour
	s := NewAxisStage(m)
	s.MaxWait = 5 * time.Millisecond
	err := s.MoveAbsolute(context.Background(), transform.Point{X: 1})
	if !fault.Is(err, fault.Device) || !errors.Is(err, ErrNotInPosition) {
		t.Errorf("expected a device fault wrapping ErrNotInPosition, got %v", err)
	}
}

func TestAxisStageMoveRelativeAndFocus(t *testing.T) {
	m := NewMock()
	s := NewAxisStage(m)
	ctx := context.Background()
	s.MoveAbsolute(ctx, transform.Point{X: 10, Y: 10})
	if err := s.MoveRelative(ctx, transform.Point{X: -3}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetPosition()
	if got != (transform.Point{X: 7, Y: 10}) {
		t.Errorf("unexpected position %v", got)
	}
	if err := s.MoveFocus(ctx, 2); err != nil {
		t.Fatal(err)
	}
	z, _ := s.GetFocus()
	if z != 2 {
		t.Errorf("expected focus 2, got %f", z)
	}
}

func TestAxisStageDeviceFault(t *testing.T) {
	m := NewMock()
	m.FailAfter = 1
	s := NewAxisStage(m)
	err := s.MoveAbsolute(context.Background(), transform.Point{X: 1, Y: 1})
	if !fault.Is(err, fault.Device) {
		t.Errorf("expected device fault, got %v", err)
	}
}

func TestLimited(t *testing.T) {
	l := &Limited{Mover: NewMock(), Limits: map[string]util.Limiter{"X": {Min: -10, Max: 10}}}
	if err := l.MoveAbs("X", 5); err != nil {
		t.Fatal(err)
	}
	if err := l.MoveAbs("X", 11); !fault.Is(err, fault.Precondition) {
		t.Errorf("expected limit violation, got %v", err)
	}
	if err := l.MoveRel("X", 6); err == nil {
		t.Error("relative move past limit was allowed")
	}
	if err := l.MoveAbs("Y", 1e6); err != nil {
		t.Errorf("unlimited axis refused: %v", err)
	}
	pos, _ := l.GetPos("X")
	if pos != 5 {
		t.Errorf("refused moves changed position to %f", pos)
	}
}

// controllerServer serves a mock over the /axis routes
func controllerServer(m *Mock) *httptest.Server {
	r := chi.NewRouter()
	r.Get("/axis/{axis}/pos", func(w http.ResponseWriter, r *http.Request) {
		p, _ := m.GetPos(chi.URLParam(r, "axis"))
		generichttp.RespondJSON(w, generichttp.FloatT{F64: p})
	})
	r.Post("/axis/{axis}/pos", func(w http.ResponseWriter, r *http.Request) {
		f := generichttp.FloatT{}
		json.NewDecoder(r.Body).Decode(&f)
		axis := chi.URLParam(r, "axis")
		if r.URL.Query().Get("relative") == "true" {
			m.MoveRel(axis, f.F64)
		} else {
			m.MoveAbs(axis, f.F64)
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/axis/{axis}/inposition", func(w http.ResponseWriter, r *http.Request) {
		b, _ := m.GetInPosition(chi.URLParam(r, "axis"))
		generichttp.RespondJSON(w, generichttp.BoolT{Bool: b})
	})
	return httptest.NewServer(r)
}

func TestHTTPMover(t *testing.T) {
	m := NewMock()
	srv := controllerServer(m)
	defer srv.Close()
	s := NewAxisStage(NewHTTPMover(srv.URL))
	ctx := context.Background()
	if err := s.MoveAbsolute(ctx, transform.Point{X: 3, Y: 4}); err != nil {
		t.Fatal(err)
	}
	if err := s.MoveRelative(ctx, transform.Point{X: 1}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetPosition()
	if err != nil {
		t.Fatal(err)
	}
	if got != (transform.Point{X: 4, Y: 4}) {
		t.Errorf("unexpected position %v", got)
	}
}
