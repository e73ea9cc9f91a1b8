package daisy

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nasa-jpl/daisy/expose"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.Event(Event{Kind: EventFrame})
	m.Event(Event{Kind: EventFrame})
	m.Event(Event{Kind: EventCaptureError})
	m.Event(Event{Kind: EventProgress, Progress: &expose.Progress{Percent: 50}})
	if v := testutil.ToFloat64(m.exposing); v != 1 {
		t.Errorf("exposing gauge %v during a pass", v)
	}
	m.Event(Event{Kind: EventProgress, Progress: &expose.Progress{Percent: 100}})
	m.Event(Event{Kind: EventDone, Summary: &expose.Summary{Exposed: 2, Total: 2}})
	m.Event(Event{Kind: EventDone, Summary: &expose.Summary{Cancelled: true}})
	m.Event(Event{Kind: EventDone, Summary: &expose.Summary{Err: errors.New("stage fault")}})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"frames", testutil.ToFloat64(m.frames), 2},
		{"capture errors", testutil.ToFloat64(m.captureErrors), 1},
		{"exposures", testutil.ToFloat64(m.exposures), 2},
		{"progress", testutil.ToFloat64(m.progress), 100},
		{"exposing", testutil.ToFloat64(m.exposing), 0},
		{"completed", testutil.ToFloat64(m.runs.WithLabelValues("completed")), 1},
		{"cancelled", testutil.ToFloat64(m.runs.WithLabelValues("cancelled")), 1},
		{"failed", testutil.ToFloat64(m.runs.WithLabelValues("failed")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestSessionEmitsStatus(t *testing.T) {
	s := newSession(t)
	ev := &events{}
	s.Listen(ev)
	s.SetOrigin(testOrigin)
	kinds := ev.kinds()
	if len(kinds) != 2 || kinds[0] != EventOrigin || kinds[1] != EventStatus {
		t.Errorf("unexpected events %v", kinds)
	}
	ev.Lock()
	defer ev.Unlock()
	if ev.got[1].Status != s.Status() || ev.got[1].Time.IsZero() {
		t.Errorf("unexpected status event %+v", ev.got[1])
	}
}
