package daisy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/olahol/melody"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nasa-jpl/daisy/expose"
	"github.com/nasa-jpl/daisy/logger"
	"github.com/nasa-jpl/daisy/transform"
)

// EventKind names what happened
type EventKind string

const (
	EventStatus       EventKind = "status"
	EventProgress     EventKind = "progress"
	EventDone         EventKind = "done"
	EventFrame        EventKind = "frame"
	EventCaptureError EventKind = "capture-error"
	EventOrigin       EventKind = "origin"
	EventReference    EventKind = "reference"
	EventPattern      EventKind = "pattern"
	EventStage        EventKind = "stage"
	EventShutter      EventKind = "shutter"
)

// Event is a notification from the session.  Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`

	Status   string           `json:"status,omitempty"`
	Progress *expose.Progress `json:"progress,omitempty"`
	Summary  *expose.Summary  `json:"summary,omitempty"`
	Point    *transform.Point `json:"point,omitempty"`
	Index    int              `json:"index,omitempty"`
	Count    int              `json:"count,omitempty"`
	Open     bool             `json:"open,omitempty"`
	Seq      uint64           `json:"seq,omitempty"`
	Err      string           `json:"err,omitempty"`
}

// Listener receives session events.  Calls come from the acquisition and
// exposure goroutines and must not block.
type Listener interface {
	Event(Event)
}

// Hub pushes events to websocket clients.  Frame events are not pushed.
type Hub struct {
	m   *melody.Melody
	log logger.ILogger

	// Greeting, if not nil, produces the first message sent to a new client
	Greeting func() Event
}

// NewHub returns a websocket hub
func NewHub(l logger.ILogger) *Hub {
	h := &Hub{m: melody.New(), log: logger.OrNull(l)}
	h.m.HandleConnect(func(s *melody.Session) {
		if h.Greeting == nil {
			return
		}
		b, err := json.Marshal(h.Greeting())
		if err != nil {
			return
		}
		if err := s.Write(b); err != nil {
			h.log.Debugf("websocket greeting: %v", err)
		}
	})
	return h
}

// Event broadcasts e to every connected client
func (h *Hub) Event(e Event) {
	if e.Kind == EventFrame {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		h.log.Errorf("encoding %s event: %v", e.Kind, err)
		return
	}
	if err := h.m.Broadcast(b); err != nil {
		h.log.Debugf("websocket broadcast: %v", err)
	}
}

// ServeHTTP upgrades the request to a websocket
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.m.HandleRequest(w, r); err != nil {
		h.log.Debugf("websocket upgrade: %v", err)
	}
}

// Close disconnects every client
func (h *Hub) Close() error {
	return h.m.Close()
}

// Metrics counts session events for prometheus
type Metrics struct {
	reg *prometheus.Registry

	exposures     prometheus.Counter
	runs          *prometheus.CounterVec
	frames        prometheus.Counter
	captureErrors prometheus.Counter
	exposing      prometheus.Gauge
	progress      prometheus.Gauge
}

// NewMetrics returns metrics registered on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		exposures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daisy",
			Name:      "positions_exposed_total",
			Help:      "Positions exposed through the shutter.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daisy",
			Name:      "exposure_runs_total",
			Help:      "Exposure passes finished, by outcome.",
		}, []string{"outcome"}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daisy",
			Name:      "frames_acquired_total",
			Help:      "Live view frames captured.",
		}),
		captureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daisy",
			Name:      "capture_errors_total",
			Help:      "Live view captures that failed.",
		}),
		exposing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daisy",
			Name:      "exposing",
			Help:      "1 while an exposure pass runs.",
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daisy",
			Name:      "exposure_progress_percent",
			Help:      "Progress of the current or last exposure pass.",
		}),
	}
	m.reg.MustRegister(m.exposures, m.runs, m.frames, m.captureErrors, m.exposing, m.progress)
	return m
}

// Event updates the metrics from e
func (m *Metrics) Event(e Event) {
	switch e.Kind {
	case EventFrame:
		m.frames.Inc()
	case EventCaptureError:
		m.captureErrors.Inc()
	case EventProgress:
		m.exposures.Inc()
		m.exposing.Set(1)
		if e.Progress != nil {
			m.progress.Set(e.Progress.Percent)
		}
	case EventDone:
		m.exposing.Set(0)
		if e.Summary != nil {
			m.runs.WithLabelValues(outcome(*e.Summary)).Inc()
		}
	}
}

// Handler serves the metrics in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func outcome(s expose.Summary) string {
	switch {
	case s.Cancelled:
		return "cancelled"
	case s.Err != nil:
		return "failed"
	default:
		return "completed"
	}
}
