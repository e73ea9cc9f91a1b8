package daisy

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/daisy/camera"
	"github.com/nasa-jpl/daisy/generichttp"
	gcamera "github.com/nasa-jpl/daisy/generichttp/camera"
	gmotion "github.com/nasa-jpl/daisy/generichttp/motion"
	"github.com/nasa-jpl/daisy/imgrec"
	"github.com/nasa-jpl/daisy/overlay"
	"github.com/nasa-jpl/daisy/server"
	"github.com/nasa-jpl/daisy/server/middleware/locker"
	"github.com/nasa-jpl/daisy/transform"
	"github.com/nasa-jpl/daisy/util"
)

// HTTPWrapper exposes a Session over HTTP
type HTTPWrapper struct {
	s *Session

	// Hub pushes events to websocket clients at /events
	Hub *Hub

	// Metrics are served at /metrics
	Metrics *Metrics

	limits     *gmotion.LimitMiddleware
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper builds the route table for s and registers the websocket
// hub and metrics as session listeners
func NewHTTPWrapper(s *Session) HTTPWrapper {
	h := HTTPWrapper{
		s:          s,
		Hub:        NewHub(s.log),
		Metrics:    NewMetrics(),
		RouteTable: generichttp.RouteTable{},
	}
	h.Hub.Greeting = func() Event { return Event{Kind: EventStatus, Status: s.Status()} }
	s.Listen(h.Hub)
	s.Listen(h.Metrics)

	rt := h.RouteTable
	add := func(method, path string, fn http.HandlerFunc) {
		rt[generichttp.MethodPath{Method: method, Path: path}] = fn
	}

	add(http.MethodGet, "/calibration", h.getCalibration)
	add(http.MethodPost, "/calibration", h.setCalibration)
	add(http.MethodPost, "/origin", h.setOrigin)
	add(http.MethodPost, "/origin/estimate", h.estimateOrigin)
	add(http.MethodPost, "/origin/reset", h.resetOrigin)

	add(http.MethodGet, "/reference", h.getReferences)
	add(http.MethodDelete, "/reference", h.clearReferences)
	add(http.MethodPost, "/reference/{n}", h.markReference)

	add(http.MethodGet, "/pattern", h.getPattern)
	add(http.MethodPost, "/pattern", h.loadPattern)
	add(http.MethodPost, "/pattern/build", h.buildPattern)
	add(http.MethodGet, "/pattern/positions", h.getPositions)
	add(http.MethodGet, "/pattern/scale", generichttp.GetFloat(func() (float64, error) { return s.PatternScale(), nil }))
	add(http.MethodPost, "/pattern/scale", generichttp.SetFloat(s.SetPatternScale))

	add(http.MethodPost, "/expose", h.startExposure)
	add(http.MethodPost, "/expose/stop", h.stopExposure)
	add(http.MethodGet, "/expose/status", h.exposureStatus)
	add(http.MethodGet, "/expose/exposure-time", generichttp.GetFloat(func() (float64, error) {
		return s.ExposureTime().Seconds(), nil
	}))
	add(http.MethodPost, "/expose/exposure-time", generichttp.SetFloat(func(f float64) error {
		return s.SetExposureTime(util.SecsToDuration(f))
	}))

	add(http.MethodGet, "/stage/pos", h.getStage)
	add(http.MethodPost, "/stage/pos", h.moveStage)
	add(http.MethodPost, "/stage/jog/{dir}", h.jog)
	add(http.MethodPost, "/stage/focus/{dir}", h.focus)
	add(http.MethodGet, "/stage/step-size", generichttp.GetFloat(func() (float64, error) { return s.StepSize(), nil }))
	add(http.MethodPost, "/stage/step-size", generichttp.SetFloat(s.SetStepSize))

	add(http.MethodGet, "/shutter", generichttp.GetBool(s.Shutter))
	add(http.MethodPost, "/shutter", generichttp.SetBool(s.SetShutter))
	add(http.MethodPost, "/shutter/toggle", h.toggleShutter)

	add(http.MethodGet, "/image", h.image)
	add(http.MethodPost, "/image/save", h.saveImage)
	add(http.MethodGet, "/image/saved", h.savedImage)
	add(http.MethodGet, "/pixel", h.pixel)
	add(http.MethodGet, "/overlay", h.getOverlay)
	add(http.MethodGet, "/acquire", generichttp.GetBool(func() (bool, error) { return s.loop.Acquiring(), nil }))
	add(http.MethodPost, "/acquire", generichttp.SetBool(func(b bool) error { s.loop.SetAcquiring(b); return nil }))
	add(http.MethodGet, "/acquire/exposure-time", generichttp.GetFloat(func() (float64, error) {
		return s.loop.Exposure().Seconds(), nil
	}))
	add(http.MethodPost, "/acquire/exposure-time", generichttp.SetFloat(func(f float64) error {
		if f < 0 {
			return camera.ErrBadExposure
		}
		s.loop.SetExposure(util.SecsToDuration(f))
		return nil
	}))
	add(http.MethodGet, "/scaling", h.getScaling)
	add(http.MethodPost, "/scaling", h.setScaling)

	add(http.MethodGet, "/status", generichttp.GetString(func() (string, error) { return s.Status(), nil }))
	add(http.MethodGet, "/events", h.Hub.ServeHTTP)
	add(http.MethodGet, "/metrics", h.Metrics.Handler().ServeHTTP)
	add(http.MethodGet, "/endpoints", h.endpoints)

	// the camera and axis controller underneath, for engineering access
	cam := generichttp.RouteTable{}
	gcamera.HTTPPicture(s.hw.Camera, cam, s.rec)
	for mp, fn := range cam {
		add(mp.Method, "/camera"+mp.Path, fn)
	}
	if s.hw.Axes != nil {
		ctl := gmotion.NewHTTPMotionController(s.hw.Axes)
		lm := gmotion.NewLimitMiddleware(s.cfg.Hardware.Stage.Limits, s.hw.Axes)
		h.limits = &lm
		h.limits.Inject(ctl)
		for mp, fn := range ctl.RT() {
			add(mp.Method, "/stage"+mp.Path, fn)
		}
	}
	imgrec.NewHTTPWrapper(s.rec).Inject(h)
	locker.Inject(h, s.lock)
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Router returns a chi router with the lock and limit middleware and every
// route bound
func (h HTTPWrapper) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(h.s.lock.Check)
	if h.limits != nil {
		r.Use(h.limits.Check)
	}
	h.RouteTable.Bind(r)
	return r
}

// Close disconnects websocket clients
func (h HTTPWrapper) Close() error {
	return h.Hub.Close()
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func respondErr(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), generichttp.StatusFor(err))
}

func (h HTTPWrapper) endpoints(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.RouteTable.Endpoints())
}

func (h HTTPWrapper) getCalibration(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.s.Calibration())
}

func (h HTTPWrapper) setCalibration(w http.ResponseWriter, r *http.Request) {
	c := h.s.Calibration()
	if !decode(w, r, &c) {
		return
	}
	if err := h.s.SetCalibration(c); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) setOrigin(w http.ResponseWriter, r *http.Request) {
	p := transform.Point{}
	if !decode(w, r, &p) {
		return
	}
	h.s.SetOrigin(p)
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) estimateOrigin(w http.ResponseWriter, r *http.Request) {
	p, err := h.s.EstimateOrigin()
	if err != nil {
		respondErr(w, err)
		return
	}
	generichttp.RespondJSON(w, p)
}

func (h HTTPWrapper) resetOrigin(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.s.ResetOrigin())
}

func (h HTTPWrapper) getReferences(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.s.References())
}

func (h HTTPWrapper) clearReferences(w http.ResponseWriter, r *http.Request) {
	h.s.ClearReferences()
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) markReference(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	px := transform.Point{}
	if !decode(w, r, &px) {
		return
	}
	pt, err := h.s.MarkReference(n, px)
	if err != nil {
		respondErr(w, err)
		return
	}
	generichttp.RespondJSON(w, pt)
}

func (h HTTPWrapper) getPattern(w http.ResponseWriter, r *http.Request) {
	p, name := h.s.Pattern()
	generichttp.RespondJSON(w, struct {
		Name   string            `json:"name"`
		Points []transform.Point `json:"points"`
	}{name, p})
}

// loadPattern reads a pattern file from the request body; the name query
// parameter labels it
func (h HTTPWrapper) loadPattern(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	n, err := h.s.LoadPattern(r.Body, name)
	if err != nil {
		respondErr(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.Int, Int: n}
	hp.EncodeAndRespond(w, r)
}

func (h HTTPWrapper) buildPattern(w http.ResponseWriter, r *http.Request) {
	n, err := h.s.BuildPattern()
	if err != nil {
		respondErr(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.Int, Int: n}
	hp.EncodeAndRespond(w, r)
}

func (h HTTPWrapper) getPositions(w http.ResponseWriter, r *http.Request) {
	pos := h.s.Positions()
	if pos == nil {
		pos = []transform.Point{}
	}
	generichttp.RespondJSON(w, pos)
}

func (h HTTPWrapper) startExposure(w http.ResponseWriter, r *http.Request) {
	id, err := h.s.StartExposure()
	if err != nil {
		respondErr(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: id}
	hp.EncodeAndRespond(w, r)
}

func (h HTTPWrapper) stopExposure(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: h.s.StopExposure()}
	hp.EncodeAndRespond(w, r)
}

func (h HTTPWrapper) exposureStatus(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.s.ExposureStatus())
}

func (h HTTPWrapper) getStage(w http.ResponseWriter, r *http.Request) {
	p, err := h.s.StagePosition()
	if err != nil {
		respondErr(w, err)
		return
	}
	generichttp.RespondJSON(w, p)
}

// moveStage moves to {x, y}, or by it with ?relative=true
func (h HTTPWrapper) moveStage(w http.ResponseWriter, r *http.Request) {
	rel := false
	if q := r.URL.Query().Get("relative"); q != "" {
		var err error
		rel, err = strconv.ParseBool(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	p := transform.Point{}
	if !decode(w, r, &p) {
		return
	}
	if err := h.s.MoveStage(p, rel); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) jog(w http.ResponseWriter, r *http.Request) {
	if err := h.s.Jog(chi.URLParam(r, "dir")); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) focus(w http.ResponseWriter, r *http.Request) {
	if err := h.s.Focus(chi.URLParam(r, "dir")); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) toggleShutter(w http.ResponseWriter, r *http.Request) {
	open, err := h.s.ToggleShutter()
	if err != nil {
		respondErr(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.Bool, Bool: open}
	hp.EncodeAndRespond(w, r)
}

// image serves the live view.  fmt is jpg (default) or png, scale defaults
// to the preview scale, and overlay=false omits the annotations.
func (h HTTPWrapper) image(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scale := overlay.DefaultPreviewScale
	if str := q.Get("scale"); str != "" {
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		scale = f
	}
	withOverlay := true
	if str := q.Get("overlay"); str != "" {
		b, err := strconv.ParseBool(str)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		withOverlay = b
	}
	format := q.Get("fmt")
	if format == "" {
		format = "jpg"
	}
	if format != "jpg" && format != "png" {
		http.Error(w, "format must be jpg or png", http.StatusBadRequest)
		return
	}
	img, err := h.s.Preview(scale, withOverlay)
	if err != nil {
		respondErr(w, err)
		return
	}
	if format == "png" {
		w.Header().Set("Content-Type", "image/png")
	} else {
		w.Header().Set("Content-Type", "image/jpeg")
	}
	w.WriteHeader(http.StatusOK)
	gcamera.WriteImage(w, img, format)
}

func (h HTTPWrapper) saveImage(w http.ResponseWriter, r *http.Request) {
	fn, err := h.s.SaveImage()
	if err != nil {
		respondErr(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: fn}
	hp.EncodeAndRespond(w, r)
}

// savedImage serves a saved frame named relative to the recorder root
func (h HTTPWrapper) savedImage(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name query parameter required", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/fits")
	server.ReplyWithFile(w, r, name, h.s.rec.RootFolder())
}

func (h HTTPWrapper) pixel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, err := strconv.ParseFloat(q.Get("x"), 64)
	if err != nil {
		http.Error(w, "x: "+err.Error(), http.StatusBadRequest)
		return
	}
	y, err := strconv.ParseFloat(q.Get("y"), 64)
	if err != nil {
		http.Error(w, "y: "+err.Error(), http.StatusBadRequest)
		return
	}
	in, err := h.s.Inspect(transform.Point{X: x, Y: y})
	if err != nil {
		respondErr(w, err)
		return
	}
	generichttp.RespondJSON(w, in)
}

func (h HTTPWrapper) getOverlay(w http.ResponseWriter, r *http.Request) {
	anns := h.s.Annotations()
	if anns == nil {
		anns = []overlay.Annotation{}
	}
	generichttp.RespondJSON(w, anns)
}

func (h HTTPWrapper) getScaling(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.s.Scaling())
}

func (h HTTPWrapper) setScaling(w http.ResponseWriter, r *http.Request) {
	sc := h.s.Scaling()
	if !decode(w, r, &sc) {
		return
	}
	if err := h.s.SetScaling(sc); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
