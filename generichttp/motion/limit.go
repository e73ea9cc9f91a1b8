package motion

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/daisy/generichttp"
	dmotion "github.com/nasa-jpl/daisy/motion"
	"github.com/nasa-jpl/daisy/util"
)

// LimitMiddleware refuses position commands that would leave an axis'
// software limits before they reach the controller
type LimitMiddleware struct {
	*dmotion.Limited
}

// NewLimitMiddleware returns a middleware checking moves of m against limits
func NewLimitMiddleware(limits map[string]util.Limiter, m Mover) LimitMiddleware {
	return LimitMiddleware{&dmotion.Limited{Mover: m, Limits: limits}}
}

// command decodes the body of a POST .../pos request and puts it back for
// the handler downstream
func command(r *http.Request) (float64, error) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return 0, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	f := generichttp.FloatT{}
	err = json.Unmarshal(body, &f)
	return f.F64, err
}

// Check is the middleware.  Requests other than POST .../pos, and moves of
// axes with no limits, pass straight through.
func (l LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/pos") {
			next.ServeHTTP(w, r)
			return
		}
		axis, relative, err := popAxisRelative(r)
		if _, limited := l.Limit(axis); !limited {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dest, err := command(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if relative {
			cur, err := l.GetPos(axis)
			if err != nil {
				respondErr(w, err)
				return
			}
			dest += cur
		}
		if err = l.Limited.Check(axis, dest); err != nil {
			respondErr(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Inject places a /axis/{axis}/limits route on the table of the HTTPer
func (l LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = l.GetLimits
}

// GetLimits responds with the limits of the axis, or null if it has none
func (l LimitMiddleware) GetLimits(w http.ResponseWriter, r *http.Request) {
	var out *util.Limiter
	if lim, ok := l.Limit(chi.URLParam(r, "axis")); ok {
		out = &lim
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
