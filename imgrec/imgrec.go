// Package imgrec contains an image recorder used to save frames to disk as FITS.
package imgrec

import (
	"encoding/json"
	"fmt"
	"go/types"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/daisy/camera"
	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/generichttp"
)

// ErrNoRoot is returned by Save when the root folder is not set
var ErrNoRoot = fault.NewPrecondition("recorder root folder not set")

// Recorder records frames with incrementing filenames in yyyy-mm-dd subfolders
type Recorder struct {
	mu sync.Mutex

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Enabled turns on recording of every acquired frame
	Enabled bool
}

// New returns a recorder rooted at root
func New(root, prefix string) *Recorder {
	return &Recorder{Root: root, Prefix: prefix}
}

// folder returns the dated subfolder for now, creating it
func (r *Recorder) folder(now time.Time) (string, error) {
	fldr := filepath.Join(r.Root, fmt.Sprintf("%04d-%02d-%02d", now.Year(), now.Month(), now.Day()))
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// next scans fldr and returns one more than the highest counter in use
func (r *Recorder) next(fldr string) int {
	files, err := os.ReadDir(fldr)
	if err != nil {
		return 0
	}
	count := -1
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if n > count {
			count = n
		}
	}
	return count + 1
}

// Save writes img with cards to the next free filename and returns its path
func (r *Recorder) Save(img *image.Gray16, cards []fitsio.Card) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Root == "" {
		return "", ErrNoRoot
	}
	fldr, err := r.folder(time.Now())
	if err != nil {
		return "", err
	}
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d.fits", r.Prefix, r.next(fldr)))
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := camera.WriteFits(f, cards, img); err != nil {
		return "", err
	}
	return fn, nil
}

// SaveFrame writes a frame with its exposure cards and any extra cards
func (r *Recorder) SaveFrame(f *camera.Frame, extra ...fitsio.Card) (string, error) {
	return r.Save(f.Gray16, append(camera.FrameCards(f), extra...))
}

// RootFolder returns Root
func (r *Recorder) RootFolder() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Root
}

// IsEnabled returns the Enabled flag
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled && r.Root != ""
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := h.Recorder
	rec.mu.Lock()
	rec.Root = str.Str
	_, err = rec.folder(time.Now())
	rec.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Root}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetPrefix updates the filename prefix of the recorder
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Recorder.Prefix = str.Str
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Prefix}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// GetEnabled returns the Recorder's Enabled field
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.Bool, Bool: h.Recorder.Enabled}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetEnabled sets the recorder's Enabled field
func (h HTTPWrapper) SetEnabled(w http.ResponseWriter, r *http.Request) {
	bT := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&bT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Recorder.Enabled = bT.Bool
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and /autowrite/enabled to the HTTPer
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = h.SetPrefix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = h.GetPrefix
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = h.SetEnabled
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = h.GetEnabled
}
