// Package server contains misc server utilities.
package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ReplyWithFile replies to the client request by serving the file fn inside
// fldr.  fn may name a subfolder but may not leave fldr.
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	filePath, err := Within(fldr, fn)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", fn)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	if stat.IsDir() {
		http.Error(w, fmt.Sprintf("%s is a folder", fn), http.StatusBadRequest)
		return
	}
	// read some stuff to set the headers appropriately
	http.ServeContent(w, r, filepath.Base(filePath), stat.ModTime(), f)
}

// Within joins fldr and fn and returns the absolute path, or an error if the
// result is outside fldr
func Within(fldr, fn string) (string, error) {
	if fldr == "" {
		return "", fmt.Errorf("no folder to serve from")
	}
	base, err := filepath.Abs(fldr)
	if err != nil {
		return "", fmt.Errorf("unable to compute abspath of %s %w", fldr, err)
	}
	p := filepath.Join(base, filepath.FromSlash(fn))
	if p == base || !strings.HasPrefix(p, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not inside the served folder", fn)
	}
	return p, nil
}
