package generichttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client speaks the single-value JSON dialect of this package to a remote
// server, e.g. a motion controller exposed by another process
type Client struct {
	// Base is the URL prefix, e.g. http://stage-host:8000/xy
	Base string

	HTTP *http.Client
}

// NewClient returns a client for base with a 5 second timeout
func NewClient(base string) *Client {
	return &Client{
		Base: strings.TrimSuffix(base, "/"),
		HTTP: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) do(method, path string, body interface{}, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return err
		}
		rdr = buf
	}
	req, err := http.NewRequest(method, c.Base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetFloat GETs path and decodes {'f64': value}
func (c *Client) GetFloat(path string) (float64, error) {
	f := FloatT{}
	err := c.do(http.MethodGet, path, nil, &f)
	return f.F64, err
}

// PostFloat POSTs {'f64': value} to path
func (c *Client) PostFloat(path string, v float64) error {
	return c.do(http.MethodPost, path, FloatT{F64: v}, nil)
}

// GetBool GETs path and decodes {'bool': value}
func (c *Client) GetBool(path string) (bool, error) {
	b := BoolT{}
	err := c.do(http.MethodGet, path, nil, &b)
	return b.Bool, err
}

// PostBool POSTs {'bool': value} to path
func (c *Client) PostBool(path string, v bool) error {
	return c.do(http.MethodPost, path, BoolT{Bool: v}, nil)
}

// Post POSTs an empty body to path
func (c *Client) Post(path string) error {
	return c.do(http.MethodPost, path, nil, nil)
}

// GetRaw GETs path and returns the body
func (c *Client) GetRaw(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.Base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
