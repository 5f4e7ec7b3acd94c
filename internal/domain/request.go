package domain

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// HeaderRange is the HTTP header used for byte-range resumption
const HeaderRange = "Range"

// Request describes a navigation or download request handed to the engine.
// ID correlates a request with the transfer the engine creates for it; it
// survives range reissues and resume-data retries of the same logical download.
type Request struct {
	ID     string      `json:"id"`
	URL    string      `json:"url"`
	Method string      `json:"method,omitempty"`
	Header http.Header `json:"header,omitempty"`
}

// NewRequest creates a GET request with a fresh correlation ID
func NewRequest(rawURL string) (Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Request{}, fmt.Errorf("%w: url must be absolute: %q", ErrInvalidRequest, rawURL)
	}

	return Request{
		ID:     uuid.NewString(),
		URL:    u.String(),
		Method: http.MethodGet,
		Header: make(http.Header),
	}, nil
}

// Validate checks that the request can be issued
func (r Request) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: url must be absolute: %q", ErrInvalidRequest, r.URL)
	}
	return nil
}

// EnsureID assigns a correlation ID if the request has none
func (r Request) EnsureID() Request {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return r
}

// Clone returns a deep copy of the request
func (r Request) Clone() Request {
	c := r
	if r.Header != nil {
		c.Header = r.Header.Clone()
	}
	return c
}

// HasRange reports whether the request already asks for a byte range
func (r Request) HasRange() bool {
	return r.Header != nil && r.Header.Get(HeaderRange) != ""
}

// WithRange returns a copy of the request asking for bytes from start to the end
func (r Request) WithRange(start int64) Request {
	c := r.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	c.Header.Set(HeaderRange, fmt.Sprintf("bytes=%d-", start))
	return c
}

// RangeStart returns the first byte of an open-ended range header
func (r Request) RangeStart() (int64, bool) {
	if !r.HasRange() {
		return 0, false
	}
	v := strings.TrimSpace(r.Header.Get(HeaderRange))
	v, ok := strings.CutPrefix(v, "bytes=")
	if !ok {
		return 0, false
	}
	start, _, _ := strings.Cut(v, "-")
	n, err := strconv.ParseInt(start, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
