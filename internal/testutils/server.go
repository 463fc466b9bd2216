// Package testutils provides a range-aware HTTP file server for tests.
package testutils

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// GenerateTestData returns size bytes of a deterministic pattern.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	return data
}

// RecordedRequest is one request seen by the FileServer.
type RecordedRequest struct {
	Method string
	Path   string
	Range  string
	Header http.Header
}

// FileServer serves in-memory files with HTTP range support and knobs to
// misbehave the way real servers do.
type FileServer struct {
	*httptest.Server

	mu          sync.Mutex
	files       map[string][]byte
	requests    []RecordedRequest
	ignoreRange bool
	failures    map[string]failure
	truncate    map[string]int
}

type failure struct {
	remaining int // -1 fails forever
	status    int
}

// NewFileServer starts a server for files keyed by path (e.g. "/a.mp3").
func NewFileServer(t testing.TB, files map[string][]byte) *FileServer {
	t.Helper()

	s := &FileServer{
		files:    files,
		failures: make(map[string]failure),
		truncate: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)

	return s
}

// FileURL returns the absolute url of path.
func (s *FileServer) FileURL(path string) string {
	return s.URL + path
}

// SetIgnoreRange makes the server answer ranged requests with a full 200.
func (s *FileServer) SetIgnoreRange(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ignoreRange = ignore
}

// FailNext answers the next n requests for path with status.
func (s *FileServer) FailNext(path string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[path] = failure{remaining: n, status: status}
}

// FailAlways answers every request for path with status.
func (s *FileServer) FailAlways(path string, status int) {
	s.FailNext(path, -1, status)
}

// TruncateNext sends only n body bytes on the next GET for path and then
// drops the connection, like a process or network dying mid-transfer.
func (s *FileServer) TruncateNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.truncate[path] = n
}

// Requests returns a copy of every request received so far.
func (s *FileServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)

	return out
}

// CountRequests returns how many requests used method.
func (s *FileServer) CountRequests(method string) int {
	n := 0

	for _, r := range s.Requests() {
		if r.Method == method {
			n++
		}
	}

	return n
}

func (s *FileServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Range:  r.Header.Get("Range"),
		Header: r.Header.Clone(),
	})

	if f, ok := s.failures[r.URL.Path]; ok && f.remaining != 0 {
		if f.remaining > 0 {
			f.remaining--
			s.failures[r.URL.Path] = f
		}
		s.mu.Unlock()
		http.Error(w, http.StatusText(f.status), f.status)

		return
	}

	data, ok := s.files[r.URL.Path]
	ignoreRange := s.ignoreRange
	cut, truncated := s.truncate[r.URL.Path]
	if truncated && r.Method == http.MethodGet {
		delete(s.truncate, r.URL.Path)
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)

		return
	}

	size := int64(len(data))

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Accept-Ranges", "bytes")

		return
	}

	start := int64(0)
	status := http.StatusOK

	if rng := r.Header.Get("Range"); rng != "" && !ignoreRange {
		byteRange := strings.TrimPrefix(rng, "bytes=")
		first, _, _ := strings.Cut(byteRange, "-")
		start, _ = strconv.ParseInt(first, 10, 64)

		if start >= size {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)

			return
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, size-1, size))
		status = http.StatusPartialContent
	}

	body := data[start:]
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)

	if truncated && cut < len(body) {
		// Declared length exceeds what is written, so the client sees an unexpected EOF.
		w.Write(body[:cut])

		return
	}

	w.Write(body)
}
