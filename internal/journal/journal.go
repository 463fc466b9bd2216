// Package journal keeps an append-only text log of permanently failed downloads.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Journal appends one line per failure: "<url> - Error: <message>".
type Journal struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open opens path for appending, creating it and its directory if needed.
// Existing lines are never truncated.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open failure journal: %w", err)
	}

	return &Journal{f: f, path: path}, nil
}

// Append records a failure. Each line is a single write so concurrent
// appends never interleave.
func (j *Journal) Append(url string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	line := fmt.Sprintf("%s - Error: %s\n", url, flatten(msg))

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.f.WriteString(line); err != nil {
		return fmt.Errorf("failed to append to failure journal: %w", err)
	}

	return nil
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.f.Close()
}

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func flatten(s string) string {
	return newlines.Replace(s)
}
