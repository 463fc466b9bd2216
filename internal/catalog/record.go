package catalog

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Status is the lifecycle state of a FileRecord.
type Status string

const (
	// StatusPending means the record has not been downloaded yet.
	StatusPending Status = "pending"

	// StatusComplete means every byte is on disk. It is the only terminal state.
	StatusComplete Status = "complete"

	// StatusFailed means the last run exhausted its retries. Failed records
	// are attempted again on the next run.
	StatusFailed Status = "failed"
)

var ErrInvalidStatus = errors.New("catalog: invalid status")

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// ParseStatus accepts the persisted literals case-insensitively. An empty
// value maps to pending so caches written before progress tracking load.
func ParseStatus(v string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(v))) {
	case "", StatusPending:
		return StatusPending, nil
	case StatusComplete:
		return StatusComplete, nil
	case StatusFailed:
		return StatusFailed, nil
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending, StatusFailed:
		return next == StatusComplete || next == StatusFailed
	default:
		return false
	}
}

// FileRecord is the unit of work and of persisted state.
type FileRecord struct {
	Category        string `json:"category"`
	Filename        string `json:"filename"`
	URL             string `json:"url"`
	DownloadedBytes int64  `json:"downloaded_bytes"`
	TotalSize       int64  `json:"total_size"`
	Status          Status `json:"status"`
}

// NewRecord returns a fresh pending record as produced by discovery.
func NewRecord(category, filename, url string) FileRecord {
	return FileRecord{
		Category: category,
		Filename: filename,
		URL:      url,
		Status:   StatusPending,
	}
}

// Path returns the destination of the record beneath root.
func (r FileRecord) Path(root string) string {
	return filepath.Join(root, r.Category, r.Filename)
}

// Name is the category/filename pair used in logs and summaries.
func (r FileRecord) Name() string {
	return r.Category + "/" + r.Filename
}

func (r FileRecord) IsComplete() bool {
	return r.Status == StatusComplete
}

// Validate checks the fields a record needs before it can be scheduled.
func (r FileRecord) Validate() error {
	if r.URL == "" {
		return errors.New("catalog: record url is required")
	}

	if !isSafeSegment(r.Filename) {
		return fmt.Errorf("catalog: invalid filename %q for %s", r.Filename, r.URL)
	}

	if r.Category != "" && !isSafeSegment(r.Category) {
		return fmt.Errorf("catalog: invalid category %q for %s", r.Category, r.URL)
	}

	if r.DownloadedBytes < 0 || r.TotalSize < 0 {
		return fmt.Errorf("catalog: negative byte counters for %s", r.URL)
	}

	return nil
}

// isSafeSegment rejects names that would escape the destination directory.
func isSafeSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}

	return !strings.ContainsAny(s, `/\`)
}
