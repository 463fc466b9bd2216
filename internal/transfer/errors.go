package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrReadTimeout is the cause recorded when the body stalls longer than the read timeout.
	ErrReadTimeout = errors.New("transfer: read timeout")

	// ErrRangeMismatch is returned when a 206 response does not start at the requested offset.
	ErrRangeMismatch = errors.New("transfer: content range does not match requested offset")

	// ErrSizeMismatch is returned when the bytes on disk disagree with the known total.
	ErrSizeMismatch = errors.New("transfer: size mismatch")
)

// NetworkError represents failures of one HTTP exchange: connection errors,
// timeouts, resets and non-success status codes. They are retryable.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "get", "read", "head")
	URL        string
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string // Short description from the server or the network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}

	if e.Err != nil {
		return fmt.Sprintf("network error during %s: %v", e.Operation, e.Err)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FilesystemError represents local failures: the destination directory or
// file cannot be created, opened or written (disk full included). They are
// fatal to the record they occur on.
type FilesystemError struct {
	Path string // The file or directory involved
	Op   string // "mkdir", "open", "write", ...
	Err  error  // Underlying error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of '%s': %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// IsFilesystem reports whether err was caused by the local filesystem.
func IsFilesystem(err error) bool {
	var fsErr *FilesystemError

	return errors.As(err, &fsErr)
}
