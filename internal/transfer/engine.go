package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultChunkSize is the size of each body read written to disk.
	DefaultChunkSize = 64 * 1024

	dirPerm  = 0755
	filePerm = 0644
)

// Options configures the Engine.
type Options struct {
	// ChunkSize bounds every read from the response body.
	// Default: 64KiB
	ChunkSize int

	// ReadTimeout is the longest the body may stall between two chunks.
	// Zero disables the watchdog.
	ReadTimeout time.Duration
}

// Request describes one resumable fetch.
type Request struct {
	URL    string
	Path   string // destination file
	Offset int64  // bytes already on disk to keep
}

// Hooks are invoked synchronously from the fetching goroutine.
type Hooks struct {
	// OnChunk receives the length of every chunk written to disk.
	OnChunk func(n int)

	// OnRestart fires when the server ignored the range request and the
	// file was truncated back to zero.
	OnRestart func()
}

// Result summarizes one successful fetch.
type Result struct {
	Size       int64 // size of the file on disk afterwards
	Written    int64 // bytes written by this fetch
	Restarted  bool  // the server ignored Range and the file restarted at 0
	StatusCode int
}

// Engine performs single resumable HTTP GETs. It never retries.
type Engine struct {
	client      *http.Client
	chunkSize   int
	readTimeout time.Duration
}

func NewEngine(client *http.Client, opts Options) *Engine {
	if client == nil {
		client = NewHTTPClient(DefaultClientOptions())
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	return &Engine{
		client:      client,
		chunkSize:   opts.ChunkSize,
		readTimeout: opts.ReadTimeout,
	}
}

// Fetch downloads req.URL into req.Path starting at req.Offset. A ranged
// request that is answered with a full 200 body restarts the file at zero.
func (e *Engine) Fetch(ctx context.Context, req Request, hooks Hooks) (Result, error) {
	f, err := openDestination(req)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	wd := newWatchdog(e.readTimeout, cancel)
	defer wd.stop()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{}, &NetworkError{Operation: "get", URL: req.URL, Err: err}
	}

	if req.Offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", req.Offset))
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Result{}, &NetworkError{Operation: "get", URL: req.URL, Err: readCause(ctx, err)}
	}
	defer resp.Body.Close()

	res := Result{StatusCode: resp.StatusCode}

	offset, done, err := startOffset(req, resp)
	if err != nil {
		return res, err
	}

	if done {
		res.Size = offset

		return res, nil
	}

	if offset != req.Offset {
		res.Restarted = true
		if hooks.OnRestart != nil {
			hooks.OnRestart()
		}
	}

	if err := f.Truncate(offset); err != nil {
		return res, &FilesystemError{Path: req.Path, Op: "truncate", Err: err}
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return res, &FilesystemError{Path: req.Path, Op: "seek", Err: err}
	}

	written, err := e.stream(ctx, f, resp.Body, req, hooks, wd)
	res.Written = written
	res.Size = offset + written

	if err != nil {
		return res, err
	}

	if err := f.Sync(); err != nil {
		return res, &FilesystemError{Path: req.Path, Op: "sync", Err: err}
	}

	return res, nil
}

func (e *Engine) stream(ctx context.Context, dst io.Writer, body io.Reader, req Request, hooks Hooks, wd *watchdog) (int64, error) {
	buf := make([]byte, e.chunkSize)

	var written int64

	for {
		// Cancellation is honoured between chunks; what was written stays a valid resume point.
		if ctx.Err() != nil {
			return written, &NetworkError{Operation: "read", URL: req.URL, Err: readCause(ctx, ctx.Err())}
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			wd.reset()

			if _, err := dst.Write(buf[:n]); err != nil {
				return written, &FilesystemError{Path: req.Path, Op: "write", Err: err}
			}

			written += int64(n)

			if hooks.OnChunk != nil {
				hooks.OnChunk(n)
			}
		}

		if errors.Is(rerr, io.EOF) {
			return written, nil
		}

		if rerr != nil {
			return written, &NetworkError{Operation: "read", URL: req.URL, Err: readCause(ctx, rerr)}
		}
	}
}

// startOffset validates the response against the request and returns the
// offset the body starts at. done means there is nothing left to transfer.
func startOffset(req Request, resp *http.Response) (offset int64, done bool, err error) {
	contentRange := resp.Header.Get("Content-Range")

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, _, _, perr := ParseContentRange(contentRange)
		if perr != nil || start != req.Offset {
			return 0, false, &NetworkError{
				Operation:  "get",
				URL:        req.URL,
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("unexpected Content-Range %q for offset %d", contentRange, req.Offset),
				Err:        ErrRangeMismatch,
			}
		}

		return req.Offset, false, nil
	case http.StatusOK:
		return 0, false, nil
	case http.StatusRequestedRangeNotSatisfiable:
		if req.Offset > 0 {
			if _, _, total, perr := ParseContentRange(contentRange); perr == nil && total == req.Offset {
				return req.Offset, true, nil
			}
		}
	}

	return 0, false, &NetworkError{
		Operation:  "get",
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
	}
}

// openDestination opens the target for writing and checks that it holds at
// least the bytes the caller wants to keep.
func openDestination(req Request) (*os.File, error) {
	dir := filepath.Dir(req.Path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, &FilesystemError{Path: dir, Op: "mkdir", Err: err}
	}

	f, err := os.OpenFile(req.Path, os.O_WRONLY|os.O_CREATE, filePerm)
	if err != nil {
		return nil, &FilesystemError{Path: req.Path, Op: "open", Err: err}
	}

	if req.Offset > 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()

			return nil, &FilesystemError{Path: req.Path, Op: "stat", Err: err}
		}

		if info.Size() < req.Offset {
			f.Close()

			return nil, &FilesystemError{
				Path: req.Path,
				Op:   "resume",
				Err:  fmt.Errorf("file holds %d bytes, cannot resume at %d", info.Size(), req.Offset),
			}
		}
	}

	return f, nil
}

// readCause replaces a cancellation triggered by the watchdog with ErrReadTimeout.
func readCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrReadTimeout) {
		return fmt.Errorf("%w: %v", ErrReadTimeout, err)
	}

	return err
}

// watchdog cancels the request when no bytes arrive for timeout.
type watchdog struct {
	timer   *time.Timer
	timeout time.Duration
}

func newWatchdog(timeout time.Duration, cancel context.CancelCauseFunc) *watchdog {
	if timeout <= 0 {
		return &watchdog{}
	}

	return &watchdog{
		timeout: timeout,
		timer:   time.AfterFunc(timeout, func() { cancel(ErrReadTimeout) }),
	}
}

func (w *watchdog) reset() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
