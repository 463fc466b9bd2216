package downloader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/italolelis/catalog_downloader/internal/logctx"
	"github.com/italolelis/catalog_downloader/internal/retry"
	"github.com/italolelis/catalog_downloader/internal/transfer"
)

// processRecord owns record i for its whole lifetime in this run: reconcile
// the offset, transfer with retries, update the status, persist, and
// journal a terminal failure. Nothing here escapes as an error.
func (d *Downloader) processRecord(ctx context.Context, cat *catalog.Catalog, i int, cp *checkpointer) Outcome {
	rec := cat.Get(i)
	out := Outcome{URL: rec.URL, Name: rec.Name()}

	if ctx.Err() != nil {
		out.Result = ResultInterrupted

		return out
	}

	ctx, _ = logctx.With(ctx, "url", rec.URL, "file", rec.Name())
	start := time.Now()

	d.opts.Telemetry.InstrumentDownload(ctx, func(ctx context.Context) string {
		out = d.download(ctx, cat, i, cp, out)

		return string(out.Result)
	})

	out.Duration = time.Since(start)

	return out
}

func (d *Downloader) download(ctx context.Context, cat *catalog.Catalog, i int, cp *checkpointer, out Outcome) Outcome {
	logger := logctx.LoggerFromContext(ctx)
	path := cat.Get(i).Path(d.opts.DestDir)

	size, err := retry.Do(ctx, d.policy(logger), func(ctx context.Context) (int64, error) {
		out.Attempts++

		return d.attempt(ctx, cat, i, path, &out)
	})

	switch {
	case err == nil:
		cat.Complete(i, size)
		out.Result = ResultComplete
		out.Size = size
		out.PersistErr = cp.save(ctx)
	case ctx.Err() != nil:
		// Interrupted records keep their status; the bytes on disk are the resume point.
		out.Result = ResultInterrupted
		out.Err = err
	default:
		cat.Fail(i)
		out.Result = ResultFailed
		out.Err = err
		out.PersistErr = cp.save(ctx)

		if jerr := d.journal.Append(out.URL, err); jerr != nil {
			logger.Error("failed to write failure journal", "journal", d.journal.Path(), "err", jerr)
		} else {
			d.opts.Telemetry.RecordJournalEntry()
		}
	}

	if out.PersistErr != nil {
		d.opts.Telemetry.RecordSystemError("downloader", "persist")
	}

	return out
}

// attempt runs one transfer. The offset is derived afresh every time so a
// partially successful attempt is resumed rather than repeated.
func (d *Downloader) attempt(ctx context.Context, cat *catalog.Catalog, i int, path string, out *Outcome) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	// Resume from the file size, not the larger of stored and on-disk counts:
	// stored bytes missing from the file cannot be appended to.
	offset, err := d.resumeOffset(ctx, cat, i, path)
	if err != nil {
		return 0, retry.Permanent(err)
	}

	rec := cat.Get(i)

	switch {
	case rec.TotalSize > 0 && offset == rec.TotalSize:
		logger.Debug("file already on disk, skipping transfer", "offset", offset, "total", rec.TotalSize)

		return offset, nil
	case rec.TotalSize > 0 && offset > rec.TotalSize:
		// Bytes past the end were appended by an earlier run; the content is suspect.
		logger.Warn("file on disk is larger than its known size, downloading again",
			"on_disk", offset, "total", rec.TotalSize)

		offset = 0
		cat.SetDownloaded(i, 0)
	}

	logger.Debug("starting transfer", "offset", offset, "total", rec.TotalSize, "attempt", out.Attempts)
	d.opts.Observer.TransferStarted(rec, offset)

	res, err := d.engine.Fetch(ctx, transfer.Request{URL: rec.URL, Path: path, Offset: offset}, transfer.Hooks{
		OnChunk: func(n int) {
			cat.AddBytes(i, int64(n))
			d.opts.Telemetry.RecordBytes(n)
			d.opts.Observer.TransferProgress(rec.URL, n)
		},
		OnRestart: func() {
			logger.Warn("server ignored range request, restarting from zero", "offset", offset)
			cat.SetDownloaded(i, 0)
			d.opts.Telemetry.RecordRestart()
			d.opts.Observer.TransferRestarted(rec.URL)
		},
	})

	out.BytesWritten += res.Written

	if err == nil {
		err = checkSize(res.Size, cat.Get(i).TotalSize)
	}

	d.opts.Observer.TransferFinished(rec.URL, err)

	if err != nil {
		if transfer.IsFilesystem(err) || ctx.Err() != nil || errors.Is(err, errOversized) {
			return 0, retry.Permanent(err)
		}

		return 0, err
	}

	return res.Size, nil
}

var errOversized = errors.New("file is larger than its known size")

// checkSize rejects a finished transfer whose size disagrees with a known
// total. A short file is retried and resumes; an oversized one is not.
func checkSize(size, total int64) error {
	switch {
	case total <= 0 || size == total:
		return nil
	case size < total:
		return fmt.Errorf("%w: got %d of %d bytes", transfer.ErrSizeMismatch, size, total)
	default:
		return fmt.Errorf("%w: %w: got %d, expected %d bytes", transfer.ErrSizeMismatch, errOversized, size, total)
	}
}

// resumeOffset reconciles the stored byte count with the file on disk. The
// disk is the ground truth: a larger file means a previous run died before
// persisting its counter, a smaller one means bytes were lost and must be
// fetched again.
func (d *Downloader) resumeOffset(ctx context.Context, cat *catalog.Catalog, i int, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return 0, &transfer.FilesystemError{Path: filepath.Dir(path), Op: "mkdir", Err: err}
	}

	var onDisk int64

	info, err := os.Stat(path)
	switch {
	case err == nil:
		onDisk = info.Size()
	case errors.Is(err, fs.ErrNotExist):
	default:
		return 0, &transfer.FilesystemError{Path: path, Op: "stat", Err: err}
	}

	if stored := cat.Get(i).DownloadedBytes; stored > onDisk {
		logctx.LoggerFromContext(ctx).Warn("stored progress exceeds file on disk, resuming from disk size",
			"stored", stored, "on_disk", onDisk)
	}

	cat.SetDownloaded(i, onDisk)

	return onDisk, nil
}

func (d *Downloader) policy(logger *slog.Logger) retry.Policy {
	p := d.opts.Retry
	chained := p.OnRetry

	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("download attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"retry_in", delay.String(),
			"err", err,
		)
		d.opts.Telemetry.RecordRetry(errorKind(err))

		if chained != nil {
			chained(attempt, err, delay)
		}
	}

	return p
}

// errorKind is a low-cardinality label for a failed attempt.
func errorKind(err error) string {
	var netErr *transfer.NetworkError

	switch {
	case errors.Is(err, transfer.ErrReadTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, transfer.ErrSizeMismatch):
		return "size_mismatch"
	case errors.As(err, &netErr) && netErr.StatusCode > 0:
		return "http_status"
	default:
		return "network"
	}
}
