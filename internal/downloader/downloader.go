package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/italolelis/catalog_downloader/internal/logctx"
	"github.com/italolelis/catalog_downloader/internal/notifier"
	"github.com/italolelis/catalog_downloader/internal/retry"
	"github.com/italolelis/catalog_downloader/internal/storage"
	"github.com/italolelis/catalog_downloader/internal/telemetry"
	"github.com/italolelis/catalog_downloader/internal/transfer"
)

const (
	dirPerm = 0755

	defaultMaxParallel = 3
)

// ErrEmptyCatalog is returned when there is nothing to download.
var ErrEmptyCatalog = errors.New("catalog is empty")

// PersistenceError is returned by Run when no save of the run succeeded.
type PersistenceError struct {
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("all %d progress saves failed: %v", e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Fetcher performs one resumable transfer attempt.
type Fetcher interface {
	Fetch(ctx context.Context, req transfer.Request, hooks transfer.Hooks) (transfer.Result, error)
}

// Journal records permanently failed urls.
type Journal interface {
	Append(url string, cause error) error
	Path() string
}

// Observer follows per-file transfer progress. Calls for one url come from
// a single goroutine; calls for different urls may be concurrent.
type Observer interface {
	TransferStarted(rec catalog.FileRecord, offset int64)
	TransferProgress(url string, n int)
	TransferRestarted(url string)
	TransferFinished(url string, err error)
}

type Options struct {
	// DestDir is the root under which <category>/<filename> is written.
	DestDir string

	// MaxParallel bounds concurrent transfers for the whole run.
	// Default: 3
	MaxParallel int

	// Retry bounds the attempts per record. OnRetry is chained, not replaced.
	Retry retry.Policy

	// CheckpointInterval persists in-flight byte counters periodically.
	// Zero disables periodic checkpoints.
	CheckpointInterval time.Duration

	Observer  Observer
	Notifier  notifier.Notifier
	Telemetry *telemetry.Telemetry
}

type Downloader struct {
	engine  Fetcher
	store   storage.ProgressStore
	journal Journal
	opts    Options
}

func NewDownloader(engine Fetcher, store storage.ProgressStore, journal Journal, opts Options) *Downloader {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = defaultMaxParallel
	}

	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}

	if opts.Notifier == nil {
		opts.Notifier = notifier.Discard{}
	}

	return &Downloader{
		engine:  engine,
		store:   store,
		journal: journal,
		opts:    opts,
	}
}

// Run downloads every record of cat that is not complete yet, at most
// MaxParallel at a time. Record failures end up in the summary and the
// journal; only catalog-wide problems are returned as errors. On
// cancellation the summary is still returned, with an error wrapping the
// context's.
func (d *Downloader) Run(ctx context.Context, cat *catalog.Catalog) (*Summary, error) {
	if cat.Len() == 0 {
		return nil, ErrEmptyCatalog
	}

	runID := NewRunID()
	ctx, logger := logctx.With(ctx, "run_id", runID)

	pending := cat.Incomplete()
	summary := newSummary(runID, cat.Len(), cat.Len()-len(pending), d.journal.Path())

	logger.Info("starting download run",
		"records", cat.Len(),
		"pending", len(pending),
		"max_parallel", d.opts.MaxParallel,
		"max_attempts", d.opts.Retry.MaxAttempts,
	)

	cp := newCheckpointer(d.store, cat)

	stopCheckpoints := cp.start(ctx, d.opts.CheckpointInterval)

	// Room for every outcome: a worker hands its result over and frees its
	// slot at once, however long reporting (notifications) takes.
	results := make(chan Outcome, len(pending))
	collected := make(chan struct{})

	go func() {
		defer close(collected)

		for o := range results {
			d.report(ctx, o)
			summary.add(o)
		}
	}()

	wg := new(errgroup.Group)
	wg.SetLimit(d.opts.MaxParallel)

	for _, i := range pending {
		if ctx.Err() != nil {
			break
		}

		wg.Go(func() error {
			results <- d.processRecord(ctx, cat, i, cp)

			return nil
		})
	}

	_ = wg.Wait()
	close(results)
	<-collected

	stopCheckpoints()

	if err := cp.save(ctx); err != nil {
		logger.Error("failed to write final checkpoint", "err", err)
	}

	saves, failures, lastErr := cp.stats()
	summary.finish(cat.Counts(), saves, failures)

	logger.Info("download run finished",
		"complete", summary.Complete,
		"failed", summary.Failed,
		"interrupted", summary.Interrupted,
		"already_complete", summary.AlreadyComplete,
		"downloaded", humanize.Bytes(uint64(summary.BytesDownloaded)),
		"journal", summary.JournalPath,
		"duration", summary.Duration.Round(time.Millisecond).String(),
	)

	if saves > 0 && failures == saves {
		return summary, &PersistenceError{Attempts: saves, Err: lastErr}
	}

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("download run interrupted: %w", err)
	}

	return summary, nil
}

// report logs each outcome as it arrives and notifies about failures.
func (d *Downloader) report(ctx context.Context, o Outcome) {
	logger := logctx.LoggerFromContext(ctx).With("url", o.URL, "file", o.Name)

	switch o.Result {
	case ResultComplete:
		logger.Info("download complete",
			"size", humanize.Bytes(uint64(o.Size)),
			"attempts", o.Attempts,
			"duration", o.Duration.Round(time.Millisecond).String(),
		)
	case ResultFailed:
		logger.Error("download failed", "attempts", o.Attempts, "err", o.Err)

		if err := d.opts.Notifier.Notify(ctx, "❌ Download failed: "+o.Name+" ("+o.URL+")"); err != nil {
			logger.Error("failed to send notification", "err", err)
		}
	case ResultInterrupted:
		logger.Info("download interrupted", "attempts", o.Attempts)
	}

	if o.PersistErr != nil {
		logger.Error("failed to persist progress", "err", o.PersistErr)
	}
}

type noopObserver struct{}

func (noopObserver) TransferStarted(catalog.FileRecord, int64) {}
func (noopObserver) TransferProgress(string, int)              {}
func (noopObserver) TransferRestarted(string)                  {}
func (noopObserver) TransferFinished(string, error)            {}
