// Package probe learns the total size of catalog records with HEAD requests
// before any transfer starts.
package probe

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/italolelis/catalog_downloader/internal/logctx"
	"github.com/italolelis/catalog_downloader/internal/retry"
	"github.com/italolelis/catalog_downloader/internal/storage"
	"github.com/italolelis/catalog_downloader/internal/telemetry"
	"github.com/italolelis/catalog_downloader/internal/transfer"
)

const defaultMaxParallel = 3

type Options struct {
	MaxParallel int
	Retry       retry.Policy
	Telemetry   *telemetry.Telemetry
}

// Report counts the records a probe pass touched.
type Report struct {
	Probed  int
	Known   int
	Unknown int
	Failed  int
}

type Prober struct {
	client *http.Client
	opts   Options
}

func New(client *http.Client, opts Options) *Prober {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = defaultMaxParallel
	}

	return &Prober{client: client, opts: opts}
}

// Run issues a HEAD request for every incomplete record without a known
// total. A record whose probe fails is marked failed; the scheduler still
// attempts it. The store is saved once after the pass, also when ctx is
// cancelled halfway.
func (p *Prober) Run(ctx context.Context, cat *catalog.Catalog, store storage.ProgressStore) (Report, error) {
	logger := logctx.LoggerFromContext(ctx)

	var targets []int

	for _, i := range cat.Incomplete() {
		if cat.Get(i).TotalSize == 0 {
			targets = append(targets, i)
		}
	}

	if len(targets) == 0 {
		return Report{}, nil
	}

	logger.Info("probing file sizes", "records", len(targets))

	results := make([]string, len(targets))

	wg, gctx := errgroup.WithContext(ctx)
	wg.SetLimit(p.opts.MaxParallel)

	for n, i := range targets {
		if gctx.Err() != nil {
			break
		}

		wg.Go(func() error {
			results[n] = p.probe(gctx, cat, i)

			return nil
		})
	}

	_ = wg.Wait()

	var report Report

	for _, status := range results {
		switch status {
		case "known":
			report.Known++
		case "unknown":
			report.Unknown++
		case "failed":
			report.Failed++
		default:
			continue
		}

		report.Probed++
	}

	if err := store.Save(context.WithoutCancel(ctx), cat.Snapshot()); err != nil {
		logger.Error("failed to save probed sizes", "err", err)
	}

	logger.Info("size probe finished",
		"probed", report.Probed,
		"known", report.Known,
		"unknown", report.Unknown,
		"failed", report.Failed,
	)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("size probe interrupted: %w", err)
	}

	return report, nil
}

// probe returns "known", "unknown", "failed" or "" when interrupted.
func (p *Prober) probe(ctx context.Context, cat *catalog.Catalog, i int) string {
	rec := cat.Get(i)
	logger := logctx.LoggerFromContext(ctx).With("url", rec.URL, "file", rec.Name())

	size, err := retry.Do(ctx, p.opts.Retry, func(ctx context.Context) (int64, error) {
		return p.head(ctx, rec.URL)
	})

	switch {
	case ctx.Err() != nil:
		return ""
	case err != nil:
		logger.Warn("size probe failed", "err", err)

		if rec.Status != catalog.StatusFailed {
			cat.Fail(i)
		}

		p.opts.Telemetry.RecordProbe("failed")

		return "failed"
	case size <= 0:
		logger.Debug("server did not report a size")
		p.opts.Telemetry.RecordProbe("unknown")

		return "unknown"
	}

	cat.SetTotal(i, size)
	p.opts.Telemetry.RecordProbe("known")

	return "known"
}

func (p *Prober) head(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, retry.Permanent(&transfer.NetworkError{Operation: "head", URL: url, Message: "invalid request", Err: err})
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, &transfer.NetworkError{Operation: "head", URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		netErr := &transfer.NetworkError{Operation: "head", URL: url, StatusCode: resp.StatusCode, Message: resp.Status}

		// Missing files stay missing; only server trouble and throttling are retried.
		if resp.StatusCode < http.StatusInternalServerError &&
			resp.StatusCode != http.StatusRequestTimeout &&
			resp.StatusCode != http.StatusTooManyRequests {
			return 0, retry.Permanent(netErr)
		}

		return 0, netErr
	}

	return resp.ContentLength, nil
}
