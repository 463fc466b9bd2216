package downloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/italolelis/catalog_downloader/internal/logctx"
	"github.com/italolelis/catalog_downloader/internal/storage"
)

// Source produces the catalog when nothing usable is stored.
type Source interface {
	Discover(ctx context.Context) ([]catalog.FileRecord, error)
}

// SeedOptions controls how PrepareCatalog combines the store and the source.
type SeedOptions struct {
	// ResumeFromStore loads the persisted catalog instead of starting over.
	ResumeFromStore bool

	// Refresh discovers again and merges new urls into a stored catalog.
	Refresh bool
}

// PrepareCatalog returns the catalog for a run. A stored catalog keeps its
// progress; a corrupt one is ignored with a warning. Whenever the source was
// consulted the store is seeded with the result.
func PrepareCatalog(ctx context.Context, store storage.ProgressStore, source Source, opts SeedOptions) (*catalog.Catalog, error) {
	logger := logctx.LoggerFromContext(ctx)

	var stored []catalog.FileRecord

	if opts.ResumeFromStore {
		var err error

		stored, err = store.Load(ctx)

		switch {
		case errors.Is(err, storage.ErrCorrupt):
			logger.Warn("stored catalog is unreadable, starting fresh", "err", err)

			stored = nil
		case err != nil:
			return nil, fmt.Errorf("failed to load stored catalog: %w", err)
		}
	}

	if len(stored) > 0 {
		deduped := catalog.Dedupe(stored)
		if dropped := len(stored) - len(deduped); dropped > 0 {
			logger.Warn("dropped duplicate urls from stored catalog", "dropped", dropped)
		}

		cat, err := catalog.New(deduped)
		if err != nil {
			return nil, fmt.Errorf("stored catalog is invalid: %w", err)
		}

		counts := cat.Counts()
		logger.Info("resuming stored catalog",
			"records", counts.Total,
			"complete", counts.Complete,
			"failed", counts.Failed,
			"pending", counts.Pending,
		)

		if !opts.Refresh {
			return cat, nil
		}

		discovered, err := source.Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh catalog: %w", err)
		}

		added, err := cat.Merge(catalog.Dedupe(discovered))

		var pathErr *catalog.DuplicatePathError

		switch {
		case errors.As(err, &pathErr):
			logger.Warn("skipped discovered files whose destination is already taken", "err", err)
		case err != nil:
			return nil, fmt.Errorf("failed to merge refreshed catalog: %w", err)
		}

		logger.Info("catalog refreshed", "discovered", len(discovered), "added", added)
		seed(ctx, store, cat)

		return cat, nil
	}

	discovered, err := source.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover catalog: %w", err)
	}

	cat, err := catalog.New(catalog.Dedupe(discovered))
	if err != nil {
		return nil, fmt.Errorf("discovered catalog is invalid: %w", err)
	}

	logger.Info("catalog discovered", "records", cat.Len())
	seed(ctx, store, cat)

	return cat, nil
}

// seed persists a freshly built catalog. A failure is not fatal: the run
// persists again after every record.
func seed(ctx context.Context, store storage.ProgressStore, cat *catalog.Catalog) {
	if err := store.Save(ctx, cat.Snapshot()); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to seed progress store", "err", err)
	}
}
