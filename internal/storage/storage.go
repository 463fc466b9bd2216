package storage

import (
	"context"
	"errors"

	"github.com/italolelis/catalog_downloader/internal/catalog"
)

// ErrCorrupt is matched by errors for persisted state that cannot be decoded.
var ErrCorrupt = errors.New("progress store is corrupt")

// ProgressStore persists the whole catalog with its per-record progress.
type ProgressStore interface {
	// Load returns the persisted records in catalog order, or nil, nil when
	// nothing has been persisted yet.
	Load(ctx context.Context) ([]catalog.FileRecord, error)

	// Save replaces the persisted catalog with records. Implementations
	// serialize concurrent calls.
	Save(ctx context.Context, records []catalog.FileRecord) error

	Close() error
}
