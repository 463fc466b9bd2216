package storage

import (
	"context"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/italolelis/catalog_downloader/internal/telemetry"
)

// InstrumentedStore wraps a ProgressStore with telemetry.
type InstrumentedStore struct {
	store     ProgressStore
	backend   string
	telemetry *telemetry.Telemetry
}

// NewInstrumentedStore creates a new instrumented progress store.
func NewInstrumentedStore(store ProgressStore, backend string, tel *telemetry.Telemetry) *InstrumentedStore {
	return &InstrumentedStore{
		store:     store,
		backend:   backend,
		telemetry: tel,
	}
}

// Load retrieves the persisted catalog with telemetry.
func (s *InstrumentedStore) Load(ctx context.Context) ([]catalog.FileRecord, error) {
	var result []catalog.FileRecord

	err := s.telemetry.InstrumentStoreOperation(ctx, s.backend, "load", func(ctx context.Context) error {
		var err error

		result, err = s.store.Load(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Save persists the catalog with telemetry.
func (s *InstrumentedStore) Save(ctx context.Context, records []catalog.FileRecord) error {
	return s.telemetry.InstrumentStoreOperation(ctx, s.backend, "save", func(ctx context.Context) error {
		return s.store.Save(ctx, records)
	})
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}
