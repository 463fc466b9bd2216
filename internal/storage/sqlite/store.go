package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/italolelis/catalog_downloader/internal/storage"
)

// Store implements storage.ProgressStore with one row per record.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open initializes the database at path and returns a store over it.
func Open(path string) (*Store, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	return NewStore(db), nil
}

func (s *Store) Load(ctx context.Context) ([]catalog.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, filename, url, downloaded_bytes, total_size, status FROM records ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []catalog.FileRecord

	for rows.Next() {
		var (
			rec    catalog.FileRecord
			status string
		)

		if err := rows.Scan(&rec.Category, &rec.Filename, &rec.URL, &rec.DownloadedBytes, &rec.TotalSize, &status); err != nil {
			return nil, err
		}

		if rec.Status, err = catalog.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("%w: record %s: %w", storage.ErrCorrupt, rec.URL, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// Save replaces the stored catalog with records in one transaction, so the
// table always mirrors the last saved catalog like the JSON document does.
func (s *Store) Save(ctx context.Context, records []catalog.FileRecord) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (position, url, category, filename, downloaded_bytes, total_size, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Format(time.RFC3339)

	for i, rec := range records {
		if _, err = stmt.ExecContext(ctx, i, rec.URL, rec.Category, rec.Filename,
			rec.DownloadedBytes, rec.TotalSize, rec.Status.String(), now); err != nil {
			return fmt.Errorf("failed to insert %s: %w", rec.URL, err)
		}
	}

	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}
