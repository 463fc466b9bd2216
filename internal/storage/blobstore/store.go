// Package blobstore keeps the progress catalog as one indented JSON document
// in a gocloud.dev blob bucket. A local file is the common case, but any
// bucket URL registered with the blob package works.
package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/italolelis/catalog_downloader/internal/storage"
)

const contentType = "application/json"

// CorruptError reports a persisted document that cannot be decoded.
type CorruptError struct {
	Key string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("progress document %q is corrupt: %v", e.Key, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

func (e *CorruptError) Is(target error) bool {
	return target == storage.ErrCorrupt
}

// Store implements storage.ProgressStore on top of a blob bucket.
type Store struct {
	mu     sync.Mutex
	bucket *blob.Bucket
	key    string
}

// New uses key inside an already opened bucket. The store owns the bucket
// and closes it on Close.
func New(bucket *blob.Bucket, key string) *Store {
	return &Store{bucket: bucket, key: key}
}

// OpenFile stores the document at path on the local filesystem. Writes go
// through a temporary file and a rename, so a crash never leaves a torn file.
func OpenFile(path string) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve progress file path: %w", err)
	}

	bucket, err := fileblob.OpenBucket(filepath.Dir(abs), &fileblob.Options{
		CreateDir: true,
		NoTempDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open progress file bucket: %w", err)
	}

	return New(bucket, filepath.Base(abs)), nil
}

// Open opens the bucket at bucketURL, e.g. "mem://" or "file:///var/lib/catalog".
func Open(ctx context.Context, bucketURL, key string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %q: %w", bucketURL, err)
	}

	return New(bucket, key), nil
}

func (s *Store) Load(ctx context.Context) ([]catalog.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.bucket.ReadAll(ctx, s.key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read progress document: %w", err)
	}

	var records []catalog.FileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &CorruptError{Key: s.key, Err: err}
	}

	return records, nil
}

func (s *Store) Save(ctx context.Context, records []catalog.FileRecord) error {
	if records == nil {
		records = []catalog.FileRecord{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bucket.WriteAll(ctx, s.key, data, &blob.WriterOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("failed to write progress document: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.bucket.Close()
}

// IsCorrupt reports whether err came from an undecodable document.
func IsCorrupt(err error) bool {
	var corrupt *CorruptError

	return errors.As(err, &corrupt)
}
