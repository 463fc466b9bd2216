package downloader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/italolelis/catalog_downloader/internal/storage/blobstore"
)

type staticSource struct {
	records []catalog.FileRecord
	err     error
	calls   int
}

func (s *staticSource) Discover(context.Context) ([]catalog.FileRecord, error) {
	s.calls++

	return s.records, s.err
}

func newMemStore(t *testing.T) (*blobstore.Store, *blob.Bucket) {
	t.Helper()

	bucket := memblob.OpenBucket(nil)
	store := blobstore.New(bucket, "file_list_cache.json")
	t.Cleanup(func() { store.Close() })

	return store, bucket
}

func TestPrepareCatalog_DiscoversAndSeeds(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t)

	a := catalog.NewRecord("Sayadaw_A", "a.mp3", "https://example.com/a.mp3")
	b := catalog.NewRecord("Sayadaw_B", "b.mp3", "https://example.com/b.mp3")
	source := &staticSource{records: []catalog.FileRecord{a, b, a}}

	cat, err := PrepareCatalog(ctx, store, source, SeedOptions{ResumeFromStore: true})
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())
	assert.Equal(t, 1, source.calls)

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []catalog.FileRecord{a, b}, stored)
}

func TestPrepareCatalog_ResumesWithoutDiscovery(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t)

	rec := catalog.NewRecord("Sayadaw_A", "a.mp3", "https://example.com/a.mp3")
	rec.DownloadedBytes = 40
	require.NoError(t, store.Save(ctx, []catalog.FileRecord{rec}))

	source := &staticSource{err: errors.New("must not be called")}

	cat, err := PrepareCatalog(ctx, store, source, SeedOptions{ResumeFromStore: true})
	require.NoError(t, err)
	assert.Zero(t, source.calls)
	assert.Equal(t, int64(40), cat.Get(0).DownloadedBytes)
}

func TestPrepareCatalog_IgnoresStoreWhenNotResuming(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t)

	old := catalog.NewRecord("Sayadaw_A", "old.mp3", "https://example.com/old.mp3")
	require.NoError(t, store.Save(ctx, []catalog.FileRecord{old}))

	fresh := catalog.NewRecord("Sayadaw_A", "new.mp3", "https://example.com/new.mp3")

	cat, err := PrepareCatalog(ctx, store, &staticSource{records: []catalog.FileRecord{fresh}}, SeedOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, cat.Len())
	assert.Equal(t, fresh.URL, cat.Get(0).URL)
}

func TestPrepareCatalog_RefreshMergesNewURLs(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t)

	done := catalog.NewRecord("Sayadaw_A", "a.mp3", "https://example.com/a.mp3")
	done.Status = catalog.StatusComplete
	done.TotalSize = 10
	done.DownloadedBytes = 10
	require.NoError(t, store.Save(ctx, []catalog.FileRecord{done}))

	again := catalog.NewRecord("Sayadaw_A", "a.mp3", "https://example.com/a.mp3")
	added := catalog.NewRecord("Sayadaw_B", "b.mp3", "https://example.com/b.mp3")
	source := &staticSource{records: []catalog.FileRecord{again, added}}

	cat, err := PrepareCatalog(ctx, store, source, SeedOptions{ResumeFromStore: true, Refresh: true})
	require.NoError(t, err)
	require.Equal(t, 2, cat.Len())
	assert.Equal(t, catalog.StatusComplete, cat.Get(0).Status)
	assert.Equal(t, added.URL, cat.Get(1).URL)

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestPrepareCatalog_RefreshSkipsTakenDestination(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t)

	done := catalog.NewRecord("Sayadaw_A", "01.mp3", "https://example.com/one/01.mp3")
	done.Status = catalog.StatusComplete
	done.TotalSize = 10
	done.DownloadedBytes = 10
	require.NoError(t, store.Save(ctx, []catalog.FileRecord{done}))

	clash := catalog.NewRecord("Sayadaw_A", "01.mp3", "https://example.com/two/01.mp3")
	added := catalog.NewRecord("Sayadaw_A", "02.mp3", "https://example.com/one/02.mp3")
	source := &staticSource{records: []catalog.FileRecord{clash, added}}

	cat, err := PrepareCatalog(ctx, store, source, SeedOptions{ResumeFromStore: true, Refresh: true})
	require.NoError(t, err)
	require.Equal(t, 2, cat.Len())
	assert.Equal(t, done.URL, cat.Get(0).URL)
	assert.Equal(t, catalog.StatusComplete, cat.Get(0).Status)
	assert.Equal(t, added.URL, cat.Get(1).URL)

	_, ok := cat.Lookup(clash.URL)
	assert.False(t, ok)
}

func TestPrepareCatalog_DiscoveredDestinationsMustBeUnique(t *testing.T) {
	store, _ := newMemStore(t)

	source := &staticSource{records: []catalog.FileRecord{
		catalog.NewRecord("Sayadaw_A", "01.mp3", "https://example.com/one/01.mp3"),
		catalog.NewRecord("Sayadaw_A", "01.mp3", "https://example.com/two/01.mp3"),
	}}

	_, err := PrepareCatalog(context.Background(), store, source, SeedOptions{})

	var pathErr *catalog.DuplicatePathError
	assert.ErrorAs(t, err, &pathErr)
}

func TestPrepareCatalog_CorruptStoreStartsFresh(t *testing.T) {
	ctx := context.Background()
	store, bucket := newMemStore(t)

	require.NoError(t, bucket.WriteAll(ctx, "file_list_cache.json", []byte("{not json"), nil))

	rec := catalog.NewRecord("Sayadaw_A", "a.mp3", "https://example.com/a.mp3")
	source := &staticSource{records: []catalog.FileRecord{rec}}

	cat, err := PrepareCatalog(ctx, store, source, SeedOptions{ResumeFromStore: true})
	require.NoError(t, err)
	assert.Equal(t, 1, cat.Len())
	assert.Equal(t, 1, source.calls)

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestPrepareCatalog_DiscoveryFailure(t *testing.T) {
	store, _ := newMemStore(t)

	_, err := PrepareCatalog(context.Background(), store, &staticSource{err: errors.New("index unreachable")}, SeedOptions{ResumeFromStore: true})
	assert.ErrorContains(t, err, "index unreachable")
}
