package catalog_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsDuplicateURL(t *testing.T) {
	_, err := catalog.New([]catalog.FileRecord{
		catalog.NewRecord("talks", "a.mp3", "https://x/a.mp3"),
		catalog.NewRecord("talks", "b.mp3", "https://x/b.mp3"),
		catalog.NewRecord("other", "a.mp3", "https://x/a.mp3"),
	})
	require.Error(t, err)

	var dupErr *catalog.DuplicateURLError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, "https://x/a.mp3", dupErr.URL)
	assert.Equal(t, 0, dupErr.First)
	assert.Equal(t, 2, dupErr.Again)
}

func TestNew_RejectsSharedDestination(t *testing.T) {
	_, err := catalog.New([]catalog.FileRecord{
		catalog.NewRecord("Sayadaw_A", "01.mp3", "https://x/one/01.mp3"),
		catalog.NewRecord("Sayadaw_A", "01.mp3", "https://x/two/01.mp3"),
	})

	var pathErr *catalog.DuplicatePathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "Sayadaw_A/01.mp3", pathErr.Path)
	assert.Equal(t, "https://x/one/01.mp3", pathErr.URL)
	assert.Equal(t, "https://x/two/01.mp3", pathErr.Again)

	_, err = catalog.New([]catalog.FileRecord{
		catalog.NewRecord("Sayadaw_A", "01.mp3", "https://x/one/01.mp3"),
		catalog.NewRecord("Sayadaw_B", "01.mp3", "https://x/two/01.mp3"),
	})
	assert.NoError(t, err, "same filename in another category is a different file")
}

func TestNew_RejectsUnsafeNames(t *testing.T) {
	tests := []struct {
		name string
		rec  catalog.FileRecord
	}{
		{"empty url", catalog.NewRecord("c", "a.mp3", "")},
		{"parent filename", catalog.NewRecord("c", "..", "https://x/1")},
		{"nested filename", catalog.NewRecord("c", "../a.mp3", "https://x/2")},
		{"nested category", catalog.NewRecord("a/b", "a.mp3", "https://x/3")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.New([]catalog.FileRecord{tt.rec})
			assert.Error(t, err)
		})
	}
}

func TestDedupe_KeepsFirst(t *testing.T) {
	out := catalog.Dedupe([]catalog.FileRecord{
		catalog.NewRecord("one", "a.mp3", "https://x/a.mp3"),
		catalog.NewRecord("two", "a.mp3", "https://x/a.mp3"),
		catalog.NewRecord("one", "b.mp3", "https://x/b.mp3"),
	})

	require.Len(t, out, 2)
	assert.Equal(t, "one", out[0].Category)
	assert.Equal(t, "https://x/b.mp3", out[1].URL)

	_, err := catalog.New(out)
	assert.NoError(t, err)
}

func TestIncomplete_SkipsCompleteOnly(t *testing.T) {
	cat, err := catalog.New([]catalog.FileRecord{
		{Category: "c", Filename: "a", URL: "u1", Status: catalog.StatusComplete, TotalSize: 1, DownloadedBytes: 1},
		{Category: "c", Filename: "b", URL: "u2", Status: catalog.StatusFailed},
		{Category: "c", Filename: "c", URL: "u3"},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, cat.Incomplete())
	assert.Equal(t, catalog.StatusPending, cat.Get(2).Status)
}

func TestComplete_BackfillsUnknownTotal(t *testing.T) {
	cat, err := catalog.New([]catalog.FileRecord{catalog.NewRecord("c", "a", "u1")})
	require.NoError(t, err)

	cat.AddBytes(0, 60)
	cat.AddBytes(0, 40)
	cat.Complete(0, 100)

	rec := cat.Get(0)
	assert.Equal(t, catalog.StatusComplete, rec.Status)
	assert.Equal(t, int64(100), rec.TotalSize)
	assert.Equal(t, int64(100), rec.DownloadedBytes)
}

func TestAddBytes_NeverExceedsKnownTotal(t *testing.T) {
	cat, err := catalog.New([]catalog.FileRecord{{Category: "c", Filename: "a", URL: "u1", TotalSize: 10}})
	require.NoError(t, err)

	cat.AddBytes(0, 8)
	cat.AddBytes(0, 8)

	assert.Equal(t, int64(10), cat.Get(0).DownloadedBytes)
}

func TestSetTotal_IsImmutableOnceKnown(t *testing.T) {
	cat, err := catalog.New([]catalog.FileRecord{catalog.NewRecord("c", "a", "u1")})
	require.NoError(t, err)

	assert.False(t, cat.SetTotal(0, 0))
	assert.True(t, cat.SetTotal(0, 100))
	assert.False(t, cat.SetTotal(0, 200))
	assert.True(t, cat.SetTotal(0, 100))
	assert.Equal(t, int64(100), cat.Get(0).TotalSize)
}

func TestTransitions(t *testing.T) {
	cat, err := catalog.New([]catalog.FileRecord{catalog.NewRecord("c", "a", "u1")})
	require.NoError(t, err)

	cat.Fail(0)
	assert.Equal(t, catalog.StatusFailed, cat.Get(0).Status)

	cat.Fail(0)
	cat.Complete(0, 5)
	assert.Equal(t, catalog.StatusComplete, cat.Get(0).Status)

	assert.Panics(t, func() { cat.Fail(0) })
	assert.Panics(t, func() { cat.Complete(0, 5) })
}

func TestMerge_KeepsStoredProgress(t *testing.T) {
	cat, err := catalog.New([]catalog.FileRecord{
		{Category: "c", Filename: "a", URL: "u1", DownloadedBytes: 40, TotalSize: 100},
	})
	require.NoError(t, err)

	added, err := cat.Merge([]catalog.FileRecord{
		catalog.NewRecord("c", "a", "u1"),
		catalog.NewRecord("c", "b", "u2"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, added)
	assert.Equal(t, 2, cat.Len())
	assert.Equal(t, int64(40), cat.Get(0).DownloadedBytes)

	i, ok := cat.Lookup("u2")
	require.True(t, ok)
	assert.Equal(t, 1, i)
}

func TestMerge_SkipsSharedDestination(t *testing.T) {
	cat, err := catalog.New([]catalog.FileRecord{catalog.NewRecord("c", "a.mp3", "u1")})
	require.NoError(t, err)

	added, err := cat.Merge([]catalog.FileRecord{
		catalog.NewRecord("c", "a.mp3", "u2"),
		catalog.NewRecord("c", "b.mp3", "u3"),
		catalog.NewRecord("c", "b.mp3", "u4"),
	})

	var pathErr *catalog.DuplicatePathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "u2", pathErr.Again)

	assert.Equal(t, 1, added)
	assert.Equal(t, 2, cat.Len())

	_, ok := cat.Lookup("u3")
	assert.True(t, ok)

	for _, url := range []string{"u2", "u4"} {
		_, ok := cat.Lookup(url)
		assert.False(t, ok, url)
	}
}

func TestCounts(t *testing.T) {
	cat, err := catalog.New([]catalog.FileRecord{
		{Category: "c", Filename: "a", URL: "u1", Status: catalog.StatusComplete, DownloadedBytes: 10, TotalSize: 10},
		{Category: "c", Filename: "b", URL: "u2", Status: catalog.StatusFailed, DownloadedBytes: 3, TotalSize: 10},
		{Category: "c", Filename: "c", URL: "u3"},
	})
	require.NoError(t, err)

	assert.Equal(t, catalog.Counts{
		Total: 3, Pending: 1, Complete: 1, Failed: 1,
		DownloadedBytes: 13, TotalBytes: 20,
	}, cat.Counts())
	assert.Len(t, cat.Filter(catalog.StatusFailed), 1)
}

func TestStatus_DecodesLegacyEntries(t *testing.T) {
	var records []catalog.FileRecord

	err := json.Unmarshal([]byte(`[
		{"category": "c", "filename": "a.mp3", "url": "u1"},
		{"category": "c", "filename": "b.mp3", "url": "u2", "status": "Complete", "total_size": 5, "downloaded_bytes": 5}
	]`), &records)
	require.NoError(t, err)

	cat, err := catalog.New(records)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusPending, cat.Get(0).Status)
	assert.Equal(t, catalog.StatusComplete, cat.Get(1).Status)

	err = json.Unmarshal([]byte(`[{"url": "u3", "status": "downloading"}]`), &records)
	assert.ErrorIs(t, err, catalog.ErrInvalidStatus)
}
