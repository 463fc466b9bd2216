package catalog

import (
	"errors"
	"fmt"
	"sync"
)

// DuplicateURLError is returned when two records share a url.
type DuplicateURLError struct {
	URL   string
	First int // index of the record that claimed the url first
	Again int // index of the duplicate
}

func (e *DuplicateURLError) Error() string {
	return fmt.Sprintf("catalog: duplicate url %s (records %d and %d)", e.URL, e.First, e.Again)
}

// DuplicatePathError is returned when two records with different urls would
// be written to the same file.
type DuplicatePathError struct {
	Path  string // category/filename
	URL   string // url of the record that claimed the path first
	Again string // url of the clashing record
}

func (e *DuplicatePathError) Error() string {
	return fmt.Sprintf("catalog: %s and %s share the destination %s", e.URL, e.Again, e.Path)
}

// Counts aggregates a catalog by status and bytes.
type Counts struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Complete        int   `json:"complete"`
	Failed          int   `json:"failed"`
	DownloadedBytes int64 `json:"downloaded_bytes"`
	TotalBytes      int64 `json:"total_bytes"`
}

// Catalog is the in-memory set of records for a run.
//
// Workers own one index each and mutate it through the methods below. The
// lock only protects readers (snapshots, counts) from observing a record
// half-way through an update.
type Catalog struct {
	mu      sync.RWMutex
	records []FileRecord
	index   map[string]int // url -> position
	paths   map[string]int // category/filename -> position
}

// New builds a catalog, rejecting invalid records, duplicate urls and
// records sharing a destination file.
func New(records []FileRecord) (*Catalog, error) {
	c := &Catalog{
		records: make([]FileRecord, 0, len(records)),
		index:   make(map[string]int, len(records)),
		paths:   make(map[string]int, len(records)),
	}

	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		if first, ok := c.index[rec.URL]; ok {
			return nil, &DuplicateURLError{URL: rec.URL, First: first, Again: i}
		}

		if err := c.pathClash(rec); err != nil {
			return nil, err
		}

		c.add(rec)
	}

	return c, nil
}

// Dedupe drops records whose url was already seen, keeping the first one.
func Dedupe(records []FileRecord) []FileRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]FileRecord, 0, len(records))

	for _, rec := range records {
		if _, ok := seen[rec.URL]; ok {
			continue
		}

		seen[rec.URL] = struct{}{}
		out = append(out, rec)
	}

	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.records)
}

// Get returns a copy of the record at i.
func (c *Catalog) Get(i int) FileRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.records[i]
}

// Lookup returns the index of url.
func (c *Catalog) Lookup(url string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[url]

	return i, ok
}

// Snapshot returns a deep copy of every record, in catalog order.
func (c *Catalog) Snapshot() []FileRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]FileRecord, len(c.records))
	copy(out, c.records)

	return out
}

// Incomplete returns the indices of records that still need work.
func (c *Catalog) Incomplete() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []int

	for i, rec := range c.records {
		if !rec.IsComplete() {
			out = append(out, i)
		}
	}

	return out
}

// Filter returns copies of the records matching status.
func (c *Catalog) Filter(status Status) []FileRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []FileRecord

	for _, rec := range c.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}

	return out
}

func (c *Catalog) Counts() Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := Counts{Total: len(c.records)}

	for _, rec := range c.records {
		switch rec.Status {
		case StatusComplete:
			counts.Complete++
		case StatusFailed:
			counts.Failed++
		default:
			counts.Pending++
		}

		counts.DownloadedBytes += rec.DownloadedBytes
		counts.TotalBytes += rec.TotalSize
	}

	return counts
}

// Merge appends discovered records whose url is not yet known. Known records
// keep their stored progress. A new record whose destination is already
// taken is skipped and reported as a *DuplicatePathError in the joined error;
// an invalid record stops the merge. It returns the number of records added.
func (c *Catalog) Merge(discovered []FileRecord) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		added   int
		clashes []error
	)

	for _, rec := range discovered {
		if _, ok := c.index[rec.URL]; ok {
			continue
		}

		if err := rec.Validate(); err != nil {
			return added, err
		}

		if err := c.pathClash(rec); err != nil {
			clashes = append(clashes, err)

			continue
		}

		c.add(rec)
		added++
	}

	return added, errors.Join(clashes...)
}

func (c *Catalog) pathClash(rec FileRecord) error {
	if first, ok := c.paths[rec.Name()]; ok {
		return &DuplicatePathError{Path: rec.Name(), URL: c.records[first].URL, Again: rec.URL}
	}

	return nil
}

// add appends rec to the catalog. The caller holds the lock or owns c.
func (c *Catalog) add(rec FileRecord) {
	if rec.Status == "" {
		rec.Status = StatusPending
	}

	c.index[rec.URL] = len(c.records)
	c.paths[rec.Name()] = len(c.records)
	c.records = append(c.records, rec)
}

// AddBytes advances the downloaded counter of record i by n. The counter
// never exceeds a known total.
func (c *Catalog) AddBytes(i int, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := &c.records[i]
	rec.DownloadedBytes += n

	if rec.TotalSize > 0 && rec.DownloadedBytes > rec.TotalSize {
		rec.DownloadedBytes = rec.TotalSize
	}
}

// SetDownloaded overwrites the downloaded counter of record i.
func (c *Catalog) SetDownloaded(i int, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := &c.records[i]
	rec.DownloadedBytes = n

	if rec.TotalSize > 0 && rec.DownloadedBytes > rec.TotalSize {
		rec.DownloadedBytes = rec.TotalSize
	}
}

// SetTotal records the total size of record i. A total is immutable once
// known; SetTotal reports false when it refused to change one.
func (c *Catalog) SetTotal(i int, size int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := &c.records[i]
	if size <= 0 {
		return false
	}

	if rec.TotalSize > 0 {
		return rec.TotalSize == size
	}

	rec.TotalSize = size
	if rec.DownloadedBytes > size {
		rec.DownloadedBytes = size
	}

	return true
}

// Complete marks record i complete with the given final size. An unknown
// total is backfilled from it.
func (c *Catalog) Complete(i int, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := &c.records[i]
	c.transition(rec, StatusComplete)

	if rec.TotalSize == 0 {
		rec.TotalSize = size
	}

	rec.DownloadedBytes = rec.TotalSize
}

// Fail marks record i failed.
func (c *Catalog) Fail(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transition(&c.records[i], StatusFailed)
}

func (c *Catalog) transition(rec *FileRecord, next Status) {
	if !rec.Status.CanTransition(next) {
		panic(fmt.Sprintf("catalog: illegal transition %s -> %s for %s", rec.Status, next, rec.URL))
	}

	rec.Status = next
}
