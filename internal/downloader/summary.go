package downloader

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/catalog_downloader/internal/catalog"
)

// Result is the terminal state of a record within one run.
type Result string

const (
	ResultComplete    Result = "complete"
	ResultFailed      Result = "failed"
	ResultInterrupted Result = "interrupted"
)

// Outcome is what a worker reports for the record it processed.
type Outcome struct {
	URL          string
	Name         string
	Result       Result
	Size         int64
	BytesWritten int64
	Attempts     int
	Duration     time.Duration
	Err          error
	PersistErr   error
}

// Summary describes one run.
type Summary struct {
	RunID string

	Total           int
	AlreadyComplete int
	Complete        int
	Failed          int
	Interrupted     int

	BytesDownloaded int64

	Saves           int
	PersistFailures int

	JournalPath string
	Failures    []Outcome

	// Catalog holds the counts after the run.
	Catalog catalog.Counts

	Started  time.Time
	Duration time.Duration
}

func newSummary(runID string, total, alreadyComplete int, journalPath string) *Summary {
	return &Summary{
		RunID:           runID,
		Total:           total,
		AlreadyComplete: alreadyComplete,
		JournalPath:     journalPath,
		Started:         time.Now(),
	}
}

func (s *Summary) add(o Outcome) {
	s.BytesDownloaded += o.BytesWritten

	switch o.Result {
	case ResultComplete:
		s.Complete++
	case ResultFailed:
		s.Failed++
		s.Failures = append(s.Failures, o)
	case ResultInterrupted:
		s.Interrupted++
	}
}

func (s *Summary) finish(counts catalog.Counts, saves, failures int) {
	s.Catalog = counts
	s.Saves = saves
	s.PersistFailures = failures
	s.Duration = time.Since(s.Started)
}

// NotDispatched is the number of records the run never got to.
func (s *Summary) NotDispatched() int {
	return s.Total - s.AlreadyComplete - s.Complete - s.Failed - s.Interrupted
}

func (s *Summary) String() string {
	msg := fmt.Sprintf("%d complete, %d failed, %d already complete of %d files (%s downloaded in %s)",
		s.Complete, s.Failed, s.AlreadyComplete, s.Total,
		humanize.Bytes(uint64(s.BytesDownloaded)), s.Duration.Round(time.Second))

	if s.Interrupted > 0 || s.NotDispatched() > 0 {
		msg += fmt.Sprintf("; interrupted with %d in flight and %d not started", s.Interrupted, s.NotDispatched())
	}

	if s.Failed > 0 {
		msg += "; failures logged to " + s.JournalPath
	}

	if s.PersistFailures > 0 {
		msg += fmt.Sprintf("; %d of %d progress saves failed", s.PersistFailures, s.Saves)
	}

	return msg
}
