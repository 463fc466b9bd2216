package progress

import (
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/catalog_downloader/internal/catalog"
)

// DefaultLogInterval is how many bytes pass between two progress lines.
const DefaultLogInterval = 100 * 1024 * 1024 // 100MB

// LogObserver reports per-file progress as debug log lines.
type LogObserver struct {
	logger   *slog.Logger
	interval int64

	mu     sync.Mutex
	meters map[string]*fileMeter
}

type fileMeter struct {
	*Meter
	name string
}

func NewLogObserver(logger *slog.Logger, interval int64) *LogObserver {
	if interval <= 0 {
		interval = DefaultLogInterval
	}

	return &LogObserver{
		logger:   logger,
		interval: interval,
		meters:   make(map[string]*fileMeter),
	}
}

func (o *LogObserver) TransferStarted(rec catalog.FileRecord, offset int64) {
	o.mu.Lock()
	o.meters[rec.URL] = &fileMeter{Meter: NewMeter(offset, rec.TotalSize, o.interval), name: rec.Name()}
	o.mu.Unlock()

	attrs := []any{"url", rec.URL, "file", rec.Name()}
	if offset > 0 {
		attrs = append(attrs, "resume_from", humanize.Bytes(uint64(offset)))
	}

	if rec.TotalSize > 0 {
		attrs = append(attrs, "file_size", humanize.Bytes(uint64(rec.TotalSize)))
	}

	o.logger.Info("downloading file", attrs...)
}

func (o *LogObserver) TransferProgress(url string, n int) {
	o.mu.Lock()
	m, ok := o.meters[url]
	if !ok || !m.Add(n) {
		o.mu.Unlock()

		return
	}

	written, total, pct, name := m.Written, m.Total, m.Percent(), m.name
	o.mu.Unlock()

	if total > 0 {
		o.logger.Debug("download progress",
			"url", url,
			"file", name,
			"downloaded", humanize.Bytes(uint64(written)),
			"total", humanize.Bytes(uint64(total)),
			"percent", humanize.FtoaWithDigits(pct, 2))
	} else {
		o.logger.Debug("download progress", "url", url, "file", name, "downloaded", humanize.Bytes(uint64(written)))
	}
}

func (o *LogObserver) TransferRestarted(url string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if m, ok := o.meters[url]; ok {
		m.Reset()
	}
}

func (o *LogObserver) TransferFinished(url string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.meters, url)
}
