package progress

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/italolelis/catalog_downloader/internal/catalog"
)

func TestMeter_ReportsOnIntervalAndFivePercent(t *testing.T) {
	m := NewMeter(0, 1000, 400)

	assert.False(t, m.Add(10))
	assert.True(t, m.Add(40), "crossing 5% reports")
	assert.False(t, m.Add(300))
	assert.True(t, m.Add(100), "interval reached")
	assert.Equal(t, int64(450), m.Written)
	assert.InDelta(t, 45.0, m.Percent(), 0.001)

	m.Reset()
	assert.Zero(t, m.Written)
}

func TestMeter_UnknownTotal(t *testing.T) {
	m := NewMeter(100, 0, 50)

	assert.False(t, m.Add(0))
	assert.True(t, m.Add(60))
	assert.Equal(t, int64(160), m.Written)
	assert.Equal(t, float64(-1), m.Percent())
}

func TestLogObserver_WritesProgressLines(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	o := NewLogObserver(logger, 10)
	rec := catalog.NewRecord("Sayadaw_A", "a.mp3", "https://example.com/a.mp3")
	rec.TotalSize = 100

	o.TransferStarted(rec, 40)
	o.TransferProgress(rec.URL, 5)
	o.TransferProgress(rec.URL, 10)
	o.TransferRestarted(rec.URL)
	o.TransferFinished(rec.URL, nil)
	o.TransferProgress(rec.URL, 10)

	out := buf.String()
	assert.Contains(t, out, "downloading file")
	assert.Contains(t, out, `resume_from="40 B"`)
	assert.Equal(t, 1, strings.Count(out, "download progress"))
	assert.Contains(t, out, "percent=55")
}

func TestBars_Lifecycle(t *testing.T) {
	b := NewBars(io.Discard)

	known := catalog.NewRecord("Sayadaw_A", "a.mp3", "https://example.com/a.mp3")
	known.TotalSize = 100
	unknown := catalog.NewRecord("Sayadaw_A", strings.Repeat("long", 20)+".mp3", "https://example.com/b.mp3")
	failing := catalog.NewRecord("Sayadaw_A", "c.mp3", "https://example.com/c.mp3")

	b.TransferStarted(known, 40)
	b.TransferStarted(unknown, 0)
	b.TransferStarted(failing, 0)

	b.TransferProgress(known.URL, 60)
	b.TransferRestarted(unknown.URL)
	b.TransferProgress(unknown.URL, 10)
	b.TransferProgress("https://example.com/never-started", 10)

	b.TransferFinished(known.URL, nil)
	b.TransferFinished(unknown.URL, nil)
	b.TransferFinished(failing.URL, errors.New("HTTP 500"))

	_, err := b.Write([]byte("log line\n"))
	assert.NoError(t, err)

	b.Wait()
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "a.mp3", shorten("a.mp3"))
	assert.Len(t, []rune(shorten(strings.Repeat("x", 100))), maxNameWidth)
}
