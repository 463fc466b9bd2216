package progress

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/italolelis/catalog_downloader/internal/catalog"
)

const maxNameWidth = 40

// Bars renders one terminal progress bar per active transfer. Bars is an
// io.Writer: log output written through it is printed above the bars.
type Bars struct {
	p *mpb.Progress

	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

func NewBars(w io.Writer) *Bars {
	return &Bars{
		p:    mpb.New(mpb.WithOutput(w), mpb.WithAutoRefresh(), mpb.WithWidth(40)),
		bars: make(map[string]*mpb.Bar),
	}
}

func (b *Bars) Write(p []byte) (int, error) {
	return b.p.Write(p)
}

func (b *Bars) TransferStarted(rec catalog.FileRecord, offset int64) {
	bar := b.p.AddBar(rec.TotalSize,
		mpb.PrependDecorators(
			decor.Name(shorten(rec.Name()), decor.WCSyncSpaceR),
			decor.CountersKibiByte("% .2f / % .2f", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(decor.Percentage(decor.WCSyncSpace)),
		mpb.BarRemoveOnComplete(),
	)
	bar.SetCurrent(offset)

	b.mu.Lock()
	b.bars[rec.URL] = bar
	b.mu.Unlock()
}

func (b *Bars) TransferProgress(url string, n int) {
	if bar := b.get(url); bar != nil {
		bar.IncrBy(n)
	}
}

func (b *Bars) TransferRestarted(url string) {
	if bar := b.get(url); bar != nil {
		bar.SetCurrent(0)
	}
}

func (b *Bars) TransferFinished(url string, err error) {
	b.mu.Lock()
	bar := b.bars[url]
	delete(b.bars, url)
	b.mu.Unlock()

	if bar == nil {
		return
	}

	if err != nil {
		bar.Abort(true)

		return
	}

	// A non-positive total completes the bar at its current value.
	bar.SetTotal(-1, true)
}

// Wait blocks until every bar has been rendered for the last time.
func (b *Bars) Wait() {
	b.p.Wait()
}

func (b *Bars) get(url string) *mpb.Bar {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.bars[url]
}

func shorten(name string) string {
	r := []rune(name)
	if len(r) <= maxNameWidth {
		return name
	}

	return string(r[:maxNameWidth-1]) + "…"
}
