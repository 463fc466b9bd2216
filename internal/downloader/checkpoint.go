package downloader

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/italolelis/catalog_downloader/internal/logctx"
	"github.com/italolelis/catalog_downloader/internal/storage"
)

// checkpointer is the single writer of the progress store during a run.
// The snapshot is taken while holding the lock, so a save that starts later
// always carries every mutation made before it started.
type checkpointer struct {
	mu    sync.Mutex
	store storage.ProgressStore
	cat   *catalog.Catalog

	saves    int
	failures int
	lastErr  error
}

func newCheckpointer(store storage.ProgressStore, cat *catalog.Catalog) *checkpointer {
	return &checkpointer{store: store, cat: cat}
}

// save writes the whole catalog. It completes even when ctx is cancelled
// so interrupted runs still leave their progress behind.
func (c *checkpointer) save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.saves++

	if err := c.store.Save(context.WithoutCancel(ctx), c.cat.Snapshot()); err != nil {
		c.failures++
		c.lastErr = err

		return err
	}

	return nil
}

func (c *checkpointer) stats() (saves, failures int, lastErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.saves, c.failures, c.lastErr
}

// start saves every interval until the returned stop function is called.
func (c *checkpointer) start(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	logger := logctx.LoggerFromContext(ctx)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick(ctx, logger)
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

// tick writes one periodic checkpoint. A panicking store is logged and the
// ticker keeps going; the final checkpoint of the run still happens.
func (c *checkpointer) tick(ctx context.Context, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("periodic checkpoint panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := c.save(ctx); err != nil {
		logger.Error("failed to write periodic checkpoint", "err", err)

		return
	}

	logger.Debug("checkpoint written")
}
