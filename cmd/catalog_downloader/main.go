package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/italolelis/catalog_downloader/internal/config"
	"github.com/italolelis/catalog_downloader/internal/discovery"
	"github.com/italolelis/catalog_downloader/internal/downloader"
	"github.com/italolelis/catalog_downloader/internal/downloader/progress"
	"github.com/italolelis/catalog_downloader/internal/http/rest"
	"github.com/italolelis/catalog_downloader/internal/journal"
	"github.com/italolelis/catalog_downloader/internal/logctx"
	"github.com/italolelis/catalog_downloader/internal/notifier"
	"github.com/italolelis/catalog_downloader/internal/probe"
	"github.com/italolelis/catalog_downloader/internal/retry"
	"github.com/italolelis/catalog_downloader/internal/storage"
	"github.com/italolelis/catalog_downloader/internal/storage/blobstore"
	"github.com/italolelis/catalog_downloader/internal/storage/sqlite"
	"github.com/italolelis/catalog_downloader/internal/telemetry"
	"github.com/italolelis/catalog_downloader/internal/transfer"
)

var version = "dev"

// exitInterrupted is the conventional status of a process stopped by SIGINT.
const exitInterrupted = 130

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	// Progress bars own the terminal; logs are printed above them.
	var (
		out  io.Writer = os.Stdout
		bars *progress.Bars
	)

	if cfg.ShowProgress {
		bars = progress.NewBars(color.Output)
		out = bars
	}

	logger := logctx.New(out, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("catalog downloader starting...", "version", version, "log_level", cfg.LogLevel, "dest_dir", cfg.DestDir)

	err = run(logctx.WithLogger(ctx, logger), cfg, out, bars)

	if bars != nil {
		bars.Wait()
	}

	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn("interrupted, progress saved")
		stop()
		os.Exit(exitInterrupted)
	case err != nil:
		logger.Error("fatal error", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, out io.Writer, bars *progress.Bars) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Progress Store
	store, err := openStore(cfg, tel)
	if err != nil {
		return err
	}
	defer store.Close()

	failures, err := journal.Open(cfg.FailedLog)
	if err != nil {
		return err
	}
	defer failures.Close()

	// =========================================================================
	// Start Downloader
	client := transfer.NewHTTPClient(transfer.ClientOptions{
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		AuthToken:      cfg.AuthToken,
		Header:         cfg.Header(),
	})

	policy := retry.Policy{MaxAttempts: cfg.MaxRetries, Delay: cfg.RetryDelay}

	source, err := buildSource(cfg, client, policy)
	if err != nil {
		return fmt.Errorf("failed to build catalog source: %w", err)
	}

	notif, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	var observer downloader.Observer = progress.NewLogObserver(logger, progress.DefaultLogInterval)
	if bars != nil {
		observer = bars
	}

	engine := transfer.NewEngine(client, transfer.Options{
		ChunkSize:   int(cfg.ChunkSize),
		ReadTimeout: cfg.ReadTimeout,
	})

	dl := downloader.NewDownloader(engine, store, failures, downloader.Options{
		DestDir:            cfg.DestDir,
		MaxParallel:        cfg.MaxParallel,
		Retry:              policy,
		CheckpointInterval: cfg.CheckpointInterval,
		Observer:           observer,
		Notifier:           notif,
		Telemetry:          tel,
	})

	var prober *probe.Prober
	if cfg.ProbeSizes {
		prober = probe.New(client, probe.Options{MaxParallel: cfg.MaxParallel, Retry: policy, Telemetry: tel})
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	var serverErrors chan error

	status := rest.NewStatusHandler(tel)

	var server *http.Server
	if cfg.Web.BindAddress != "" {
		server = setupServer(ctx, status, cfg)
		serverErrors = make(chan error, 1)

		go func() {
			logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
			serverErrors <- server.ListenAndServe()
		}()

		defer shutdownServer(ctx, server, cfg)
	}

	// =========================================================================
	// Start Main Loop
	cycle := func(ctx context.Context, seed downloader.SeedOptions) error {
		cat, err := downloader.PrepareCatalog(ctx, store, source, seed)
		if err != nil {
			return err
		}

		status.RunStarted(cat)

		if prober != nil {
			if _, err := prober.Run(ctx, cat, store); err != nil {
				status.RunFinished(nil)

				return err
			}
		}

		summary, err := dl.Run(ctx, cat)
		status.RunFinished(summary)

		if errors.Is(err, downloader.ErrEmptyCatalog) {
			logger.Warn("catalog is empty, nothing to download")

			return nil
		}

		if summary != nil {
			printSummary(out, summary)

			if summary.Complete > 0 || summary.Failed > 0 {
				if nerr := notif.Notify(ctx, "📥 "+summary.String()); nerr != nil {
					logger.Error("failed to send notification", "err", nerr)
				}
			}
		}

		return err
	}

	err = cycle(ctx, downloader.SeedOptions{ResumeFromStore: cfg.ResumeFromStore, Refresh: cfg.RefreshCatalog})
	if err != nil || cfg.RunInterval <= 0 {
		return err
	}

	logger.Info("waiting for the next run...", "run_interval", cfg.RunInterval.String())

	ticker := time.NewTicker(cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			return ctx.Err()
		case <-ticker.C:
			// Later runs always continue from the store and pick up new files.
			err := cycle(ctx, downloader.SeedOptions{ResumeFromStore: true, Refresh: true})

			var persistErr *downloader.PersistenceError

			switch {
			case errors.As(err, &persistErr):
				return err
			case ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				logger.Error("download run failed", "err", err)
			}
		}
	}
}

// This is an abstract factory for the progress store.
func openStore(cfg *config.Config, tel *telemetry.Telemetry) (storage.ProgressStore, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}

		return storage.NewInstrumentedStore(s, config.StoreSQLite, tel), nil
	case config.StoreJSON:
		s, err := blobstore.OpenFile(cfg.ProgressFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open progress file: %w", err)
		}

		return storage.NewInstrumentedStore(s, config.StoreJSON, tel), nil
	}

	return nil, fmt.Errorf("invalid store backend: %s", cfg.StoreBackend)
}

func buildSource(cfg *config.Config, client *http.Client, policy retry.Policy) (downloader.Source, error) {
	if cfg.CatalogFile != "" {
		return discovery.FileSource{Path: cfg.CatalogFile}, nil
	}

	return discovery.NewScraper(client, discovery.ScraperOptions{
		IndexURL:        cfg.IndexURL,
		BaseURL:         cfg.BaseURL,
		CategoryPattern: cfg.CategoryPattern,
		MediaPattern:    cfg.MediaPattern,
		MaxParallel:     cfg.MaxParallel,
		Retry:           policy,
	})
}

func buildNotifier(cfg *config.Config) (notifier.Notifier, error) {
	var notifiers notifier.Multi

	if cfg.DiscordWebhookURL != "" {
		notifiers = append(notifiers, notifier.NewDiscordNotifier(cfg.DiscordWebhookURL))
	}

	if cfg.Telegram.BotToken != "" {
		tg, err := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return nil, err
		}

		notifiers = append(notifiers, tg)
	}

	switch len(notifiers) {
	case 0:
		return notifier.Discard{}, nil
	case 1:
		return notifiers[0], nil
	}

	return notifiers, nil
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, status *rest.StatusHandler, cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      status.Routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func shutdownServer(ctx context.Context, server *http.Server, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	// Give outstanding requests a deadline for completion.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("failed to gracefully shutdown the server", "err", err)

		if err = server.Close(); err != nil {
			logger.Error("could not stop server", "err", err)
		}
	}
}

func printSummary(w io.Writer, s *downloader.Summary) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	bold.Fprintf(w, "\nRun %s finished in %s\n", s.RunID, s.Duration.Round(time.Second))
	green.Fprintf(w, "  complete:         %d\n", s.Complete)
	fmt.Fprintf(w, "  already complete: %d\n", s.AlreadyComplete)
	fmt.Fprintf(w, "  downloaded:       %s\n", humanize.Bytes(uint64(s.BytesDownloaded)))

	if s.Failed > 0 {
		red.Fprintf(w, "  failed:           %d (see %s)\n", s.Failed, s.JournalPath)

		for _, f := range s.Failures {
			red.Fprintf(w, "    %s: %v\n", f.Name, f.Err)
		}
	}

	if pending := s.Interrupted + s.NotDispatched(); pending > 0 {
		yellow.Fprintf(w, "  left for next run: %d\n", pending)
	}

	if s.PersistFailures > 0 {
		red.Fprintf(w, "  progress saves failed: %d of %d\n", s.PersistFailures, s.Saves)
	}
}
