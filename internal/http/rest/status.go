package rest

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/catalog_downloader/internal/catalog"
	"github.com/italolelis/catalog_downloader/internal/downloader"
	"github.com/italolelis/catalog_downloader/internal/logctx"
	"github.com/italolelis/catalog_downloader/internal/telemetry"
)

type CatalogStatus struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Complete        int   `json:"complete"`
	Failed          int   `json:"failed"`
	DownloadedBytes int64 `json:"downloaded_bytes"`
	TotalBytes      int64 `json:"total_bytes"`
}

type RunStatus struct {
	RunID           string    `json:"run_id"`
	Started         time.Time `json:"started"`
	DurationSeconds float64   `json:"duration_seconds"`
	Complete        int       `json:"complete"`
	Failed          int       `json:"failed"`
	AlreadyComplete int       `json:"already_complete"`
	Interrupted     int       `json:"interrupted"`
	NotDispatched   int       `json:"not_dispatched"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	PersistFailures int       `json:"persist_failures"`
	Journal         string    `json:"journal"`
}

type StatusResponse struct {
	Running bool           `json:"running"`
	Catalog *CatalogStatus `json:"catalog,omitempty"`
	LastRun *RunStatus     `json:"last_run,omitempty"`
}

type FailedFile struct {
	Category        string `json:"category"`
	Filename        string `json:"filename"`
	URL             string `json:"url"`
	DownloadedBytes int64  `json:"downloaded_bytes"`
	TotalSize       int64  `json:"total_size"`
}

// StatusHandler serves the state of the catalog and of the last run.
type StatusHandler struct {
	telemetry *telemetry.Telemetry

	mu      sync.RWMutex
	catalog *catalog.Catalog
	last    *downloader.Summary
	running bool
}

func NewStatusHandler(t *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{telemetry: t}
}

// RunStarted is called before every run with the catalog it works on.
func (h *StatusHandler) RunStarted(cat *catalog.Catalog) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.catalog = cat
	h.running = true
}

// RunFinished records the summary of a run. summary may be nil when the run
// failed before it started.
func (h *StatusHandler) RunFinished(summary *downloader.Summary) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.running = false
	if summary != nil {
		h.last = summary
	}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Get("/status", h.HandleStatus)
	r.Get("/status/failed", h.HandleFailed)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	return r
}

func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	cat, last, running := h.catalog, h.last, h.running
	h.mu.RUnlock()

	resp := StatusResponse{Running: running}

	if cat != nil {
		c := cat.Counts()
		resp.Catalog = &CatalogStatus{
			Total:           c.Total,
			Pending:         c.Pending,
			Complete:        c.Complete,
			Failed:          c.Failed,
			DownloadedBytes: c.DownloadedBytes,
			TotalBytes:      c.TotalBytes,
		}
	}

	if last != nil {
		resp.LastRun = &RunStatus{
			RunID:           last.RunID,
			Started:         last.Started,
			DurationSeconds: last.Duration.Seconds(),
			Complete:        last.Complete,
			Failed:          last.Failed,
			AlreadyComplete: last.AlreadyComplete,
			Interrupted:     last.Interrupted,
			NotDispatched:   last.NotDispatched(),
			BytesDownloaded: last.BytesDownloaded,
			PersistFailures: last.PersistFailures,
			Journal:         last.JournalPath,
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *StatusHandler) HandleFailed(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	cat := h.catalog
	h.mu.RUnlock()

	files := []FailedFile{}

	if cat != nil {
		for _, rec := range cat.Filter(catalog.StatusFailed) {
			files = append(files, FailedFile{
				Category:        rec.Category,
				Filename:        rec.Filename,
				URL:             rec.URL,
				DownloadedBytes: rec.DownloadedBytes,
				TotalSize:       rec.TotalSize,
			})
		}
	}

	writeJSON(w, r, http.StatusOK, files)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
