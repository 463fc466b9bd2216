package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DEST_DIR", "/data/media")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/data/media", cfg.DestDir)
	assert.Equal(t, "https://www.dhammadownload.com/AudioInMyanmar.htm", cfg.IndexURL)
	assert.Equal(t, StoreJSON, cfg.StoreBackend)
	assert.Equal(t, "file_list_cache.json", cfg.ProgressFile)
	assert.Equal(t, "failed_downloads.txt", cfg.FailedLog)
	assert.True(t, cfg.ResumeFromStore)
	assert.True(t, cfg.ProbeSizes)
	assert.False(t, cfg.RefreshCatalog)
	assert.Equal(t, 3, cfg.MaxParallel)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, ByteSize(64*1024), cfg.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Zero(t, cfg.RunInterval)
	assert.Empty(t, cfg.Web.BindAddress)
	assert.Equal(t, "catalog_downloader", cfg.Telemetry.ServiceName)
	assert.Empty(t, cfg.Header())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DEST_DIR", "/data/media")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("MAX_PARALLEL", "8")
	t.Setenv("CHUNK_SIZE", "1MiB")
	t.Setenv("RETRY_DELAY", "250ms")
	t.Setenv("REQUEST_HEADERS", "User-Agent: catalog/1.0, X-Trace:abc")
	t.Setenv("TELEMETRY_ENABLED", "true")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("WEB_BIND_ADDRESS", ":9091")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-1001")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, 8, cfg.MaxParallel)
	assert.Equal(t, ByteSize(1<<20), cfg.ChunkSize)
	assert.Equal(t, "1.0 MiB", cfg.ChunkSize.String())
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, "catalog/1.0", cfg.Header().Get("User-Agent"))
	assert.Equal(t, "abc", cfg.Header().Get("X-Trace"))
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, ":9091", cfg.Web.BindAddress)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, int64(-1001), cfg.Telegram.ChatID)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"empty dest dir", map[string]string{"DEST_DIR": " "}, "DEST_DIR"},
		{"unknown backend", map[string]string{"STORE_BACKEND": "redis"}, "STORE_BACKEND"},
		{"zero workers", map[string]string{"MAX_PARALLEL": "0"}, "MAX_PARALLEL"},
		{"zero retries", map[string]string{"MAX_RETRIES": "0"}, "MAX_RETRIES"},
		{"bad chunk size", map[string]string{"CHUNK_SIZE": "lots"}, "invalid byte size"},
		{"bad header", map[string]string{"REQUEST_HEADERS": "nocolon"}, "expected name:value"},
		{"no source", map[string]string{"INDEX_URL": "", "CATALOG_FILE": ""}, "CATALOG_FILE or INDEX_URL"},
		{"telegram without chat", map[string]string{"TELEGRAM_BOT_TOKEN": "123:abc"}, "TELEGRAM_CHAT_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DEST_DIR", "/data/media")

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"Error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		cfg := Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
