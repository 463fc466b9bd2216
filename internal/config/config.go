package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// ByteSize is a size read from the environment in human form ("64KiB", "1MB").
type ByteSize int64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", value, err)
	}

	*b = ByteSize(n)

	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Headers are extra request headers given as "Name:value,Other:value".
type Headers http.Header

// Decode implements envconfig.Decoder.
func (h *Headers) Decode(value string) error {
	header := http.Header{}

	for _, pair := range strings.Split(value, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}

		name, val, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid header %q, expected name:value", pair)
		}

		header.Add(strings.TrimSpace(name), strings.TrimSpace(val))
	}

	*h = Headers(header)

	return nil
}

// Config struct for environment variables.
type Config struct {
	DestDir string `envconfig:"DEST_DIR" required:"true"`

	IndexURL        string `envconfig:"INDEX_URL" default:"https://www.dhammadownload.com/AudioInMyanmar.htm"`
	BaseURL         string `envconfig:"BASE_URL" default:"https://www.dhammadownload.com/"`
	CategoryPattern string `envconfig:"CATEGORY_PATTERN"`
	MediaPattern    string `envconfig:"MEDIA_PATTERN"`
	CatalogFile     string `envconfig:"CATALOG_FILE"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"json"`
	ProgressFile string `envconfig:"PROGRESS_FILE" default:"file_list_cache.json"`
	DBPath       string `envconfig:"DB_PATH" default:"downloads.db"`
	FailedLog    string `envconfig:"FAILED_LOG" default:"failed_downloads.txt"`

	ResumeFromStore bool `envconfig:"RESUME_FROM_STORE" default:"true"`
	RefreshCatalog  bool `envconfig:"REFRESH_CATALOG" default:"false"`
	ProbeSizes      bool `envconfig:"PROBE_SIZES" default:"true"`

	MaxParallel        int           `envconfig:"MAX_PARALLEL" default:"3"`
	MaxRetries         int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryDelay         time.Duration `envconfig:"RETRY_DELAY" default:"5s"`
	ChunkSize          ByteSize      `envconfig:"CHUNK_SIZE" default:"64KiB"`
	ConnectTimeout     time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	ReadTimeout        time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	CheckpointInterval time.Duration `envconfig:"CHECKPOINT_INTERVAL" default:"30s"`
	RunInterval        time.Duration `envconfig:"RUN_INTERVAL" default:"0"`

	ShowProgress   bool    `envconfig:"SHOW_PROGRESS" default:"false"`
	AuthToken      string  `envconfig:"AUTH_TOKEN"`
	RequestHeaders Headers `envconfig:"REQUEST_HEADERS"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"false"`
		ServiceName  string `split_words:"true" default:"catalog_downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Telegram struct {
		BotToken string `split_words:"true"`
		ChatID   int64  `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values envconfig accepts but the downloader cannot use.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DestDir) == "" {
		errs = append(errs, errors.New("DEST_DIR is required"))
	}

	if c.StoreBackend != StoreJSON && c.StoreBackend != StoreSQLite {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreJSON, StoreSQLite, c.StoreBackend))
	}

	if c.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("MAX_PARALLEL must be at least 1, got %d", c.MaxParallel))
	}

	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries))
	}

	if c.RetryDelay < 0 || c.CheckpointInterval < 0 || c.RunInterval < 0 {
		errs = append(errs, errors.New("RETRY_DELAY, CHECKPOINT_INTERVAL and RUN_INTERVAL must not be negative"))
	}

	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("CHUNK_SIZE must be positive"))
	}

	if c.ReadTimeout <= 0 || c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("CONNECT_TIMEOUT and READ_TIMEOUT must be positive"))
	}

	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set"))
	}

	if c.CatalogFile == "" && c.IndexURL == "" {
		errs = append(errs, errors.New("either CATALOG_FILE or INDEX_URL is required"))
	}

	return errors.Join(errs...)
}

// Header returns the extra request headers as an http.Header.
func (c *Config) Header() http.Header {
	return http.Header(c.RequestHeaders)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
