package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
)

// ByteSize is a size read from a human readable value such as "64MiB" or "16MB".
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

// Config struct for environment variables.
type Config struct {
	SourceBucketURL string `envconfig:"SOURCE_BUCKET_URL" required:"true"`
	MirrorBucketURL string `envconfig:"MIRROR_BUCKET_URL"`
	TargetDir       string `envconfig:"TARGET_DIR" required:"true"`

	MaxConcurrentRemoteStoreStreams int      `envconfig:"MAX_CONCURRENT_REMOTE_STORE_STREAMS" default:"20"`
	RemoteRecoveryPoolSize          int      `envconfig:"REMOTE_RECOVERY_POOL_SIZE" default:"8"`
	MultipartThreshold              ByteSize `envconfig:"MULTIPART_THRESHOLD" default:"64MiB"`
	PartSize                        ByteSize `envconfig:"PART_SIZE" default:"16MiB"`
	MaxConcurrentParts              int      `envconfig:"MAX_CONCURRENT_PARTS" default:"8"`
	CleanupOnFailure                bool     `envconfig:"CLEANUP_ON_FAILURE" default:"false"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string `envconfig:"DB_PATH" default:"recoveries.db"`

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Telemetry struct {
		Enabled        bool          `split_words:"true" default:"true"`
		ServiceName    string        `split_words:"true" default:"segment_recovery"`
		ServiceVersion string        `split_words:"true" default:"dev"`
		OTLPEndpoint   string        `envconfig:"OTLP_ENDPOINT"`
		OTLPInterval   time.Duration `envconfig:"OTLP_INTERVAL" default:"30s"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
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

// Validate rejects limits the transfer engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxConcurrentRemoteStoreStreams < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_REMOTE_STORE_STREAMS must be at least 1, got %d", c.MaxConcurrentRemoteStoreStreams))
	}

	if c.RemoteRecoveryPoolSize < 1 {
		errs = append(errs, fmt.Errorf("REMOTE_RECOVERY_POOL_SIZE must be at least 1, got %d", c.RemoteRecoveryPoolSize))
	}

	if c.MaxConcurrentParts < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_PARTS must be at least 1, got %d", c.MaxConcurrentParts))
	}

	if c.MultipartThreshold > 0 && c.PartSize < 1 {
		errs = append(errs, errors.New("PART_SIZE must be positive when multipart downloads are enabled"))
	}

	return errors.Join(errs...)
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
