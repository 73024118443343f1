// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidDefaultDimensions is returned when a default width or height is not positive.
	ErrInvalidDefaultDimensions = errors.New("config: DEFAULT_WIDTH and DEFAULT_HEIGHT must be positive")
	// ErrInvalidJPEGQuality is returned when JPEG_QUALITY is outside ffmpeg's qscale range.
	ErrInvalidJPEGQuality = errors.New("config: JPEG_QUALITY must be between 2 and 31")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_TRANSCODES is not positive.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_TRANSCODES must be positive")
	// ErrInvalidCodecSource is returned when CODEC_SOURCE_URL has an unsupported scheme.
	ErrInvalidCodecSource = errors.New("config: CODEC_SOURCE_URL must be an http(s):// or s3:// URL")
)

// Server read limits. Uploads up to MaxUploadBytes must fit through a
// client link of at least MinUploadBytesPerSecond.
const (
	MinUploadBytesPerSecond = 256 << 10
	headerReadTimeout       = 10 * time.Second
	baseBodyReadTimeout     = 30 * time.Second
	responseWriteTimeout    = 60 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int   `env:"PORT, default=8000" json:"port"`
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES, default=104857600" json:"max_upload_bytes"`

	// Thumbnail settings
	DefaultWidth  int `env:"DEFAULT_WIDTH, default=180" json:"default_width"`
	DefaultHeight int `env:"DEFAULT_HEIGHT, default=180" json:"default_height"`
	JPEGQuality   int `env:"JPEG_QUALITY, default=2" json:"jpeg_quality"`

	// Codec settings
	FFmpegPath              string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	CodecSourceURL          string        `env:"CODEC_SOURCE_URL" json:"codec_source_url,omitempty"`
	WorkspaceDir            string        `env:"WORKSPACE_DIR, default=/tmp/thumbnail-api" json:"workspace_dir"`
	MaxConcurrentTranscodes int           `env:"MAX_CONCURRENT_TRANSCODES, default=1" json:"max_concurrent_transcodes"`
	TranscodeTimeout        time.Duration `env:"TRANSCODE_TIMEOUT, default=60s" json:"transcode_timeout"`

	// Optional S3 settings, used when CODEC_SOURCE_URL is an s3:// URL
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Tracing settings
	TraceExporter string `env:"TRACE_EXPORTER, default=none" json:"trace_exporter"` // "none", "stdout" or "otlp"
	OTLPEndpoint  string `env:"OTLP_ENDPOINT" json:"otlp_endpoint,omitempty"`
	OTLPInsecure  bool   `env:"OTLP_INSECURE, default=false" json:"otlp_insecure"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig.
// Values from a .env file in the working directory are applied first;
// variables already present in the environment take precedence.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads path into the process environment if it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.DefaultWidth <= 0 || c.DefaultHeight <= 0 {
		return ErrInvalidDefaultDimensions
	}
	if c.JPEGQuality < 2 || c.JPEGQuality > 31 {
		return ErrInvalidJPEGQuality
	}
	if c.MaxConcurrentTranscodes <= 0 {
		return ErrInvalidConcurrency
	}
	if c.CodecSourceURL != "" {
		u, err := url.Parse(c.CodecSourceURL)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCodecSource, err)
		}
		switch u.Scheme {
		case "http", "https", "s3":
		default:
			return ErrInvalidCodecSource
		}
	}
	return nil
}

// ReadHeaderTimeout bounds reading the request line and headers.
func (c *Config) ReadHeaderTimeout() time.Duration {
	return headerReadTimeout
}

// BodyReadTimeout bounds reading a whole request, sized so an upload of
// MaxUploadBytes completes at MinUploadBytesPerSecond.
func (c *Config) BodyReadTimeout() time.Duration {
	return baseBodyReadTimeout + time.Duration(c.MaxUploadBytes/MinUploadBytesPerSecond)*time.Second
}

// WriteTimeout covers reading the body, the transcode and writing the response.
func (c *Config) WriteTimeout() time.Duration {
	return c.BodyReadTimeout() + c.TranscodeTimeout + responseWriteTimeout
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, DefaultWidth: %d, DefaultHeight: %d, JPEGQuality: %d, FFmpegPath: %s, CodecSourceURL: %s, WorkspaceDir: %s, MaxConcurrentTranscodes: %d, TranscodeTimeout: %s, S3Region: %s, TraceExporter: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.DefaultWidth,
		c.DefaultHeight,
		c.JPEGQuality,
		c.FFmpegPath,
		c.CodecSourceURL,
		c.WorkspaceDir,
		c.MaxConcurrentTranscodes,
		c.TranscodeTimeout,
		c.S3Region,
		c.TraceExporter,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
