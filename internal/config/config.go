// Package config provides configuration loading for corpusd.
package config

import (
	"fmt"
	"time"
)

// Config is the full corpusd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Index      IndexConfig      `koanf:"index"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Addr is the HTTP listen address.
	Addr string `koanf:"addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig selects and configures the metadata store.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `koanf:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `koanf:"sqlite_path"`
}

// IndexConfig configures the chunk vector index.
type IndexConfig struct {
	// Path is the persistence directory; empty keeps the index in memory.
	Path string `koanf:"path"`

	// Compress enables gzip compression of persisted vectors.
	Compress bool `koanf:"compress"`

	// VectorSize is the embedding dimension; must match the provider.
	VectorSize int `koanf:"vector_size"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "http" or "static".
	Provider string `koanf:"provider"`

	// BaseURL is the OpenAI-compatible endpoint base URL.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// APIKey authenticates against the endpoint.
	APIKey Secret `koanf:"api_key"`

	// Dimension is the embedding dimension.
	Dimension int `koanf:"dimension"`

	// RequestsPerSecond rate-limits outbound calls; 0 disables.
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	// MaxRetries is the total attempts per embedding call.
	MaxRetries int `koanf:"max_retries"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// WindowSize is the chunk window in words.
	WindowSize int `koanf:"window_size"`

	// Overlap is the overlap between consecutive windows in words.
	Overlap int `koanf:"overlap"`

	// EmbedConcurrency bounds concurrent embedding calls per item.
	EmbedConcurrency int `koanf:"embed_concurrency"`

	// RollbackTimeout bounds cleanup after a failed ingest.
	RollbackTimeout Duration `koanf:"rollback_timeout"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// NewDefaultConfig returns the built-in defaults: in-memory stores, no
// telemetry export, a local embedding endpoint left unset so startup fails
// loudly rather than pointing at a guessed URL.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8085",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Index: IndexConfig{
			VectorSize: 1536,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "http",
			Model:      "text-embedding-3-small",
			Dimension:  1536,
			MaxRetries: 4,
		},
		Ingest: IngestConfig{
			WindowSize:       500,
			Overlap:          50,
			EmbedConcurrency: 4,
			RollbackTimeout:  Duration(15 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4318",
			ServiceName:    "corpusd",
			ServiceVersion: "0.1.0",
			Insecure:       true,
			SampleRate:     1.0,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Embeddings.Provider {
	case "http":
		if c.Embeddings.BaseURL == "" {
			return fmt.Errorf("embeddings.base_url is required for the http provider")
		}
	case "static":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}

	if c.Index.VectorSize <= 0 {
		return fmt.Errorf("index.vector_size must be positive")
	}
	if c.Embeddings.Dimension != c.Index.VectorSize {
		return fmt.Errorf("embeddings.dimension (%d) must match index.vector_size (%d)",
			c.Embeddings.Dimension, c.Index.VectorSize)
	}

	if c.Ingest.WindowSize <= 0 {
		return fmt.Errorf("ingest.window_size must be positive")
	}
	if c.Ingest.Overlap < 0 || c.Ingest.Overlap >= c.Ingest.WindowSize {
		return fmt.Errorf("ingest.overlap must be in [0, window_size)")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be in [0, 1]")
		}
	}

	return nil
}
