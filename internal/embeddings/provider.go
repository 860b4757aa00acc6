// Package embeddings turns text into fixed-dimension vectors.
//
// The provider is a black box to the rest of the system: the ingestion
// pipeline and retrieval engine only depend on the Provider interface.
// Failures are retried with the package's retry policy and reported as
// domain.ErrProvider after exhaustion; they are never designed around.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty or nil input texts. Not retryable.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")
)

// Provider is the interface for embedding providers.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts, one vector per
	// text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "http" or "static".
	Provider string
	// BaseURL is the embedding endpoint base URL (http provider).
	BaseURL string
	// Model is the embedding model name.
	Model string
	// APIKey authenticates against the endpoint, if it requires one.
	APIKey string
	// Dimension is the embedding dimension. Default: 1536.
	Dimension int
	// RequestsPerSecond rate-limits outbound embedding calls; 0 disables.
	RequestsPerSecond float64
}

// NewProvider creates an embedding provider based on the configuration.
//
// The "static" provider embeds locally and deterministically with no network
// dependency; it exists for tests and offline development.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "http", "":
		return NewHTTPProvider(cfg)
	case "static":
		return NewStaticProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
