package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
)

// defaultDimension matches OpenAI text-embedding-3-small and ada-002.
const defaultDimension = 1536

// HTTPProvider calls an OpenAI-compatible embeddings endpoint.
type HTTPProvider struct {
	config  ProviderConfig
	client  *http.Client
	limiter *rate.Limiter
}

// Ensure HTTPProvider implements Provider.
var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider for an OpenAI-compatible
// POST {base}/v1/embeddings endpoint.
func NewHTTPProvider(cfg ProviderConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = defaultDimension
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &HTTPProvider{
		config:  cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
	}, nil
}

// embeddingRequest is the OpenAI-compatible request body.
type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

// embeddingResponse is the OpenAI-compatible response body.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *HTTPProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(embeddingRequest{Input: texts, Model: p.config.Model})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrProvider, resp.StatusCode, string(respBody))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", domain.ErrProvider, err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrProvider, len(parsed.Data), len(texts))
	}

	// The API documents data ordering by index; do not assume response order.
	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", domain.ErrProvider, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) != p.config.Dimension {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				domain.ErrProvider, i, len(v), p.config.Dimension)
		}
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *HTTPProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimension returns the configured embedding dimension.
func (p *HTTPProvider) Dimension() int {
	return p.config.Dimension
}

// Close is a no-op for the HTTP provider.
func (p *HTTPProvider) Close() error {
	return nil
}
