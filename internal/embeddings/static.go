package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
)

// StaticProvider embeds locally and deterministically: the vector for a text
// is derived from a hash of the text, unit-normalized. Identical texts always
// embed identically, different texts are near-orthogonal in high dimensions.
//
// It exists for tests and offline development; it carries no semantic
// meaning beyond exact-text identity.
type StaticProvider struct {
	dimension int

	mu    sync.RWMutex
	pinned map[string][]float32
}

// Ensure StaticProvider implements Provider.
var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a deterministic local provider.
func NewStaticProvider(dimension int) *StaticProvider {
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &StaticProvider{
		dimension: dimension,
		pinned:    make(map[string][]float32),
	}
}

// Pin fixes the vector returned for an exact text, for tests that need
// controlled similarities. The vector must match the provider dimension.
func (p *StaticProvider) Pin(text string, vector []float32) error {
	if len(vector) != p.dimension {
		return fmt.Errorf("%w: pinned vector has dimension %d, want %d", ErrInvalidConfig, len(vector), p.dimension)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned[text] = vector
	return nil
}

func (p *StaticProvider) embed(text string) []float32 {
	p.mu.RLock()
	pinned, ok := p.pinned[text]
	p.mu.RUnlock()
	if ok {
		return pinned
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, p.dimension)
	var norm float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *StaticProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embed(text)
	}
	return out, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *StaticProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	return p.embed(text), nil
}

// Dimension returns the embedding dimension.
func (p *StaticProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *StaticProvider) Close() error {
	return nil
}
