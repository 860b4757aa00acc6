package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
)

// RetryPolicy is the single retry/backoff policy for embedding calls.
// The ingestion pipeline wraps its provider with WithRetry instead of
// scattering per-call retry loops.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 4.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry; it doubles per
	// attempt. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling. Default: 8s.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
	}
}

func (p *RetryPolicy) applyDefaults() {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaults.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaults.MaxBackoff
	}
}

// isTransient reports whether an error is worth retrying. Cancellation and
// caller mistakes are not; provider/network failures are.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrInvalidConfig):
		return false
	default:
		return true
	}
}

// retryingProvider decorates a Provider with retry/backoff.
type retryingProvider struct {
	inner  Provider
	policy RetryPolicy
	logger *zap.Logger
}

// Ensure retryingProvider implements Provider.
var _ Provider = (*retryingProvider)(nil)

// WithRetry wraps a provider so every embedding call is retried per the
// policy, surfacing domain.ErrProvider only after exhaustion.
func WithRetry(inner Provider, policy RetryPolicy, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy.applyDefaults()
	return &retryingProvider{inner: inner, policy: policy, logger: logger}
}

func (r *retryingProvider) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	backoff := r.policy.InitialBackoff

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Info("embedding call recovered after retries",
					zap.String("op", op),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		lastErr = err
		if !isTransient(err) {
			return err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		r.logger.Debug("retrying embedding call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("embedding call canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
			if backoff > r.policy.MaxBackoff {
				backoff = r.policy.MaxBackoff
			}
		}
	}

	if errors.Is(lastErr, domain.ErrProvider) {
		return lastErr
	}
	return fmt.Errorf("%w: %v", domain.ErrProvider, lastErr)
}

func (r *retryingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.do(ctx, "embed_documents", func() error {
		var innerErr error
		out, innerErr = r.inner.EmbedDocuments(ctx, texts)
		return innerErr
	})
	return out, err
}

func (r *retryingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.do(ctx, "embed_query", func() error {
		var innerErr error
		out, innerErr = r.inner.EmbedQuery(ctx, text)
		return innerErr
	})
	return out, err
}

func (r *retryingProvider) Dimension() int {
	return r.inner.Dimension()
}

func (r *retryingProvider) Close() error {
	return r.inner.Close()
}
