package ingest

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/access"
	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/store"
	"github.com/fyrsmithlabs/corpusd/internal/store/memory"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

type fixture struct {
	items    *memory.ContentStore
	index    *vectorstore.ChromemIndex
	provider embeddings.Provider
	service  Service
}

// newFixture wires the pipeline against in-memory stores with a 3-dim static
// embedder. The directory holds org-1 with coach-1 assigned to client-1.
func newFixture(t *testing.T, provider embeddings.Provider) *fixture {
	t.Helper()
	ctx := context.Background()

	dir := memory.NewDirectoryStore()
	require.NoError(t, dir.PutCoach(ctx, &domain.Coach{ID: "coach-1", OrganizationID: "org-1"}))
	require.NoError(t, dir.PutCoach(ctx, &domain.Coach{ID: "coach-2", OrganizationID: "org-1"}))
	require.NoError(t, dir.PutClient(ctx, &domain.Client{ID: "client-1", CompanyID: "org-1"}))
	require.NoError(t, dir.AddAssignment(ctx, "coach-1", "client-1"))

	items := memory.NewContentStore()
	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{VectorSize: 3}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	if provider == nil {
		provider = embeddings.NewStaticProvider(3)
	}

	svc, err := NewService(
		nil,
		items,
		index,
		provider,
		chunker.New(chunker.WithWindowSize(20), chunker.WithOverlap(5)),
		access.NewResolver(dir),
		zap.NewNop(),
	)
	require.NoError(t, err)

	return &fixture{items: items, index: index, provider: provider, service: svc}
}

func coachIdentity() *domain.Identity {
	return &domain.Identity{Role: domain.RoleCoach, ID: "coach-1", OrganizationID: "org-1"}
}

// longContent is comfortably past the minimum length and spans several
// 20-word chunk windows.
func longContent() string {
	return strings.Repeat("the session covered goal setting and accountability structures for the quarter ahead ", 8)
}

func TestIngestSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item, err := f.service.Ingest(ctx, coachIdentity(), &Request{
		ContentType:    domain.TypeTranscript,
		Title:          "Q3 kickoff session",
		OwnerCoachID:   "coach-1",
		OwnerClientID:  "client-1",
		OrganizationID: "org-1",
		Visibility:     domain.VisibilityPrivate,
		Content:        longContent(),
	})
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, domain.StatusComplete, item.Status)
	assert.NotEmpty(t, item.ID)

	stored, err := f.items.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, stored.Status)

	// Chunks must land in both owners' collections (co-owned dual-write).
	query, err := f.provider.EmbedQuery(ctx, "goal setting")
	require.NoError(t, err)
	for _, owner := range []domain.OwnerRef{
		{Kind: domain.OwnerCoach, ID: "coach-1"},
		{Kind: domain.OwnerClient, ID: "client-1"},
	} {
		hits, err := f.index.Query(ctx, owner, query, 50)
		require.NoError(t, err)
		require.NotEmpty(t, hits, "no chunks in %s collection", owner.Kind)
		for _, h := range hits {
			assert.Equal(t, item.ID, h.Chunk.ItemID)
		}
	}
}

func TestIngestChunkIndicesContiguous(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item, err := f.service.Ingest(ctx, coachIdentity(), &Request{
		ContentType:  domain.TypeTranscript,
		Title:        "Long session",
		OwnerCoachID: "coach-1",
		Content:      longContent(),
	})
	require.NoError(t, err)

	query, err := f.provider.EmbedQuery(ctx, "anything")
	require.NoError(t, err)
	hits, err := f.index.Query(ctx, domain.OwnerRef{Kind: domain.OwnerCoach, ID: "coach-1"}, query, 50)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	seen := make(map[int]bool)
	maxIdx := -1
	for _, h := range hits {
		assert.False(t, seen[h.Chunk.Index], "duplicate chunk index %d", h.Chunk.Index)
		seen[h.Chunk.Index] = true
		if h.Chunk.Index > maxIdx {
			maxIdx = h.Chunk.Index
		}
		assert.Equal(t, item.ID, h.Chunk.ItemID)
	}
	// Indices form 0..N-1 with no gaps.
	assert.Len(t, seen, maxIdx+1)
	assert.True(t, seen[0], "missing chunk index 0")
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *Request
	}{
		{
			name: "unknown content type",
			req: &Request{
				ContentType:  "diary",
				OwnerCoachID: "coach-1",
				Content:      longContent(),
			},
		},
		{
			name: "content too short",
			req: &Request{
				ContentType:  domain.TypeTranscript,
				OwnerCoachID: "coach-1",
				Content:      "too short",
			},
		},
		{
			name: "no owner principal",
			req: &Request{
				ContentType: domain.TypeTranscript,
				Content:     longContent(),
			},
		},
		{
			name: "unknown visibility",
			req: &Request{
				ContentType:  domain.TypeTranscript,
				OwnerCoachID: "coach-1",
				Visibility:   "secret",
				Content:      longContent(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Ingest(ctx, coachIdentity(), tt.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestIngestDefaultsToPrivate(t *testing.T) {
	f := newFixture(t, nil)

	item, err := f.service.Ingest(context.Background(), coachIdentity(), &Request{
		ContentType:  domain.TypeTranscript,
		Title:        "Notes",
		OwnerCoachID: "coach-1",
		Content:      longContent(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityPrivate, item.Visibility)
}

func TestIngestAuthorization(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		identity *domain.Identity
		req      *Request
		wantErr  error
	}{
		{
			name:     "coach cannot file under unassigned client",
			identity: &domain.Identity{Role: domain.RoleCoach, ID: "coach-2", OrganizationID: "org-1"},
			req: &Request{
				ContentType:   domain.TypeTranscript,
				OwnerClientID: "client-1",
				Content:       longContent(),
			},
			wantErr: domain.ErrAuthorization,
		},
		{
			name:     "coach cannot file under another coach",
			identity: coachIdentity(),
			req: &Request{
				ContentType:  domain.TypeTranscript,
				OwnerCoachID: "coach-2",
				Content:      longContent(),
			},
			wantErr: domain.ErrAuthorization,
		},
		{
			name:     "client can file under self",
			identity: &domain.Identity{Role: domain.RoleClient, ID: "client-1", OrganizationID: "org-1"},
			req: &Request{
				ContentType:   domain.TypeQuestionnaire,
				OwnerClientID: "client-1",
				Content:       longContent(),
			},
		},
		{
			name:     "assigned coach can file under client",
			identity: coachIdentity(),
			req: &Request{
				ContentType:   domain.TypeTranscript,
				OwnerCoachID:  "coach-1",
				OwnerClientID: "client-1",
				Content:       longContent(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Ingest(ctx, tt.identity, tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// failingProvider fails every embedding call after the first n successes.
// The counter is atomic: the pipeline embeds chunks from concurrent workers.
type failingProvider struct {
	inner     embeddings.Provider
	succeed   int64
	attempted atomic.Int64
}

func (p *failingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if p.attempted.Add(1) > p.succeed {
		return nil, errors.New("embedding backend unavailable")
	}
	return p.inner.EmbedDocuments(ctx, texts)
}

func (p *failingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.inner.EmbedQuery(ctx, text)
}

func (p *failingProvider) Dimension() int { return p.inner.Dimension() }
func (p *failingProvider) Close() error   { return p.inner.Close() }

func TestIngestAtomicRollback(t *testing.T) {
	// A provider that embeds some chunks then fails must leave no trace:
	// no item, no chunks in any owner collection.
	provider := &failingProvider{inner: embeddings.NewStaticProvider(3), succeed: 1}
	f := newFixture(t, provider)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, coachIdentity(), &Request{
		ContentType:   domain.TypeTranscript,
		Title:         "Doomed session",
		OwnerCoachID:  "coach-1",
		OwnerClientID: "client-1",
		Content:       longContent(),
	})
	require.Error(t, err)

	// No item survives at any status.
	listed, err := f.items.ListItems(ctx, store.ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, listed)

	// No chunks survive in either owner collection.
	query := make([]float32, 3)
	query[0] = 1
	for _, owner := range []domain.OwnerRef{
		{Kind: domain.OwnerCoach, ID: "coach-1"},
		{Kind: domain.OwnerClient, ID: "client-1"},
	} {
		hits, err := f.index.Query(ctx, owner, query, 50)
		require.NoError(t, err)
		assert.Empty(t, hits, "orphaned chunks in %s collection", owner.Kind)
	}
}

// cancellingProvider cancels the caller's context on its first embedding
// call, simulating a client that disconnects mid-ingest.
type cancellingProvider struct {
	inner  embeddings.Provider
	cancel context.CancelFunc
	calls  atomic.Int64
}

func (p *cancellingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if p.calls.Add(1) == 1 {
		p.cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.inner.EmbedDocuments(ctx, texts)
}

func (p *cancellingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.inner.EmbedQuery(ctx, text)
}

func (p *cancellingProvider) Dimension() int { return p.inner.Dimension() }
func (p *cancellingProvider) Close() error   { return p.inner.Close() }

func TestIngestCancellationRollsBack(t *testing.T) {
	// A caller that goes away mid-embedding must leave no trace either.
	// Rollback runs on a detached context because the caller's is already
	// dead by the time cleanup starts.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := &cancellingProvider{inner: embeddings.NewStaticProvider(3), cancel: cancel}
	f := newFixture(t, provider)

	_, err := f.service.Ingest(ctx, coachIdentity(), &Request{
		ContentType:   domain.TypeTranscript,
		Title:         "Abandoned session",
		OwnerCoachID:  "coach-1",
		OwnerClientID: "client-1",
		Content:       longContent(),
	})
	require.ErrorIs(t, err, context.Canceled)

	listed, err := f.items.ListItems(context.Background(), store.ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, listed)

	query := []float32{1, 0, 0}
	for _, owner := range []domain.OwnerRef{
		{Kind: domain.OwnerCoach, ID: "coach-1"},
		{Kind: domain.OwnerClient, ID: "client-1"},
	} {
		hits, err := f.index.Query(context.Background(), owner, query, 50)
		require.NoError(t, err)
		assert.Empty(t, hits, "orphaned chunks in %s collection", owner.Kind)
	}
}
