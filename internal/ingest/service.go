// Package ingest implements the ingestion pipeline: validate, chunk, embed,
// index, with all-or-nothing semantics.
//
// From the caller's perspective an ingest either produces one complete,
// searchable content item with all of its chunks, or nothing at all: any
// chunk failure or cancellation rolls back the item and every partial chunk.
// A partially-embedded item would silently degrade recall with no visible
// error, which is worse than a failed ingest.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/corpusd/internal/access"
	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/store"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/corpusd/internal/ingest"

// Config configures the ingestion pipeline.
type Config struct {
	// EmbedConcurrency bounds in-flight embedding calls per ingest job.
	// Default: 4, respecting provider rate limits.
	EmbedConcurrency int

	// RollbackTimeout bounds cleanup after a failed or cancelled ingest.
	// Cleanup runs on a detached context since the caller's may be gone.
	// Default: 15s.
	RollbackTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		EmbedConcurrency: 4,
		RollbackTimeout:  15 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = defaults.EmbedConcurrency
	}
	if c.RollbackTimeout <= 0 {
		c.RollbackTimeout = defaults.RollbackTimeout
	}
}

// Request describes one item to ingest. RawContent must already be plain
// text; format extraction happens upstream.
type Request struct {
	ContentType    domain.ContentType
	Title          string
	OwnerCoachID   string
	OwnerClientID  string
	OrganizationID string
	Visibility     domain.Visibility
	Content        string
	SessionDate    *time.Time
	Metadata       map[string]string
}

// Service is the ingestion pipeline.
type Service interface {
	// Ingest validates, chunks, embeds, and indexes one content item.
	// On success exactly one item and all of its chunks exist; on failure,
	// nothing does.
	Ingest(ctx context.Context, identity *domain.Identity, req *Request) (*domain.ContentItem, error)
}

// service implements Service.
type service struct {
	config   *Config
	items    store.ContentStore
	index    vectorstore.Index
	provider embeddings.Provider
	chunks   *chunker.Chunker
	resolver *access.Resolver
	logger   *zap.Logger

	ingestCounter metric.Int64Counter
	chunkCounter  metric.Int64Counter
}

// NewService creates the ingestion pipeline.
func NewService(
	cfg *Config,
	items store.ContentStore,
	index vectorstore.Index,
	provider embeddings.Provider,
	ch *chunker.Chunker,
	resolver *access.Resolver,
	logger *zap.Logger,
) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()
	if items == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if index == nil {
		return nil, fmt.Errorf("chunk index is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if ch == nil {
		ch = chunker.New()
	}
	if resolver == nil {
		return nil, fmt.Errorf("access resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:   cfg,
		items:    items,
		index:    index,
		provider: provider,
		chunks:   ch,
		resolver: resolver,
		logger:   logger,
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	s.ingestCounter, err = meter.Int64Counter(
		"corpusd.ingest.items_total",
		metric.WithDescription("Total number of content items ingested"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		s.logger.Warn("failed to create ingest counter", zap.Error(err))
	}

	s.chunkCounter, err = meter.Int64Counter(
		"corpusd.ingest.chunks_total",
		metric.WithDescription("Total number of chunks embedded and indexed"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		s.logger.Warn("failed to create chunk counter", zap.Error(err))
	}
}

// Ingest runs the pipeline.
func (s *service) Ingest(ctx context.Context, identity *domain.Identity, req *Request) (*domain.ContentItem, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "ingest.Ingest")
	defer span.End()

	item := &domain.ContentItem{
		ID:             uuid.New().String(),
		ContentType:    req.ContentType,
		Title:          req.Title,
		OwnerCoachID:   req.OwnerCoachID,
		OwnerClientID:  req.OwnerClientID,
		OrganizationID: req.OrganizationID,
		Visibility:     req.Visibility,
		RawContent:     req.Content,
		SessionDate:    req.SessionDate,
		Metadata:       req.Metadata,
		Status:         domain.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if item.Visibility == "" {
		item.Visibility = domain.VisibilityPrivate
	}

	if err := item.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Writers may only create items under principals they can already read
	// from: a coach cannot file content under an unassigned client, a client
	// cannot file content under someone else.
	if err := s.authorizeWrite(ctx, identity, item); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	texts, err := s.chunks.Chunk(item.RawContent)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("item_id", item.ID),
		attribute.String("content_type", string(item.ContentType)),
		attribute.Int("chunk_count", len(texts)),
	)

	// The item is persisted pending first so a crash mid-ingest leaves an
	// identifiable tombstone, but it stays invisible to every read path
	// until marked complete.
	if err := s.items.PutItem(ctx, item); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("persisting item: %w", err)
	}

	chunks, err := s.embedChunks(ctx, item, texts)
	if err == nil {
		err = s.indexChunks(ctx, item, chunks)
	}
	if err != nil {
		s.rollback(item)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.items.UpdateStatus(ctx, item.ID, domain.StatusComplete); err != nil {
		s.rollback(item)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("completing item: %w", err)
	}
	item.Status = domain.StatusComplete

	if s.ingestCounter != nil {
		s.ingestCounter.Add(ctx, 1)
	}
	if s.chunkCounter != nil {
		s.chunkCounter.Add(ctx, int64(len(chunks)))
	}
	span.SetStatus(codes.Ok, "success")

	s.logger.Info("ingested content item",
		zap.String("item_id", item.ID),
		zap.String("content_type", string(item.ContentType)),
		zap.Int("chunks", len(chunks)),
	)
	return item, nil
}

// authorizeWrite requires every owner principal of the new item to be inside
// the caller's compiled scope.
func (s *service) authorizeWrite(ctx context.Context, identity *domain.Identity, item *domain.ContentItem) error {
	scope, err := s.resolver.CompileScope(ctx, identity)
	if err != nil {
		return fmt.Errorf("compiling scope: %w", err)
	}
	inScope := make(map[domain.OwnerRef]bool)
	for _, ref := range scope.Owners() {
		inScope[ref] = true
	}
	for _, ref := range item.OwnerRefs() {
		if !inScope[ref] {
			return fmt.Errorf("%w: cannot create content for %s %s", domain.ErrAuthorization, ref.Kind, ref.ID)
		}
	}
	return nil
}

// embedChunks embeds all chunk texts with bounded concurrency. Indices are
// assigned before dispatch, so completion order never affects chunk order.
func (s *service) embedChunks(ctx context.Context, item *domain.ContentItem, texts []string) ([]domain.Chunk, error) {
	chunks := make([]domain.Chunk, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.EmbedConcurrency)

	for i, text := range texts {
		g.Go(func() error {
			vectors, err := s.provider.EmbedDocuments(gctx, []string{text})
			if err != nil {
				return fmt.Errorf("embedding chunk %d: %w", i, err)
			}
			chunks[i] = domain.Chunk{
				ID:             uuid.New().String(),
				ItemID:         item.ID,
				Index:          i,
				Text:           text,
				Vector:         vectors[0],
				ContentType:    item.ContentType,
				Title:          item.Title,
				OwnerCoachID:   item.OwnerCoachID,
				OwnerClientID:  item.OwnerClientID,
				OrganizationID: item.OrganizationID,
				Visibility:     item.Visibility,
				SessionDate:    item.SessionDate,
			}
			return nil
		})
	}

	// Join barrier: the item is only complete once every chunk embedded.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// indexChunks writes the chunk batch into every owner collection.
func (s *service) indexChunks(ctx context.Context, item *domain.ContentItem, chunks []domain.Chunk) error {
	for _, owner := range item.OwnerRefs() {
		if err := s.index.AddChunks(ctx, owner, chunks); err != nil {
			return fmt.Errorf("indexing chunks for %s %s: %w", owner.Kind, owner.ID, err)
		}
	}
	return nil
}

// rollback removes the item and any partial chunks after a failed or
// cancelled ingest. It runs on a detached context: the caller's context is
// typically already cancelled, and leaving a partially-embedded item
// visible is the one outcome this pipeline must never produce.
func (s *service) rollback(item *domain.ContentItem) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RollbackTimeout)
	defer cancel()

	for _, owner := range item.OwnerRefs() {
		if err := s.index.DeleteItem(ctx, owner, item.ID); err != nil {
			s.logger.Error("rollback: failed to delete chunks",
				zap.String("item_id", item.ID),
				zap.String("owner", string(owner.Kind)+"/"+owner.ID),
				zap.Error(err),
			)
		}
	}
	if err := s.items.DeleteItem(ctx, item.ID); err != nil {
		s.logger.Error("rollback: failed to delete item",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
}
