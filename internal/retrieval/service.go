// Package retrieval implements the authorized semantic search engine and the
// single-item read paths layered on the same access predicate.
//
// Authorization is a pre-filter, not a post-filter: the caller's compiled
// scope decides which owner collections are queried at all, so cross-tenant
// chunks never enter the ranking computation. The visibility constraint of
// each scope entry is then applied to every candidate with the same predicate
// the get-by-id path uses.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/access"
	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/store"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/corpusd/internal/retrieval"

const (
	// DefaultThreshold is the default minimum cosine similarity. It is an
	// operational tuning value for one embedding model, not a protocol
	// constant, so every search may override it.
	DefaultThreshold = 0.3

	// DefaultLimit is the default result count.
	DefaultLimit = 10

	// MaxLimit is the server-side cap applied regardless of the requested
	// limit.
	MaxLimit = 50
)

// Filters optionally restrict a search inside the caller's visible scope.
// They can only narrow results; they never widen authorization.
type Filters struct {
	ContentTypes   []domain.ContentType
	OwnerCoachID   string
	OwnerClientID  string
	OrganizationID string
}

// SearchRequest is one search call.
type SearchRequest struct {
	// Vector is the query embedding; its dimension must match the index.
	Vector []float32

	// Filters narrow the candidate set.
	Filters Filters

	// Threshold is the inclusive minimum similarity. Nil uses
	// DefaultThreshold.
	Threshold *float64

	// Limit caps results; 0 uses DefaultLimit, values above MaxLimit are
	// clamped.
	Limit int
}

// TimelineRequest lists visible items in reverse session-date order.
type TimelineRequest struct {
	Filters Filters
	Limit   int
}

// Service is the retrieval engine.
type Service interface {
	// Search returns authorized chunks ranked by cosine similarity.
	// An empty visible scope yields an empty result, not an error.
	Search(ctx context.Context, identity *domain.Identity, req *SearchRequest) ([]domain.RankedChunk, error)

	// Get returns one item by ID. Items outside the caller's scope are
	// reported as domain.ErrNotFound, indistinguishable from absence.
	Get(ctx context.Context, identity *domain.Identity, itemID string) (*domain.ContentItem, error)

	// Delete removes an item and all of its chunks. Only an owner principal
	// of the item or an admin may delete it.
	Delete(ctx context.Context, identity *domain.Identity, itemID string) error

	// Timeline lists visible items ordered by session date descending.
	Timeline(ctx context.Context, identity *domain.Identity, req *TimelineRequest) ([]*domain.ContentItem, error)
}

// service implements Service.
type service struct {
	items    store.ContentStore
	index    vectorstore.Index
	resolver *access.Resolver
	logger   *zap.Logger

	searchCounter metric.Int64Counter
}

// NewService creates the retrieval engine.
func NewService(
	items store.ContentStore,
	index vectorstore.Index,
	resolver *access.Resolver,
	logger *zap.Logger,
) (Service, error) {
	if items == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if index == nil {
		return nil, fmt.Errorf("chunk index is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("access resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		items:    items,
		index:    index,
		resolver: resolver,
		logger:   logger,
	}

	meter := otel.Meter(instrumentationName)
	var err error
	s.searchCounter, err = meter.Int64Counter(
		"corpusd.retrieval.searches_total",
		metric.WithDescription("Total number of search calls"),
		metric.WithUnit("{search}"),
	)
	if err != nil {
		logger.Warn("failed to create search counter", zap.Error(err))
	}

	return s, nil
}

// Search implements the ranked, authorized similarity search.
func (s *service) Search(ctx context.Context, identity *domain.Identity, req *SearchRequest) ([]domain.RankedChunk, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "retrieval.Search")
	defer span.End()

	if s.searchCounter != nil {
		s.searchCounter.Add(ctx, 1)
	}

	if len(req.Vector) != s.index.Dimension() {
		err := fmt.Errorf("%w: query vector has dimension %d, index expects %d",
			domain.ErrInvalidQuery, len(req.Vector), s.index.Dimension())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	threshold := DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold < -1 || threshold > 1 {
		err := fmt.Errorf("%w: threshold %v outside [-1, 1]", domain.ErrInvalidQuery, threshold)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	scope, err := s.resolver.CompileScope(ctx, identity)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("compiling scope: %w", err)
	}

	span.SetAttributes(
		attribute.String("role", string(identity.Role)),
		attribute.Int("scope_owners", len(scope.Owners())),
		attribute.Float64("threshold", threshold),
		attribute.Int("limit", limit),
	)

	// Gather candidates per authorized owner collection. Every chunk in the
	// collection is considered, so threshold and filters are exact rather
	// than approximations over a top-k prefix. Chunks co-owned by two
	// principals in scope surface twice; dedup by chunk ID.
	seen := make(map[string]bool)
	var candidates []domain.RankedChunk
	for _, owner := range scope.Owners() {
		hits, err := s.index.Query(ctx, owner, req.Vector, 0)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("querying %s %s: %w", owner.Kind, owner.ID, err)
		}
		for _, hit := range hits {
			if seen[hit.Chunk.ID] {
				continue
			}
			if !scope.AllowsChunk(&hit.Chunk) {
				continue
			}
			if !matchesFilters(&hit.Chunk, &req.Filters) {
				continue
			}
			// Inclusive lower bound: a chunk exactly at the threshold is in.
			if float64(hit.Similarity) < threshold {
				continue
			}
			seen[hit.Chunk.ID] = true
			candidates = append(candidates, domain.RankedChunk{Chunk: hit.Chunk, Similarity: hit.Similarity})
		}
	}

	sortRanked(candidates)

	// Join parent items before applying the limit: a candidate whose parent
	// is pending or gone drops out here, and the next-ranked chunk takes its
	// place instead of the result coming up short.
	results, err := s.enrich(ctx, candidates)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// matchesFilters applies the caller-supplied narrowing filters.
func matchesFilters(chunk *domain.Chunk, f *Filters) bool {
	if len(f.ContentTypes) > 0 {
		found := false
		for _, t := range f.ContentTypes {
			if chunk.ContentType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.OwnerCoachID != "" && chunk.OwnerCoachID != f.OwnerCoachID {
		return false
	}
	if f.OwnerClientID != "" && chunk.OwnerClientID != f.OwnerClientID {
		return false
	}
	if f.OrganizationID != "" && chunk.OrganizationID != f.OrganizationID {
		return false
	}
	return true
}

// sortRanked orders by similarity descending, then session date descending
// (undated last), then item ID ascending, then chunk index ascending for
// full determinism.
func sortRanked(chunks []domain.RankedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := &chunks[i], &chunks[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		switch {
		case a.SessionDate != nil && b.SessionDate != nil && !a.SessionDate.Equal(*b.SessionDate):
			return a.SessionDate.After(*b.SessionDate)
		case a.SessionDate != nil && b.SessionDate == nil:
			return true
		case a.SessionDate == nil && b.SessionDate != nil:
			return false
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		return a.Index < b.Index
	})
}

// enrich joins each surviving chunk with its parent item's presentation
// fields. This is a read-only join: authorization already happened at the
// scope pre-filter and is not re-run. Chunks whose parent is missing or not
// yet complete are dropped, which hides in-flight ingests from search.
func (s *service) enrich(ctx context.Context, chunks []domain.RankedChunk) ([]domain.RankedChunk, error) {
	if len(chunks) == 0 {
		return []domain.RankedChunk{}, nil
	}

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ItemID)
	}
	items, err := s.items.GetItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading parent items: %w", err)
	}

	out := make([]domain.RankedChunk, 0, len(chunks))
	for _, c := range chunks {
		item, ok := items[c.ItemID]
		if !ok || item.Status != domain.StatusComplete {
			continue
		}
		c.Title = item.Title
		c.SessionDate = item.SessionDate
		out = append(out, c)
	}
	return out, nil
}

// Get returns one item by ID, masking unauthorized items as not found.
func (s *service) Get(ctx context.Context, identity *domain.Identity, itemID string) (*domain.ContentItem, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	// Pending items are invisible: ingestion is all-or-nothing from the
	// caller's perspective.
	if item.Status != domain.StatusComplete {
		return nil, domain.ErrNotFound
	}

	allowed, err := s.resolver.CanRead(ctx, identity, item)
	if err != nil {
		return nil, fmt.Errorf("evaluating access: %w", err)
	}
	if !allowed {
		// "Exists but hidden" must be indistinguishable from "does not
		// exist"; anything else leaks existence across tenants.
		return nil, domain.ErrNotFound
	}
	return item, nil
}

// Delete removes an item and cascades to its chunks in every owner
// collection.
func (s *service) Delete(ctx context.Context, identity *domain.Identity, itemID string) error {
	item, err := s.Get(ctx, identity, itemID)
	if err != nil {
		return err
	}

	if !canDelete(identity, item) {
		// The caller can see the item, so hiding it again would be
		// pointless; this is a plain authorization failure.
		return fmt.Errorf("%w: only an owner or admin may delete content", domain.ErrAuthorization)
	}

	for _, owner := range item.OwnerRefs() {
		if err := s.index.DeleteItem(ctx, owner, item.ID); err != nil {
			return fmt.Errorf("deleting chunks for %s %s: %w", owner.Kind, owner.ID, err)
		}
	}
	if err := s.items.DeleteItem(ctx, item.ID); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}

	s.logger.Info("deleted content item",
		zap.String("item_id", item.ID),
		zap.String("deleted_by", string(identity.Role)+"/"+identity.ID),
	)
	return nil
}

// canDelete restricts deletion to admins and the item's owner principals.
func canDelete(identity *domain.Identity, item *domain.ContentItem) bool {
	switch identity.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleCoach:
		return item.OwnerCoachID == identity.ID
	case domain.RoleClient:
		return item.OwnerClientID == identity.ID
	default:
		return false
	}
}

// Timeline lists visible, complete items in reverse session-date order.
func (s *service) Timeline(ctx context.Context, identity *domain.Identity, req *TimelineRequest) ([]*domain.ContentItem, error) {
	scope, err := s.resolver.CompileScope(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("compiling scope: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	items, err := s.items.ListItems(ctx, store.ItemFilter{
		Owners:       scope.Owners(),
		ContentTypes: req.Filters.ContentTypes,
		Status:       domain.StatusComplete,
	})
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}

	out := make([]*domain.ContentItem, 0, limit)
	for _, item := range items {
		if !scope.AllowsItem(item) {
			continue
		}
		if !timelineItemMatches(item, &req.Filters) {
			continue
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// timelineItemMatches applies the owner/org narrowing filters to an item.
func timelineItemMatches(item *domain.ContentItem, f *Filters) bool {
	if f.OwnerCoachID != "" && item.OwnerCoachID != f.OwnerCoachID {
		return false
	}
	if f.OwnerClientID != "" && item.OwnerClientID != f.OwnerClientID {
		return false
	}
	if f.OrganizationID != "" && item.OrganizationID != f.OrganizationID {
		return false
	}
	return true
}
