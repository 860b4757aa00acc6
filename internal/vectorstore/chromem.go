package vectorstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
)

// Metadata keys denormalized onto every stored chunk. The owner columns and
// visibility back the access predicate; the rest back filtering and result
// enrichment.
const (
	metaItemID      = "item_id"
	metaChunkIndex  = "chunk_index"
	metaContentType = "content_type"
	metaTitle       = "title"
	metaOwnerCoach  = "owner_coach_id"
	metaOwnerClient = "owner_client_id"
	metaOrg         = "organization_id"
	metaVisibility  = "visibility"
	metaSessionDate = "session_date"
)

// ChromemConfig holds configuration for the chromem-backed index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory
	// only (tests, ephemeral deployments).
	Path string

	// Compress enables gzip compression for persisted data.
	Compress bool

	// VectorSize is the embedding dimension; must match the provider.
	// Default: 1536.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex implements Index using chromem-go.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// Ensure ChromemIndex implements Index.
var _ Index = (*ChromemIndex)(nil)

// NewChromemIndex creates a chunk index backed by chromem-go.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var db *chromem.DB
	var err error
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory %s: %w", config.Path, err)
		}
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	logger.Info("chunk index initialized",
		zap.String("path", config.Path),
		zap.Int("vector_size", config.VectorSize),
	)

	return &ChromemIndex{db: db, config: config, logger: logger}, nil
}

// rejectEmbedding satisfies chromem's collection constructor. Vectors are
// always precomputed by the ingestion pipeline, so being asked to embed here
// is a programming error.
func rejectEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("chunk vectors must be precomputed")
}

// AddChunks writes chunks into one owner's collection.
func (x *ChromemIndex) AddChunks(ctx context.Context, owner domain.OwnerRef, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	name, err := CollectionName(owner)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		if len(chunk.Vector) != x.config.VectorSize {
			return fmt.Errorf("%w: chunk %s has dimension %d, index expects %d",
				ErrDimensionMismatch, chunk.ID, len(chunk.Vector), x.config.VectorSize)
		}
		docs[i] = chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Embedding: chunk.Vector,
			Metadata:  chunkMetadata(&chunks[i]),
		}
	}

	collection, err := x.db.GetOrCreateCollection(name, nil, rejectEmbedding)
	if err != nil {
		return fmt.Errorf("getting/creating collection %s: %w", name, err)
	}

	// Concurrency 1: embeddings are already computed, this is a plain write.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding chunks to %s: %w", name, err)
	}

	x.logger.Debug("added chunks",
		zap.String("collection", name),
		zap.Int("count", len(chunks)),
	)
	return nil
}

// Query returns up to k hits from one owner's collection.
func (x *ChromemIndex) Query(ctx context.Context, owner domain.OwnerRef, vector []float32, k int) ([]Hit, error) {
	if len(vector) != x.config.VectorSize {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			ErrDimensionMismatch, len(vector), x.config.VectorSize)
	}
	name, err := CollectionName(owner)
	if err != nil {
		return nil, err
	}

	collection := x.db.GetCollection(name, rejectEmbedding)
	if collection == nil {
		// Owner has no indexed content yet. Valid, common outcome.
		return nil, nil
	}

	// chromem requires nResults <= document count. k <= 0 asks for every
	// chunk in the collection.
	count := collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k <= 0 || k > count {
		k = count
	}

	results, err := collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			Chunk:      chunkFromResult(r),
			Similarity: r.Similarity,
		}
	}
	return hits, nil
}

// DeleteItem removes every chunk of the given item from one owner's
// collection.
func (x *ChromemIndex) DeleteItem(ctx context.Context, owner domain.OwnerRef, itemID string) error {
	name, err := CollectionName(owner)
	if err != nil {
		return err
	}

	collection := x.db.GetCollection(name, rejectEmbedding)
	if collection == nil {
		return nil
	}

	if err := collection.Delete(ctx, map[string]string{metaItemID: itemID}, nil); err != nil {
		return fmt.Errorf("deleting item %s from %s: %w", itemID, name, err)
	}

	x.logger.Debug("deleted item chunks",
		zap.String("collection", name),
		zap.String("item_id", itemID),
	)
	return nil
}

// Dimension returns the configured vector dimension.
func (x *ChromemIndex) Dimension() int {
	return x.config.VectorSize
}

// Close releases the index. chromem persists synchronously on write, so
// there is nothing to flush.
func (x *ChromemIndex) Close() error {
	return nil
}

// chunkMetadata denormalizes a chunk into chromem string metadata.
func chunkMetadata(chunk *domain.Chunk) map[string]string {
	meta := map[string]string{
		metaItemID:      chunk.ItemID,
		metaChunkIndex:  strconv.Itoa(chunk.Index),
		metaContentType: string(chunk.ContentType),
		metaTitle:       chunk.Title,
		metaVisibility:  string(chunk.Visibility),
	}
	if chunk.OwnerCoachID != "" {
		meta[metaOwnerCoach] = chunk.OwnerCoachID
	}
	if chunk.OwnerClientID != "" {
		meta[metaOwnerClient] = chunk.OwnerClientID
	}
	if chunk.OrganizationID != "" {
		meta[metaOrg] = chunk.OrganizationID
	}
	if chunk.SessionDate != nil {
		meta[metaSessionDate] = chunk.SessionDate.UTC().Format(time.RFC3339)
	}
	return meta
}

// chunkFromResult rebuilds a chunk from a chromem result.
func chunkFromResult(r chromem.Result) domain.Chunk {
	chunk := domain.Chunk{
		ID:             r.ID,
		Text:           r.Content,
		Vector:         r.Embedding,
		ItemID:         r.Metadata[metaItemID],
		ContentType:    domain.ContentType(r.Metadata[metaContentType]),
		Title:          r.Metadata[metaTitle],
		OwnerCoachID:   r.Metadata[metaOwnerCoach],
		OwnerClientID:  r.Metadata[metaOwnerClient],
		OrganizationID: r.Metadata[metaOrg],
		Visibility:     domain.Visibility(r.Metadata[metaVisibility]),
	}
	if idx, err := strconv.Atoi(r.Metadata[metaChunkIndex]); err == nil {
		chunk.Index = idx
	}
	if raw, ok := r.Metadata[metaSessionDate]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			chunk.SessionDate = &t
		}
	}
	return chunk
}
