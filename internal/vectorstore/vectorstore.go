// Package vectorstore provides the chunk index: vector storage and
// similarity lookup over chromem-go, an embeddable vector database with no
// external service dependency.
//
// Isolation model: one collection per owner principal (coach_{id},
// client_{id}, org_{id}). A chunk is written to the collection of every
// owner of its parent item, so the retrieval engine's owner pre-filter is a
// plain collection routing decision: chunks outside the caller's owner
// scope are never read, let alone ranked.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
)

var (
	// ErrInvalidConfig indicates invalid index configuration.
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrInvalidOwner indicates an owner ref that cannot be mapped to a
	// collection.
	ErrInvalidOwner = errors.New("invalid owner ref")

	// ErrDimensionMismatch indicates a vector whose dimension does not match
	// the index.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// ownerIDPattern restricts owner IDs used in collection names. UUIDs and
// slug-style identifiers pass; path separators and spaces do not.
var ownerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// CollectionName maps an owner principal to its chunk collection.
func CollectionName(owner domain.OwnerRef) (string, error) {
	if !ownerIDPattern.MatchString(owner.ID) {
		return "", fmt.Errorf("%w: bad owner id %q", ErrInvalidOwner, owner.ID)
	}
	switch owner.Kind {
	case domain.OwnerCoach, domain.OwnerClient, domain.OwnerOrg:
		return fmt.Sprintf("%s_%s", owner.Kind, owner.ID), nil
	default:
		return "", fmt.Errorf("%w: unknown owner kind %q", ErrInvalidOwner, owner.Kind)
	}
}

// Hit is one similarity match: a chunk with its cosine similarity to the
// query vector, in [-1, 1], higher is better.
type Hit struct {
	Chunk      domain.Chunk
	Similarity float32
}

// Index stores chunk vectors and answers similarity queries per owner
// collection.
//
// Chunks are immutable once written; the only mutation is cascading deletion
// by item.
type Index interface {
	// AddChunks writes chunks into one owner's collection. Vectors must be
	// precomputed and match the index dimension.
	AddChunks(ctx context.Context, owner domain.OwnerRef, chunks []domain.Chunk) error

	// Query returns up to k hits from one owner's collection, ordered by
	// similarity descending. k <= 0 returns every chunk in the collection.
	// A missing or empty collection yields zero hits, not an error: "no
	// visible content" is a valid outcome.
	Query(ctx context.Context, owner domain.OwnerRef, vector []float32, k int) ([]Hit, error)

	// DeleteItem removes every chunk of the given item from one owner's
	// collection. Deleting from a missing collection is a no-op.
	DeleteItem(ctx context.Context, owner domain.OwnerRef, itemID string) error

	// Dimension returns the vector dimension the index was built for.
	Dimension() int

	// Close releases the index.
	Close() error
}
