// Package store defines the repository interfaces for durable state: content
// items, credentials, and the tenant directory.
//
// Implementations are dependency-injected into services; internal/store/memory
// provides fakes for tests and single-process development, internal/store/sqlite
// the durable implementation. Chunk vectors live in internal/vectorstore, not
// here.
package store

import (
	"context"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
)

// ItemFilter narrows ListItems. Zero values mean "no constraint".
type ItemFilter struct {
	// Owners restricts to items belonging to any of these principals.
	Owners []domain.OwnerRef

	// ContentTypes restricts to these content types.
	ContentTypes []domain.ContentType

	// Status restricts to items in this lifecycle state.
	Status domain.ItemStatus

	// Limit caps the number of returned items; 0 means no cap.
	Limit int
}

// ContentStore persists content items.
type ContentStore interface {
	// PutItem inserts or replaces an item.
	PutItem(ctx context.Context, item *domain.ContentItem) error

	// GetItem returns the item or domain.ErrNotFound.
	GetItem(ctx context.Context, id string) (*domain.ContentItem, error)

	// GetItems returns the subset of the given items that exist, keyed by ID.
	// Missing IDs are omitted, not an error.
	GetItems(ctx context.Context, ids []string) (map[string]*domain.ContentItem, error)

	// UpdateStatus transitions an item's lifecycle state.
	UpdateStatus(ctx context.Context, id string, status domain.ItemStatus) error

	// DeleteItem removes an item. Deleting a missing item is not an error.
	DeleteItem(ctx context.Context, id string) error

	// ListItems returns items matching the filter, ordered by session date
	// descending (items without a session date sort last), then created-at
	// descending.
	ListItems(ctx context.Context, filter ItemFilter) ([]*domain.ContentItem, error)
}

// CredentialStore persists credentials.
type CredentialStore interface {
	// PutCredential inserts or replaces a credential.
	PutCredential(ctx context.Context, cred *domain.Credential) error

	// GetCredential returns the credential or domain.ErrNotFound.
	GetCredential(ctx context.Context, id string) (*domain.Credential, error)

	// GetByPrefix returns all credentials sharing the given token prefix.
	// The prefix narrows candidates before the slow hash comparison; an empty
	// result is not an error.
	GetByPrefix(ctx context.Context, prefix string) ([]*domain.Credential, error)

	// Revoke marks a credential revoked. Returns domain.ErrNotFound if the
	// credential does not exist.
	Revoke(ctx context.Context, id string) error
}

// DirectoryStore persists the tenant graph: coaches, clients, admins, and
// coach-client assignments.
type DirectoryStore interface {
	PutCoach(ctx context.Context, coach *domain.Coach) error
	GetCoach(ctx context.Context, id string) (*domain.Coach, error)
	ListCoachesByOrg(ctx context.Context, orgID string) ([]*domain.Coach, error)

	PutClient(ctx context.Context, client *domain.Client) error
	GetClient(ctx context.Context, id string) (*domain.Client, error)
	ListClientsByCompany(ctx context.Context, companyID string) ([]*domain.Client, error)

	PutAdmin(ctx context.Context, admin *domain.Admin) error
	GetAdmin(ctx context.Context, id string) (*domain.Admin, error)

	// AddAssignment grants a coach access to a client's data. Idempotent.
	AddAssignment(ctx context.Context, coachID, clientID string) error

	// RemoveAssignment revokes a coach's access to a client's data.
	// Removing a missing assignment is not an error.
	RemoveAssignment(ctx context.Context, coachID, clientID string) error

	// ListAssignedClients returns the client IDs assigned to a coach.
	ListAssignedClients(ctx context.Context, coachID string) ([]string, error)
}
