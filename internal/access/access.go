// Package access implements the tenant visibility rules: which content items
// an identity may read.
//
// The rules are expressed once, as a relation-to-visibility table compiled
// into a Scope. Both read paths consume the same compilation: retrieval uses
// the Scope's owner set as a search pre-filter (cross-tenant chunks never
// enter ranking) and its visibility constraints on every candidate, while
// single-item reads test the item against the identical Scope. Keeping one
// rule source prevents the get-by-id and search paths from silently
// diverging.
package access

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

// Relation classifies how an identity stands to a content owner.
type Relation int

const (
	// RelationNone grants nothing.
	RelationNone Relation = iota
	// RelationSelfCoach is a coach reading items they own.
	RelationSelfCoach
	// RelationAssignedCoach is a coach reading an assigned client's items.
	RelationAssignedCoach
	// RelationSelfClient is a client reading their own items.
	RelationSelfClient
	// RelationOrgMember is an identity reading its organization's documents.
	RelationOrgMember
	// RelationAdmin is an admin reading anything inside their organization.
	RelationAdmin
)

// relationVisibility is the single source of truth for the visibility rules.
// A relation not present here (RelationNone) sees nothing.
var relationVisibility = map[Relation][]domain.Visibility{
	RelationSelfCoach: {
		domain.VisibilityPrivate, domain.VisibilityCoachOnly,
		domain.VisibilityOrg, domain.VisibilityPublic,
	},
	RelationAssignedCoach: {
		domain.VisibilityCoachOnly, domain.VisibilityOrg, domain.VisibilityPublic,
	},
	// Clients never see coach_only items about themselves (coach assessments).
	RelationSelfClient: {
		domain.VisibilityPrivate, domain.VisibilityOrg, domain.VisibilityPublic,
	},
	RelationOrgMember: {
		domain.VisibilityOrg, domain.VisibilityPublic,
	},
	RelationAdmin: {
		domain.VisibilityPrivate, domain.VisibilityCoachOnly,
		domain.VisibilityOrg, domain.VisibilityPublic,
	},
}

// AllowedVisibilities returns the visibility levels a relation may read.
func AllowedVisibilities(rel Relation) []domain.Visibility {
	return relationVisibility[rel]
}

// ScopeEntry pairs an owner principal with the visibility levels the caller
// may read from that owner.
type ScopeEntry struct {
	Owner   domain.OwnerRef
	Allowed []domain.Visibility
}

// allows reports whether the entry admits the given visibility.
func (e *ScopeEntry) allows(v domain.Visibility) bool {
	for _, a := range e.Allowed {
		if a == v {
			return true
		}
	}
	return false
}

// Scope is the compiled visibility scope of one identity: every owner
// principal it may read from, with the per-owner visibility constraint.
//
// An empty scope is valid and means "no visible content", which search
// treats as an empty result, not an error.
type Scope struct {
	entries map[domain.OwnerRef]*ScopeEntry
}

// Entries returns the scope entries in unspecified order.
func (s *Scope) Entries() []*ScopeEntry {
	out := make([]*ScopeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Owners returns the owner principals in scope, for use as a pre-filter.
func (s *Scope) Owners() []domain.OwnerRef {
	out := make([]domain.OwnerRef, 0, len(s.entries))
	for ref := range s.entries {
		out = append(out, ref)
	}
	return out
}

// Allows is the visibility predicate, evaluated disjunctively over the
// content's owner columns: the content is readable if any of its owner
// principals is in scope with the content's visibility admitted for that
// owner. The organization column only counts for org-level documents with no
// individual owner.
//
// This one function backs both single-item authorization and the per-chunk
// check during search.
func (s *Scope) Allows(ownerCoachID, ownerClientID, orgID string, v domain.Visibility) bool {
	if ownerCoachID != "" {
		if e, ok := s.entries[domain.OwnerRef{Kind: domain.OwnerCoach, ID: ownerCoachID}]; ok && e.allows(v) {
			return true
		}
	}
	if ownerClientID != "" {
		if e, ok := s.entries[domain.OwnerRef{Kind: domain.OwnerClient, ID: ownerClientID}]; ok && e.allows(v) {
			return true
		}
	}
	if ownerCoachID == "" && ownerClientID == "" && orgID != "" {
		if e, ok := s.entries[domain.OwnerRef{Kind: domain.OwnerOrg, ID: orgID}]; ok && e.allows(v) {
			return true
		}
	}
	return false
}

// AllowsItem applies the predicate to a content item.
func (s *Scope) AllowsItem(item *domain.ContentItem) bool {
	return s.Allows(item.OwnerCoachID, item.OwnerClientID, item.OrganizationID, item.Visibility)
}

// AllowsChunk applies the predicate to a chunk's denormalized owner fields.
func (s *Scope) AllowsChunk(chunk *domain.Chunk) bool {
	return s.Allows(chunk.OwnerCoachID, chunk.OwnerClientID, chunk.OrganizationID, chunk.Visibility)
}

// add merges an entry into the scope, unioning visibilities on collision.
func (s *Scope) add(owner domain.OwnerRef, rel Relation) {
	allowed := relationVisibility[rel]
	if len(allowed) == 0 {
		return
	}
	entry, ok := s.entries[owner]
	if !ok {
		// Copy so a later union cannot mutate the shared rules table.
		entry = &ScopeEntry{Owner: owner, Allowed: append([]domain.Visibility(nil), allowed...)}
		s.entries[owner] = entry
		return
	}
	for _, v := range allowed {
		if !entry.allows(v) {
			entry.Allowed = append(entry.Allowed, v)
		}
	}
}

// Resolver compiles visibility scopes from the tenant directory.
type Resolver struct {
	directory store.DirectoryStore
}

// NewResolver creates a Resolver over the given directory.
func NewResolver(directory store.DirectoryStore) *Resolver {
	return &Resolver{directory: directory}
}

// CompileScope enumerates the owner principals visible to the identity.
//
// Rules, in priority order:
//  1. Admins read everything inside their organization: every coach and
//     client of the org, plus org-level documents.
//  2. Coaches read items they own at any visibility, and assigned clients'
//     items at coach_only/org_visible/public.
//  3. Clients read their own items at private/org_visible/public.
//  4. Any identity reads its organization's org-level documents at
//     org_visible/public.
//
// Everything else is out of scope; there is no cross-organization path.
func (r *Resolver) CompileScope(ctx context.Context, identity *domain.Identity) (*Scope, error) {
	scope := &Scope{entries: make(map[domain.OwnerRef]*ScopeEntry)}

	switch identity.Role {
	case domain.RoleAdmin:
		coaches, err := r.directory.ListCoachesByOrg(ctx, identity.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("listing org coaches: %w", err)
		}
		for _, coach := range coaches {
			scope.add(domain.OwnerRef{Kind: domain.OwnerCoach, ID: coach.ID}, RelationAdmin)
		}
		clients, err := r.directory.ListClientsByCompany(ctx, identity.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("listing org clients: %w", err)
		}
		for _, client := range clients {
			scope.add(domain.OwnerRef{Kind: domain.OwnerClient, ID: client.ID}, RelationAdmin)
		}
		if identity.OrganizationID != "" {
			scope.add(domain.OwnerRef{Kind: domain.OwnerOrg, ID: identity.OrganizationID}, RelationAdmin)
		}

	case domain.RoleCoach:
		scope.add(domain.OwnerRef{Kind: domain.OwnerCoach, ID: identity.ID}, RelationSelfCoach)
		clientIDs, err := r.directory.ListAssignedClients(ctx, identity.ID)
		if err != nil {
			return nil, fmt.Errorf("listing assigned clients: %w", err)
		}
		for _, clientID := range clientIDs {
			scope.add(domain.OwnerRef{Kind: domain.OwnerClient, ID: clientID}, RelationAssignedCoach)
		}
		if identity.OrganizationID != "" {
			scope.add(domain.OwnerRef{Kind: domain.OwnerOrg, ID: identity.OrganizationID}, RelationOrgMember)
		}

	case domain.RoleClient:
		scope.add(domain.OwnerRef{Kind: domain.OwnerClient, ID: identity.ID}, RelationSelfClient)
		if identity.OrganizationID != "" {
			scope.add(domain.OwnerRef{Kind: domain.OwnerOrg, ID: identity.OrganizationID}, RelationOrgMember)
		}

	default:
		// Unknown roles get an empty scope: fail closed.
	}

	return scope, nil
}

// CanRead evaluates the visibility predicate for a single item.
//
// It compiles the caller's scope with the same rules used by search and
// tests the item against it, so get-by-id and search can never disagree.
func (r *Resolver) CanRead(ctx context.Context, identity *domain.Identity, item *domain.ContentItem) (bool, error) {
	scope, err := r.CompileScope(ctx, identity)
	if err != nil {
		return false, err
	}
	return scope.AllowsItem(item), nil
}
