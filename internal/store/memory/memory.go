// Package memory provides in-memory implementations of the store interfaces,
// used by tests and single-process development setups.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

// Ensure the memory stores implement the store interfaces.
var (
	_ store.ContentStore    = (*ContentStore)(nil)
	_ store.CredentialStore = (*CredentialStore)(nil)
	_ store.DirectoryStore  = (*DirectoryStore)(nil)
)

// ContentStore is an in-memory store.ContentStore.
type ContentStore struct {
	mu    sync.RWMutex
	items map[string]domain.ContentItem
}

// NewContentStore creates an empty in-memory content store.
func NewContentStore() *ContentStore {
	return &ContentStore{items: make(map[string]domain.ContentItem)}
}

func (s *ContentStore) PutItem(_ context.Context, item *domain.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = *item
	return nil
}

func (s *ContentStore) GetItem(_ context.Context, id string) (*domain.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (s *ContentStore) GetItems(_ context.Context, ids []string) (map[string]*domain.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.ContentItem, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			copied := item
			out[id] = &copied
		}
	}
	return out, nil
}

func (s *ContentStore) UpdateStatus(_ context.Context, id string, status domain.ItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Status = status
	s.items[id] = item
	return nil
}

func (s *ContentStore) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *ContentStore) ListItems(_ context.Context, filter store.ItemFilter) ([]*domain.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ContentItem
	for _, item := range s.items {
		if !matchesFilter(&item, filter) {
			continue
		}
		copied := item
		out = append(out, &copied)
	}

	// Session date descending, undated items last, then created-at descending.
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.SessionDate != nil && b.SessionDate != nil && !a.SessionDate.Equal(*b.SessionDate):
			return a.SessionDate.After(*b.SessionDate)
		case a.SessionDate != nil && b.SessionDate == nil:
			return true
		case a.SessionDate == nil && b.SessionDate != nil:
			return false
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(item *domain.ContentItem, filter store.ItemFilter) bool {
	if filter.Status != "" && item.Status != filter.Status {
		return false
	}
	if len(filter.ContentTypes) > 0 {
		found := false
		for _, t := range filter.ContentTypes {
			if item.ContentType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Owners) > 0 {
		found := false
	outer:
		for _, ref := range filter.Owners {
			for _, owner := range item.OwnerRefs() {
				if ref == owner {
					found = true
					break outer
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// CredentialStore is an in-memory store.CredentialStore.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]domain.Credential
}

// NewCredentialStore creates an empty in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]domain.Credential)}
}

func (s *CredentialStore) PutCredential(_ context.Context, cred *domain.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.ID] = *cred
	return nil
}

func (s *CredentialStore) GetCredential(_ context.Context, id string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &cred, nil
}

func (s *CredentialStore) GetByPrefix(_ context.Context, prefix string) ([]*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Credential
	for _, cred := range s.creds {
		if cred.TokenPrefix == prefix {
			copied := cred
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *CredentialStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[id]
	if !ok {
		return domain.ErrNotFound
	}
	cred.Revoked = true
	s.creds[id] = cred
	return nil
}

// DirectoryStore is an in-memory store.DirectoryStore.
type DirectoryStore struct {
	mu          sync.RWMutex
	coaches     map[string]domain.Coach
	clients     map[string]domain.Client
	admins      map[string]domain.Admin
	assignments map[string]map[string]bool // coachID -> set of clientIDs
}

// NewDirectoryStore creates an empty in-memory directory store.
func NewDirectoryStore() *DirectoryStore {
	return &DirectoryStore{
		coaches:     make(map[string]domain.Coach),
		clients:     make(map[string]domain.Client),
		admins:      make(map[string]domain.Admin),
		assignments: make(map[string]map[string]bool),
	}
}

func (s *DirectoryStore) PutCoach(_ context.Context, coach *domain.Coach) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coaches[coach.ID] = *coach
	return nil
}

func (s *DirectoryStore) GetCoach(_ context.Context, id string) (*domain.Coach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coach, ok := s.coaches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &coach, nil
}

func (s *DirectoryStore) ListCoachesByOrg(_ context.Context, orgID string) ([]*domain.Coach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Coach
	for _, coach := range s.coaches {
		if coach.OrganizationID == orgID {
			copied := coach
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DirectoryStore) PutClient(_ context.Context, client *domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = *client
	return nil
}

func (s *DirectoryStore) GetClient(_ context.Context, id string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &client, nil
}

func (s *DirectoryStore) ListClientsByCompany(_ context.Context, companyID string) ([]*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Client
	for _, client := range s.clients {
		if client.CompanyID == companyID {
			copied := client
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DirectoryStore) PutAdmin(_ context.Context, admin *domain.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[admin.ID] = *admin
	return nil
}

func (s *DirectoryStore) GetAdmin(_ context.Context, id string) (*domain.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	admin, ok := s.admins[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &admin, nil
}

func (s *DirectoryStore) AddAssignment(_ context.Context, coachID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.assignments[coachID]
	if !ok {
		set = make(map[string]bool)
		s.assignments[coachID] = set
	}
	set[clientID] = true
	return nil
}

func (s *DirectoryStore) RemoveAssignment(_ context.Context, coachID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.assignments[coachID]; ok {
		delete(set, clientID)
	}
	return nil
}

func (s *DirectoryStore) ListAssignedClients(_ context.Context, coachID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.assignments[coachID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
