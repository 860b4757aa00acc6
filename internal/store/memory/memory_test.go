package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

func TestContentStoreListOrdering(t *testing.T) {
	s := NewContentStore()
	ctx := context.Background()

	feb := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	base := time.Now().UTC()

	put := func(id string, sessionDate *time.Time, createdAt time.Time) {
		t.Helper()
		if err := s.PutItem(ctx, &domain.ContentItem{
			ID:            id,
			ContentType:   domain.TypeTranscript,
			OwnerClientID: "client-1",
			Visibility:    domain.VisibilityPrivate,
			SessionDate:   sessionDate,
			Status:        domain.StatusComplete,
			CreatedAt:     createdAt,
		}); err != nil {
			t.Fatalf("PutItem(%s): %v", id, err)
		}
	}

	put("feb", &feb, base)
	put("mar", &mar, base)
	put("undated-new", nil, base.Add(time.Hour))
	put("undated-old", nil, base)

	got, err := s.ListItems(ctx, store.ItemFilter{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	wantOrder := []string{"mar", "feb", "undated-new", "undated-old"}
	if len(got) != len(wantOrder) {
		t.Fatalf("ListItems returned %d items, want %d", len(got), len(wantOrder))
	}
	for i, want := range wantOrder {
		if got[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestContentStoreValueIsolation(t *testing.T) {
	s := NewContentStore()
	ctx := context.Background()

	item := &domain.ContentItem{
		ID:            "item-1",
		ContentType:   domain.TypeTranscript,
		OwnerClientID: "client-1",
		Visibility:    domain.VisibilityPrivate,
		Status:        domain.StatusPending,
	}
	if err := s.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	item.Title = "mutated"
	got, err := s.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Title != "" {
		t.Errorf("stored item mutated through caller pointer: title %q", got.Title)
	}

	// Mutating a returned copy must not leak either.
	got.Status = domain.StatusComplete
	again, err := s.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if again.Status != domain.StatusPending {
		t.Errorf("stored item mutated through returned pointer: status %q", again.Status)
	}
}

func TestCredentialStorePrefix(t *testing.T) {
	s := NewCredentialStore()
	ctx := context.Background()

	for _, cred := range []*domain.Credential{
		{ID: "c1", TokenPrefix: "aaaa0000", CoachID: "coach-1", Scopes: []domain.Scope{domain.ScopeRead}},
		{ID: "c2", TokenPrefix: "aaaa0000", ClientID: "client-1", Scopes: []domain.Scope{domain.ScopeRead}},
		{ID: "c3", TokenPrefix: "bbbb1111", AdminID: "admin-1", Scopes: []domain.Scope{domain.ScopeAdmin}},
	} {
		if err := s.PutCredential(ctx, cred); err != nil {
			t.Fatalf("PutCredential(%s): %v", cred.ID, err)
		}
	}

	got, err := s.GetByPrefix(ctx, "aaaa0000")
	if err != nil {
		t.Fatalf("GetByPrefix: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetByPrefix returned %d credentials, want 2", len(got))
	}

	if err := s.Revoke(ctx, "c3"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	cred, err := s.GetCredential(ctx, "c3")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if !cred.Revoked {
		t.Error("credential not marked revoked")
	}

	if err := s.Revoke(ctx, "absent"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Revoke(absent) = %v, want ErrNotFound", err)
	}
}

func TestDirectoryStoreAssignments(t *testing.T) {
	s := NewDirectoryStore()
	ctx := context.Background()

	if err := s.AddAssignment(ctx, "coach-1", "client-1"); err != nil {
		t.Fatalf("AddAssignment: %v", err)
	}
	// Idempotent add.
	if err := s.AddAssignment(ctx, "coach-1", "client-1"); err != nil {
		t.Fatalf("repeat AddAssignment: %v", err)
	}

	got, err := s.ListAssignedClients(ctx, "coach-1")
	if err != nil {
		t.Fatalf("ListAssignedClients: %v", err)
	}
	if len(got) != 1 || got[0] != "client-1" {
		t.Errorf("ListAssignedClients = %v, want [client-1]", got)
	}

	if err := s.RemoveAssignment(ctx, "coach-1", "client-1"); err != nil {
		t.Fatalf("RemoveAssignment: %v", err)
	}
	got, err = s.ListAssignedClients(ctx, "coach-1")
	if err != nil {
		t.Fatalf("ListAssignedClients: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("assignments not removed: %v", got)
	}
}
