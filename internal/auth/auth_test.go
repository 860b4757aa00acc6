package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/store/memory"
)

func newVerifier(t *testing.T) (*Verifier, *memory.CredentialStore) {
	t.Helper()
	ctx := context.Background()

	dir := memory.NewDirectoryStore()
	require.NoError(t, dir.PutCoach(ctx, &domain.Coach{ID: "coach-1", OrganizationID: "org-1", Name: "Avery"}))
	require.NoError(t, dir.PutClient(ctx, &domain.Client{ID: "client-1", CompanyID: "org-1", Name: "Casey"}))
	require.NoError(t, dir.PutAdmin(ctx, &domain.Admin{ID: "admin-1", OrganizationID: "org-1"}))

	creds := memory.NewCredentialStore()
	return NewVerifier(creds, dir, nil), creds
}

func TestIssueAndVerify(t *testing.T) {
	v, _ := newVerifier(t)
	ctx := context.Background()

	token, cred, err := v.Issue(ctx, IssueRequest{
		CoachID: "coach-1",
		Scopes:  []domain.Scope{domain.ScopeRead, domain.ScopeWrite},
	})
	require.NoError(t, err)
	require.NotNil(t, cred)

	assert.True(t, strings.HasPrefix(token, "cpd_"), "token %q missing scheme", token)
	assert.Len(t, token, len("cpd_")+48)
	assert.NotContains(t, string(cred.TokenHash), token, "hash must not embed the plaintext")
	assert.Equal(t, token[4:12], cred.TokenPrefix)

	identity, got, err := v.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, got.ID)
	assert.Equal(t, domain.RoleCoach, identity.Role)
	assert.Equal(t, "coach-1", identity.ID)
	assert.Equal(t, "org-1", identity.OrganizationID)
	assert.Equal(t, "Avery", identity.Name)
	assert.True(t, got.HasScope(domain.ScopeWrite))
	assert.False(t, got.HasScope(domain.ScopeAdmin))
}

func TestIssueValidation(t *testing.T) {
	v, _ := newVerifier(t)
	ctx := context.Background()

	// No identity reference.
	_, _, err := v.Issue(ctx, IssueRequest{Scopes: []domain.Scope{domain.ScopeRead}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Two identity references.
	_, _, err = v.Issue(ctx, IssueRequest{
		CoachID:  "coach-1",
		ClientID: "client-1",
		Scopes:   []domain.Scope{domain.ScopeRead},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// No scopes.
	_, _, err = v.Issue(ctx, IssueRequest{CoachID: "coach-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestVerifyRejections(t *testing.T) {
	v, _ := newVerifier(t)
	ctx := context.Background()

	token, cred, err := v.Issue(ctx, IssueRequest{
		ClientID: "client-1",
		Scopes:   []domain.Scope{domain.ScopeRead},
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"wrong scheme", "tok_" + token[4:]},
		{"truncated", token[:10]},
		{"same prefix different secret", token[:12] + strings.Repeat("0", 40)},
		{"unknown token", "cpd_" + strings.Repeat("ab", 24)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := v.Verify(ctx, tt.token)
			assert.ErrorIs(t, err, domain.ErrAuthentication)
		})
	}

	t.Run("revoked", func(t *testing.T) {
		require.NoError(t, v.Revoke(ctx, cred.ID))
		_, _, err := v.Verify(ctx, token)
		assert.ErrorIs(t, err, domain.ErrAuthentication)
	})
}

func TestVerifyExpiry(t *testing.T) {
	v, _ := newVerifier(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	token, _, err := v.Issue(ctx, IssueRequest{
		AdminID:   "admin-1",
		Scopes:    []domain.Scope{domain.ScopeAdmin},
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	_, _, err = v.Verify(ctx, token)
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	future := time.Now().Add(time.Hour)
	token, _, err = v.Issue(ctx, IssueRequest{
		AdminID:   "admin-1",
		Scopes:    []domain.Scope{domain.ScopeAdmin},
		ExpiresAt: &future,
	})
	require.NoError(t, err)

	identity, _, err := v.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, identity.Role)
}

func TestVerifyDeletedPrincipal(t *testing.T) {
	ctx := context.Background()
	dir := memory.NewDirectoryStore()
	require.NoError(t, dir.PutCoach(ctx, &domain.Coach{ID: "coach-gone", OrganizationID: "org-1"}))
	v := NewVerifier(memory.NewCredentialStore(), dir, nil)

	token, _, err := v.Issue(ctx, IssueRequest{
		CoachID: "coach-gone",
		Scopes:  []domain.Scope{domain.ScopeRead},
	})
	require.NoError(t, err)

	// A fresh directory without the coach simulates principal deletion.
	v2 := NewVerifier(v.creds, memory.NewDirectoryStore(), nil)
	_, _, err = v2.Verify(ctx, token)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestPrefixNarrowing(t *testing.T) {
	v, creds := newVerifier(t)
	ctx := context.Background()

	token, cred, err := v.Issue(ctx, IssueRequest{
		ClientID: "client-1",
		Scopes:   []domain.Scope{domain.ScopeRead},
	})
	require.NoError(t, err)

	found, err := creds.GetByPrefix(ctx, cred.TokenPrefix)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, cred.ID, found[0].ID)

	// The stored prefix never includes the scheme.
	assert.NotContains(t, cred.TokenPrefix, "cpd_")
	assert.Equal(t, token[len("cpd_"):len("cpd_")+8], cred.TokenPrefix)
}
