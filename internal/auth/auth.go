// Package auth implements credential issuance and bearer-token verification.
//
// Tokens are never stored in plaintext: a credential keeps a bcrypt hash of
// the full token plus a short plaintext prefix. Verification narrows
// candidates by prefix before running the slow hash comparison, so lookup
// cost does not scale with the size of the credential table.
//
// The verifier resolves tokens to identities and scopes only; it has zero
// knowledge of content-level authorization, which lives in internal/access.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

const (
	// tokenScheme prefixes every issued token so tokens are greppable in
	// leaked logs and rejectable at a glance.
	tokenScheme = "cpd_"

	// prefixLen is the number of token characters stored in plaintext for
	// candidate narrowing.
	prefixLen = 8

	// secretBytes is the random entropy per token, hex-encoded.
	secretBytes = 24
)

// Verifier validates bearer tokens and issues credentials.
type Verifier struct {
	creds     store.CredentialStore
	directory store.DirectoryStore
	logger    *zap.Logger
}

// NewVerifier creates a Verifier over the given stores.
func NewVerifier(creds store.CredentialStore, directory store.DirectoryStore, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{creds: creds, directory: directory, logger: logger}
}

// IssueRequest describes a credential to mint. Exactly one of CoachID,
// ClientID, AdminID must be set.
type IssueRequest struct {
	CoachID   string
	ClientID  string
	AdminID   string
	Scopes    []domain.Scope
	ExpiresAt *time.Time
}

// Issue mints a bearer token, stores its credential, and returns the
// plaintext token. The plaintext is returned exactly once; only its hash is
// persisted.
func (v *Verifier) Issue(ctx context.Context, req IssueRequest) (string, *domain.Credential, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generating token: %w", err)
	}
	token := tokenScheme + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing token: %w", err)
	}

	cred := &domain.Credential{
		ID:          uuid.New().String(),
		TokenPrefix: tokenPrefix(token),
		TokenHash:   hash,
		CoachID:     req.CoachID,
		ClientID:    req.ClientID,
		AdminID:     req.AdminID,
		Scopes:      req.Scopes,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := cred.Validate(); err != nil {
		return "", nil, err
	}
	if err := v.creds.PutCredential(ctx, cred); err != nil {
		return "", nil, fmt.Errorf("storing credential: %w", err)
	}

	v.logger.Info("issued credential",
		zap.String("credential_id", cred.ID),
		zap.String("role", string(cred.Role())),
	)
	return token, cred, nil
}

// Revoke marks a credential revoked.
func (v *Verifier) Revoke(ctx context.Context, credentialID string) error {
	return v.creds.Revoke(ctx, credentialID)
}

// Verify resolves a bearer token to an identity and its credential.
//
// Every failure (unknown, revoked, expired, malformed) returns
// domain.ErrAuthentication without distinguishing the case to the caller.
func (v *Verifier) Verify(ctx context.Context, token string) (*domain.Identity, *domain.Credential, error) {
	if !strings.HasPrefix(token, tokenScheme) || len(token) < len(tokenScheme)+prefixLen {
		return nil, nil, domain.ErrAuthentication
	}

	candidates, err := v.creds.GetByPrefix(ctx, tokenPrefix(token))
	if err != nil {
		return nil, nil, fmt.Errorf("credential lookup: %w", err)
	}

	for _, cred := range candidates {
		if bcrypt.CompareHashAndPassword(cred.TokenHash, []byte(token)) != nil {
			continue
		}
		if cred.Revoked {
			return nil, nil, domain.ErrAuthentication
		}
		if cred.ExpiresAt != nil && time.Now().After(*cred.ExpiresAt) {
			return nil, nil, domain.ErrAuthentication
		}
		identity, err := v.resolveIdentity(ctx, cred)
		if err != nil {
			return nil, nil, err
		}
		return identity, cred, nil
	}

	return nil, nil, domain.ErrAuthentication
}

// resolveIdentity loads the credential's principal from the directory.
func (v *Verifier) resolveIdentity(ctx context.Context, cred *domain.Credential) (*domain.Identity, error) {
	switch cred.Role() {
	case domain.RoleCoach:
		coach, err := v.directory.GetCoach(ctx, cred.CoachID)
		if err != nil {
			// Credential pointing at a deleted principal is an auth failure,
			// not a not-found.
			return nil, domain.ErrAuthentication
		}
		return &domain.Identity{
			Role:           domain.RoleCoach,
			ID:             coach.ID,
			OrganizationID: coach.OrganizationID,
			Name:           coach.Name,
		}, nil

	case domain.RoleClient:
		client, err := v.directory.GetClient(ctx, cred.ClientID)
		if err != nil {
			return nil, domain.ErrAuthentication
		}
		return &domain.Identity{
			Role:           domain.RoleClient,
			ID:             client.ID,
			OrganizationID: client.CompanyID,
			Name:           client.Name,
		}, nil

	case domain.RoleAdmin:
		admin, err := v.directory.GetAdmin(ctx, cred.AdminID)
		if err != nil {
			return nil, domain.ErrAuthentication
		}
		return &domain.Identity{
			Role:           domain.RoleAdmin,
			ID:             admin.ID,
			OrganizationID: admin.OrganizationID,
			Name:           admin.Name,
		}, nil

	default:
		return nil, domain.ErrAuthentication
	}
}

// tokenPrefix returns the plaintext narrowing prefix of a token.
func tokenPrefix(token string) string {
	return token[len(tokenScheme) : len(tokenScheme)+prefixLen]
}
