package domain

import (
	"fmt"
	"time"
)

// Role is the kind of principal a credential resolves to.
type Role string

const (
	RoleCoach  Role = "coach"
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// Identity is the resolved caller of every core operation.
//
// A coach's assigned clients and an admin's organization membership live in
// the directory store, not here; the access package consults the directory
// when compiling a visibility scope.
type Identity struct {
	Role           Role   `json:"role"`
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id,omitempty"`
	Name           string `json:"name,omitempty"`
}

// Coach is a coaching practitioner within an organization.
type Coach struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Client is a coached person; belongs to exactly one client organization.
type Client struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Admin administers one organization: full read within it plus provisioning.
type Admin struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Assignment grants a coach access to a client's data. Created and destroyed
// only through admin provisioning.
type Assignment struct {
	CoachID   string    `json:"coach_id"`
	ClientID  string    `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Scope is a capability granted to a credential.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// Credential maps a bearer secret's one-way hash to exactly one identity.
//
// TokenPrefix is a short plaintext prefix of the secret stored alongside the
// hash so verification can narrow candidates before the slow bcrypt compare.
type Credential struct {
	ID          string     `json:"id"`
	TokenPrefix string     `json:"token_prefix"`
	TokenHash   []byte     `json:"-"`
	CoachID     string     `json:"coach_id,omitempty"`
	ClientID    string     `json:"client_id,omitempty"`
	AdminID     string     `json:"admin_id,omitempty"`
	Scopes      []Scope    `json:"scopes"`
	Revoked     bool       `json:"revoked"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Validate enforces the single-owner constraint.
func (c *Credential) Validate() error {
	owners := 0
	for _, id := range []string{c.CoachID, c.ClientID, c.AdminID} {
		if id != "" {
			owners++
		}
	}
	if owners != 1 {
		return fmt.Errorf("%w: credential must reference exactly one identity, got %d", ErrValidation, owners)
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("%w: credential requires at least one scope", ErrValidation)
	}
	return nil
}

// HasScope reports whether the credential carries the given scope.
func (c *Credential) HasScope(s Scope) bool {
	for _, have := range c.Scopes {
		if have == s {
			return true
		}
	}
	return false
}

// Role returns the role implied by the credential's identity reference.
func (c *Credential) Role() Role {
	switch {
	case c.AdminID != "":
		return RoleAdmin
	case c.CoachID != "":
		return RoleCoach
	default:
		return RoleClient
	}
}

// IdentityID returns the single non-empty identity reference.
func (c *Credential) IdentityID() string {
	switch {
	case c.AdminID != "":
		return c.AdminID
	case c.CoachID != "":
		return c.CoachID
	default:
		return c.ClientID
	}
}
