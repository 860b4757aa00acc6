package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/auth"
	"github.com/fyrsmithlabs/corpusd/internal/domain"
)

// Admin provisioning handlers. Every operation is scoped to the calling
// admin's organization; an admin cannot mint principals or credentials for
// another tenant.

// IssueCredentialRequest is the JSON body for POST /api/v1/admin/credentials.
// Exactly one of CoachID, ClientID, AdminID must be set.
type IssueCredentialRequest struct {
	CoachID   string         `json:"coach_id,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	AdminID   string         `json:"admin_id,omitempty"`
	Scopes    []domain.Scope `json:"scopes"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// IssueCredentialResponse carries the plaintext token. It is returned
// exactly once; only the hash is stored.
type IssueCredentialResponse struct {
	Token      string             `json:"token"`
	Credential *domain.Credential `json:"credential"`
}

func (s *Server) handleIssueCredential(c echo.Context) error {
	var req IssueCredentialRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	admin := identity(c)

	// The principal must exist and belong to the caller's organization.
	var principalOrg string
	switch {
	case req.CoachID != "":
		coach, err := s.directory.GetCoach(ctx, req.CoachID)
		if err != nil {
			return s.httpError(err)
		}
		principalOrg = coach.OrganizationID
	case req.ClientID != "":
		client, err := s.directory.GetClient(ctx, req.ClientID)
		if err != nil {
			return s.httpError(err)
		}
		principalOrg = client.CompanyID
	case req.AdminID != "":
		target, err := s.directory.GetAdmin(ctx, req.AdminID)
		if err != nil {
			return s.httpError(err)
		}
		principalOrg = target.OrganizationID
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "one of coach_id, client_id, admin_id is required")
	}
	if principalOrg != admin.OrganizationID {
		return echo.NewHTTPError(http.StatusForbidden, "principal belongs to another organization")
	}

	token, cred, err := s.verifier.Issue(ctx, auth.IssueRequest{
		CoachID:   req.CoachID,
		ClientID:  req.ClientID,
		AdminID:   req.AdminID,
		Scopes:    req.Scopes,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusCreated, IssueCredentialResponse{Token: token, Credential: cred})
}

func (s *Server) handleRevokeCredential(c echo.Context) error {
	if err := s.verifier.Revoke(c.Request().Context(), c.Param("id")); err != nil {
		return s.httpError(err)
	}
	s.logger.Info("credential revoked",
		zap.String("credential_id", c.Param("id")),
		zap.String("admin_id", identity(c).ID),
	)
	return c.NoContent(http.StatusNoContent)
}

// CreateCoachRequest is the JSON body for POST /api/v1/admin/coaches.
type CreateCoachRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func (s *Server) handleCreateCoach(c echo.Context) error {
	var req CreateCoachRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	coach := &domain.Coach{
		ID:             req.ID,
		OrganizationID: identity(c).OrganizationID,
		Name:           req.Name,
		CreatedAt:      time.Now().UTC(),
	}
	if coach.ID == "" {
		coach.ID = uuid.New().String()
	}
	if err := s.directory.PutCoach(c.Request().Context(), coach); err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusCreated, coach)
}

// CreateClientRequest is the JSON body for POST /api/v1/admin/clients.
type CreateClientRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func (s *Server) handleCreateClient(c echo.Context) error {
	var req CreateClientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	client := &domain.Client{
		ID:        req.ID,
		CompanyID: identity(c).OrganizationID,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if client.ID == "" {
		client.ID = uuid.New().String()
	}
	if err := s.directory.PutClient(c.Request().Context(), client); err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusCreated, client)
}

// AssignmentRequest is the JSON body for assignment create and delete.
type AssignmentRequest struct {
	CoachID  string `json:"coach_id"`
	ClientID string `json:"client_id"`
}

// checkAssignmentOrg verifies both principals exist inside the calling
// admin's organization before the assignment is touched.
func (s *Server) checkAssignmentOrg(c echo.Context, req *AssignmentRequest) error {
	if req.CoachID == "" || req.ClientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "coach_id and client_id are required")
	}
	ctx := c.Request().Context()
	org := identity(c).OrganizationID

	coach, err := s.directory.GetCoach(ctx, req.CoachID)
	if err != nil {
		return s.httpError(err)
	}
	client, err := s.directory.GetClient(ctx, req.ClientID)
	if err != nil {
		return s.httpError(err)
	}
	if coach.OrganizationID != org || client.CompanyID != org {
		return echo.NewHTTPError(http.StatusForbidden, "principal belongs to another organization")
	}
	return nil
}

func (s *Server) handleCreateAssignment(c echo.Context) error {
	var req AssignmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.checkAssignmentOrg(c, &req); err != nil {
		return err
	}
	if err := s.directory.AddAssignment(c.Request().Context(), req.CoachID, req.ClientID); err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusCreated, domain.Assignment{
		CoachID:   req.CoachID,
		ClientID:  req.ClientID,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Server) handleDeleteAssignment(c echo.Context) error {
	var req AssignmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.checkAssignmentOrg(c, &req); err != nil {
		return err
	}
	if err := s.directory.RemoveAssignment(c.Request().Context(), req.CoachID, req.ClientID); err != nil {
		return s.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
