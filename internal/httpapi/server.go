// Package httpapi provides the HTTP surface of corpusd: search, content
// ingestion and reads, and admin provisioning, behind bearer-token
// authentication.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/auth"
	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

// context keys for the authenticated caller.
const (
	ctxIdentity   = "corpusd.identity"
	ctxCredential = "corpusd.credential"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server provides the HTTP endpoints.
type Server struct {
	echo      *echo.Echo
	config    *Config
	verifier  *auth.Verifier
	ingest    ingest.Service
	retrieval retrieval.Service
	provider  embeddings.Provider
	directory store.DirectoryStore
	logger    *zap.Logger
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(
	cfg *Config,
	verifier *auth.Verifier,
	ingestSvc ingest.Service,
	retrievalSvc retrieval.Service,
	provider embeddings.Provider,
	directory store.DirectoryStore,
	logger *zap.Logger,
) (*Server, error) {
	if cfg == nil {
		cfg = &Config{Addr: ":8085", ShutdownTimeout: 10 * time.Second}
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if ingestSvc == nil || retrievalSvc == nil {
		return nil, fmt.Errorf("ingest and retrieval services are required")
	}
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("directory store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		config:    cfg,
		verifier:  verifier,
		ingest:    ingestSvc,
		retrieval: retrievalSvc,
		provider:  provider,
		directory: directory,
		logger:    logger,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1", s.authenticate)

	v1.POST("/search", s.handleSearch, s.requireScope(domain.ScopeRead))
	v1.GET("/content", s.handleTimeline, s.requireScope(domain.ScopeRead))
	v1.GET("/content/:id", s.handleGetContent, s.requireScope(domain.ScopeRead))
	v1.POST("/content", s.handleIngest, s.requireScope(domain.ScopeWrite))
	v1.DELETE("/content/:id", s.handleDeleteContent, s.requireScope(domain.ScopeWrite))

	admin := v1.Group("/admin", s.requireScope(domain.ScopeAdmin), s.requireAdminRole)
	admin.POST("/credentials", s.handleIssueCredential)
	admin.DELETE("/credentials/:id", s.handleRevokeCredential)
	admin.POST("/coaches", s.handleCreateCoach)
	admin.POST("/clients", s.handleCreateClient)
	admin.POST("/assignments", s.handleCreateAssignment)
	admin.DELETE("/assignments", s.handleDeleteAssignment)
}

// authenticate resolves the bearer token to an identity, stored on the echo
// context for handlers.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}

		identity, cred, err := s.verifier.Verify(c.Request().Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrAuthentication) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
			}
			return s.httpError(err)
		}

		c.Set(ctxIdentity, identity)
		c.Set(ctxCredential, cred)
		return next(c)
	}
}

// requireScope gates a route on a credential capability.
func (s *Server) requireScope(scope domain.Scope) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cred := credential(c)
			if cred == nil || !cred.HasScope(scope) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("credential lacks %q scope", scope))
			}
			return next(c)
		}
	}
}

// requireAdminRole restricts provisioning to admin identities; an admin
// scope on a non-admin credential is a provisioning mistake, not a grant.
func (s *Server) requireAdminRole(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := identity(c)
		if id == nil || id.Role != domain.RoleAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "admin role required")
		}
		return next(c)
	}
}

func identity(c echo.Context) *domain.Identity {
	id, _ := c.Get(ctxIdentity).(*domain.Identity)
	return id
}

func credential(c echo.Context) *domain.Credential {
	cred, _ := c.Get(ctxCredential).(*domain.Credential)
	return cred
}

// httpError maps domain errors to HTTP status codes.
func (s *Server) httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAuthentication):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, domain.ErrAuthorization):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrProvider):
		return echo.NewHTTPError(http.StatusBadGateway, "embedding provider unavailable")
	default:
		s.logger.Error("unhandled error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.config.Addr))
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.echo.Shutdown(ctx)
}

// Handler exposes the root handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
