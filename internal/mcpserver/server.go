// Package mcpserver exposes corpusd retrieval and ingestion as MCP tools
// over the stdio transport, for assistant runtimes that speak the Model
// Context Protocol.
//
// MCP carries no transport-level authentication, so every tool call takes a
// bearer token argument and is verified exactly like an HTTP request.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/auth"
	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
)

// Config configures the MCP server identity.
type Config struct {
	Name    string
	Version string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "corpusd",
		Version: "1.0.0",
	}
}

// Server wraps the MCP protocol server around the core services.
type Server struct {
	mcp       *mcp.Server
	verifier  *auth.Verifier
	ingest    ingest.Service
	retrieval retrieval.Service
	provider  embeddings.Provider
	logger    *zap.Logger
}

// NewServer creates the MCP server and registers all tools.
func NewServer(
	cfg *Config,
	verifier *auth.Verifier,
	ingestSvc ingest.Service,
	retrievalSvc retrieval.Service,
	provider embeddings.Provider,
	logger *zap.Logger,
) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if ingestSvc == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if retrievalSvc == nil {
		return nil, fmt.Errorf("retrieval service is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:       mcpServer,
		verifier:  verifier,
		ingest:    ingestSvc,
		retrieval: retrievalSvc,
		provider:  provider,
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

// identify resolves a tool call's bearer token to an identity and checks the
// required scope.
func (s *Server) identify(ctx context.Context, token string, scope domain.Scope) (*domain.Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token argument is required", domain.ErrAuthentication)
	}
	identity, cred, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if !cred.HasScope(scope) {
		return nil, fmt.Errorf("%w: credential lacks %q scope", domain.ErrAuthorization, scope)
	}
	return identity, nil
}

// Run starts the MCP server on the stdio transport. It blocks until the
// client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
