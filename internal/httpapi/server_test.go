package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/access"
	"github.com/fyrsmithlabs/corpusd/internal/auth"
	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
	"github.com/fyrsmithlabs/corpusd/internal/store/memory"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

type apiFixture struct {
	server   *Server
	verifier *auth.Verifier
	tokens   map[string]string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	items := memory.NewContentStore()
	creds := memory.NewCredentialStore()
	directory := memory.NewDirectoryStore()

	require.NoError(t, directory.PutCoach(ctx, &domain.Coach{ID: "coach-1", OrganizationID: "org-1", Name: "Avery"}))
	require.NoError(t, directory.PutClient(ctx, &domain.Client{ID: "client-1", CompanyID: "org-1", Name: "Blair"}))
	require.NoError(t, directory.PutAdmin(ctx, &domain.Admin{ID: "admin-1", OrganizationID: "org-1", Name: "Root"}))
	require.NoError(t, directory.PutAdmin(ctx, &domain.Admin{ID: "admin-2", OrganizationID: "org-2", Name: "Other"}))
	require.NoError(t, directory.AddAssignment(ctx, "coach-1", "client-1"))

	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{VectorSize: 3}, zap.NewNop())
	require.NoError(t, err)

	provider := embeddings.NewStaticProvider(3)
	resolver := access.NewResolver(directory)
	verifier := auth.NewVerifier(creds, directory, zap.NewNop())

	ingestSvc, err := ingest.NewService(nil, items, index, provider,
		chunker.New(chunker.WithWindowSize(20), chunker.WithOverlap(5)), resolver, zap.NewNop())
	require.NoError(t, err)

	retrievalSvc, err := retrieval.NewService(items, index, resolver, zap.NewNop())
	require.NoError(t, err)

	server, err := NewServer(nil, verifier, ingestSvc, retrievalSvc, provider, directory, zap.NewNop())
	require.NoError(t, err)

	f := &apiFixture{server: server, verifier: verifier, tokens: map[string]string{}}
	issue := func(req auth.IssueRequest, key string) {
		token, _, err := verifier.Issue(ctx, req)
		require.NoError(t, err)
		f.tokens[key] = token
	}
	issue(auth.IssueRequest{CoachID: "coach-1", Scopes: []domain.Scope{domain.ScopeRead, domain.ScopeWrite}}, "coach-1")
	issue(auth.IssueRequest{ClientID: "client-1", Scopes: []domain.Scope{domain.ScopeRead, domain.ScopeWrite}}, "client-1")
	issue(auth.IssueRequest{ClientID: "client-1", Scopes: []domain.Scope{domain.ScopeRead}}, "client-1-readonly")
	issue(auth.IssueRequest{AdminID: "admin-1", Scopes: []domain.Scope{domain.ScopeRead, domain.ScopeWrite, domain.ScopeAdmin}}, "admin-1")
	issue(auth.IssueRequest{AdminID: "admin-2", Scopes: []domain.Scope{domain.ScopeRead, domain.ScopeAdmin}}, "admin-2")
	issue(auth.IssueRequest{CoachID: "coach-1", Scopes: []domain.Scope{domain.ScopeAdmin}}, "coach-1-admin-scope")
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, tokenKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoHeaderContentType, "application/json")
	if tokenKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokens[tokenKey])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func sessionText(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(words, " ")
}

func TestHealthUnauthenticated(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAuthenticationRequired(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/content", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content", nil)
	req.Header.Set("Authorization", "Bearer cpd_"+strings.Repeat("0", 48))
	rec2 := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestScopeEnforcement(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/content", "client-1-readonly", IngestRequest{
		ContentType:   domain.TypeTranscript,
		OwnerClientID: "client-1",
		Content:       sessionText(30),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/search", "client-1-readonly", SearchRequest{Query: "goals"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRequiresAdminRole(t *testing.T) {
	f := newAPIFixture(t)

	// admin scope on a coach credential does not open provisioning.
	rec := f.do(t, http.MethodPost, "/api/v1/admin/coaches", "coach-1-admin-scope",
		CreateCoachRequest{Name: "Mallory"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/coaches", "admin-1",
		CreateCoachRequest{Name: "Casey"})
	require.Equal(t, http.StatusCreated, rec.Code)
	coach := decode[domain.Coach](t, rec)
	assert.Equal(t, "org-1", coach.OrganizationID)
	assert.NotEmpty(t, coach.ID)
}

func TestIngestThenSearchRoundTrip(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/content", "coach-1", IngestRequest{
		ContentType:   domain.TypeTranscript,
		Title:         "Session one",
		OwnerCoachID:  "coach-1",
		OwnerClientID: "client-1",
		Content:       sessionText(30),
		SessionDate:   timePtr(time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode[domain.ContentItem](t, rec)
	require.Equal(t, domain.StatusComplete, item.Status)

	// The static provider is deterministic, so searching with the item's
	// own text finds its chunks.
	rec = f.do(t, http.MethodPost, "/api/v1/search", "client-1", SearchRequest{
		Query: sessionText(30), Threshold: fptr(-1),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[SearchResponse](t, rec)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, item.ID, res.Results[0].ItemID)
	assert.Equal(t, "Session one", res.Results[0].Title)

	// An unrelated coach in the same org sees nothing.
	rec = f.do(t, http.MethodPost, "/api/v1/admin/coaches", "admin-1", CreateCoachRequest{ID: "coach-9", Name: "Drew"})
	require.Equal(t, http.StatusCreated, rec.Code)
	token, _, err := f.verifier.Issue(context.Background(), auth.IssueRequest{
		CoachID: "coach-9", Scopes: []domain.Scope{domain.ScopeRead},
	})
	require.NoError(t, err)
	f.tokens["coach-9"] = token
	rec = f.do(t, http.MethodPost, "/api/v1/search", "coach-9", SearchRequest{
		Query: sessionText(30), Threshold: fptr(-1),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[SearchResponse](t, rec).Results)
}

func TestSearchValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/search", "coach-1", SearchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/search", "coach-1", SearchRequest{
		Query: "goals", Vector: []float32{1, 0, 0},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Wrong dimension maps to 400.
	rec = f.do(t, http.MethodPost, "/api/v1/search", "coach-1", SearchRequest{
		Vector: []float32{1, 0},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndDeleteContent(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/content", "client-1", IngestRequest{
		ContentType:   domain.TypeAssessment,
		OwnerClientID: "client-1",
		Visibility:    domain.VisibilityPrivate,
		Content:       sessionText(25),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode[domain.ContentItem](t, rec)

	rec = f.do(t, http.MethodGet, "/api/v1/content/"+item.ID, "client-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Invisible items read as absent.
	rec = f.do(t, http.MethodGet, "/api/v1/content/"+item.ID, "coach-9x", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/content/no-such-item", "client-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/content/"+item.ID, "client-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/content/"+item.ID, "client-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTimelineEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	for i, month := range []time.Month{time.March, time.May} {
		rec := f.do(t, http.MethodPost, "/api/v1/content", "coach-1", IngestRequest{
			ContentType:   domain.TypeTranscript,
			Title:         fmt.Sprintf("session %d", i),
			OwnerCoachID:  "coach-1",
			OwnerClientID: "client-1",
			Content:       sessionText(25),
			SessionDate:   timePtr(time.Date(2026, month, 1, 0, 0, 0, 0, time.UTC)),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, "/api/v1/content?limit=10", "coach-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[TimelineResponse](t, rec)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "session 1", res.Items[0].Title)
	assert.Equal(t, "session 0", res.Items[1].Title)

	rec = f.do(t, http.MethodGet, "/api/v1/content?content_type=assessment", "coach-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[TimelineResponse](t, rec).Items)
}

func TestCredentialLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/admin/credentials", "admin-1", IssueCredentialRequest{
		ClientID: "client-1",
		Scopes:   []domain.Scope{domain.ScopeRead},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	issued := decode[IssueCredentialResponse](t, rec)
	require.True(t, strings.HasPrefix(issued.Token, "cpd_"))

	f.tokens["minted"] = issued.Token
	rec = f.do(t, http.MethodGet, "/api/v1/content", "minted", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/admin/credentials/"+issued.Credential.ID, "admin-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/content", "minted", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCredentialIssuanceTenantBoundary(t *testing.T) {
	f := newAPIFixture(t)

	// admin-2 administers org-2 and cannot mint for org-1 principals.
	rec := f.do(t, http.MethodPost, "/api/v1/admin/credentials", "admin-2", IssueCredentialRequest{
		CoachID: "coach-1",
		Scopes:  []domain.Scope{domain.ScopeRead},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/credentials", "admin-1", IssueCredentialRequest{
		Scopes: []domain.Scope{domain.ScopeRead},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignmentProvisioning(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/api/v1/admin/clients", "admin-1", CreateClientRequest{ID: "client-7", Name: "Ember"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/assignments", "admin-1",
		AssignmentRequest{CoachID: "coach-1", ClientID: "client-7"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// With the assignment in place, coach-1 can ingest for client-7.
	rec = f.do(t, http.MethodPost, "/api/v1/content", "coach-1", IngestRequest{
		ContentType:   domain.TypeTranscript,
		OwnerCoachID:  "coach-1",
		OwnerClientID: "client-7",
		Content:       sessionText(25),
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/api/v1/admin/assignments", "admin-1",
		AssignmentRequest{CoachID: "coach-1", ClientID: "client-7"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/content", "coach-1", IngestRequest{
		ContentType:   domain.TypeTranscript,
		OwnerCoachID:  "coach-1",
		OwnerClientID: "client-7",
		Content:       sessionText(25),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Cross-org admin cannot touch org-1 assignments.
	rec = f.do(t, http.MethodPost, "/api/v1/admin/assignments", "admin-2",
		AssignmentRequest{CoachID: "coach-1", ClientID: "client-1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, _, err := f.verifier.Issue(ctx, auth.IssueRequest{Scopes: []domain.Scope{domain.ScopeRead}})
	assert.Error(t, err)
}

func timePtr(t time.Time) *time.Time { return &t }

func fptr(v float64) *float64 { return &v }
