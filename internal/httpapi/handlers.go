package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
)

// HealthResponse reports liveness.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// SearchRequest is the JSON body for POST /api/v1/search. Callers supply
// either Query, embedded server-side, or a precomputed Vector.
type SearchRequest struct {
	Query          string               `json:"query,omitempty"`
	Vector         []float32            `json:"vector,omitempty"`
	ContentTypes   []domain.ContentType `json:"content_types,omitempty"`
	OwnerCoachID   string               `json:"owner_coach_id,omitempty"`
	OwnerClientID  string               `json:"owner_client_id,omitempty"`
	OrganizationID string               `json:"organization_id,omitempty"`
	Threshold      *float64             `json:"threshold,omitempty"`
	Limit          int                  `json:"limit,omitempty"`
}

// SearchResponse wraps ranked search results.
type SearchResponse struct {
	Results []domain.RankedChunk `json:"results"`
	Count   int                  `json:"count"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	vector := req.Vector
	if len(vector) == 0 {
		if req.Query == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "either query or vector is required")
		}
		var err error
		vector, err = s.provider.EmbedQuery(ctx, req.Query)
		if err != nil {
			return s.httpError(err)
		}
	} else if req.Query != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query and vector are mutually exclusive")
	}

	results, err := s.retrieval.Search(ctx, identity(c), &retrieval.SearchRequest{
		Vector: vector,
		Filters: retrieval.Filters{
			ContentTypes:   req.ContentTypes,
			OwnerCoachID:   req.OwnerCoachID,
			OwnerClientID:  req.OwnerClientID,
			OrganizationID: req.OrganizationID,
		},
		Threshold: req.Threshold,
		Limit:     req.Limit,
	})
	if err != nil {
		return s.httpError(err)
	}
	if results == nil {
		results = []domain.RankedChunk{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results, Count: len(results)})
}

// IngestRequest is the JSON body for POST /api/v1/content.
type IngestRequest struct {
	ContentType    domain.ContentType `json:"content_type"`
	Title          string             `json:"title,omitempty"`
	OwnerCoachID   string             `json:"owner_coach_id,omitempty"`
	OwnerClientID  string             `json:"owner_client_id,omitempty"`
	OrganizationID string             `json:"organization_id,omitempty"`
	Visibility     domain.Visibility  `json:"visibility,omitempty"`
	Content        string             `json:"content"`
	SessionDate    *time.Time         `json:"session_date,omitempty"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	item, err := s.ingest.Ingest(c.Request().Context(), identity(c), &ingest.Request{
		ContentType:    req.ContentType,
		Title:          req.Title,
		OwnerCoachID:   req.OwnerCoachID,
		OwnerClientID:  req.OwnerClientID,
		OrganizationID: req.OrganizationID,
		Visibility:     req.Visibility,
		Content:        req.Content,
		SessionDate:    req.SessionDate,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (s *Server) handleGetContent(c echo.Context) error {
	item, err := s.retrieval.Get(c.Request().Context(), identity(c), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (s *Server) handleDeleteContent(c echo.Context) error {
	if err := s.retrieval.Delete(c.Request().Context(), identity(c), c.Param("id")); err != nil {
		return s.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// TimelineResponse wraps a reverse-chronological item listing.
type TimelineResponse struct {
	Items []*domain.ContentItem `json:"items"`
	Count int                   `json:"count"`
}

func (s *Server) handleTimeline(c echo.Context) error {
	var req struct {
		ContentTypes   []domain.ContentType `query:"content_type"`
		OwnerCoachID   string               `query:"owner_coach_id"`
		OwnerClientID  string               `query:"owner_client_id"`
		OrganizationID string               `query:"organization_id"`
		Limit          int                  `query:"limit"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}

	items, err := s.retrieval.Timeline(c.Request().Context(), identity(c), &retrieval.TimelineRequest{
		Filters: retrieval.Filters{
			ContentTypes:   req.ContentTypes,
			OwnerCoachID:   req.OwnerCoachID,
			OwnerClientID:  req.OwnerClientID,
			OrganizationID: req.OrganizationID,
		},
		Limit: req.Limit,
	})
	if err != nil {
		return s.httpError(err)
	}
	if items == nil {
		items = []*domain.ContentItem{}
	}
	return c.JSON(http.StatusOK, TimelineResponse{Items: items, Count: len(items)})
}
