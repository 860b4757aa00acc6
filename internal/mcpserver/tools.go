package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
)

type searchInput struct {
	Token         string   `json:"token" jsonschema:"Bearer token for the calling identity"`
	Query         string   `json:"query" jsonschema:"Natural-language query text"`
	ContentTypes  []string `json:"content_types,omitempty" jsonschema:"Restrict to these content types"`
	OwnerCoachID  string   `json:"owner_coach_id,omitempty" jsonschema:"Restrict to items owned by this coach"`
	OwnerClientID string   `json:"owner_client_id,omitempty" jsonschema:"Restrict to items owned by this client"`
	Threshold     *float64 `json:"threshold,omitempty" jsonschema:"Inclusive minimum cosine similarity"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Maximum number of results"`
}

type searchHit struct {
	ItemID      string  `json:"item_id"`
	ChunkIndex  int     `json:"chunk_index"`
	Title       string  `json:"title,omitempty"`
	ContentType string  `json:"content_type"`
	Text        string  `json:"text"`
	Similarity  float32 `json:"similarity"`
	SessionDate string  `json:"session_date,omitempty"`
}

type searchOutput struct {
	Results []searchHit `json:"results"`
	Count   int         `json:"count"`
}

type ingestInput struct {
	Token          string            `json:"token" jsonschema:"Bearer token for the calling identity"`
	ContentType    string            `json:"content_type" jsonschema:"Kind of content being ingested"`
	Title          string            `json:"title,omitempty" jsonschema:"Display title"`
	OwnerCoachID   string            `json:"owner_coach_id,omitempty" jsonschema:"Coach owner"`
	OwnerClientID  string            `json:"owner_client_id,omitempty" jsonschema:"Client owner"`
	OrganizationID string            `json:"organization_id,omitempty" jsonschema:"Organization owner for ownerless material"`
	Visibility     string            `json:"visibility,omitempty" jsonschema:"private, coach_only, org_visible, or public"`
	Content        string            `json:"content" jsonschema:"Plain-text content"`
	SessionDate    string            `json:"session_date,omitempty" jsonschema:"RFC 3339 session date"`
	Metadata       map[string]string `json:"metadata,omitempty" jsonschema:"Free-form metadata"`
}

type ingestOutput struct {
	ItemID string `json:"item_id"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status"`
}

type getContentInput struct {
	Token  string `json:"token" jsonschema:"Bearer token for the calling identity"`
	ItemID string `json:"item_id" jsonschema:"Content item ID"`
}

type getContentOutput struct {
	Item *domain.ContentItem `json:"item"`
}

type timelineInput struct {
	Token        string   `json:"token" jsonschema:"Bearer token for the calling identity"`
	ContentTypes []string `json:"content_types,omitempty" jsonschema:"Restrict to these content types"`
	OwnerCoachID string   `json:"owner_coach_id,omitempty" jsonschema:"Restrict to items owned by this coach"`
	Limit        int      `json:"limit,omitempty" jsonschema:"Maximum number of items"`
}

type timelineOutput struct {
	Items []*domain.ContentItem `json:"items"`
	Count int                   `json:"count"`
}

func (s *Server) registerTools() {
	// search_content
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_content",
		Description: "Semantic search over coaching content visible to the caller",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, searchOutput, error) {
		identity, err := s.identify(ctx, args.Token, domain.ScopeRead)
		if err != nil {
			return nil, searchOutput{}, err
		}
		if args.Query == "" {
			return nil, searchOutput{}, fmt.Errorf("%w: query is required", domain.ErrInvalidQuery)
		}

		vector, err := s.provider.EmbedQuery(ctx, args.Query)
		if err != nil {
			return nil, searchOutput{}, err
		}

		results, err := s.retrieval.Search(ctx, identity, &retrieval.SearchRequest{
			Vector: vector,
			Filters: retrieval.Filters{
				ContentTypes:  contentTypes(args.ContentTypes),
				OwnerCoachID:  args.OwnerCoachID,
				OwnerClientID: args.OwnerClientID,
			},
			Threshold: args.Threshold,
			Limit:     args.Limit,
		})
		if err != nil {
			return nil, searchOutput{}, err
		}

		out := searchOutput{Results: make([]searchHit, 0, len(results)), Count: len(results)}
		for _, r := range results {
			hit := searchHit{
				ItemID:      r.ItemID,
				ChunkIndex:  r.Index,
				Title:       r.Title,
				ContentType: string(r.ContentType),
				Text:        r.Text,
				Similarity:  r.Similarity,
			}
			if r.SessionDate != nil {
				hit.SessionDate = r.SessionDate.Format(time.RFC3339)
			}
			out.Results = append(out.Results, hit)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("%d results", out.Count)},
			},
		}, out, nil
	})

	// ingest_content
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_content",
		Description: "Ingest a plain-text content item: chunk, embed, and index it",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
		identity, err := s.identify(ctx, args.Token, domain.ScopeWrite)
		if err != nil {
			return nil, ingestOutput{}, err
		}

		var sessionDate *time.Time
		if args.SessionDate != "" {
			parsed, err := time.Parse(time.RFC3339, args.SessionDate)
			if err != nil {
				return nil, ingestOutput{}, fmt.Errorf("%w: invalid session_date: %v", domain.ErrValidation, err)
			}
			sessionDate = &parsed
		}

		item, err := s.ingest.Ingest(ctx, identity, &ingest.Request{
			ContentType:    domain.ContentType(args.ContentType),
			Title:          args.Title,
			OwnerCoachID:   args.OwnerCoachID,
			OwnerClientID:  args.OwnerClientID,
			OrganizationID: args.OrganizationID,
			Visibility:     domain.Visibility(args.Visibility),
			Content:        args.Content,
			SessionDate:    sessionDate,
			Metadata:       args.Metadata,
		})
		if err != nil {
			return nil, ingestOutput{}, err
		}

		out := ingestOutput{ItemID: item.ID, Title: item.Title, Status: string(item.Status)}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Ingested item %s", out.ItemID)},
			},
		}, out, nil
	})

	// get_content
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_content",
		Description: "Fetch a content item by ID",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args getContentInput) (*mcp.CallToolResult, getContentOutput, error) {
		identity, err := s.identify(ctx, args.Token, domain.ScopeRead)
		if err != nil {
			return nil, getContentOutput{}, err
		}

		item, err := s.retrieval.Get(ctx, identity, args.ItemID)
		if err != nil {
			return nil, getContentOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Item %s: %s", item.ID, item.Title)},
			},
		}, getContentOutput{Item: item}, nil
	})

	// content_timeline
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "content_timeline",
		Description: "List visible content items in reverse session-date order",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args timelineInput) (*mcp.CallToolResult, timelineOutput, error) {
		identity, err := s.identify(ctx, args.Token, domain.ScopeRead)
		if err != nil {
			return nil, timelineOutput{}, err
		}

		items, err := s.retrieval.Timeline(ctx, identity, &retrieval.TimelineRequest{
			Filters: retrieval.Filters{
				ContentTypes: contentTypes(args.ContentTypes),
				OwnerCoachID: args.OwnerCoachID,
			},
			Limit: args.Limit,
		})
		if err != nil {
			return nil, timelineOutput{}, err
		}
		if items == nil {
			items = []*domain.ContentItem{}
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("%d items", len(items))},
			},
		}, timelineOutput{Items: items, Count: len(items)}, nil
	})
}

func contentTypes(raw []string) []domain.ContentType {
	if len(raw) == 0 {
		return nil
	}
	types := make([]domain.ContentType, len(raw))
	for i, s := range raw {
		types[i] = domain.ContentType(s)
	}
	return types
}
