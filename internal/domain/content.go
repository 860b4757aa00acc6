// Package domain holds the data model shared by the retrieval core: content
// items and their chunks, identities, credentials, and the error taxonomy.
//
// The package is intentionally free of I/O so the access rules and validation
// logic can be tested without any backing store.
package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ContentType classifies an uploaded document or session.
type ContentType string

const (
	TypeTranscript      ContentType = "transcript"
	TypeAssessment      ContentType = "assessment"
	TypeCoachAssessment ContentType = "coach_assessment"
	TypeCoachingModel   ContentType = "coaching_model"
	TypeCompanyDoc      ContentType = "company_doc"
	TypeBlogPost        ContentType = "blog_post"
	TypeQuestionnaire   ContentType = "questionnaire"
)

// contentTypes is the set of recognized content types.
var contentTypes = map[ContentType]bool{
	TypeTranscript:      true,
	TypeAssessment:      true,
	TypeCoachAssessment: true,
	TypeCoachingModel:   true,
	TypeCompanyDoc:      true,
	TypeBlogPost:        true,
	TypeQuestionnaire:   true,
}

// Valid reports whether t is a recognized content type.
func (t ContentType) Valid() bool {
	return contentTypes[t]
}

// Visibility gates which non-owner roles may see a content item.
type Visibility string

const (
	// VisibilityPrivate: owner only (client self-reads included).
	VisibilityPrivate Visibility = "private"
	// VisibilityCoachOnly: the owning coach and assigned coaches, but not the
	// client the item is about (e.g. coach assessments).
	VisibilityCoachOnly Visibility = "coach_only"
	// VisibilityOrg: visible within the owning organization.
	VisibilityOrg Visibility = "org_visible"
	// VisibilityPublic: visible to any identity the access rules reach.
	VisibilityPublic Visibility = "public"
)

var visibilities = map[Visibility]bool{
	VisibilityPrivate:   true,
	VisibilityCoachOnly: true,
	VisibilityOrg:       true,
	VisibilityPublic:    true,
}

// Valid reports whether v is a recognized visibility level.
func (v Visibility) Valid() bool {
	return visibilities[v]
}

// ItemStatus tracks ingestion progress. Items are only readable and
// searchable once complete; pending items are invisible to every read path.
type ItemStatus string

const (
	StatusPending  ItemStatus = "pending"
	StatusComplete ItemStatus = "complete"
)

// MinContentLength is the minimum raw content length accepted for ingestion.
const MinContentLength = 50

// ContentItem is one uploaded document or session transcript.
//
// Content is immutable once chunked: updates require a full re-ingest.
// Deleting an item cascades to its chunks.
type ContentItem struct {
	ID             string            `json:"id"`
	ContentType    ContentType       `json:"content_type"`
	Title          string            `json:"title"`
	OwnerCoachID   string            `json:"owner_coach_id,omitempty"`
	OwnerClientID  string            `json:"owner_client_id,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	Visibility     Visibility        `json:"visibility"`
	RawContent     string            `json:"raw_content,omitempty"`
	SessionDate    *time.Time        `json:"session_date,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Status         ItemStatus        `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Validate checks the item's structural invariants before ingestion.
func (it *ContentItem) Validate() error {
	if !it.ContentType.Valid() {
		return fmt.Errorf("%w: unknown content type %q", ErrValidation, it.ContentType)
	}
	if !it.Visibility.Valid() {
		return fmt.Errorf("%w: unknown visibility %q", ErrValidation, it.Visibility)
	}
	if utf8.RuneCountInString(strings.TrimSpace(it.RawContent)) < MinContentLength {
		return fmt.Errorf("%w: content must be at least %d characters", ErrValidation, MinContentLength)
	}
	// Every item needs an owner principal unless it is an organization-level
	// document.
	if it.OwnerCoachID == "" && it.OwnerClientID == "" && it.OrganizationID == "" {
		return fmt.Errorf("%w: item requires a coach, client, or organization owner", ErrValidation)
	}
	return nil
}

// OwnerRefs returns every owner principal of the item. A session transcript
// co-owned by a coach and a client yields both refs; the organization ref is
// only an owner for org-level documents with no individual owner.
//
// Access and chunk routing are disjunctive over these refs: the item is
// reachable through any of them.
func (it *ContentItem) OwnerRefs() []OwnerRef {
	var refs []OwnerRef
	if it.OwnerCoachID != "" {
		refs = append(refs, OwnerRef{Kind: OwnerCoach, ID: it.OwnerCoachID})
	}
	if it.OwnerClientID != "" {
		refs = append(refs, OwnerRef{Kind: OwnerClient, ID: it.OwnerClientID})
	}
	if len(refs) == 0 && it.OrganizationID != "" {
		refs = append(refs, OwnerRef{Kind: OwnerOrg, ID: it.OrganizationID})
	}
	return refs
}

// OwnerKind discriminates the principal a content item belongs to.
type OwnerKind string

const (
	OwnerCoach  OwnerKind = "coach"
	OwnerClient OwnerKind = "client"
	OwnerOrg    OwnerKind = "org"
)

// OwnerRef identifies the owner principal of a content item.
type OwnerRef struct {
	Kind OwnerKind
	ID   string
}

// Chunk is the atomic unit of search: a fixed-size overlapping text window
// with its embedding vector and denormalized parent fields for filtering.
//
// For a given ItemID, chunk indices form a contiguous 0..N-1 sequence.
type Chunk struct {
	ID             string      `json:"id"`
	ItemID         string      `json:"item_id"`
	Index          int         `json:"index"`
	Text           string      `json:"text"`
	Vector         []float32   `json:"-"`
	ContentType    ContentType `json:"content_type"`
	Title          string      `json:"title"`
	OwnerCoachID   string      `json:"owner_coach_id,omitempty"`
	OwnerClientID  string      `json:"owner_client_id,omitempty"`
	OrganizationID string      `json:"organization_id,omitempty"`
	Visibility     Visibility  `json:"visibility"`
	SessionDate    *time.Time  `json:"session_date,omitempty"`
}

// RankedChunk is a search hit: a chunk with its similarity score and the
// parent item's presentation fields joined in.
type RankedChunk struct {
	Chunk
	Similarity float32 `json:"similarity"`
}
