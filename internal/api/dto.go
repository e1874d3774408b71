package api

import (
	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/artifactservice"
	"github.com/starford/kodebase/internal/cascade"
	"github.com/starford/kodebase/internal/finding"
	"github.com/starford/kodebase/internal/graph"
	"github.com/starford/kodebase/internal/index"
	"github.com/starford/kodebase/internal/lifecycle"
)

// ActionRequest is the request body for lifecycle actions.
type ActionRequest struct {
	Actor string `json:"actor" example:"Ada Lovelace (ada@example.com)" validate:"required"`
}

// LinkRequest is the request body for POST /links.
type LinkRequest struct {
	Blocker string `json:"blocker" example:"A.1.1" validate:"required"`
	Blocked string `json:"blocked" example:"A.1.2" validate:"required"`
}

// CascadeRequest is the request body for POST /cascades.
type CascadeRequest = cascade.Request

// ArtifactListResponse wraps artifact listings.
type ArtifactListResponse struct {
	Artifacts []artifactservice.Summary `json:"artifacts" validate:"required"`
	Total     int                       `json:"total" example:"42" validate:"required"`
}

// ArtifactsResponse wraps a list of full records.
type ArtifactsResponse struct {
	Artifacts []*artifact.Artifact `json:"artifacts" validate:"required"`
}

// ChainResponse is the transitive blocker closure of an artifact.
type ChainResponse struct {
	ID    string   `json:"id" example:"A.1.3"`
	Chain []string `json:"chain" validate:"required"`
}

// BlockedResponse reports whether an artifact is blocked.
type BlockedResponse struct {
	ID      string `json:"id" example:"A.1.3"`
	Blocked bool   `json:"blocked"`
}

// CyclesResponse lists dependency cycles.
type CyclesResponse struct {
	Cycles []graph.Cycle `json:"cycles" validate:"required"`
}

// CrossLevelResponse lists hierarchy-violating edges.
type CrossLevelResponse struct {
	Violations []graph.CrossLevelViolation `json:"violations" validate:"required"`
}

// ConsistencyResponse lists one-sided relationships.
type ConsistencyResponse struct {
	Inconsistencies []graph.Inconsistency `json:"inconsistencies" validate:"required"`
}

// FixResponse lists the finding codes that were fixed.
type FixResponse struct {
	ID      string         `json:"id"`
	Applied []finding.Code `json:"applied" validate:"required"`
}

// ActionResponse is the outcome of a lifecycle action.
type ActionResponse = lifecycle.Outcome

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
