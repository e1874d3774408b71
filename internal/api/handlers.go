package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/artifactservice"
	"github.com/starford/kodebase/internal/contextgen"
	"github.com/starford/kodebase/internal/validation"
)

const maxBody = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *artifactservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *artifactservice.Service) *Handler {
	return &Handler{svc: svc}
}

func artifactID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
	return false
}

func boolParam(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// ListArtifacts handles GET /api/artifacts.
//
//	@Summary		List artifacts, optionally filtered by current state
//	@Tags			artifacts
//	@Produce		json
//	@Param			state	query		string	false	"Current state"
//	@Success		200		{object}	ArtifactListResponse
//	@Security		BearerAuth
//	@Router			/artifacts [get]
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state != "" && !slices.Contains(artifact.States, artifact.State(state)) {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown state "+strconv.Quote(state)))
		return
	}
	items, err := h.svc.List(r.Context(), state)
	if err != nil {
		writeError(w, "list artifacts", err)
		return
	}
	items = nonNil(items)
	writeJSON(w, http.StatusOK, ArtifactListResponse{Artifacts: items, Total: len(items)})
}

// CreateArtifact handles POST /api/artifacts. The body is the YAML record.
//
//	@Summary		Create an artifact from its YAML source
//	@Tags			artifacts
//	@Accept			application/yaml
//	@Produce		json
//	@Success		201	{object}	artifactservice.Detail
//	@Failure		409	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts [post]
func (h *Handler) CreateArtifact(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("cannot read body"))
		return
	}
	d, err := h.svc.Create(r.Context(), data)
	if err != nil {
		writeError(w, "create artifact", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetArtifact handles GET /api/artifacts/{id}.
//
//	@Summary		Get a single artifact with its blocked status and dependents
//	@Tags			artifacts
//	@Produce		json
//	@Param			id	path		string	true	"Artifact ID"
//	@Success		200	{object}	artifactservice.Detail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts/{id} [get]
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), artifactID(r))
	if err != nil {
		writeError(w, "get artifact", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Dependencies handles GET /api/artifacts/{id}/dependencies.
func (h *Handler) Dependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := h.svc.Dependencies(r.Context(), artifactID(r))
	if err != nil {
		writeError(w, "dependencies", err)
		return
	}
	writeJSON(w, http.StatusOK, ArtifactsResponse{Artifacts: nonNil(deps)})
}

// Dependents handles GET /api/artifacts/{id}/dependents.
func (h *Handler) Dependents(w http.ResponseWriter, r *http.Request) {
	deps, err := h.svc.Dependents(r.Context(), artifactID(r))
	if err != nil {
		writeError(w, "dependents", err)
		return
	}
	writeJSON(w, http.StatusOK, ArtifactsResponse{Artifacts: nonNil(deps)})
}

// Chain handles GET /api/artifacts/{id}/chain. A cycle on the way is
// reported as 422 with the cycle path in the message.
func (h *Handler) Chain(w http.ResponseWriter, r *http.Request) {
	id := artifactID(r)
	chain, err := h.svc.Chain(r.Context(), id)
	if err != nil {
		writeError(w, "chain", err)
		return
	}
	writeJSON(w, http.StatusOK, ChainResponse{ID: id, Chain: nonNil(chain)})
}

// Blocked handles GET /api/artifacts/{id}/blocked.
func (h *Handler) Blocked(w http.ResponseWriter, r *http.Request) {
	id := artifactID(r)
	blocked, err := h.svc.IsBlocked(r.Context(), id)
	if err != nil {
		writeError(w, "is blocked", err)
		return
	}
	writeJSON(w, http.StatusOK, BlockedResponse{ID: id, Blocked: blocked})
}

// Context handles GET /api/artifacts/{id}/context.
//
//	@Summary		Render the Markdown brief of a milestone or initiative
//	@Tags			artifacts
//	@Produce		json
//	@Param			id			path		string	true	"Milestone or initiative ID"
//	@Param			dev_process	query		bool	false	"Include issue event history"
//	@Param			completion	query		bool	false	"Include completion analysis"
//	@Success		200			{object}	contextgen.Context
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts/{id}/context [get]
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	id := artifactID(r)
	if t, err := artifact.TypeOf(id); err != nil || t == artifact.TypeIssue {
		writeJSON(w, http.StatusBadRequest, errorBody("context is generated for milestones and initiatives"))
		return
	}
	c, err := h.svc.Context(r.Context(), id, contextgen.Options{
		IncludeDevProcess:         boolParam(r, "dev_process"),
		IncludeCompletionAnalysis: boolParam(r, "completion"),
	})
	if err != nil {
		writeError(w, "context", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Cycles handles GET /api/graph/cycles.
func (h *Handler) Cycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.svc.Cycles(r.Context())
	if err != nil {
		writeError(w, "cycles", err)
		return
	}
	writeJSON(w, http.StatusOK, CyclesResponse{Cycles: nonNil(cycles)})
}

// CrossLevel handles GET /api/graph/cross-level.
func (h *Handler) CrossLevel(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.CrossLevel(r.Context())
	if err != nil {
		writeError(w, "cross-level", err)
		return
	}
	writeJSON(w, http.StatusOK, CrossLevelResponse{Violations: nonNil(v)})
}

// Consistency handles GET /api/graph/consistency.
func (h *Handler) Consistency(w http.ResponseWriter, r *http.Request) {
	inc, err := h.svc.Consistency(r.Context())
	if err != nil {
		writeError(w, "consistency", err)
		return
	}
	writeJSON(w, http.StatusOK, ConsistencyResponse{Inconsistencies: nonNil(inc)})
}

func defaultValidation() validation.Options {
	return validation.Options{CheckDependencies: true, CheckRelationships: true, CheckCrossLevel: true}
}

// ValidateAll handles POST /api/validate. Without a body every check runs.
//
//	@Summary		Validate every artifact
//	@Tags			validation
//	@Accept			json
//	@Produce		json
//	@Param			body	body		validation.Options	false	"Checks to run"
//	@Success		200		{object}	validation.Report
//	@Security		BearerAuth
//	@Router			/validate [post]
func (h *Handler) ValidateAll(w http.ResponseWriter, r *http.Request) {
	opts := defaultValidation()
	if !decode(w, r, &opts) {
		return
	}
	report, err := h.svc.ValidateAll(r.Context(), opts)
	if err != nil {
		writeError(w, "validate", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ValidateArtifact handles POST /api/artifacts/{id}/validate.
func (h *Handler) ValidateArtifact(w http.ResponseWriter, r *http.Request) {
	opts := defaultValidation()
	if !decode(w, r, &opts) {
		return
	}
	res, err := h.svc.Validate(r.Context(), artifactID(r), opts)
	if err != nil {
		writeError(w, "validate artifact", err)
		return
	}
	res.Findings = nonNil(res.Findings)
	writeJSON(w, http.StatusOK, res)
}

// Fix handles POST /api/artifacts/{id}/fix.
func (h *Handler) Fix(w http.ResponseWriter, r *http.Request) {
	id := artifactID(r)
	applied, err := h.svc.Fix(r.Context(), id)
	if err != nil {
		writeError(w, "fix", err)
		return
	}
	writeJSON(w, http.StatusOK, FixResponse{ID: id, Applied: applied})
}

// ExecuteCascade handles POST /api/cascades.
//
//	@Summary		Run the cascades implied by an event
//	@Tags			cascades
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CascadeRequest	true	"Artifact, trigger and actor"
//	@Success		200		{object}	cascade.Result
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cascades [post]
func (h *Handler) ExecuteCascade(w http.ResponseWriter, r *http.Request) {
	var req CascadeRequest
	if !decode(w, r, &req) {
		return
	}
	if !artifact.ValidID(req.ArtifactID) || req.Trigger == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("artifact_id and trigger are required"))
		return
	}
	res, err := h.svc.ExecuteCascade(r.Context(), req)
	if err != nil {
		writeError(w, "cascade", err)
		return
	}
	res.UpdatedArtifacts = nonNil(res.UpdatedArtifacts)
	res.Events = nonNil(res.Events)
	writeJSON(w, http.StatusOK, res)
}

// Action returns the handler for POST /api/artifacts/{id}/{action}.
func (h *Handler) Action(action artifactservice.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ActionRequest
		if !decode(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Actor) == "" {
			writeJSON(w, http.StatusBadRequest, errorBody("actor is required"))
			return
		}
		out, err := h.svc.Do(r.Context(), action, artifactID(r), req.Actor)
		if err != nil {
			writeError(w, string(action), err)
			return
		}
		out.Cascade.UpdatedArtifacts = nonNil(out.Cascade.UpdatedArtifacts)
		out.Cascade.Events = nonNil(out.Cascade.Events)
		writeJSON(w, http.StatusOK, out)
	}
}

// Link handles POST /api/links.
func (h *Handler) Link(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Blocker == "" || req.Blocked == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("blocker and blocked are required"))
		return
	}
	if err := h.svc.Link(r.Context(), req.Blocker, req.Blocked); err != nil {
		writeError(w, "link", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across artifacts
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNil(results)})
}
