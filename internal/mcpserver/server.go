// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the artifact engine to LLM agents via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/artifactservice"
	"github.com/starford/kodebase/internal/cascade"
	"github.com/starford/kodebase/internal/contextgen"
	"github.com/starford/kodebase/internal/validation"
)

const formatURI = "kodebase://artifact-format"

// Server wraps the MCP server with the artifact tools.
type Server struct {
	mcp *server.MCPServer
	svc *artifactservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *artifactservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Kodebase",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_artifacts",
		mcp.WithDescription("List artifacts ordered by ID, optionally filtered by current state."),
		mcp.WithString("state", mcp.Description("Optional state filter (draft, ready, blocked, in_progress, ...)")),
	), s.listArtifacts)

	s.mcp.AddTool(mcp.NewTool("get_artifact",
		mcp.WithDescription("Read one artifact with its current state, blocked status and dependents."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Artifact ID (e.g. A.1.3)")),
	), s.getArtifact)

	s.mcp.AddTool(mcp.NewTool("create_artifact",
		mcp.WithDescription("Create a new artifact from its YAML record. "+
			"Content MUST follow the artifact format contract. Read it first via "+
			"the get_artifact_contract tool or the "+formatURI+" resource."),
		mcp.WithString("content", mcp.Required(), mcp.Description("YAML record following the artifact format contract")),
	), s.createArtifact)

	s.mcp.AddTool(mcp.NewTool("get_artifact_contract",
		mcp.WithDescription("Returns the artifact record format contract. "+
			"Call this before creating artifacts to ensure correct structure."),
	), s.getArtifactContract)

	s.mcp.AddTool(mcp.NewTool("get_dependencies",
		mcp.WithDescription("Show what an artifact waits on: direct blockers, the full blocker chain and its dependents."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Artifact ID")),
	), s.getDependencies)

	s.mcp.AddTool(mcp.NewTool("validate",
		mcp.WithDescription("Validate one artifact, or every artifact when id is omitted."),
		mcp.WithString("id", mcp.Description("Optional artifact ID")),
	), s.validate)

	s.mcp.AddTool(mcp.NewTool("transition",
		mcp.WithDescription("Perform a lifecycle action on an artifact and run the cascades it implies."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Artifact ID")),
		mcp.WithString("action", mcp.Required(), mcp.Enum(actionNames()...), mcp.Description("Lifecycle action")),
		mcp.WithString("actor", mcp.Required(), mcp.Description(`Actor, formatted "Name (email)"`)),
	), s.transition)

	s.mcp.AddTool(mcp.NewTool("execute_cascade",
		mcp.WithDescription("Run the cascades implied by an event that already happened."),
		mcp.WithString("artifact_id", mcp.Required(), mcp.Description("Artifact the event happened on")),
		mcp.WithString("trigger", mcp.Required(), mcp.Description("Event trigger (branch_created, pr_merged, ...)")),
		mcp.WithString("actor", mcp.Description("Actor recorded on cascade events")),
	), s.executeCascade)

	s.mcp.AddTool(mcp.NewTool("link",
		mcp.WithDescription("Record that one artifact blocks another. Cycles and cross-level links are rejected."),
		mcp.WithString("blocker", mcp.Required(), mcp.Description("Blocking artifact ID")),
		mcp.WithString("blocked", mcp.Required(), mcp.Description("Blocked artifact ID")),
	), s.link)

	s.mcp.AddTool(mcp.NewTool("search_artifacts",
		mcp.WithDescription("Full-text search through artifact titles and content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchArtifacts)

	s.mcp.AddTool(mcp.NewTool("get_context",
		mcp.WithDescription("Render a Markdown brief of a milestone or initiative and its children."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Milestone or initiative ID")),
		mcp.WithBoolean("dev_process", mcp.Description("Include each issue's event history")),
		mcp.WithBoolean("completion", mcp.Description("Include completion analysis")),
	), s.getContext)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Artifact Format Contract",
			mcp.WithResourceDescription("YAML record format that every artifact must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func actionNames() []string {
	out := make([]string, len(artifactservice.Actions))
	for i, a := range artifactservice.Actions {
		out[i] = string(a)
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listArtifacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.List(ctx, req.GetString("state", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%s\t%s\t%s", it.ID, it.State, it.Title)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return jsonResult(d)
}

func (s *Server) createArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.Create(ctx, []byte(content))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", d.Path)), nil
}

func (s *Server) getArtifactContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ArtifactFormatContract), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     ArtifactFormatContract,
		},
	}, nil
}

type dependencyView struct {
	ID         string   `json:"id"`
	BlockedBy  []string `json:"blocked_by"`
	Chain      []string `json:"chain"`
	Dependents []string `json:"dependents"`
	Blocked    bool     `json:"blocked"`
}

func ids(as []*artifact.Artifact) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}

func (s *Server) getDependencies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	deps, err := s.svc.Dependencies(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	chain, err := s.svc.Chain(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dependents, err := s.svc.Dependents(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	blocked, err := s.svc.IsBlocked(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(dependencyView{
		ID:         id,
		BlockedBy:  ids(deps),
		Chain:      append([]string{}, chain...),
		Dependents: ids(dependents),
		Blocked:    blocked,
	})
}

func (s *Server) validate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := validation.Options{CheckDependencies: true, CheckRelationships: true, CheckCrossLevel: true}
	if id := req.GetString("id", ""); id != "" {
		res, err := s.svc.Validate(ctx, id, opts)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	}
	report, err := s.svc.ValidateAll(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report)
}

func (s *Server) transition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	actor, err := req.RequireString("actor")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.Do(ctx, artifactservice.Action(action), id, actor)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if out.NoOp {
		return mcp.NewToolResultText(fmt.Sprintf("%s: already %s, cascades re-run (%d updated)",
			id, out.Artifact.CurrentState(), len(out.Cascade.Events))), nil
	}
	return mcp.NewToolResultText(summarize(id, out.Artifact.CurrentState(), out.Cascade)), nil
}

func summarize(id string, state artifact.State, res cascade.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", id, state)
	for _, ev := range res.Events {
		fmt.Fprintf(&b, "\n  cascade %s: %s (%s)", ev.ArtifactID, ev.Event, ev.Trigger)
	}
	return b.String()
}

func (s *Server) executeCascade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("artifact_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	trigger, err := req.RequireString("trigger")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.ExecuteCascade(ctx, cascade.Request{
		ArtifactID: id,
		Trigger:    artifact.Trigger(trigger),
		Actor:      req.GetString("actor", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.Empty() {
		return mcp.NewToolResultText("no cascade changes"), nil
	}
	return jsonResult(res)
}

func (s *Server) link(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	blocker, err := req.RequireString("blocker")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	blocked, err := req.RequireString("blocked")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Link(ctx, blocker, blocked); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("linked: %s blocks %s", blocker, blocked)), nil
}

func (s *Server) searchArtifacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) getContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.svc.Context(ctx, id, contextgen.Options{
		IncludeDevProcess:         req.GetBool("dev_process", false),
		IncludeCompletionAnalysis: req.GetBool("completion", false),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(c.Content), nil
}
