// Package validation runs structural, readiness, format and graph checks
// over stored artifact records and applies mechanical fixes.
package validation

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/finding"
	"github.com/starford/kodebase/internal/graph"
	"github.com/starford/kodebase/internal/parser"
	"github.com/starford/kodebase/internal/readiness"
	"github.com/starford/kodebase/internal/statemachine"
	"github.com/starford/kodebase/internal/storage"
)

const validateConcurrency = 8

// Options selects which checks run.
type Options struct {
	// UseCache reuses documents and the record snapshot loaded by earlier calls.
	UseCache bool `json:"use_cache"`
	// CheckDependencies enables child and blocked_by readiness checks.
	CheckDependencies bool `json:"check_dependencies"`
	// CheckRelationships reports one-sided blocks/blocked_by edges.
	CheckRelationships bool `json:"check_relationships"`
	// CheckCrossLevel reports hierarchy-violating edges. ValidateAll only.
	CheckCrossLevel bool `json:"check_cross_level"`
}

// Result is the outcome for one record file.
type Result struct {
	Path       string            `json:"path"`
	ArtifactID string            `json:"artifact_id,omitempty"`
	Valid      bool              `json:"valid"`
	Findings   []finding.Finding `json:"findings"`
}

// Report is the outcome of ValidateAll.
type Report struct {
	Results  []Result          `json:"results"`
	System   []finding.Finding `json:"system"`
	Duration time.Duration     `json:"duration"`
}

// Findings returns every per-record and system finding.
func (r *Report) Findings() []finding.Finding {
	var out []finding.Finding
	for _, res := range r.Results {
		out = append(out, res.Findings...)
	}
	return append(out, r.System...)
}

// Valid reports whether no finding has error severity.
func (r *Report) Valid() bool {
	return !finding.HasErrors(r.Findings())
}

type document struct {
	data []byte
	a    *artifact.Artifact
	err  error
}

// Engine validates records under one store. Its document cache is explicit:
// ClearCache drops it together with the graph snapshot.
type Engine struct {
	store  *storage.Store
	graph  *graph.Service
	logger *slog.Logger

	mu   sync.Mutex
	docs map[string]*document
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine over store, sharing g for record snapshots.
func New(store *storage.Store, g *graph.Service, opts ...Option) *Engine {
	e := &Engine{store: store, graph: g, docs: make(map[string]*document)}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// ClearCache forgets cached documents and the graph snapshot.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	e.docs = make(map[string]*document)
	e.mu.Unlock()
	e.graph.ClearCache()
}

func (e *Engine) load(rel string, useCache bool) (*document, error) {
	if useCache {
		e.mu.Lock()
		d, ok := e.docs[rel]
		e.mu.Unlock()
		if ok {
			return d, nil
		}
	}
	data, err := e.store.Provider().Read(rel)
	if err != nil {
		return nil, fmt.Errorf("validation: read %s: %w", rel, err)
	}
	d := &document{data: data}
	d.a, d.err = parser.Parse(data)
	e.mu.Lock()
	e.docs[rel] = d
	e.mu.Unlock()
	return d, nil
}

// ValidateArtifact checks the record stored at rel (relative to the store root).
//
// Structural problems produce a single SCHEMA_VALIDATION_FAILED finding and
// nothing else. Otherwise readiness and format findings are reported, plus
// dependency and relationship findings when requested.
func (e *Engine) ValidateArtifact(rel string, opts Options) (Result, error) {
	d, err := e.load(rel, opts.UseCache)
	if err != nil {
		return Result{}, err
	}
	res := Result{Path: rel}
	if d.a != nil {
		res.ArtifactID = d.a.ID
	}

	if err := structural(rel, d); err != nil {
		f := finding.New(finding.SchemaValidationFailed, res.ArtifactID, "", "%s", err.Error())
		res.Findings = []finding.Finding{f}
		return res, nil
	}
	a := d.a

	var records map[string]*artifact.Artifact
	if opts.CheckDependencies || opts.CheckRelationships {
		if !opts.UseCache {
			e.graph.ClearCache()
		}
		snap, err := e.graph.Snapshot()
		if err != nil {
			return Result{}, err
		}
		records = snap.Records()
	}

	if opts.CheckDependencies {
		res.Findings = append(res.Findings, readiness.Validate(a, records)...)
	} else {
		res.Findings = append(res.Findings, readiness.Validate(a, nil)...)
	}
	if opts.CheckRelationships {
		res.Findings = append(res.Findings, relationships(a, records)...)
	}
	res.Findings = append(res.Findings, format(a.ID, d.data)...)
	res.Valid = !finding.HasErrors(res.Findings)
	return res, nil
}

func structural(rel string, d *document) error {
	if d.err != nil {
		return d.err
	}
	a := d.a
	if err := a.Validate(); err != nil {
		return err
	}
	if id, ok := artifact.IDFromFileName(path.Base(rel)); ok && id != a.ID {
		return fmt.Errorf("id: file name says %q but record declares %q", id, a.ID)
	}
	return statemachine.VerifyHistory(a.Metadata.Events)
}

func relationships(a *artifact.Artifact, records map[string]*artifact.Artifact) []finding.Finding {
	var out []finding.Finding
	for _, b := range a.Metadata.Relationships.Blocks {
		if other, ok := records[b]; ok && !other.BlockedBy(a.ID) {
			out = append(out, finding.New(finding.RelationshipInconsistency, a.ID, "metadata.relationships.blocks",
				"%s blocks %s but %s does not list %s in blocked_by", a.ID, b, b, a.ID))
		}
	}
	for _, b := range a.Metadata.Relationships.BlockedBy {
		if other, ok := records[b]; ok && !other.Blocks(a.ID) {
			out = append(out, finding.New(finding.RelationshipInconsistency, a.ID, "metadata.relationships.blocked_by",
				"%s is blocked by %s but %s does not list %s in blocks", a.ID, b, b, a.ID))
		}
	}
	return out
}

func format(id string, data []byte) []finding.Finding {
	problems, err := parser.Inspect(data)
	if err != nil {
		return nil
	}
	var out []finding.Finding
	for _, p := range problems {
		code := finding.FormatTrailingWhitespace
		if p.Kind == parser.FieldOrder {
			code = finding.FormatFieldOrder
		}
		f := finding.New(code, id, "", "line %d: %s", p.Line, p.Detail)
		f.Severity = finding.SeverityWarning
		f.Fixable = true
		out = append(out, f)
	}
	return out
}

// ValidateAll validates every record file independently, then adds
// system-scoped graph findings.
func (e *Engine) ValidateAll(opts Options) (*Report, error) {
	start := time.Now()
	if !opts.UseCache {
		e.ClearCache()
	}
	metas, err := e.store.Provider().List("")
	if err != nil {
		return nil, err
	}
	if opts.CheckDependencies {
		if _, err := e.graph.Snapshot(); err != nil {
			return nil, err
		}
	}

	// Per-record calls share the snapshot loaded (or cleared) above; one-sided
	// edges are reported once, at system scope.
	perRecord := opts
	perRecord.UseCache = true
	perRecord.CheckRelationships = false

	results := make([]Result, len(metas))
	var g errgroup.Group
	g.SetLimit(validateConcurrency)
	for i, m := range metas {
		g.Go(func() error {
			res, err := e.ValidateArtifact(m.Path, perRecord)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	system, err := e.systemFindings(opts)
	if err != nil {
		return nil, err
	}
	r := &Report{Results: results, System: system, Duration: time.Since(start)}
	e.logger.Info("validation: completed",
		slog.Int("records", len(results)),
		slog.Int("system_findings", len(system)),
		slog.Duration("duration", r.Duration))
	return r, nil
}

func (e *Engine) systemFindings(opts Options) ([]finding.Finding, error) {
	var out []finding.Finding
	cycles, err := e.graph.DetectCircularDependencies()
	if err != nil {
		return nil, err
	}
	for _, c := range cycles {
		out = append(out, systemFinding(finding.CircularDependency, c.Path, "circular dependency: %s", c.String()))
	}
	if opts.CheckCrossLevel {
		violations, err := e.graph.DetectCrossLevelDependencies()
		if err != nil {
			return nil, err
		}
		for _, v := range violations {
			out = append(out, systemFinding(finding.CrossLevelDependency, []string{v.Blocked, v.Blocker}, "%s", v.Reason))
		}
	}
	if opts.CheckRelationships {
		found, err := e.graph.ValidateRelationshipConsistency()
		if err != nil {
			return nil, err
		}
		for _, inc := range found {
			out = append(out, systemFinding(finding.RelationshipInconsistency, []string{inc.From, inc.To}, "%s", inc.Message))
		}
	}
	return out, nil
}

func systemFinding(code finding.Code, ids []string, format string, args ...any) finding.Finding {
	f := finding.New(code, "", "", format, args...)
	f.Scope = finding.ScopeSystem
	f.Path = ids
	return f
}

// ErrNotFixable is returned when ApplyFixes is handed only semantic findings.
var ErrNotFixable = errors.New("validation: no fixable findings")

// ApplyFixes rewrites the record at rel to resolve the fixable findings in
// fs and returns the codes it applied. Semantic findings are ignored.
func (e *Engine) ApplyFixes(rel string, fs []finding.Finding) ([]finding.Code, error) {
	want := make(map[finding.Code]bool)
	for _, f := range fs {
		if f.Fixable {
			want[f.Code] = true
		}
	}
	if len(want) == 0 {
		return nil, ErrNotFixable
	}

	data, err := e.store.Provider().Read(rel)
	if err != nil {
		return nil, fmt.Errorf("validation: read %s: %w", rel, err)
	}
	out := data
	var applied []finding.Code
	if want[finding.FormatTrailingWhitespace] {
		out = parser.TrimTrailingWhitespace(out)
		applied = append(applied, finding.FormatTrailingWhitespace)
	}
	if want[finding.FormatFieldOrder] {
		out, err = parser.Canonicalize(out)
		if err != nil {
			return nil, fmt.Errorf("validation: fix %s: %w", rel, err)
		}
		applied = append(applied, finding.FormatFieldOrder)
	}
	if string(out) != string(data) {
		if err := e.store.Provider().Write(rel, out); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	delete(e.docs, rel)
	e.mu.Unlock()
	e.graph.ClearCache()
	e.logger.Info("validation: fixes applied",
		slog.String("path", rel),
		slog.Any("codes", applied))
	return applied, nil
}
