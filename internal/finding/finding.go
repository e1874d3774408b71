// Package finding defines the result entries produced by readiness,
// validation and graph checks.
package finding

import "fmt"

// Code identifies the kind of a finding.
type Code string

const (
	SchemaValidationFailed Code = "SCHEMA_VALIDATION_FAILED"

	MissingTitle                    Code = "MISSING_TITLE"
	IssueMissingSummary             Code = "ISSUE_MISSING_SUMMARY"
	IssueMissingAcceptanceCriteria  Code = "ISSUE_MISSING_ACCEPTANCE_CRITERIA"
	IssueDependencyNotReady         Code = "ISSUE_DEPENDENCY_NOT_READY"
	IssueInvalidDependency          Code = "ISSUE_INVALID_DEPENDENCY"
	MilestoneMissingDeliverables    Code = "MILESTONE_MISSING_DELIVERABLES"
	MilestoneMissingValidation      Code = "MILESTONE_MISSING_VALIDATION"
	MilestoneNoReadyIssues          Code = "MILESTONE_NO_READY_ISSUES"
	InitiativeMissingVision         Code = "INITIATIVE_MISSING_VISION"
	InitiativeMissingScope          Code = "INITIATIVE_MISSING_SCOPE"
	InitiativeMissingSuccess        Code = "INITIATIVE_MISSING_SUCCESS_CRITERIA"
	InitiativeUnmeasurableCriteria  Code = "INITIATIVE_UNMEASURABLE_CRITERIA"
	InitiativeNoReadyMilestones     Code = "INITIATIVE_NO_READY_MILESTONES"

	FormatTrailingWhitespace Code = "FORMAT_TRAILING_WHITESPACE"
	FormatFieldOrder         Code = "FORMAT_FIELD_ORDER"

	CircularDependency        Code = "CIRCULAR_DEPENDENCY"
	CrossLevelDependency      Code = "CROSS_LEVEL_DEPENDENCY"
	RelationshipInconsistency Code = "RELATIONSHIP_INCONSISTENCY"
)

// Severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Scope separates per-record findings from whole-graph ones.
type Scope string

const (
	ScopeArtifact Scope = "artifact"
	ScopeSystem   Scope = "system"
)

// Finding is one reported problem.
type Finding struct {
	Code       Code     `json:"code"`
	Message    string   `json:"message"`
	ArtifactID string   `json:"artifact_id,omitempty"`
	Field      string   `json:"field,omitempty"`
	Severity   Severity `json:"severity"`
	Scope      Scope    `json:"scope"`
	Fixable    bool     `json:"fixable"`
	// Path lists the IDs involved in graph findings, in order.
	Path []string `json:"path,omitempty"`
}

func (f Finding) String() string {
	if f.ArtifactID == "" {
		return fmt.Sprintf("[%s] %s", f.Code, f.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", f.Code, f.ArtifactID, f.Message)
}

// New returns an artifact-scoped error finding.
func New(code Code, id, field, format string, args ...any) Finding {
	return Finding{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		ArtifactID: id,
		Field:      field,
		Severity:   SeverityError,
		Scope:      ScopeArtifact,
	}
}

// HasErrors reports whether any finding has error severity.
func HasErrors(fs []Finding) bool {
	for _, f := range fs {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}
