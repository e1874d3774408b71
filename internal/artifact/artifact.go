// Package artifact defines the hierarchical work records (initiatives,
// milestones and issues), their lifecycle events and relationships.
package artifact

// Priority of an artifact.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Estimation is a t-shirt size estimate.
type Estimation string

const (
	EstimationXS Estimation = "XS"
	EstimationS  Estimation = "S"
	EstimationM  Estimation = "M"
	EstimationL  Estimation = "L"
	EstimationXL Estimation = "XL"
)

// Artifact is a single tracked unit of work.
type Artifact struct {
	ID       string         `yaml:"id" json:"id"`
	Metadata Metadata       `yaml:"metadata" json:"metadata"`
	Content  Content        `yaml:"content" json:"content"`
	Extra    map[string]any `yaml:",inline" json:"-"`
}

// Metadata holds the bookkeeping fields shared by every artifact type.
type Metadata struct {
	Title         string         `yaml:"title" json:"title"`
	Priority      Priority       `yaml:"priority" json:"priority"`
	Estimation    Estimation     `yaml:"estimation" json:"estimation"`
	CreatedBy     string         `yaml:"created_by" json:"created_by"`
	Assignee      string         `yaml:"assignee" json:"assignee"`
	SchemaVersion string         `yaml:"schema_version" json:"schema_version"`
	Relationships Relationships  `yaml:"relationships" json:"relationships"`
	Events        []Event        `yaml:"events" json:"events"`
	Extra         map[string]any `yaml:",inline" json:"-"`
}

// Relationships are the cross-record dependency edges.
type Relationships struct {
	Blocks    []string `yaml:"blocks" json:"blocks"`
	BlockedBy []string `yaml:"blocked_by" json:"blocked_by"`
}

// Scope splits an initiative into in-scope and out-of-scope items.
type Scope struct {
	In  []string `yaml:"in" json:"in"`
	Out []string `yaml:"out" json:"out"`
}

// Content holds the type specific body. Initiatives use Vision, Scope and
// SuccessCriteria; milestones use Summary, Deliverables and Validation;
// issues use Summary and AcceptanceCriteria.
type Content struct {
	Vision             string         `yaml:"vision,omitempty" json:"vision,omitempty"`
	Scope              *Scope         `yaml:"scope,omitempty" json:"scope,omitempty"`
	SuccessCriteria    []string       `yaml:"success_criteria,omitempty" json:"success_criteria,omitempty"`
	Summary            string         `yaml:"summary,omitempty" json:"summary,omitempty"`
	Deliverables       []string       `yaml:"deliverables,omitempty" json:"deliverables,omitempty"`
	Validation         []string       `yaml:"validation,omitempty" json:"validation,omitempty"`
	AcceptanceCriteria []string       `yaml:"acceptance_criteria,omitempty" json:"acceptance_criteria,omitempty"`
	Extra              map[string]any `yaml:",inline" json:"-"`
}

// Type returns the level encoded by the artifact ID, or "" if the ID is invalid.
func (a *Artifact) Type() Type {
	t, _ := TypeOf(a.ID)
	return t
}

// CurrentState is the state of the last event, or "" for an empty log.
func (a *Artifact) CurrentState() State {
	if len(a.Metadata.Events) == 0 {
		return ""
	}
	return a.Metadata.Events[len(a.Metadata.Events)-1].State
}

// LatestEvent returns a pointer to the most recent event with state s.
func (a *Artifact) LatestEvent(s State) *Event {
	for i := len(a.Metadata.Events) - 1; i >= 0; i-- {
		if a.Metadata.Events[i].State == s {
			return &a.Metadata.Events[i]
		}
	}
	return nil
}

// HasEvent reports whether any event carries state s.
func (a *Artifact) HasEvent(s State) bool {
	return a.LatestEvent(s) != nil
}

// BlockedBy reports whether id is listed in relationships.blocked_by.
func (a *Artifact) BlockedBy(id string) bool {
	return contains(a.Metadata.Relationships.BlockedBy, id)
}

// Blocks reports whether id is listed in relationships.blocks.
func (a *Artifact) Blocks(id string) bool {
	return contains(a.Metadata.Relationships.Blocks, id)
}

// Clone returns a deep copy safe to mutate.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	out := *a
	out.Extra = cloneMap(a.Extra)
	out.Metadata.Extra = cloneMap(a.Metadata.Extra)
	out.Metadata.Relationships = Relationships{
		Blocks:    append([]string(nil), a.Metadata.Relationships.Blocks...),
		BlockedBy: append([]string(nil), a.Metadata.Relationships.BlockedBy...),
	}
	out.Metadata.Events = make([]Event, len(a.Metadata.Events))
	for i, e := range a.Metadata.Events {
		e.Metadata = e.Metadata.clone()
		out.Metadata.Events[i] = e
	}
	c := a.Content
	if c.Scope != nil {
		c.Scope = &Scope{In: append([]string(nil), c.Scope.In...), Out: append([]string(nil), c.Scope.Out...)}
	}
	c.SuccessCriteria = append([]string(nil), c.SuccessCriteria...)
	c.Deliverables = append([]string(nil), c.Deliverables...)
	c.Validation = append([]string(nil), c.Validation...)
	c.AcceptanceCriteria = append([]string(nil), c.AcceptanceCriteria...)
	c.Extra = cloneMap(c.Extra)
	out.Content = c
	return &out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// AppendUnique appends s to list unless already present.
func AppendUnique(list []string, s string) []string {
	if contains(list, s) {
		return list
	}
	return append(list, s)
}
