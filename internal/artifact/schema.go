package artifact

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var schemaVersionRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

var (
	idRule = validation.By(func(v any) error {
		id, _ := v.(string)
		if id == "" || ValidID(id) {
			return nil
		}
		return errors.New("must match A, A.1 or A.1.1")
	})
	timestampRule = validation.By(func(v any) error {
		ts, _ := v.(string)
		if ts == "" || ValidTimestamp(ts) {
			return nil
		}
		return errors.New("must be YYYY-MM-DDTHH:MM:SSZ")
	})
)

func stateValues() []any {
	out := make([]any, len(States))
	for i, s := range States {
		out[i] = s
	}
	return out
}

func triggerValues() []any {
	out := make([]any, len(Triggers))
	for i, t := range Triggers {
		out[i] = t
	}
	return out
}

// Validate checks the structural shape of the record. Readiness concerns
// (empty titles, missing content) are left to the readiness validator.
func (a Artifact) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.ID, validation.Required, idRule),
		validation.Field(&a.Metadata),
	)
}

// Validate implements validation.Validatable.
func (m Metadata) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Priority, validation.Required,
			validation.In(PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow)),
		validation.Field(&m.Estimation, validation.Required,
			validation.In(EstimationXS, EstimationS, EstimationM, EstimationL, EstimationXL)),
		validation.Field(&m.CreatedBy, validation.Required),
		validation.Field(&m.Assignee, validation.Required),
		validation.Field(&m.SchemaVersion, validation.Required, validation.Match(schemaVersionRe)),
		validation.Field(&m.Relationships),
		validation.Field(&m.Events, validation.Required),
	)
}

// Validate implements validation.Validatable.
func (r Relationships) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Blocks, validation.Each(idRule)),
		validation.Field(&r.BlockedBy, validation.Each(idRule)),
	)
}

// Validate implements validation.Validatable.
func (e Event) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.State, validation.Required, validation.In(stateValues()...)),
		validation.Field(&e.Timestamp, validation.Required, timestampRule),
		validation.Field(&e.Actor, validation.Required),
		validation.Field(&e.Trigger, validation.Required, validation.In(triggerValues()...)),
	)
}
