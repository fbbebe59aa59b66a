package flow

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// StepKind distinguishes how a step's fields come into existence.
type StepKind string

const (
	// StepKindStandard steps carry a fixed field list authored in the
	// flow definition.
	StepKindStandard StepKind = "standard"
	// StepKindDynamic steps have their fields produced by an external
	// generation call conditioned on earlier answers.
	StepKindDynamic StepKind = "dynamic"
	// StepKindCollection steps collect a variable-length list of
	// structured sub-records, e.g. multiple signers.
	StepKindCollection StepKind = "collection"
)

// FieldType is the simplified enum for form-friendly field kinds.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeText    FieldType = "text"
	FieldTypeInteger FieldType = "integer"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
	FieldTypeSelect  FieldType = "select"
	FieldTypeMoney   FieldType = "money"
)

const (
	ValidationRuleMin       = "min"
	ValidationRuleMax       = "max"
	ValidationRuleMinLength = "minLength"
	ValidationRuleMaxLength = "maxLength"
	ValidationRulePattern   = "pattern"
)

// ValidationRule represents a single validation constraint applied to a
// field. Numeric bounds and length limits encode their threshold in
// Params["value"] while pattern rules preserve the expression in
// Params["pattern"].
type ValidationRule struct {
	Kind   string            `json:"kind" yaml:"kind"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Field models an individual input collected by a step. Name is the unique
// key into the session value map. VisibleWhen holds an optional visibility
// rule evaluated against previously collected values; an empty rule means
// always visible. SuggestKey points into the enrichment context for the
// standards feature.
type Field struct {
	Name        string            `json:"name" yaml:"name"`
	Label       string            `json:"label,omitempty" yaml:"label,omitempty"`
	Type        FieldType         `json:"type" yaml:"type"`
	Required    bool              `json:"required" yaml:"required"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Options     []string          `json:"options,omitempty" yaml:"options,omitempty"`
	VisibleWhen string            `json:"visibleWhen,omitempty" yaml:"visibleWhen,omitempty"`
	SuggestKey  string            `json:"suggestKey,omitempty" yaml:"suggestKey,omitempty"`
	Validations []ValidationRule  `json:"validations,omitempty" yaml:"validations,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// GeneratedField is a field returned by the external generation service for
// a dynamic step. Recommended carries the service's suggested value, when
// present, for one-click standards application.
type GeneratedField struct {
	Field
	Recommended any `json:"recommended,omitempty"`
}

// Enrichment describes the background computation triggered when its owning
// step is completed. Shape optionally declares the expected output as an
// OpenAPI schema fragment; the resolution oracle uses its property names to
// decide when downstream prompts are settled.
type Enrichment struct {
	Prompt string           `json:"prompt" yaml:"prompt"`
	Shape  *openapi3.Schema `json:"shape,omitempty" yaml:"-"`
}

// Step is one ordered unit of the flow. Exactly one of the kind-specific
// attribute groups is meaningful: Fields for standard steps, Prompt and
// MaxFields for dynamic steps, CollectionKey/ItemFields/MinItems for
// collection steps.
type Step struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        StepKind `json:"kind" yaml:"kind"`
	VisibleWhen string   `json:"visibleWhen,omitempty" yaml:"visibleWhen,omitempty"`

	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`

	Prompt    string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	MaxFields int    `json:"maxFields,omitempty" yaml:"maxFields,omitempty"`

	CollectionKey string  `json:"collectionKey,omitempty" yaml:"collectionKey,omitempty"`
	ItemFields    []Field `json:"itemFields,omitempty" yaml:"itemFields,omitempty"`
	MinItems      int     `json:"minItems,omitempty" yaml:"minItems,omitempty"`

	Enrich *Enrichment `json:"enrich,omitempty" yaml:"enrich,omitempty"`
}

// Definition is the full flow template a session runs against.
type Definition struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Step returns the step with the given id.
func (d *Definition) Step(id string) (Step, bool) {
	if d == nil {
		return Step{}, false
	}
	for _, step := range d.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}

// IndexOf returns the definition-order position of the step with the given
// id, or -1 when absent.
func (d *Definition) IndexOf(id string) int {
	if d == nil {
		return -1
	}
	for i, step := range d.Steps {
		if step.ID == id {
			return i
		}
	}
	return -1
}

// FieldByName searches every standard step's field list for the given name.
// Collection keys are reported as a synthetic field owned by their step so
// settledness checks can reason about them uniformly.
func (d *Definition) FieldByName(name string) (Field, int, bool) {
	if d == nil {
		return Field{}, -1, false
	}
	for i, step := range d.Steps {
		for _, field := range step.Fields {
			if field.Name == name {
				return field, i, true
			}
		}
		if step.Kind == StepKindCollection && step.CollectionKey == name {
			return Field{Name: name, Required: step.MinItems > 0}, i, true
		}
	}
	return Field{}, -1, false
}

// IsEmptyValue reports whether a collected value counts as "not filled" for
// required-field gating, settledness, and standards application. Booleans
// and numbers are always considered filled once present; only nil, blank
// strings, and empty composites are empty.
func IsEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}
