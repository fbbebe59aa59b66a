// Package definition loads flow definitions from JSON/YAML files and
// validates them before a session ever runs. Authoring mistakes the
// engine would only hit mid-flow (duplicate field names, a dynamic step
// without a prompt, an unparseable validation rule) are rejected here.
package definition

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-intake/pkg/flow"
)

// Option customises definition loading.
type Option func(*settings)

type settings struct {
	defaultPrompts map[flow.StepKind]string
}

// WithDefaultPrompts installs a fallback prompt per step kind. A dynamic
// step authored without a prompt receives the table entry for its kind
// before validation, so shared flow libraries can keep per-deployment
// prompt defaults out of every definition file.
func WithDefaultPrompts(prompts map[flow.StepKind]string) Option {
	return func(s *settings) {
		if s.defaultPrompts == nil {
			s.defaultPrompts = make(map[flow.StepKind]string, len(prompts))
		}
		for kind, prompt := range prompts {
			s.defaultPrompts[kind] = prompt
		}
	}
}

func newSettings(options []Option) settings {
	var s settings
	for _, opt := range options {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// Registry holds the loaded flow definitions keyed by id.
type Registry struct {
	definitions map[string]*flow.Definition
}

// Definition returns the flow with the supplied id.
func (r *Registry) Definition(id string) (*flow.Definition, bool) {
	if r == nil {
		return nil, false
	}
	def, ok := r.definitions[id]
	return def, ok
}

// IDs returns every loaded definition id.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.definitions))
	for id := range r.definitions {
		out = append(out, id)
	}
	return out
}

// Empty reports whether the registry holds any definitions.
func (r *Registry) Empty() bool {
	return r == nil || len(r.definitions) == 0
}

// LoadFS walks the provided filesystem and parses every JSON/YAML flow
// definition file. When fsys is nil or holds no definition files, the
// returned registry is empty.
func LoadFS(fsys fs.FS, options ...Option) (*Registry, error) {
	registry := &Registry{definitions: make(map[string]*flow.Definition)}
	if fsys == nil {
		return registry, nil
	}

	err := fs.WalkDir(fsys, ".", func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !isDefinitionFile(path) {
			return nil
		}

		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("definition: read %s: %w", path, err)
		}

		def, err := Parse(data, path, options...)
		if err != nil {
			return err
		}
		if _, exists := registry.definitions[def.ID]; exists {
			return fmt.Errorf("definition: duplicate flow %q (file %s)", def.ID, path)
		}
		registry.definitions[def.ID] = def
		return nil
	})
	if err != nil {
		return nil, err
	}

	return registry, nil
}

// Parse decodes and validates a single definition document. The source
// name only feeds error messages.
func Parse(data []byte, source string, options ...Option) (*flow.Definition, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("definition: file %s is empty", source)
	}

	var def flow.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		def = flow.Definition{}
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("definition: parse %s: invalid JSON or YAML", source)
		}
	}

	if err := attachShapes(data, &def); err != nil {
		return nil, fmt.Errorf("definition: parse %s: %w", source, err)
	}
	applyDefaultPrompts(&def, newSettings(options))
	if err := Validate(&def); err != nil {
		return nil, fmt.Errorf("definition: file %s: %w", source, err)
	}
	return &def, nil
}

// applyDefaultPrompts fills empty prompts from the configured fallback
// table. Defaults land before validation, so a dynamic step is legal
// without an authored prompt as long as the table covers its kind.
func applyDefaultPrompts(def *flow.Definition, s settings) {
	if len(s.defaultPrompts) == 0 {
		return
	}
	for i := range def.Steps {
		step := &def.Steps[i]
		fallback, ok := s.defaultPrompts[step.Kind]
		if !ok || fallback == "" {
			continue
		}
		if step.Kind == flow.StepKindDynamic && strings.TrimSpace(step.Prompt) == "" {
			step.Prompt = fallback
		}
		if step.Enrich != nil && strings.TrimSpace(step.Enrich.Prompt) == "" {
			step.Enrich.Prompt = fallback
		}
	}
}

// shapeDoc captures only the enrichment shapes as raw objects; the YAML
// path cannot decode them into openapi3.Schema directly.
type shapeDoc struct {
	Steps []struct {
		ID     string `json:"id" yaml:"id"`
		Enrich *struct {
			Shape map[string]any `json:"shape" yaml:"shape"`
		} `json:"enrich" yaml:"enrich"`
	} `json:"steps" yaml:"steps"`
}

func attachShapes(data []byte, def *flow.Definition) error {
	var doc shapeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		doc = shapeDoc{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil
		}
	}

	byID := make(map[string]map[string]any, len(doc.Steps))
	for _, step := range doc.Steps {
		if step.Enrich != nil && len(step.Enrich.Shape) > 0 {
			byID[step.ID] = step.Enrich.Shape
		}
	}
	for i := range def.Steps {
		raw, ok := byID[def.Steps[i].ID]
		if !ok || def.Steps[i].Enrich == nil {
			continue
		}
		encoded, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("step %q enrichment shape: %w", def.Steps[i].ID, err)
		}
		schema := &openapi3.Schema{}
		if err := schema.UnmarshalJSON(encoded); err != nil {
			return fmt.Errorf("step %q enrichment shape: %w", def.Steps[i].ID, err)
		}
		def.Steps[i].Enrich.Shape = schema
	}
	return nil
}

// Validate checks a definition for the authoring mistakes the engine
// cannot tolerate at runtime.
func Validate(def *flow.Definition) error {
	if def == nil {
		return fmt.Errorf("definition is nil")
	}
	if strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("flow id is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("flow %q has no steps", def.ID)
	}

	stepIDs := make(map[string]struct{}, len(def.Steps))
	fieldNames := make(map[string]string)
	for _, step := range def.Steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return fmt.Errorf("flow %q contains a step without an id", def.ID)
		}
		if _, exists := stepIDs[id]; exists {
			return fmt.Errorf("duplicate step id %q", id)
		}
		stepIDs[id] = struct{}{}

		switch step.Kind {
		case flow.StepKindStandard, "":
			if step.Prompt != "" {
				return fmt.Errorf("step %q: standard steps cannot carry a prompt", id)
			}
		case flow.StepKindDynamic:
			if strings.TrimSpace(step.Prompt) == "" {
				return fmt.Errorf("step %q: dynamic steps require a prompt", id)
			}
			if len(step.Fields) > 0 {
				return fmt.Errorf("step %q: dynamic steps cannot declare static fields", id)
			}
		case flow.StepKindCollection:
			if strings.TrimSpace(step.CollectionKey) == "" {
				return fmt.Errorf("step %q: collection steps require a collection key", id)
			}
			if len(step.ItemFields) == 0 {
				return fmt.Errorf("step %q: collection steps require item fields", id)
			}
			if owner, exists := fieldNames[step.CollectionKey]; exists {
				return fmt.Errorf("collection key %q collides with a field in step %q", step.CollectionKey, owner)
			}
			fieldNames[step.CollectionKey] = id
		default:
			return fmt.Errorf("step %q: unknown kind %q", id, step.Kind)
		}

		if step.Enrich != nil && strings.TrimSpace(step.Enrich.Prompt) == "" {
			return fmt.Errorf("step %q: enrichment requires a prompt", id)
		}

		for _, field := range step.Fields {
			if err := validateField(field, id, fieldNames); err != nil {
				return err
			}
		}
		// Item fields are scoped per entry, so they only need to be unique
		// within their own step.
		itemNames := make(map[string]string, len(step.ItemFields))
		for _, field := range step.ItemFields {
			if err := validateField(field, id, itemNames); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateField(field flow.Field, stepID string, seen map[string]string) error {
	name := strings.TrimSpace(field.Name)
	if name == "" {
		return fmt.Errorf("step %q contains a field without a name", stepID)
	}
	if owner, exists := seen[name]; exists {
		return fmt.Errorf("field %q in step %q already defined in step %q", name, stepID, owner)
	}
	seen[name] = stepID

	if field.Type == flow.FieldTypeSelect && len(field.Options) == 0 {
		return fmt.Errorf("field %q in step %q: select fields require options", name, stepID)
	}
	for _, rule := range field.Validations {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("field %q in step %q: %w", name, stepID, err)
		}
	}
	return nil
}

func validateRule(rule flow.ValidationRule) error {
	switch rule.Kind {
	case flow.ValidationRuleMin, flow.ValidationRuleMax:
		if _, err := strconv.ParseFloat(rule.Params["value"], 64); err != nil {
			return fmt.Errorf("rule %q needs a numeric value", rule.Kind)
		}
	case flow.ValidationRuleMinLength, flow.ValidationRuleMaxLength:
		if _, err := strconv.Atoi(rule.Params["value"]); err != nil {
			return fmt.Errorf("rule %q needs an integer value", rule.Kind)
		}
	case flow.ValidationRulePattern:
		if _, err := regexp.Compile(rule.Params["pattern"]); err != nil {
			return fmt.Errorf("rule pattern does not compile: %v", err)
		}
	default:
		return fmt.Errorf("unknown validation rule %q", rule.Kind)
	}
	return nil
}

func isDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}
