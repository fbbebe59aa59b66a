package definition

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-intake/pkg/flow"
)

const sampleYAML = `
id: nda-intake
title: Mutual NDA
steps:
  - id: parties
    title: Parties
    kind: standard
    fields:
      - name: full_name
        label: Full name
        type: string
        required: true
      - name: entity_type
        type: select
        required: true
        options: [individual, company]
      - name: state
        type: string
        required: true
        visibleWhen: entity_type == "company"
    enrich:
      prompt: Classify the risk of a {{entity_type}} counterparty.
      shape:
        type: object
        properties:
          risk_profile:
            type: string
  - id: terms
    title: Terms
    kind: dynamic
    prompt: Draft questions for a {{entity_type}}.
    maxFields: 5
  - id: signers
    kind: collection
    collectionKey: signers
    minItems: 1
    itemFields:
      - name: name
        type: string
        required: true
`

func TestLoadFS(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"flows/nda.yaml": &fstest.MapFile{Data: []byte(sampleYAML)},
	}
	registry, err := LoadFS(fsys)
	if err != nil {
		t.Fatalf("LoadFS() error: %v", err)
	}

	def, ok := registry.Definition("nda-intake")
	if !ok {
		t.Fatalf("flow nda-intake not loaded; have %v", registry.IDs())
	}
	if got, want := len(def.Steps), 3; got != want {
		t.Fatalf("step count = %d, want %d", got, want)
	}

	parties := def.Steps[0]
	if diff := cmp.Diff([]string{"full_name", "entity_type", "state"}, fieldNamesOf(parties.Fields)); diff != "" {
		t.Errorf("parties fields mismatch (-want +got):\n%s", diff)
	}
	if parties.Enrich == nil || parties.Enrich.Shape == nil {
		t.Fatal("enrichment shape was not decoded")
	}
	if _, ok := parties.Enrich.Shape.Properties["risk_profile"]; !ok {
		t.Errorf("shape properties missing risk_profile: %v", parties.Enrich.Shape.Properties)
	}

	terms := def.Steps[1]
	if terms.Kind != flow.StepKindDynamic || terms.MaxFields != 5 {
		t.Errorf("terms step decoded as %+v", terms)
	}
}

func TestLoadFSJSON(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"nda.json": &fstest.MapFile{Data: []byte(`{
			"id": "simple",
			"steps": [
				{"id": "one", "kind": "standard", "fields": [{"name": "a", "type": "string"}]}
			]
		}`)},
	}
	registry, err := LoadFS(fsys)
	if err != nil {
		t.Fatalf("LoadFS() error: %v", err)
	}
	if _, ok := registry.Definition("simple"); !ok {
		t.Fatal("flow simple not loaded")
	}
}

func TestParseRejectsBrokenDefinitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "missing flow id",
			data:    "steps:\n  - id: a\n    kind: standard\n",
			wantErr: "flow id is required",
		},
		{
			name:    "duplicate step id",
			data:    "id: f\nsteps:\n  - id: a\n    kind: standard\n  - id: a\n    kind: standard\n",
			wantErr: "duplicate step id",
		},
		{
			name:    "dynamic without prompt",
			data:    "id: f\nsteps:\n  - id: a\n    kind: dynamic\n",
			wantErr: "require a prompt",
		},
		{
			name:    "collection without item fields",
			data:    "id: f\nsteps:\n  - id: a\n    kind: collection\n    collectionKey: items\n",
			wantErr: "require item fields",
		},
		{
			name: "duplicate field across steps",
			data: "id: f\nsteps:\n" +
				"  - id: a\n    kind: standard\n    fields:\n      - name: x\n        type: string\n" +
				"  - id: b\n    kind: standard\n    fields:\n      - name: x\n        type: string\n",
			wantErr: "already defined",
		},
		{
			name: "select without options",
			data: "id: f\nsteps:\n  - id: a\n    kind: standard\n    fields:\n" +
				"      - name: x\n        type: select\n",
			wantErr: "require options",
		},
		{
			name: "bad validation rule",
			data: "id: f\nsteps:\n  - id: a\n    kind: standard\n    fields:\n" +
				"      - name: x\n        type: string\n        validations:\n" +
				"          - kind: min\n            params: {value: soon}\n",
			wantErr: "numeric value",
		},
		{
			name: "bad pattern",
			data: "id: f\nsteps:\n  - id: a\n    kind: standard\n    fields:\n" +
				"      - name: x\n        type: string\n        validations:\n" +
				"          - kind: pattern\n            params: {pattern: \"([\"}\n",
			wantErr: "does not compile",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tc.data), tc.name)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseDefaultPrompts(t *testing.T) {
	t.Parallel()

	doc := "id: f\nsteps:\n" +
		"  - id: plain\n    kind: dynamic\n" +
		"  - id: authored\n    kind: dynamic\n    prompt: Ask about {{topic}}.\n"

	// Without a fallback table the promptless step is an authoring error.
	if _, err := Parse([]byte(doc), "defaults.yaml"); err == nil || !strings.Contains(err.Error(), "require a prompt") {
		t.Fatalf("expected prompt error without defaults, got %v", err)
	}

	def, err := Parse([]byte(doc), "defaults.yaml",
		WithDefaultPrompts(map[flow.StepKind]string{
			flow.StepKindDynamic: "Draft follow-up questions.",
		}))
	if err != nil {
		t.Fatalf("Parse() with defaults error: %v", err)
	}
	if got, want := def.Steps[0].Prompt, "Draft follow-up questions."; got != want {
		t.Errorf("filled prompt = %q, want %q", got, want)
	}
	// An authored prompt always wins over the table.
	if got, want := def.Steps[1].Prompt, "Ask about {{topic}}."; got != want {
		t.Errorf("authored prompt = %q, want %q", got, want)
	}
}

func TestLoadFSDefaultPrompts(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"f.yaml": &fstest.MapFile{Data: []byte("id: f\nsteps:\n  - id: a\n    kind: dynamic\n")},
	}
	registry, err := LoadFS(fsys, WithDefaultPrompts(map[flow.StepKind]string{
		flow.StepKindDynamic: "Draft follow-up questions.",
	}))
	if err != nil {
		t.Fatalf("LoadFS() with defaults error: %v", err)
	}
	def, ok := registry.Definition("f")
	if !ok {
		t.Fatal("flow f not loaded")
	}
	if def.Steps[0].Prompt == "" {
		t.Error("default prompt was not applied")
	}
}

func TestLoadFSDuplicateFlow(t *testing.T) {
	t.Parallel()

	doc := "id: f\nsteps:\n  - id: a\n    kind: standard\n"
	fsys := fstest.MapFS{
		"one.yaml": &fstest.MapFile{Data: []byte(doc)},
		"two.yaml": &fstest.MapFile{Data: []byte(doc)},
	}
	if _, err := LoadFS(fsys); err == nil || !strings.Contains(err.Error(), "duplicate flow") {
		t.Fatalf("expected duplicate flow error, got %v", err)
	}
}

func fieldNamesOf(fields []flow.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}
