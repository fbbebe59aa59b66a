package expr

import (
	"testing"

	"github.com/goliatone/go-intake/pkg/visibility"
)

func TestEvaluatorBooleanComparison(t *testing.T) {
	t.Parallel()

	eval := New()

	ok, err := eval.Eval("threshold", "enabled == true", visibility.Context{
		Values: map[string]any{"enabled": true},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true")
	}

	ok, err = eval.Eval("threshold", "enabled == true", visibility.Context{
		Values: map[string]any{"enabled": "true"},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true for string true")
	}
}

func TestEvaluatorUnsetNeverEquals(t *testing.T) {
	t.Parallel()

	eval := New()

	ok, err := eval.Eval("nonCompete", `jurisdiction == "CA"`, visibility.Context{
		Values: map[string]any{},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if ok {
		t.Fatalf("unset field must not satisfy equality")
	}

	// An unset field compares equal to nothing, not even the empty string.
	ok, err = eval.Eval("nonCompete", `jurisdiction == ""`, visibility.Context{})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if ok {
		t.Fatalf("unset field must not equal the empty string")
	}

	ok, err = eval.Eval("nonCompete", `jurisdiction != "CA"`, visibility.Context{})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("unset field must satisfy inequality")
	}
}

func TestEvaluatorMembership(t *testing.T) {
	t.Parallel()

	eval := New()

	ok, err := eval.Eval("terms", `jurisdiction in ["CA", "WA"]`, visibility.Context{
		Values: map[string]any{"jurisdiction": "WA"},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected membership to hold")
	}

	ok, err = eval.Eval("terms", `jurisdiction in ["CA", "WA"]`, visibility.Context{
		Values: map[string]any{"jurisdiction": "NY"},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected membership to fail")
	}

	// Unset identifiers belong to no list but vacuously satisfy "not in".
	ok, err = eval.Eval("terms", `jurisdiction in ["CA"]`, visibility.Context{})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if ok {
		t.Fatalf("unset field must not be a member")
	}

	ok, err = eval.Eval("terms", `jurisdiction not in ["CA"]`, visibility.Context{})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("unset field must satisfy not-in")
	}
}

func TestEvaluatorTruthyAndNot(t *testing.T) {
	t.Parallel()

	eval := New()

	ok, err := eval.Eval("threshold", "enabled", visibility.Context{
		Values: map[string]any{"enabled": true},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true")
	}

	ok, err = eval.Eval("threshold", "!enabled", visibility.Context{
		Values: map[string]any{"enabled": false},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true for !false")
	}
}

func TestEvaluatorEnrichmentLookup(t *testing.T) {
	t.Parallel()

	eval := New()

	ok, err := eval.Eval("salaryBand", `enrichment.company.size == "large"`, visibility.Context{
		Enrichment: map[string]any{
			"company": map[string]any{
				"size": "large",
			},
		},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true for nested enrichment lookup")
	}
}

func TestEvaluatorNullLiteral(t *testing.T) {
	t.Parallel()

	eval := New()

	ok, err := eval.Eval("threshold", "missing == null", visibility.Context{
		Values: map[string]any{},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true for missing == null")
	}

	ok, err = eval.Eval("threshold", "enabled != null", visibility.Context{
		Values: map[string]any{"enabled": false},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true for present != null")
	}
}

func TestEvaluatorBooleanComposition(t *testing.T) {
	t.Parallel()

	eval := New()

	ok, err := eval.Eval("threshold", `enabled == true && role == "admin"`, visibility.Context{
		Values: map[string]any{
			"enabled": true,
			"role":    "admin",
		},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true for conjunction")
	}

	ok, err = eval.Eval("threshold", `enabled == true && role == "admin"`, visibility.Context{
		Values: map[string]any{
			"enabled": true,
			"role":    "user",
		},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected false for conjunction mismatch")
	}

	ok, err = eval.Eval("threshold", `enabled == true || role == "admin"`, visibility.Context{
		Values: map[string]any{
			"enabled": false,
			"role":    "admin",
		},
	})
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true for disjunction")
	}
}
