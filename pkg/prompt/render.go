package prompt

import (
	"fmt"

	"github.com/flosch/pongo2/v6"
)

// Render substitutes `{{...}}` placeholders in template with entries from
// the value map and the enrichment context. Values win over enrichment keys
// of the same name; the enrichment context is additionally reachable as a
// whole under `enrichment`. Placeholders that resolve to nothing render
// empty, matching the tolerant contract of ExtractVariables.
func Render(template string, values, enrichment map[string]any) (string, error) {
	tpl, err := pongo2.FromString(template)
	if err != nil {
		return "", fmt.Errorf("prompt: parse template: %w", err)
	}

	ctx := make(pongo2.Context, len(values)+len(enrichment)+1)
	for key, value := range enrichment {
		ctx[key] = value
	}
	for key, value := range values {
		ctx[key] = value
	}
	ctx["enrichment"] = enrichment

	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("prompt: execute template: %w", err)
	}
	return out, nil
}

// RenderOrRaw renders template and falls back to the raw text when the
// template does not parse. External generation services receive the raw
// prompt plus the value snapshot in that case, so nothing is lost.
func RenderOrRaw(template string, values, enrichment map[string]any) string {
	out, err := Render(template, values, enrichment)
	if err != nil {
		return template
	}
	return out
}
