package generation

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/goliatone/go-intake/pkg/flow"
)

var (
	textPolicyOnce sync.Once
	textPolicy     *bluemonday.Policy
)

// SanitizeText strips all markup from a string produced by an external
// generation service. Generated labels and descriptions end up in rendering
// surfaces verbatim, so nothing tag-shaped may survive.
func SanitizeText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.TrimSpace(textSanitizer().Sanitize(trimmed))
}

// SanitizeFields scrubs every human-readable string in a generator
// response in place and returns it for chaining.
func SanitizeFields(fields []flow.GeneratedField) []flow.GeneratedField {
	for i := range fields {
		fields[i].Label = SanitizeText(fields[i].Label)
		fields[i].Description = SanitizeText(fields[i].Description)
		for j, opt := range fields[i].Options {
			fields[i].Options[j] = SanitizeText(opt)
		}
		if s, ok := fields[i].Recommended.(string); ok {
			fields[i].Recommended = SanitizeText(s)
		}
	}
	return fields
}

func textSanitizer() *bluemonday.Policy {
	textPolicyOnce.Do(func() {
		textPolicy = bluemonday.StrictPolicy()
	})
	return textPolicy
}
