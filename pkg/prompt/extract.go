// Package prompt handles the text templates that drive dynamic-step
// generation and background enrichment: extracting the variables a prompt
// depends on, and rendering a prompt against collected values.
package prompt

import "strings"

// ExtractVariables scans template for `{{...}}` placeholders and returns the
// de-duplicated root variable names in first-seen order. Dotted paths such
// as `company.name` contribute only their root segment. Malformed input is
// tolerated: an unmatched `{{` contributes nothing.
func ExtractVariables(template string) []string {
	var (
		out  []string
		seen = map[string]struct{}{}
	)

	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		rest = rest[start+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			break
		}
		token := rest[:end]
		rest = rest[end+2:]

		name := rootName(token)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// rootName reduces a raw placeholder body to its root variable name. Filter
// pipelines (`name|upper`) and trailing path segments are stripped; bodies
// that do not start with an identifier are discarded.
func rootName(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if cut := strings.IndexAny(token, " \t|"); cut >= 0 {
		token = token[:cut]
	}
	if cut := strings.IndexByte(token, '.'); cut >= 0 {
		token = token[:cut]
	}
	if !isIdentifier(token) {
		return ""
	}
	return token
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
