// Package agentout parses the structured JSON payloads that agent roles
// print at the end of their transcripts. Agents narrate while they work, so
// extraction has to dig the payload out of surrounding prose: the last
// ```json fence wins, with a raw brace scan as fallback.
package agentout

import (
	"regexp"
	"strings"
)

var (
	fencedJSON = regexp.MustCompile("(?s)```json[ \t]*\\n(.*?)\\n\\s*```")
	flatObject = regexp.MustCompile(`\{[^{}]*\}`)
)

// extractFencedJSON returns the last ```json fenced block in the output.
// Agents sometimes print intermediate JSON while working; the final block is
// the answer.
func extractFencedJSON(output string) (string, bool) {
	matches := fencedJSON.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return "", false
	}
	return strings.TrimSpace(matches[len(matches)-1][1]), true
}

// extractObjectWith scans for a balanced top-level {...} group that mentions
// the quoted key. Depth counting instead of a regexp so nested objects
// survive.
func extractObjectWith(output, key string) (string, bool) {
	needle := `"` + key + `"`
	depth := 0
	start := -1
	for i := 0; i < len(output); i++ {
		switch output[i] {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				candidate := output[start : i+1]
				if strings.Contains(candidate, needle) {
					return candidate, true
				}
			}
		}
	}
	return "", false
}

// flatObjects returns every non-nested {...} group in the output, for the
// lenient parsers that accept a bare one-line object.
func flatObjects(output string) []string {
	return flatObject.FindAllString(output, -1)
}

// stringField returns m[key] when it is a string, else "".
func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// stringFieldOr returns m[key] when it is a string, else the fallback.
func stringFieldOr(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return fallback
}

// stringsField returns the string elements of the list at m[key].
func stringsField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// mapsField returns the object elements of the list at m[key].
func mapsField(m map[string]any, key string) []map[string]any {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}
