package agentout

import (
	"encoding/json"
	"fmt"
)

// DocsResult is the docs agent's report of which files it touched.
type DocsResult struct {
	FilesUpdated []string `json:"files_updated"`
	Summary      string   `json:"summary"`
}

// ParseDocs extracts the docs report. Docs output is advisory, so this is
// the most lenient parser: a fenced payload of any shape, or any bare object
// mentioning files_updated or summary.
func ParseDocs(output string) (*DocsResult, error) {
	if payload, ok := extractFencedJSON(output); ok {
		var result DocsResult
		if err := json.Unmarshal([]byte(payload), &result); err == nil {
			return &result, nil
		}
	}
	for _, candidate := range flatObjects(output) {
		var probe map[string]any
		if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
			continue
		}
		_, hasFiles := probe["files_updated"]
		_, hasSummary := probe["summary"]
		if !hasFiles && !hasSummary {
			continue
		}
		var result DocsResult
		if err := json.Unmarshal([]byte(candidate), &result); err == nil {
			return &result, nil
		}
	}
	return nil, fmt.Errorf("docs report: %w", ErrNoJSON)
}
