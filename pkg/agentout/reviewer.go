package agentout

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Review verdicts.
const (
	VerdictApprove = "approve"
	VerdictReject  = "reject"
)

// ReviewFinding is a single issue raised by the reviewer.
type ReviewFinding struct {
	Category    string
	Severity    string
	File        string
	Description string
	Suggestion  string
}

// ReviewResult is the reviewer's verdict on a sub-task's diff.
type ReviewResult struct {
	Verdict          string
	Summary          string
	Findings         []ReviewFinding
	SecurityConcerns []string
}

// Approved reports whether the reviewer accepted the work.
func (r *ReviewResult) Approved() bool {
	return r.Verdict == VerdictApprove
}

// ParseReviewer extracts the structured review from reviewer output. The
// verdict must be approve or reject (case-insensitive); findings default to
// category "general" and severity "info".
func ParseReviewer(output string) (*ReviewResult, error) {
	payload, ok := extractFencedJSON(output)
	if !ok {
		payload, ok = extractObjectWith(output, "verdict")
	}
	if !ok {
		return nil, fmt.Errorf("review: %w", ErrNoJSON)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("decoding review: %w", err)
	}

	verdict := strings.ToLower(strings.TrimSpace(stringField(data, "verdict")))
	if verdict != VerdictApprove && verdict != VerdictReject {
		return nil, fmt.Errorf("%w: reviewer verdict %q", ErrInvalidPayload, verdict)
	}

	result := &ReviewResult{
		Verdict: verdict,
		Summary: stringField(data, "summary"),
	}
	for _, f := range mapsField(data, "findings") {
		result.Findings = append(result.Findings, ReviewFinding{
			Category:    stringFieldOr(f, "category", "general"),
			Severity:    stringFieldOr(f, "severity", "info"),
			File:        stringField(f, "file"),
			Description: stringField(f, "description"),
			Suggestion:  stringField(f, "suggestion"),
		})
	}
	for _, c := range stringsField(data, "security_concerns") {
		if c = strings.TrimSpace(c); c != "" {
			result.SecurityConcerns = append(result.SecurityConcerns, c)
		}
	}
	return result, nil
}
