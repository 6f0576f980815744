package agentout

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QA verdicts.
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// TestFileWritten records a test file the QA agent added.
type TestFileWritten struct {
	File        string
	Description string
}

// TestResult is one test case outcome reported by the QA agent.
type TestResult struct {
	Name   string
	Status string
	Output string
}

// QAResult is the QA agent's verdict after exercising a sub-task.
type QAResult struct {
	Verdict        string
	Summary        string
	TestsWritten   []TestFileWritten
	TestResults    []TestResult
	FailureDetails string
}

// Passed reports whether QA signed the work off.
func (q *QAResult) Passed() bool {
	return q.Verdict == VerdictPass
}

// ParseQA extracts the structured result from QA output. The verdict must be
// pass or fail (case-insensitive).
func ParseQA(output string) (*QAResult, error) {
	payload, ok := extractFencedJSON(output)
	if !ok {
		payload, ok = extractObjectWith(output, "verdict")
	}
	if !ok {
		return nil, fmt.Errorf("QA result: %w", ErrNoJSON)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("decoding QA result: %w", err)
	}

	verdict := strings.ToLower(strings.TrimSpace(stringField(data, "verdict")))
	if verdict != VerdictPass && verdict != VerdictFail {
		return nil, fmt.Errorf("%w: QA verdict %q", ErrInvalidPayload, verdict)
	}

	result := &QAResult{
		Verdict:        verdict,
		Summary:        stringField(data, "summary"),
		FailureDetails: stringField(data, "failure_details"),
	}
	for _, item := range mapsField(data, "tests_written") {
		result.TestsWritten = append(result.TestsWritten, TestFileWritten{
			File:        stringField(item, "file"),
			Description: stringField(item, "description"),
		})
	}
	for _, item := range mapsField(data, "test_results") {
		result.TestResults = append(result.TestResults, TestResult{
			Name:   stringField(item, "name"),
			Status: stringField(item, "status"),
			Output: stringField(item, "output"),
		})
	}
	return result, nil
}
