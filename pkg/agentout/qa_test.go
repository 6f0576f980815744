package agentout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQAPass(t *testing.T) {
	out := "All green.\n" + fenced(`{
	  "verdict": "pass",
	  "summary": "Added integration coverage, everything passes.",
	  "tests_written": [
	    {"file": "store/tasks_test.go", "description": "dependency gating"}
	  ],
	  "test_results": [
	    {"name": "TestGetNextReady", "status": "pass"},
	    {"name": "TestUpdateStatus", "status": "pass", "output": "ok 0.31s"}
	  ]
	}`)

	result, err := ParseQA(out)
	require.NoError(t, err)
	assert.True(t, result.Passed())
	require.Len(t, result.TestsWritten, 1)
	assert.Equal(t, "store/tasks_test.go", result.TestsWritten[0].File)
	require.Len(t, result.TestResults, 2)
	assert.Equal(t, "TestUpdateStatus", result.TestResults[1].Name)
	assert.Equal(t, "ok 0.31s", result.TestResults[1].Output)
	assert.Empty(t, result.FailureDetails)
}

func TestParseQAFail(t *testing.T) {
	out := fenced(`{
	  "verdict": "FAIL",
	  "summary": "Two cases regress.",
	  "test_results": [{"name": "TestMerge", "status": "fail", "output": "conflict markers left in file"}],
	  "failure_details": "merge path drops the resolution commit"
	}`)

	result, err := ParseQA(out)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	assert.Equal(t, VerdictFail, result.Verdict)
	assert.Equal(t, "merge path drops the resolution commit", result.FailureDetails)
}

func TestParseQAErrors(t *testing.T) {
	t.Run("unknown verdict", func(t *testing.T) {
		result, err := ParseQA(fenced(`{"verdict": "flaky"}`))
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("no JSON", func(t *testing.T) {
		result, err := ParseQA("the tests pass, trust me")
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrNoJSON)
	})
}
