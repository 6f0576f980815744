package agentout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pmPlanPayload = `{
  "analysis": "The feature splits into a storage layer and an API on top.",
  "subtasks": [
    {
      "title": "Implement storage layer",
      "description": "Add the persistence schema and CRUD helpers.",
      "acceptance_criteria": ["schema migrates cleanly", "CRUD round-trips"],
      "estimated_complexity": "high",
      "depends_on": []
    },
    {
      "title": "Expose REST endpoints",
      "description": "Wire the storage layer into handlers.",
      "depends_on": [0]
    },
    {
      "title": "Document the API",
      "description": "Describe the new endpoints in the README.",
      "depends_on": [0, 1]
    }
  ]
}`

func TestParsePM(t *testing.T) {
	out := "I broke the request down as follows.\n\n" + fenced(pmPlanPayload) + "\n\nReady for dispatch."

	plan, err := ParsePM(out)
	require.NoError(t, err)
	assert.Equal(t, "The feature splits into a storage layer and an API on top.", plan.Analysis)
	require.Len(t, plan.Subtasks, 3)

	first := plan.Subtasks[0]
	assert.Equal(t, "Implement storage layer", first.Title)
	assert.Equal(t, "high", first.EstimatedComplexity)
	assert.Equal(t, []string{"schema migrates cleanly", "CRUD round-trips"}, first.AcceptanceCriteria)
	assert.Empty(t, first.DependsOn)

	assert.Equal(t, []int{0}, plan.Subtasks[1].DependsOn)
	assert.Equal(t, "medium", plan.Subtasks[1].EstimatedComplexity)
	assert.Equal(t, []int{0, 1}, plan.Subtasks[2].DependsOn)
}

func TestParsePMLastFenceWins(t *testing.T) {
	draft := `{"subtasks": [{"title": "draft", "description": "throwaway"}]}`
	out := "First attempt:\n" + fenced(draft) +
		"\nActually, splitting further:\n" + fenced(pmPlanPayload)

	plan, err := ParsePM(out)
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 3)
	assert.Equal(t, "Implement storage layer", plan.Subtasks[0].Title)
}

func TestParsePMRawFallback(t *testing.T) {
	out := `No fences here, the plan is {"subtasks": [{"title": "Only step", "description": "Do it all."}]} and that is final.`

	plan, err := ParsePM(out)
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 1)
	assert.Equal(t, "Only step", plan.Subtasks[0].Title)
	assert.Equal(t, "", plan.Analysis)
}

func TestParsePMDependencyValidation(t *testing.T) {
	out := fenced(`{
	  "subtasks": [
	    {"title": "a", "description": "first"},
	    {"title": "b", "description": "second", "depends_on": [0, 1, 5, -1, "0", 0.5]}
	  ]
	}`)

	plan, err := ParsePM(out)
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 2)
	// Only in-range integer references to earlier sub-tasks survive.
	assert.Equal(t, []int{0}, plan.Subtasks[1].DependsOn)
}

func TestParsePMSkipsIncompleteSubtasks(t *testing.T) {
	out := fenced(`{
	  "subtasks": [
	    {"title": "no description"},
	    {"description": "no title"},
	    "not an object",
	    {"title": "keeper", "description": "the only valid one"}
	  ]
	}`)

	plan, err := ParsePM(out)
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 1)
	assert.Equal(t, "keeper", plan.Subtasks[0].Title)
}

func TestParsePMErrors(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantErr error
	}{
		{"no JSON at all", "I could not produce a plan.", ErrNoJSON},
		{"empty subtasks", fenced(`{"subtasks": []}`), ErrInvalidPayload},
		{"subtasks missing", fenced(`{"analysis": "thoughts"}`), ErrInvalidPayload},
		{"all subtasks invalid", fenced(`{"subtasks": [{"title": "x"}]}`), ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := ParsePM(tt.output)
			assert.Nil(t, plan)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("malformed JSON", func(t *testing.T) {
		plan, err := ParsePM(fenced(`{"subtasks": [oops`))
		assert.Nil(t, plan)
		assert.Error(t, err)
	})
}
