package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/services"
	"github.com/legatus-hq/legatus/pkg/store"
)

func TestAgentLifecycleTracking(t *testing.T) {
	fx := newFixture(t, plainSettings())
	ctx := context.Background()
	campaign := fx.startCampaign(t, "Tracked work")

	rec := fx.spawner.lastAgentFor(campaign.ID, models.AgentRolePM)
	require.NotNil(t, rec)

	stored, err := fx.state.GetAgent(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusStarting, stored.Status)

	// The first report from a starting agent marks it active.
	fx.reactor.handleAgentMessage(ctx, models.NewMessage(
		models.MessageTypeLogEntry, campaign.ID, rec.ID,
		map[string]any{"message": "analyzing the prompt"}))
	stored, err = fx.state.GetAgent(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusActive, stored.Status)

	// Completion reclaims the container and drops the registry entry.
	fx.complete(t, campaign.ID, models.AgentRolePM, pmPlanOutput("Step"))
	_, err = fx.state.GetAgent(ctx, rec.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, fx.spawner.removed, rec.ContainerID)
}

func TestAgentReportsLandInActivityLog(t *testing.T) {
	fx := newFixture(t, plainSettings())
	ctx := context.Background()
	campaign := fx.startCampaign(t, "Logged work")

	rec := fx.spawner.lastAgentFor(campaign.ID, models.AgentRolePM)
	fx.complete(t, campaign.ID, models.AgentRolePM, pmPlanOutput("Step"))

	entries, err := fx.state.RecentLogs(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	newest := entries[0]
	assert.Equal(t, string(models.MessageTypeTaskComplete), newest["type"])
	assert.Equal(t, campaign.ID, newest["task_id"])
	assert.Equal(t, rec.ID, newest["agent_id"])
	data, ok := newest["data"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, data["output"])
}

func TestAgentCostIsRecorded(t *testing.T) {
	fx := newFixture(t, plainSettings())
	ctx := context.Background()
	campaign := fx.startCampaign(t, "Costed work")

	rec := fx.spawner.lastAgentFor(campaign.ID, models.AgentRolePM)
	fx.reactor.handleAgentMessage(ctx, models.NewMessage(
		models.MessageTypeTaskComplete, campaign.ID, rec.ID,
		map[string]any{"output": pmPlanOutput("Step"), "cost": 0.42}))

	// Projectless tasks book into the default bucket.
	breakdown, err := fx.costs.Breakdown(ctx, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.42, breakdown.Total, 1e-9)
	assert.InDelta(t, 0.42, breakdown.ByRole["pm"], 1e-9)
	require.Len(t, breakdown.Entries, 1)
	assert.Equal(t, campaign.ID, breakdown.Entries[0].TaskID)
}

func TestPauseHoldsDispatchUntilResume(t *testing.T) {
	fx := newFixture(t, plainSettings())
	ctx := context.Background()
	campaign := fx.startCampaign(t, "Paused work")

	fx.complete(t, campaign.ID, models.AgentRolePM, pmPlanOutput("Step one", "Step two"))
	require.NoError(t, fx.state.SetPaused(ctx, true))

	// Approval lands while dispatch is paused: the plan is accepted but no
	// dev agent starts.
	fx.approvePending(t, models.SourcePM)
	parent := fx.mustStatus(t, campaign.ID, models.TaskStatusActive)
	for _, id := range parent.SubtaskIDs {
		fx.mustStatus(t, id, models.TaskStatusPlanned)
	}

	require.NoError(t, fx.state.SetPaused(ctx, false))
	fx.reactor.ResumeDispatch(ctx)

	fx.mustStatus(t, parent.SubtaskIDs[0], models.TaskStatusActive)
	fx.mustStatus(t, parent.SubtaskIDs[1], models.TaskStatusPlanned)
}

func TestFailureReportWithoutTaskIsIgnored(t *testing.T) {
	fx := newFixture(t, plainSettings())
	ctx := context.Background()
	campaign := fx.startCampaign(t, "Stray report")

	fx.reactor.handleAgentMessage(ctx, models.NewMessage(
		models.MessageTypeTaskFailed, "", "", map[string]any{"error": "lost"}))

	fx.mustStatus(t, campaign.ID, models.TaskStatusActive)
}

func TestDirectDispatchSkipsPlanning(t *testing.T) {
	fx := newFixture(t, plainSettings())
	ctx := context.Background()

	task, err := fx.taskSvc.CreateCampaign(ctx, services.CreateCampaignRequest{
		Prompt: "fix the typo in the README",
		Direct: true,
	})
	require.NoError(t, err)

	// Direct mode puts a dev agent straight on the root task.
	assert.Equal(t, []models.AgentRole{models.AgentRoleDev},
		fx.spawner.spawnedRoles(task.ID))

	fx.complete(t, task.ID, models.AgentRoleDev, "fixed")
	fx.mustStatus(t, task.ID, models.TaskStatusDone)
}
