package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/legatus-hq/legatus/pkg/config"
	"github.com/legatus-hq/legatus/pkg/gitops"
	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/services"
	"github.com/legatus-hq/legatus/pkg/store"
	"github.com/legatus-hq/legatus/test/util"
)

// fixture wires a Reactor against a clean Redis with fake spawner and git,
// registered as the checkpoint resolution hooks like in production.
type fixture struct {
	reactor    *Reactor
	pubsub     *store.PubSub
	tasks      *store.TaskStore
	state      *store.StateStore
	costs      *store.CostStore
	taskSvc    *services.TaskService
	checkSvc   *services.CheckpointService
	dispatcher *services.Dispatcher
	warnings   *services.SystemWarningsService
	spawner    *fakeSpawner
	git        *fakeGit
	settings   *config.Settings
}

func newFixture(t *testing.T, settings *config.Settings) *fixture {
	client := util.SetupTestRedis(t)
	tasks := store.NewTaskStore(client)
	state := store.NewStateStore(client)
	checkpoints := store.NewCheckpointStore(client)
	costs := store.NewCostStore(client)
	pubsub := store.NewPubSub(client)

	sp := newFakeSpawner()
	git := newFakeGit()

	taskSvc := services.NewTaskService(tasks, state, sp)
	checkSvc := services.NewCheckpointService(checkpoints, tasks)
	dispatcher := services.NewDispatcher(tasks, state, sp, git, settings)
	costSvc := services.NewCostService(costs)
	warnings := services.NewSystemWarningsService()

	reactor := NewReactor(Deps{
		PubSub:      pubsub,
		Tasks:       tasks,
		State:       state,
		TaskService: taskSvc,
		Checkpoints: checkSvc,
		Dispatcher:  dispatcher,
		Costs:       costSvc,
		Spawner:     sp,
		Git:         git,
		Settings:    settings,
		Warnings:    warnings,
	})
	checkSvc.SetHooks(reactor)

	return &fixture{
		reactor:    reactor,
		pubsub:     pubsub,
		tasks:      tasks,
		state:      state,
		costs:      costs,
		taskSvc:    taskSvc,
		checkSvc:   checkSvc,
		dispatcher: dispatcher,
		warnings:   warnings,
		spawner:    sp,
		git:        git,
		settings:   settings,
	}
}

// plainSettings disables every optional gate: no architect, no reviewer,
// no QA, sequential dispatch. Tests flip on what they exercise.
func plainSettings() *config.Settings {
	s := config.DefaultSettings()
	off := false
	s.Agent.ArchitectReview = &off
	s.Agent.ReviewerEnabled = false
	s.Agent.QAEnabled = false
	s.Agent.ParallelEnabled = false
	return s
}

// newCampaign persists an ACTIVE campaign, the state a parent is in while
// its sub-tasks run.
func (fx *fixture) newCampaign(t *testing.T, title string) *models.Task {
	t.Helper()
	ctx := context.Background()

	task := models.NewTask(title, "campaign: "+title)
	task.Prompt = task.Description
	task.RecordEvent("created", "user", "")
	require.NoError(t, fx.tasks.Create(ctx, task))

	_, err := fx.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusPlanned, "orchestrator", "queued for planning")
	require.NoError(t, err)
	task, err = fx.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusActive, "orchestrator", "agent=pm_test")
	require.NoError(t, err)
	return task
}

// addSubtask persists a PLANNED child and appends it to the parent's
// sub-task list.
func (fx *fixture) addSubtask(t *testing.T, parent *models.Task, title string, deps ...string) *models.Task {
	t.Helper()
	ctx := context.Background()

	child := models.NewTask(title, "work on "+title)
	child.ParentID = parent.ID
	child.Project = parent.Project
	child.CreatedBy = "pm_agent"
	child.DependsOn = deps
	child.RecordEvent("created", "pm_agent", "")
	require.NoError(t, fx.tasks.Create(ctx, child))
	child, err := fx.tasks.UpdateStatus(ctx, child.ID, models.TaskStatusPlanned, "pm_agent", "planned by PM")
	require.NoError(t, err)

	parent.SubtaskIDs = append(parent.SubtaskIDs, child.ID)
	require.NoError(t, fx.tasks.Update(ctx, parent))
	return child
}

// complete feeds the reactor a TASK_COMPLETE from the latest agent of the
// given role working on the task.
func (fx *fixture) complete(t *testing.T, taskID string, role models.AgentRole, output string) {
	t.Helper()
	agent := fx.spawner.lastAgentFor(taskID, role)
	require.NotNil(t, agent, "no %s agent was spawned for task %s", role, taskID)
	fx.reactor.handleAgentMessage(context.Background(),
		models.NewMessage(models.MessageTypeTaskComplete, taskID, agent.ID,
			map[string]any{"output": output}))
}

// fail feeds the reactor a TASK_FAILED from the latest agent of the given
// role working on the task.
func (fx *fixture) fail(t *testing.T, taskID string, role models.AgentRole, errMsg string) {
	t.Helper()
	agent := fx.spawner.lastAgentFor(taskID, role)
	require.NotNil(t, agent, "no %s agent was spawned for task %s", role, taskID)
	fx.reactor.handleAgentMessage(context.Background(),
		models.NewMessage(models.MessageTypeTaskFailed, taskID, agent.ID,
			map[string]any{"error": errMsg}))
}

// mustStatus asserts a task's current status and returns the fresh task.
func (fx *fixture) mustStatus(t *testing.T, taskID string, want models.TaskStatus) *models.Task {
	t.Helper()
	task, err := fx.tasks.Get(context.Background(), taskID)
	require.NoError(t, err)
	require.Equalf(t, want, task.Status, "task %s history: %+v", taskID, task.History)
	return task
}

// onePending asserts exactly one pending checkpoint exists with the given
// source and returns it.
func (fx *fixture) onePending(t *testing.T, source models.CheckpointSource) *models.Checkpoint {
	t.Helper()
	pending, err := fx.checkSvc.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, source, pending[0].SourceRole)
	return pending[0]
}

// startCampaign creates a campaign through the task service, so the PM
// agent is spawned and registered exactly like production.
func (fx *fixture) startCampaign(t *testing.T, title string) *models.Task {
	t.Helper()
	task, err := fx.taskSvc.CreateCampaign(context.Background(), services.CreateCampaignRequest{
		Prompt: "build " + title,
		Title:  title,
	})
	require.NoError(t, err)
	return task
}

// planAndApprove drives a campaign through PM planning and the plan
// checkpoint, returning the sub-task IDs. With the architect gate off this
// leaves the first wave of dev agents dispatched.
func (fx *fixture) planAndApprove(t *testing.T, campaignID string, titles ...string) []string {
	t.Helper()
	fx.complete(t, campaignID, models.AgentRolePM, pmPlanOutput(titles...))
	cp := fx.onePending(t, models.SourcePM)
	_, err := fx.checkSvc.Approve(context.Background(), cp.ID)
	require.NoError(t, err)

	parent, err := fx.tasks.Get(context.Background(), campaignID)
	require.NoError(t, err)
	return parent.SubtaskIDs
}

// approvePending approves the single pending checkpoint of the given source.
func (fx *fixture) approvePending(t *testing.T, source models.CheckpointSource) {
	t.Helper()
	cp := fx.onePending(t, source)
	_, err := fx.checkSvc.Approve(context.Background(), cp.ID)
	require.NoError(t, err)
}

// rejectPending rejects the single pending checkpoint of the given source.
func (fx *fixture) rejectPending(t *testing.T, source models.CheckpointSource, reason string) {
	t.Helper()
	cp := fx.onePending(t, source)
	_, err := fx.checkSvc.Reject(context.Background(), cp.ID, reason)
	require.NoError(t, err)
}

// pmPlanOutput renders a PM transcript whose fenced JSON decomposes into
// one sub-task per title.
func pmPlanOutput(titles ...string) string {
	subtasks := make([]map[string]any, 0, len(titles))
	for _, title := range titles {
		subtasks = append(subtasks, map[string]any{
			"title":       title,
			"description": "implement " + title,
		})
	}
	data, _ := json.Marshal(map[string]any{
		"analysis": "split by component",
		"subtasks": subtasks,
	})
	return "Here is the plan.\n```json\n" + string(data) + "\n```\n"
}

// reviewerOutput renders a reviewer transcript with the given verdict.
func reviewerOutput(verdict, summary string, securityConcerns ...string) string {
	payload := map[string]any{
		"verdict": verdict,
		"summary": summary,
	}
	if len(securityConcerns) > 0 {
		payload["security_concerns"] = securityConcerns
	}
	data, _ := json.Marshal(payload)
	return "Review complete.\n```json\n" + string(data) + "\n```\n"
}

// qaOutput renders a QA transcript with the given verdict.
func qaOutput(verdict, summary string) string {
	data, _ := json.Marshal(map[string]any{
		"verdict":         verdict,
		"summary":         summary,
		"failure_details": "",
	})
	return "QA run finished.\n```json\n" + string(data) + "\n```\n"
}

// spawnCall records one SpawnAgent invocation.
type spawnCall struct {
	taskID string
	role   models.AgentRole
}

// fakeSpawner implements spawner.Spawner in memory, remembering every
// record it handed out so tests can address agents by task and role.
type fakeSpawner struct {
	mu      sync.Mutex
	calls   []spawnCall
	records []*models.AgentRecord
	failFor map[string]error
	removed []string
	logsFor map[string]string
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{
		failFor: map[string]error{},
		logsFor: map[string]string{},
	}
}

func (f *fakeSpawner) failTask(taskID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFor[taskID] = err
}

func (f *fakeSpawner) SpawnAgent(_ context.Context, task *models.Task, role models.AgentRole) (*models.AgentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[task.ID]; err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec := &models.AgentRecord{
		ID:          models.NewAgentID(role),
		Role:        role,
		Status:      models.AgentStatusStarting,
		ContainerID: fmt.Sprintf("ctr-%s-%d", task.ID, len(f.records)),
		TaskID:      task.ID,
		StartedAt:   &now,
	}
	f.calls = append(f.calls, spawnCall{taskID: task.ID, role: role})
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeSpawner) StopAgent(_ context.Context, _ *models.AgentRecord) error {
	return nil
}

func (f *fakeSpawner) CollectLogsAndRemove(_ context.Context, containerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	return f.logsFor[containerID], nil
}

func (f *fakeSpawner) ContainerStatus(_ context.Context, _ string) (string, error) {
	return "exited", nil
}

// lastAgentFor returns the most recently spawned agent for a task and
// role, or nil.
func (f *fakeSpawner) lastAgentFor(taskID string, role models.AgentRole) *models.AgentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].TaskID == taskID && f.records[i].Role == role {
			return f.records[i]
		}
	}
	return nil
}

// spawnedRoles lists the roles spawned for a task, in order.
func (f *fakeSpawner) spawnedRoles(taskID string) []models.AgentRole {
	f.mu.Lock()
	defer f.mu.Unlock()
	var roles []models.AgentRole
	for _, c := range f.calls {
		if c.taskID == taskID {
			roles = append(roles, c.role)
		}
	}
	return roles
}

// fakeGit implements gitops.Operator in memory. Merge outcomes are
// scripted per source branch; everything defaults to success.
type fakeGit struct {
	mu sync.Mutex

	branch   string
	branches map[string]bool

	mergeResults map[string]gitops.MergeResult
	mergeErrs    map[string]error

	checkouts       []string
	ensured         []string
	merges          []string
	commits         []string
	worktreeCommits map[string][]string
	resolutionMsgs  []string
	resolvedFiles   [][]string
	aborts          int

	worktrees        map[string]string
	removedWorktrees []string
	deletedBranches  []string
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		branch:          "main",
		branches:        map[string]bool{"main": true},
		mergeResults:    map[string]gitops.MergeResult{},
		mergeErrs:       map[string]error{},
		worktreeCommits: map[string][]string{},
		worktrees:       map[string]string{},
	}
}

// scriptConflict makes the next merge of branch stop on the given files.
func (g *fakeGit) scriptConflict(branch string, files ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mergeResults[branch] = gitops.MergeResult{ConflictFiles: files}
}

func (g *fakeGit) InitRepo(_ context.Context) {}

func (g *fakeGit) CurrentBranch(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.branch, nil
}

func (g *fakeGit) Checkout(_ context.Context, branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, branch)
	g.branch = branch
	return nil
}

func (g *fakeGit) EnsureWorkingBranch(_ context.Context, branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensured = append(g.ensured, branch)
	g.branches[branch] = true
	g.branch = branch
	return nil
}

func (g *fakeGit) BranchExists(_ context.Context, branch string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.branches[branch], nil
}

func (g *fakeGit) DeleteBranch(_ context.Context, branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletedBranches = append(g.deletedBranches, branch)
	delete(g.branches, branch)
	return nil
}

func (g *fakeGit) CommitChanges(_ context.Context, message string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commits = append(g.commits, message)
	return fmt.Sprintf("c%04d", len(g.commits)), nil
}

func (g *fakeGit) CommitInWorktree(_ context.Context, worktreePath, message string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.worktreeCommits[worktreePath] = append(g.worktreeCommits[worktreePath], message)
	return fmt.Sprintf("w%04d", len(g.worktreeCommits[worktreePath])), nil
}

func (g *fakeGit) CommitMergeResolution(_ context.Context, message string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolutionMsgs = append(g.resolutionMsgs, message)
	return fmt.Sprintf("r%04d", len(g.resolutionMsgs)), nil
}

func (g *fakeGit) MergeBranch(_ context.Context, source, _ string) (gitops.MergeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.merges = append(g.merges, source)
	if err := g.mergeErrs[source]; err != nil {
		return gitops.MergeResult{}, err
	}
	if res, ok := g.mergeResults[source]; ok {
		// Scripted outcomes fire once; retries succeed.
		delete(g.mergeResults, source)
		return res, nil
	}
	return gitops.MergeResult{Merged: true, Hash: fmt.Sprintf("m%04d", len(g.merges))}, nil
}

func (g *fakeGit) AbortMerge(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.aborts++
	return nil
}

func (g *fakeGit) ResolveConflictsTheirs(_ context.Context, files []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolvedFiles = append(g.resolvedFiles, files)
	return nil
}

func (g *fakeGit) ConflictFiles(_ context.Context) ([]string, error) {
	return nil, nil
}

func (g *fakeGit) CreateWorktree(_ context.Context, path, branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.worktrees[path] = branch
	g.branches[branch] = true
	return nil
}

func (g *fakeGit) RemoveWorktree(_ context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removedWorktrees = append(g.removedWorktrees, path)
	delete(g.worktrees, path)
	return nil
}
