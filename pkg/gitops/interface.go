// Package gitops runs git operations on the shared workspace: the working
// branches, per-task worktrees, and the merge protocol that folds sub-task
// branches back into the campaign branch.
package gitops

import "context"

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch(ctx context.Context) (string, error)
	// Checkout switches to an existing branch.
	Checkout(ctx context.Context, branch string) error
	// EnsureWorkingBranch creates a branch from HEAD and checks it out,
	// or just checks it out when it already exists.
	EnsureWorkingBranch(ctx context.Context, branch string) error
	// BranchExists reports whether a local branch exists.
	BranchExists(ctx context.Context, branch string) (bool, error)
	// DeleteBranch force-deletes a local branch. Missing branches are not
	// an error.
	DeleteBranch(ctx context.Context, branch string) error
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// CommitChanges stages everything and commits. Returns the commit
	// hash, or "" when there was nothing to commit.
	CommitChanges(ctx context.Context, message string) (string, error)
	// CommitInWorktree stages and commits inside a worktree, addressing
	// the worktree via explicit --git-dir/--work-tree so a clobbered
	// .git file in the worktree cannot detach the commit. Returns the
	// commit hash, or "" when there was nothing to commit.
	CommitInWorktree(ctx context.Context, worktreePath, message string) (string, error)
	// CommitMergeResolution stages everything and commits a manual merge
	// resolution. Returns the commit hash, or "" when the commit failed
	// (e.g. conflicts still unstaged).
	CommitMergeResolution(ctx context.Context, message string) (string, error)
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeBranch merges source into the current branch with --no-ff.
	// Conflicts are reported in the result, not as an error.
	MergeBranch(ctx context.Context, source, message string) (MergeResult, error)
	// AbortMerge aborts an in-progress merge. Safe to call when no merge
	// is in progress.
	AbortMerge(ctx context.Context) error
	// ResolveConflictsTheirs resolves conflicts by taking the incoming
	// side of each file and staging it.
	ResolveConflictsTheirs(ctx context.Context, files []string) error
	// ConflictFiles lists paths with unmerged changes.
	ConflictFiles(ctx context.Context) ([]string, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// CreateWorktree creates a worktree at path on a new branch cut from
	// the current HEAD of the main workspace.
	CreateWorktree(ctx context.Context, path, branch string) error
	// RemoveWorktree force-removes a worktree and prunes stale entries.
	// Best-effort: a missing worktree is not an error.
	RemoveWorktree(ctx context.Context, path string) error
}

// Operator is the full git surface the orchestrator depends on.
type Operator interface {
	// InitRepo makes the workspace a usable repository: marks it safe,
	// initializes it when needed, configures identity, and guarantees at
	// least one commit so worktrees can be created. Failures are logged,
	// not returned, so a read-only workspace still serves direct tasks.
	InitRepo(ctx context.Context)

	BranchOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
}

// MergeResult describes the outcome of MergeBranch.
type MergeResult struct {
	// Merged is true when the merge commit was created.
	Merged bool
	// Hash is the merge commit hash when Merged.
	Hash string
	// ConflictFiles lists unmerged paths when the merge stopped on
	// conflicts. Empty together with Merged=false means the merge failed
	// for another reason (already logged).
	ConflictFiles []string
}
