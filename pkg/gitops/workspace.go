package gitops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Workspace runs git against a single repository root. Operations are
// serialized with a mutex: agents commit through their own worktrees, so the
// orchestrator is the only writer here, but dispatch and merge handling run
// on different goroutines.
type Workspace struct {
	path string
	mu   sync.Mutex
}

var _ Operator = (*Workspace)(nil)

// NewWorkspace returns a Workspace rooted at path. The path does not have to
// be a repository yet; InitRepo takes care of that.
func NewWorkspace(path string) *Workspace {
	return &Workspace{path: path}
}

// Path returns the workspace root.
func (w *Workspace) Path() string {
	return w.path
}

// exec runs git with the given args and returns its trimmed combined output.
// A non-zero exit comes back as *exec.ExitError.
func (w *Workspace) exec(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.path
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// run is exec with the output folded into the error for callers that treat
// any failure as fatal.
func (w *Workspace) run(ctx context.Context, args ...string) (string, error) {
	out, err := w.exec(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out)
	}
	return out, nil
}

// InitRepo makes the workspace usable: marks it safe for the container user,
// initializes a repository when none exists, sets the committer identity, and
// creates an initial commit when HEAD is unborn so worktrees can be added.
// Every step is best-effort; a workspace that rejects git still serves
// direct tasks.
func (w *Workspace) InitRepo(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.run(ctx, "config", "--global", "--add", "safe.directory", w.path); err != nil {
		slog.Warn("Could not mark workspace as a safe directory", "path", w.path, "error", err)
	}
	if _, err := w.exec(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		slog.Info("Initializing git repository", "path", w.path)
		if _, err := w.run(ctx, "init"); err != nil {
			slog.Warn("Could not initialize repository", "path", w.path, "error", err)
			return
		}
	}
	for _, kv := range [][2]string{{"user.email", "legatus@local"}, {"user.name", "Legatus"}} {
		if _, err := w.run(ctx, "config", kv[0], kv[1]); err != nil {
			slog.Warn("Could not set git identity", "key", kv[0], "error", err)
		}
	}
	if _, err := w.exec(ctx, "rev-parse", "HEAD"); err != nil {
		if _, err := w.run(ctx, "commit", "--allow-empty", "-m", "legatus: initial commit"); err != nil {
			slog.Warn("Could not create initial commit", "path", w.path, "error", err)
		}
	}
}

// CurrentBranch returns the name of the checked-out branch.
func (w *Workspace) CurrentBranch(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Checkout switches to an existing branch.
func (w *Workspace) Checkout(ctx context.Context, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.run(ctx, "checkout", branch)
	return err
}

// EnsureWorkingBranch checks out branch, creating it from the current HEAD
// when it does not exist yet.
func (w *Workspace) EnsureWorkingBranch(ctx context.Context, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	exists, err := w.branchExists(ctx, branch)
	if err != nil {
		return err
	}
	if exists {
		_, err = w.run(ctx, "checkout", branch)
		return err
	}
	_, err = w.run(ctx, "checkout", "-b", branch)
	return err
}

// BranchExists reports whether a local branch exists.
func (w *Workspace) BranchExists(ctx context.Context, branch string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.branchExists(ctx, branch)
}

func (w *Workspace) branchExists(ctx context.Context, branch string) (bool, error) {
	_, err := w.exec(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git show-ref %s: %w", branch, err)
}

// DeleteBranch force-deletes a local branch. Failures (including a missing
// branch) are ignored.
func (w *Workspace) DeleteBranch(ctx context.Context, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = w.exec(ctx, "branch", "-D", branch)
	return nil
}

// CommitChanges stages the whole tree and commits it. Returns "" when the
// tree is clean.
func (w *Workspace) CommitChanges(ctx context.Context, message string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.run(ctx, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := w.exec(ctx, "diff", "--cached", "--quiet"); err == nil {
		return "", nil
	}
	if _, err := w.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return w.run(ctx, "rev-parse", "HEAD")
}

// CreateWorktree adds a worktree at path on a new branch cut from the
// current HEAD.
func (w *Workspace) CreateWorktree(ctx context.Context, path, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.run(ctx, "config", "--global", "--add", "safe.directory", path); err != nil {
		slog.Warn("Could not mark worktree as a safe directory", "path", path, "error", err)
	}
	_, err := w.run(ctx, "worktree", "add", path, "-b", branch)
	return err
}

// RemoveWorktree force-removes the worktree at path and prunes stale
// registrations. Best-effort: removing a worktree that is already gone is
// fine.
func (w *Workspace) RemoveWorktree(ctx context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = w.exec(ctx, "worktree", "remove", path, "--force")
	_, _ = w.exec(ctx, "worktree", "prune")
	return nil
}

// CommitInWorktree stages and commits inside the worktree at path. The
// worktree is addressed through the main repository's admin directory rather
// than its own .git file, so an agent that overwrote or deleted that file
// cannot detach the commit. Returns "" when there is nothing to commit.
func (w *Workspace) CommitInWorktree(ctx context.Context, path, message string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	base := []string{
		"--git-dir=" + filepath.Join(w.path, ".git", "worktrees", filepath.Base(path)),
		"--work-tree=" + path,
	}
	if _, err := w.run(ctx, append(base, "add", "-A")...); err != nil {
		return "", err
	}
	if _, err := w.exec(ctx, append(base, "diff", "--cached", "--quiet")...); err == nil {
		return "", nil
	}
	if _, err := w.run(ctx, append(base, "commit", "-m", message)...); err != nil {
		return "", err
	}
	return w.run(ctx, append(base, "rev-parse", "HEAD")...)
}

// MergeBranch merges source into the current branch with --no-ff. A conflict
// is not an error: the unmerged paths come back in the result and the merge
// is left in progress for the caller to resolve or abort. A merge that fails
// with no unmerged paths (unrelated histories, dirty tree) is reported as
// neither merged nor conflicted.
func (w *Workspace) MergeBranch(ctx context.Context, source, message string) (MergeResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	out, err := w.exec(ctx, "merge", source, "-m", message, "--no-ff")
	if err == nil {
		hash, err := w.run(ctx, "rev-parse", "HEAD")
		if err != nil {
			return MergeResult{}, err
		}
		return MergeResult{Merged: true, Hash: hash}, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return MergeResult{}, fmt.Errorf("git merge %s: %w: %s", source, err, out)
	}
	files, err := w.conflictFiles(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	if len(files) == 0 {
		slog.Warn("Merge failed without conflicts", "source", source, "output", out)
		return MergeResult{}, nil
	}
	return MergeResult{ConflictFiles: files}, nil
}

// AbortMerge aborts an in-progress merge. Ignored when no merge is in
// progress.
func (w *Workspace) AbortMerge(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = w.exec(ctx, "merge", "--abort")
	return nil
}

// ConflictFiles lists paths with unmerged changes.
func (w *Workspace) ConflictFiles(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conflictFiles(ctx)
}

func (w *Workspace) conflictFiles(ctx context.Context) ([]string, error) {
	out, err := w.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// ResolveConflictsTheirs resolves each conflicted file by taking the
// incoming side and staging it.
func (w *Workspace) ResolveConflictsTheirs(ctx context.Context, files []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, f := range files {
		if _, err := w.run(ctx, "checkout", "--theirs", "--", f); err != nil {
			return err
		}
		if _, err := w.run(ctx, "add", "--", f); err != nil {
			return err
		}
	}
	return nil
}

// CommitMergeResolution stages everything and commits the resolution.
// Returns "" when the commit is refused, e.g. because conflicts remain.
func (w *Workspace) CommitMergeResolution(ctx context.Context, message string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.run(ctx, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := w.exec(ctx, "commit", "-m", message); err != nil {
		return "", nil
	}
	return w.run(ctx, "rev-parse", "HEAD")
}
