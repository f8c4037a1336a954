package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// AgentDirName is the per-project directory kapsis owns. Worktrees and
// sanitized views live under <project>/.kapsis/agents/<agent-id>/ so
// concurrently launched agents never share paths.
const AgentDirName = ".kapsis"

// Handle describes one agent's worktree.
type Handle struct {
	Path        string // worktree checkout
	Branch      string
	BaseBranch  string // what the branch was created from, "" on continuation
	AgentID     string
	ProjectPath string
	Continued   bool // true when the remote branch existed and was resumed
}

// AgentDir returns the kapsis-owned directory for one agent.
func AgentDir(projectPath, agentID string) string {
	return filepath.Join(projectPath, AgentDirName, "agents", agentID)
}

// Create prepares an isolated worktree for the agent's branch.
//
// The remote is fetched first. If the remote branch already exists it is
// checked out tracking it, resuming from the last pushed state. Otherwise a
// new branch is created from the base branch, or from the current HEAD when
// no base is configured.
//
// A repository with no commits is a hard error: the caller asked for branch
// isolation and there is no commit a branch could point at, so failing
// closed beats silently downgrading to overlay mode.
func Create(ctx context.Context, logger *slog.Logger, projectPath, agentID, branch, baseBranch, remote string) (*Handle, error) {
	git := &Git{Dir: projectPath}

	if branch == "" {
		return nil, &CreationError{Reason: "no branch specified"}
	}
	if _, err := git.Run(ctx, "check-ref-format", "--branch", branch); err != nil {
		return nil, &CreationError{Reason: fmt.Sprintf("invalid branch name %q", branch), Err: err}
	}
	if !git.Ok(ctx, "rev-parse", "--verify", "HEAD") {
		return nil, &CreationError{Reason: "repository has no commits; create an initial commit before launching in worktree mode"}
	}

	// Fetch so the remote-branch check sees the latest refs. A repository
	// without the configured remote skips the fetch and always creates a
	// fresh branch.
	remoteBranchExists := false
	if git.Ok(ctx, "remote", "get-url", remote) {
		if _, err := git.Run(ctx, "fetch", remote); err != nil {
			return nil, &CreationError{Reason: fmt.Sprintf("fetching %s", remote), Err: err}
		}
		remoteBranchExists = git.Ok(ctx, "rev-parse", "--verify", "--quiet",
			fmt.Sprintf("refs/remotes/%s/%s", remote, branch))
	} else {
		logger.Info("remote not configured, skipping fetch", "remote", remote)
	}

	wtPath := filepath.Join(AgentDir(projectPath, agentID), "worktree")
	if err := os.MkdirAll(filepath.Dir(wtPath), 0o755); err != nil {
		return nil, &CreationError{Reason: "creating agent directory", Err: err}
	}

	handle := &Handle{
		Path:        wtPath,
		Branch:      branch,
		AgentID:     agentID,
		ProjectPath: projectPath,
	}

	if remoteBranchExists {
		logger.Info("resuming remote branch", "branch", branch, "remote", remote)
		handle.Continued = true
		if _, err := git.Run(ctx, "worktree", "add", "--track", "-b", branch, wtPath,
			fmt.Sprintf("%s/%s", remote, branch)); err != nil {
			// The local branch may exist from an earlier run; attach
			// the worktree to it instead of minting a duplicate.
			if !git.Ok(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch) {
				return nil, &CreationError{Reason: fmt.Sprintf("adding worktree for %s", branch), Err: err}
			}
			if _, err := git.Run(ctx, "worktree", "add", wtPath, branch); err != nil {
				return nil, &CreationError{Reason: fmt.Sprintf("adding worktree for existing branch %s", branch), Err: err}
			}
		}
		return handle, nil
	}

	base := baseBranch
	if base == "" {
		base = "HEAD"
	}
	handle.BaseBranch = base
	logger.Info("creating branch", "branch", branch, "base", base)
	if _, err := git.Run(ctx, "worktree", "add", "-b", branch, wtPath, base); err != nil {
		return nil, &CreationError{Reason: fmt.Sprintf("adding worktree for new branch %s from %s", branch, base), Err: err}
	}
	return handle, nil
}

// Cleanup removes the agent's worktree registration and its kapsis
// directory. A stale registration gets one prune-and-retry; a persistent
// failure leaves everything intact and reports the manual recovery steps,
// never silently discarding a checkout that may hold uncommitted work.
func Cleanup(ctx context.Context, logger *slog.Logger, projectPath, agentID string) error {
	git := &Git{Dir: projectPath}
	agentDir := AgentDir(projectPath, agentID)
	wtPath := filepath.Join(agentDir, "worktree")

	if _, statErr := os.Stat(wtPath); statErr == nil {
		if _, err := git.Run(ctx, "worktree", "remove", "--force", wtPath); err != nil {
			logger.Warn("worktree remove failed, pruning and retrying", "path", wtPath, "error", err)
			_, _ = git.Run(ctx, "worktree", "prune")
			if _, err := git.Run(ctx, "worktree", "remove", "--force", wtPath); err != nil {
				return &CleanupError{
					Path: wtPath,
					Recovery: []string{
						fmt.Sprintf("git -C %s worktree remove --force %s", projectPath, wtPath),
						fmt.Sprintf("rm -rf %s", agentDir),
					},
					Err: err,
				}
			}
		}
	} else {
		// Checkout already gone; drop any stale registration.
		_, _ = git.Run(ctx, "worktree", "prune")
	}

	if err := os.RemoveAll(agentDir); err != nil {
		return &CleanupError{
			Path:     agentDir,
			Recovery: []string{fmt.Sprintf("rm -rf %s", agentDir)},
			Err:      err,
		}
	}
	return nil
}
