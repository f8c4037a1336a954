package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/aviadshiber/kapsis/internal/config"
	"github.com/aviadshiber/kapsis/internal/worktree"
)

// PushError reports a push that failed after the commit landed. The commit
// survives on the local branch; Fallback, when set, is a command the
// operator can run to push through a fork remote instead. It is reported,
// never executed.
type PushError struct {
	Branch   string
	Fallback string
	Err      error
}

func (e *PushError) Error() string {
	msg := fmt.Sprintf("push failed for branch %s (the local commit survives): %v", e.Branch, e.Err)
	if e.Fallback != "" {
		msg += "; fork fallback: " + e.Fallback
	}
	return msg
}

func (e *PushError) Unwrap() error { return e.Err }

// commitChanges stages and commits the agent's work in the worktree.
// Returns false when there was nothing to commit.
func commitChanges(ctx context.Context, spec *config.RunSpec, handle *worktree.Handle) (bool, error) {
	git := &worktree.Git{Dir: handle.Path}

	porcelain, err := git.Run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("checking worktree status: %w", err)
	}
	if porcelain == "" {
		return false, nil
	}

	if _, err := git.Run(ctx, "add", "-A"); err != nil {
		return false, fmt.Errorf("staging changes: %w", err)
	}
	for _, pattern := range spec.ExcludePatterns {
		// A pathspec matching nothing staged is fine; real failures abort.
		if out, err := git.Run(ctx, "reset", "-q", "--", pattern); err != nil &&
			!strings.Contains(out, "did not match any") {
			return false, fmt.Errorf("unstaging %q: %w", pattern, err)
		}
	}

	// Excludes may have unstaged everything.
	if git.Ok(ctx, "diff", "--cached", "--quiet") {
		return false, nil
	}

	message := buildCommitMessage(spec, git.ConfigValue(ctx, "user.email"))
	if _, err := git.Run(ctx, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("committing changes: %w", err)
	}
	return true, nil
}

// pushBranch pushes the agent branch, retrying once with an explicit
// refspec before surfacing a PushError.
func pushBranch(ctx context.Context, spec *config.RunSpec, handle *worktree.Handle) error {
	git := &worktree.Git{Dir: handle.Path}

	if _, err := git.Run(ctx, "push", "-u", spec.Remote, handle.Branch); err == nil {
		return nil
	}
	_, err := git.Run(ctx, "push", spec.Remote, "HEAD:refs/heads/"+handle.Branch)
	if err == nil {
		return nil
	}

	return &PushError{
		Branch:   handle.Branch,
		Fallback: forkFallback(ctx, spec, handle, git),
		Err:      err,
	}
}

// forkFallback builds the fork-and-push command reported alongside a
// PushError, when fork workflow is configured and the remote is a known
// hosting service.
func forkFallback(ctx context.Context, spec *config.RunSpec, handle *worktree.Handle, git *worktree.Git) string {
	if spec.ForkRemote == "" {
		return ""
	}
	remoteURL := git.ConfigValue(ctx, "remote."+spec.Remote+".url")
	if !isHostedRemote(remoteURL) {
		return ""
	}
	return fmt.Sprintf("git -C %s push --set-upstream %s %s", handle.Path, spec.ForkRemote, handle.Branch)
}

func isHostedRemote(remoteURL string) bool {
	for _, host := range []string{"github.com", "gitlab.com", "bitbucket.org"} {
		if strings.Contains(remoteURL, host) {
			return true
		}
	}
	return false
}

// buildCommitMessage renders the configured template and appends co-author
// trailers, dropping any co-author whose email is the committer's own.
func buildCommitMessage(spec *config.RunSpec, committerEmail string) string {
	msg := spec.CommitTemplate
	msg = strings.ReplaceAll(msg, "{agent_id}", spec.AgentID)
	msg = strings.ReplaceAll(msg, "{project}", spec.Project)
	msg = strings.ReplaceAll(msg, "{branch}", spec.Branch)

	trailers := CoAuthorTrailers(spec.CoAuthors, committerEmail)
	if len(trailers) > 0 {
		msg += "\n\n" + strings.Join(trailers, "\n")
	}
	return msg
}

// CoAuthorTrailers formats Co-authored-by trailers from "Name <email>"
// entries, deduplicated against the committer's own email so nobody
// co-authors their own commit.
func CoAuthorTrailers(coAuthors []string, committerEmail string) []string {
	committerEmail = strings.ToLower(strings.TrimSpace(committerEmail))
	var trailers []string
	for _, author := range coAuthors {
		author = strings.TrimSpace(author)
		if author == "" {
			continue
		}
		if email := extractEmail(author); email != "" && committerEmail != "" &&
			strings.EqualFold(email, committerEmail) {
			continue
		}
		trailers = append(trailers, "Co-authored-by: "+author)
	}
	return trailers
}

func extractEmail(author string) string {
	start := strings.LastIndex(author, "<")
	end := strings.LastIndex(author, ">")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(author[start+1 : end])
}
