package worktree

import (
	"fmt"
	"strings"
)

// CreationError reports a failed worktree setup. Creation failures always
// abort the launch before any container exists.
type CreationError struct {
	Reason string
	Err    error
}

func (e *CreationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worktree creation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("worktree creation failed: %s", e.Reason)
}

func (e *CreationError) Unwrap() error { return e.Err }

// SanitizeError reports a sanitized git view that could not be built.
type SanitizeError struct {
	Reason string
	Err    error
}

func (e *SanitizeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sanitized git view failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("sanitized git view failed: %s", e.Reason)
}

func (e *SanitizeError) Unwrap() error { return e.Err }

// CleanupError reports a worktree that survived cleanup. The worktree is
// left intact; Recovery holds the manual commands that finish the job.
type CleanupError struct {
	Path     string
	Recovery []string
	Err      error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("worktree cleanup failed for %s: %v; recover manually with: %s",
		e.Path, e.Err, strings.Join(e.Recovery, " && "))
}

func (e *CleanupError) Unwrap() error { return e.Err }
