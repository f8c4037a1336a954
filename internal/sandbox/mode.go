package sandbox

import (
	"path/filepath"

	"github.com/aviadshiber/kapsis/internal/config"
	"github.com/aviadshiber/kapsis/internal/security"
	"github.com/aviadshiber/kapsis/internal/worktree"
)

// Mode is the filesystem isolation strategy for a run.
type Mode int

const (
	// ModeOverlay isolates through a copy-on-write overlay of the project
	// tree; the real tree is never written.
	ModeOverlay Mode = iota

	// ModeWorktree isolates through a dedicated git worktree on the
	// agent's branch plus a sanitized git view.
	ModeWorktree
)

func (m Mode) String() string {
	switch m {
	case ModeOverlay:
		return "overlay"
	case ModeWorktree:
		return "worktree"
	default:
		return "unknown"
	}
}

// Select picks the isolation mode for a RunSpec. An explicit force wins;
// otherwise a requested branch on a real git repository means worktree, and
// everything else falls back to overlay. The only side effect is the .git
// existence check.
//
// Forcing worktree mode on a directory without a repository is a
// CreationError: there is no git metadata a worktree could attach to, and
// silently downgrading would hand the agent a different isolation model
// than the caller demanded.
func Select(spec *config.RunSpec) (Mode, error) {
	hasGit := security.DirExists(filepath.Join(spec.ProjectPath, ".git"))

	switch spec.ForceMode {
	case config.ForceOverlay:
		return ModeOverlay, nil
	case config.ForceWorktree:
		if !hasGit {
			return ModeOverlay, &worktree.CreationError{
				Reason: "worktree mode forced but " + spec.ProjectPath + " is not a git repository",
			}
		}
		return ModeWorktree, nil
	}

	if spec.Branch != "" && hasGit {
		return ModeWorktree, nil
	}
	return ModeOverlay, nil
}
