package cli

import (
	"errors"

	"github.com/aviadshiber/kapsis/internal/config"
	"github.com/aviadshiber/kapsis/internal/engine"
	"github.com/aviadshiber/kapsis/internal/lifecycle"
	"github.com/aviadshiber/kapsis/internal/network"
	"github.com/aviadshiber/kapsis/internal/security"
	"github.com/aviadshiber/kapsis/internal/worktree"
)

// Exit codes per error kind. Scripts dispatch on these, so the mapping is
// part of the CLI contract.
const (
	ExitOK              = 0
	ExitGeneric         = 1
	ExitConfigInvalid   = 2
	ExitWorktree        = 3
	ExitSanitize        = 4
	ExitNetworkPolicy   = 5
	ExitSecurityProfile = 6
	ExitLaunch          = 7
	ExitTimeout         = 8
	ExitPush            = 9
	ExitCleanup         = 10
)

// ExitCode maps an error to its process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var validationErr *config.ValidationError
	var creationErr *worktree.CreationError
	var sanitizeErr *worktree.SanitizeError
	var cleanupErr *worktree.CleanupError
	var policyErr *network.PolicyInitError
	var profileErr *security.InvalidProfileError
	var launchErr *engine.LaunchError
	var timeoutErr *engine.TimeoutError
	var pushErr *lifecycle.PushError

	switch {
	case errors.As(err, &validationErr):
		return ExitConfigInvalid
	case errors.As(err, &creationErr):
		return ExitWorktree
	case errors.As(err, &sanitizeErr):
		return ExitSanitize
	case errors.As(err, &cleanupErr):
		return ExitCleanup
	case errors.As(err, &policyErr):
		return ExitNetworkPolicy
	case errors.As(err, &profileErr):
		return ExitSecurityProfile
	case errors.As(err, &launchErr):
		return ExitLaunch
	case errors.As(err, &timeoutErr):
		return ExitTimeout
	case errors.As(err, &pushErr):
		return ExitPush
	default:
		return ExitGeneric
	}
}
