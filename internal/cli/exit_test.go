package cli

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aviadshiber/kapsis/internal/config"
	"github.com/aviadshiber/kapsis/internal/engine"
	"github.com/aviadshiber/kapsis/internal/lifecycle"
	"github.com/aviadshiber/kapsis/internal/network"
	"github.com/aviadshiber/kapsis/internal/security"
	"github.com/aviadshiber/kapsis/internal/worktree"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"generic", errors.New("boom"), ExitGeneric},
		{"validation", &config.ValidationError{Field: "network.mode", Reason: "bad"}, ExitConfigInvalid},
		{"creation", &worktree.CreationError{Reason: "no commits"}, ExitWorktree},
		{"sanitize", &worktree.SanitizeError{Reason: "hooks"}, ExitSanitize},
		{"cleanup", &worktree.CleanupError{Path: "/x"}, ExitCleanup},
		{"policy", &network.PolicyInitError{Reason: "verify"}, ExitNetworkPolicy},
		{"profile", &security.InvalidProfileError{Level: "max"}, ExitSecurityProfile},
		{"launch", &engine.LaunchError{Reason: "create"}, ExitLaunch},
		{"timeout", &engine.TimeoutError{Timeout: time.Minute}, ExitTimeout},
		{"push", &lifecycle.PushError{Branch: "b", Err: errors.New("denied")}, ExitPush},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestExitCodeUnwrapsWrappedErrors(t *testing.T) {
	err := fmt.Errorf("resolving run spec: %w",
		&config.ValidationError{Field: "agent id", Reason: "empty"})
	if got := ExitCode(err); got != ExitConfigInvalid {
		t.Errorf("ExitCode = %d, want %d", got, ExitConfigInvalid)
	}

	wrapped := fmt.Errorf("launch: %w", &engine.TimeoutError{Timeout: time.Minute})
	if got := ExitCode(wrapped); got != ExitTimeout {
		t.Errorf("ExitCode = %d, want %d", got, ExitTimeout)
	}
}
