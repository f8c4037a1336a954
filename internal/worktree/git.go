package worktree

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git runs git subprocesses rooted at one directory. All repository access
// in kapsis goes through external git processes; output is parsed, never
// guessed.
type Git struct {
	Dir string
}

// Run executes git with the given arguments and returns trimmed combined
// output. A non-zero exit becomes an error carrying git's own message.
func (g *Git) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed != "" {
			return trimmed, fmt.Errorf("git %s: %s: %w", args[0], trimmed, err)
		}
		return trimmed, fmt.Errorf("git %s: %w", args[0], err)
	}
	return trimmed, nil
}

// Ok runs git and reports only whether it succeeded.
func (g *Git) Ok(ctx context.Context, args ...string) bool {
	_, err := g.Run(ctx, args...)
	return err == nil
}

// ConfigValue reads a single config key, returning "" when unset.
func (g *Git) ConfigValue(ctx context.Context, key string) string {
	out, err := g.Run(ctx, "config", "--get", key)
	if err != nil {
		return ""
	}
	return out
}
