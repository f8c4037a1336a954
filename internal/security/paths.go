package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DeniedMountPaths are never allowed into a sandbox, regardless of
// configuration. They hold host credentials an agent must not see.
var DeniedMountPaths = []string{
	"~/.gnupg",
	"~/.netrc",
	"~/.ssh",
	"~/.docker/config.json",
	"~/.kube/config",
	"~/.aws/credentials",
}

// ExpandPath expands ~ to the user's home directory and cleans the path
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = home
	}

	path = filepath.Clean(path)
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	// Resolve symlinks so denied-path checks cannot be bypassed through
	// a link. A path that does not exist yet is fine.
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return path, nil
		}
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return resolved, nil
}

// ValidateMountPath checks if a path is allowed to be mounted
func ValidateMountPath(path string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	for _, denied := range DeniedMountPaths {
		deniedExpanded := expandTilde(denied, home)
		if pathMatches(path, deniedExpanded) {
			return fmt.Errorf("path is in denied list: %s", denied)
		}
	}
	return nil
}

// pathMatches checks if path is equal to or a child of target
func pathMatches(path, target string) bool {
	if path == target {
		return true
	}
	rel, err := filepath.Rel(target, path)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..")
}

func expandTilde(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		return home
	}
	return path
}

// DirExists checks if a path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
