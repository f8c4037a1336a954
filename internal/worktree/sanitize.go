package worktree

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Container paths for the sanitized control plane. The view is mounted
// read-only at its own path, never over the workspace: a worktree checkout
// carries a regular .git pointer file, and a directory cannot bind-mount
// onto a file. The composer instead points git at the view through
// GIT_DIR/GIT_WORK_TREE, which also makes the host gitdir pointer inert
// inside the container.
const (
	ContainerGitViewPath = "/kapsis-git/view"
	ContainerObjectsPath = "/kapsis-git/objects"
	containerHooksPath   = ContainerGitViewPath + "/hooks"
)

// SanitizedView is a minimal, read-only git directory for the container:
// safe config keys only, a credential-scrubbed remote, an empty hooks
// directory pinned via core.hooksPath, refs scoped to the agent's branch,
// and the object store shared read-only through an alternates file.
type SanitizedView struct {
	Path            string // host path of the generated git dir
	HostObjectsPath string // host path of the shared object store
	Branch          string
}

// PrepareSanitizedView builds the sanitized git view for an agent worktree.
// The container never sees the project's real .git directory and never
// receives a remote URL carrying credentials.
func PrepareSanitizedView(ctx context.Context, handle *Handle) (*SanitizedView, error) {
	projectGit := &Git{Dir: handle.ProjectPath}
	worktreeGit := &Git{Dir: handle.Path}

	head, err := worktreeGit.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, &SanitizeError{Reason: "resolving worktree HEAD", Err: err}
	}

	commonDir, err := projectGit.Run(ctx, "rev-parse", "--git-common-dir")
	if err != nil {
		return nil, &SanitizeError{Reason: "resolving git common dir", Err: err}
	}
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(handle.ProjectPath, commonDir)
	}
	objectsPath := filepath.Join(commonDir, "objects")

	viewPath := filepath.Join(AgentDir(handle.ProjectPath, handle.AgentID), "gitview")
	if err := os.RemoveAll(viewPath); err != nil {
		return nil, &SanitizeError{Reason: "clearing stale git view", Err: err}
	}
	for _, dir := range []string{
		filepath.Join(viewPath, "hooks"),
		filepath.Join(viewPath, "objects", "info"),
		filepath.Dir(filepath.Join(viewPath, "refs", "heads", handle.Branch)),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &SanitizeError{Reason: "creating git view layout", Err: err}
		}
	}

	writes := map[string]string{
		filepath.Join(viewPath, "HEAD"):                          "ref: refs/heads/" + handle.Branch + "\n",
		filepath.Join(viewPath, "refs", "heads", handle.Branch):  head + "\n",
		filepath.Join(viewPath, "objects", "info", "alternates"): ContainerObjectsPath + "\n",
		filepath.Join(viewPath, "config"):                        buildConfig(ctx, projectGit),
	}
	for path, content := range writes {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, &SanitizeError{Reason: "writing " + filepath.Base(path), Err: err}
		}
	}

	view := &SanitizedView{Path: viewPath, HostObjectsPath: objectsPath, Branch: handle.Branch}
	if err := view.Verify(); err != nil {
		return nil, err
	}
	return view, nil
}

// buildConfig assembles the minimal config the container may see. Only
// identity and core keys are copied; the remote URL, if any, is scrubbed of
// embedded credentials. Hooks are pinned to the view's own (empty) hooks
// directory so no host hook can ever execute inside the sandbox.
func buildConfig(ctx context.Context, projectGit *Git) string {
	var b strings.Builder
	b.WriteString("[core]\n")
	b.WriteString("\trepositoryformatversion = 0\n")
	b.WriteString("\tbare = false\n")
	b.WriteString("\thooksPath = " + containerHooksPath + "\n")

	name := projectGit.ConfigValue(ctx, "user.name")
	email := projectGit.ConfigValue(ctx, "user.email")
	if name != "" || email != "" {
		b.WriteString("[user]\n")
		if name != "" {
			b.WriteString("\tname = " + name + "\n")
		}
		if email != "" {
			b.WriteString("\temail = " + email + "\n")
		}
	}

	if remoteURL := projectGit.ConfigValue(ctx, "remote.origin.url"); remoteURL != "" {
		b.WriteString("[remote \"origin\"]\n")
		b.WriteString("\turl = " + ScrubRemoteURL(remoteURL) + "\n")
		b.WriteString("\tfetch = +refs/heads/*:refs/remotes/origin/*\n")
	}
	return b.String()
}

// ScrubRemoteURL strips any userinfo (tokens, passwords) from a remote URL.
// scp-style URLs (git@host:path) carry no secret and pass through.
func ScrubRemoteURL(remote string) string {
	u, err := url.Parse(remote)
	if err != nil || u.Scheme == "" {
		return remote
	}
	u.User = nil
	return u.String()
}

// Verify asserts the view's invariants: an empty hooks directory and a
// config free of credentialed URLs.
func (v *SanitizedView) Verify() error {
	entries, err := os.ReadDir(filepath.Join(v.Path, "hooks"))
	if err != nil {
		return &SanitizeError{Reason: "reading hooks dir", Err: err}
	}
	if len(entries) != 0 {
		return &SanitizeError{Reason: fmt.Sprintf("hooks directory contains %d entries, want 0", len(entries))}
	}

	data, err := os.ReadFile(filepath.Join(v.Path, "config"))
	if err != nil {
		return &SanitizeError{Reason: "reading view config", Err: err}
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "url = ") {
			continue
		}
		u, err := url.Parse(strings.TrimPrefix(line, "url = "))
		if err == nil && u.User != nil {
			return &SanitizeError{Reason: "view config contains a credentialed remote URL"}
		}
	}
	return nil
}
