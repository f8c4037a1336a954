package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aviadshiber/kapsis/internal/config"
	"github.com/aviadshiber/kapsis/internal/worktree"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.name", "Test User")
	runGit(t, dir, "config", "user.email", "test@example.com")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial commit")
	return dir
}

func commitSpec(repo string) *config.RunSpec {
	return &config.RunSpec{
		AgentID:        "agent-1",
		Project:        filepath.Base(repo),
		ProjectPath:    repo,
		Branch:         "kapsis-feature",
		Remote:         "origin",
		CommitTemplate: "kapsis: changes from agent {agent_id}",
	}
}

func createWorktree(t *testing.T, repo string) *worktree.Handle {
	t.Helper()
	handle, err := worktree.Create(context.Background(), testLogger(), repo, "agent-1", "kapsis-feature", "", "origin")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return handle
}

func TestCommitChanges(t *testing.T) {
	repo := initRepo(t)
	handle := createWorktree(t, repo)
	spec := commitSpec(repo)

	if err := os.WriteFile(filepath.Join(handle.Path, "work.txt"), []byte("done\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	committed, err := commitChanges(context.Background(), spec, handle)
	if err != nil {
		t.Fatalf("commitChanges: %v", err)
	}
	if !committed {
		t.Fatal("commitChanges reported nothing to commit")
	}

	subject := runGit(t, handle.Path, "log", "-1", "--format=%s")
	if subject != "kapsis: changes from agent agent-1" {
		t.Errorf("commit subject = %q", subject)
	}
	if out := runGit(t, handle.Path, "status", "--porcelain"); out != "" {
		t.Errorf("worktree dirty after commit:\n%s", out)
	}
}

func TestCommitChangesNothingToCommit(t *testing.T) {
	repo := initRepo(t)
	handle := createWorktree(t, repo)

	committed, err := commitChanges(context.Background(), commitSpec(repo), handle)
	if err != nil {
		t.Fatalf("commitChanges: %v", err)
	}
	if committed {
		t.Error("commitChanges committed in a clean worktree")
	}
}

func TestCommitChangesExcludePatterns(t *testing.T) {
	repo := initRepo(t)
	handle := createWorktree(t, repo)
	spec := commitSpec(repo)
	spec.ExcludePatterns = []string{"*.log"}

	for name, content := range map[string]string{
		"work.txt":  "done\n",
		"debug.log": "noise\n",
	} {
		if err := os.WriteFile(filepath.Join(handle.Path, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	committed, err := commitChanges(context.Background(), spec, handle)
	if err != nil {
		t.Fatalf("commitChanges: %v", err)
	}
	if !committed {
		t.Fatal("commitChanges reported nothing to commit")
	}

	files := runGit(t, handle.Path, "show", "--stat", "--format=", "HEAD")
	if !strings.Contains(files, "work.txt") {
		t.Errorf("commit missing work.txt:\n%s", files)
	}
	if strings.Contains(files, "debug.log") {
		t.Errorf("excluded file was committed:\n%s", files)
	}
}

func TestCommitChangesOnlyExcludedFiles(t *testing.T) {
	repo := initRepo(t)
	handle := createWorktree(t, repo)
	spec := commitSpec(repo)
	spec.ExcludePatterns = []string{"*.log"}

	if err := os.WriteFile(filepath.Join(handle.Path, "debug.log"), []byte("noise\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	committed, err := commitChanges(context.Background(), spec, handle)
	if err != nil {
		t.Fatalf("commitChanges: %v", err)
	}
	if committed {
		t.Error("commitChanges committed when everything was excluded")
	}
}

func TestCommitMessageCoAuthors(t *testing.T) {
	repo := initRepo(t)
	handle := createWorktree(t, repo)
	spec := commitSpec(repo)
	spec.CoAuthors = []string{"Pair Bot <bot@example.com>"}

	if err := os.WriteFile(filepath.Join(handle.Path, "work.txt"), []byte("done\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := commitChanges(context.Background(), spec, handle); err != nil {
		t.Fatalf("commitChanges: %v", err)
	}

	body := runGit(t, handle.Path, "log", "-1", "--format=%B")
	if !strings.Contains(body, "Co-authored-by: Pair Bot <bot@example.com>") {
		t.Errorf("commit body missing co-author trailer:\n%s", body)
	}
}

func TestPushBranch(t *testing.T) {
	repo := initRepo(t)

	bare := t.TempDir()
	runGit(t, bare, "init", "--bare")
	runGit(t, repo, "remote", "add", "origin", bare)

	handle := createWorktree(t, repo)
	spec := commitSpec(repo)

	if err := os.WriteFile(filepath.Join(handle.Path, "work.txt"), []byte("done\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := commitChanges(context.Background(), spec, handle); err != nil {
		t.Fatalf("commitChanges: %v", err)
	}
	if err := pushBranch(context.Background(), spec, handle); err != nil {
		t.Fatalf("pushBranch: %v", err)
	}

	runGit(t, bare, "rev-parse", "--verify", "refs/heads/kapsis-feature")
}

func TestPushBranchFailure(t *testing.T) {
	repo := initRepo(t)
	runGit(t, repo, "remote", "add", "origin", filepath.Join(t.TempDir(), "missing"))

	handle := createWorktree(t, repo)
	spec := commitSpec(repo)

	err := pushBranch(context.Background(), spec, handle)
	var perr *PushError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PushError, got %v", err)
	}
	if perr.Branch != "kapsis-feature" {
		t.Errorf("Branch = %q", perr.Branch)
	}
	if perr.Fallback != "" {
		t.Errorf("fallback suggested without fork configuration: %q", perr.Fallback)
	}
}

func TestForkFallback(t *testing.T) {
	repo := initRepo(t)
	runGit(t, repo, "remote", "add", "origin", "https://github.com/acme/proj.git")

	handle := createWorktree(t, repo)
	spec := commitSpec(repo)
	spec.ForkRemote = "fork"

	git := &worktree.Git{Dir: handle.Path}
	fallback := forkFallback(context.Background(), spec, handle, git)
	if !strings.Contains(fallback, "push --set-upstream fork kapsis-feature") {
		t.Errorf("fallback = %q", fallback)
	}

	// No fork remote configured means no suggestion.
	spec.ForkRemote = ""
	if got := forkFallback(context.Background(), spec, handle, git); got != "" {
		t.Errorf("fallback without fork remote = %q", got)
	}
}

func TestIsHostedRemote(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://github.com/acme/proj.git", true},
		{"git@gitlab.com:acme/proj.git", true},
		{"https://bitbucket.org/acme/proj.git", true},
		{"https://git.internal.corp/acme/proj.git", false},
		{"/srv/git/proj.git", false},
	}
	for _, tt := range tests {
		if got := isHostedRemote(tt.url); got != tt.want {
			t.Errorf("isHostedRemote(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestCoAuthorTrailers(t *testing.T) {
	trailers := CoAuthorTrailers(
		[]string{"Alice <a@x.com>", "Bob <b@x.com>", "", "  "},
		"A@X.COM",
	)
	if len(trailers) != 1 {
		t.Fatalf("trailers = %v, want exactly one", trailers)
	}
	if trailers[0] != "Co-authored-by: Bob <b@x.com>" {
		t.Errorf("trailer = %q", trailers[0])
	}
}

func TestBuildCommitMessage(t *testing.T) {
	spec := &config.RunSpec{
		AgentID:        "agent-1",
		Project:        "myproj",
		Branch:         "kapsis-feature",
		CommitTemplate: "{project}/{branch}: work by {agent_id}",
		CoAuthors:      []string{"Pair Bot <bot@example.com>"},
	}
	msg := buildCommitMessage(spec, "me@example.com")
	if !strings.HasPrefix(msg, "myproj/kapsis-feature: work by agent-1") {
		t.Errorf("message = %q", msg)
	}
	if !strings.Contains(msg, "\n\nCo-authored-by: Pair Bot <bot@example.com>") {
		t.Errorf("message missing trailer block: %q", msg)
	}
}
