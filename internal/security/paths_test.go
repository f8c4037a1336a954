package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateMountPathDeniesCredentialPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	denied := []string{
		filepath.Join(home, ".ssh"),
		filepath.Join(home, ".ssh", "id_rsa"),
		filepath.Join(home, ".gnupg"),
		filepath.Join(home, ".aws", "credentials"),
		filepath.Join(home, ".kube", "config"),
	}
	for _, path := range denied {
		if err := ValidateMountPath(path); err == nil {
			t.Errorf("ValidateMountPath(%q) allowed a credential path", path)
		}
	}

	allowed := []string{
		filepath.Join(home, "projects"),
		filepath.Join(home, ".sshx"), // sibling, not a child of ~/.ssh
		"/tmp/scratch",
	}
	for _, path := range allowed {
		if err := ValidateMountPath(path); err != nil {
			t.Errorf("ValidateMountPath(%q) = %v, want nil", path, err)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	got, err := ExpandPath("~/nonexistent-kapsis-test")
	if err != nil {
		t.Fatalf("ExpandPath: %v", err)
	}
	if !strings.HasPrefix(got, home) {
		t.Errorf("ExpandPath(~/...) = %q, want prefix %q", got, home)
	}

	if _, err := ExpandPath(""); err == nil {
		t.Error("ExpandPath(\"\") should fail")
	}

	abs, err := ExpandPath("/tmp/../tmp/x")
	if err != nil {
		t.Fatalf("ExpandPath: %v", err)
	}
	if abs != "/tmp/x" {
		t.Errorf("ExpandPath cleaned path = %q, want /tmp/x", abs)
	}
}

func TestExpandPathResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skip("symlinks not supported")
	}

	got, err := ExpandPath(link)
	if err != nil {
		t.Fatalf("ExpandPath: %v", err)
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatal(err)
	}
	if got != resolved {
		t.Errorf("ExpandPath(%q) = %q, want %q", link, got, resolved)
	}
}
