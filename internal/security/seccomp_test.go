package security

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/aviadshiber/kapsis/internal/config"
)

func TestWriteSeccompProfile(t *testing.T) {
	p, err := BuildProfile(config.LevelStrict, nil)
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}

	path, err := p.WriteSeccompProfile(t.TempDir())
	if err != nil {
		t.Fatalf("WriteSeccompProfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		DefaultAction string `json:"defaultAction"`
		Syscalls      []struct {
			Names    []string `json:"names"`
			Action   string   `json:"action"`
			ErrnoRet int      `json:"errnoRet"`
		} `json:"syscalls"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("profile is not valid JSON: %v", err)
	}

	if doc.DefaultAction != "SCMP_ACT_ALLOW" {
		t.Errorf("defaultAction = %q", doc.DefaultAction)
	}
	if len(doc.Syscalls) != 1 {
		t.Fatalf("syscall rules = %d, want 1", len(doc.Syscalls))
	}
	rule := doc.Syscalls[0]
	if rule.Action != "SCMP_ACT_ERRNO" || rule.ErrnoRet != 1 {
		t.Errorf("rule = %s/%d, want SCMP_ACT_ERRNO/1", rule.Action, rule.ErrnoRet)
	}
	names := map[string]bool{}
	for _, n := range rule.Names {
		names[n] = true
	}
	for _, want := range []string{"ptrace", "mount", "unshare"} {
		if !names[want] {
			t.Errorf("deny list missing %s", want)
		}
	}
}

func TestWriteSeccompProfileWithoutFilter(t *testing.T) {
	p, err := BuildProfile(config.LevelStandard, nil)
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	if _, err := p.WriteSeccompProfile(t.TempDir()); err == nil {
		t.Fatal("WriteSeccompProfile succeeded without a syscall filter")
	}
}
