package credentials

import "testing"

func TestCollectForwardsAgentKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")
	t.Setenv("TERM", "xterm-256color")

	env := Collect()
	if env["ANTHROPIC_API_KEY"] != "sk-test-123" {
		t.Errorf("ANTHROPIC_API_KEY = %q", env["ANTHROPIC_API_KEY"])
	}
	if env["TERM"] != "xterm-256color" {
		t.Errorf("TERM = %q", env["TERM"])
	}
}

func TestCollectSkipsEmptyKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	env := Collect()
	if _, ok := env["ANTHROPIC_API_KEY"]; ok {
		t.Error("empty credential forwarded")
	}
}

func TestCollectNeverForwardsArbitraryEnv(t *testing.T) {
	t.Setenv("AWS_SECRET_ACCESS_KEY", "never")
	t.Setenv("GITHUB_TOKEN", "never")

	env := Collect()
	for _, key := range []string{"AWS_SECRET_ACCESS_KEY", "GITHUB_TOKEN"} {
		if _, ok := env[key]; ok {
			t.Errorf("%s crossed the sandbox boundary", key)
		}
	}
}
