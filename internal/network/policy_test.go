package network

import (
	"errors"
	"strings"
	"testing"
)

func TestCompileRejectsEmptyAllowlist(t *testing.T) {
	_, err := Compile(nil, []string{"1.1.1.1"}, "172.18.0.1")
	var perr *PolicyInitError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PolicyInitError, got %v", err)
	}
}

func TestCompileRejectsMissingUpstreams(t *testing.T) {
	_, err := Compile([]string{"github.com"}, nil, "172.18.0.1")
	var perr *PolicyInitError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PolicyInitError, got %v", err)
	}
}

func TestCompileRejectsMissingListenAddr(t *testing.T) {
	_, err := Compile([]string{"github.com"}, []string{"1.1.1.1"}, "")
	var perr *PolicyInitError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PolicyInitError, got %v", err)
	}
}

func TestCompileRejectsInvalidPatterns(t *testing.T) {
	bad := []string{
		"",
		"*",
		"*.",
		"*.*.github.com",
		"git hub.com",
		"github.com/path",
		"http://github.com",
		"-leading.example.com",
		"localhost", // single label, no dot
	}
	for _, pattern := range bad {
		_, err := Compile([]string{pattern}, []string{"1.1.1.1"}, "172.18.0.1")
		if err == nil {
			t.Errorf("Compile accepted invalid pattern %q", pattern)
		}
	}
}

func TestMatchesExactAndWildcard(t *testing.T) {
	cfg, err := Compile(
		[]string{"github.com", "*.githubusercontent.com", "api.anthropic.com"},
		[]string{"1.1.1.1"},
		"172.18.0.1",
	)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"github.com", true},
		{"GitHub.COM", true},
		{"github.com.", true},
		{"gist.github.com", false}, // exact rule does not cover subdomains
		{"evil-github.com", false},
		{"evil.example.com", false},
		{"githubusercontent.com", true}, // wildcard covers the parent domain
		{"raw.githubusercontent.com", true},
		{"a.b.githubusercontent.com", true},
		{"evilgithubusercontent.com", false},
		{"api.anthropic.com", true},
		{"anthropic.com", false},
	}
	for _, tt := range tests {
		if got := cfg.Matches(tt.name); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestConfigTextDefaultDeny(t *testing.T) {
	cfg, err := Compile([]string{"github.com", "*.github.com"}, []string{"1.1.1.1", "8.8.8.8"}, "172.18.0.1")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	text := cfg.ConfigText()

	for _, want := range []string{
		"no-resolv\n",
		"no-hosts\n",
		"bind-interfaces\n",
		"listen-address=172.18.0.1\n",
		"port=53\n",
		"stop-dns-rebind\n",
		"bogus-priv\n",
		"server=/github.com/1.1.1.1\n",
		"server=/github.com/8.8.8.8\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("config missing %q:\n%s", want, text)
		}
	}

	// The catch-all must come after the allow rules so it only claims
	// names no server directive matched.
	catchAll := strings.Index(text, "address=/#/0.0.0.0")
	lastServer := strings.LastIndex(text, "server=/")
	if catchAll < 0 {
		t.Fatal("config missing default-deny catch-all")
	}
	if catchAll < lastServer {
		t.Error("default-deny catch-all appears before the last server directive")
	}
}

func TestCompileListensOnGatewayPort53(t *testing.T) {
	cfg, err := Compile([]string{"github.com"}, []string{"1.1.1.1"}, "172.18.0.1")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// resolv.conf cannot carry a port, so the listener must be on 53 at
	// the address the container is handed as its nameserver.
	if cfg.Port != 53 {
		t.Errorf("Port = %d, want 53", cfg.Port)
	}
	if cfg.ListenAddr != "172.18.0.1" {
		t.Errorf("ListenAddr = %q, want the gateway address", cfg.ListenAddr)
	}
	if got, want := cfg.Addr(), "172.18.0.1:53"; got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
