package network

import (
	"fmt"
	"regexp"
	"strings"
)

// PolicyInitError reports a network policy that could not be compiled,
// started, or verified. The launch must abort: an unverified filter means
// the agent would run with unknown egress.
type PolicyInitError struct {
	Reason string
	Err    error
}

func (e *PolicyInitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network policy init failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("network policy init failed: %s", e.Reason)
}

func (e *PolicyInitError) Unwrap() error { return e.Err }

// hostPattern validates a DNS label sequence (no wildcard prefix).
var hostPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)+$`)

// Rule is one compiled allow pattern.
type Rule struct {
	Pattern  string // as configured: "github.com" or "*.github.com"
	Domain   string // forwarding domain: "github.com"
	Wildcard bool
}

// resolverPort is where the resolver listens. It must be 53: the container
// learns the resolver only through resolv.conf, which cannot carry a port.
const resolverPort = 53

// ResolverConfig is the compiled DNS policy: ordered allow rules plus the
// listener address the resolver binds. The address is the gateway of the
// agent's dedicated bridge network, reachable both from the container (as
// its configured nameserver) and from the host (for verification).
// Everything the resolver process needs is derivable from this value.
type ResolverConfig struct {
	Rules      []Rule
	Upstreams  []string
	ListenAddr string
	Port       int
}

// Compile turns the declarative allowlist into a resolver configuration
// bound to listenAddr. Patterns are either exact hosts or "*."-prefixed
// wildcards; anything else is rejected. Per-agent networks give each
// resolver its own gateway address, so concurrent agents never contend for
// one socket.
func Compile(allowlist, upstreams []string, listenAddr string) (*ResolverConfig, error) {
	if len(allowlist) == 0 {
		return nil, &PolicyInitError{Reason: "empty allowlist: filtered mode with nothing allowed would block the agent's own API access; use network mode \"none\" instead"}
	}
	if len(upstreams) == 0 {
		return nil, &PolicyInitError{Reason: "no upstream DNS servers configured"}
	}
	if listenAddr == "" {
		return nil, &PolicyInitError{Reason: "no listen address for the resolver"}
	}

	rules := make([]Rule, 0, len(allowlist))
	for _, pattern := range allowlist {
		domain := pattern
		wildcard := false
		if strings.HasPrefix(pattern, "*.") {
			domain = strings.TrimPrefix(pattern, "*.")
			wildcard = true
		}
		if !hostPattern.MatchString(domain) {
			return nil, &PolicyInitError{Reason: fmt.Sprintf("invalid allowlist pattern %q", pattern)}
		}
		rules = append(rules, Rule{Pattern: pattern, Domain: strings.ToLower(domain), Wildcard: wildcard})
	}

	return &ResolverConfig{
		Rules:      rules,
		Upstreams:  append([]string(nil), upstreams...),
		ListenAddr: listenAddr,
		Port:       resolverPort,
	}, nil
}

// Matches reports whether the policy allows the given name. Exact rules
// match only their host; wildcard rules match the parent domain and every
// subdomain. A non-match is a block: there is no permissive fallthrough.
func (c *ResolverConfig) Matches(name string) bool {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	for _, r := range c.Rules {
		if name == r.Domain {
			return true
		}
		if r.Wildcard && strings.HasSuffix(name, "."+r.Domain) {
			return true
		}
	}
	return false
}

// ConfigText renders the dnsmasq configuration. The catch-all
// address=/#/0.0.0.0 line is the default-deny rule: dnsmasq resolves every
// name that no server=/domain/ directive claims to a non-routable address,
// so blocked lookups cannot fall through to another resolver via NXDOMAIN
// retry paths. stop-dns-rebind and bogus-priv drop relayed upstream answers
// that point into private or link-local space.
func (c *ResolverConfig) ConfigText() string {
	var b strings.Builder
	b.WriteString("# generated by kapsis; do not edit\n")
	b.WriteString("no-resolv\n")
	b.WriteString("no-hosts\n")
	b.WriteString("bind-interfaces\n")
	fmt.Fprintf(&b, "listen-address=%s\n", c.ListenAddr)
	fmt.Fprintf(&b, "port=%d\n", c.Port)
	b.WriteString("stop-dns-rebind\n")
	b.WriteString("bogus-priv\n")
	for _, rule := range c.Rules {
		for _, up := range c.Upstreams {
			fmt.Fprintf(&b, "server=/%s/%s\n", rule.Domain, up)
		}
	}
	b.WriteString("address=/#/0.0.0.0\n")
	return b.String()
}

// Addr returns the listener address in host:port form.
func (c *ResolverConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.Port)
}
