package network

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// blockedCanary is a name no sane allowlist contains; the default-deny rule
// must answer it with a non-routable address.
const blockedCanary = "blocked.kapsis-verify.example"

// LookupFunc resolves a hostname to addresses. The default implementation
// queries the agent's resolver listener; tests substitute fakes.
type LookupFunc func(ctx context.Context, name string) ([]netip.Addr, error)

// Verifier checks that a started resolver actually enforces the compiled
// policy before any agent process exists.
type Verifier struct {
	cfg    *ResolverConfig
	lookup LookupFunc
}

// NewVerifier builds a verifier that queries the config's listener address.
func NewVerifier(cfg *ResolverConfig) *Verifier {
	resolver := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: 2 * time.Second}
			return d.DialContext(ctx, network, cfg.Addr())
		},
	}
	lookup := func(ctx context.Context, name string) ([]netip.Addr, error) {
		ips, err := resolver.LookupNetIP(ctx, "ip4", name)
		if err != nil {
			return nil, err
		}
		return ips, nil
	}
	return &Verifier{cfg: cfg, lookup: lookup}
}

// NewVerifierWithLookup builds a verifier with an injected lookup function.
func NewVerifierWithLookup(cfg *ResolverConfig, lookup LookupFunc) *Verifier {
	return &Verifier{cfg: cfg, lookup: lookup}
}

// VerifyActive queries one known-allowed and one known-blocked name and
// passes only when both behave as the policy demands. Any failure within
// the timeout (resolver not listening, blocked name resolving somewhere
// routable, allowed name answered from private address space) aborts the
// launch. This is a hard gate, not advisory logging.
func (v *Verifier) VerifyActive(ctx context.Context, timeout time.Duration) error {
	if len(v.cfg.Rules) == 0 {
		return &PolicyInitError{Reason: "no rules to verify"}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allowed := v.cfg.Rules[0].Domain

	// The resolver may still be binding its socket; retry the allowed
	// lookup until it answers or the deadline expires.
	var addrs []netip.Addr
	var err error
	for {
		addrs, err = v.lookup(ctx, allowed)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return &PolicyInitError{Reason: fmt.Sprintf("resolver not answering for allowed name %q within %s", allowed, timeout), Err: err}
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return &PolicyInitError{Reason: fmt.Sprintf("resolver not answering for allowed name %q within %s", allowed, timeout), Err: err}
		}
	}
	if len(addrs) == 0 {
		return &PolicyInitError{Reason: fmt.Sprintf("allowed name %q returned no addresses", allowed)}
	}
	for _, a := range addrs {
		// Rebinding guard: an allowed name answered from private or
		// link-local space is rejected outright, with no retry.
		if isNonRoutable(a) {
			return &PolicyInitError{Reason: fmt.Sprintf("allowed name %q resolved to non-routable %s (possible DNS rebinding)", allowed, a)}
		}
	}

	blockedAddrs, err := v.lookup(ctx, blockedCanary)
	if err != nil {
		// A deadline hit is not a verdict: an unresponsive resolver
		// proves nothing about the default-deny rule, so fail closed.
		if ctx.Err() != nil {
			return &PolicyInitError{Reason: fmt.Sprintf("resolver did not answer for blocked name %q within %s", blockedCanary, timeout), Err: err}
		}
		// Refusal or NXDOMAIN for the blocked name means blocked.
		return nil
	}
	for _, a := range blockedAddrs {
		if !a.IsUnspecified() {
			return &PolicyInitError{Reason: fmt.Sprintf("blocked name %q resolved to %s; default-deny rule is not active", blockedCanary, a)}
		}
	}
	return nil
}

// isNonRoutable reports whether an address lies in private, loopback,
// link-local, or unspecified space.
func isNonRoutable(a netip.Addr) bool {
	return a.IsPrivate() || a.IsLoopback() || a.IsLinkLocalUnicast() ||
		a.IsLinkLocalMulticast() || a.IsUnspecified()
}
