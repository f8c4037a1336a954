package network

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"
)

func testConfig(t *testing.T) *ResolverConfig {
	t.Helper()
	cfg, err := Compile([]string{"github.com"}, []string{"1.1.1.1"}, "172.18.0.1")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return cfg
}

func TestVerifyActivePasses(t *testing.T) {
	cfg := testConfig(t)
	v := NewVerifierWithLookup(cfg, func(ctx context.Context, name string) ([]netip.Addr, error) {
		if name == "github.com" {
			return []netip.Addr{netip.MustParseAddr("140.82.112.3")}, nil
		}
		// Blocked names get the sinkhole address.
		return []netip.Addr{netip.MustParseAddr("0.0.0.0")}, nil
	})
	if err := v.VerifyActive(context.Background(), time.Second); err != nil {
		t.Fatalf("VerifyActive: %v", err)
	}
}

func TestVerifyActiveResolverDown(t *testing.T) {
	cfg := testConfig(t)
	v := NewVerifierWithLookup(cfg, func(ctx context.Context, name string) ([]netip.Addr, error) {
		return nil, errors.New("connection refused")
	})
	start := time.Now()
	err := v.VerifyActive(context.Background(), 300*time.Millisecond)
	var perr *PolicyInitError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PolicyInitError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("verification did not respect the timeout: took %s", elapsed)
	}
}

func TestVerifyActiveRejectsRebindAnswer(t *testing.T) {
	rebinds := []string{"10.0.0.5", "192.168.1.1", "127.0.0.1", "169.254.1.1"}
	for _, addr := range rebinds {
		cfg := testConfig(t)
		v := NewVerifierWithLookup(cfg, func(ctx context.Context, name string) ([]netip.Addr, error) {
			return []netip.Addr{netip.MustParseAddr(addr)}, nil
		})
		err := v.VerifyActive(context.Background(), time.Second)
		var perr *PolicyInitError
		if !errors.As(err, &perr) {
			t.Errorf("answer %s: expected PolicyInitError, got %v", addr, err)
		}
	}
}

func TestVerifyActiveRejectsLeakyBlockedName(t *testing.T) {
	cfg := testConfig(t)
	v := NewVerifierWithLookup(cfg, func(ctx context.Context, name string) ([]netip.Addr, error) {
		// Everything resolves to a routable address: the default-deny
		// rule is not in effect.
		return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
	})
	err := v.VerifyActive(context.Background(), time.Second)
	var perr *PolicyInitError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PolicyInitError, got %v", err)
	}
}

func TestVerifyActiveBlockedNameNXDOMAIN(t *testing.T) {
	cfg := testConfig(t)
	v := NewVerifierWithLookup(cfg, func(ctx context.Context, name string) ([]netip.Addr, error) {
		if name == "github.com" {
			return []netip.Addr{netip.MustParseAddr("140.82.112.3")}, nil
		}
		return nil, errors.New("no such host")
	})
	if err := v.VerifyActive(context.Background(), time.Second); err != nil {
		t.Fatalf("NXDOMAIN for the blocked name should pass verification: %v", err)
	}
}

func TestVerifyActiveBlockedNameTimeoutFailsClosed(t *testing.T) {
	cfg := testConfig(t)
	// A resolver that answers the allowed name but hangs on everything
	// else proves nothing about the default-deny rule. The hang must not
	// be mistaken for a block.
	v := NewVerifierWithLookup(cfg, func(ctx context.Context, name string) ([]netip.Addr, error) {
		if name == "github.com" {
			return []netip.Addr{netip.MustParseAddr("140.82.112.3")}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	err := v.VerifyActive(context.Background(), 200*time.Millisecond)
	var perr *PolicyInitError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PolicyInitError for a hung blocked lookup, got %v", err)
	}
}
