package network

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Resolver is a handle to the external dnsmasq process serving one agent's
// compiled policy.
type Resolver struct {
	cmd        *exec.Cmd
	ConfigPath string
	waitCh     chan error
}

// WriteConfig writes the rendered resolver configuration under dir and
// returns its path.
func (c *ResolverConfig) WriteConfig(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", &PolicyInitError{Reason: "creating resolver config dir", Err: err}
	}
	path := filepath.Join(dir, "dnsmasq.conf")
	if err := os.WriteFile(path, []byte(c.ConfigText()), 0o600); err != nil {
		return "", &PolicyInitError{Reason: "writing resolver config", Err: err}
	}
	return path, nil
}

// Start launches dnsmasq in the foreground from the given config file.
// The process is external: kapsis only generates its config and later
// verifies its behavior by querying the listener it was told to bind.
func Start(ctx context.Context, configPath string) (*Resolver, error) {
	bin, err := exec.LookPath("dnsmasq")
	if err != nil {
		return nil, &PolicyInitError{Reason: "dnsmasq not found; install it or set network.mode to \"none\"", Err: err}
	}

	cmd := exec.CommandContext(ctx, bin, "--no-daemon", "--conf-file="+configPath)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, &PolicyInitError{Reason: "starting resolver", Err: err}
	}

	r := &Resolver{cmd: cmd, ConfigPath: configPath, waitCh: make(chan error, 1)}
	go func() { r.waitCh <- cmd.Wait() }()
	return r, nil
}

// Stop terminates the resolver process, escalating to SIGKILL if it does
// not exit within a short grace window.
func (r *Resolver) Stop() error {
	if r.cmd.Process == nil {
		return nil
	}
	if err := r.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signalling resolver: %w", err)
	}
	select {
	case <-r.waitCh:
		return nil
	case <-time.After(3 * time.Second):
		_ = r.cmd.Process.Kill()
		<-r.waitCh
		return nil
	}
}
