package sandbox

import (
	"fmt"
	"os/exec"

	"github.com/aviadshiber/kapsis/internal/config"
)

// Capabilities describes which sandbox prerequisites exist on this host.
type Capabilities struct {
	DnsmasqAvailable bool
	DnsmasqPath      string

	FuseOverlayfsAvailable bool
	FuseOverlayfsPath      string

	GitAvailable bool
}

// DetectCapabilities probes the host for the external binaries kapsis
// drives. Engine reachability is checked separately by the engine client
// itself.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{}
	if path, err := exec.LookPath("dnsmasq"); err == nil {
		caps.DnsmasqAvailable = true
		caps.DnsmasqPath = path
	}
	if path, err := exec.LookPath("fuse-overlayfs"); err == nil {
		caps.FuseOverlayfsAvailable = true
		caps.FuseOverlayfsPath = path
	}
	if _, err := exec.LookPath("git"); err == nil {
		caps.GitAvailable = true
	}
	return caps
}

// Check verifies the prerequisites for the selected mode and network
// policy. A missing prerequisite aborts the launch before any resource is
// created.
func (c *Capabilities) Check(mode Mode, networkMode string) error {
	if !c.GitAvailable && mode == ModeWorktree {
		return fmt.Errorf("git not found; worktree mode requires the git CLI")
	}
	if mode == ModeOverlay && !c.FuseOverlayfsAvailable {
		return fmt.Errorf("fuse-overlayfs not found; overlay mode requires it (install fuse-overlayfs or force worktree mode)")
	}
	if networkMode == config.NetworkFiltered && !c.DnsmasqAvailable {
		return fmt.Errorf("dnsmasq not found; filtered network mode requires it (install dnsmasq or set network.mode to \"none\")")
	}
	return nil
}
