package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const fuseSuperMagic = 0x65735546

// Overlay is a copy-on-write view of the project tree backed by
// fuse-overlayfs. Reads come from the project (lower layer), writes land in
// the upper layer inside a private temp directory, and the merged directory
// is what gets mounted into the container. The project tree itself is never
// written.
type Overlay struct {
	fuseBin       string
	fusermountBin string

	Lower  string
	Upper  string
	Merged string

	workDir string
	tempDir string
	mounted bool
}

// SetupOverlay creates and mounts a copy-on-write overlay for the project.
// Failing loudly when fuse-overlayfs is missing beats falling back to a
// writable bind mount of the real tree.
func SetupOverlay(projectPath, agentID string) (*Overlay, error) {
	fuseBin, err := exec.LookPath("fuse-overlayfs")
	if err != nil {
		return nil, fmt.Errorf("fuse-overlayfs not found (required for overlay mode): %w", err)
	}
	fusermountBin, err := exec.LookPath("fusermount3")
	if err != nil {
		fusermountBin, err = exec.LookPath("fusermount")
		if err != nil {
			return nil, fmt.Errorf("fusermount not found (required for overlay mode): %w", err)
		}
	}

	// fuse-overlayfs separates options with commas; a comma in a path
	// would let the path inject its own options.
	if strings.ContainsAny(projectPath, ",\x00\n\r") {
		return nil, fmt.Errorf("project path %q contains characters unsafe for overlay options", projectPath)
	}

	tempDir, err := os.MkdirTemp("", "kapsis-overlay-"+agentID+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating overlay temp dir: %w", err)
	}

	o := &Overlay{
		fuseBin:       fuseBin,
		fusermountBin: fusermountBin,
		Lower:         projectPath,
		Upper:         filepath.Join(tempDir, "upper"),
		Merged:        filepath.Join(tempDir, "merged"),
		workDir:       filepath.Join(tempDir, "work"),
		tempDir:       tempDir,
	}
	for _, dir := range []string{o.Upper, o.Merged, o.workDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			os.RemoveAll(tempDir)
			return nil, fmt.Errorf("creating overlay directory %s: %w", dir, err)
		}
	}

	cmd := exec.Command(o.fuseBin,
		"-o", fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", o.Lower, o.Upper, o.workDir),
		o.Merged,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("fuse-overlayfs failed: %s: %w", strings.TrimSpace(string(out)), err)
	}

	if err := waitForMount(o.Merged); err != nil {
		_ = exec.Command(o.fusermountBin, "-u", o.Merged).Run()
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("overlay mount not ready: %w", err)
	}
	o.mounted = true
	return o, nil
}

// Cleanup unmounts the overlay and removes its temp directory. A stuck
// mount gets one lazy-unmount retry before the error surfaces.
func (o *Overlay) Cleanup() error {
	if o.mounted {
		if out, err := exec.Command(o.fusermountBin, "-u", o.Merged).CombinedOutput(); err != nil {
			if out2, err2 := exec.Command(o.fusermountBin, "-u", "-z", o.Merged).CombinedOutput(); err2 != nil {
				return fmt.Errorf("unmounting overlay %s: %s / %s: %w",
					o.Merged, strings.TrimSpace(string(out)), strings.TrimSpace(string(out2)), err2)
			}
		}
		o.mounted = false
	}
	if err := os.RemoveAll(o.tempDir); err != nil {
		return fmt.Errorf("removing overlay temp dir: %w", err)
	}
	return nil
}

// waitForMount polls until the FUSE filesystem is registered at path.
// Without this the engine can bind-mount the directory before
// fuse-overlayfs has taken it over.
func waitForMount(path string) error {
	const attempts = 50
	const interval = 20 * time.Millisecond

	for i := 0; i < attempts; i++ {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(path, &stat); err == nil && stat.Type == fuseSuperMagic {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("timeout waiting for FUSE mount at %s", path)
}
