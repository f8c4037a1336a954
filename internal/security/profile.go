package security

import (
	"fmt"
	"os"

	"github.com/aviadshiber/kapsis/internal/config"
	"gopkg.in/yaml.v3"
)

// InvalidProfileError reports an unknown hardening level.
type InvalidProfileError struct {
	Level string
}

func (e *InvalidProfileError) Error() string {
	return fmt.Sprintf("invalid security profile %q (allowed: %s, %s, %s, %s)",
		e.Level, config.LevelMinimal, config.LevelStandard, config.LevelStrict, config.LevelParanoid)
}

// Profile is the resolved OS hardening surface for one sandbox: the
// capability set, syscall filter, resource ceilings, and mount flags the
// launch composer turns into engine arguments. Building one performs no I/O.
type Profile struct {
	Level string

	// Capabilities: always drop everything, then add back the fixed
	// minimal set a build toolchain needs.
	CapDrop []string
	CapAdd  []string

	NoNewPrivileges bool
	ReadOnlyRoot    bool

	// PidsLimit caps the container process count.
	PidsLimit int64

	// TmpfsFlags are applied to every tmpfs mount the composer adds.
	TmpfsFlags []string

	// DeniedSyscalls is the errno-deny list for the seccomp filter.
	// Empty means the engine's default filter is left in place.
	DeniedSyscalls []string

	// Resource overrides from a profile file; empty means the RunSpec
	// values apply unchanged.
	MemoryLimit string
	CPUs        string
}

// SeccompEnabled reports whether this profile carries a custom syscall filter.
func (p *Profile) SeccompEnabled() bool {
	return len(p.DeniedSyscalls) > 0
}

// minimalCapAdd is the fixed add-back set shared by every level: file
// ownership, set-id bits, signalling, uid/gid switching, and process
// priority. Nothing here crosses a namespace boundary.
var minimalCapAdd = []string{
	"CHOWN",
	"FSETID",
	"KILL",
	"SETGID",
	"SETUID",
	"SYS_NICE",
}

// escapeDeniedSyscalls blocks the syscalls most useful for breaking out of
// a container: tracing other processes, rearranging mounts, loading kernel
// code, and joining or creating namespaces.
var escapeDeniedSyscalls = []string{
	"ptrace",
	"process_vm_readv",
	"process_vm_writev",
	"kcmp",
	"mount",
	"umount2",
	"move_mount",
	"fsmount",
	"fsopen",
	"fsconfig",
	"open_tree",
	"pivot_root",
	"chroot",
	"init_module",
	"finit_module",
	"delete_module",
	"kexec_load",
	"kexec_file_load",
	"open_by_handle_at",
	"name_to_handle_at",
	"bpf",
	"perf_event_open",
	"setns",
	"unshare",
	"userfaultfd",
	"add_key",
	"request_key",
	"keyctl",
}

// Overrides are the resource adjustments a profile file may make. Overrides
// can loosen resource ceilings but never widen the isolation surface: there
// is deliberately no way to add capabilities or shrink the syscall deny list.
type Overrides struct {
	PidsLimit   int64  `yaml:"pids_limit"`
	MemoryLimit string `yaml:"memory_limit"`
	CPUs        string `yaml:"cpus"`
}

// LoadOverrides reads a YAML override file. A missing path returns nil
// overrides, not an error.
func LoadOverrides(path string) (*Overrides, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile file: %w", err)
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parsing profile file %s: %w", path, err)
	}
	if o.PidsLimit < 0 {
		return nil, fmt.Errorf("profile file %s: pids_limit must not be negative", path)
	}
	return &o, nil
}

// BuildProfile maps a hardening level to its Profile. Pure: no filesystem
// or engine access happens here.
func BuildProfile(level string, overrides *Overrides) (*Profile, error) {
	p := &Profile{
		Level:           level,
		CapDrop:         []string{"ALL"},
		CapAdd:          append([]string(nil), minimalCapAdd...),
		NoNewPrivileges: true,
		TmpfsFlags:      []string{"noexec", "nosuid", "nodev"},
	}

	switch level {
	case config.LevelMinimal:
		p.PidsLimit = 1024
	case config.LevelStandard:
		p.PidsLimit = 512
	case config.LevelStrict:
		p.PidsLimit = 256
		p.DeniedSyscalls = append([]string(nil), escapeDeniedSyscalls...)
	case config.LevelParanoid:
		p.PidsLimit = 128
		p.DeniedSyscalls = append([]string(nil), escapeDeniedSyscalls...)
		p.ReadOnlyRoot = true
	default:
		return nil, &InvalidProfileError{Level: level}
	}

	if overrides != nil {
		if overrides.PidsLimit > 0 {
			p.PidsLimit = overrides.PidsLimit
		}
		p.MemoryLimit = overrides.MemoryLimit
		p.CPUs = overrides.CPUs
	}
	return p, nil
}
