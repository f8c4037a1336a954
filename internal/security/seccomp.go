package security

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// seccompDocument mirrors the engine's seccomp profile format: allow by
// default, return EPERM for every syscall on the deny list.
type seccompDocument struct {
	DefaultAction string        `json:"defaultAction"`
	Architectures []string      `json:"architectures"`
	Syscalls      []seccompRule `json:"syscalls"`
}

type seccompRule struct {
	Names    []string `json:"names"`
	Action   string   `json:"action"`
	ErrnoRet int      `json:"errnoRet"`
}

// WriteSeccompProfile renders the profile's syscall filter as an engine
// seccomp JSON file under dir and returns its path. Calling it on a profile
// without a custom filter is a programming error.
func (p *Profile) WriteSeccompProfile(dir string) (string, error) {
	if !p.SeccompEnabled() {
		return "", fmt.Errorf("profile %q has no syscall filter", p.Level)
	}

	doc := seccompDocument{
		DefaultAction: "SCMP_ACT_ALLOW",
		Architectures: []string{"SCMP_ARCH_X86_64", "SCMP_ARCH_AARCH64"},
		Syscalls: []seccompRule{
			{
				Names:    append([]string(nil), p.DeniedSyscalls...),
				Action:   "SCMP_ACT_ERRNO",
				ErrnoRet: 1, // EPERM
			},
		},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling seccomp profile: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating seccomp dir: %w", err)
	}
	path := filepath.Join(dir, "seccomp-"+p.Level+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing seccomp profile: %w", err)
	}
	return path, nil
}
