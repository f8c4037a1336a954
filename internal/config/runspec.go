package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

// agentIDPattern restricts agent IDs to characters that are safe inside
// file names, branch names, and container names.
var agentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// RunSpec is the immutable resolved configuration for a single agent run.
// It is created once during config resolution and is read-only afterwards;
// core components receive it by value or as a shared pointer they never
// mutate.
type RunSpec struct {
	AgentID     string
	Project     string // project name, derived from the project path
	ProjectPath string

	Branch     string // empty means no branch isolation was requested
	BaseBranch string
	Remote     string

	AutoCommit  bool
	PushEnabled bool

	SecurityLevel string
	ProfileFile   string

	NetworkMode string
	Allowlist   []string
	DNSServers  []string

	Image       string
	User        string
	MemoryLimit string
	CPUs        string
	Timeout     time.Duration

	Mounts []MountEntry

	StatusDir string

	CommitTemplate  string
	CoAuthors       []string
	ExcludePatterns []string
	ForkRemote      string

	ForceMode string

	AgentArgs []string
}

// ResolveRunSpec builds the immutable RunSpec for one launch from the loaded
// configuration plus the launch parameters. This is the only place a RunSpec
// is constructed.
func ResolveRunSpec(cfg *Config, agentID, projectPath, branch string, agentArgs []string) (*RunSpec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !agentIDPattern.MatchString(agentID) {
		return nil, &ValidationError{Field: "agent id", Reason: fmt.Sprintf("%q must match %s", agentID, agentIDPattern)}
	}

	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}

	var timeout time.Duration
	if cfg.Container.Timeout != "" {
		timeout, err = time.ParseDuration(cfg.Container.Timeout)
		if err != nil {
			return nil, &ValidationError{Field: "container.timeout", Reason: err.Error()}
		}
		if timeout < 0 {
			return nil, &ValidationError{Field: "container.timeout", Reason: fmt.Sprintf("%q must not be negative", cfg.Container.Timeout)}
		}
	}

	spec := &RunSpec{
		AgentID:         agentID,
		Project:         filepath.Base(absPath),
		ProjectPath:     absPath,
		Branch:          branch,
		BaseBranch:      cfg.Git.BaseBranch,
		Remote:          cfg.Git.Remote,
		AutoCommit:      cfg.Git.AutoCommit,
		PushEnabled:     cfg.Git.Push,
		SecurityLevel:   cfg.Security.Level,
		ProfileFile:     cfg.Security.ProfileFile,
		NetworkMode:     cfg.Network.Mode,
		Allowlist:       append([]string(nil), cfg.Network.Allowlist...),
		DNSServers:      append([]string(nil), cfg.Network.DNSServers...),
		Image:           cfg.Image.Name,
		User:            cfg.Container.User,
		MemoryLimit:     cfg.Container.MemoryLimit,
		CPUs:            cfg.Container.CPUs,
		Timeout:         timeout,
		Mounts:          append([]MountEntry(nil), cfg.Mounts.Defaults...),
		StatusDir:       cfg.Status.Dir,
		CommitTemplate:  cfg.Git.CommitTemplate,
		CoAuthors:       append([]string(nil), cfg.Git.CoAuthors...),
		ExcludePatterns: append([]string(nil), cfg.Git.ExcludePatterns...),
		ForkRemote:      cfg.Git.ForkRemote,
		ForceMode:       cfg.Sandbox.ForceMode,
		AgentArgs:       append([]string(nil), agentArgs...),
	}
	return spec, nil
}
