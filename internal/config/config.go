package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the full configuration structure
type Config struct {
	Image     ImageConfig     `mapstructure:"image"`
	Mounts    MountsConfig    `mapstructure:"mounts"`
	Network   NetworkConfig   `mapstructure:"network"`
	Security  SecurityConfig  `mapstructure:"security"`
	Container ContainerConfig `mapstructure:"container"`
	Git       GitConfig       `mapstructure:"git"`
	Status    StatusConfig    `mapstructure:"status"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
}

// ImageConfig configures the agent container image
type ImageConfig struct {
	Name string `mapstructure:"name"`
}

// MountsConfig configures additional mounts
type MountsConfig struct {
	Defaults []MountEntry `mapstructure:"defaults"`
}

// MountEntry represents a single mount configuration
type MountEntry struct {
	Path     string `mapstructure:"path"`
	ReadOnly bool   `mapstructure:"readonly"`
}

// NetworkConfig configures network isolation
type NetworkConfig struct {
	Mode string `mapstructure:"mode"` // none, filtered, open

	// Allowlist holds exact hosts or *.wildcards. The resolver forwards
	// per registered domain, so an exact entry also admits its
	// subdomains; use the narrowest domain you can.
	Allowlist  []string `mapstructure:"allowlist"`
	DNSServers []string `mapstructure:"dns_servers"` // upstream resolvers
}

// SecurityConfig configures OS-level hardening
type SecurityConfig struct {
	Level       string `mapstructure:"level"`        // minimal, standard, strict, paranoid
	ProfileFile string `mapstructure:"profile_file"` // optional YAML resource overrides
}

// ContainerConfig configures container runtime settings
type ContainerConfig struct {
	User        string `mapstructure:"user"`         // auto, or uid:gid
	MemoryLimit string `mapstructure:"memory_limit"` // e.g., "4g"
	CPUs        string `mapstructure:"cpus"`         // e.g., "2"
	Timeout     string `mapstructure:"timeout"`      // wall clock, e.g., "45m"; empty = none
}

// GitConfig configures the post-run commit/push workflow
type GitConfig struct {
	AutoCommit      bool     `mapstructure:"auto_commit"`
	Push            bool     `mapstructure:"push"`
	Remote          string   `mapstructure:"remote"`
	BaseBranch      string   `mapstructure:"base_branch"`
	CommitTemplate  string   `mapstructure:"commit_template"`
	CoAuthors       []string `mapstructure:"co_authors"`
	ExcludePatterns []string `mapstructure:"exclude_patterns"`
	ForkRemote      string   `mapstructure:"fork_remote"` // fork-workflow fallback remote name
}

// StatusConfig configures the shared status directory
type StatusConfig struct {
	Dir string `mapstructure:"dir"`
}

// SandboxConfig configures sandbox mode selection
type SandboxConfig struct {
	ForceMode string `mapstructure:"force_mode"` // "", overlay, worktree
}

// LoadConfig loads configuration from viper with defaults
func LoadConfig() *Config {
	setDefaults()

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		// Return defaults on error
		return defaultConfig()
	}
	return cfg
}

func setDefaults() {
	// Image defaults
	viper.SetDefault("image.name", "kapsis-agent:latest")

	// Mount defaults
	viper.SetDefault("mounts.defaults", []MountEntry{})

	// Network defaults
	viper.SetDefault("network.mode", NetworkFiltered)
	viper.SetDefault("network.allowlist", []string{
		"api.anthropic.com",
		"github.com",
		"*.github.com",
		"*.githubusercontent.com",
	})
	viper.SetDefault("network.dns_servers", []string{"1.1.1.1", "8.8.8.8"})

	// Security defaults
	viper.SetDefault("security.level", LevelStandard)
	viper.SetDefault("security.profile_file", "")

	// Container defaults
	viper.SetDefault("container.user", UserAuto)
	viper.SetDefault("container.memory_limit", "4g")
	viper.SetDefault("container.cpus", "")
	viper.SetDefault("container.timeout", "")

	// Git workflow defaults
	viper.SetDefault("git.auto_commit", true)
	viper.SetDefault("git.push", false)
	viper.SetDefault("git.remote", "origin")
	viper.SetDefault("git.base_branch", "")
	viper.SetDefault("git.commit_template", "kapsis: changes from agent {agent_id}")
	viper.SetDefault("git.co_authors", []string{})
	viper.SetDefault("git.exclude_patterns", []string{})
	viper.SetDefault("git.fork_remote", "")

	// Status defaults
	viper.SetDefault("status.dir", defaultStatusDir())

	// Sandbox defaults
	viper.SetDefault("sandbox.force_mode", "")
}

func defaultConfig() *Config {
	return &Config{
		Image:  ImageConfig{Name: "kapsis-agent:latest"},
		Mounts: MountsConfig{Defaults: []MountEntry{}},
		Network: NetworkConfig{
			Mode:       NetworkFiltered,
			Allowlist:  []string{"api.anthropic.com", "github.com", "*.github.com"},
			DNSServers: []string{"1.1.1.1", "8.8.8.8"},
		},
		Security: SecurityConfig{
			Level: LevelStandard,
		},
		Container: ContainerConfig{
			User:        UserAuto,
			MemoryLimit: "4g",
		},
		Git: GitConfig{
			AutoCommit:     true,
			Remote:         "origin",
			CommitTemplate: "kapsis: changes from agent {agent_id}",
		},
		Status: StatusConfig{Dir: defaultStatusDir()},
	}
}

func defaultStatusDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "kapsis-status")
	}
	return filepath.Join(home, ".kapsis", "status")
}

// Validate checks enumerated fields against their allowed values.
func (c *Config) Validate() error {
	switch c.Network.Mode {
	case NetworkNone, NetworkFiltered, NetworkOpen:
	default:
		return &ValidationError{Field: "network.mode", Reason: fmt.Sprintf(
			"%q is not one of %s, %s, %s", c.Network.Mode, NetworkNone, NetworkFiltered, NetworkOpen)}
	}
	switch c.Security.Level {
	case LevelMinimal, LevelStandard, LevelStrict, LevelParanoid:
	default:
		return &ValidationError{Field: "security.level", Reason: fmt.Sprintf(
			"%q is not one of %s, %s, %s, %s", c.Security.Level, LevelMinimal, LevelStandard, LevelStrict, LevelParanoid)}
	}
	switch c.Sandbox.ForceMode {
	case "", ForceOverlay, ForceWorktree:
	default:
		return &ValidationError{Field: "sandbox.force_mode", Reason: fmt.Sprintf(
			"%q is not one of %s, %s", c.Sandbox.ForceMode, ForceOverlay, ForceWorktree)}
	}
	return nil
}
