package launch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aviadshiber/kapsis/internal/config"
	"github.com/aviadshiber/kapsis/internal/network"
	"github.com/aviadshiber/kapsis/internal/sandbox"
	"github.com/aviadshiber/kapsis/internal/security"
	"github.com/aviadshiber/kapsis/internal/worktree"
	"github.com/docker/go-units"
)

// Container paths the composer pins.
const (
	WorkspacePath = "/workspace"
	StatusPath    = "/kapsis-status"
)

// Mount represents a bind mount configuration
type Mount struct {
	Source   string // Host path
	Target   string // Container path
	ReadOnly bool
}

// Input carries everything the composer merges into one launch spec.
type Input struct {
	Spec    *config.RunSpec
	Mode    sandbox.Mode
	Profile *security.Profile

	// SeccompPath is the rendered syscall filter file, "" when the
	// profile carries none.
	SeccompPath string

	// Resolver is the compiled DNS policy; nil outside filtered mode.
	Resolver *network.ResolverConfig

	// NetworkName is the dedicated bridge network the container joins in
	// filtered mode; the resolver listens on that network's gateway.
	NetworkName string

	// WorkspacePath is the host directory mounted at /workspace: the
	// worktree checkout or the overlay's merged view.
	WorkspacePath string

	// GitView is the sanitized control plane; nil in overlay mode.
	GitView *worktree.SanitizedView

	// ExtraEnv is merged last (credential passthrough).
	ExtraEnv map[string]string
}

// Spec is the immutable container invocation: typed fields for the engine
// client plus the equivalent ordered CLI argument list. Once composed it is
// never modified; Args returns a copy.
type Spec struct {
	Name    string
	Image   string
	User    string
	WorkDir string
	Command []string

	Env    []string // KEY=VAL, sorted
	Mounts []Mount
	Tmpfs  map[string]string // target -> mount options

	CapDrop      []string
	CapAdd       []string
	SecurityOpt  []string
	PidsLimit    int64
	ReadOnlyRoot bool

	Memory   int64 // bytes, 0 = unlimited
	NanoCPUs int64 // 0 = unlimited

	NetworkMode string
	DNS         []string

	args []string
}

// Compose merges isolation mode, network policy, security profile, and
// resource limits into one immutable launch spec. It only assembles; the
// engine package performs the actual invocation.
func Compose(in Input) (*Spec, error) {
	rs := in.Spec

	s := &Spec{
		Name:         fmt.Sprintf("kapsis-%s-%s", rs.Project, rs.AgentID),
		Image:        rs.Image,
		User:         rs.User,
		WorkDir:      WorkspacePath,
		Command:      append([]string(nil), rs.AgentArgs...),
		CapDrop:      append([]string(nil), in.Profile.CapDrop...),
		CapAdd:       append([]string(nil), in.Profile.CapAdd...),
		PidsLimit:    in.Profile.PidsLimit,
		ReadOnlyRoot: in.Profile.ReadOnlyRoot,
	}

	if in.Profile.NoNewPrivileges {
		s.SecurityOpt = append(s.SecurityOpt, "no-new-privileges")
	}
	if in.SeccompPath != "" {
		s.SecurityOpt = append(s.SecurityOpt, "seccomp="+in.SeccompPath)
	}

	// Resource limits; profile-file overrides win over the RunSpec.
	memLimit := rs.MemoryLimit
	if in.Profile.MemoryLimit != "" {
		memLimit = in.Profile.MemoryLimit
	}
	if memLimit != "" {
		mem, err := units.RAMInBytes(memLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid memory limit %q: %w", memLimit, err)
		}
		s.Memory = mem
	}
	cpus := rs.CPUs
	if in.Profile.CPUs != "" {
		cpus = in.Profile.CPUs
	}
	if cpus != "" {
		f, err := strconv.ParseFloat(cpus, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid cpus value %q", cpus)
		}
		s.NanoCPUs = int64(f * 1e9)
	}

	// Network
	switch rs.NetworkMode {
	case config.NetworkNone:
		s.NetworkMode = "none"
	case config.NetworkFiltered:
		if in.Resolver == nil {
			return nil, fmt.Errorf("filtered network mode requires a compiled resolver config")
		}
		if in.NetworkName == "" {
			return nil, fmt.Errorf("filtered network mode requires a dedicated agent network")
		}
		s.NetworkMode = in.NetworkName
		s.DNS = []string{in.Resolver.ListenAddr}
	case config.NetworkOpen:
		s.NetworkMode = "bridge"
	default:
		return nil, fmt.Errorf("unknown network mode %q", rs.NetworkMode)
	}

	// Mounts: workspace, sanitized git view, shared objects, status dir,
	// then validated user mounts.
	s.Mounts = append(s.Mounts, Mount{Source: in.WorkspacePath, Target: WorkspacePath})
	if in.GitView != nil {
		s.Mounts = append(s.Mounts,
			Mount{Source: in.GitView.Path, Target: worktree.ContainerGitViewPath, ReadOnly: true},
			Mount{Source: in.GitView.HostObjectsPath, Target: worktree.ContainerObjectsPath, ReadOnly: true},
		)
	}
	s.Mounts = append(s.Mounts, Mount{Source: rs.StatusDir, Target: StatusPath})

	for _, m := range rs.Mounts {
		expanded, err := security.ExpandPath(m.Path)
		if err != nil {
			return nil, fmt.Errorf("invalid mount path %q: %w", m.Path, err)
		}
		if err := security.ValidateMountPath(expanded); err != nil {
			return nil, fmt.Errorf("mount path denied %q: %w", m.Path, err)
		}
		s.Mounts = append(s.Mounts, Mount{Source: expanded, Target: expanded, ReadOnly: m.ReadOnly})
	}

	// Writable scratch space, hardened with the profile's mount flags.
	tmpfsOpts := strings.Join(in.Profile.TmpfsFlags, ",")
	s.Tmpfs = map[string]string{"/tmp": tmpfsOpts}
	if s.ReadOnlyRoot {
		s.Tmpfs["/run"] = tmpfsOpts
		s.Tmpfs["/var/tmp"] = tmpfsOpts
	}

	// Environment: in-container status contract plus passthrough.
	env := map[string]string{
		"HOME":                   "/tmp",
		"PATH":                   "/usr/local/bin:/usr/bin:/bin",
		"KAPSIS_STATUS_PROJECT":  rs.Project,
		"KAPSIS_STATUS_AGENT_ID": rs.AgentID,
		"KAPSIS_STATUS_DIR":      StatusPath,
		"KAPSIS_SANDBOX_MODE":    in.Mode.String(),
	}
	if in.GitView != nil {
		// Git resolves through the sanitized view, not the workspace's
		// .git pointer file, which references a host path anyway.
		env["GIT_DIR"] = worktree.ContainerGitViewPath
		env["GIT_WORK_TREE"] = WorkspacePath
	}
	if rs.Branch != "" {
		env["KAPSIS_STATUS_BRANCH"] = rs.Branch
	}
	for k, v := range in.ExtraEnv {
		env[k] = v
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Env = append(s.Env, k+"="+env[k])
	}

	s.args = buildArgs(s)
	return s, nil
}

// buildArgs renders the spec as an ordered engine CLI argument list.
// Security-restricting flags come strictly before mount flags: an engine
// that applies flags in order must have the restrictions in place before
// any host path is attached.
func buildArgs(s *Spec) []string {
	args := []string{"run", "--rm", "--name", s.Name}

	// Security flags first.
	for _, c := range s.CapDrop {
		args = append(args, "--cap-drop", c)
	}
	for _, c := range s.CapAdd {
		args = append(args, "--cap-add", c)
	}
	for _, o := range s.SecurityOpt {
		args = append(args, "--security-opt", o)
	}
	if s.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.FormatInt(s.PidsLimit, 10))
	}
	if s.ReadOnlyRoot {
		args = append(args, "--read-only")
	}

	// Resource flags.
	if s.Memory > 0 {
		args = append(args, "--memory", strconv.FormatInt(s.Memory, 10))
	}
	if s.NanoCPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(float64(s.NanoCPUs)/1e9, 'g', -1, 64))
	}

	// Network flags.
	args = append(args, "--network", s.NetworkMode)
	for _, d := range s.DNS {
		args = append(args, "--dns", d)
	}

	// Mount flags.
	for _, m := range s.Mounts {
		spec := m.Source + ":" + m.Target
		if m.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "--volume", spec)
	}
	tmpfsTargets := make([]string, 0, len(s.Tmpfs))
	for target := range s.Tmpfs {
		tmpfsTargets = append(tmpfsTargets, target)
	}
	sort.Strings(tmpfsTargets)
	for _, target := range tmpfsTargets {
		spec := target
		if opts := s.Tmpfs[target]; opts != "" {
			spec += ":" + opts
		}
		args = append(args, "--tmpfs", spec)
	}

	// Environment and identity.
	for _, e := range s.Env {
		args = append(args, "--env", e)
	}
	if s.User != "" && s.User != config.UserAuto {
		args = append(args, "--user", s.User)
	}
	args = append(args, "--workdir", s.WorkDir)

	args = append(args, s.Image)
	args = append(args, s.Command...)
	return args
}

// Args returns a copy of the ordered argument list.
func (s *Spec) Args() []string {
	return append([]string(nil), s.args...)
}
