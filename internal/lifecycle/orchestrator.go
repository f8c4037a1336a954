package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aviadshiber/kapsis/internal/config"
	"github.com/aviadshiber/kapsis/internal/credentials"
	"github.com/aviadshiber/kapsis/internal/engine"
	"github.com/aviadshiber/kapsis/internal/launch"
	"github.com/aviadshiber/kapsis/internal/network"
	"github.com/aviadshiber/kapsis/internal/sandbox"
	"github.com/aviadshiber/kapsis/internal/security"
	"github.com/aviadshiber/kapsis/internal/status"
	"github.com/aviadshiber/kapsis/internal/worktree"
)

// ContainerRunner executes a composed launch spec and manages the
// per-agent network it runs on. Satisfied by engine.Runner; tests
// substitute fakes.
type ContainerRunner interface {
	Run(ctx context.Context, spec *launch.Spec, timeout time.Duration) (int, error)
	CreateNetwork(ctx context.Context, name string) (gateway string, err error)
	RemoveNetwork(ctx context.Context, name string) error
}

// defaultVerifyTimeout bounds the resolver verification gate.
const defaultVerifyTimeout = 10 * time.Second

// Orchestrator drives one agent run through its phases: init, preparing,
// starting, running, committing, pushing, complete, with error reachable
// from anywhere. One orchestrator handles exactly one run; parallel agents
// are independent processes.
type Orchestrator struct {
	Spec    *config.RunSpec
	Engine  ContainerRunner
	Tracker *status.Tracker
	Logger  *slog.Logger

	// Caps defaults to a fresh host probe when nil.
	Caps *sandbox.Capabilities

	// VerifyTimeout defaults to defaultVerifyTimeout when zero.
	VerifyTimeout time.Duration
}

// Run executes the full lifecycle. Every resource acquired along the way
// is released on every terminal transition, success or not. Any failure
// before the container starts aborts with the status record set to error
// and without the agent ever having had filesystem or network access.
func (o *Orchestrator) Run(ctx context.Context) error {
	spec := o.Spec
	handle, err := o.Tracker.Init(spec.AgentID, spec.Project)
	if err != nil {
		return fmt.Errorf("initializing status: %w", err)
	}

	releases := &releaseStack{logger: o.Logger}
	defer releases.releaseAll()

	fail := func(err error) error {
		_ = handle.Fail(err.Error())
		return err
	}

	mode, err := sandbox.Select(spec)
	if err != nil {
		return fail(err)
	}
	caps := o.Caps
	if caps == nil {
		caps = sandbox.DetectCapabilities()
	}
	if err := caps.Check(mode, spec.NetworkMode); err != nil {
		return fail(err)
	}
	o.Logger.Info("sandbox mode selected", "mode", mode, "agent", spec.AgentID)
	if err := handle.Update(status.PhaseInit, 5, "mode selected: "+mode.String()); err != nil {
		return fail(err)
	}

	// preparing: filesystem isolation
	if err := handle.Update(status.PhasePreparing, 10, "preparing filesystem isolation"); err != nil {
		return fail(err)
	}

	scratchDir, err := os.MkdirTemp("", "kapsis-run-"+spec.AgentID+"-*")
	if err != nil {
		return fail(fmt.Errorf("creating scratch dir: %w", err))
	}
	releases.push("scratch dir", func() error { return os.RemoveAll(scratchDir) })

	var workspacePath string
	var gitView *worktree.SanitizedView
	var wtHandle *worktree.Handle

	switch mode {
	case sandbox.ModeWorktree:
		wtHandle, err = worktree.Create(ctx, o.Logger, spec.ProjectPath, spec.AgentID,
			spec.Branch, spec.BaseBranch, spec.Remote)
		if err != nil {
			return fail(err)
		}
		releases.push("worktree", func() error {
			return worktree.Cleanup(context.Background(), o.Logger, spec.ProjectPath, spec.AgentID)
		})

		gitView, err = worktree.PrepareSanitizedView(ctx, wtHandle)
		if err != nil {
			return fail(err)
		}
		workspacePath = wtHandle.Path
		if err := handle.SetDetails(spec.Branch, mode.String(), wtHandle.Path); err != nil {
			return fail(err)
		}

	case sandbox.ModeOverlay:
		overlay, err := sandbox.SetupOverlay(spec.ProjectPath, spec.AgentID)
		if err != nil {
			return fail(err)
		}
		releases.push("overlay", overlay.Cleanup)
		workspacePath = overlay.Merged
		if err := handle.SetDetails("", mode.String(), ""); err != nil {
			return fail(err)
		}
	}

	// preparing: network policy, verified before the agent exists. The
	// agent gets its own bridge network; the resolver listens on that
	// network's gateway, the only address both the host (to verify) and
	// the container (via resolv.conf, which cannot name a port) can reach.
	var resolverCfg *network.ResolverConfig
	var networkName string
	switch spec.NetworkMode {
	case config.NetworkFiltered:
		networkName = fmt.Sprintf("kapsis-%s-%s", spec.Project, spec.AgentID)
		gateway, err := o.Engine.CreateNetwork(ctx, networkName)
		if err != nil {
			return fail(err)
		}
		releases.push("agent network", func() error {
			return o.Engine.RemoveNetwork(context.Background(), networkName)
		})

		resolverCfg, err = network.Compile(spec.Allowlist, spec.DNSServers, gateway)
		if err != nil {
			return fail(err)
		}
		cfgPath, err := resolverCfg.WriteConfig(scratchDir)
		if err != nil {
			return fail(err)
		}
		resolver, err := network.Start(ctx, cfgPath)
		if err != nil {
			return fail(err)
		}
		releases.push("resolver", resolver.Stop)

		verifyTimeout := o.VerifyTimeout
		if verifyTimeout == 0 {
			verifyTimeout = defaultVerifyTimeout
		}
		if err := network.NewVerifier(resolverCfg).VerifyActive(ctx, verifyTimeout); err != nil {
			return fail(err)
		}
		if err := handle.Update(status.PhasePreparing, 15, "network policy verified"); err != nil {
			return fail(err)
		}
	case config.NetworkOpen:
		o.Logger.Warn("network filtering disabled; agent has unrestricted egress",
			"agent", spec.AgentID)
	}

	// preparing: security profile
	overrides, err := security.LoadOverrides(spec.ProfileFile)
	if err != nil {
		return fail(err)
	}
	profile, err := security.BuildProfile(spec.SecurityLevel, overrides)
	if err != nil {
		return fail(err)
	}
	var seccompPath string
	if profile.SeccompEnabled() {
		seccompPath, err = profile.WriteSeccompProfile(scratchDir)
		if err != nil {
			return fail(err)
		}
	}

	launchSpec, err := launch.Compose(launch.Input{
		Spec:          spec,
		Mode:          mode,
		Profile:       profile,
		SeccompPath:   seccompPath,
		Resolver:      resolverCfg,
		NetworkName:   networkName,
		WorkspacePath: workspacePath,
		GitView:       gitView,
		ExtraEnv:      credentials.Collect(),
	})
	if err != nil {
		return fail(err)
	}

	if err := handle.Update(status.PhaseStarting, 20, "starting container"); err != nil {
		return fail(err)
	}
	if err := handle.Update(status.PhaseRunning, 25, "agent running"); err != nil {
		return fail(err)
	}

	// running is opaque to the host: sub-progress between 25 and 90 comes
	// only from in-container writes to the shared status file.
	exitCode, err := o.Engine.Run(ctx, launchSpec, spec.Timeout)
	if err != nil {
		var timeoutErr *engine.TimeoutError
		if errors.As(err, &timeoutErr) {
			_ = handle.Fail(timeoutErr.Error())
			return err
		}
		return fail(err)
	}
	if exitCode != 0 {
		err := fmt.Errorf("agent exited with code %d; commit skipped", exitCode)
		_ = handle.Complete(exitCode, err.Error(), "")
		return err
	}

	// committing / pushing: worktree mode with auto-commit only.
	if mode == sandbox.ModeWorktree && spec.AutoCommit {
		if err := handle.Update(status.PhaseCommitting, 90, "committing changes"); err != nil {
			return fail(err)
		}
		committed, err := commitChanges(ctx, spec, wtHandle)
		if err != nil {
			return fail(err)
		}
		if !committed {
			o.Logger.Info("no changes to commit", "agent", spec.AgentID)
			return handle.Complete(0, "", "no changes")
		}
		if spec.PushEnabled {
			if err := handle.Update(status.PhasePushing, 95, "pushing branch "+spec.Branch); err != nil {
				return fail(err)
			}
			if err := pushBranch(ctx, spec, wtHandle); err != nil {
				return fail(err)
			}
		}
	}

	return handle.Complete(0, "", "")
}
