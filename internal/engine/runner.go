package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	networkTypes "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/moby/term"

	"github.com/aviadshiber/kapsis/internal/launch"
)

// stopGrace is how long a terminated container gets to exit cleanly before
// the engine kills it.
const stopGrace = 10 * time.Second

// Runner executes composed launch specs against the container engine. It
// is the only component that talks to the engine API; everything upstream
// deals in launch.Spec values.
type Runner struct {
	client *client.Client
}

// NewRunner creates an engine client and verifies the daemon is reachable.
func NewRunner() (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &LaunchError{Reason: "creating engine client", Err: err}
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, &LaunchError{Reason: "engine not reachable", Err: err}
	}
	return &Runner{client: cli}, nil
}

// Close closes the engine client.
func (r *Runner) Close() error {
	return r.client.Close()
}

// CreateNetwork creates a dedicated bridge network for one agent and
// returns its gateway address. The gateway is a host-side interface, so the
// host can bind a resolver on it while containers on the network reach it
// as their nameserver.
func (r *Runner) CreateNetwork(ctx context.Context, name string) (string, error) {
	resp, err := r.client.NetworkCreate(ctx, name, networkTypes.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return "", &LaunchError{Reason: fmt.Sprintf("creating network %q", name), Err: err}
	}
	info, err := r.client.NetworkInspect(ctx, resp.ID, networkTypes.InspectOptions{})
	if err != nil {
		_ = r.client.NetworkRemove(context.Background(), resp.ID)
		return "", &LaunchError{Reason: fmt.Sprintf("inspecting network %q", name), Err: err}
	}
	for _, cfg := range info.IPAM.Config {
		if cfg.Gateway != "" {
			return cfg.Gateway, nil
		}
	}
	_ = r.client.NetworkRemove(context.Background(), resp.ID)
	return "", &LaunchError{Reason: fmt.Sprintf("network %q has no gateway address", name)}
}

// RemoveNetwork deletes an agent network created by CreateNetwork.
func (r *Runner) RemoveNetwork(ctx context.Context, name string) error {
	if err := r.client.NetworkRemove(ctx, name); err != nil {
		return &LaunchError{Reason: fmt.Sprintf("removing network %q", name), Err: err}
	}
	return nil
}

// Run creates and runs the container described by spec, blocking until it
// exits, and returns its exit code. A positive timeout bounds the run:
// on expiry the container is stopped (graceful terminate, then kill after
// the grace window) and a TimeoutError is returned.
func (r *Runner) Run(ctx context.Context, spec *launch.Spec, timeout time.Duration) (int, error) {
	var mounts []mount.Mount
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	user := spec.User
	if user == "auto" {
		user = fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
	}

	isTTY := term.IsTerminal(os.Stdin.Fd())

	containerConfig := &containerTypes.Config{
		Image:        spec.Image,
		Cmd:          strslice.StrSlice(spec.Command),
		Env:          spec.Env,
		WorkingDir:   spec.WorkDir,
		User:         user,
		Tty:          isTTY,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: isTTY,
		AttachStderr: isTTY,
	}

	pidsLimit := spec.PidsLimit
	hostConfig := &containerTypes.HostConfig{
		Mounts:         mounts,
		Tmpfs:          spec.Tmpfs,
		NetworkMode:    containerTypes.NetworkMode(spec.NetworkMode),
		DNS:            spec.DNS,
		ReadonlyRootfs: spec.ReadOnlyRoot,
		CapDrop:        strslice.StrSlice(spec.CapDrop),
		CapAdd:         strslice.StrSlice(spec.CapAdd),
		SecurityOpt:    spec.SecurityOpt,
		Resources: containerTypes.Resources{
			Memory:    spec.Memory,
			NanoCPUs:  spec.NanoCPUs,
			PidsLimit: &pidsLimit,
		},
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		if strings.Contains(err.Error(), "No such image") {
			return -1, &LaunchError{Reason: fmt.Sprintf("image %q not found; pull or build it first", spec.Image)}
		}
		return -1, &LaunchError{Reason: "creating container", Err: err}
	}
	containerID := resp.ID

	defer func() {
		_ = r.client.ContainerRemove(context.Background(), containerID, containerTypes.RemoveOptions{
			Force: true,
		})
	}()

	attachResp, err := r.client.ContainerAttach(ctx, containerID, containerTypes.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: isTTY,
		Stderr: isTTY,
	})
	if err != nil {
		return -1, &LaunchError{Reason: "attaching to container", Err: err}
	}
	defer attachResp.Close()

	outputDone := make(chan error, 1)
	if isTTY {
		go func() {
			buf := make([]byte, 32*1024)
			for {
				n, err := attachResp.Reader.Read(buf)
				if n > 0 {
					os.Stdout.Write(buf[:n])
				}
				if err != nil {
					outputDone <- err
					return
				}
			}
		}()
	}

	if err := r.client.ContainerStart(ctx, containerID, containerTypes.StartOptions{}); err != nil {
		return -1, &LaunchError{Reason: "starting container", Err: err}
	}

	// Non-TTY output goes through the engine's log driver.
	if !isTTY {
		go func() {
			logs, err := r.client.ContainerLogs(ctx, containerID, containerTypes.LogsOptions{
				ShowStdout: true,
				ShowStderr: true,
				Follow:     true,
			})
			if err != nil {
				outputDone <- err
				return
			}
			defer logs.Close()
			_, err = stdcopy.StdCopy(os.Stdout, os.Stderr, logs)
			outputDone <- err
		}()
	}

	var oldState *term.State
	if isTTY {
		r.resizeTty(ctx, containerID)
		oldState, err = term.SetRawTerminal(os.Stdin.Fd())
		if err != nil {
			return -1, &LaunchError{Reason: "setting raw terminal", Err: err}
		}
		defer term.RestoreTerminal(os.Stdin.Fd(), oldState)
		go r.monitorTtySize(ctx, containerID)
	}

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				break
			}
			if _, err := attachResp.Conn.Write(buf[:n]); err != nil {
				break
			}
		}
		attachResp.CloseWrite()
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	statusCh, errCh := r.client.ContainerWait(ctx, containerID, containerTypes.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		<-outputDone
		if err != nil && ctx.Err() == nil {
			return -1, &LaunchError{Reason: "waiting for container", Err: err}
		}
		return -1, ctx.Err()
	case status := <-statusCh:
		<-outputDone
		return int(status.StatusCode), nil
	case <-deadline:
		r.stop(containerID)
		return -1, &TimeoutError{Timeout: timeout}
	case <-ctx.Done():
		// Cancelled (signal); stop the container before reporting.
		r.stop(containerID)
		return -1, ctx.Err()
	}
}

// stop terminates the container, escalating to kill after the grace window.
// Runs on a background context because the run context may be done.
func (r *Runner) stop(containerID string) {
	grace := int(stopGrace.Seconds())
	_ = r.client.ContainerStop(context.Background(), containerID, containerTypes.StopOptions{
		Timeout: &grace,
	})
}

// resizeTty resizes the container TTY to match the current terminal size
func (r *Runner) resizeTty(ctx context.Context, containerID string) {
	winsize, err := term.GetWinsize(os.Stdout.Fd())
	if err != nil {
		return
	}
	r.client.ContainerResize(ctx, containerID, containerTypes.ResizeOptions{
		Height: uint(winsize.Height),
		Width:  uint(winsize.Width),
	})
}

// monitorTtySize monitors terminal size changes and resizes the container TTY
func (r *Runner) monitorTtySize(ctx context.Context, containerID string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-sigCh:
			r.resizeTty(ctx, containerID)
		case <-ctx.Done():
			return
		}
	}
}
