package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aviadshiber/kapsis/internal/config"
	"github.com/aviadshiber/kapsis/internal/engine"
	"github.com/aviadshiber/kapsis/internal/lifecycle"
	"github.com/aviadshiber/kapsis/internal/status"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(launchCmd)

	launchCmd.Flags().String("agent-id", "", "unique agent identifier (required)")
	launchCmd.Flags().StringP("branch", "b", "", "branch the agent works on (enables worktree mode)")
	launchCmd.Flags().String("base-branch", "", "base branch for new agent branches (overrides config)")
	launchCmd.Flags().Bool("push", false, "push the agent branch after a successful run (overrides config)")
	launchCmd.Flags().String("network", "", "network mode: none, filtered, open (overrides config)")
	launchCmd.Flags().String("security-level", "", "security level: minimal, standard, strict, paranoid (overrides config)")
	launchCmd.Flags().String("force-mode", "", "force sandbox mode: overlay, worktree (overrides config)")
	launchCmd.Flags().String("timeout", "", "wall-clock run limit, e.g. 45m (overrides config)")
	launchCmd.Flags().String("image", "", "agent container image (overrides config)")
	launchCmd.MarkFlagRequired("agent-id")

	viper.BindPFlag("git.base_branch", launchCmd.Flags().Lookup("base-branch"))
	viper.BindPFlag("git.push", launchCmd.Flags().Lookup("push"))
	viper.BindPFlag("network.mode", launchCmd.Flags().Lookup("network"))
	viper.BindPFlag("security.level", launchCmd.Flags().Lookup("security-level"))
	viper.BindPFlag("sandbox.force_mode", launchCmd.Flags().Lookup("force-mode"))
	viper.BindPFlag("container.timeout", launchCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("image.name", launchCmd.Flags().Lookup("image"))
}

var launchCmd = &cobra.Command{
	Use:   "launch [project-path] [flags] [-- agent-args...]",
	Short: "Launch an agent in an isolated sandbox",
	Args:  cobra.ArbitraryArgs,
	RunE:  runLaunch,
}

func runLaunch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on signals; the orchestrator's release stack
	// handles resource teardown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	projectPath := "."
	agentArgs := args
	if len(args) > 0 && cmd.ArgsLenAtDash() != 0 {
		projectPath = args[0]
		agentArgs = args[1:]
	}

	agentID, _ := cmd.Flags().GetString("agent-id")
	branch, _ := cmd.Flags().GetString("branch")

	spec, err := config.ResolveRunSpec(cfg, agentID, projectPath, branch, agentArgs)
	if err != nil {
		return fmt.Errorf("resolving run spec: %w", err)
	}

	tracker, err := status.NewTracker(spec.StatusDir)
	if err != nil {
		return err
	}

	runner, err := engine.NewRunner()
	if err != nil {
		return err
	}
	defer runner.Close()

	orch := &lifecycle.Orchestrator{
		Spec:    spec,
		Engine:  runner,
		Tracker: tracker,
		Logger:  newLogger(),
	}
	return orch.Run(ctx)
}
