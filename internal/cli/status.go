package cli

import (
	"fmt"

	"github.com/aviadshiber/kapsis/internal/status"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("project", "", "filter by project name")
}

var statusCmd = &cobra.Command{
	Use:   "status [agent-id]",
	Short: "Show agent run status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, err := status.NewTracker(cfg.Status.Dir)
		if err != nil {
			return err
		}
		project, _ := cmd.Flags().GetString("project")

		if len(args) == 1 && project != "" {
			s, err := tracker.Read(project, args[0])
			if err != nil {
				return fmt.Errorf("no status for agent %q in project %q: %w", args[0], project, err)
			}
			printStatus(s)
			return nil
		}

		all, err := tracker.List()
		if err != nil {
			return err
		}
		for _, s := range all {
			if project != "" && s.Project != project {
				continue
			}
			if len(args) == 1 && s.AgentID != args[0] {
				continue
			}
			printStatus(s)
		}
		return nil
	},
}

func printStatus(s *status.AgentStatus) {
	fmt.Printf("%s/%s: %s (%d%%)", s.Project, s.AgentID, s.Phase, s.Progress)
	if s.Message != "" {
		fmt.Printf(" - %s", s.Message)
	}
	if s.Error != "" {
		fmt.Printf(" [error: %s]", s.Error)
	}
	if s.ExitCode != nil {
		fmt.Printf(" [exit %d]", *s.ExitCode)
	}
	fmt.Println()
	if s.Branch != "" || s.WorktreePath != "" {
		fmt.Printf("  branch=%s mode=%s worktree=%s\n", s.Branch, s.SandboxMode, s.WorktreePath)
	}
}
