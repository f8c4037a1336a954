package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aviadshiber/kapsis/internal/status"
	"github.com/aviadshiber/kapsis/internal/worktree"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().String("project-path", ".", "project the agent ran against")
	cleanupCmd.Flags().Bool("keep-status", false, "keep the status record")
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <agent-id>",
	Short: "Remove an agent's worktree, sanitized view, and status record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID := args[0]
		projectPath, _ := cmd.Flags().GetString("project-path")
		absPath, err := filepath.Abs(projectPath)
		if err != nil {
			return fmt.Errorf("resolving project path: %w", err)
		}

		if err := worktree.Cleanup(context.Background(), newLogger(), absPath, agentID); err != nil {
			return err
		}

		keepStatus, _ := cmd.Flags().GetBool("keep-status")
		if !keepStatus {
			tracker, err := status.NewTracker(cfg.Status.Dir)
			if err != nil {
				return err
			}
			if err := tracker.Remove(filepath.Base(absPath), agentID); err != nil {
				return err
			}
		}

		fmt.Printf("Cleaned up agent %s\n", agentID)
		return nil
	},
}
