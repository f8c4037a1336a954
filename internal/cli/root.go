package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aviadshiber/kapsis/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kapsis",
	Short: "Launch AI coding agents in isolated sandboxes",
	Long: `Kapsis launches autonomous coding agents inside rootless containers with
layered isolation: a copy-on-write overlay or git worktree for the
filesystem, a default-deny DNS allowlist for the network, and dropped
capabilities plus syscall filtering for the OS surface. Agent work flows
back to the repository through a reviewed commit/push step on the host.

Examples:
  kapsis launch . --agent-id issue-42 --branch feature/issue-42
  kapsis launch ~/proj --agent-id a1 --network none -- --help
  kapsis status
  kapsis cleanup issue-42 --project-path ~/proj`,
	SilenceUsage: true,
}

// Execute runs the CLI and returns the command error, if any.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/kapsis/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Warning: could not find home directory:", err)
			return
		}

		viper.AddConfigPath(home + "/.config/kapsis")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("KAPSIS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "Warning: error reading config file:", err)
		}
	}

	cfg = config.LoadConfig()
}

// newLogger builds the run logger. Components receive it explicitly; there
// is no package-level logger anywhere in the core.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
