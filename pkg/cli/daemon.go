package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// childArgs is the command line the supervisor spawns: this executable
// running the foreground service with the same config file.
func (r *RootCommand) childArgs() ([]string, error) {
	exe, err := r.executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	args := []string{exe, "run"}
	if path := r.configPath(); path != "" {
		args = append(args, "--config", path)
	}
	return args, nil
}

func NewStartCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start solverd as a background daemon",
		Long: `Start solverd in the background.

Requires root. When invoked through sudo the daemon runs as the invoking
user, and the PID and capture files are handed over to that user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			child, err := root.childArgs()
			if err != nil {
				return err
			}
			return root.Supervisor().Start(child)
		},
	}
}

func NewStopCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.Supervisor().Stop()
		},
	}
}

func NewRestartCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop and start the background daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			child, err := root.childArgs()
			if err != nil {
				return err
			}
			return root.Supervisor().Restart(child)
		},
	}
}

func NewStatusCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pid, CPU and memory of the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.Supervisor().Status(cmd.Context())
		},
	}
}

func NewLogCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Print the daemon's captured stdout and stderr",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.Supervisor().Log()
		},
	}
}
