package cli

import (
	"github.com/spf13/cobra"
)

func NewRunCommand(root *RootCommand) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run solverd in the foreground",
		Long: `Load the classifiers and serve the ops endpoints until interrupted.

This is the process "solverd start" spawns in the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				root.cfg.API.ListenAddr = listen
			}

			svc, err := root.Service(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			return svc.Run(cmd.Context(), nil)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Override the ops server listen address")

	return cmd
}
