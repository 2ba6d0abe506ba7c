package cli

import (
	"github.com/spf13/cobra"
)

func NewFetchCommand(root *RootCommand) *cobra.Command {
	var updateCheck bool

	cmd := &cobra.Command{
		Use:   "fetch [model...]",
		Short: "Download classifier models into the model directory",
		Long: `Fetch the named models, or every model the enabled predictors use.

Models already on disk are kept unless --update-check is given, in which
case the configured backend decides whether a newer copy exists.`,
		Example: `  solverd fetch
  solverd fetch hopscotch_highsec.onnx --update-check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.Service(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			names := args
			if len(names) == 0 {
				names = svc.ModelNames()
			}
			check := root.cfg.Store.UpdateCheck
			if cmd.Flags().Changed("update-check") {
				check = updateCheck
			}

			results, fetchErr := svc.Prefetch(cmd.Context(), names, check)
			if err := PrintOutput(results, root.opts); err != nil {
				return err
			}
			return fetchErr
		},
	}

	cmd.Flags().BoolVar(&updateCheck, "update-check", false, "Re-check models that are already on disk")

	return cmd
}

func NewModelsCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models recorded as fetched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.Service(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			entries, err := svc.Ledger().List(cmd.Context())
			if err != nil {
				return err
			}
			return PrintOutput(entries, root.opts)
		},
	}
}
