package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewWipeCommand creates the wipe command.
func NewWipeCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete every record in the data store",
		Long: `Delete every workspace, budget, category, card, income and expense in
one save. In mirrored mode the deletions propagate to other devices.

The next launch seeds the default workspaces again.

Example:
  syncore wipe --yes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				out := rootOpts.formatter(cmd)
				return out.Fail("refusing to wipe", fmt.Errorf("pass --yes to confirm: %w", errInvalidInput))
			}
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			n, err := e.app.Ctrl.WipeAllData(commandContext(cmd))
			if err != nil {
				return e.out.Fail("failed to wipe data store", err)
			}
			return e.out.Render(map[string]int{"rows": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %d record(s)\n", n)
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting every record")
	return cmd
}
