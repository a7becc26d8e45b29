package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/offshore-budgeting/syncore/internal/app"
)

// ModeView is the output of the mode commands.
type ModeView struct {
	Outcome   string         `json:"outcome"`
	State     string         `json:"state"`
	Reconcile *ReconcileView `json:"reconcile,omitempty"`
}

// NewModeCommand creates the mode command group.
func NewModeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Switch between local and mirrored storage",
		Long: `Switch the data store between local-only and mirrored mode.

Enabling mirroring persists the preference and rebuilds the store in
mirrored mode when the remote account is reachable. If it is not, the store
stays local and the preference is kept; "mode apply" or "watch" retries.
Entering mirrored mode runs one merge reconciliation.`,
	}
	cmd.AddCommand(modeSubcommand(rootOpts, "enable", "Enable mirroring", func(e *env, cmd *cobra.Command) (app.MirroringResult, error) {
		return e.app.SetMirroring(commandContext(cmd), true)
	}))
	cmd.AddCommand(modeSubcommand(rootOpts, "disable", "Disable mirroring and go local-only", func(e *env, cmd *cobra.Command) (app.MirroringResult, error) {
		return e.app.SetMirroring(commandContext(cmd), false)
	}))
	cmd.AddCommand(modeSubcommand(rootOpts, "apply", "Re-apply the stored mirroring preference", func(e *env, cmd *cobra.Command) (app.MirroringResult, error) {
		return e.app.ApplyModePreference(commandContext(cmd))
	}))
	return cmd
}

func modeSubcommand(rootOpts *RootOptions, use, short string, run func(*env, *cobra.Command) (app.MirroringResult, error)) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			res, err := run(e, cmd)
			if err != nil {
				return e.out.Fail("mode change failed", err)
			}
			v := ModeView{Outcome: string(res.Outcome), State: e.app.Ctrl.State().String()}
			if res.Reconcile != nil {
				v.Reconcile = reconcileView(*res.Reconcile)
			}
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "Mode change: %s (store is %s)\n", v.Outcome, v.State)
				if v.Reconcile != nil {
					printReconcile(w, v.Reconcile)
				}
			})
		},
	}
}
