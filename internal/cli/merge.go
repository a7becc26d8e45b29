package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Run a merge reconciliation now",
		Long: `Deduplicate records by natural key and repoint references.

While mirroring, only records with identical fields are unified (strict
policy). In local mode a natural-key match is enough. Template children
sharing a template and budget are collapsed in both cases.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			rep, err := e.app.Reconciler.RunMergeReconciliation(commandContext(cmd))
			if err != nil {
				return e.out.Fail("merge reconciliation failed", err)
			}
			v := reconcileView(rep)
			return e.out.Render(v, func(w io.Writer) { printReconcile(w, v) })
		},
	}
}

// CanonicalView summarizes an identity canonicalization.
type CanonicalView struct {
	Skipped    bool `json:"skipped"`
	Workspaces int  `json:"workspaces"`
	Rekeyed    int  `json:"rekeyed"`
	Collapsed  int  `json:"collapsed"`
	Repointed  int  `json:"repointed"`
}

// NewCanonicalizeCommand creates the canonicalize command.
func NewCanonicalizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "canonicalize",
		Short: "Report the one-time identity canonicalization",
		Long: `Rewrite category, card, budget and preset ids to their deterministic
values. This runs once per device as part of launch; later runs report that
it was skipped.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			rep, err := e.app.Reconciler.CanonicalizeIdentities(commandContext(cmd))
			if err != nil {
				return e.out.Fail("identity canonicalization failed", err)
			}
			v := CanonicalView{
				Skipped:    rep.Skipped,
				Workspaces: rep.Workspaces,
				Rekeyed:    rep.Rekeyed,
				Collapsed:  rep.Collapsed,
				Repointed:  rep.Repointed,
			}
			return e.out.Render(v, func(w io.Writer) {
				if v.Skipped {
					fmt.Fprintln(w, "Identities already canonical")
					return
				}
				fmt.Fprintf(w, "Canonicalized %d workspaces: %d rekeyed, %d collapsed, %d repointed\n",
					v.Workspaces, v.Rekeyed, v.Collapsed, v.Repointed)
			})
		},
	}
}
