package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/offshore-budgeting/syncore/internal/app"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/reconcile"
)

// StatusView is the status command's output.
type StatusView struct {
	State              string         `json:"state"`
	MirroringPreferred bool           `json:"mirroring_preferred"`
	Workspace          string         `json:"workspace"`
	WorkspaceID        string         `json:"workspace_id"`
	Counts             map[string]int `json:"counts"`
	Total              int            `json:"total"`
	Onboarding         string         `json:"onboarding"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store mode, active workspace and record counts",
		Long: `Launch the sync core and report its state.

The launch sequence runs first: workspace cleanup, active workspace
resolution, orphan assignment and the one-time identity canonicalization.
The onboarding line reports whether a first launch would offer to restore
remote data.

Example:
  syncore status
  syncore status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			ctx := commandContext(cmd)
			st, err := e.app.Status(ctx)
			if err != nil {
				return e.out.Fail("failed to read status", err)
			}
			v := statusView(st)
			v.Onboarding = string(e.app.Onboarding().InitialDecision(ctx))
			return e.out.Render(v, func(w io.Writer) { printStatus(w, st, v.Onboarding) })
		},
	}
}

func statusView(st app.Status) StatusView {
	v := StatusView{
		State:              st.State.String(),
		MirroringPreferred: st.MirroringPreferred,
		Counts:             make(map[string]int, len(st.Counts)),
		Total:              st.Total(),
	}
	if st.Active != nil {
		v.Workspace = st.Active.Name
		v.WorkspaceID = st.Active.ID.String()
	}
	for k, n := range st.Counts {
		v.Counts[string(k)] = n
	}
	return v
}

func printStatus(w io.Writer, st app.Status, onboarding string) {
	fmt.Fprintf(w, "Store:      %s\n", st.State)
	fmt.Fprintf(w, "Mirroring:  %s\n", onOff(st.MirroringPreferred))
	fmt.Fprintf(w, "Onboarding: %s\n", onboarding)
	if st.Active != nil {
		fmt.Fprintf(w, "Workspace:  %s (%s)\n", st.Active.Name, st.Active.ID)
	}
	fmt.Fprintf(w, "Records:    %d\n", st.Total())
	for _, k := range model.ScopedKinds {
		fmt.Fprintf(w, "  %-18s %d\n", k, st.Counts[k])
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ReconcileView summarizes a merge reconciliation.
type ReconcileView struct {
	Policy            string         `json:"policy"`
	Unified           int            `json:"unified"`
	Removed           map[string]int `json:"removed"`
	Repointed         int            `json:"repointed"`
	ChildrenCollapsed int            `json:"children_collapsed"`
}

func reconcileView(rep reconcile.Report) *ReconcileView {
	v := &ReconcileView{
		Policy:            string(rep.Policy),
		Unified:           rep.Unified,
		Removed:           make(map[string]int),
		Repointed:         rep.Repointed,
		ChildrenCollapsed: rep.ChildrenCollapsed,
	}
	for k, n := range rep.Removed {
		if n > 0 {
			v.Removed[string(k)] = n
		}
	}
	return v
}

func printReconcile(w io.Writer, v *ReconcileView) {
	fmt.Fprintf(w, "Merge (%s policy): %d unified, %d removed, %d repointed, %d template children collapsed\n",
		v.Policy, v.Unified, total(v.Removed), v.Repointed, v.ChildrenCollapsed)
	for _, k := range model.ScopedKinds {
		if n := v.Removed[string(k)]; n > 0 {
			fmt.Fprintf(w, "  removed %-18s %d\n", k, n)
		}
	}
}

func total(m map[string]int) int {
	n := 0
	for _, c := range m {
		n += c
	}
	return n
}
