package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/offshore-budgeting/syncore/internal/model"
)

// WorkspaceView is one workspace in command output.
type WorkspaceView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ColorTag     string `json:"color_tag,omitempty"`
	BudgetPeriod string `json:"budget_period,omitempty"`
	Active       bool   `json:"active"`
}

func workspaceView(ws *model.Workspace, active bool) WorkspaceView {
	return WorkspaceView{
		ID:           ws.ID.String(),
		Name:         ws.Name,
		ColorTag:     ws.ColorTag,
		BudgetPeriod: string(ws.BudgetPeriod),
		Active:       active,
	}
}

// NewWorkspaceCommand creates the workspace command group.
func NewWorkspaceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage workspaces",
		Long: `List, select, create, rename and delete workspaces.

Workspaces are referenced by name (case and accent insensitive) or id.`,
	}
	cmd.AddCommand(newWorkspaceListCommand(rootOpts))
	cmd.AddCommand(newWorkspaceUseCommand(rootOpts))
	cmd.AddCommand(newWorkspaceCreateCommand(rootOpts))
	cmd.AddCommand(newWorkspaceRenameCommand(rootOpts))
	cmd.AddCommand(newWorkspaceDeleteCommand(rootOpts))
	cmd.AddCommand(newWorkspaceCleanupCommand(rootOpts))
	return cmd
}

func newWorkspaceListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List workspaces",
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

			list, err := e.app.Workspaces.List(ctx)
			if err != nil {
				return e.out.Fail("failed to list workspaces", err)
			}
			active, err := e.app.Workspaces.EnsureActiveWorkspaceID(ctx)
			if err != nil {
				return e.out.Fail("failed to resolve active workspace", err)
			}
			views := make([]WorkspaceView, len(list))
			for i, ws := range list {
				views[i] = workspaceView(ws, ws.ID == active)
			}
			return e.out.Render(views, func(w io.Writer) {
				for _, v := range views {
					marker := " "
					if v.Active {
						marker = "*"
					}
					fmt.Fprintf(w, "%s %-20s %-8s %s\n", marker, v.Name, v.BudgetPeriod, v.ID)
				}
			})
		},
	}
}

func newWorkspaceUseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "use <workspace>",
		Short:         "Select the active workspace",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			ctx := commandContext(cmd)

			ws, err := findWorkspace(ctx, e.app, args[0])
			if err != nil {
				return e.out.Fail("failed to select workspace", err)
			}
			if err := e.app.Workspaces.SetActive(ctx, ws.ID); err != nil {
				return e.out.Fail("failed to select workspace", err)
			}
			v := workspaceView(ws, true)
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "Active workspace: %s\n", v.Name)
			})
		},
	}
}

func newWorkspaceCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var color string
	cmd := &cobra.Command{
		Use:           "create <name>",
		Short:         "Create a workspace",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			ws, err := e.app.Workspaces.Create(commandContext(cmd), args[0], color)
			if err != nil {
				return e.out.Fail("failed to create workspace", err)
			}
			v := workspaceView(ws, false)
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "Created workspace %s (%s)\n", v.Name, v.ID)
			})
		},
	}
	cmd.Flags().StringVar(&color, "color", "", "color tag")
	return cmd
}

func newWorkspaceRenameCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rename <workspace> <new-name>",
		Short:         "Rename a workspace",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			ctx := commandContext(cmd)

			ws, err := findWorkspace(ctx, e.app, args[0])
			if err != nil {
				return e.out.Fail("failed to rename workspace", err)
			}
			if err := e.app.Workspaces.Rename(ctx, ws.ID, args[1]); err != nil {
				return e.out.Fail("failed to rename workspace", err)
			}
			v := map[string]string{"id": ws.ID.String(), "name": args[1]}
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "Renamed %s to %s\n", ws.Name, args[1])
			})
		},
	}
}

func newWorkspaceDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <workspace>",
		Short: "Delete a workspace and every record in it",
		Long: `Delete a workspace together with all of its records.

The Personal workspace cannot be deleted while it is the only one left. If
the active workspace is deleted, Personal (or the first remaining
workspace) becomes active.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			ctx := commandContext(cmd)

			ws, err := findWorkspace(ctx, e.app, args[0])
			if err != nil {
				return e.out.Fail("failed to delete workspace", err)
			}
			rows, err := e.app.Workspaces.Delete(ctx, ws.ID)
			if err != nil {
				return e.out.Fail("failed to delete workspace", err)
			}
			v := map[string]any{"id": ws.ID.String(), "name": ws.Name, "rows": rows}
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted workspace %s (%d rows)\n", ws.Name, rows)
			})
		},
	}
}

func newWorkspaceCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Merge duplicate and legacy workspaces",
		Long: `Run workspace cleanup and orphan assignment on demand.

Both also run at every launch; this command reports what they did.`,
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

			rep, err := e.app.Workspaces.CleanupDuplicateWorkspaces(ctx)
			if err != nil {
				return e.out.Fail("workspace cleanup failed", err)
			}
			assigned, err := e.app.Workspaces.AssignMissingWorkspaceIDs(ctx)
			if err != nil {
				return e.out.Fail("orphan assignment failed", err)
			}
			v := map[string]any{
				"dropped_unidentified": rep.DroppedUnidentified,
				"merged":               rep.Merged,
				"collisions_removed":   rep.CollisionsRemoved,
				"records_moved":        rep.RecordsMoved,
				"active_failed_over":   rep.ActiveFailedOver,
				"assigned":             assigned,
			}
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "Cleanup: %d merged, %d collisions removed, %d unidentified dropped, %d records moved, %d orphans assigned\n",
					rep.Merged, rep.CollisionsRemoved, rep.DroppedUnidentified, rep.RecordsMoved, assigned)
			})
		},
	}
}
