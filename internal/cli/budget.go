package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/offshore-budgeting/syncore/internal/catalog"
	"github.com/offshore-budgeting/syncore/internal/model"
)

// BudgetView is one budget in command output.
type BudgetView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Start       string `json:"start"`
	End         string `json:"end"`
	IsRecurring bool   `json:"is_recurring"`
	Created     bool   `json:"created,omitempty"`
}

func budgetView(b *model.Budget) BudgetView {
	return BudgetView{
		ID:          b.ID.String(),
		Name:        b.Name,
		Start:       formatDate(b.StartDate),
		End:         formatDate(b.EndDate),
		IsRecurring: b.IsRecurring,
	}
}

// NewBudgetCommand creates the budget command group.
func NewBudgetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage budgets in the active workspace",
	}
	cmd.AddCommand(newBudgetCreateCommand(rootOpts))
	cmd.AddCommand(newBudgetListCommand(rootOpts))
	cmd.AddCommand(newBudgetDeleteCommand(rootOpts))
	return cmd
}

func newBudgetCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		name, start, end string
		recurring        bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a budget, or return the existing one for the same span",
		Long: `Create a budget covering --start to --end.

Budgets are identified by their start and end day, so creating the same
span twice returns the existing budget. Without --name the budget is named
after its start month.

Example:
  syncore budget create --start 2025-01-01 --end 2025-01-31`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			s, err := parseDate("start", start)
			if err != nil {
				return e.out.Fail("invalid budget", err)
			}
			t, err := parseDate("end", end)
			if err != nil {
				return e.out.Fail("invalid budget", err)
			}
			b, created, err := e.app.Catalog.EnsureBudget(commandContext(cmd), catalog.BudgetInput{
				Name:        name,
				Start:       s,
				End:         t,
				IsRecurring: recurring,
			})
			if err != nil {
				return e.out.Fail("failed to create budget", err)
			}
			v := budgetView(b)
			v.Created = created
			return e.out.Render(v, func(w io.Writer) {
				verb := "Found"
				if created {
					verb = "Created"
				}
				fmt.Fprintf(w, "%s budget %s (%s to %s)\n", verb, v.Name, v.Start, v.End)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "budget name")
	cmd.Flags().StringVar(&start, "start", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&recurring, "recurring", false, "mark the budget recurring")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newBudgetListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List budgets, most recent first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			list, err := e.app.Catalog.Budgets(commandContext(cmd))
			if err != nil {
				return e.out.Fail("failed to list budgets", err)
			}
			views := make([]BudgetView, len(list))
			for i, b := range list {
				views[i] = budgetView(b)
			}
			return e.out.Render(views, func(w io.Writer) {
				for _, v := range views {
					fmt.Fprintf(w, "%-20s %s  %s  %s\n", v.Name, v.Start, v.End, v.ID)
				}
			})
		},
	}
}

func newBudgetDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <budget>",
		Short:         "Delete a budget and the planned expenses in it",
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

			b, err := findBudget(ctx, e.app, args[0])
			if err != nil {
				return e.out.Fail("failed to delete budget", err)
			}
			rows, err := e.app.Planned.DeleteBudget(ctx, b.ID)
			if err != nil {
				return e.out.Fail("failed to delete budget", err)
			}
			v := map[string]any{"id": b.ID.String(), "name": b.Name, "rows": rows}
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted budget %s (%d rows)\n", b.Name, rows)
			})
		},
	}
}
