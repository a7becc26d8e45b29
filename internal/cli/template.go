package cli

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/planned"
)

// TemplateView is a planned expense in command output.
type TemplateView struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	PlannedAmount    string `json:"planned_amount"`
	ActualAmount     string `json:"actual_amount"`
	TransactionDate  string `json:"transaction_date"`
	CategoryID       string `json:"category_id,omitempty"`
	CardID           string `json:"card_id,omitempty"`
	BudgetID         string `json:"budget_id,omitempty"`
	GlobalTemplateID string `json:"global_template_id,omitempty"`
	Children         int    `json:"children"`
}

func templateView(p *model.PlannedExpense) TemplateView {
	return TemplateView{
		ID:               p.ID.String(),
		Title:            p.Title,
		PlannedAmount:    p.PlannedAmount.String(),
		ActualAmount:     p.ActualAmount.String(),
		TransactionDate:  formatDate(p.TransactionDate),
		CategoryID:       idString(p.CategoryID),
		CardID:           idString(p.CardID),
		BudgetID:         idString(p.BudgetID),
		GlobalTemplateID: idString(p.GlobalTemplateID),
	}
}

// NewTemplateCommand creates the template command group.
func NewTemplateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage planned-expense templates",
		Long: `Manage global planned-expense templates and their budget children.

A template attached to a budget has exactly one child in that budget. Edits
to a template or a child propagate through the hierarchy under a scope:
only_this, past, future or all.`,
	}
	cmd.AddCommand(newTemplateCreateCommand(rootOpts))
	cmd.AddCommand(newTemplateListCommand(rootOpts))
	cmd.AddCommand(newTemplateAttachCommand(rootOpts))
	cmd.AddCommand(newTemplateDetachCommand(rootOpts))
	cmd.AddCommand(newTemplateBudgetsCommand(rootOpts))
	cmd.AddCommand(newTemplateEditCommand(rootOpts))
	cmd.AddCommand(newTemplateDeleteCommand(rootOpts))
	return cmd
}

func newTemplateCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var title, plannedAmt, actualAmt, date, category, card string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template",
		Long: `Create a global template.

Templates are presets: a second template with the same title, planned
amount, category and card is rejected.

Example:
  syncore template create --title Rent --planned 1200 --date 2025-01-01 --category Housing`,
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

			in := planned.TemplateInput{Title: title}
			if in.PlannedAmount, err = parseAmount("planned", plannedAmt); err != nil {
				return e.out.Fail("invalid template", err)
			}
			if in.ActualAmount, err = parseAmount("actual", actualAmt); err != nil {
				return e.out.Fail("invalid template", err)
			}
			if in.TransactionDate, err = parseDate("date", date); err != nil {
				return e.out.Fail("invalid template", err)
			}
			if in.CategoryID, err = categoryID(ctx, e.app, category); err != nil {
				return e.out.Fail("failed to resolve category", err)
			}
			if in.CardID, err = cardID(ctx, e.app, card); err != nil {
				return e.out.Fail("failed to resolve card", err)
			}

			t, err := e.app.Planned.CreateTemplate(ctx, in)
			if err != nil {
				return e.out.Fail("failed to create template", err)
			}
			v := templateView(t)
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "Created template %s %s (%s)\n", v.Title, e.out.Money(t.PlannedAmount), v.ID)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "template title")
	cmd.Flags().StringVar(&plannedAmt, "planned", "", "planned amount")
	cmd.Flags().StringVar(&actualAmt, "actual", "", "actual amount")
	cmd.Flags().StringVar(&date, "date", "", "transaction date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&category, "category", "", "category name, created if missing")
	cmd.Flags().StringVar(&card, "card", "", "card name, created if missing")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTemplateListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List templates with their child counts",
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

			list, err := e.app.Planned.Templates(ctx)
			if err != nil {
				return e.out.Fail("failed to list templates", err)
			}
			views := make([]TemplateView, len(list))
			for i, t := range list {
				kids, err := e.app.Planned.Children(ctx, t.ID)
				if err != nil {
					return e.out.Fail("failed to list template children", err)
				}
				views[i] = templateView(t)
				views[i].Children = len(kids)
			}
			return e.out.Render(views, func(w io.Writer) {
				for i, v := range views {
					fmt.Fprintf(w, "%-24s %12s  %d budgets  %s\n", v.Title, e.out.Money(list[i].PlannedAmount), v.Children, v.ID)
				}
			})
		},
	}
}

func newTemplateAttachCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "attach <template> <budget>",
		Short:         "Attach a template to a budget",
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

			t, err := findTemplate(ctx, e.app, args[0])
			if err != nil {
				return e.out.Fail("failed to attach template", err)
			}
			b, err := findBudget(ctx, e.app, args[1])
			if err != nil {
				return e.out.Fail("failed to attach template", err)
			}
			child, err := e.app.Planned.EnsureChild(ctx, t.ID, b.ID)
			if err != nil {
				return e.out.Fail("failed to attach template", err)
			}
			v := templateView(child)
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "Attached %s to %s (child %s, dated %s)\n", t.Title, b.Name, v.ID, v.TransactionDate)
			})
		},
	}
}

func newTemplateDetachCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "detach <template> <budget>",
		Short:         "Remove a template's child from a budget",
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

			t, err := findTemplate(ctx, e.app, args[0])
			if err != nil {
				return e.out.Fail("failed to detach template", err)
			}
			b, err := findBudget(ctx, e.app, args[1])
			if err != nil {
				return e.out.Fail("failed to detach template", err)
			}
			removed, err := e.app.Planned.RemoveChild(ctx, t.ID, b.ID)
			if err != nil {
				return e.out.Fail("failed to detach template", err)
			}
			v := map[string]any{"template": t.ID.String(), "budget": b.ID.String(), "removed": removed}
			return e.out.Render(v, func(w io.Writer) {
				if removed {
					fmt.Fprintf(w, "Detached %s from %s\n", t.Title, b.Name)
				} else {
					fmt.Fprintf(w, "%s was not attached to %s\n", t.Title, b.Name)
				}
			})
		},
	}
}

func newTemplateBudgetsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "budgets <template> [budget...]",
		Short: "Attach a template to exactly the given budgets",
		Long: `Attach a template to exactly the listed budgets.

Children in budgets that are not listed are deleted, missing ones are
created, and the rest are left untouched. With no budgets the template is
detached everywhere.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			ctx := commandContext(cmd)

			t, err := findTemplate(ctx, e.app, args[0])
			if err != nil {
				return e.out.Fail("failed to set template budgets", err)
			}
			ids, err := findBudgets(ctx, e.app, args[1:])
			if err != nil {
				return e.out.Fail("failed to set template budgets", err)
			}
			diff, err := e.app.Planned.SetTemplateBudgets(ctx, t.ID, ids)
			if err != nil {
				return e.out.Fail("failed to set template budgets", err)
			}
			v := map[string]any{
				"template": t.ID.String(),
				"added":    uuidStrings(diff.Added),
				"removed":  uuidStrings(diff.Removed),
			}
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %d budgets added, %d removed\n", t.Title, len(diff.Added), len(diff.Removed))
			})
		},
	}
}

func newTemplateEditCommand(rootOpts *RootOptions) *cobra.Command {
	var scope, ref, title, plannedAmt, actualAmt, date, category, card string
	cmd := &cobra.Command{
		Use:   "edit <expense-id>",
		Short: "Edit a template or child and propagate the change",
		Long: `Edit a planned expense and propagate the change through its template.

Only the flags given are changed. --scope picks which related expenses are
updated; --ref sets the reference date for past and future, defaulting to
the edited expense's date.

Example:
  syncore template edit 3f2c... --planned 1250 --scope future --ref 2025-03-01`,
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

			id, err := uuid.Parse(args[0])
			if err != nil {
				return e.out.Fail("invalid expense id", fmt.Errorf("%q: %w", args[0], errInvalidInput))
			}
			refDate, err := parseDate("ref", ref)
			if err != nil {
				return e.out.Fail("invalid scope", err)
			}
			sc, err := planned.ParseScope(scope, refDate)
			if err != nil {
				return e.out.Fail("invalid scope", err)
			}

			var ch planned.Changes
			flags := cmd.Flags()
			if flags.Changed("title") {
				ch.Title = &title
			}
			if flags.Changed("planned") {
				d, err := parseAmount("planned", plannedAmt)
				if err != nil {
					return e.out.Fail("invalid edit", err)
				}
				ch.PlannedAmount = &d
			}
			if flags.Changed("actual") {
				d, err := parseAmount("actual", actualAmt)
				if err != nil {
					return e.out.Fail("invalid edit", err)
				}
				ch.ActualAmount = &d
			}
			if flags.Changed("date") {
				d, err := parseDate("date", date)
				if err != nil {
					return e.out.Fail("invalid edit", err)
				}
				ch.TransactionDate = &d
			}
			if flags.Changed("category") {
				c, err := categoryID(ctx, e.app, category)
				if err != nil {
					return e.out.Fail("failed to resolve category", err)
				}
				ch.CategoryID = &c
			}
			if flags.Changed("card") {
				c, err := cardID(ctx, e.app, card)
				if err != nil {
					return e.out.Fail("failed to resolve card", err)
				}
				ch.CardID = &c
			}

			res, err := e.app.Planned.UpdateTemplateHierarchy(ctx, id, sc, ch)
			if err != nil {
				return e.out.Fail("failed to edit planned expense", err)
			}
			v := map[string]any{
				"expense":          res.Expense.String(),
				"template":         idString(res.Template),
				"template_updated": res.TemplateUpdated,
				"children":         res.Children,
				"scope":            sc.String(),
			}
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "Updated %s (%s): %d children", res.Expense, sc, res.Children)
				if res.TemplateUpdated {
					fmt.Fprint(w, ", template updated")
				}
				fmt.Fprintln(w)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "only_this", "only_this, past, future or all")
	cmd.Flags().StringVar(&ref, "ref", "", "scope reference date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&plannedAmt, "planned", "", "new planned amount")
	cmd.Flags().StringVar(&actualAmt, "actual", "", "new actual amount")
	cmd.Flags().StringVar(&date, "date", "", "new transaction date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&category, "category", "", "new category name, empty clears it")
	cmd.Flags().StringVar(&card, "card", "", "new card name, empty clears it")
	return cmd
}

func newTemplateDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <template>",
		Short:         "Delete a template and all of its children",
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

			t, err := findTemplate(ctx, e.app, args[0])
			if err != nil {
				return e.out.Fail("failed to delete template", err)
			}
			rows, err := e.app.Planned.DeleteTemplate(ctx, t.ID)
			if err != nil {
				return e.out.Fail("failed to delete template", err)
			}
			v := map[string]any{"id": t.ID.String(), "title": t.Title, "rows": rows}
			return e.out.Render(v, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted template %s (%d rows)\n", t.Title, rows)
			})
		},
	}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
