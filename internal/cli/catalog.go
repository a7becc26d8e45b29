package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/offshore-budgeting/syncore/internal/app"
)

// NamedView is a category or card in command output.
type NamedView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Color   string `json:"color,omitempty"`
	Created bool   `json:"created,omitempty"`
}

// NewCategoryCommand creates the category command group.
func NewCategoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Manage categories in the active workspace",
	}
	var color string
	ensure := namedEnsureCommand(rootOpts, "category", func(ctx context.Context, a *app.App, name string) (NamedView, error) {
		c, created, err := a.Catalog.EnsureCategory(ctx, name, color)
		if err != nil {
			return NamedView{}, err
		}
		return NamedView{ID: c.ID.String(), Name: c.Name, Color: c.Color, Created: created}, nil
	})
	ensure.Flags().StringVar(&color, "color", "", "color for a new category")
	cmd.AddCommand(ensure)
	cmd.AddCommand(namedListCommand(rootOpts, "categories", func(ctx context.Context, a *app.App) ([]NamedView, error) {
		list, err := a.Catalog.Categories(ctx)
		views := make([]NamedView, len(list))
		for i, c := range list {
			views[i] = NamedView{ID: c.ID.String(), Name: c.Name, Color: c.Color}
		}
		return views, err
	}))
	return cmd
}

// NewCardCommand creates the card command group.
func NewCardCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Manage cards in the active workspace",
	}
	cmd.AddCommand(namedEnsureCommand(rootOpts, "card", func(ctx context.Context, a *app.App, name string) (NamedView, error) {
		c, created, err := a.Catalog.EnsureCard(ctx, name)
		if err != nil {
			return NamedView{}, err
		}
		return NamedView{ID: c.ID.String(), Name: c.Name, Created: created}, nil
	}))
	cmd.AddCommand(namedListCommand(rootOpts, "cards", func(ctx context.Context, a *app.App) ([]NamedView, error) {
		list, err := a.Catalog.Cards(ctx)
		views := make([]NamedView, len(list))
		for i, c := range list {
			views[i] = NamedView{ID: c.ID.String(), Name: c.Name}
		}
		return views, err
	}))
	return cmd
}

func namedEnsureCommand(rootOpts *RootOptions, what string, ensure func(context.Context, *app.App, string) (NamedView, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure <name>",
		Short: fmt.Sprintf("Return the %s with this name, creating it if needed", what),
		Long: fmt.Sprintf(`Look up a %[1]s by name and create it only when none exists.

The %[1]s id is derived from the workspace and the normalized name, so two
devices ensuring the same name end up with the same record.`, what),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			v, err := ensure(commandContext(cmd), e.app, args[0])
			if err != nil {
				return e.out.Fail("failed to ensure "+what, err)
			}
			return e.out.Render(v, func(w io.Writer) {
				verb := "Found"
				if v.Created {
					verb = "Created"
				}
				fmt.Fprintf(w, "%s %s %s (%s)\n", verb, what, v.Name, v.ID)
			})
		},
	}
}

func namedListCommand(rootOpts *RootOptions, what string, list func(context.Context, *app.App) ([]NamedView, error)) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List " + what,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			views, err := list(commandContext(cmd), e.app)
			if err != nil {
				return e.out.Fail("failed to list "+what, err)
			}
			return e.out.Render(views, func(w io.Writer) {
				for _, v := range views {
					fmt.Fprintf(w, "%-24s %s\n", v.Name, v.ID)
				}
			})
		},
	}
}

func idString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
