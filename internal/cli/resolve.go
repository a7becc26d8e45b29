package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/offshore-budgeting/syncore/internal/app"
	"github.com/offshore-budgeting/syncore/internal/ident"
	"github.com/offshore-budgeting/syncore/internal/model"
)

const dateLayout = "2006-01-02"

// pick returns the single item whose id or name matches ref.
func pick[T any](items []T, ref, what string, id func(T) uuid.UUID, name func(T) string) (T, error) {
	var zero T
	if parsed, err := uuid.Parse(strings.TrimSpace(ref)); err == nil {
		for _, it := range items {
			if id(it) == parsed {
				return it, nil
			}
		}
		return zero, fmt.Errorf("%s %s: %w", what, ref, errNoMatch)
	}
	var found []T
	for _, it := range items {
		if ident.SameName(name(it), ref) {
			found = append(found, it)
		}
	}
	switch len(found) {
	case 0:
		return zero, fmt.Errorf("%s %q: %w", what, ref, errNoMatch)
	case 1:
		return found[0], nil
	default:
		return zero, fmt.Errorf("%s %q matches %d records, use the id: %w", what, ref, len(found), errAmbiguous)
	}
}

func findWorkspace(ctx context.Context, a *app.App, ref string) (*model.Workspace, error) {
	list, err := a.Workspaces.List(ctx)
	if err != nil {
		return nil, err
	}
	return pick(list, ref, "workspace",
		func(w *model.Workspace) uuid.UUID { return w.ID },
		func(w *model.Workspace) string { return w.Name })
}

func findBudget(ctx context.Context, a *app.App, ref string) (*model.Budget, error) {
	list, err := a.Catalog.Budgets(ctx)
	if err != nil {
		return nil, err
	}
	return pick(list, ref, "budget",
		func(b *model.Budget) uuid.UUID { return b.ID },
		func(b *model.Budget) string { return b.Name })
}

func findBudgets(ctx context.Context, a *app.App, refs []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(refs))
	for _, ref := range refs {
		b, err := findBudget(ctx, a, ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, b.ID)
	}
	return ids, nil
}

func findTemplate(ctx context.Context, a *app.App, ref string) (*model.PlannedExpense, error) {
	list, err := a.Planned.Templates(ctx)
	if err != nil {
		return nil, err
	}
	return pick(list, ref, "template",
		func(p *model.PlannedExpense) uuid.UUID { return p.ID },
		func(p *model.PlannedExpense) string { return p.Title })
}

// categoryID ensures a category by name. An empty name means none.
func categoryID(ctx context.Context, a *app.App, name string) (uuid.UUID, error) {
	if strings.TrimSpace(name) == "" {
		return uuid.Nil, nil
	}
	c, _, err := a.Catalog.EnsureCategory(ctx, name, "")
	if err != nil {
		return uuid.Nil, err
	}
	return c.ID, nil
}

// cardID ensures a card by name. An empty name means none.
func cardID(ctx context.Context, a *app.App, name string) (uuid.UUID, error) {
	if strings.TrimSpace(name) == "" {
		return uuid.Nil, nil
	}
	c, _, err := a.Catalog.EnsureCard(ctx, name)
	if err != nil {
		return uuid.Nil, err
	}
	return c.ID, nil
}

func parseDate(flag, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: expected YYYY-MM-DD, got %q: %w", flag, s, errInvalidInput)
	}
	return t, nil
}

func parseAmount(flag, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s: not an amount: %q: %w", flag, s, errInvalidInput)
	}
	return d, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(dateLayout)
}
