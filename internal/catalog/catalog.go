// Package catalog creates categories, cards and budgets idempotently.
//
// Every Ensure call looks up the deterministic id first, then a natural-key
// match, and only creates a record when both miss. Two devices ensuring the
// same name therefore converge on one logical record.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/ident"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/store"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

var (
	ErrEmptyName   = errors.New("name is empty")
	ErrInvalidSpan = errors.New("budget ends before it starts")
)

// Host runs work in the main execution context.
type Host interface {
	Do(ctx context.Context, fn func(ctx context.Context, sess *store.Session) error) error
}

// Workspaces resolves the active workspace.
type Workspaces interface {
	EnsureActiveWorkspaceID(ctx context.Context) (uuid.UUID, error)
}

// Catalog ensures reference records in the active workspace.
type Catalog struct {
	host   Host
	ws     Workspaces
	bus    *events.Bus
	logger *slog.Logger
}

// New creates a catalog.
func New(host Host, ws Workspaces, bus *events.Bus, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{host: host, ws: ws, bus: bus, logger: logger}
}

// EnsureCategory returns the category named name, creating it if needed.
func (c *Catalog) EnsureCategory(ctx context.Context, name, color string) (*model.Category, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, ErrEmptyName
	}
	return ensure(ctx, c, "category",
		func(ws uuid.UUID) uuid.UUID { return ident.CategoryID(ws, name) },
		func(r *model.Category) bool { return ident.SameName(r.Name, name) },
		func() *model.Category { return &model.Category{Name: name, Color: color} },
	)
}

// EnsureCard returns the card named name, creating it if needed.
func (c *Catalog) EnsureCard(ctx context.Context, name string) (*model.Card, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, ErrEmptyName
	}
	return ensure(ctx, c, "card",
		func(ws uuid.UUID) uuid.UUID { return ident.CardID(ws, name) },
		func(r *model.Card) bool { return ident.SameName(r.Name, name) },
		func() *model.Card { return &model.Card{Name: name} },
	)
}

// BudgetInput describes a budget.
type BudgetInput struct {
	Name        string
	Start       time.Time
	End         time.Time
	IsRecurring bool
}

// EnsureBudget returns the budget covering [Start, End], creating it if
// needed. Only the UTC days of Start and End identify the budget.
func (c *Catalog) EnsureBudget(ctx context.Context, in BudgetInput) (*model.Budget, bool, error) {
	if in.End.Before(in.Start) {
		return nil, false, ErrInvalidSpan
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = in.Start.UTC().Format("January 2006")
	}
	startKey, endKey := ident.DayKey(in.Start), ident.DayKey(in.End)
	return ensure(ctx, c, "budget",
		func(ws uuid.UUID) uuid.UUID { return ident.BudgetID(ws, in.Start, in.End) },
		func(r *model.Budget) bool {
			return ident.DayKey(r.StartDate) == startKey && ident.DayKey(r.EndDate) == endKey &&
				ident.SameName(r.Name, name)
		},
		func() *model.Budget {
			return &model.Budget{
				Name:        name,
				StartDate:   in.Start.UTC(),
				EndDate:     in.End.UTC(),
				IsRecurring: in.IsRecurring,
			}
		},
	)
}

// Categories lists the active workspace's categories by name.
func (c *Catalog) Categories(ctx context.Context) ([]*model.Category, error) {
	out, err := list[*model.Category](ctx, c)
	sort.SliceStable(out, func(i, j int) bool { return lessName(out[i].Name, out[j].Name) })
	return out, err
}

// Cards lists the active workspace's cards by name.
func (c *Catalog) Cards(ctx context.Context) ([]*model.Card, error) {
	out, err := list[*model.Card](ctx, c)
	sort.SliceStable(out, func(i, j int) bool { return lessName(out[i].Name, out[j].Name) })
	return out, err
}

// Budgets lists the active workspace's budgets, most recent first.
func (c *Catalog) Budgets(ctx context.Context) ([]*model.Budget, error) {
	out, err := list[*model.Budget](ctx, c)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, err
}

func lessName(a, b string) bool {
	return ident.NormalizeName(a) < ident.NormalizeName(b)
}

func list[T model.Record](ctx context.Context, c *Catalog) ([]T, error) {
	var out []T
	err := c.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		ws, err := c.ws.EnsureActiveWorkspaceID(ctx)
		if err != nil {
			return err
		}
		out, err = store.Fetch[T](ctx, sess, workspace.Predicate(ws))
		return err
	})
	return out, err
}

// ensure implements derived-id lookup, then natural-key lookup, then create.
// The natural-key pass scans the whole workspace: match folds accents,
// Unicode case and inner whitespace, which SQL collation cannot.
func ensure[T model.Scoped](
	ctx context.Context,
	c *Catalog,
	kind string,
	derive func(ws uuid.UUID) uuid.UUID,
	match func(T) bool,
	create func() T,
) (T, bool, error) {
	var (
		out     T
		created bool
	)
	err := c.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		ws, err := c.ws.EnsureActiveWorkspaceID(ctx)
		if err != nil {
			return err
		}
		scope := workspace.Predicate(ws)
		id := derive(ws)

		if rec, ok, err := store.ByID[T](ctx, sess, id, scope); err != nil {
			return err
		} else if ok {
			out = rec
			return nil
		}

		candidates, err := store.Fetch[T](ctx, sess, scope)
		if err != nil {
			return err
		}
		for _, rec := range candidates {
			if match(rec) {
				out = rec
				return nil
			}
		}

		rec := create()
		rec.Key().ID = id
		*rec.Workspace() = ws
		if err := sess.Insert(rec); err != nil {
			return err
		}
		if _, err := sess.Save(ctx); err != nil {
			sess.Rollback()
			return fmt.Errorf("ensure %s: %w", kind, err)
		}
		out, created = rec, true
		return nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	if created {
		c.logger.Info("created record", "kind", kind, "id", out.Key().ID)
		c.bus.Publish(events.DataStoreChanged{Reason: events.ReasonPropagation, Rows: 1})
	}
	return out, created, nil
}
