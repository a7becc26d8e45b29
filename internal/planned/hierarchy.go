package planned

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/store"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

// Changes holds the fields an edit sets. Nil fields are left alone.
type Changes struct {
	Title           *string
	PlannedAmount   *decimal.Decimal
	ActualAmount    *decimal.Decimal
	TransactionDate *time.Time
	CategoryID      *uuid.UUID
	CardID          *uuid.UUID
}

// Empty reports whether c changes nothing.
func (c Changes) Empty() bool {
	return c.Title == nil && c.PlannedAmount == nil && c.ActualAmount == nil &&
		c.TransactionDate == nil && c.CategoryID == nil && c.CardID == nil
}

func (c Changes) apply(p *model.PlannedExpense) {
	if c.Title != nil {
		p.Title = *c.Title
	}
	if c.PlannedAmount != nil {
		p.PlannedAmount = *c.PlannedAmount
	}
	if c.ActualAmount != nil {
		p.ActualAmount = *c.ActualAmount
	}
	if c.TransactionDate != nil {
		p.TransactionDate = *c.TransactionDate
	}
	if c.CategoryID != nil {
		p.CategoryID = *c.CategoryID
	}
	if c.CardID != nil {
		p.CardID = *c.CardID
	}
}

// UpdateResult reports what UpdateTemplateHierarchy touched.
type UpdateResult struct {
	Expense         uuid.UUID
	Template        uuid.UUID
	TemplateUpdated bool
	Children        int
}

// UpdateTemplateHierarchy applies changes to an expense and propagates them
// through its template hierarchy under scope.
//
// Editing a template updates it and every in-scope child. Editing a linked
// child updates it, every in-scope sibling, and the template itself when
// the scope includes the template. Children are matched against the scope's
// reference date, or the edited expense's date before the edit when the
// scope has none. Everything lands in one save.
func (e *Engine) UpdateTemplateHierarchy(ctx context.Context, expenseID uuid.UUID, scope Scope, changes Changes) (UpdateResult, error) {
	res := UpdateResult{Expense: expenseID}
	_, err := e.tx(ctx, "update template hierarchy", func(ctx context.Context, sess *store.Session, ws uuid.UUID) error {
		exp, ok, err := store.ByID[*model.PlannedExpense](ctx, sess, expenseID, workspace.Predicate(ws))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("planned expense %s: %w", expenseID, ErrNotFound)
		}

		var tmpl *model.PlannedExpense
		switch {
		case exp.IsGlobal:
			tmpl = exp
		case exp.GlobalTemplateID != uuid.Nil:
			tmpl, err = template(ctx, sess, ws, exp.GlobalTemplateID)
			if err != nil && !isNotFound(err) {
				return err
			}
		}

		fallback := exp.TransactionDate
		if ref, ok := scope.ReferenceDate(); ok {
			fallback = ref
		}

		changes.apply(exp)
		if tmpl == nil {
			return nil
		}
		res.Template = tmpl.ID
		if tmpl != exp && scope.IncludesTemplate() {
			changes.apply(tmpl)
			res.TemplateUpdated = true
		}

		kids, err := children(ctx, sess, ws, tmpl.ID)
		if err != nil {
			return err
		}
		for _, k := range kids {
			if k == exp {
				continue
			}
			if scope.ShouldIncludeChild(k.TransactionDate, fallback) {
				changes.apply(k)
				res.Children++
			}
		}
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	e.logger.Info("template hierarchy updated", "expense", expenseID, "scope", scope,
		"template", res.Template, "children", res.Children)
	return res, nil
}

// AlignedTransactionDate places the template's day of month and time of day
// into the budget's starting month, clamped to the budget's range. A
// template without a date lands on the budget start.
func AlignedTransactionDate(t *model.PlannedExpense, b *model.Budget) time.Time {
	start := b.StartDate.UTC()
	if b.StartDate.IsZero() {
		return t.TransactionDate
	}
	src := t.TransactionDate.UTC()
	if t.TransactionDate.IsZero() {
		src = start
	}
	aligned := time.Date(start.Year(), start.Month(), src.Day(),
		src.Hour(), src.Minute(), src.Second(), src.Nanosecond(), time.UTC)
	if aligned.Before(start) {
		aligned = start
	}
	if !b.EndDate.IsZero() && aligned.After(b.EndDate.UTC()) {
		aligned = b.EndDate.UTC()
	}
	return aligned
}

func outside(d time.Time, b *model.Budget) bool {
	if !b.StartDate.IsZero() && d.Before(b.StartDate) {
		return true
	}
	return !b.EndDate.IsZero() && d.After(b.EndDate)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
