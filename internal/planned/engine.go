// Package planned keeps global planned-expense templates and their
// per-budget children in sync.
//
// A template is a PlannedExpense with IsGlobal set and no budget. Each budget
// it is attached to holds exactly one child (IsGlobal false, BudgetID set,
// GlobalTemplateID pointing at the template). EnsureChild is the primitive
// that upholds the one-child-per-pair rule; every other operation builds on
// it and commits in a single save.
package planned

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/ident"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/query"
	"github.com/offshore-budgeting/syncore/internal/store"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNotTemplate   = errors.New("planned expense is not a template")
	ErrPresetExists  = errors.New("a preset with the same title, amount, category and card already exists")
	ErrEmptyTitle    = errors.New("template title is empty")
	ErrNotInTemplate = errors.New("planned expense is not linked to a template")
)

// Host runs work in the main execution context.
type Host interface {
	Do(ctx context.Context, fn func(ctx context.Context, sess *store.Session) error) error
}

// Workspaces resolves the active workspace.
type Workspaces interface {
	EnsureActiveWorkspaceID(ctx context.Context) (uuid.UUID, error)
}

// Options configure an Engine.
type Options struct {
	Host       Host
	Workspaces Workspaces
	Bus        *events.Bus
	Logger     *slog.Logger
	NewID      func() uuid.UUID
}

// Engine propagates template edits.
type Engine struct {
	host   Host
	ws     Workspaces
	bus    *events.Bus
	logger *slog.Logger
	newID  func() uuid.UUID
}

// New creates an engine.
func New(opts Options) *Engine {
	e := &Engine{
		host:   opts.Host,
		ws:     opts.Workspaces,
		bus:    opts.Bus,
		logger: opts.Logger,
		newID:  opts.NewID,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.newID == nil {
		e.newID = func() uuid.UUID { return uuid.Must(uuid.NewV7()) }
	}
	return e
}

// TemplateInput describes a new template.
type TemplateInput struct {
	Title           string
	PlannedAmount   decimal.Decimal
	ActualAmount    decimal.Decimal
	TransactionDate time.Time
	CategoryID      uuid.UUID
	CardID          uuid.UUID
}

// tx runs fn in the main context with the active workspace resolved, then
// saves. On a save failure the session is rolled back.
func (e *Engine) tx(ctx context.Context, op string, fn func(ctx context.Context, sess *store.Session, ws uuid.UUID) error) (store.ChangeSet, error) {
	var cs store.ChangeSet
	err := e.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		ws, err := e.ws.EnsureActiveWorkspaceID(ctx)
		if err != nil {
			return err
		}
		if err := fn(ctx, sess, ws); err != nil {
			sess.Rollback()
			return err
		}
		cs, err = sess.Save(ctx)
		if err != nil {
			sess.Rollback()
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
	if err != nil {
		return cs, err
	}
	if !cs.Empty() {
		e.bus.Publish(events.DataStoreChanged{Reason: events.ReasonPropagation, Rows: cs.Len()})
	}
	return cs, nil
}

// read runs fn in the main context with the active workspace resolved.
func (e *Engine) read(ctx context.Context, fn func(ctx context.Context, sess *store.Session, ws uuid.UUID) error) error {
	return e.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		ws, err := e.ws.EnsureActiveWorkspaceID(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, sess, ws)
	})
}

// CreateTemplate adds a template with a deterministic preset id. Creating a
// preset whose natural key already exists returns ErrPresetExists.
func (e *Engine) CreateTemplate(ctx context.Context, in TemplateInput) (*model.PlannedExpense, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	var t *model.PlannedExpense
	_, err := e.tx(ctx, "create template", func(ctx context.Context, sess *store.Session, ws uuid.UUID) error {
		id := ident.PresetTemplateID(ws, title, in.PlannedAmount, in.CategoryID, in.CardID)
		if _, ok, err := store.ByID[*model.PlannedExpense](ctx, sess, id, workspace.Predicate(ws)); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: %q", ErrPresetExists, title)
		}
		t = &model.PlannedExpense{
			Title:           title,
			PlannedAmount:   in.PlannedAmount,
			ActualAmount:    in.ActualAmount,
			TransactionDate: in.TransactionDate,
			IsGlobal:        true,
			CategoryID:      in.CategoryID,
			CardID:          in.CardID,
		}
		t.ID = id
		t.WorkspaceID = ws
		return sess.Insert(t)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("template created", "id", t.ID, "title", t.Title)
	return t, nil
}

// Templates returns the active workspace's templates ordered by title.
func (e *Engine) Templates(ctx context.Context) ([]*model.PlannedExpense, error) {
	var out []*model.PlannedExpense
	err := e.read(ctx, func(ctx context.Context, sess *store.Session, ws uuid.UUID) error {
		var err error
		out, err = store.Fetch[*model.PlannedExpense](ctx, sess, query.All(
			workspace.Predicate(ws),
			query.Equals{Field: model.ColIsGlobal, Value: true},
			query.IsNull(model.ColBudgetID),
		))
		return err
	})
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})
	return out, err
}

// Children returns the children of a template.
func (e *Engine) Children(ctx context.Context, templateID uuid.UUID) ([]*model.PlannedExpense, error) {
	var out []*model.PlannedExpense
	err := e.read(ctx, func(ctx context.Context, sess *store.Session, ws uuid.UUID) error {
		var err error
		out, err = children(ctx, sess, ws, templateID)
		return err
	})
	return out, err
}

// EnsureChild makes sure exactly one child links the template to the budget
// and brings it in line with the template.
func (e *Engine) EnsureChild(ctx context.Context, templateID, budgetID uuid.UUID) (*model.PlannedExpense, error) {
	var child *model.PlannedExpense
	_, err := e.tx(ctx, "ensure child", func(ctx context.Context, sess *store.Session, ws uuid.UUID) error {
		t, err := template(ctx, sess, ws, templateID)
		if err != nil {
			return err
		}
		b, err := budget(ctx, sess, ws, budgetID)
		if err != nil {
			return err
		}
		child, err = e.ensureChild(ctx, sess, t, b)
		return err
	})
	return child, err
}

func (e *Engine) ensureChild(ctx context.Context, sess *store.Session, t *model.PlannedExpense, b *model.Budget) (*model.PlannedExpense, error) {
	matches, err := store.Fetch[*model.PlannedExpense](ctx, sess, childrenOf(t.WorkspaceID, t.ID, b.ID))
	if err != nil {
		return nil, err
	}

	if len(matches) > 0 {
		keep := Best(matches)
		for _, m := range matches {
			if m == keep {
				continue
			}
			if err := sess.Delete(m); err != nil {
				return nil, err
			}
		}
		if len(matches) > 1 {
			e.logger.Warn("collapsed duplicate template children",
				"template", t.ID, "budget", b.ID, "removed", len(matches)-1)
		}
		keep.Title = t.Title
		keep.PlannedAmount = t.PlannedAmount
		keep.CategoryID = t.CategoryID
		keep.CardID = t.CardID
		if keep.TransactionDate.IsZero() || outside(keep.TransactionDate, b) {
			keep.TransactionDate = AlignedTransactionDate(t, b)
		}
		return keep, nil
	}

	child := &model.PlannedExpense{
		Title:            t.Title,
		PlannedAmount:    t.PlannedAmount,
		ActualAmount:     t.ActualAmount,
		TransactionDate:  AlignedTransactionDate(t, b),
		GlobalTemplateID: t.ID,
		BudgetID:         b.ID,
		CategoryID:       t.CategoryID,
		CardID:           t.CardID,
	}
	child.ID = e.newID()
	child.WorkspaceID = t.WorkspaceID
	if child.WorkspaceID == uuid.Nil {
		child.WorkspaceID = b.WorkspaceID
	}
	if err := sess.Insert(child); err != nil {
		return nil, err
	}
	return child, nil
}

// RemoveChild deletes the template's child in a budget. It reports whether
// anything was removed.
func (e *Engine) RemoveChild(ctx context.Context, templateID, budgetID uuid.UUID) (bool, error) {
	cs, err := e.tx(ctx, "remove child", func(ctx context.Context, sess *store.Session, ws uuid.UUID) error {
		return removeChildren(ctx, sess, ws, templateID, budgetID)
	})
	return len(cs.Deleted) > 0, err
}

func removeChildren(ctx context.Context, sess *store.Session, ws, templateID, budgetID uuid.UUID) error {
	kids, err := store.Fetch[*model.PlannedExpense](ctx, sess, childrenOf(ws, templateID, budgetID))
	if err != nil {
		return err
	}
	for _, k := range kids {
		if err := sess.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// BudgetDiff lists the budgets SetTemplateBudgets attached and detached.
type BudgetDiff struct {
	Added   []uuid.UUID
	Removed []uuid.UUID
}

// SetTemplateBudgets attaches the template to exactly the given budgets.
// Only the difference is applied: children of dropped budgets are deleted,
// added budgets get EnsureChild, and the rest are left untouched.
func (e *Engine) SetTemplateBudgets(ctx context.Context, templateID uuid.UUID, budgetIDs []uuid.UUID) (BudgetDiff, error) {
	var diff BudgetDiff
	_, err := e.tx(ctx, "set template budgets", func(ctx context.Context, sess *store.Session, ws uuid.UUID) error {
		t, err := template(ctx, sess, ws, templateID)
		if err != nil {
			return err
		}
		kids, err := children(ctx, sess, ws, t.ID)
		if err != nil {
			return err
		}
		current := make(map[uuid.UUID]bool)
		for _, k := range kids {
			current[k.BudgetID] = true
		}
		wanted := make(map[uuid.UUID]bool)
		for _, id := range budgetIDs {
			if id == uuid.Nil || wanted[id] {
				continue
			}
			wanted[id] = true
			if current[id] {
				continue
			}
			b, err := budget(ctx, sess, ws, id)
			if err != nil {
				return err
			}
			if _, err := e.ensureChild(ctx, sess, t, b); err != nil {
				return err
			}
			diff.Added = append(diff.Added, id)
		}
		for _, k := range kids {
			if wanted[k.BudgetID] || sess.IsDeleted(k) {
				continue
			}
			if err := sess.Delete(k); err != nil {
				return err
			}
			diff.Removed = appendUnique(diff.Removed, k.BudgetID)
		}
		return nil
	})
	if err != nil {
		return BudgetDiff{}, err
	}
	e.logger.Info("template budgets updated", "template", templateID,
		"added", len(diff.Added), "removed", len(diff.Removed))
	return diff, nil
}

// DeleteTemplate deletes a template and all of its children.
func (e *Engine) DeleteTemplate(ctx context.Context, templateID uuid.UUID) (int, error) {
	cs, err := e.tx(ctx, "delete template", func(ctx context.Context, sess *store.Session, ws uuid.UUID) error {
		t, err := template(ctx, sess, ws, templateID)
		if err != nil {
			return err
		}
		kids, err := children(ctx, sess, ws, t.ID)
		if err != nil {
			return err
		}
		for _, k := range kids {
			if err := sess.Delete(k); err != nil {
				return err
			}
		}
		return sess.Delete(t)
	})
	return len(cs.Deleted), err
}

// DeleteBudget deletes a budget and every planned expense attached to it.
func (e *Engine) DeleteBudget(ctx context.Context, budgetID uuid.UUID) (int, error) {
	cs, err := e.tx(ctx, "delete budget", func(ctx context.Context, sess *store.Session, ws uuid.UUID) error {
		b, err := budget(ctx, sess, ws, budgetID)
		if err != nil {
			return err
		}
		rows, err := store.Fetch[*model.PlannedExpense](ctx, sess, query.All(
			workspace.Predicate(ws),
			query.Equals{Field: model.ColBudgetID, Value: b.ID},
		))
		if err != nil {
			return err
		}
		for _, r := range rows {
			if err := sess.Delete(r); err != nil {
				return err
			}
		}
		return sess.Delete(b)
	})
	return len(cs.Deleted), err
}

// Best picks the child to keep among duplicates: highest actual amount,
// then latest transaction date, then first seen.
func Best(rows []*model.PlannedExpense) *model.PlannedExpense {
	var best *model.PlannedExpense
	for _, r := range rows {
		switch {
		case best == nil:
			best = r
		case r.ActualAmount.GreaterThan(best.ActualAmount):
			best = r
		case r.ActualAmount.Equal(best.ActualAmount) && r.TransactionDate.After(best.TransactionDate):
			best = r
		}
	}
	return best
}

func childrenOf(ws, templateID, budgetID uuid.UUID) query.Predicate {
	return query.All(
		workspace.Predicate(ws),
		query.Equals{Field: model.ColIsGlobal, Value: false},
		query.Equals{Field: model.ColGlobalTemplateID, Value: templateID},
		query.Equals{Field: model.ColBudgetID, Value: budgetID},
	)
}

func children(ctx context.Context, sess *store.Session, ws, templateID uuid.UUID) ([]*model.PlannedExpense, error) {
	if templateID == uuid.Nil {
		return nil, nil
	}
	return store.Fetch[*model.PlannedExpense](ctx, sess, query.All(
		workspace.Predicate(ws),
		query.Equals{Field: model.ColIsGlobal, Value: false},
		query.Equals{Field: model.ColGlobalTemplateID, Value: templateID},
		query.NotNull(model.ColBudgetID),
	))
}

func template(ctx context.Context, sess *store.Session, ws, id uuid.UUID) (*model.PlannedExpense, error) {
	t, ok, err := store.ByID[*model.PlannedExpense](ctx, sess, id, query.All(
		workspace.Predicate(ws),
		query.Equals{Field: model.ColIsGlobal, Value: true},
	))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if !t.IsTemplate() {
		return nil, fmt.Errorf("%s: %w", id, ErrNotTemplate)
	}
	return t, nil
}

func budget(ctx context.Context, sess *store.Session, ws, id uuid.UUID) (*model.Budget, error) {
	b, ok, err := store.ByID[*model.Budget](ctx, sess, id, workspace.Predicate(ws))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("budget %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}
