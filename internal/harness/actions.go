package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/catalog"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/planned"
	"github.com/offshore-budgeting/syncore/internal/store"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

// operation runs one scenario step. It returns the id a step's "as" binds
// (uuid.Nil when the operation produces none) and a result map whose values
// never contain raw ids.
type operation func(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error)

var operations map[string]operation

func init() {
	operations = map[string]operation{
		"workspace.create":         workspaceCreate,
		"workspace.use":            workspaceUse,
		"workspace.rename":         workspaceRename,
		"workspace.delete":         workspaceDelete,
		"workspace.cleanup":        workspaceCleanup,
		"workspace.assign_missing": workspaceAssignMissing,
		"category.ensure":          categoryEnsure,
		"card.ensure":              cardEnsure,
		"budget.create":            budgetCreate,
		"budget.delete":            budgetDelete,
		"template.create":          templateCreate,
		"template.attach":          templateAttach,
		"template.detach":          templateDetach,
		"template.budgets":         templateBudgets,
		"template.edit":            templateEdit,
		"template.delete":          templateDelete,
		"record.insert":            recordInsert,
		"merge":                    merge,
		"canonicalize":             canonicalize,
		"mode.set":                 modeSet,
		"mode.apply":               modeApply,
		"remote.available":         remoteAvailable,
	}
}

// Outcome names.
const (
	OutcomeOK            = "ok"
	OutcomePresetExists  = "preset_exists"
	OutcomeNotFound      = "not_found"
	OutcomeLastWorkspace = "last_workspace"
	OutcomeNameTaken     = "name_taken"
	OutcomeInvalid       = "invalid"
	OutcomeError         = "error"
)

// outcomeOf names an operation error.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, planned.ErrPresetExists):
		return OutcomePresetExists
	case errors.Is(err, planned.ErrNotFound), errors.Is(err, workspace.ErrNotFound),
		errors.Is(err, planned.ErrNotTemplate):
		return OutcomeNotFound
	case errors.Is(err, workspace.ErrLastWorkspace):
		return OutcomeLastWorkspace
	case errors.Is(err, workspace.ErrNameTaken):
		return OutcomeNameTaken
	case errors.Is(err, planned.ErrEmptyTitle), errors.Is(err, workspace.ErrEmptyName),
		errors.Is(err, catalog.ErrEmptyName), errors.Is(err, catalog.ErrInvalidSpan):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

func workspaceCreate(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	name, err := a.str("name")
	if err != nil {
		return uuid.Nil, nil, err
	}
	color, err := a.str("color")
	if err != nil {
		return uuid.Nil, nil, err
	}
	ws, err := r.app.Workspaces.Create(ctx, name, color)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return ws.ID, map[string]any{"name": ws.Name}, nil
}

func workspaceUse(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	id, err := a.requiredID("workspace")
	if err != nil {
		return uuid.Nil, nil, err
	}
	return id, nil, r.app.Workspaces.SetActive(ctx, id)
}

func workspaceRename(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	id, err := a.requiredID("workspace")
	if err != nil {
		return uuid.Nil, nil, err
	}
	name, err := a.str("name")
	if err != nil {
		return uuid.Nil, nil, err
	}
	return id, nil, r.app.Workspaces.Rename(ctx, id, name)
}

func workspaceDelete(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	id, err := a.requiredID("workspace")
	if err != nil {
		return uuid.Nil, nil, err
	}
	rows, err := r.app.Workspaces.Delete(ctx, id)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.Nil, map[string]any{"rows": rows}, nil
}

func workspaceCleanup(ctx context.Context, r *runner, _ args) (uuid.UUID, map[string]any, error) {
	rep, err := r.app.Workspaces.CleanupDuplicateWorkspaces(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.Nil, map[string]any{
		"dropped_unidentified": rep.DroppedUnidentified,
		"merged":               rep.Merged,
		"collisions_removed":   rep.CollisionsRemoved,
		"records_moved":        rep.RecordsMoved,
		"active_failed_over":   rep.ActiveFailedOver,
	}, nil
}

func workspaceAssignMissing(ctx context.Context, r *runner, _ args) (uuid.UUID, map[string]any, error) {
	n, err := r.app.Workspaces.AssignMissingWorkspaceIDs(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.Nil, map[string]any{"assigned": n}, nil
}

func categoryEnsure(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	name, err := a.str("name")
	if err != nil {
		return uuid.Nil, nil, err
	}
	color, err := a.str("color")
	if err != nil {
		return uuid.Nil, nil, err
	}
	c, created, err := r.app.Catalog.EnsureCategory(ctx, name, color)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return c.ID, map[string]any{"created": created}, nil
}

func cardEnsure(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	name, err := a.str("name")
	if err != nil {
		return uuid.Nil, nil, err
	}
	c, created, err := r.app.Catalog.EnsureCard(ctx, name)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return c.ID, map[string]any{"created": created}, nil
}

func budgetCreate(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	var in catalog.BudgetInput
	var err error
	if in.Name, err = a.str("name"); err != nil {
		return uuid.Nil, nil, err
	}
	if in.Start, err = a.time("start"); err != nil {
		return uuid.Nil, nil, err
	}
	if in.End, err = a.time("end"); err != nil {
		return uuid.Nil, nil, err
	}
	if in.IsRecurring, err = a.bool("recurring"); err != nil {
		return uuid.Nil, nil, err
	}
	b, created, err := r.app.Catalog.EnsureBudget(ctx, in)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return b.ID, map[string]any{"created": created, "name": b.Name}, nil
}

func budgetDelete(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	id, err := a.requiredID("budget")
	if err != nil {
		return uuid.Nil, nil, err
	}
	rows, err := r.app.Planned.DeleteBudget(ctx, id)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.Nil, map[string]any{"rows": rows}, nil
}

func templateCreate(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	var in planned.TemplateInput
	var err error
	if in.Title, err = a.str("title"); err != nil {
		return uuid.Nil, nil, err
	}
	if in.PlannedAmount, err = a.decimal("planned"); err != nil {
		return uuid.Nil, nil, err
	}
	if in.ActualAmount, err = a.decimal("actual"); err != nil {
		return uuid.Nil, nil, err
	}
	if in.TransactionDate, err = a.time("date"); err != nil {
		return uuid.Nil, nil, err
	}
	if in.CategoryID, err = a.id("category"); err != nil {
		return uuid.Nil, nil, err
	}
	if in.CardID, err = a.id("card"); err != nil {
		return uuid.Nil, nil, err
	}
	t, err := r.app.Planned.CreateTemplate(ctx, in)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return t.ID, nil, nil
}

func templateAndBudget(a args) (uuid.UUID, uuid.UUID, error) {
	t, err := a.requiredID("template")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	b, err := a.requiredID("budget")
	return t, b, err
}

func templateAttach(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	t, b, err := templateAndBudget(a)
	if err != nil {
		return uuid.Nil, nil, err
	}
	child, err := r.app.Planned.EnsureChild(ctx, t, b)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return child.ID, map[string]any{
		"date":    r.b.display(&child.TransactionDate),
		"planned": child.PlannedAmount.String(),
	}, nil
}

func templateDetach(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	t, b, err := templateAndBudget(a)
	if err != nil {
		return uuid.Nil, nil, err
	}
	removed, err := r.app.Planned.RemoveChild(ctx, t, b)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.Nil, map[string]any{"removed": removed}, nil
}

func templateBudgets(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	t, err := a.requiredID("template")
	if err != nil {
		return uuid.Nil, nil, err
	}
	budgets, err := a.ids("budgets")
	if err != nil {
		return uuid.Nil, nil, err
	}
	diff, err := r.app.Planned.SetTemplateBudgets(ctx, t, budgets)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.Nil, map[string]any{"added": len(diff.Added), "removed": len(diff.Removed)}, nil
}

func templateEdit(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	id, err := a.requiredID("expense")
	if err != nil {
		return uuid.Nil, nil, err
	}
	ref, err := a.time("ref")
	if err != nil {
		return uuid.Nil, nil, err
	}
	name, err := a.str("scope")
	if err != nil {
		return uuid.Nil, nil, err
	}
	if name == "" {
		name = "only_this"
	}
	scope, err := planned.ParseScope(name, ref)
	if err != nil {
		return uuid.Nil, nil, err
	}
	changes, err := editChanges(a)
	if err != nil {
		return uuid.Nil, nil, err
	}
	res, err := r.app.Planned.UpdateTemplateHierarchy(ctx, id, scope, changes)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.Nil, map[string]any{
		"children":         res.Children,
		"template_updated": res.TemplateUpdated,
	}, nil
}

// editChanges collects only the fields a step names.
func editChanges(a args) (planned.Changes, error) {
	var c planned.Changes
	if a.has("title") {
		s, err := a.str("title")
		if err != nil {
			return c, err
		}
		c.Title = &s
	}
	if a.has("planned") {
		d, err := a.decimal("planned")
		if err != nil {
			return c, err
		}
		c.PlannedAmount = &d
	}
	if a.has("actual") {
		d, err := a.decimal("actual")
		if err != nil {
			return c, err
		}
		c.ActualAmount = &d
	}
	if a.has("date") {
		t, err := a.time("date")
		if err != nil {
			return c, err
		}
		c.TransactionDate = &t
	}
	if a.has("category") {
		id, err := a.id("category")
		if err != nil {
			return c, err
		}
		c.CategoryID = &id
	}
	if a.has("card") {
		id, err := a.id("card")
		if err != nil {
			return c, err
		}
		c.CardID = &id
	}
	return c, nil
}

func templateDelete(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	id, err := a.requiredID("template")
	if err != nil {
		return uuid.Nil, nil, err
	}
	rows, err := r.app.Planned.DeleteTemplate(ctx, id)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.Nil, map[string]any{"rows": rows}, nil
}

// recordInsert writes a raw record, bypassing every service. It is how
// scenarios stage duplicates, orphans and legacy ids. A missing id gets a
// fresh one, a missing workspace_id gets the active workspace, and null
// leaves either unset.
func recordInsert(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	kind, err := a.str("kind")
	if err != nil {
		return uuid.Nil, nil, err
	}
	rec, err := model.New(model.Kind(kind))
	if err != nil {
		return uuid.Nil, nil, err
	}
	fields, err := a.fields("fields")
	if err != nil {
		return uuid.Nil, nil, err
	}

	if _, ok := fields[model.ColID]; !ok {
		rec.Key().ID = r.ids.Next()
	}
	if scoped, ok := rec.(model.Scoped); ok {
		if _, set := fields[model.ColWorkspaceID]; !set {
			active, err := r.app.Workspaces.EnsureActiveWorkspaceID(ctx)
			if err != nil {
				return uuid.Nil, nil, err
			}
			*scoped.Workspace() = active
		}
	}
	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		ptr := model.FieldPtr(rec, col)
		if ptr == nil {
			return uuid.Nil, nil, fmt.Errorf("%s has no column %q", kind, col)
		}
		if err := r.b.setField(ptr, fields[col]); err != nil {
			return uuid.Nil, nil, fmt.Errorf("%s: %w", col, err)
		}
	}

	err = r.app.Ctrl.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		if err := sess.Insert(rec); err != nil {
			return err
		}
		if _, err := sess.Save(ctx); err != nil {
			sess.Rollback()
			return err
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, nil, err
	}
	return rec.Key().ID, nil, nil
}

func merge(ctx context.Context, r *runner, _ args) (uuid.UUID, map[string]any, error) {
	rep, err := r.app.Reconciler.RunMergeReconciliation(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}
	removed := make(map[string]any, len(rep.Removed))
	for k, n := range rep.Removed {
		if n > 0 {
			removed[string(k)] = n
		}
	}
	return uuid.Nil, map[string]any{
		"policy":             string(rep.Policy),
		"unified":            rep.Unified,
		"removed":            removed,
		"repointed":          rep.Repointed,
		"children_collapsed": rep.ChildrenCollapsed,
	}, nil
}

func canonicalize(ctx context.Context, r *runner, _ args) (uuid.UUID, map[string]any, error) {
	rep, err := r.app.Reconciler.CanonicalizeIdentities(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.Nil, map[string]any{
		"skipped":   rep.Skipped,
		"rekeyed":   rep.Rekeyed,
		"collapsed": rep.Collapsed,
		"repointed": rep.Repointed,
	}, nil
}

func modeSet(ctx context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	enable, err := a.bool("enabled")
	if err != nil {
		return uuid.Nil, nil, err
	}
	res, err := r.app.SetMirroring(ctx, enable)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.Nil, map[string]any{"outcome": string(res.Outcome), "mode": r.app.Ctrl.Mode().String()}, nil
}

func modeApply(ctx context.Context, r *runner, _ args) (uuid.UUID, map[string]any, error) {
	res, err := r.app.ApplyModePreference(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.Nil, map[string]any{"outcome": string(res.Outcome), "mode": r.app.Ctrl.Mode().String()}, nil
}

func remoteAvailable(_ context.Context, r *runner, a args) (uuid.UUID, map[string]any, error) {
	up, err := a.bool("available")
	if err != nil {
		return uuid.Nil, nil, err
	}
	r.remote.Store(up)
	return uuid.Nil, nil, nil
}
