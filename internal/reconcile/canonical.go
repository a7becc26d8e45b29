package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/ident"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/query"
	"github.com/offshore-budgeting/syncore/internal/store"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

// CanonicalReport summarizes an identity canonicalization.
type CanonicalReport struct {
	Skipped    bool
	Workspaces int
	Rekeyed    int
	Collapsed  int
	Repointed  int
}

// CanonicalizeIdentities rewrites category, card, budget and preset template
// ids to their deterministic values, collapsing records that share one and
// moving references along. It runs once: a preference flag records
// completion, and later calls report Skipped.
func (r *Reconciler) CanonicalizeIdentities(ctx context.Context) (CanonicalReport, error) {
	var rep CanonicalReport
	if r.prefs.Bool(prefs.KeyIdentityMigrated) {
		rep.Skipped = true
		return rep, nil
	}

	var cs store.ChangeSet
	err := r.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		wsIDs, err := r.workspaceIDs(ctx, sess)
		if err != nil {
			return err
		}
		rep.Workspaces = len(wsIDs)
		for _, ws := range wsIDs {
			if err := canonicalizeWorkspace(ctx, sess, ws, &rep); err != nil {
				sess.Rollback()
				return fmt.Errorf("canonicalize workspace %s: %w", ws, err)
			}
		}
		cs, err = sess.Save(ctx)
		if err != nil {
			sess.Rollback()
			return fmt.Errorf("canonicalize identities: %w", err)
		}
		return nil
	})
	if err != nil {
		return CanonicalReport{}, err
	}
	if err := r.prefs.SetBool(prefs.KeyIdentityMigrated, true); err != nil {
		return rep, err
	}

	r.logger.Info("deterministic identity migration complete",
		"workspaces", rep.Workspaces,
		"rekeyed", rep.Rekeyed,
		"collapsed", rep.Collapsed,
		"repointed", rep.Repointed)
	if !cs.Empty() {
		r.bus.Publish(events.DataStoreChanged{Reason: events.ReasonMigration, Rows: cs.Len()})
	}
	return rep, nil
}

func (r *Reconciler) workspaceIDs(ctx context.Context, sess *store.Session) ([]uuid.UUID, error) {
	rows, err := store.Fetch[*model.Workspace](ctx, sess, query.NotNull(model.ColID))
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, ws := range rows {
		if !seen[ws.ID] {
			seen[ws.ID] = true
			ids = append(ids, ws.ID)
		}
	}
	if len(ids) == 0 {
		active, err := r.ws.EnsureActiveWorkspaceID(ctx)
		if err != nil {
			return nil, err
		}
		ids = append(ids, active)
	}
	return ids, nil
}

func canonicalizeWorkspace(ctx context.Context, sess *store.Session, ws uuid.UUID, rep *CanonicalReport) error {
	scope := workspace.Predicate(ws)

	categories, err := store.Fetch[*model.Category](ctx, sess, scope)
	if err != nil {
		return err
	}
	if err := canonicalize(ctx, sess, ws, model.KindCategory, categories, func(c *model.Category) (uuid.UUID, bool) {
		return ident.CategoryID(ws, c.Name), true
	}, rep); err != nil {
		return err
	}

	cards, err := store.Fetch[*model.Card](ctx, sess, scope)
	if err != nil {
		return err
	}
	if err := canonicalize(ctx, sess, ws, model.KindCard, cards, func(c *model.Card) (uuid.UUID, bool) {
		return ident.CardID(ws, c.Name), true
	}, rep); err != nil {
		return err
	}

	budgets, err := store.Fetch[*model.Budget](ctx, sess, scope)
	if err != nil {
		return err
	}
	if err := canonicalize(ctx, sess, ws, model.KindBudget, budgets, func(b *model.Budget) (uuid.UUID, bool) {
		if b.StartDate.IsZero() || b.EndDate.IsZero() {
			return uuid.Nil, false
		}
		return ident.BudgetID(ws, b.StartDate, b.EndDate), true
	}, rep); err != nil {
		return err
	}

	templates, err := store.Fetch[*model.PlannedExpense](ctx, sess, query.All(scope,
		query.Equals{Field: model.ColIsGlobal, Value: true}))
	if err != nil {
		return err
	}
	return canonicalize(ctx, sess, ws, model.KindPlannedExpense, templates, func(t *model.PlannedExpense) (uuid.UUID, bool) {
		return ident.PresetTemplateID(ws, strings.TrimSpace(t.Title), t.PlannedAmount, t.CategoryID, t.CardID), true
	}, rep)
}

// canonicalize groups rows by desired id, gives the keeper of each group the
// desired id, deletes the others and repoints references inside ws.
func canonicalize[T model.Record](
	ctx context.Context,
	sess *store.Session,
	ws uuid.UUID,
	kind model.Kind,
	rows []T,
	desired func(T) (uuid.UUID, bool),
	rep *CanonicalReport,
) error {
	groups := make(map[uuid.UUID][]T)
	var order []uuid.UUID
	for _, row := range rows {
		id, ok := desired(row)
		if !ok {
			continue
		}
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], row)
	}

	remap := make(map[uuid.UUID]uuid.UUID)
	var olds []uuid.UUID
	note := func(old, to uuid.UUID) {
		if old == uuid.Nil || old == to {
			return
		}
		if _, dup := remap[old]; !dup {
			olds = append(olds, old)
		}
		remap[old] = to
	}

	for _, want := range order {
		group := groups[want]
		keep := preferred(group, want)
		if old := keep.Key().ID; old != want {
			note(old, want)
			keep.Key().ID = want
			rep.Rekeyed++
		}
		for _, row := range group {
			if any(row) == any(keep) {
				continue
			}
			note(row.Key().ID, want)
			if err := sess.Delete(row); err != nil {
				return err
			}
			rep.Collapsed++
		}
	}
	if len(remap) == 0 {
		return nil
	}

	values := make([]any, len(olds))
	for i, id := range olds {
		values[i] = id
	}
	for _, k := range model.ScopedKinds {
		for _, ref := range model.References(k) {
			if ref.Target != kind {
				continue
			}
			recs, err := sess.Fetch(ctx, k, query.All(
				workspace.Predicate(ws),
				query.In{Field: ref.Column, Values: values},
			))
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if ptr := model.UUIDField(rec, ref.Column); ptr != nil {
					if to, ok := remap[*ptr]; ok {
						*ptr = to
						rep.Repointed++
					}
				}
			}
		}
	}
	return nil
}

// preferred returns the row already carrying want, else the row with the
// smallest id so repeated runs agree.
func preferred[T model.Record](rows []T, want uuid.UUID) T {
	for _, row := range rows {
		if row.Key().ID == want {
			return row
		}
	}
	sorted := append([]T(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToUpper(sorted[i].Key().ID.String()) < strings.ToUpper(sorted[j].Key().ID.String())
	})
	return sorted[0]
}
