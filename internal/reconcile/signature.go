package reconcile

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/ident"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/query"
	"github.com/offshore-budgeting/syncore/internal/store"
)

// Signature returns the natural-key signature of a record used by the local
// dedup policy. ok is false for records that must never be collapsed, such
// as unnamed categories.
func Signature(rec model.Record) (sig string, ok bool) {
	switch r := rec.(type) {
	case *model.Category:
		return named(r.WorkspaceID, r.Name)
	case *model.Card:
		return named(r.WorkspaceID, r.Name)
	case *model.Budget:
		return join(r.WorkspaceID.String(), fold(r.Name),
			ident.DayKey(r.StartDate), ident.DayKey(r.EndDate)), true
	case *model.Income:
		return join(r.WorkspaceID.String(), ident.DayKey(r.Date), fold(r.Source),
			strconv.FormatBool(r.IsPlanned), ident.MoneyKey(r.Amount)), true
	case *model.PlannedExpense:
		return join(r.WorkspaceID.String(), strconv.FormatBool(r.IsGlobal),
			r.BudgetID.String(), r.GlobalTemplateID.String(),
			ident.DayKey(r.TransactionDate), ident.MoneyKey(r.PlannedAmount),
			fold(r.Title), r.CardID.String(), r.CategoryID.String()), true
	case *model.UnplannedExpense:
		return join(r.WorkspaceID.String(), ident.DayKey(r.TransactionDate),
			ident.MoneyKey(r.Amount), fold(r.Title),
			r.CardID.String(), r.CategoryID.String()), true
	default:
		return "", false
	}
}

func named(ws uuid.UUID, name string) (string, bool) {
	n := fold(name)
	if n == "" {
		return "", false
	}
	return join(ws.String(), n), true
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func join(parts ...string) string {
	return strings.Join(parts, "|")
}

// collapseBySignature keeps the first row (in row order) of every signature
// group and deletes the rest. References to a deleted row's id are moved to
// the survivor's id unless another surviving row still carries it.
func collapseBySignature(ctx context.Context, sess *store.Session, kind model.Kind) (removed, repointed int, err error) {
	recs, err := sess.Fetch(ctx, kind, nil)
	if err != nil {
		return 0, 0, err
	}

	keepers := make(map[string]model.Record)
	remap := make(map[uuid.UUID]uuid.UUID)
	var order []uuid.UUID
	for _, rec := range recs {
		sig, ok := Signature(rec)
		if !ok {
			continue
		}
		keep, seen := keepers[sig]
		if !seen {
			keepers[sig] = rec
			continue
		}
		if err := sess.Delete(rec); err != nil {
			return removed, 0, err
		}
		removed++
		old, to := rec.Key().ID, keep.Key().ID
		if old != uuid.Nil && old != to {
			if _, dup := remap[old]; !dup {
				order = append(order, old)
			}
			remap[old] = to
		}
	}
	if len(remap) == 0 {
		return removed, 0, nil
	}

	live, err := sess.Fetch(ctx, kind, nil)
	if err != nil {
		return removed, 0, err
	}
	for _, rec := range live {
		delete(remap, rec.Key().ID)
	}
	n, err := repoint(ctx, sess, kind, remap, order)
	return removed, n, err
}

// repoint rewrites every reference to a key of remap.
func repoint(ctx context.Context, sess *store.Session, target model.Kind, remap map[uuid.UUID]uuid.UUID, order []uuid.UUID) (int, error) {
	values := make([]any, 0, len(remap))
	for _, id := range order {
		if _, ok := remap[id]; ok {
			values = append(values, id)
		}
	}
	if len(values) == 0 {
		return 0, nil
	}

	n := 0
	for _, k := range model.ScopedKinds {
		for _, ref := range model.References(k) {
			if ref.Target != target {
				continue
			}
			recs, err := sess.Fetch(ctx, k, query.In{Field: ref.Column, Values: values})
			if err != nil {
				return n, err
			}
			for _, rec := range recs {
				ptr := model.UUIDField(rec, ref.Column)
				if ptr == nil {
					continue
				}
				if to, ok := remap[*ptr]; ok {
					*ptr = to
					n++
				}
			}
		}
	}
	return n, nil
}
