// Package reconcile collapses duplicate records after two datasets meet.
//
// RunMergeReconciliation has two policies. While mirroring is on, deletions
// fan out to every device, so only the strict template-child dedup runs.
// Before mirroring (or in a disconnected pass) a signature-based collapse runs
// over every kind. Both first unify all records into the active workspace and
// commit in a single save.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/planned"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/query"
	"github.com/offshore-budgeting/syncore/internal/store"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

// Policy names the dedup policy a run used.
type Policy string

const (
	PolicyStrict Policy = "strict"
	PolicyLocal  Policy = "local"
)

// Host runs work in the main execution context.
type Host interface {
	Do(ctx context.Context, fn func(ctx context.Context, sess *store.Session) error) error
}

// Workspaces resolves the active workspace.
type Workspaces interface {
	EnsureActiveWorkspaceID(ctx context.Context) (uuid.UUID, error)
}

// ModeSource reports whether the attached store is mirrored.
type ModeSource interface {
	Mirrored() bool
}

// Options configure a Reconciler.
type Options struct {
	Host       Host
	Workspaces Workspaces
	Prefs      prefs.Store
	Mode       ModeSource
	Bus        *events.Bus
	Logger     *slog.Logger
}

// Reconciler runs merge reconciliation and identity canonicalization.
type Reconciler struct {
	host   Host
	ws     Workspaces
	prefs  prefs.Store
	mode   ModeSource
	bus    *events.Bus
	logger *slog.Logger
}

// New creates a reconciler.
func New(opts Options) *Reconciler {
	r := &Reconciler{
		host:   opts.Host,
		ws:     opts.Workspaces,
		prefs:  opts.Prefs,
		mode:   opts.Mode,
		bus:    opts.Bus,
		logger: opts.Logger,
	}
	if r.prefs == nil {
		r.prefs = prefs.NewMemory()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Report summarizes a merge reconciliation.
type Report struct {
	Policy            Policy
	Unified           int
	Removed           map[model.Kind]int
	Repointed         int
	ChildrenCollapsed int
}

// Total returns the number of rows removed.
func (r Report) Total() int {
	n := 0
	for _, c := range r.Removed {
		n += c
	}
	return n
}

// Changed reports whether the run modified anything.
func (r Report) Changed() bool {
	return r.Unified+r.Repointed+r.Total() > 0
}

// mirroring reports whether the conservative policy applies.
func (r *Reconciler) mirroring() bool {
	if r.prefs.Bool(prefs.KeyMirroringEnabled) {
		return true
	}
	return r.mode != nil && r.mode.Mirrored()
}

// RunMergeReconciliation unifies every record into the active workspace and
// removes duplicates. Nothing is committed if the save fails.
func (r *Reconciler) RunMergeReconciliation(ctx context.Context) (Report, error) {
	rep := Report{Policy: PolicyLocal, Removed: make(map[model.Kind]int)}
	if r.mirroring() {
		rep.Policy = PolicyStrict
	}

	var cs store.ChangeSet
	err := r.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		active, err := r.ws.EnsureActiveWorkspaceID(ctx)
		if err != nil {
			return err
		}
		if err := r.merge(ctx, sess, active, &rep); err != nil {
			sess.Rollback()
			return err
		}
		if !rep.Changed() {
			return nil
		}
		cs, err = sess.Save(ctx)
		if err != nil {
			sess.Rollback()
			return fmt.Errorf("merge reconciliation: %w", err)
		}
		return nil
	})
	if err != nil {
		return Report{Policy: rep.Policy, Removed: map[model.Kind]int{}}, err
	}

	r.logger.Info("merge reconciliation complete",
		"policy", rep.Policy,
		"unified", rep.Unified,
		"removed", rep.Total(),
		"repointed", rep.Repointed,
		"children_collapsed", rep.ChildrenCollapsed)
	if !cs.Empty() {
		r.bus.Publish(events.DataStoreChanged{Reason: events.ReasonMerge, Rows: cs.Len()})
	}
	return rep, nil
}

func (r *Reconciler) merge(ctx context.Context, sess *store.Session, active uuid.UUID, rep *Report) error {
	n, err := workspace.ReassignRecords(ctx, sess,
		query.NotEquals{Field: model.ColWorkspaceID, Value: active}, active)
	if err != nil {
		return fmt.Errorf("unify workspace: %w", err)
	}
	rep.Unified = n

	if rep.Policy == PolicyLocal {
		for _, k := range model.ScopedKinds {
			removed, repointed, err := collapseBySignature(ctx, sess, k)
			if err != nil {
				return fmt.Errorf("collapse %s: %w", k, err)
			}
			rep.Removed[k] += removed
			rep.Repointed += repointed
		}
	}

	collapsed, err := collapseTemplateChildren(ctx, sess)
	if err != nil {
		return fmt.Errorf("collapse template children: %w", err)
	}
	rep.ChildrenCollapsed = collapsed
	rep.Removed[model.KindPlannedExpense] += collapsed
	return nil
}

// collapseTemplateChildren keeps one child per (workspace, budget, template).
func collapseTemplateChildren(ctx context.Context, sess *store.Session) (int, error) {
	rows, err := store.Fetch[*model.PlannedExpense](ctx, sess, query.All(
		query.Equals{Field: model.ColIsGlobal, Value: false},
		query.NotNull(model.ColGlobalTemplateID),
		query.NotNull(model.ColBudgetID),
	))
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]*model.PlannedExpense)
	var keys []string
	for _, p := range rows {
		key := p.WorkspaceID.String() + "|" + p.BudgetID.String() + "|" + p.GlobalTemplateID.String()
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], p)
	}
	sort.Strings(keys)

	removed := 0
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		keep := planned.Best(group)
		for _, p := range group {
			if p == keep {
				continue
			}
			if err := sess.Delete(p); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
