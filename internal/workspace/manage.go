package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/ident"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/query"
	"github.com/offshore-budgeting/syncore/internal/store"
)

// List returns every workspace with an id, in creation order.
func (r *Registry) List(ctx context.Context) ([]*model.Workspace, error) {
	var out []*model.Workspace
	err := r.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		var err error
		out, err = store.Fetch[*model.Workspace](ctx, sess, query.NotNull(model.ColID))
		return err
	})
	return out, err
}

// Create adds a workspace. A name matching a seed gets the seed's id.
func (r *Registry) Create(ctx context.Context, name, colorTag string) (*model.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	var ws *model.Workspace
	err := r.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		if err := r.checkNameFree(ctx, sess, name, uuid.Nil); err != nil {
			return err
		}
		ws = &model.Workspace{Name: name, ColorTag: colorTag, BudgetPeriod: r.devicePeriod()}
		if seed, ok := seedByName(name); ok {
			ws.ID = ident.SeedWorkspaceID(seed.Name)
		} else {
			ws.ID = r.newID()
		}
		if err := sess.Insert(ws); err != nil {
			return err
		}
		if _, err := sess.Save(ctx); err != nil {
			sess.Rollback()
			return fmt.Errorf("create workspace: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("workspace created", "id", ws.ID, "name", ws.Name)
	r.bus.Publish(events.DataStoreChanged{Reason: events.ReasonWorkspace, Rows: 1})
	return ws, nil
}

// Rename changes a workspace's display name.
func (r *Registry) Rename(ctx context.Context, id uuid.UUID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	err := r.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		ws, ok, err := store.ByID[*model.Workspace](ctx, sess, id, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := r.checkNameFree(ctx, sess, name, id); err != nil {
			return err
		}
		ws.Name = name
		if _, err := sess.Save(ctx); err != nil {
			sess.Rollback()
			return fmt.Errorf("rename workspace: %w", err)
		}
		return nil
	})
	if err == nil {
		r.bus.Publish(events.DataStoreChanged{Reason: events.ReasonWorkspace, Rows: 1})
	}
	return err
}

// checkNameFree refuses names already in use and names that cleanup would
// fold into a seed: "Default" always, and a seed's name on any other id.
// self is uuid.Nil for a workspace that is about to be created with the
// seed's id.
func (r *Registry) checkNameFree(ctx context.Context, sess *store.Session, name string, self uuid.UUID) error {
	if ident.SameName(name, DefaultName) {
		return fmt.Errorf("%w: %q is reserved", ErrNameTaken, name)
	}
	if seed, ok := seedByName(name); ok && self != uuid.Nil && self != ident.SeedWorkspaceID(seed.Name) {
		return fmt.Errorf("%w: %q is reserved", ErrNameTaken, name)
	}
	all, err := store.Fetch[*model.Workspace](ctx, sess, nil)
	if err != nil {
		return err
	}
	for _, ws := range all {
		if ws.ID != self && ident.SameName(ws.Name, name) {
			return fmt.Errorf("%w: %q", ErrNameTaken, name)
		}
	}
	return nil
}

// Delete removes a workspace together with every record scoped to it. The
// Personal seed cannot be deleted while it is the only workspace. If the
// active workspace is deleted the selection moves to Personal, or to the
// first remaining workspace.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) (int, error) {
	removed := 0
	err := r.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		all, err := store.Fetch[*model.Workspace](ctx, sess, query.NotNull(model.ColID))
		if err != nil {
			return err
		}
		var doomed, rest []*model.Workspace
		for _, ws := range all {
			if ws.ID == id {
				doomed = append(doomed, ws)
			} else {
				rest = append(rest, ws)
			}
		}
		if len(doomed) == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if id == PersonalID && len(rest) == 0 {
			return ErrLastWorkspace
		}

		for _, k := range model.ScopedKinds {
			recs, err := sess.Fetch(ctx, k, Predicate(id))
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if err := sess.Delete(rec); err != nil {
					return err
				}
			}
		}
		for _, ws := range doomed {
			if err := sess.Delete(ws); err != nil {
				return err
			}
		}
		cs, err := sess.Save(ctx)
		if err != nil {
			sess.Rollback()
			return fmt.Errorf("delete workspace: %w", err)
		}
		removed = cs.Len()

		if r.prefs.String(prefs.KeyActiveWorkspaceID) != id.String() {
			return nil
		}
		next := uuid.Nil
		for _, ws := range rest {
			if ws.ID == PersonalID {
				next = PersonalID
				break
			}
		}
		if next == uuid.Nil && len(rest) > 0 {
			next = rest[0].ID
		}
		if next == uuid.Nil {
			r.setCached(uuid.Nil)
			return r.prefs.SetString(prefs.KeyActiveWorkspaceID, "")
		}
		return r.persistActive(next)
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("workspace deleted", "id", id, "rows", removed)
	r.bus.Publish(events.DataStoreChanged{Reason: events.ReasonWorkspace, Rows: removed})
	return removed, nil
}

// BudgetPeriod returns the active workspace's budget period.
func (r *Registry) BudgetPeriod(ctx context.Context) (model.Period, error) {
	ws, err := r.Active(ctx)
	if err != nil {
		return "", err
	}
	if ws.BudgetPeriod == "" {
		return r.devicePeriod(), nil
	}
	return ws.BudgetPeriod, nil
}

// SetBudgetPeriod records p on the active workspace.
func (r *Registry) SetBudgetPeriod(ctx context.Context, p model.Period) error {
	if _, err := model.ParsePeriod(string(p)); err != nil {
		return err
	}
	return r.updateActive(ctx, func(ws *model.Workspace) bool {
		ws.BudgetPeriod = p
		ws.BudgetPeriodUpdatedAt = r.now().UTC()
		return true
	})
}

// SeedBudgetPeriodIfNeeded copies the device-local period onto the active
// workspace once, when it has none.
func (r *Registry) SeedBudgetPeriodIfNeeded(ctx context.Context) error {
	return r.updateActive(ctx, func(ws *model.Workspace) bool {
		if ws.BudgetPeriod != "" {
			return false
		}
		ws.BudgetPeriod = r.devicePeriod()
		ws.BudgetPeriodUpdatedAt = r.now().UTC()
		return true
	})
}

func (r *Registry) updateActive(ctx context.Context, mutate func(*model.Workspace) bool) error {
	return r.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		id, err := r.ensureActive(ctx, sess)
		if err != nil {
			return err
		}
		ws, ok, err := store.ByID[*model.Workspace](ctx, sess, id, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if !mutate(ws) {
			return nil
		}
		if _, err := sess.Save(ctx); err != nil {
			sess.Rollback()
			return fmt.Errorf("update workspace: %w", err)
		}
		return nil
	})
}
