package workspace

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/ident"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/store"
)

// CleanupReport counts what CleanupDuplicateWorkspaces changed.
type CleanupReport struct {
	DroppedUnidentified int
	Merged              int
	CollisionsRemoved   int
	RecordsMoved        int
	ActiveFailedOver    bool
}

// Changed reports whether anything was modified.
func (c CleanupReport) Changed() bool {
	return c.DroppedUnidentified+c.Merged+c.CollisionsRemoved+c.RecordsMoved > 0 || c.ActiveFailedOver
}

// CleanupDuplicateWorkspaces heals duplicated workspace rows. Safe on every
// launch: with no duplicates it neither saves nor publishes.
//
// Rows without an id are dropped. Rows named "Default", and rows named after
// a seed but carrying a different id, are merged into the canonical seed:
// their records move over and the row is deleted. If the canonical row does
// not exist yet the duplicate is converted into it instead. Remaining rows
// sharing one id are collapsed to a single survivor. If the active workspace
// disappeared, the selection fails over to Personal.
func (r *Registry) CleanupDuplicateWorkspaces(ctx context.Context) (CleanupReport, error) {
	var rep CleanupReport
	err := r.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		var err error
		rep, err = r.cleanup(ctx, sess)
		return err
	})
	return rep, err
}

func (r *Registry) cleanup(ctx context.Context, sess *store.Session) (CleanupReport, error) {
	var rep CleanupReport

	all, err := store.Fetch[*model.Workspace](ctx, sess, nil)
	if err != nil {
		return rep, fmt.Errorf("cleanup workspaces: %w", err)
	}

	// (a) unreferenceable rows.
	removed := make(map[uuid.UUID]bool)
	var live []*model.Workspace
	for _, ws := range all {
		if ws.ID == uuid.Nil {
			if err := sess.Delete(ws); err != nil {
				return rep, err
			}
			rep.DroppedUnidentified++
			continue
		}
		live = append(live, ws)
	}

	// (b) "Default" into Personal, (c) seed-named rows into their seed.
	for i, ws := range live {
		target, seed, ok := canonicalFor(ws)
		if !ok {
			continue
		}
		canonical := findByID(live, target, ws)
		if canonical == nil {
			r.logger.Info("converting workspace into seed", "name", ws.Name, "id", ws.ID, "seed", seed.Name)
			if !sharedID(live, ws) {
				n, err := ReassignRecords(ctx, sess, Predicate(ws.ID), target)
				if err != nil {
					return rep, err
				}
				rep.RecordsMoved += n
			}
			removed[ws.ID] = true
			ws.ID, ws.Name = target, seed.Name
			rep.Merged++
			continue
		}
		if !sharedID(live, ws) {
			n, err := ReassignRecords(ctx, sess, Predicate(ws.ID), target)
			if err != nil {
				return rep, err
			}
			rep.RecordsMoved += n
		}
		r.logger.Info("merging duplicate workspace", "name", ws.Name, "id", ws.ID, "into", target)
		removed[ws.ID] = true
		if err := sess.Delete(ws); err != nil {
			return rep, err
		}
		live[i] = nil
		rep.Merged++
	}
	live = compact(live)

	// (d) identical-id collisions.
	groups := make(map[uuid.UUID][]*model.Workspace)
	var order []uuid.UUID
	for _, ws := range live {
		if _, seen := groups[ws.ID]; !seen {
			order = append(order, ws.ID)
		}
		groups[ws.ID] = append(groups[ws.ID], ws)
	}
	survivors := make(map[uuid.UUID]bool, len(order))
	for _, id := range order {
		rows := groups[id]
		survivors[id] = true
		if len(rows) < 2 {
			continue
		}
		keep := pickSurvivor(rows)
		for _, ws := range rows {
			if ws == keep {
				continue
			}
			if err := sess.Delete(ws); err != nil {
				return rep, err
			}
			rep.CollisionsRemoved++
		}
		r.logger.Warn("collapsed workspace id collision", "id", id, "rows", len(rows), "kept", keep.Name)
	}

	// (e) active selection failover.
	if active, err := uuid.Parse(r.prefs.String(prefs.KeyActiveWorkspaceID)); err == nil && active != uuid.Nil && removed[active] && !survivors[active] {
		rep.ActiveFailedOver = true
	}

	if !rep.Changed() {
		return rep, nil
	}

	cs, err := sess.Save(ctx)
	if err != nil {
		sess.Rollback()
		return CleanupReport{}, fmt.Errorf("cleanup workspaces: %w", err)
	}
	if rep.ActiveFailedOver {
		r.logger.Info("active workspace was removed; failing over", "to", PersonalID)
		if err := r.persistActive(PersonalID); err != nil {
			return rep, err
		}
	}
	r.logger.Info("workspace cleanup complete",
		"dropped", rep.DroppedUnidentified,
		"merged", rep.Merged,
		"collisions", rep.CollisionsRemoved,
		"records_moved", rep.RecordsMoved)
	r.bus.Publish(events.DataStoreChanged{Reason: events.ReasonWorkspace, Rows: cs.Len()})
	return rep, nil
}

// canonicalFor returns the seed a duplicate row should merge into.
func canonicalFor(ws *model.Workspace) (uuid.UUID, Seed, bool) {
	if ident.SameName(ws.Name, DefaultName) {
		if ws.ID == PersonalID {
			return uuid.Nil, Seed{}, false
		}
		return PersonalID, Seeds[0], true
	}
	seed, ok := seedByName(ws.Name)
	if !ok {
		return uuid.Nil, Seed{}, false
	}
	target := ident.SeedWorkspaceID(seed.Name)
	if target == ws.ID {
		return uuid.Nil, Seed{}, false
	}
	return target, seed, true
}

// pickSurvivor keeps the row named for its seed, else the first row not
// named "Default", else the first row.
func pickSurvivor(rows []*model.Workspace) *model.Workspace {
	if seed, ok := seedByID(rows[0].ID); ok {
		for _, ws := range rows {
			if ident.SameName(ws.Name, seed.Name) {
				return ws
			}
		}
	}
	for _, ws := range rows {
		if !ident.SameName(ws.Name, DefaultName) {
			return ws
		}
	}
	return rows[0]
}

func findByID(rows []*model.Workspace, id uuid.UUID, except *model.Workspace) *model.Workspace {
	for _, ws := range rows {
		if ws != nil && ws != except && ws.ID == id {
			return ws
		}
	}
	return nil
}

// sharedID reports whether another live row carries ws's id, in which case
// the records belong to that row and stay put.
func sharedID(rows []*model.Workspace, ws *model.Workspace) bool {
	return findByID(rows, ws.ID, ws) != nil
}

func compact(rows []*model.Workspace) []*model.Workspace {
	out := rows[:0]
	for _, ws := range rows {
		if ws != nil {
			out = append(out, ws)
		}
	}
	return out
}
