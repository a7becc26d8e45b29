// Package workspace owns workspace rows and the active-workspace selection.
//
// The active workspace id lives in a preference, not in the data store, so it
// survives store rebuilds. Every workspace-aware query in the module filters
// through ActiveWorkspacePredicate.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/ident"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/query"
	"github.com/offshore-budgeting/syncore/internal/store"
)

// Seed names.
const (
	PersonalName  = "Personal"
	WorkName      = "Work"
	EducationName = "Education"

	// DefaultName is the name older clients gave their single workspace.
	DefaultName = "Default"
)

// Seed is a workspace created at first launch.
type Seed struct {
	Name     string
	ColorTag string
}

// Seeds lists the seed workspaces, Personal first.
var Seeds = []Seed{
	{Name: PersonalName, ColorTag: "blue"},
	{Name: WorkName, ColorTag: "orange"},
	{Name: EducationName, ColorTag: "green"},
}

// PersonalID is the well-known id of the Personal seed.
var PersonalID = ident.SeedWorkspaceID(PersonalName)

var (
	ErrNotFound      = errors.New("workspace not found")
	ErrNameTaken     = errors.New("workspace name already in use")
	ErrEmptyName     = errors.New("workspace name is empty")
	ErrLastWorkspace = errors.New("cannot delete the only remaining Personal workspace")
)

// Host runs work in the main execution context and hands out background
// sessions. *storemode.Controller implements it.
type Host interface {
	Do(ctx context.Context, fn func(ctx context.Context, sess *store.Session) error) error
	NewBackgroundSession() (*store.Session, error)
	MergeIntoMain(ctx context.Context, cs store.ChangeSet) error
}

// Options configure a Registry.
type Options struct {
	Host   Host
	Prefs  prefs.Store
	Bus    *events.Bus
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() uuid.UUID
}

// Registry manages workspaces.
type Registry struct {
	host   Host
	prefs  prefs.Store
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time
	newID  func() uuid.UUID

	mu     sync.RWMutex
	active uuid.UUID
}

// NewRegistry creates a registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		host:   opts.Host,
		prefs:  opts.Prefs,
		bus:    opts.Bus,
		logger: opts.Logger,
		now:    opts.Now,
		newID:  opts.NewID,
	}
	if r.prefs == nil {
		r.prefs = prefs.NewMemory()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = func() uuid.UUID { return uuid.Must(uuid.NewV7()) }
	}
	return r
}

// IsSeedID reports whether id is one of the seed workspace ids.
func IsSeedID(id uuid.UUID) bool {
	_, ok := seedByID(id)
	return ok
}

func seedByID(id uuid.UUID) (Seed, bool) {
	for _, s := range Seeds {
		if ident.SeedWorkspaceID(s.Name) == id {
			return s, true
		}
	}
	return Seed{}, false
}

func seedByName(name string) (Seed, bool) {
	for _, s := range Seeds {
		if ident.SameName(s.Name, name) {
			return s, true
		}
	}
	return Seed{}, false
}

// EnsureActiveWorkspaceID returns the active workspace id, resolving and
// persisting one if needed.
//
// Resolution order: the stored preference if it names an existing
// workspace, the Personal seed, the first workspace, a freshly seeded set.
// If seeding fails a new id is minted and persisted; the next call heals it
// once seeding succeeds.
func (r *Registry) EnsureActiveWorkspaceID(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		var err error
		id, err = r.ensureActive(ctx, sess)
		return err
	})
	return id, err
}

func (r *Registry) ensureActive(ctx context.Context, sess *store.Session) (uuid.UUID, error) {
	if stored, err := uuid.Parse(r.prefs.String(prefs.KeyActiveWorkspaceID)); err == nil && stored != uuid.Nil {
		_, ok, err := store.ByID[*model.Workspace](ctx, sess, stored, nil)
		if err != nil {
			return uuid.Nil, fmt.Errorf("ensure active workspace: %w", err)
		}
		if ok {
			r.setCached(stored)
			return stored, nil
		}
	}

	if _, ok, err := store.ByID[*model.Workspace](ctx, sess, PersonalID, nil); err != nil {
		return uuid.Nil, fmt.Errorf("ensure active workspace: %w", err)
	} else if ok {
		return PersonalID, r.persistActive(PersonalID)
	}

	first, ok, err := store.First[*model.Workspace](ctx, sess, query.NotNull(model.ColID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensure active workspace: %w", err)
	}
	if ok {
		return first.ID, r.persistActive(first.ID)
	}

	if err := r.seed(ctx, sess); err != nil {
		minted := r.newID()
		r.logger.Error("seeding workspaces failed; minted a placeholder active id",
			"id", minted, "error", err)
		return minted, r.persistActive(minted)
	}
	return PersonalID, r.persistActive(PersonalID)
}

func (r *Registry) seed(ctx context.Context, sess *store.Session) error {
	recs := make([]model.Record, 0, len(Seeds))
	for _, s := range Seeds {
		ws := &model.Workspace{
			Name:         s.Name,
			ColorTag:     s.ColorTag,
			BudgetPeriod: r.devicePeriod(),
		}
		ws.ID = ident.SeedWorkspaceID(s.Name)
		recs = append(recs, ws)
	}
	if err := insertAll(sess, recs...); err != nil {
		return fmt.Errorf("seed workspaces: %w", err)
	}
	cs, err := sess.Save(ctx)
	if err != nil {
		sess.Rollback()
		return fmt.Errorf("seed workspaces: %w", err)
	}
	r.logger.Info("seeded workspaces", "count", len(cs.Inserted))
	r.bus.Publish(events.DataStoreChanged{Reason: events.ReasonWorkspace, Rows: cs.Len()})
	return nil
}

// insertAll registers recs with sess. If any insert fails, every pending
// change in sess is discarded.
func insertAll(sess *store.Session, recs ...model.Record) error {
	for _, rec := range recs {
		if err := sess.Insert(rec); err != nil {
			sess.Rollback()
			return err
		}
	}
	return nil
}

func (r *Registry) persistActive(id uuid.UUID) error {
	if err := r.prefs.SetString(prefs.KeyActiveWorkspaceID, id.String()); err != nil {
		return fmt.Errorf("persist active workspace: %w", err)
	}
	r.setCached(id)
	return nil
}

func (r *Registry) setCached(id uuid.UUID) {
	r.mu.Lock()
	r.active = id
	r.mu.Unlock()
}

func (r *Registry) cached() uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// ActiveWorkspacePredicate returns the filter workspace_id == active.
func (r *Registry) ActiveWorkspacePredicate(ctx context.Context) (query.Predicate, error) {
	id := r.cached()
	if id == uuid.Nil {
		var err error
		if id, err = r.EnsureActiveWorkspaceID(ctx); err != nil {
			return nil, err
		}
	}
	return Predicate(id), nil
}

// Predicate returns the scoping filter for workspace id.
func Predicate(id uuid.UUID) query.Predicate {
	return query.Equals{Field: model.ColWorkspaceID, Value: id}
}

// Active returns the active workspace row.
func (r *Registry) Active(ctx context.Context) (*model.Workspace, error) {
	var ws *model.Workspace
	err := r.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		id, err := r.ensureActive(ctx, sess)
		if err != nil {
			return err
		}
		var ok bool
		ws, ok, err = store.ByID[*model.Workspace](ctx, sess, id, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
	return ws, err
}

// SetActive selects an existing workspace.
func (r *Registry) SetActive(ctx context.Context, id uuid.UUID) error {
	return r.host.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		_, ok, err := store.ByID[*model.Workspace](ctx, sess, id, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := r.persistActive(id); err != nil {
			return err
		}
		r.logger.Info("active workspace changed", "id", id)
		r.bus.Publish(events.DataStoreChanged{Reason: events.ReasonWorkspace})
		return nil
	})
}

// AssignMissingWorkspaceIDs moves every record with no workspace into the
// active workspace. It runs on a background session and merges the result
// into the main session.
func (r *Registry) AssignMissingWorkspaceIDs(ctx context.Context) (int, error) {
	active, err := r.EnsureActiveWorkspaceID(ctx)
	if err != nil {
		return 0, err
	}
	bg, err := r.host.NewBackgroundSession()
	if err != nil {
		return 0, err
	}

	n, err := ReassignRecords(ctx, bg, query.IsNull(model.ColWorkspaceID), active)
	if err != nil {
		return 0, fmt.Errorf("assign missing workspace ids: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	cs, err := bg.Save(ctx)
	if err != nil {
		return 0, fmt.Errorf("assign missing workspace ids: %w", err)
	}
	if err := r.host.MergeIntoMain(ctx, cs); err != nil {
		return n, err
	}
	r.logger.Info("assigned workspace to unscoped records", "count", n, "workspace", active)
	r.bus.Publish(events.DataStoreChanged{Reason: events.ReasonWorkspace, Rows: n})
	return n, nil
}

// ReassignRecords sets workspace_id to target on every scoped record matching
// p. The session is not saved.
func ReassignRecords(ctx context.Context, sess *store.Session, p query.Predicate, target uuid.UUID) (int, error) {
	n := 0
	for _, k := range model.ScopedKinds {
		recs, err := sess.Fetch(ctx, k, p)
		if err != nil {
			return n, err
		}
		for _, rec := range recs {
			scoped, ok := rec.(model.Scoped)
			if !ok {
				continue
			}
			if *scoped.Workspace() != target {
				*scoped.Workspace() = target
				n++
			}
		}
	}
	return n, nil
}

func (r *Registry) devicePeriod() model.Period {
	p, err := model.ParsePeriod(r.prefs.String(prefs.KeyBudgetPeriod))
	if err != nil {
		return model.DefaultPeriod
	}
	return p
}
