// Package app wires the sync core together and runs the launch sequence.
package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/catalog"
	"github.com/offshore-budgeting/syncore/internal/config"
	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/planned"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/probe"
	"github.com/offshore-budgeting/syncore/internal/reconcile"
	"github.com/offshore-budgeting/syncore/internal/scheduler"
	"github.com/offshore-budgeting/syncore/internal/storemode"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

// Options override parts of the wiring. Zero values build everything from
// Config.
type Options struct {
	Config *config.Config
	Logger *slog.Logger

	Prefs        prefs.Store
	Availability probe.RemoteAvailability
	Remote       probe.RemoteDataProbe
	Open         storemode.Opener

	Now   func() time.Time
	NewID func() uuid.UUID
}

// App holds every sync-core service for one data store.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Prefs        prefs.Store
	Bus          *events.Bus
	Availability probe.RemoteAvailability
	Remote       probe.RemoteDataProbe
	Local        probe.Local

	Ctrl       *storemode.Controller
	Workspaces *workspace.Registry
	Catalog    *catalog.Catalog
	Planned    *planned.Engine
	Reconciler *reconcile.Reconciler
	Scheduler  *scheduler.Scheduler

	closers []io.Closer
}

// New builds an App. Nothing is attached until Launch.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger, Bus: events.NewBus()}

	a.Prefs = opts.Prefs
	if a.Prefs == nil {
		db, err := prefs.OpenDB(cfg.Data.PrefsPath, logger)
		if err != nil {
			return nil, err
		}
		a.Prefs = db
		a.closers = append(a.closers, db)
	}

	a.Availability, a.Remote = opts.Availability, opts.Remote
	if a.Availability == nil || a.Remote == nil {
		avail, remote, err := remoteProbes(cfg, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		if a.Availability == nil {
			a.Availability = avail
		}
		if a.Remote == nil {
			a.Remote = remote
		}
	}

	a.Ctrl = storemode.New(storemode.Options{
		Path:            cfg.Data.Path,
		RemoteContainer: cfg.Remote.Container,
		LoadTimeout:     cfg.Timeouts.Load,
		ProbeTimeout:    cfg.Timeouts.Probe,
		Prefs:           a.Prefs,
		Availability:    a.Availability,
		Bus:             a.Bus,
		Logger:          logger.With("component", "storemode"),
		Open:            opts.Open,
	})
	a.closers = append(a.closers, a.Ctrl)
	a.Local = probe.Local{Counter: a.Ctrl, Logger: logger}

	a.Workspaces = workspace.NewRegistry(workspace.Options{
		Host:   a.Ctrl,
		Prefs:  a.Prefs,
		Bus:    a.Bus,
		Logger: logger.With("component", "workspace"),
		Now:    opts.Now,
		NewID:  opts.NewID,
	})
	a.Catalog = catalog.New(a.Ctrl, a.Workspaces, a.Bus, logger.With("component", "catalog"))
	a.Planned = planned.New(planned.Options{
		Host:       a.Ctrl,
		Workspaces: a.Workspaces,
		Bus:        a.Bus,
		Logger:     logger.With("component", "planned"),
		NewID:      opts.NewID,
	})
	a.Reconciler = reconcile.New(reconcile.Options{
		Host:       a.Ctrl,
		Workspaces: a.Workspaces,
		Prefs:      a.Prefs,
		Mode:       a.Ctrl,
		Bus:        a.Bus,
		Logger:     logger.With("component", "reconcile"),
	})
	a.Scheduler = scheduler.New(time.UTC, logger.With("component", "scheduler"))
	return a, nil
}

// remoteProbes builds the Supabase probes when a project is configured.
// Without one the remote is always unavailable and empty.
func remoteProbes(cfg *config.Config, logger *slog.Logger) (probe.RemoteAvailability, probe.RemoteDataProbe, error) {
	if !cfg.Remote.Configured() {
		return probe.Static{}, probe.Static{}, nil
	}
	sb, err := probe.NewSupabase(cfg.Remote.SupabaseURL, cfg.Remote.SupabaseKey,
		cfg.Remote.Table, cfg.Timeouts.Remote, logger.With("component", "probe"))
	if err != nil {
		return nil, nil, fmt.Errorf("remote probe: %w", err)
	}
	return probe.NewCached(sb, cfg.Remote.AvailabilityTTL), sb, nil
}

// Onboarding returns the first-launch decision helper.
func (a *App) Onboarding() probe.Onboarding {
	return probe.Onboarding{Checker: probe.SystemChecker{
		Prefs:        a.Prefs,
		Availability: a.Availability,
		Remote:       a.Remote,
		Timeout:      a.Config.Timeouts.Remote,
	}}
}

// Close detaches the store and releases the preferences database.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
