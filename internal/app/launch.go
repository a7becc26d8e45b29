package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/reconcile"
	"github.com/offshore-budgeting/syncore/internal/storemode"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

// LaunchReport describes what the launch sequence did.
type LaunchReport struct {
	Mode      storemode.Mode
	Active    uuid.UUID
	Cleanup   workspace.CleanupReport
	Assigned  int
	Canonical reconcile.CanonicalReport
}

// Launch attaches the store in the preferred mode and prepares workspace
// scoping. Cleanup and active-workspace resolution finish before any scoped
// query runs. Only an attach failure is fatal.
func (a *App) Launch(ctx context.Context) (LaunchReport, error) {
	var rep LaunchReport
	if err := a.Ctrl.Load(ctx); err != nil {
		return rep, err
	}
	rep.Mode = a.Ctrl.Mode()

	if err := a.prepareWorkspaces(ctx, &rep); err != nil {
		return rep, err
	}

	canon, err := a.Reconciler.CanonicalizeIdentities(ctx)
	if err != nil {
		// Retried on the next launch: the completion flag is still unset.
		a.Logger.Warn("identity canonicalization failed", "error", err)
	}
	rep.Canonical = canon

	a.Logger.Info("launch complete", "mode", rep.Mode, "active_workspace", rep.Active,
		"cleanup_changed", rep.Cleanup.Changed(), "assigned", rep.Assigned)
	return rep, nil
}

func (a *App) prepareWorkspaces(ctx context.Context, rep *LaunchReport) error {
	cleanup, err := a.Workspaces.CleanupDuplicateWorkspaces(ctx)
	if err != nil {
		return fmt.Errorf("cleanup workspaces: %w", err)
	}
	rep.Cleanup = cleanup

	rep.Active, err = a.Workspaces.EnsureActiveWorkspaceID(ctx)
	if err != nil {
		return fmt.Errorf("ensure active workspace: %w", err)
	}

	rep.Assigned, err = a.Workspaces.AssignMissingWorkspaceIDs(ctx)
	if err != nil {
		return fmt.Errorf("assign missing workspace ids: %w", err)
	}

	if err := a.Workspaces.SeedBudgetPeriodIfNeeded(ctx); err != nil {
		a.Logger.Warn("budget period seed failed", "error", err)
	}
	return nil
}

// MirroringResult reports a mode change and the reconciliation it triggered.
type MirroringResult struct {
	Outcome   storemode.Outcome
	Reconcile *reconcile.Report
}

// SetMirroring persists and applies the mirroring preference. Entering
// mirrored mode reconciles the merged datasets once.
func (a *App) SetMirroring(ctx context.Context, enable bool) (MirroringResult, error) {
	outcome, err := a.Ctrl.SetMirroring(ctx, enable)
	if err != nil {
		return MirroringResult{Outcome: outcome}, err
	}
	return a.afterModeChange(ctx, outcome)
}

// ApplyModePreference re-applies the stored mirroring preference.
func (a *App) ApplyModePreference(ctx context.Context) (MirroringResult, error) {
	outcome, err := a.Ctrl.ApplyModePreference(ctx, a.Prefs.Bool(prefs.KeyMirroringEnabled))
	if err != nil {
		return MirroringResult{Outcome: outcome}, err
	}
	return a.afterModeChange(ctx, outcome)
}

func (a *App) afterModeChange(ctx context.Context, outcome storemode.Outcome) (MirroringResult, error) {
	res := MirroringResult{Outcome: outcome}
	if outcome != storemode.OutcomeRebuilt {
		return res, nil
	}

	var launch LaunchReport
	if err := a.prepareWorkspaces(ctx, &launch); err != nil {
		return res, err
	}
	if !a.Ctrl.Mirrored() {
		return res, nil
	}

	// Give the first remote import a moment to land before deduplicating.
	a.Local.ScanForExistingData(ctx, a.Config.Timeouts.Remote, 0)
	rep, err := a.Reconciler.RunMergeReconciliation(ctx)
	if err != nil {
		return res, fmt.Errorf("merge after enabling mirroring: %w", err)
	}
	res.Reconcile = &rep
	return res, nil
}

// StartMirroringRetry schedules a job that re-applies an enabled mirroring
// preference while the store is still local, e.g. after the account was
// unavailable at launch. It is a no-op when retry is disabled.
func (a *App) StartMirroringRetry(ctx context.Context) error {
	if !a.Config.Retry.Enabled {
		return nil
	}
	_, err := a.Scheduler.Schedule("mirroring-retry", a.Config.Retry.Schedule, func() {
		a.retryMirroring(ctx)
	})
	if err != nil {
		return err
	}
	a.Scheduler.Start()
	a.closers = append(a.closers, stopper{a.Scheduler.Stop})
	return nil
}

func (a *App) retryMirroring(ctx context.Context) {
	if ctx.Err() != nil || !a.Prefs.Bool(prefs.KeyMirroringEnabled) {
		return
	}
	state := a.Ctrl.State()
	if !state.Loaded || state.Rebuilding || state.Mode == storemode.ModeMirrored {
		return
	}
	res, err := a.ApplyModePreference(ctx)
	if err != nil {
		var attach *storemode.AttachError
		if errors.As(err, &attach) {
			a.Logger.Error("mirroring retry lost the data store", "error", err)
			return
		}
		a.Logger.Warn("mirroring retry failed", "error", err)
		return
	}
	a.Logger.Info("mirroring retry", "outcome", res.Outcome)
}

type stopper struct{ stop func() }

func (s stopper) Close() error {
	s.stop()
	return nil
}

// Status is a snapshot of the sync core.
type Status struct {
	State              storemode.State
	MirroringPreferred bool
	Active             *model.Workspace
	Counts             map[model.Kind]int
}

// Total returns the number of records in the active workspace.
func (s Status) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// Status reports the mode, active workspace and its record counts.
func (a *App) Status(ctx context.Context) (Status, error) {
	st := Status{
		State:              a.Ctrl.State(),
		MirroringPreferred: a.Prefs.Bool(prefs.KeyMirroringEnabled),
		Counts:             make(map[model.Kind]int),
	}
	active, err := a.Workspaces.Active(ctx)
	if err != nil {
		return st, err
	}
	st.Active = active

	store := a.Ctrl.Store()
	if store == nil {
		return st, storemode.ErrNotLoaded
	}
	scope := workspace.Predicate(active.ID)
	for _, k := range model.ScopedKinds {
		n, err := store.Count(ctx, k, scope)
		if err != nil {
			return st, fmt.Errorf("count %s: %w", k, err)
		}
		st.Counts[k] = n
	}
	return st, nil
}
