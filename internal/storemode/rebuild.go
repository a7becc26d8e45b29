package storemode

import (
	"context"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/store"
)

// SetMirroring persists the mirroring preference and applies it.
func (c *Controller) SetMirroring(ctx context.Context, enable bool) (Outcome, error) {
	if err := c.opts.Prefs.SetBool(prefs.KeyMirroringEnabled, enable); err != nil {
		return OutcomeUnchanged, err
	}
	return c.ApplyModePreference(ctx, enable)
}

// ApplyModePreference moves the store to the mode matching enable.
//
// A request arriving while another rebuild is in flight is dropped, not
// queued. Entering mirrored mode first asks the availability probe (forced
// refresh, bounded by ProbeTimeout); if the remote is unavailable the store
// stays local and the preference is left as is. A failed rebuild reattaches
// the previous mode and reports OutcomeReverted. The error is non-nil only
// for an *AttachError, when no mode could be attached.
func (c *Controller) ApplyModePreference(ctx context.Context, enable bool) (Outcome, error) {
	if _, ok := store.SessionFrom(ctx); ok {
		return OutcomeDropped, ErrReentrantRebuild
	}
	if !c.rebuilding.CompareAndSwap(false, true) {
		c.logger.Info("mode change dropped: rebuild already in flight", "enable", enable)
		return OutcomeDropped, nil
	}
	defer c.rebuilding.Store(false)

	c.Start()
	c.WaitUntilLoaded(ctx, c.opts.LoadTimeout)

	state := c.State()
	if !enable {
		if state.Loaded && state.Mode == ModeLocal {
			return OutcomeUnchanged, nil
		}
		return c.rebuild(ctx, ModeLocal)
	}

	if state.Loaded && state.Mode == ModeMirrored {
		return OutcomeUnchanged, nil
	}

	if !c.remoteAvailable(ctx) {
		c.logger.Info("remote unavailable: staying local, preference kept")
		if state.Loaded && state.Mode == ModeLocal {
			return OutcomeStayLocal, nil
		}
		if _, err := c.rebuild(ctx, ModeLocal); err != nil {
			return OutcomeStayLocal, err
		}
		return OutcomeStayLocal, nil
	}

	return c.rebuild(ctx, ModeMirrored)
}

func (c *Controller) remoteAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() { done <- c.opts.Availability.Resolve(ctx, true) }()

	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		c.logger.Info("remote availability probe timed out", "timeout", c.opts.ProbeTimeout)
		return false
	}
}

// rebuild detaches the current store and attaches one configured for target.
func (c *Controller) rebuild(ctx context.Context, target Mode) (Outcome, error) {
	c.mainMu.Lock()
	defer c.mainMu.Unlock()

	c.mu.Lock()
	old, prev := c.st, c.mode
	hadStore := old != nil
	if c.main != nil {
		c.main.Reset()
	}
	c.st, c.main = nil, nil
	c.inRebuild, c.target = true, target
	c.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			c.logger.Warn("failed to detach data store", "mode", prev, "error", err)
		}
	}

	st, err := c.attach(target)
	if err == nil {
		c.install(st, target)
		c.logger.Info("rebuilt data store", "mode", target)
		c.opts.Bus.Publish(events.DataStoreChanged{Reason: events.ReasonRebuild})
		return OutcomeRebuilt, nil
	}
	c.logger.Error("data store rebuild failed", "target", target, "error", err)

	if !hadStore {
		prev = ModeLocal
	}
	st, fallbackErr := c.attach(prev)
	if fallbackErr != nil {
		attachErr := &AttachError{Mode: prev, Path: c.opts.Path, Err: fallbackErr}
		c.mu.Lock()
		c.inRebuild = false
		c.loadErr = attachErr
		c.mu.Unlock()
		return OutcomeReverted, attachErr
	}
	c.install(st, prev)
	c.opts.Bus.Publish(events.DataStoreChanged{Reason: events.ReasonRebuild})
	return OutcomeReverted, nil
}

// WipeAllData deletes every record of every kind in one save.
func (c *Controller) WipeAllData(ctx context.Context) (int, error) {
	var removed int
	err := c.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		for _, k := range model.AllKinds {
			recs, err := sess.Fetch(ctx, k, nil)
			if err != nil {
				return err
			}
			for _, r := range recs {
				if err := sess.Delete(r); err != nil {
					return err
				}
			}
		}
		cs, err := sess.Save(ctx)
		if err != nil {
			sess.Rollback()
			return err
		}
		removed = cs.Len()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.opts.Bus.Publish(events.DataStoreChanged{Reason: events.ReasonRebuild, Rows: removed})
	}
	return removed, nil
}
