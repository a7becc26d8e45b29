package storemode

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/probe"
	"github.com/offshore-budgeting/syncore/internal/store"
)

type fixture struct {
	ctrl  *Controller
	prefs *prefs.Memory
	bus   *events.Bus
	sub   *events.Subscription
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{prefs: prefs.NewMemory(), bus: events.NewBus()}
	opts := Options{
		Path:            filepath.Join(t.TempDir(), "data.db"),
		RemoteContainer: "remote.test",
		LoadTimeout:     time.Second,
		ProbeTimeout:    time.Second,
		Prefs:           f.prefs,
		Availability:    probe.Static{Available: true},
		Bus:             f.bus,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.ctrl = New(opts)
	f.sub = f.bus.Subscribe()
	t.Cleanup(func() {
		f.sub.Close()
		f.ctrl.Close()
	})
	return f
}

func (f *fixture) load(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ctrl.Load(context.Background()))
}

func insertExpense(t *testing.T, c *Controller, title string) *model.PlannedExpense {
	t.Helper()
	exp := &model.PlannedExpense{Title: title, PlannedAmount: decimal.NewFromInt(10)}
	exp.ID = uuid.New()
	err := c.Do(context.Background(), func(ctx context.Context, sess *store.Session) error {
		if err := sess.Insert(exp); err != nil {
			return err
		}
		_, err := sess.Save(ctx)
		return err
	})
	require.NoError(t, err)
	return exp
}

// recordIDs returns the id of every stored record, across all kinds.
func recordIDs(t *testing.T, c *Controller) map[uuid.UUID]model.Kind {
	t.Helper()
	ids := map[uuid.UUID]model.Kind{}
	err := c.Do(context.Background(), func(ctx context.Context, sess *store.Session) error {
		for _, k := range model.AllKinds {
			recs, err := sess.Fetch(ctx, k, nil)
			if err != nil {
				return err
			}
			for _, r := range recs {
				ids[r.Key().ID] = k
			}
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func seedRecords(t *testing.T, c *Controller) {
	t.Helper()
	insertExpense(t, c, "Rent")
	insertExpense(t, c, "Gym")
	cat := &model.Category{Name: "Housing"}
	cat.ID = uuid.New()
	err := c.Do(context.Background(), func(ctx context.Context, sess *store.Session) error {
		if err := sess.Insert(cat); err != nil {
			return err
		}
		_, err := sess.Save(ctx)
		return err
	})
	require.NoError(t, err)
}

func TestLoad_DefaultsToLocal(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	st := f.ctrl.State()
	assert.True(t, st.Loaded)
	assert.Equal(t, ModeLocal, st.Mode)
	assert.Equal(t, "local", st.String())
	assert.Nil(t, f.ctrl.Store().RemoteChanges())
}

func TestLoad_FollowsPersistedPreference(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.prefs.SetBool(prefs.KeyMirroringEnabled, true))
	f.load(t)

	assert.Equal(t, ModeMirrored, f.ctrl.Mode())
	assert.True(t, f.ctrl.Store().Options().Mirrored())
	assert.NotNil(t, f.ctrl.Store().RemoteChanges())
}

func TestLoad_AttachFailureIsFatal(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Open = func(store.Options) (*store.Store, error) { return nil, errors.New("disk gone") }
	})
	err := f.ctrl.Load(context.Background())
	require.Error(t, err)
	assert.True(t, IsAttachError(err))

	err = f.ctrl.Do(context.Background(), func(context.Context, *store.Session) error { return nil })
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestWaitUntilLoaded_TimesOut(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(o *Options) {
		o.Open = func(opts store.Options) (*store.Store, error) {
			<-release
			return store.Open(opts)
		}
	})
	f.ctrl.Start()
	assert.False(t, f.ctrl.WaitUntilLoaded(context.Background(), 20*time.Millisecond))
	close(release)
	assert.True(t, f.ctrl.WaitUntilLoaded(context.Background(), time.Second))
}

func TestDo_IsReentrant(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	calls := 0
	err := f.ctrl.Do(context.Background(), func(ctx context.Context, outer *store.Session) error {
		return f.ctrl.Do(ctx, func(ctx context.Context, inner *store.Session) error {
			calls++
			assert.Same(t, outer, inner)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestApply_EnableWhenAvailableRebuilds(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)
	exp := insertExpense(t, f.ctrl, "Rent")

	out, err := f.ctrl.SetMirroring(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRebuilt, out)
	assert.Equal(t, ModeMirrored, f.ctrl.Mode())
	assert.True(t, f.prefs.Bool(prefs.KeyMirroringEnabled))

	got := f.sub.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, events.ReasonRebuild, got[0].Reason)

	// Data survives the rebuild.
	err = f.ctrl.Do(context.Background(), func(ctx context.Context, sess *store.Session) error {
		_, ok, err := store.ByID[*model.PlannedExpense](ctx, sess, exp.ID, nil)
		assert.True(t, ok)
		return err
	})
	require.NoError(t, err)

	out, err = f.ctrl.ApplyModePreference(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out)
}

func TestApply_UnavailableStaysLocalAndKeepsPreference(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Availability = probe.Static{Available: false} })
	f.load(t)
	seedRecords(t, f.ctrl)
	before := recordIDs(t, f.ctrl)
	require.Len(t, before, 3)

	out, err := f.ctrl.SetMirroring(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStayLocal, out)
	assert.Equal(t, ModeLocal, f.ctrl.Mode())
	assert.True(t, f.prefs.Bool(prefs.KeyMirroringEnabled), "preference is kept")
	assert.Empty(t, f.sub.Drain(), "no rebuild, no event")
	assert.Equal(t, before, recordIDs(t, f.ctrl))
}

func TestApply_RoundTripKeepsRecordIDs(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)
	seedRecords(t, f.ctrl)
	before := recordIDs(t, f.ctrl)

	out, err := f.ctrl.SetMirroring(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRebuilt, out)
	assert.Equal(t, before, recordIDs(t, f.ctrl))

	out, err = f.ctrl.SetMirroring(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRebuilt, out)
	assert.Equal(t, before, recordIDs(t, f.ctrl))
}

func TestApply_ProbeTimeoutMeansUnavailable(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := newFixture(t, func(o *Options) {
		o.ProbeTimeout = 20 * time.Millisecond
		o.Availability = probe.AvailabilityFunc(func(ctx context.Context, _ bool) bool {
			<-release
			return true
		})
	})
	f.load(t)

	out, err := f.ctrl.ApplyModePreference(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStayLocal, out)
}

func TestApply_ConcurrentRequestIsDropped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, func(o *Options) {
		o.Availability = probe.AvailabilityFunc(func(ctx context.Context, _ bool) bool {
			close(entered)
			<-release
			return true
		})
	})
	f.load(t)

	var wg sync.WaitGroup
	wg.Add(1)
	var first Outcome
	go func() {
		defer wg.Done()
		first, _ = f.ctrl.ApplyModePreference(context.Background(), true)
	}()

	<-entered
	second, err := f.ctrl.ApplyModePreference(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, second)

	close(release)
	wg.Wait()
	assert.Equal(t, OutcomeRebuilt, first)
	assert.Equal(t, ModeMirrored, f.ctrl.Mode())
}

func TestApply_FailedRebuildRevertsToPreviousMode(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Open = func(opts store.Options) (*store.Store, error) {
			if opts.Mirrored() {
				return nil, errors.New("remote container misconfigured")
			}
			return store.Open(opts)
		}
	})
	f.load(t)
	exp := insertExpense(t, f.ctrl, "Rent")
	seedRecords(t, f.ctrl)
	before := recordIDs(t, f.ctrl)

	out, err := f.ctrl.ApplyModePreference(context.Background(), true)
	require.NoError(t, err, "failed rebuild is not fatal")
	assert.Equal(t, OutcomeReverted, out)
	assert.Equal(t, ModeLocal, f.ctrl.Mode())
	assert.Equal(t, before, recordIDs(t, f.ctrl))

	err = f.ctrl.Do(context.Background(), func(ctx context.Context, sess *store.Session) error {
		_, ok, err := store.ByID[*model.PlannedExpense](ctx, sess, exp.ID, nil)
		assert.True(t, ok, "store is usable after revert")
		return err
	})
	require.NoError(t, err)
}

func TestApply_FallbackFailureIsFatal(t *testing.T) {
	var mu sync.Mutex
	broken := false
	f := newFixture(t, func(o *Options) {
		o.Open = func(opts store.Options) (*store.Store, error) {
			mu.Lock()
			defer mu.Unlock()
			if broken {
				return nil, errors.New("disk gone")
			}
			return store.Open(opts)
		}
	})
	f.load(t)

	mu.Lock()
	broken = true
	mu.Unlock()

	_, err := f.ctrl.ApplyModePreference(context.Background(), true)
	require.Error(t, err)
	assert.True(t, IsAttachError(err))
	assert.False(t, f.ctrl.State().Loaded)
}

func TestApply_RejectedInsideMainContext(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	err := f.ctrl.Do(context.Background(), func(ctx context.Context, _ *store.Session) error {
		_, err := f.ctrl.ApplyModePreference(ctx, true)
		return err
	})
	assert.ErrorIs(t, err, ErrReentrantRebuild)
}

func TestApply_DisableReturnsToLocal(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.prefs.SetBool(prefs.KeyMirroringEnabled, true))
	f.load(t)

	out, err := f.ctrl.SetMirroring(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRebuilt, out)
	assert.Equal(t, ModeLocal, f.ctrl.Mode())
	assert.Nil(t, f.ctrl.Store().RemoteChanges())
}

func TestRemoteImport_MergesIntoMainAndPublishes(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.prefs.SetBool(prefs.KeyMirroringEnabled, true))
	f.load(t)
	exp := insertExpense(t, f.ctrl, "Rent")

	_, err := f.ctrl.Store().ImportRemote(context.Background(), func(ctx context.Context, sess *store.Session) error {
		remote, _, err := store.ByID[*model.PlannedExpense](ctx, sess, exp.ID, nil)
		if err != nil {
			return err
		}
		remote.ActualAmount = decimal.NewFromInt(12)
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := f.sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.ReasonRemoteImport, ev.Reason)

	err = f.ctrl.Do(context.Background(), func(ctx context.Context, sess *store.Session) error {
		assert.True(t, exp.ActualAmount.Equal(decimal.NewFromInt(12)), "main object refreshed in place")
		return nil
	})
	require.NoError(t, err)
}

func TestBackgroundSession_MergeIntoMain(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)
	exp := insertExpense(t, f.ctrl, "Rent")

	bg, err := f.ctrl.NewBackgroundSession()
	require.NoError(t, err)
	other, _, err := store.ByID[*model.PlannedExpense](context.Background(), bg, exp.ID, nil)
	require.NoError(t, err)
	other.Title = "Rent (bg)"
	cs, err := bg.Save(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.ctrl.MergeIntoMain(context.Background(), cs))
	assert.Equal(t, "Rent (bg)", exp.Title)
}

func TestWipeAllData(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)
	insertExpense(t, f.ctrl, "Rent")
	insertExpense(t, f.ctrl, "Gym")

	n, err := f.ctrl.WipeAllData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := f.ctrl.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
