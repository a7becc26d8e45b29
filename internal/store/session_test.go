package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/query"
)

func scoped() query.Predicate {
	return query.Equals{Field: model.ColWorkspaceID, Value: testWorkspace}
}

func TestSession_InsertSaveFetch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sess := s.NewSession(InMemoryTrump)
	rent := newTestExpense("Rent", "1500.00")
	require.NoError(t, sess.Insert(rent))
	assert.Less(t, rent.PK, int64(0), "unsaved insert gets a temporary key")
	assert.True(t, sess.HasChanges())

	cs, err := sess.Save(ctx)
	require.NoError(t, err)
	assert.Len(t, cs.Inserted, 1)
	assert.Greater(t, rent.PK, int64(0))
	assert.False(t, sess.HasChanges())

	fresh := s.NewSession(StoreTrump)
	got, err := Fetch[*model.PlannedExpense](ctx, fresh, scoped())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rent.ID, got[0].ID)
	assert.Equal(t, "Rent", got[0].Title)
	assert.True(t, got[0].PlannedAmount.Equal(decimal.NewFromInt(1500)))
	assert.True(t, got[0].TransactionDate.Equal(testDay(1)))
	assert.Equal(t, uuid.Nil, got[0].BudgetID)
}

func TestSession_FetchSeesUnsavedInsertsAndEdits(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := s.NewSession(InMemoryTrump)

	a := newTestExpense("A", "1")
	require.NoError(t, sess.Insert(a))
	_, err := sess.Save(ctx)
	require.NoError(t, err)

	b := newTestExpense("B", "2")
	require.NoError(t, sess.Insert(b))

	all, err := Fetch[*model.PlannedExpense](ctx, sess, scoped())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Same(t, a, all[0], "identity map returns the same object")
	assert.Same(t, b, all[1], "unsaved inserts follow persisted rows")

	a.Title = "Renamed"
	byTitle, err := Fetch[*model.PlannedExpense](ctx, sess, query.Equals{Field: "title", Value: "A"})
	require.NoError(t, err)
	assert.Empty(t, byTitle, "in-memory edits decide membership")

	require.NoError(t, sess.Delete(b))
	all, err = Fetch[*model.PlannedExpense](ctx, sess, scoped())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSession_SaveWritesOnlyChangedColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seed := s.NewSession(InMemoryTrump)
	exp := newTestExpense("Rent", "100")
	require.NoError(t, seed.Insert(exp))
	_, err := seed.Save(ctx)
	require.NoError(t, err)

	// Two independent sessions edit different properties of the same row.
	one := s.NewSession(InMemoryTrump)
	two := s.NewSession(InMemoryTrump)
	e1, ok, err := ByID[*model.PlannedExpense](ctx, one, exp.ID, nil)
	require.NoError(t, err)
	require.True(t, ok)
	e2, ok, err := ByID[*model.PlannedExpense](ctx, two, exp.ID, nil)
	require.NoError(t, err)
	require.True(t, ok)

	e1.Title = "Rent (updated)"
	e2.ActualAmount = decimal.NewFromInt(90)

	cs, err := one.Save(ctx)
	require.NoError(t, err)
	assert.Len(t, cs.Updated, 1)
	_, err = two.Save(ctx)
	require.NoError(t, err)

	got, _, err := ByID[*model.PlannedExpense](ctx, s.NewSession(StoreTrump), exp.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Rent (updated)", got.Title)
	assert.True(t, got.ActualAmount.Equal(decimal.NewFromInt(90)))
}

func TestSession_MergeChanges_InMemoryTrump(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	main := s.NewSession(InMemoryTrump)
	exp := newTestExpense("Rent", "100")
	require.NoError(t, main.Insert(exp))
	_, err := main.Save(ctx)
	require.NoError(t, err)

	// Local unsaved edit to the title.
	exp.Title = "Local title"

	bg := s.NewSession(StoreTrump)
	other, _, err := ByID[*model.PlannedExpense](ctx, bg, exp.ID, nil)
	require.NoError(t, err)
	other.Title = "Remote title"
	other.PlannedAmount = decimal.NewFromInt(200)
	cs, err := bg.Save(ctx)
	require.NoError(t, err)

	require.NoError(t, main.MergeChanges(ctx, cs))
	assert.Equal(t, "Local title", exp.Title, "dirty property keeps its in-memory value")
	assert.True(t, exp.PlannedAmount.Equal(decimal.NewFromInt(200)), "clean property is refreshed")
	assert.True(t, main.HasChanges())

	_, err = main.Save(ctx)
	require.NoError(t, err)
	got, _, err := ByID[*model.PlannedExpense](ctx, s.NewSession(StoreTrump), exp.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Local title", got.Title)
	assert.True(t, got.PlannedAmount.Equal(decimal.NewFromInt(200)))
}

func TestSession_MergeChanges_StoreTrumpAndDeletes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	main := s.NewSession(StoreTrump)
	exp := newTestExpense("Rent", "100")
	gone := newTestExpense("Gym", "30")
	require.NoError(t, main.Insert(exp))
	require.NoError(t, main.Insert(gone))
	_, err := main.Save(ctx)
	require.NoError(t, err)
	exp.Title = "Local title"

	bg := s.NewSession(StoreTrump)
	other, _, err := ByID[*model.PlannedExpense](ctx, bg, exp.ID, nil)
	require.NoError(t, err)
	other.Title = "Remote title"
	victim, _, err := ByID[*model.PlannedExpense](ctx, bg, gone.ID, nil)
	require.NoError(t, err)
	require.NoError(t, bg.Delete(victim))
	cs, err := bg.Save(ctx)
	require.NoError(t, err)

	require.NoError(t, main.MergeChanges(ctx, cs))
	assert.Equal(t, "Remote title", exp.Title)

	left, err := Fetch[*model.PlannedExpense](ctx, main, nil)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestSession_RollbackRestoresEverything(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := s.NewSession(InMemoryTrump)

	keep := newTestExpense("Keep", "1")
	del := newTestExpense("Delete me", "2")
	require.NoError(t, sess.Insert(keep))
	require.NoError(t, sess.Insert(del))
	_, err := sess.Save(ctx)
	require.NoError(t, err)

	keep.Title = "Changed"
	require.NoError(t, sess.Delete(del))
	added := newTestExpense("Added", "3")
	require.NoError(t, sess.Insert(added))

	sess.Rollback()

	assert.Equal(t, "Keep", keep.Title)
	assert.False(t, sess.IsDeleted(del))
	assert.Zero(t, added.PK)
	assert.False(t, sess.HasChanges())

	all, err := Fetch[*model.PlannedExpense](ctx, sess, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSession_FailedSaveCommitsNothing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := s.NewSession(InMemoryTrump)

	good := newTestExpense("Good", "1")
	require.NoError(t, sess.Insert(good))
	require.NoError(t, sess.Insert(newTestExpense("Also good", "2")))

	// Break the second statement of the transaction.
	_, err := s.db.Exec(`CREATE TRIGGER reject_also BEFORE INSERT ON planned_expenses
		WHEN NEW.title = 'Also good' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	_, err = sess.Save(ctx)
	require.Error(t, err)
	assert.Less(t, good.PK, int64(0), "keys are not reassigned on failure")

	n, err := s.Count(ctx, model.KindPlannedExpense, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, sess.HasChanges())
}

func TestSession_DuplicateLogicalIDsAreRepresentable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := s.NewSession(InMemoryTrump)

	a := newTestExpense("Dup", "1")
	b := newTestExpense("Dup", "1")
	b.ID = a.ID
	require.NoError(t, sess.Insert(a))
	require.NoError(t, sess.Insert(b))
	_, err := sess.Save(ctx)
	require.NoError(t, err)

	all, err := Fetch[*model.PlannedExpense](ctx, s.NewSession(StoreTrump), query.Equals{Field: model.ColID, Value: a.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.NotEqual(t, all[0].PK, all[1].PK)
}

func TestSession_DeleteRequiresRegisteredRecord(t *testing.T) {
	s := createTestStore(t)
	sess := s.NewSession(InMemoryTrump)
	assert.Error(t, sess.Delete(newTestExpense("x", "1")))
}

func TestImportRemote_NotifiesOnlyWhenEnabled(t *testing.T) {
	ctx := context.Background()

	local := createTestStore(t)
	assert.Nil(t, local.RemoteChanges())
	_, err := local.ImportRemote(ctx, func(ctx context.Context, sess *Session) error {
		return sess.Insert(newTestExpense("Remote", "1"))
	})
	require.NoError(t, err)

	mirrored := createTestStoreWith(t, Options{
		Path:                      t.TempDir() + "/mirrored.db",
		RemoteChangeNotifications: true,
		RemoteContainer:           "remote",
	})
	cs, err := mirrored.ImportRemote(ctx, func(ctx context.Context, sess *Session) error {
		return sess.Insert(newTestExpense("Remote", "1"))
	})
	require.NoError(t, err)

	select {
	case got := <-mirrored.RemoteChanges():
		assert.Equal(t, cs, got)
	default:
		t.Fatal("expected a remote change notification")
	}
}

func TestSessionContext(t *testing.T) {
	s := createTestStore(t)
	sess := s.NewSession(InMemoryTrump)

	_, ok := SessionFrom(context.Background())
	assert.False(t, ok)

	got, ok := SessionFrom(WithSession(context.Background(), sess))
	assert.True(t, ok)
	assert.Same(t, sess, got)
}
