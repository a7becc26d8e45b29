package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/ident"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/store"
	"github.com/offshore-budgeting/syncore/internal/testutil"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

func newCatalog(t *testing.T) (*Catalog, *testutil.Env, uuid.UUID) {
	t.Helper()
	env := testutil.NewEnv(t)
	reg := workspace.NewRegistry(workspace.Options{
		Host: env.Ctrl, Prefs: env.Prefs, Bus: env.Bus, Logger: testutil.DiscardLogger(),
	})
	ws, err := reg.EnsureActiveWorkspaceID(context.Background())
	require.NoError(t, err)
	env.Sub.Drain()
	return New(env.Ctrl, reg, env.Bus, testutil.DiscardLogger()), env, ws
}

func TestEnsureCategory_Idempotent(t *testing.T) {
	c, env, ws := newCatalog(t)
	ctx := context.Background()

	first, created, err := c.EnsureCategory(ctx, "Groceries", "#00ff00")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ident.CategoryID(ws, "Groceries"), first.ID)
	assert.Equal(t, ws, first.WorkspaceID)

	again, created, err := c.EnsureCategory(ctx, "  groceries ", "#000000")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "#00ff00", again.Color)

	evs := env.Sub.Drain()
	require.Len(t, evs, 1)
	assert.Equal(t, events.ReasonPropagation, evs[0].Reason)

	_, _, err = c.EnsureCategory(ctx, " ", "")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestEnsureCategory_MatchesLegacyRandomID(t *testing.T) {
	c, env, ws := newCatalog(t)
	ctx := context.Background()

	legacy := &model.Category{Name: "Café"}
	legacy.ID = uuid.New()
	legacy.WorkspaceID = ws
	err := env.Ctrl.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		if err := sess.Insert(legacy); err != nil {
			return err
		}
		_, err := sess.Save(ctx)
		return err
	})
	require.NoError(t, err)

	got, created, err := c.EnsureCategory(ctx, "CAFE", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, legacy.ID, got.ID)
}

func TestEnsureCard_MatchesLegacyNameWithInnerWhitespace(t *testing.T) {
	c, env, ws := newCatalog(t)
	ctx := context.Background()

	legacy := &model.Card{Name: "Chase  Sapphire"}
	legacy.ID = uuid.New()
	legacy.WorkspaceID = ws
	err := env.Ctrl.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		if err := sess.Insert(legacy); err != nil {
			return err
		}
		_, err := sess.Save(ctx)
		return err
	})
	require.NoError(t, err)

	got, created, err := c.EnsureCard(ctx, "Chase Sapphire")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, legacy.ID, got.ID)

	cards, err := c.Cards(ctx)
	require.NoError(t, err)
	assert.Len(t, cards, 1)
}

func TestEnsureCard(t *testing.T) {
	c, _, ws := newCatalog(t)
	ctx := context.Background()

	card, created, err := c.EnsureCard(ctx, "Visa")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ident.CardID(ws, "visa"), card.ID)

	_, created, err = c.EnsureCard(ctx, "VISA")
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = c.EnsureCard(ctx, "Amex")
	require.NoError(t, err)
	cards, err := c.Cards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "Amex", cards[0].Name)
}

func TestEnsureBudget(t *testing.T) {
	c, _, ws := newCatalog(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	b, created, err := c.EnsureBudget(ctx, BudgetInput{Start: start, End: end})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "March 2025", b.Name)
	assert.Equal(t, ident.BudgetID(ws, start, end), b.ID)

	later := start.Add(15 * time.Hour)
	again, created, err := c.EnsureBudget(ctx, BudgetInput{Name: "Renamed", Start: later, End: end})
	require.NoError(t, err)
	assert.False(t, created, "derived id depends on UTC days only")
	assert.Equal(t, b.ID, again.ID)

	_, _, err = c.EnsureBudget(ctx, BudgetInput{Start: end, End: start})
	assert.ErrorIs(t, err, ErrInvalidSpan)

	_, _, err = c.EnsureBudget(ctx, BudgetInput{Start: start.AddDate(0, 1, 0), End: end.AddDate(0, 1, 0)})
	require.NoError(t, err)
	budgets, err := c.Budgets(ctx)
	require.NoError(t, err)
	require.Len(t, budgets, 2)
	assert.True(t, budgets[0].StartDate.After(budgets[1].StartDate))
}

func TestCategories_ScopedToActiveWorkspace(t *testing.T) {
	c, env, _ := newCatalog(t)
	ctx := context.Background()

	foreign := &model.Category{Name: "Travel"}
	foreign.ID = uuid.New()
	foreign.WorkspaceID = ident.SeedWorkspaceID(workspace.WorkName)
	err := env.Ctrl.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		if err := sess.Insert(foreign); err != nil {
			return err
		}
		_, err := sess.Save(ctx)
		return err
	})
	require.NoError(t, err)

	_, _, err = c.EnsureCategory(ctx, "Food", "")
	require.NoError(t, err)
	cats, err := c.Categories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Food", cats[0].Name)

	_, created, err := c.EnsureCategory(ctx, "Travel", "")
	require.NoError(t, err)
	assert.True(t, created, "names in other workspaces do not match")
}
