package planned

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offshore-budgeting/syncore/internal/catalog"
	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/ident"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/store"
	"github.com/offshore-budgeting/syncore/internal/testutil"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

type fixture struct {
	env *testutil.Env
	reg *workspace.Registry
	cat *catalog.Catalog
	eng *Engine
	ws  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := testutil.NewEnv(t)
	logger := testutil.DiscardLogger()
	reg := workspace.NewRegistry(workspace.Options{
		Host: env.Ctrl, Prefs: env.Prefs, Bus: env.Bus, Logger: logger,
	})
	ws, err := reg.EnsureActiveWorkspaceID(context.Background())
	require.NoError(t, err)
	env.Sub.Drain()
	return &fixture{
		env: env,
		reg: reg,
		cat: catalog.New(env.Ctrl, reg, env.Bus, logger),
		eng: New(Options{
			Host: env.Ctrl, Workspaces: reg, Bus: env.Bus, Logger: logger,
			NewID: testutil.NewIDs("planned").Next,
		}),
		ws: ws,
	}
}

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) budget(t *testing.T, m time.Month) *model.Budget {
	t.Helper()
	start := day(m, 1)
	b, _, err := f.cat.EnsureBudget(context.Background(), catalog.BudgetInput{
		Start: start,
		End:   start.AddDate(0, 1, -1),
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) template(t *testing.T, title, planned string, date time.Time) *model.PlannedExpense {
	t.Helper()
	tmpl, err := f.eng.CreateTemplate(context.Background(), TemplateInput{
		Title:           title,
		PlannedAmount:   amount(planned),
		TransactionDate: date,
	})
	require.NoError(t, err)
	return tmpl
}

func (f *fixture) insert(t *testing.T, recs ...model.Record) {
	t.Helper()
	err := f.env.Ctrl.Do(context.Background(), func(ctx context.Context, sess *store.Session) error {
		for _, r := range recs {
			if err := sess.Insert(r); err != nil {
				return err
			}
		}
		_, err := sess.Save(ctx)
		return err
	})
	require.NoError(t, err)
}

func TestCreateTemplate_DeterministicAndUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tmpl := f.template(t, "Rent", "1600", day(time.January, 5))
	assert.Equal(t, ident.PresetTemplateID(f.ws, "Rent", amount("1600"), uuid.Nil, uuid.Nil), tmpl.ID)
	assert.True(t, tmpl.IsTemplate())

	_, err := f.eng.CreateTemplate(ctx, TemplateInput{Title: " rent ", PlannedAmount: amount("1600.00")})
	assert.ErrorIs(t, err, ErrPresetExists)

	_, err = f.eng.CreateTemplate(ctx, TemplateInput{Title: "  "})
	assert.ErrorIs(t, err, ErrEmptyTitle)

	f.template(t, "Gym", "40", time.Time{})
	all, err := f.eng.Templates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Gym", all[0].Title)
}

func TestEnsureChild_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t, "Rent", "1600", day(time.January, 5))
	feb := f.budget(t, time.February)

	for i := 0; i < 3; i++ {
		_, err := f.eng.EnsureChild(ctx, tmpl.ID, feb.ID)
		require.NoError(t, err)
	}

	kids, err := f.eng.Children(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	child := kids[0]
	assert.Equal(t, tmpl.ID, child.GlobalTemplateID)
	assert.Equal(t, feb.ID, child.BudgetID)
	assert.False(t, child.IsGlobal)
	assert.Equal(t, day(time.February, 5), child.TransactionDate)
	assert.Equal(t, f.ws, child.WorkspaceID)
}

func TestEnsureChild_ReflectsLatestTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t, "Rent", "1600", day(time.January, 5))
	feb := f.budget(t, time.February)
	_, err := f.eng.EnsureChild(ctx, tmpl.ID, feb.ID)
	require.NoError(t, err)

	food, _, err := f.cat.EnsureCategory(ctx, "Housing", "#fff")
	require.NoError(t, err)
	title, planned, catID := "Rent (new lease)", amount("1750"), food.ID
	_, err = f.eng.UpdateTemplateHierarchy(ctx, tmpl.ID, ScopeOnlyThis(), Changes{
		Title: &title, PlannedAmount: &planned, CategoryID: &catID,
	})
	require.NoError(t, err)

	child, err := f.eng.EnsureChild(ctx, tmpl.ID, feb.ID)
	require.NoError(t, err)
	assert.Equal(t, title, child.Title)
	assert.True(t, planned.Equal(child.PlannedAmount))
	assert.Equal(t, catID, child.CategoryID)
}

func TestEnsureChild_CollapsesDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t, "Rent", "1600", day(time.January, 5))
	feb := f.budget(t, time.February)

	mk := func(actual string, d int) *model.PlannedExpense {
		p := &model.PlannedExpense{
			Title: "Rent", PlannedAmount: amount("1600"), ActualAmount: amount(actual),
			TransactionDate: day(time.February, d), GlobalTemplateID: tmpl.ID, BudgetID: feb.ID,
		}
		p.ID = uuid.New()
		p.WorkspaceID = f.ws
		return p
	}
	low, high, highLater := mk("0", 3), mk("1600", 4), mk("1600", 9)
	f.insert(t, low, high, highLater)

	child, err := f.eng.EnsureChild(ctx, tmpl.ID, feb.ID)
	require.NoError(t, err)
	assert.Same(t, highLater, child, "highest actual, then latest date")

	kids, err := f.eng.Children(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Len(t, kids, 1)
}

func TestEnsureChild_KeepsInRangeDateAndFixesOutOfRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t, "Rent", "1600", day(time.January, 5))
	feb := f.budget(t, time.February)

	child, err := f.eng.EnsureChild(ctx, tmpl.ID, feb.ID)
	require.NoError(t, err)

	moved := day(time.February, 20)
	_, err = f.eng.UpdateTemplateHierarchy(ctx, child.ID, ScopeOnlyThis(), Changes{TransactionDate: &moved})
	require.NoError(t, err)
	child, err = f.eng.EnsureChild(ctx, tmpl.ID, feb.ID)
	require.NoError(t, err)
	assert.Equal(t, moved, child.TransactionDate, "user-chosen date inside the budget is kept")

	stray := day(time.April, 1)
	_, err = f.eng.UpdateTemplateHierarchy(ctx, child.ID, ScopeOnlyThis(), Changes{TransactionDate: &stray})
	require.NoError(t, err)
	child, err = f.eng.EnsureChild(ctx, tmpl.ID, feb.ID)
	require.NoError(t, err)
	assert.Equal(t, day(time.February, 5), child.TransactionDate)
}

func TestEnsureChild_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := f.template(t, "Rent", "1600", time.Time{})
	feb := f.budget(t, time.February)

	_, err := f.eng.EnsureChild(ctx, uuid.New(), feb.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.eng.EnsureChild(ctx, tmpl.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	child, err := f.eng.EnsureChild(ctx, tmpl.ID, feb.ID)
	require.NoError(t, err)
	_, err = f.eng.EnsureChild(ctx, child.ID, feb.ID)
	assert.ErrorIs(t, err, ErrNotFound, "a child is not a template")
}

// Rent attached to two budgets, edited with All, then detached from one.
func TestRentScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	today := day(time.January, 15)

	rent := f.template(t, "Rent", "1600", day(time.January, 1))
	b1, b2 := f.budget(t, time.January), f.budget(t, time.February)

	diff, err := f.eng.SetTemplateBudgets(ctx, rent.ID, []uuid.UUID{b1.ID, b2.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{b1.ID, b2.ID}, diff.Added)

	kids, err := f.eng.Children(ctx, rent.ID)
	require.NoError(t, err)
	require.Len(t, kids, 2)
	for _, k := range kids {
		assert.Equal(t, rent.ID, k.GlobalTemplateID)
	}

	newAmount := amount("1650")
	res, err := f.eng.UpdateTemplateHierarchy(ctx, rent.ID, ScopeAll(today), Changes{PlannedAmount: &newAmount})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Children)
	kids, err = f.eng.Children(ctx, rent.ID)
	require.NoError(t, err)
	for _, k := range kids {
		assert.True(t, newAmount.Equal(k.PlannedAmount))
	}

	var b1Child *model.PlannedExpense
	for _, k := range kids {
		if k.BudgetID == b1.ID {
			b1Child = k
		}
	}
	require.NotNil(t, b1Child)
	b1Before := *b1Child

	diff, err = f.eng.SetTemplateBudgets(ctx, rent.ID, []uuid.UUID{b1.ID})
	require.NoError(t, err)
	assert.Empty(t, diff.Added)
	assert.Equal(t, []uuid.UUID{b2.ID}, diff.Removed)

	kids, err = f.eng.Children(ctx, rent.ID)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Equal(t, b1Before.ID, kids[0].ID)
	assert.Equal(t, b1Before.PK, kids[0].PK)
	assert.True(t, b1Before.PlannedAmount.Equal(kids[0].PlannedAmount))
	assert.Equal(t, b1Before.TransactionDate, kids[0].TransactionDate)
}

func TestUpdateHierarchy_ChildEditScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rent := f.template(t, "Rent", "1600", day(time.January, 10))
	jan, feb, mar := f.budget(t, time.January), f.budget(t, time.February), f.budget(t, time.March)
	_, err := f.eng.SetTemplateBudgets(ctx, rent.ID, []uuid.UUID{jan.ID, feb.ID, mar.ID})
	require.NoError(t, err)

	byBudget := func() map[uuid.UUID]*model.PlannedExpense {
		kids, err := f.eng.Children(ctx, rent.ID)
		require.NoError(t, err)
		out := map[uuid.UUID]*model.PlannedExpense{}
		for _, k := range kids {
			out[k.BudgetID] = k
		}
		return out
	}
	febChild := byBudget()[feb.ID]

	// Future from the February child (no reference date: its own date is the pivot).
	v := amount("1700")
	res, err := f.eng.UpdateTemplateHierarchy(ctx, febChild.ID, Scope{Kind: Future}, Changes{PlannedAmount: &v})
	require.NoError(t, err)
	assert.True(t, res.TemplateUpdated)
	assert.Equal(t, 1, res.Children)
	kids := byBudget()
	assert.True(t, amount("1600").Equal(kids[jan.ID].PlannedAmount))
	assert.True(t, v.Equal(kids[feb.ID].PlannedAmount))
	assert.True(t, v.Equal(kids[mar.ID].PlannedAmount))

	templates, err := f.eng.Templates(ctx)
	require.NoError(t, err)
	assert.True(t, v.Equal(templates[0].PlannedAmount), "template inherits the edit")

	// OnlyThis touches the child alone.
	w := amount("5")
	res, err = f.eng.UpdateTemplateHierarchy(ctx, kids[jan.ID].ID, ScopeOnlyThis(), Changes{ActualAmount: &w})
	require.NoError(t, err)
	assert.False(t, res.TemplateUpdated)
	assert.Zero(t, res.Children)
	kids = byBudget()
	assert.True(t, w.Equal(kids[jan.ID].ActualAmount))
	assert.True(t, kids[feb.ID].ActualAmount.IsZero())

	// Past relative to mid-February.
	title := "Rent (past)"
	_, err = f.eng.UpdateTemplateHierarchy(ctx, kids[mar.ID].ID, ScopePast(day(time.February, 15)), Changes{Title: &title})
	require.NoError(t, err)
	kids = byBudget()
	assert.Equal(t, title, kids[jan.ID].Title)
	assert.Equal(t, title, kids[feb.ID].Title)
	assert.Equal(t, title, kids[mar.ID].Title, "the edited expense itself always changes")
}

func TestUpdateHierarchy_PublishesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rent := f.template(t, "Rent", "1600", day(time.January, 1))
	_, err := f.eng.SetTemplateBudgets(ctx, rent.ID, []uuid.UUID{f.budget(t, time.January).ID, f.budget(t, time.February).ID})
	require.NoError(t, err)
	f.env.Sub.Drain()

	v := amount("1")
	_, err = f.eng.UpdateTemplateHierarchy(ctx, rent.ID, ScopeAll(time.Time{}), Changes{ActualAmount: &v})
	require.NoError(t, err)
	evs := f.env.Sub.Drain()
	require.Len(t, evs, 1)
	assert.Equal(t, events.ReasonPropagation, evs[0].Reason)
	assert.Equal(t, 3, evs[0].Rows)
}

func TestUpdateHierarchy_UnlinkedExpense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	feb := f.budget(t, time.February)
	oneOff := &model.PlannedExpense{Title: "Dentist", PlannedAmount: amount("90"), BudgetID: feb.ID}
	oneOff.ID = uuid.New()
	oneOff.WorkspaceID = f.ws
	f.insert(t, oneOff)

	title := "Dentist (moved)"
	res, err := f.eng.UpdateTemplateHierarchy(ctx, oneOff.ID, ScopeAll(time.Time{}), Changes{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, res.Template)
	assert.Equal(t, title, oneOff.Title)

	_, err = f.eng.UpdateTemplateHierarchy(ctx, uuid.New(), ScopeAll(time.Time{}), Changes{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveChildAndDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rent := f.template(t, "Rent", "1600", time.Time{})
	gym := f.template(t, "Gym", "40", time.Time{})
	jan, feb := f.budget(t, time.January), f.budget(t, time.February)
	_, err := f.eng.SetTemplateBudgets(ctx, rent.ID, []uuid.UUID{jan.ID, feb.ID})
	require.NoError(t, err)
	_, err = f.eng.SetTemplateBudgets(ctx, gym.ID, []uuid.UUID{jan.ID, feb.ID})
	require.NoError(t, err)

	removed, err := f.eng.RemoveChild(ctx, rent.ID, jan.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = f.eng.RemoveChild(ctx, rent.ID, jan.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := f.eng.DeleteBudget(ctx, feb.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "budget plus both children")

	n, err = f.eng.DeleteTemplate(ctx, gym.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "template plus January child")

	templates, err := f.eng.Templates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	kids, err := f.eng.Children(ctx, rent.ID)
	require.NoError(t, err)
	assert.Empty(t, kids)
}

func TestAlignedTransactionDate(t *testing.T) {
	feb := &model.Budget{StartDate: day(time.February, 1), EndDate: day(time.February, 28)}
	tests := []struct {
		name string
		tmpl time.Time
		want time.Time
	}{
		{"day carried into budget month", time.Date(2024, 7, 12, 8, 30, 0, 0, time.UTC), time.Date(2025, 2, 12, 8, 30, 0, 0, time.UTC)},
		{"overflow clamps to end", day(time.January, 31), day(time.February, 28)},
		{"no template date uses start", time.Time{}, day(time.February, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AlignedTransactionDate(&model.PlannedExpense{TransactionDate: tt.tmpl}, feb)
			assert.Equal(t, tt.want, got)
		})
	}

	mid := &model.Budget{StartDate: day(time.March, 15), EndDate: day(time.April, 14)}
	got := AlignedTransactionDate(&model.PlannedExpense{TransactionDate: day(time.January, 3)}, mid)
	assert.Equal(t, day(time.March, 15), got, "before start clamps to start")
}
