package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Workspace is a user-selectable partition of records.
type Workspace struct {
	Row
	Name                  string
	IsMirrored            bool
	ColorTag              string
	BudgetPeriod          Period
	BudgetPeriodUpdatedAt time.Time
}

func (*Workspace) Kind() Kind { return KindWorkspace }

func (w *Workspace) Fields() []Field {
	return []Field{
		{ColID, &w.ID},
		{ColName, &w.Name},
		{"is_mirrored", &w.IsMirrored},
		{"color_tag", &w.ColorTag},
		{"budget_period", &w.BudgetPeriod},
		{"budget_period_updated_at", &w.BudgetPeriodUpdatedAt},
	}
}

// Budget is a dated period that planned expenses attach to.
type Budget struct {
	Base
	Name        string
	StartDate   time.Time
	EndDate     time.Time
	IsRecurring bool
}

func (*Budget) Kind() Kind { return KindBudget }

func (b *Budget) Fields() []Field {
	return append(b.baseFields(),
		Field{ColName, &b.Name},
		Field{"start_date", &b.StartDate},
		Field{"end_date", &b.EndDate},
		Field{"is_recurring", &b.IsRecurring},
	)
}

// Card is a payment card.
type Card struct {
	Base
	Name string
}

func (*Card) Kind() Kind { return KindCard }

func (c *Card) Fields() []Field {
	return append(c.baseFields(), Field{ColName, &c.Name})
}

// Category groups expenses.
type Category struct {
	Base
	Name  string
	Color string
}

func (*Category) Kind() Kind { return KindCategory }

func (c *Category) Fields() []Field {
	return append(c.baseFields(),
		Field{ColName, &c.Name},
		Field{"color", &c.Color},
	)
}

// Income is an expected or received income entry.
type Income struct {
	Base
	Source    string
	Amount    decimal.Decimal
	Date      time.Time
	IsPlanned bool
}

func (*Income) Kind() Kind { return KindIncome }

func (i *Income) Fields() []Field {
	return append(i.baseFields(),
		Field{"source", &i.Source},
		Field{"amount", &i.Amount},
		Field{"date", &i.Date},
		Field{"is_planned", &i.IsPlanned},
	)
}

// PlannedExpense is either a global template (IsGlobal, no budget) or a
// budget-attached child linked to its template by GlobalTemplateID. Plain
// one-off planned expenses attach to a budget with no template link.
type PlannedExpense struct {
	Base
	Title            string
	PlannedAmount    decimal.Decimal
	ActualAmount     decimal.Decimal
	TransactionDate  time.Time
	IsGlobal         bool
	GlobalTemplateID uuid.UUID
	BudgetID         uuid.UUID
	CategoryID       uuid.UUID
	CardID           uuid.UUID
}

func (*PlannedExpense) Kind() Kind { return KindPlannedExpense }

func (p *PlannedExpense) Fields() []Field {
	return append(p.baseFields(),
		Field{"title", &p.Title},
		Field{"planned_amount", &p.PlannedAmount},
		Field{"actual_amount", &p.ActualAmount},
		Field{"transaction_date", &p.TransactionDate},
		Field{ColIsGlobal, &p.IsGlobal},
		Field{ColGlobalTemplateID, &p.GlobalTemplateID},
		Field{ColBudgetID, &p.BudgetID},
		Field{ColCategoryID, &p.CategoryID},
		Field{ColCardID, &p.CardID},
	)
}

// IsTemplate reports whether p is a global template.
func (p *PlannedExpense) IsTemplate() bool {
	return p.IsGlobal && p.BudgetID == uuid.Nil
}

// IsChildOf reports whether p is an instance of the template with id templateID.
func (p *PlannedExpense) IsChildOf(templateID uuid.UUID) bool {
	return !p.IsGlobal && p.BudgetID != uuid.Nil && templateID != uuid.Nil && p.GlobalTemplateID == templateID
}

// UnplannedExpense is an ad-hoc spend.
type UnplannedExpense struct {
	Base
	Title           string
	Amount          decimal.Decimal
	TransactionDate time.Time
	CategoryID      uuid.UUID
	CardID          uuid.UUID
}

func (*UnplannedExpense) Kind() Kind { return KindUnplannedExpense }

func (u *UnplannedExpense) Fields() []Field {
	return append(u.baseFields(),
		Field{"title", &u.Title},
		Field{"amount", &u.Amount},
		Field{"transaction_date", &u.TransactionDate},
		Field{ColCategoryID, &u.CategoryID},
		Field{ColCardID, &u.CardID},
	)
}
