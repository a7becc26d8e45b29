// Package model defines the persisted budgeting entities.
//
// Every entity has two identities. Row.PK is the store-assigned physical key
// and is unique. Row.ID is the logical identifier shared across devices; it is
// nullable and deliberately NOT unique, because a merged dataset can hold
// several rows claiming the same logical record until reconciliation runs.
//
// Entities expose their persisted columns through Fields, which returns
// pointers into the struct. The store scans into and encodes from those
// pointers, so adding a column means adding one Field entry and one column in
// the schema.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind names an entity type.
type Kind string

const (
	KindWorkspace        Kind = "workspace"
	KindBudget           Kind = "budget"
	KindCard             Kind = "card"
	KindCategory         Kind = "category"
	KindIncome           Kind = "income"
	KindPlannedExpense   Kind = "planned_expense"
	KindUnplannedExpense Kind = "unplanned_expense"
)

// ScopedKinds lists the workspace-scoped kinds, leaves first: kinds that are
// referenced by others come before the kinds referencing them.
var ScopedKinds = []Kind{
	KindCategory,
	KindCard,
	KindBudget,
	KindIncome,
	KindPlannedExpense,
	KindUnplannedExpense,
}

// AllKinds lists every kind, workspaces first.
var AllKinds = append([]Kind{KindWorkspace}, ScopedKinds...)

// Table returns the SQL table backing the kind.
func (k Kind) Table() string {
	switch k {
	case KindWorkspace:
		return "workspaces"
	case KindBudget:
		return "budgets"
	case KindCard:
		return "cards"
	case KindCategory:
		return "categories"
	case KindIncome:
		return "incomes"
	case KindPlannedExpense:
		return "planned_expenses"
	case KindUnplannedExpense:
		return "unplanned_expenses"
	default:
		return ""
	}
}

// Common column names.
const (
	ColID               = "id"
	ColWorkspaceID      = "workspace_id"
	ColName             = "name"
	ColBudgetID         = "budget_id"
	ColCategoryID       = "category_id"
	ColCardID           = "card_id"
	ColGlobalTemplateID = "global_template_id"
	ColIsGlobal         = "is_global"
)

// Field binds a column name to a pointer into an entity.
type Field struct {
	Column string
	Ptr    any
}

// Record is implemented by every persisted entity.
type Record interface {
	Kind() Kind
	Key() *Row
	Fields() []Field
}

// Scoped is a record partitioned by workspace.
type Scoped interface {
	Record
	Workspace() *uuid.UUID
}

// Row carries the physical and logical identity of a record.
type Row struct {
	PK int64
	ID uuid.UUID
}

// Key returns the row itself so embedding types satisfy Record.
func (r *Row) Key() *Row { return r }

// Base is embedded by every workspace-scoped entity.
type Base struct {
	Row
	WorkspaceID uuid.UUID
}

// Workspace returns a pointer to the workspace reference.
func (b *Base) Workspace() *uuid.UUID { return &b.WorkspaceID }

func (b *Base) baseFields() []Field {
	return []Field{
		{ColID, &b.ID},
		{ColWorkspaceID, &b.WorkspaceID},
	}
}

// Reference describes a foreign-key-like column pointing at another kind's
// logical id.
type Reference struct {
	Column string
	Target Kind
}

// References returns the outgoing references of a kind.
func References(k Kind) []Reference {
	switch k {
	case KindPlannedExpense:
		return []Reference{
			{ColBudgetID, KindBudget},
			{ColCategoryID, KindCategory},
			{ColCardID, KindCard},
			{ColGlobalTemplateID, KindPlannedExpense},
		}
	case KindUnplannedExpense:
		return []Reference{
			{ColCategoryID, KindCategory},
			{ColCardID, KindCard},
		}
	default:
		return nil
	}
}

// New returns a zero entity of the given kind.
func New(k Kind) (Record, error) {
	switch k {
	case KindWorkspace:
		return &Workspace{}, nil
	case KindBudget:
		return &Budget{}, nil
	case KindCard:
		return &Card{}, nil
	case KindCategory:
		return &Category{}, nil
	case KindIncome:
		return &Income{}, nil
	case KindPlannedExpense:
		return &PlannedExpense{}, nil
	case KindUnplannedExpense:
		return &UnplannedExpense{}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", k)
	}
}

// Columns returns the column names of a record in Fields order.
func Columns(r Record) []string {
	fields := r.Fields()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Column
	}
	return cols
}

// FieldPtr returns the pointer bound to column, or nil.
func FieldPtr(r Record, column string) any {
	for _, f := range r.Fields() {
		if f.Column == column {
			return f.Ptr
		}
	}
	return nil
}

// UUIDField returns the uuid-typed column of a record, or nil when the
// column does not exist or is not a uuid.
func UUIDField(r Record, column string) *uuid.UUID {
	p, _ := FieldPtr(r, column).(*uuid.UUID)
	return p
}
