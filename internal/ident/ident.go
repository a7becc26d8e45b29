// Package ident derives deterministic record identifiers.
//
// Two devices that create "the same" record independently (same workspace,
// same natural key) compute the same UUID, so a later merge sees one logical
// record instead of two. Every function here is pure: no I/O, no clock, no
// randomness.
//
// Identifiers are RFC 4122 version 5 UUIDs (SHA-1) over a fixed namespace.
// The name hashed is a pipe-separated key with an explicit kind prefix for
// domain separation:
//
//	category|<WORKSPACE>|name=<normalized name>
//	card|<WORKSPACE>|name=<normalized name>
//	budget|<WORKSPACE>|start=YYYY-MM-DD|end=YYYY-MM-DD
//	preset|<WORKSPACE>|title=<normalized>|planned=<0.00>|category=<UUID|nil>|card=<UUID|nil>
//
// Workspace and reference UUIDs are rendered uppercase so keys stay
// byte-identical with identifiers already minted by existing clients.
// Changing the namespace or any key format changes every derived id.
package ident

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Namespace is the fixed v5 namespace for all derived identifiers.
var Namespace = uuid.MustParse("1F0B11C1-1A1D-4A0B-AE7A-36A0D9B07E8C")

// Kind prefixes for domain separation.
const (
	KindCategory  = "category"
	KindCard      = "card"
	KindBudget    = "budget"
	KindPreset    = "preset"
	KindWorkspace = "workspace"
)

// Derive hashes kind, workspace and pre-rendered natural key parts into a
// version 5 UUID. Parts are appended verbatim, so callers normalize first.
func Derive(workspaceID uuid.UUID, kind string, parts ...string) uuid.UUID {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte('|')
	b.WriteString(upper(workspaceID))
	for _, p := range parts {
		b.WriteByte('|')
		b.WriteString(p)
	}
	return FromKey(b.String())
}

// FromKey hashes an already-assembled key.
func FromKey(key string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(key))
}

// CategoryID derives the id of the category named name in a workspace.
func CategoryID(workspaceID uuid.UUID, name string) uuid.UUID {
	return Derive(workspaceID, KindCategory, "name="+NormalizeName(name))
}

// CardID derives the id of the card named name in a workspace.
func CardID(workspaceID uuid.UUID, name string) uuid.UUID {
	return Derive(workspaceID, KindCard, "name="+NormalizeName(name))
}

// BudgetID derives the id of the budget covering [start, end] in a workspace.
// Only the UTC calendar days matter.
func BudgetID(workspaceID uuid.UUID, start, end time.Time) uuid.UUID {
	return Derive(workspaceID, KindBudget, "start="+DayKey(start), "end="+DayKey(end))
}

// PresetTemplateID derives the id of a global planned-expense template.
// Nil category or card ids render as "nil".
func PresetTemplateID(workspaceID uuid.UUID, title string, planned decimal.Decimal, categoryID, cardID uuid.UUID) uuid.UUID {
	return Derive(workspaceID, KindPreset,
		"title="+NormalizeName(title),
		"planned="+MoneyKey(planned),
		"category="+optional(categoryID),
		"card="+optional(cardID),
	)
}

// SeedWorkspaceID derives the well-known id of a seeded workspace. Seed ids
// are global: they do not depend on any other workspace.
func SeedWorkspaceID(name string) uuid.UUID {
	return FromKey(KindWorkspace + "|seed|name=" + NormalizeName(name))
}

// DayKey renders the UTC calendar day of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MoneyKey renders an amount rounded half away from zero to cents.
func MoneyKey(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

func upper(id uuid.UUID) string {
	return strings.ToUpper(id.String())
}

func optional(id uuid.UUID) string {
	if id == uuid.Nil {
		return "nil"
	}
	return upper(id)
}
