// Package query defines the record filter language shared by the SQL
// compiler and the in-memory matcher.
//
// Predicate is a sealed interface: only types in this package implement it,
// so both backends can switch over it exhaustively. Every predicate compiles
// to parameterized SQL (values are never interpolated) and evaluates in
// memory with identical semantics, which lets a session filter unsaved
// objects the same way the database filters rows.
//
// Values are normalized through Encode before comparison, so a uuid.Nil
// compares equal to SQL NULL and decimals compare by numeric value.
package query

// Predicate is a filter condition over one record.
type Predicate interface {
	predicateNode()
}

// Equals matches field = value. A nil or zero-identity value matches NULL.
//
//	Equals{Field: "workspace_id", Value: activeID}
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// NotEquals matches field <> value, treating NULL as distinct from every
// non-NULL value. A nil value matches every non-NULL field.
type NotEquals struct {
	Field string
	Value any
}

func (NotEquals) predicateNode() {}

// In matches field against any of Values. An empty list matches nothing.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// And is a conjunction. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// IsNull matches a NULL (or zero-identity) field.
func IsNull(field string) Predicate {
	return Equals{Field: field, Value: nil}
}

// NotNull matches a non-NULL field.
func NotNull(field string) Predicate {
	return NotEquals{Field: field, Value: nil}
}

// All combines predicates, dropping nils. Returns nil when nothing remains.
func All(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Predicates: kept}
	}
}
