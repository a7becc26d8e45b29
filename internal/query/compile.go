package query

import (
	"fmt"
	"regexp"
	"strings"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Select builds a full SELECT over table for the given columns.
// Rows are always ordered by physical key so results are deterministic.
func Select(table string, columns []string, p Predicate) (string, []any, error) {
	if !identPattern.MatchString(table) {
		return "", nil, fmt.Errorf("invalid table name %q", table)
	}
	for _, c := range columns {
		if !identPattern.MatchString(c) {
			return "", nil, fmt.Errorf("invalid column name %q", c)
		}
	}

	where, params, err := Where(p)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("SELECT pk, %s FROM %s WHERE %s ORDER BY pk ASC",
		strings.Join(columns, ", "), table, where)
	return sql, params, nil
}

// Where compiles a predicate to a WHERE fragment with ? placeholders.
// A nil predicate compiles to an always-true condition.
func Where(p Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case Equals:
		return compileEquals(pred)
	case *Equals:
		return compileEquals(*pred)
	case NotEquals:
		return compileNotEquals(pred)
	case *NotEquals:
		return compileNotEquals(*pred)
	case In:
		return compileIn(pred)
	case *In:
		return compileIn(*pred)
	case And:
		return compileAnd(pred)
	case *And:
		return compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func field(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid field name %q", name)
	}
	return name, nil
}

func compileEquals(eq Equals) (string, []any, error) {
	f, err := field(eq.Field)
	if err != nil {
		return "", nil, err
	}
	v, err := Encode(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", f, err)
	}
	if v == nil {
		return f + " IS NULL", nil, nil
	}
	return f + " = ?", []any{v}, nil
}

func compileNotEquals(ne NotEquals) (string, []any, error) {
	f, err := field(ne.Field)
	if err != nil {
		return "", nil, err
	}
	v, err := Encode(ne.Value)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", f, err)
	}
	if v == nil {
		return f + " IS NOT NULL", nil, nil
	}
	return fmt.Sprintf("(%s IS NULL OR %s <> ?)", f, f), []any{v}, nil
}

func compileIn(in In) (string, []any, error) {
	f, err := field(in.Field)
	if err != nil {
		return "", nil, err
	}
	if len(in.Values) == 0 {
		return "1 = 0", nil, nil
	}

	var (
		params      []any
		marks       []string
		includeNull bool
	)
	for _, raw := range in.Values {
		v, err := Encode(raw)
		if err != nil {
			return "", nil, fmt.Errorf("encode %s: %w", f, err)
		}
		if v == nil {
			includeNull = true
			continue
		}
		params = append(params, v)
		marks = append(marks, "?")
	}

	var parts []string
	if len(marks) > 0 {
		parts = append(parts, fmt.Sprintf("%s IN (%s)", f, strings.Join(marks, ", ")))
	}
	if includeNull {
		parts = append(parts, f+" IS NULL")
	}
	if len(parts) == 1 {
		return parts[0], params, nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", params, nil
}

func compileAnd(and And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var (
		parts  []string
		params []any
	)
	for _, p := range and.Predicates {
		sql, ps, err := Where(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, ps...)
	}
	return strings.Join(parts, " AND "), params, nil
}
