package harness

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/offshore-budgeting/syncore/internal/ident"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

const dateLayout = "2006-01-02"

// unbound renders an id no alias was bound to.
const unbound = "<unbound>"

// bindings maps scenario aliases to ids and back.
type bindings struct {
	byName map[string]uuid.UUID
	byID   map[uuid.UUID]string
}

func newBindings() *bindings {
	b := &bindings{byName: make(map[string]uuid.UUID), byID: make(map[uuid.UUID]string)}
	b.bind("personal", workspace.PersonalID)
	b.bind("work", ident.SeedWorkspaceID(workspace.WorkName))
	b.bind("education", ident.SeedWorkspaceID(workspace.EducationName))
	return b
}

func (b *bindings) bind(name string, id uuid.UUID) {
	b.byName[name] = id
	if _, taken := b.byID[id]; !taken {
		b.byID[id] = name
	}
}

// id resolves "$name", a literal UUID, or null.
func (b *bindings) id(v any) (uuid.UUID, error) {
	switch x := v.(type) {
	case nil:
		return uuid.Nil, nil
	case uuid.UUID:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return uuid.Nil, nil
		}
		if name, ok := strings.CutPrefix(s, "$"); ok {
			id, found := b.byName[name]
			if !found {
				return uuid.Nil, fmt.Errorf("unbound alias %q", s)
			}
			return id, nil
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, fmt.Errorf("not an alias or uuid: %q", s)
		}
		return id, nil
	default:
		return uuid.Nil, fmt.Errorf("expected id, got %T", v)
	}
}

// render shows an id as its alias.
func (b *bindings) render(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	if name, ok := b.byID[id]; ok {
		return "$" + name
	}
	return unbound
}

func (b *bindings) renderAll(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = b.render(id)
	}
	return out
}

func parseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x.UTC(), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, nil
		}
		if t, err := time.Parse(dateLayout, s); err == nil {
			return t, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("not a date: %q", s)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("expected date, got %T", v)
	}
}

func parseDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Zero, fmt.Errorf("not an amount: %q", x)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("expected amount, got %T", v)
	}
}

func parseBool(v any) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	default:
		return false, fmt.Errorf("expected bool, got %T", v)
	}
}

func parseString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int, int64, float64, bool:
		return fmt.Sprint(x), nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

// setField writes a scenario value into a record column.
func (b *bindings) setField(ptr any, v any) error {
	switch p := ptr.(type) {
	case *uuid.UUID:
		id, err := b.id(v)
		if err != nil {
			return err
		}
		*p = id
	case *string:
		s, err := parseString(v)
		if err != nil {
			return err
		}
		*p = s
	case *bool:
		x, err := parseBool(v)
		if err != nil {
			return err
		}
		*p = x
	case *model.Period:
		s, err := parseString(v)
		if err != nil {
			return err
		}
		if s == "" {
			*p = ""
			return nil
		}
		period, err := model.ParsePeriod(s)
		if err != nil {
			return err
		}
		*p = period
	case *time.Time:
		t, err := parseTime(v)
		if err != nil {
			return err
		}
		*p = t
	case *decimal.Decimal:
		d, err := parseDecimal(v)
		if err != nil {
			return err
		}
		*p = d
	default:
		return fmt.Errorf("unsupported column type %T", ptr)
	}
	return nil
}

// display renders a column value the way scenarios write it.
func (b *bindings) display(ptr any) string {
	switch p := ptr.(type) {
	case *uuid.UUID:
		return b.render(*p)
	case *string:
		return *p
	case *bool:
		return strconv.FormatBool(*p)
	case *model.Period:
		return string(*p)
	case *time.Time:
		if p.IsZero() {
			return ""
		}
		t := p.UTC()
		if t.Equal(t.Truncate(24 * time.Hour)) {
			return t.Format(dateLayout)
		}
		return t.Format(time.RFC3339)
	case *decimal.Decimal:
		return p.String()
	default:
		return fmt.Sprint(ptr)
	}
}

// matchField compares a record column against an expected scenario value.
func (b *bindings) matchField(ptr any, want any) (bool, error) {
	switch p := ptr.(type) {
	case *uuid.UUID:
		id, err := b.id(want)
		return err == nil && *p == id, err
	case *string:
		s, err := parseString(want)
		return err == nil && *p == s, err
	case *bool:
		x, err := parseBool(want)
		return err == nil && *p == x, err
	case *model.Period:
		s, err := parseString(want)
		return err == nil && strings.EqualFold(string(*p), s), err
	case *time.Time:
		t, err := parseTime(want)
		return err == nil && p.Equal(t), err
	case *decimal.Decimal:
		d, err := parseDecimal(want)
		return err == nil && p.Equal(d), err
	default:
		return false, fmt.Errorf("unsupported column type %T", ptr)
	}
}

// matches reports whether rec satisfies every where clause.
func (b *bindings) matches(rec model.Record, where map[string]any) (bool, error) {
	for col, want := range where {
		ptr := model.FieldPtr(rec, col)
		if ptr == nil {
			return false, fmt.Errorf("%s has no column %q", rec.Kind(), col)
		}
		ok, err := b.matchField(ptr, want)
		if err != nil {
			return false, fmt.Errorf("%s: %w", col, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// args reads typed step arguments.
type args struct {
	raw map[string]any
	b   *bindings
}

func (a args) has(key string) bool {
	_, ok := a.raw[key]
	return ok
}

func (a args) str(key string) (string, error) {
	s, err := parseString(a.raw[key])
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return s, nil
}

func (a args) id(key string) (uuid.UUID, error) {
	id, err := a.b.id(a.raw[key])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", key, err)
	}
	return id, nil
}

func (a args) requiredID(key string) (uuid.UUID, error) {
	id, err := a.id(key)
	if err == nil && id == uuid.Nil {
		err = fmt.Errorf("%s is required", key)
	}
	return id, err
}

func (a args) ids(key string) ([]uuid.UUID, error) {
	raw, ok := a.raw[key].([]any)
	if !ok && a.raw[key] != nil {
		return nil, fmt.Errorf("%s: expected a list", key)
	}
	out := make([]uuid.UUID, 0, len(raw))
	for i, v := range raw {
		id, err := a.b.id(v)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func (a args) time(key string) (time.Time, error) {
	t, err := parseTime(a.raw[key])
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func (a args) decimal(key string) (decimal.Decimal, error) {
	d, err := parseDecimal(a.raw[key])
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func (a args) bool(key string) (bool, error) {
	x, err := parseBool(a.raw[key])
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return x, nil
}

func (a args) fields(key string) (map[string]any, error) {
	switch m := a.raw[key].(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return m, nil
	default:
		return nil, fmt.Errorf("%s: expected a mapping", key)
	}
}
