package planned

import (
	"fmt"
	"strings"
	"time"
)

// ScopeKind selects which related expenses an edit reaches.
type ScopeKind int

const (
	// OnlyThis updates the edited expense alone.
	OnlyThis ScopeKind = iota
	// Past also updates children dated on or before the reference.
	Past
	// Future also updates children dated on or after the reference.
	Future
	// All also updates every child.
	All
)

var scopeNames = map[ScopeKind]string{
	OnlyThis: "only_this",
	Past:     "past",
	Future:   "future",
	All:      "all",
}

func (k ScopeKind) String() string {
	if s, ok := scopeNames[k]; ok {
		return s
	}
	return fmt.Sprintf("scope(%d)", int(k))
}

// Scope is an update scope with an optional reference date. A zero Ref
// means the scope carries none.
type Scope struct {
	Kind ScopeKind
	Ref  time.Time
}

// ScopeOnlyThis returns the OnlyThis scope.
func ScopeOnlyThis() Scope { return Scope{Kind: OnlyThis} }

// ScopePast returns Past(ref).
func ScopePast(ref time.Time) Scope { return Scope{Kind: Past, Ref: ref} }

// ScopeFuture returns Future(ref).
func ScopeFuture(ref time.Time) Scope { return Scope{Kind: Future, Ref: ref} }

// ScopeAll returns All(ref).
func ScopeAll(ref time.Time) Scope { return Scope{Kind: All, Ref: ref} }

// ParseScope parses only_this, past, future or all.
func ParseScope(name string, ref time.Time) (Scope, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "_")
	for k, s := range scopeNames {
		if s == key || (k == OnlyThis && key == "onlythis") {
			if k == OnlyThis {
				return ScopeOnlyThis(), nil
			}
			return Scope{Kind: k, Ref: ref}, nil
		}
	}
	return Scope{}, fmt.Errorf("unknown update scope %q", name)
}

func (s Scope) String() string {
	if s.Kind == OnlyThis || s.Ref.IsZero() {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Ref.UTC().Format(time.RFC3339))
}

// ReferenceDate returns the scope's reference date, if any.
func (s Scope) ReferenceDate() (time.Time, bool) {
	if s.Kind == OnlyThis || s.Ref.IsZero() {
		return time.Time{}, false
	}
	return s.Ref, true
}

// IncludesTemplate reports whether an edit made on a child also updates the
// template's defaults.
func (s Scope) IncludesTemplate() bool {
	return s.Kind != OnlyThis
}

// ShouldIncludeChild reports whether a child dated date is in scope. The
// fallback pivot is used when the scope has no reference date. A missing
// pivot or a missing child date includes the child.
func (s Scope) ShouldIncludeChild(date, fallback time.Time) bool {
	switch s.Kind {
	case OnlyThis:
		return false
	case All:
		return true
	}
	pivot, ok := s.ReferenceDate()
	if !ok {
		pivot = fallback
	}
	if pivot.IsZero() || date.IsZero() {
		return true
	}
	if s.Kind == Future {
		return !date.Before(pivot)
	}
	return !date.After(pivot)
}
