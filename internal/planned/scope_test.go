package planned

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_ShouldIncludeChild(t *testing.T) {
	jan, feb, mar := day(time.January, 10), day(time.February, 10), day(time.March, 10)

	tests := []struct {
		name     string
		scope    Scope
		date     time.Time
		fallback time.Time
		want     bool
	}{
		{"only this never includes", ScopeOnlyThis(), feb, feb, false},
		{"all always includes", ScopeAll(feb), jan, time.Time{}, true},
		{"past includes on the pivot", ScopePast(feb), feb, time.Time{}, true},
		{"past excludes later", ScopePast(feb), mar, time.Time{}, false},
		{"future includes on the pivot", ScopeFuture(feb), feb, time.Time{}, true},
		{"future excludes earlier", ScopeFuture(feb), jan, time.Time{}, false},
		{"fallback pivot without reference", Scope{Kind: Future}, jan, feb, false},
		{"missing pivot includes", Scope{Kind: Past}, mar, time.Time{}, true},
		{"undated child includes", ScopePast(feb), time.Time{}, time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scope.ShouldIncludeChild(tt.date, tt.fallback))
		})
	}
}

func TestScope_IncludesTemplate(t *testing.T) {
	assert.False(t, ScopeOnlyThis().IncludesTemplate())
	assert.True(t, ScopePast(time.Time{}).IncludesTemplate())
	assert.True(t, ScopeFuture(time.Time{}).IncludesTemplate())
	assert.True(t, ScopeAll(time.Time{}).IncludesTemplate())
}

func TestScope_ReferenceDate(t *testing.T) {
	_, ok := ScopeOnlyThis().ReferenceDate()
	assert.False(t, ok)
	_, ok = ScopeAll(time.Time{}).ReferenceDate()
	assert.False(t, ok)
	ref, ok := ScopeFuture(day(time.May, 1)).ReferenceDate()
	assert.True(t, ok)
	assert.Equal(t, day(time.May, 1), ref)
}

func TestParseScope(t *testing.T) {
	ref := day(time.June, 1)
	for name, want := range map[string]Scope{
		"only_this": ScopeOnlyThis(),
		"only-this": ScopeOnlyThis(),
		"OnlyThis":  ScopeOnlyThis(),
		"past":      ScopePast(ref),
		" Future ":  ScopeFuture(ref),
		"ALL":       ScopeAll(ref),
	} {
		got, err := ParseScope(name, ref)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseScope("sometimes", ref)
	assert.Error(t, err)
}

func TestScope_String(t *testing.T) {
	assert.Equal(t, "only_this", ScopeOnlyThis().String())
	assert.Equal(t, "all", ScopeAll(time.Time{}).String())
	assert.Equal(t, "past(2025-06-01T00:00:00Z)", ScopePast(day(time.June, 1)).String())
}
