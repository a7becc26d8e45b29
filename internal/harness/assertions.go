package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/store"
)

// check evaluates one assertion against the final state.
func (r *runner) check(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertCount:
		return r.checkCount(ctx, a)
	case AssertRecord:
		return r.checkRecord(ctx, a)
	case AssertEvents:
		return r.checkEvents(a)
	case AssertMode:
		if got := r.app.Ctrl.Mode().String(); got != a.Mode {
			return fmt.Errorf("mode is %s, want %s", got, a.Mode)
		}
		return nil
	case AssertActive:
		return r.checkActive(ctx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// find returns every record of a kind matching where, across workspaces.
func (r *runner) find(ctx context.Context, kind string, where map[string]any) ([]model.Record, error) {
	var out []model.Record
	err := r.app.Ctrl.Do(ctx, func(ctx context.Context, sess *store.Session) error {
		all, err := sess.Fetch(ctx, model.Kind(kind), nil)
		if err != nil {
			return err
		}
		for _, rec := range all {
			ok, err := r.b.matches(rec, where)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, rec)
			}
		}
		return nil
	})
	return out, err
}

func (r *runner) checkCount(ctx context.Context, a Assertion) error {
	recs, err := r.find(ctx, a.Kind, a.Where)
	if err != nil {
		return err
	}
	if len(recs) != a.Count {
		return fmt.Errorf("%d %s records match, want %d", len(recs), a.Kind, a.Count)
	}
	return nil
}

func (r *runner) checkRecord(ctx context.Context, a Assertion) error {
	recs, err := r.find(ctx, a.Kind, a.Where)
	if err != nil {
		return err
	}
	if len(recs) != 1 {
		return fmt.Errorf("%d %s records match, want exactly 1", len(recs), a.Kind)
	}
	rec := recs[0]

	cols := make([]string, 0, len(a.Expect))
	for col := range a.Expect {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var mismatches []string
	for _, col := range cols {
		ptr := model.FieldPtr(rec, col)
		if ptr == nil {
			return fmt.Errorf("%s has no column %q", a.Kind, col)
		}
		ok, err := r.b.matchField(ptr, a.Expect[col])
		if err != nil {
			return fmt.Errorf("%s: %w", col, err)
		}
		if !ok {
			mismatches = append(mismatches,
				fmt.Sprintf("%s = %q, want %v", col, r.b.display(ptr), a.Expect[col]))
		}
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%s", strings.Join(mismatches, "; "))
	}
	return nil
}

func (r *runner) checkEvents(a Assertion) error {
	n := 0
	for _, reason := range r.seen {
		if reason == events.Reason(a.Reason) {
			n++
		}
	}
	if n != a.Count {
		return fmt.Errorf("%d %s events, want %d", n, a.Reason, a.Count)
	}
	return nil
}

func (r *runner) checkActive(ctx context.Context, a Assertion) error {
	want, err := r.b.id(a.Workspace)
	if err != nil {
		return err
	}
	got, err := r.app.Workspaces.EnsureActiveWorkspaceID(ctx)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("active workspace is %s, want %s", r.b.render(got), a.Workspace)
	}
	return nil
}
