package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/offshore-budgeting/syncore/internal/model"
)

var testWorkspace = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	return createTestStoreWith(t, Options{Path: filepath.Join(t.TempDir(), "test.db")})
}

func createTestStoreWith(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDay(day int) time.Time {
	return time.Date(2025, 1, day, 12, 0, 0, 0, time.UTC)
}

// newTestExpense creates a planned expense in testWorkspace.
func newTestExpense(title string, planned string) *model.PlannedExpense {
	p := &model.PlannedExpense{
		Title:           title,
		PlannedAmount:   decimal.RequireFromString(planned),
		TransactionDate: testDay(1),
	}
	p.ID = uuid.New()
	p.WorkspaceID = testWorkspace
	return p
}
