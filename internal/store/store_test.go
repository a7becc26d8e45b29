package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/offshore-budgeting/syncore/internal/model"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(Options{Path: path})
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, kind := range model.AllKinds {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			kind.Table(),
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", kind.Table(), err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	if _, err := Open(Options{Path: "/nonexistent/dir/test.db"}); err == nil {
		t.Error("expected error for invalid path, got nil")
	}
	if _, err := Open(Options{}); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "test.db"), RemoteChangeNotifications: true})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}

	if _, ok := <-s.RemoteChanges(); ok {
		t.Error("remote changes channel should be closed")
	}
}

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := createTestStore(t)
	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_planned_template_budget'",
	).Scan(&name)
	if err != nil {
		t.Errorf("v1 index missing: %v", err)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("DROP INDEX idx_planned_template_budget"); err != nil {
		t.Fatalf("drop index: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("reset version: %v", err)
	}
	s.Close()

	s, err = Open(Options{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOptions_Mirrored(t *testing.T) {
	if (Options{RemoteChangeNotifications: true}).Mirrored() {
		t.Error("notifications without a container are not mirrored")
	}
	if !(Options{RemoteChangeNotifications: true, RemoteContainer: "iCloud.budget"}).Mirrored() {
		t.Error("expected mirrored options")
	}
}

func TestCount(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sess := s.NewSession(InMemoryTrump)
	for _, title := range []string{"Rent", "Gym"} {
		if err := sess.Insert(newTestExpense(title, "10")); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := sess.Save(ctx); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	n, err := s.Count(ctx, model.KindPlannedExpense, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}
