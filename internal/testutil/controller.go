package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/probe"
	"github.com/offshore-budgeting/syncore/internal/storemode"
)

// Env is a loaded controller on a temp-dir store with in-memory preferences.
type Env struct {
	Ctrl  *storemode.Controller
	Prefs *prefs.Memory
	Bus   *events.Bus
	Sub   *events.Subscription
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewEnv attaches a local-mode store under t.TempDir and registers cleanup.
// The subscription is opened before load so it sees every event.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	env := &Env{Prefs: prefs.NewMemory(), Bus: events.NewBus()}
	env.Sub = env.Bus.Subscribe()
	env.Ctrl = storemode.New(storemode.Options{
		Path:         filepath.Join(t.TempDir(), "syncore.db"),
		LoadTimeout:  5 * time.Second,
		ProbeTimeout: time.Second,
		Prefs:        env.Prefs,
		Availability: probe.Static{Available: true},
		Bus:          env.Bus,
		Logger:       DiscardLogger(),
	})
	if err := env.Ctrl.Load(context.Background()); err != nil {
		t.Fatalf("load controller: %v", err)
	}
	t.Cleanup(func() {
		env.Sub.Close()
		env.Ctrl.Close()
	})
	return env
}
