package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/app"
	"github.com/offshore-budgeting/syncore/internal/config"
	"github.com/offshore-budgeting/syncore/internal/events"
	"github.com/offshore-budgeting/syncore/internal/prefs"
	"github.com/offshore-budgeting/syncore/internal/probe"
	"github.com/offshore-budgeting/syncore/internal/testutil"
)

// stepTimeout bounds a single operation.
const stepTimeout = 30 * time.Second

// StepTrace records one flow step.
type StepTrace struct {
	Seq     int            `json:"seq"`
	Action  string         `json:"action"`
	As      string         `json:"as,omitempty"`
	Outcome string         `json:"outcome"`
	Result  map[string]any `json:"result,omitempty"`
	Events  []string       `json:"events"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation and every assertion held.
	Pass bool `json:"pass"`

	// Steps traces the flow.
	Steps []StepTrace `json:"steps"`

	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Steps: []StepTrace{}, Errors: []string{}}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

type runner struct {
	app    *app.App
	b      *bindings
	ids    *testutil.IDs
	remote *atomic.Bool
	sub    *events.Subscription
	seen   []events.Reason
}

// Run executes a scenario against a fresh sync core.
//
// Execution:
//  1. Create a temp-dir store with in-memory preferences
//  2. Launch the core (untraced)
//  3. Run setup steps (untraced, must succeed)
//  4. Run flow steps, tracing outcome, result and change events
//  5. Evaluate assertions
//
// The returned error covers harness failures (bad setup, launch failure).
// Expectation and assertion failures are reported through Result.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "syncore-scenario-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	r, err := newRunner(scenario, dir)
	if err != nil {
		return nil, err
	}
	defer r.close()

	ctx := context.Background()
	if _, err := r.app.Launch(ctx); err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	for i, step := range scenario.Setup {
		if _, _, err := r.exec(ctx, step); err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Invoke, err)
		}
	}
	r.sub.Drain()

	result := NewResult()
	for i, step := range scenario.Flow {
		trace := r.traceStep(ctx, i+1, step, result)
		result.Steps = append(result.Steps, trace)
	}

	for i, a := range scenario.Assertions {
		if err := r.check(ctx, a); err != nil {
			result.AddError("assertions[%d] %s: %v", i, a.Type, err)
		}
	}
	return result, nil
}

func newRunner(scenario *Scenario, dir string) (*runner, error) {
	cfg := &config.Config{
		Data: config.DataConfig{
			Path:      filepath.Join(dir, "syncore.db"),
			PrefsPath: filepath.Join(dir, "prefs.db"),
		},
		Remote:   config.RemoteConfig{Container: "scenario", Table: "planned_expenses"},
		Timeouts: config.TimeoutConfig{Load: 10 * time.Second, Probe: time.Second, Remote: 100 * time.Millisecond},
		Retry:    config.RetryConfig{Schedule: "@every 300s"},
		Log:      config.LogConfig{Level: "error", Format: "text"},
		Display:  config.DisplayConfig{Currency: "USD"},
	}

	p := prefs.NewMemory()
	if err := p.SetBool(prefs.KeyMirroringEnabled, scenario.Mirroring); err != nil {
		return nil, err
	}

	remote := &atomic.Bool{}
	remote.Store(scenario.Remote.Available)
	ids := testutil.NewIDs(scenario.Name)
	clock := testutil.NewClock(testutil.Epoch)

	a, err := app.New(app.Options{
		Config: cfg,
		Logger: testutil.DiscardLogger(),
		Prefs:  p,
		Availability: probe.AvailabilityFunc(func(context.Context, bool) bool {
			return remote.Load()
		}),
		Remote: probe.Static{HasData: scenario.Remote.HasData},
		Now:    clock.Now,
		NewID:  ids.Next,
	})
	if err != nil {
		return nil, err
	}
	return &runner{
		app:    a,
		b:      newBindings(),
		ids:    ids,
		remote: remote,
		sub:    a.Bus.Subscribe(),
	}, nil
}

func (r *runner) close() {
	r.sub.Close()
	_ = r.app.Close()
}

// exec runs a step and binds its id.
func (r *runner) exec(ctx context.Context, step Step) (uuid.UUID, map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	op := operations[step.Invoke]
	id, res, err := op(ctx, r, args{raw: step.Args, b: r.b})
	if err != nil {
		return uuid.Nil, nil, err
	}
	if step.As != "" {
		if id == uuid.Nil {
			return uuid.Nil, nil, fmt.Errorf("%s returns no id to bind as %q", step.Invoke, step.As)
		}
		r.b.bind(step.As, id)
	}
	return id, res, nil
}

func (r *runner) traceStep(ctx context.Context, seq int, step Step, result *Result) StepTrace {
	trace := StepTrace{Seq: seq, Action: step.Invoke, As: step.As, Events: []string{}}

	id, res, err := r.exec(ctx, step)
	trace.Outcome = outcomeOf(err)
	if err == nil {
		if res == nil && id != uuid.Nil && step.As != "" {
			res = map[string]any{}
		}
		if res != nil && step.As != "" {
			res["id"] = r.b.render(id)
		}
		trace.Result = res
	}
	for _, e := range r.sub.Drain() {
		trace.Events = append(trace.Events, string(e.Reason))
		r.seen = append(r.seen, e.Reason)
	}

	want := &Expect{Outcome: OutcomeOK}
	if step.Expect != nil {
		want = step.Expect
	}
	if trace.Outcome != want.Outcome {
		msg := fmt.Sprintf("flow[%d] %s: outcome %s, want %s", seq-1, step.Invoke, trace.Outcome, want.Outcome)
		if err != nil {
			msg += ": " + err.Error()
		}
		result.AddError("%s", msg)
		return trace
	}
	for key, v := range want.Result {
		got, ok := trace.Result[key]
		if !ok {
			result.AddError("flow[%d] %s: result has no %q", seq-1, step.Invoke, key)
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(v) {
			result.AddError("flow[%d] %s: result %s = %v, want %v", seq-1, step.Invoke, key, got, v)
		}
	}
	return trace
}
