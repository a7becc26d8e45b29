package harness

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir is where scenario golden files live, relative to the package.
const GoldenDir = "testdata/golden"

const goldenSuffix = ".golden"

// Snapshot is the golden form of a scenario run.
type Snapshot struct {
	Scenario string      `json:"scenario"`
	Steps    []StepTrace `json:"steps"`
}

// Marshal renders a snapshot as indented JSON with a trailing newline.
// Map keys are sorted, so equal runs produce equal bytes.
func (s Snapshot) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// SnapshotOf builds the snapshot of a result.
func SnapshotOf(name string, result *Result) Snapshot {
	return Snapshot{Scenario: name, Steps: result.Steps}
}

// RunWithGolden executes a scenario, fails t on any expectation or
// assertion failure, and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run %s: %v", scenario.Name, err)
	}
	for _, e := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, e)
	}
	AssertGolden(t, scenario.Name, result)
	return result
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	data, err := SnapshotOf(name, result).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(goldenSuffix),
	)
	g.Assert(t, name, data)
}

// GoldenPath returns the golden file of a scenario under dir.
func GoldenPath(dir, name string) string {
	return filepath.Join(dir, name+goldenSuffix)
}

// WriteGolden stores a result as the golden file of name under dir.
func WriteGolden(dir, name string, result *Result) error {
	data, err := SnapshotOf(name, result).Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create golden dir: %w", err)
	}
	if err := os.WriteFile(GoldenPath(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write golden file: %w", err)
	}
	return nil
}

// ErrNoGolden is returned by CompareGolden when no golden file exists.
var ErrNoGolden = errors.New("golden file not found")

// CompareGolden reports whether a result matches the golden file of name
// under dir.
func CompareGolden(dir, name string, result *Result) (bool, error) {
	want, err := os.ReadFile(GoldenPath(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("%w: %s", ErrNoGolden, GoldenPath(dir, name))
	}
	if err != nil {
		return false, fmt.Errorf("read golden file: %w", err)
	}
	got, err := SnapshotOf(name, result).Marshal()
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, want), nil
}
