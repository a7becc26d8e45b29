package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runScenarioCommand(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"scenario"}, args...))
	return buf, cmd.Execute()
}

func TestScenarioCommand_MissingArgs(t *testing.T) {
	_, err := runScenarioCommand(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestScenarioCommand_NonExistentDir(t *testing.T) {
	buf, err := runScenarioCommand(t, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "scenarios directory not found")
}

func TestScenarioCommand_EmptyDir(t *testing.T) {
	buf, err := runScenarioCommand(t, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestScenarioCommand_EmptyDirJSON(t *testing.T) {
	buf, err := runScenarioCommand(t, t.TempDir(), "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, resp.Data.Total)
}

func TestScenarioCommand_RunsHarnessScenarios(t *testing.T) {
	scenarios, err := filepath.Abs("../harness/testdata/scenarios")
	require.NoError(t, err)
	golden, err := filepath.Abs("../harness/testdata/golden")
	require.NoError(t, err)

	buf, err := runScenarioCommand(t, scenarios, "--golden", golden, "--filter", "rent-*")
	require.NoError(t, err, buf.String())
	assert.Contains(t, buf.String(), "✓ rent-propagation")
	assert.Contains(t, buf.String(), "1 passed, 0 failed, 1 total")
}

const failingScenario = `name: wrong-count
description: "Expects a category that was never created"
flow:
  - invoke: budget.create
    args: { start: 2025-01-01, end: 2025-01-31 }
assertions:
  - type: count
    kind: category
    count: 1
`

func TestScenarioCommand_FailureExitsOne(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "wrong-count.yaml"), []byte(failingScenario), 0o644))

	buf, err := runScenarioCommand(t, scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ wrong-count")
}

func TestScenarioCommand_UpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	doc := `name: one-budget
description: "Creates a single budget"
flow:
  - invoke: budget.create
    args: { start: 2025-01-01, end: 2025-01-31 }
assertions:
  - type: count
    kind: budget
    count: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "one-budget.yaml"), []byte(doc), 0o644))

	_, err := runScenarioCommand(t, scenarios, "--update")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "golden", "one-budget.golden"))

	buf, err := runScenarioCommand(t, scenarios)
	require.NoError(t, err, buf.String())
	assert.Contains(t, buf.String(), "✓ one-budget")
}
