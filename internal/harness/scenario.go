package harness

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario: a fresh data store, a launch, an
// optional setup, a flow of operations and assertions over the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mirroring is the persisted mirroring preference at launch.
	Mirroring bool `yaml:"mirroring,omitempty"`

	// Remote configures the fake remote mirror.
	Remote RemoteSpec `yaml:"remote,omitempty"`

	// Setup runs before the flow. Setup steps must succeed and are not traced.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the traced sequence of operations.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state and the events seen during the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// RemoteSpec fixes the answers of the remote probes.
type RemoteSpec struct {
	Available bool `yaml:"available"`
	HasData   bool `yaml:"has_data"`
}

// Step invokes one operation.
type Step struct {
	// Invoke names the operation, e.g. "template.create".
	Invoke string `yaml:"invoke"`

	// As binds the id the operation returns, so later steps can refer to it
	// as "$name".
	As string `yaml:"as,omitempty"`

	Args map[string]any `yaml:"args,omitempty"`

	// Expect checks the outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Outcome is "ok" or an error name such as "preset_exists".
	Outcome string `yaml:"outcome"`

	// Result is a subset match against the step's result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates final state or events.
type Assertion struct {
	// Type is one of count, record, events, mode or active.
	Type string `yaml:"type"`

	// Kind is the record kind (count, record).
	Kind string `yaml:"kind,omitempty"`

	// Where filters records by column (count, record). All must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds expected column values (record).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of matches (count, events).
	Count int `yaml:"count,omitempty"`

	// Reason is the event reason (events).
	Reason string `yaml:"reason,omitempty"`

	// Mode is "local" or "mirrored" (mode).
	Mode string `yaml:"mode,omitempty"`

	// Workspace is the expected active workspace reference (active).
	Workspace string `yaml:"workspace,omitempty"`
}

// Assertion types.
const (
	AssertCount  = "count"
	AssertRecord = "record"
	AssertEvents = "events"
	AssertMode   = "mode"
	AssertActive = "active"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields,
// unknown operations and missing required fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, step Step) error {
	if step.Invoke == "" {
		return fmt.Errorf("%s: invoke is required", where)
	}
	if _, ok := operations[step.Invoke]; !ok {
		return fmt.Errorf("%s: unknown operation %q (known: %v)", where, step.Invoke, OperationNames())
	}
	if step.Expect != nil && step.Expect.Outcome == "" {
		return fmt.Errorf("%s.expect: outcome is required", where)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: count requires kind", index)
		}
	case AssertRecord:
		if a.Kind == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: record requires kind and expect", index)
		}
	case AssertEvents:
		if a.Reason == "" {
			return fmt.Errorf("assertions[%d]: events requires reason", index)
		}
	case AssertMode:
		if a.Mode != "local" && a.Mode != "mirrored" {
			return fmt.Errorf("assertions[%d]: mode must be local or mirrored", index)
		}
	case AssertActive:
		if a.Workspace == "" {
			return fmt.Errorf("assertions[%d]: active requires workspace", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", index, a.Type)
	}
	return nil
}

// OperationNames lists the operations a scenario can invoke.
func OperationNames() []string {
	names := make([]string, 0, len(operations))
	for n := range operations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
