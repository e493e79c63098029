package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docsync/internal/store"
)

// Scenario defines one replication scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Doc is the document identity every session edits.
	Doc string `yaml:"doc"`

	// CompactionThreshold and MaxUpdateBytes override the provider
	// defaults when positive.
	CompactionThreshold int `yaml:"compaction_threshold,omitempty"`
	MaxUpdateBytes      int `yaml:"max_update_bytes,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step, while sessions that
	// were not released are still open.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one of Open, Set, Delete, Release,
// Compact, and Sync must be set.
type Step struct {
	Session string            `yaml:"session,omitempty"`
	Open    bool              `yaml:"open,omitempty"`
	Set     map[string]string `yaml:"set,omitempty"`
	Delete  []string          `yaml:"delete,omitempty"`
	Release bool              `yaml:"release,omitempty"`
	Compact bool              `yaml:"compact,omitempty"`
	Sync    bool              `yaml:"sync,omitempty"`
}

// Step action names, as recorded in the trace.
const (
	ActionOpen    = "open"
	ActionSet     = "set"
	ActionDelete  = "delete"
	ActionRelease = "release"
	ActionCompact = "compact"
	ActionSync    = "sync"
)

// Action returns the step's action name, or "" when the step sets none or
// more than one.
func (s Step) Action() string {
	var actions []string
	if s.Open {
		actions = append(actions, ActionOpen)
	}
	if len(s.Set) > 0 {
		actions = append(actions, ActionSet)
	}
	if len(s.Delete) > 0 {
		actions = append(actions, ActionDelete)
	}
	if s.Release {
		actions = append(actions, ActionRelease)
	}
	if s.Compact {
		actions = append(actions, ActionCompact)
	}
	if s.Sync {
		actions = append(actions, ActionSync)
	}
	if len(actions) != 1 {
		return ""
	}
	return actions[0]
}

// Assertion validates the state after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Session selects a session (values, published).
	Session string `yaml:"session,omitempty"`

	// Expect is the exact set of live values (values).
	Expect map[string]string `yaml:"expect,omitempty"`

	// Kind is "updates" or "snapshots" (record_count).
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number (record_count, published).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged   = "converged"
	AssertValues      = "values"
	AssertRecordCount = "record_count"
	AssertPublished   = "published"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "asertions:")
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

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if s.Doc == "" {
		return errors.New("doc is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}
	if s.CompactionThreshold < 0 || s.MaxUpdateBytes < 0 {
		return errors.New("compaction_threshold and max_update_bytes must be non-negative")
	}

	for i, step := range s.Steps {
		action := step.Action()
		if action == "" {
			return fmt.Errorf("steps[%d]: exactly one of open, set, delete, release, compact, sync is required", i)
		}
		if action != ActionSync && step.Session == "" {
			return fmt.Errorf("steps[%d]: session is required for %s", i, action)
		}
		if action == ActionSync && step.Session != "" {
			return fmt.Errorf("steps[%d]: sync applies to all sessions", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertConverged:
	case AssertValues:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for values (use {} for an empty document)", index)
		}
	case AssertRecordCount:
		if !store.Kind(a.Kind).Valid() {
			return fmt.Errorf("assertions[%d]: kind must be %q or %q", index, store.KindUpdate, store.KindSnapshot)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertPublished:
		if a.Session == "" {
			return fmt.Errorf("assertions[%d]: session is required for published", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
