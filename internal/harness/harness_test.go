package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_Scenarios(t *testing.T) {
	for _, name := range []string{"two_writers", "compaction_on_release"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/two_writers.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalSnapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_FailingAssertion(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectation",
		Description: "expects a value that was never written",
		Doc:         "notes",
		Steps: []Step{
			{Session: "alice", Open: true},
			{Session: "alice", Set: map[string]string{"title": "Roadmap"}},
		},
		Assertions: []Assertion{
			{Type: AssertValues, Session: "alice", Expect: map[string]string{"title": "Draft"}},
			{Type: AssertRecordCount, Kind: "updates", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "assertions[0]")
	assert.Contains(t, result.Errors[0], "Assertion failed: values")
}

func TestRun_StepError(t *testing.T) {
	scenario := &Scenario{
		Name:        "edit_before_open",
		Description: "a closed session cannot edit",
		Doc:         "notes",
		Steps: []Step{
			{Session: "alice", Set: map[string]string{"title": "Roadmap"}},
		},
		Assertions: []Assertion{{Type: AssertConverged}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "steps[0] set:"), result.Errors[0])
	assert.Empty(t, result.Trace)
}

func TestRun_CompactStep(t *testing.T) {
	scenario := &Scenario{
		Name:                "explicit_compact",
		Description:         "a compact step folds the log while the session stays open",
		Doc:                 "notes",
		CompactionThreshold: 2,
		Steps: []Step{
			{Session: "alice", Open: true},
			{Session: "alice", Set: map[string]string{"a": "1", "b": "2"}},
			{Session: "alice", Compact: true},
		},
		Assertions: []Assertion{
			{Type: AssertRecordCount, Kind: "snapshots", Count: 1},
			{Type: AssertRecordCount, Kind: "updates", Count: 0},
			{Type: AssertValues, Expect: map[string]string{"a": "1", "b": "2"}},
			{Type: AssertPublished, Session: "alice", Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 3)
	assert.Equal(t, TraceEvent{Seq: 3, Session: "alice", Action: ActionCompact, Compacted: true, Counted: 2}, result.Trace[2])
}

func TestRun_ReopenAfterRelease(t *testing.T) {
	scenario := &Scenario{
		Name:        "reopen",
		Description: "a released session can open the document again",
		Doc:         "notes",
		Steps: []Step{
			{Session: "alice", Open: true},
			{Session: "alice", Set: map[string]string{"k": "v"}},
			{Session: "alice", Release: true},
			{Session: "alice", Open: true},
		},
		Assertions: []Assertion{
			{Type: AssertValues, Session: "alice", Expect: map[string]string{"k": "v"}},
			// A fresh provider has published nothing yet.
			{Type: AssertPublished, Session: "alice", Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
