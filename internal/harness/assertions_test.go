package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertionError_Message(t *testing.T) {
	err := &AssertionError{
		Type:     AssertRecordCount,
		Expected: "1 snapshots records",
		Actual:   "0",
		Trace: []TraceEvent{
			{Seq: 1, Session: "alice", Action: ActionOpen},
			{Seq: 2, Session: "alice", Action: ActionSet, Keys: []string{"k"}},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: record_count")
	assert.Contains(t, msg, "Expected: 1 snapshots records")
	assert.Contains(t, msg, "Actual: 0")
	assert.Contains(t, msg, "[2] alice set [k]")
}

func TestAssertRecordCount(t *testing.T) {
	result := NewResult()
	result.Records["updates"] = 3

	assert.NoError(t, assertRecordCount(result, Assertion{Type: AssertRecordCount, Kind: "updates", Count: 3}))
	assert.Error(t, assertRecordCount(result, Assertion{Type: AssertRecordCount, Kind: "snapshots", Count: 1}))
}

func TestEqualValues(t *testing.T) {
	assert.True(t, equalValues(map[string]string{}, map[string]string{}))
	assert.True(t, equalValues(map[string]string{"a": "1"}, map[string]string{"a": "1"}))
	assert.False(t, equalValues(map[string]string{"a": "1"}, map[string]string{"a": "2"}))
	assert.False(t, equalValues(map[string]string{"a": "1", "b": "2"}, map[string]string{"a": "1"}))
	assert.False(t, equalValues(nil, map[string]string{"a": "1"}))
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
