package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/docsync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Executed steps for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %v\n", ev.Seq, ev.Session, ev.Action, ev.Keys)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages, in assertion order.
func EvaluateAssertions(h *Harness, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertConverged:
			err = assertConverged(h, result)
		case AssertValues:
			err = assertValues(h, result, a)
		case AssertRecordCount:
			err = assertRecordCount(result, a)
		case AssertPublished:
			err = assertPublished(h, result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func assertConverged(h *Harness, result *Result) error {
	if h.converged() {
		return nil
	}
	var states []string
	for _, name := range sortedSessionNames(result.Values) {
		states = append(states, fmt.Sprintf("%s=%v", name, result.Values[name]))
	}
	return &AssertionError{
		Type:     AssertConverged,
		Expected: "all open sessions hold the same state",
		Actual:   strings.Join(states, " "),
		Trace:    result.Trace,
	}
}

// assertValues compares live values exactly. Without a session the document
// is loaded from the store by a fresh reader.
func assertValues(h *Harness, result *Result, a Assertion) error {
	var (
		got    map[string]string
		source = a.Session
	)
	if a.Session == "" {
		source = "store"
		var err error
		if got, err = h.readValues(context.Background()); err != nil {
			return err
		}
	} else {
		var ok bool
		if got, ok = result.Values[a.Session]; !ok {
			return &AssertionError{
				Type:     AssertValues,
				Expected: fmt.Sprintf("open session %s", a.Session),
				Actual:   "session not open",
				Trace:    result.Trace,
			}
		}
	}

	if !equalValues(got, a.Expect) {
		return &AssertionError{
			Type:     AssertValues,
			Expected: fmt.Sprintf("%s values %v", source, a.Expect),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertRecordCount(result *Result, a Assertion) error {
	got := result.Records[string(store.Kind(a.Kind))]
	if got != a.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d %s records", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertPublished(h *Harness, result *Result, a Assertion) error {
	s, ok := h.sessions[a.Session]
	if !ok || !s.open() {
		return &AssertionError{
			Type:     AssertPublished,
			Expected: fmt.Sprintf("open session %s", a.Session),
			Actual:   "session not open",
			Trace:    result.Trace,
		}
	}
	got := s.provider.Stats().Published
	if got != int64(a.Count) {
		return &AssertionError{
			Type:     AssertPublished,
			Expected: fmt.Sprintf("%s published %d updates", a.Session, a.Count),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func equalValues(got, want map[string]string) bool {
	if len(got) != len(want) {
		return false
	}
	for k, v := range want {
		if gv, ok := got[k]; !ok || gv != v {
			return false
		}
	}
	return true
}

func sortedSessionNames(values map[string]map[string]string) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
