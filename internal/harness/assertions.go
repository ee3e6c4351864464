package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", event.Seq, event.Type, event.Label(), event.Outcome)
		}
	}

	return buf.String()
}

// assertTraceContains checks that some event has the action and carries
// the expected args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Action == assertion.Action && matchArgs(event.Args, assertion.Args) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the labelled remote calls appear in order.
// Other events may appear in between; a label may repeat.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, want := range assertion.Actions {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if event.Type == EventCall && event.Label() == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("calls in order: %v", assertion.Actions),
				Actual:   fmt.Sprintf("%s missing or out of order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the number of events with the action and args.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Action == assertion.Action && matchArgs(event.Args, assertion.Args) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares one item's end state against the expected
// fields (subset match).
func assertFinalState(result *Result, assertion Assertion) error {
	state, ok := result.Items[assertion.Item]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("work item %s", assertion.Item),
			Actual:   "no such work item",
		}
	}

	want := assertion.Expect
	var diffs []string
	check := func(field, expected, actual string) {
		if expected != "" && expected != actual {
			diffs = append(diffs, fmt.Sprintf("%s=%q (want %q)", field, actual, expected))
		}
	}
	if want.Linked != nil && *want.Linked != state.Linked {
		diffs = append(diffs, fmt.Sprintf("linked=%v (want %v)", state.Linked, *want.Linked))
	}
	if want.RemoteExists != nil && *want.RemoteExists != state.RemoteExists {
		diffs = append(diffs, fmt.Sprintf("remote_exists=%v (want %v)", state.RemoteExists, *want.RemoteExists))
	}
	check("remote_id", want.RemoteID, state.RemoteID)
	check("remote_number", want.RemoteNumber, state.RemoteNumber)
	check("remote_parent_id", want.RemoteParentID, state.RemoteParentID)
	check("last_known_remote_status", want.LastKnownRemoteStatus, state.LastKnownRemoteStatus)
	check("remote_status", want.RemoteStatus, state.RemoteStatus)
	check("local_status", want.LocalStatus, state.LocalStatus)

	if len(diffs) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s matches %+v", assertion.Item, *want),
			Actual:   strings.Join(diffs, ", "),
		}
	}
	return nil
}

func assertCount(kind string, actual, expected int) error {
	if actual == expected {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%d", expected),
		Actual:   fmt.Sprintf("%d", actual),
	}
}

// assertDuplicateEvent checks that the item's audit trail holds an event
// with the expected resolution.
func assertDuplicateEvent(result *Result, assertion Assertion) error {
	state := result.Items[assertion.Item]
	for _, r := range state.Resolutions {
		if r == string(assertion.Resolution) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertDuplicateEvent,
		Expected: fmt.Sprintf("%s event for %s", assertion.Resolution, assertion.Item),
		Actual:   fmt.Sprintf("resolutions %v", state.Resolutions),
	}
}

func assertNoteContains(result *Result, assertion Assertion) error {
	state := result.Items[assertion.Item]
	for _, n := range state.Notes {
		if strings.Contains(n, assertion.Text) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertNoteContains,
		Expected: fmt.Sprintf("a note on %s containing %q", assertion.Item, assertion.Text),
		Actual:   fmt.Sprintf("notes %q", state.Notes),
	}
}

// matchArgs reports whether actual contains every expected key with the
// same value.
func matchArgs(actual, expected map[string]string) bool {
	for k, v := range expected {
		if got, ok := actual[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		case AssertRemoteObjects:
			err = assertCount(AssertRemoteObjects, result.RemoteObjects, assertion.Count)
		case AssertWrites:
			err = assertCount(AssertWrites, result.Writes, assertion.Count)
		case AssertDuplicateEvent:
			err = assertDuplicateEvent(result, assertion)
		case AssertNoteContains:
			err = assertNoteContains(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
