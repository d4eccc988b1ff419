package harness

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
)

// AssertionError is an expectation that did not hold. It includes the trace
// so far to help debug the failure.
type AssertionError struct {
	Step     int          // Step whose expect clause failed
	Field    string       // Expect field, e.g. "keys"
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Trace up to the failure
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: step %d %s\n", e.Step, e.Field)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nTrace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s", ev.Step, ev.Action)
		if ev.Target != "" {
			fmt.Fprintf(&buf, " %s", ev.Target)
		}
		if ev.Error != "" {
			fmt.Fprintf(&buf, " error=%s", ev.Error)
		}
		fmt.Fprintf(&buf, " keys=%v\n", ev.Keys)
	}
	return buf.String()
}

// check evaluates an expect clause against the settled engine and records
// every mismatch in the result.
func (h *Harness) check(step int, exp *Expect, opErr error, awaited []string) {
	fail := func(field, expected, actual string) {
		err := &AssertionError{
			Step:     step,
			Field:    field,
			Expected: expected,
			Actual:   actual,
			Trace:    slices.Clone(h.result.Trace),
		}
		h.result.AddError(err.Error())
	}

	keys := h.engine.Keys()
	if exp.Keys != nil && !sameKeys(exp.Keys, keys) {
		fail("keys", fmt.Sprint(exp.Keys), fmt.Sprint(keys))
	}
	if exp.Count != nil && *exp.Count != h.engine.Len() {
		fail("count", fmt.Sprint(*exp.Count), fmt.Sprint(h.engine.Len()))
	}

	status := h.engine.Status()
	if exp.Pending != nil && *exp.Pending != status.Pending {
		fail("pending", fmt.Sprint(*exp.Pending), fmt.Sprint(status.Pending))
	}
	if exp.Stale != nil && *exp.Stale != status.Stale {
		fail("stale", fmt.Sprint(*exp.Stale), fmt.Sprint(status.Stale))
	}
	if exp.Scope != nil && *exp.Scope != status.Scope {
		fail("scope", fmt.Sprintf("%q", *exp.Scope), fmt.Sprintf("%q", status.Scope))
	}

	if exp.Error != "" {
		want := exp.Error
		if want == ErrorNone {
			want = ""
		}
		if got := errorCode(opErr); got != want {
			fail("error", describeCode(want), describeCode(got))
		}
	}
	if exp.Errors != nil && !slices.Equal(exp.Errors, awaited) {
		fail("errors", fmt.Sprintf("%q", exp.Errors), fmt.Sprintf("%q", awaited))
	}

	recordKeys := make([]string, 0, len(exp.Fields))
	for key := range exp.Fields {
		recordKeys = append(recordKeys, key)
	}
	sort.Strings(recordKeys)
	for _, key := range recordKeys {
		doc, ok := h.engine.Get(key)
		if !ok {
			fail("fields", fmt.Sprintf("record %s present", key), "not in replica")
			continue
		}
		if !matchFields(doc.Fields, exp.Fields[key]) {
			fail("fields", fmt.Sprintf("%s with %v", key, exp.Fields[key]), fmt.Sprintf("%s with %v", key, doc.Fields))
		}
	}

	if exp.Remote != nil {
		var remote []string
		for _, d := range h.remote.Records(status.Scope) {
			remote = append(remote, d.Key)
		}
		if !sameKeys(exp.Remote, remote) {
			fail("remote", fmt.Sprint(exp.Remote), fmt.Sprint(remote))
		}
	}
}

func sameKeys(expected, actual []string) bool {
	if len(expected) == 0 && len(actual) == 0 {
		return true
	}
	return slices.Equal(expected, actual)
}

func describeCode(code string) string {
	if code == "" {
		return "no error"
	}
	return code
}

// matchFields checks if actual contains all expected fields (subset match).
// Extra fields in actual are ignored.
func matchFields(actual, expected map[string]any) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares two field values. Integers compare by value across
// int widths since YAML and JSON decode them differently.
func valuesEqual(actual, expected any) bool {
	if a, ok := asInt64(actual); ok {
		if e, ok := asInt64(expected); ok {
			return a == e
		}
	}
	return reflect.DeepEqual(actual, expected)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	}
	return 0, false
}
