package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/pwasync/internal/action"
	"github.com/roach88/pwasync/internal/netstate"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nDispatches:\n")
		for _, event := range e.Trace {
			if event.Type == EventDispatch {
				fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, event.Item, event.Result["outcome"])
			}
		}
	}
	return buf.String()
}

// StateReader is the part of the engine final-state assertions read.
type StateReader interface {
	Counts(ctx context.Context, topic string) (action.Counts, error)
	List(ctx context.Context, f action.Filter) ([]action.Item, error)
	State() netstate.State
}

// assertDispatchOrder checks that items were first dispatched in the given
// order. Other dispatches may interleave.
func assertDispatchOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type == EventDispatch && positions[event.Item] == 0 {
			positions[event.Item] = i + 1
		}
	}

	for _, id := range assertion.Items {
		if positions[id] == 0 {
			return &AssertionError{
				Type:     AssertDispatchOrder,
				Expected: fmt.Sprintf("all items dispatched: %v", assertion.Items),
				Actual:   fmt.Sprintf("never dispatched: %s", id),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Items); i++ {
		prev, curr := assertion.Items[i-1], assertion.Items[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertDispatchOrder,
				Expected: fmt.Sprintf("items in order: %v", assertion.Items),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertDispatchCount checks the number of dispatches of one item, or of
// all items when Item is empty.
func assertDispatchCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventDispatch && (assertion.Item == "" || event.Item == assertion.Item) {
			count++
		}
	}

	if count != assertion.Count {
		target := assertion.Item
		if target == "" {
			target = "any item"
		}
		return &AssertionError{
			Type:     AssertDispatchCount,
			Expected: fmt.Sprintf("%d dispatches of %s", assertion.Count, target),
			Actual:   fmt.Sprintf("%d dispatches", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertCounts(ctx context.Context, sr StateReader, assertion Assertion) error {
	counts, err := sr.Counts(ctx, assertion.Topic)
	if err != nil {
		return fmt.Errorf("counts: %w", err)
	}
	actual := map[string]any{
		"queued":  counts.Queued,
		"syncing": counts.Syncing,
		"error":   counts.Error,
		"total":   counts.Total,
	}
	return expectSubset(AssertCounts, actual, assertion.Expect)
}

func assertItem(ctx context.Context, sr StateReader, assertion Assertion) error {
	items, err := sr.List(ctx, action.Filter{})
	if err != nil {
		return fmt.Errorf("item %s: %w", assertion.Item, err)
	}

	actual := map[string]any{"exists": false}
	for _, it := range items {
		if it.ID != assertion.Item {
			continue
		}
		actual = map[string]any{
			"exists": true,
			"topic":  it.Topic,
			"status": string(it.Status),
			"tries":  it.Tries,
		}
		if it.LastError != nil {
			actual["last_error"] = it.LastError.Message
			if it.LastError.ID != "" {
				actual["last_error_id"] = it.LastError.ID
			}
		}
		break
	}
	return expectSubset(AssertItem+" "+assertion.Item, actual, assertion.Expect)
}

func assertNetwork(sr StateReader, assertion Assertion) error {
	return expectSubset(AssertNetwork, networkMap(sr.State()), assertion.Expect)
}

func expectSubset(kind string, actual, expected map[string]any) error {
	if matchSubset(actual, expected) {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: describe(expected),
		Actual:   describe(actual),
	}
}

// matchSubset reports whether actual holds every key of expected with an
// equal value. Values are compared after a JSON round trip so YAML and Go
// numbers agree.
func matchSubset(actual, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	for key, want := range expected {
		got, ok := actual[key]
		if !ok {
			return false
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(actual, expected any) bool {
	return reflect.DeepEqual(normalize(actual), normalize(expected))
}

func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// EvaluateAssertions evaluates all assertions against the result and the
// final engine state. It returns one message per failed assertion.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, sr StateReader) []string {
	var failures []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertDispatchOrder:
			err = assertDispatchOrder(result.Trace, assertion)
		case AssertDispatchCount:
			err = assertDispatchCount(result.Trace, assertion)
		case AssertCounts, AssertItem, AssertNetwork:
			if sr == nil {
				err = fmt.Errorf("assertion[%d]: %s requires engine state", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertCounts:
				err = assertCounts(ctx, sr, assertion)
			case AssertItem:
				err = assertItem(ctx, sr, assertion)
			default:
				err = assertNetwork(sr, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}
