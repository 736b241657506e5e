package brain

import (
	"encoding/json"
	"fmt"
	"sort"

	"propflow.app/assist/common/llm"
)

type pendingCall struct {
	id        string
	name      string
	arguments []byte
}

// Accumulator folds streamed tool-call fragments into complete invocations.
// The model may interleave fragments for several calls; Index keys them, and
// same-index argument fragments are appended strictly in arrival order.
type Accumulator struct {
	calls map[int]*pendingCall
}

func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[int]*pendingCall)}
}

// Add folds one fragment in. ID and Name arrive on the first fragment for
// an index; later fragments carry only argument bytes.
func (a *Accumulator) Add(delta llm.ToolCallDelta) {
	call, ok := a.calls[delta.Index]
	if !ok {
		call = &pendingCall{}
		a.calls[delta.Index] = call
	}
	if delta.ID != "" {
		call.id = delta.ID
	}
	if delta.Name != "" {
		call.name = delta.Name
	}
	call.arguments = append(call.arguments, delta.ArgumentsDelta...)
}

// Empty reports whether any fragments arrived.
func (a *Accumulator) Empty() bool {
	return len(a.calls) == 0
}

// Completed returns the accumulated calls in index order. A call whose
// arguments never became valid JSON is a protocol violation from the
// engine, reported as an error rather than executed half-parsed.
func (a *Accumulator) Completed() ([]llm.ToolCall, error) {
	indices := make([]int, 0, len(a.calls))
	for index := range a.calls {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	completed := make([]llm.ToolCall, 0, len(indices))
	for _, index := range indices {
		call := a.calls[index]
		if call.name == "" {
			return nil, fmt.Errorf("tool call at index %d has no name", index)
		}
		arguments := call.arguments
		if len(arguments) == 0 {
			arguments = []byte("{}")
		}
		if !json.Valid(arguments) {
			return nil, fmt.Errorf("tool call %s at index %d has malformed arguments", call.name, index)
		}
		completed = append(completed, llm.ToolCall{
			ID:        call.id,
			Name:      call.name,
			Arguments: string(arguments),
		})
	}
	return completed, nil
}

// Reset clears the accumulator for the next round.
func (a *Accumulator) Reset() {
	a.calls = make(map[int]*pendingCall)
}
