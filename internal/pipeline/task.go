// Package pipeline defines the fixed, totally ordered set of drill generation stages.
package pipeline

import "strings"

// Task is the name of one pipeline stage. Names outside Sequence are carried
// through as-is so that unplanned task names can still be acknowledged.
type Task string

// Known pipeline stages
const (
	Plan     Task = "plan"
	Scenario Task = "scenario"
	Safety   Task = "safety"
	Content  Task = "content"

	// Unknown is used when a message names no task at all
	Unknown Task = "unknown"
)

// Sequence is the stage order. Chaining never skips or reorders it.
var Sequence = []Task{Plan, Scenario, Safety, Content}

// Parse normalizes a raw task name. Empty input yields Unknown.
func Parse(raw string) Task {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return Unknown
	}
	return Task(name)
}

// String returns the task name
func (t Task) String() string {
	return string(t)
}

// IsKnown reports whether t is a member of Sequence
func (t Task) IsKnown() bool {
	return t.Index() >= 0
}

// Index returns the position of t in Sequence, or -1
func (t Task) Index() int {
	switch t {
	case Plan:
		return 0
	case Scenario:
		return 1
	case Safety:
		return 2
	case Content:
		return 3
	default:
		return -1
	}
}

// Next returns the successor of t. The second value is false when t is the
// last stage or not a member of Sequence.
func (t Task) Next() (Task, bool) {
	i := t.Index()
	if i < 0 || i+1 >= len(Sequence) {
		return "", false
	}
	return Sequence[i+1], true
}
