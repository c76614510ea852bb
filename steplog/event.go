// Package steplog reports test steps to listeners scoped per execution unit.
//
// Every fluent operation is wrapped in a step: BeginStep notifies listeners
// that something started, CommitStep that it passed or failed. Listeners live
// in a Scope, and each test (or any other unit of isolation) gets its own
// Scope, so two tests running in parallel never see each other's listeners.
// The Scope travels in a context.Context; code without one logs nothing.
package steplog

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status of a step.
type Status int

const (
	InProgress Status = iota
	Pass
	Fail
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "IN_PROGRESS"
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Event is one step. It is created IN_PROGRESS by BeginStep and changed
// exactly once by CommitStep; listeners must treat it as read-only.
type Event struct {
	ID       string // ULID, sortable by start time
	UnitID   string
	ParentID string // enclosing step, empty for top-level steps
	Depth    int

	Source  string // what the step acted on, usually a locator
	Subject string // what was done, e.g. `set value("john")`

	Status  Status
	Err     error
	Started time.Time
	Ended   time.Time
}

// Duration is zero until the event is committed.
func (e *Event) Duration() time.Duration {
	if e.Ended.IsZero() {
		return 0
	}
	return e.Ended.Sub(e.Started)
}

// Committed reports whether the event has a terminal status.
func (e *Event) Committed() bool {
	return e.Status != InProgress
}

func (e *Event) String() string {
	return fmt.Sprintf("$(%q) %s", e.Source, e.Subject)
}

var upperCase = regexp.MustCompile(`([A-Z])`)

// ReadableSubject turns a method name and its arguments into a step subject:
// ReadableSubject("setValue", "john") is `set value("john")`.
func ReadableSubject(method string, args ...any) string {
	return ReadableMethodName(method) + "(" + readableArgs(args) + ")"
}

// ReadableMethodName splits a camel-case name into lower-case words.
func ReadableMethodName(method string) string {
	return strings.TrimSpace(strings.ToLower(upperCase.ReplaceAllString(method, " $1")))
}

func readableArgs(args []any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case nil:
		case string:
			parts = append(parts, fmt.Sprintf("%q", v))
		case fmt.Stringer:
			parts = append(parts, v.String())
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, ", ")
}
