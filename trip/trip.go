package trip

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Trip is the uniform failure returned when an operation gives up.
//
// A Trip answers the three questions a failing UI test has to answer without
// being re-run: what was expected (Condition or Message), against what
// (Locator), and how long it waited (Timeout, Elapsed, Attempts). The last
// error seen while waiting is kept in Cause and exposed through Unwrap.
//
// Example:
//
//	var tr *trip.Trip
//	if errors.As(err, &tr) && tr.Kind == trip.Timeout {
//	    log.Printf("%s never became %s", tr.Locator, tr.Condition)
//	}
type Trip struct {
	Kind      Kind
	Op        string        // operation name, e.g. "click"
	Locator   string        // human-readable locator chain
	Condition string        // condition or readiness requirement description
	Message   string        // free-form description when there is no condition
	Timeout   time.Duration // configured wait
	Elapsed   time.Duration // time actually spent
	Attempts  int           // resolve+evaluate rounds performed
	Actual    string        // last observed state, if any
	Cause     error         // last underlying error, if any
	Context   Context       // extra debugging information
	Severity  Severity
	Timestamp time.Time
}

// Context provides structured debugging information for trips.
type Context map[string]interface{}

// Severity indicates how serious a trip is and how the director reacts to it.
type Severity int

const (
	// Stumble indicates a minor issue that doesn't affect test validity.
	// Examples: screenshot capture failed, report could not be written.
	Stumble Severity = iota

	// Error indicates a failed expectation. The test is marked failed but
	// later steps still run.
	Error

	// Fall indicates the session itself is unusable. Later steps are skipped.
	Fall
)

func (s Severity) String() string {
	switch s {
	case Stumble:
		return "stumble"
	case Error:
		return "error"
	case Fall:
		return "fall"
	default:
		return "unknown"
	}
}

// NewTrip creates a trip of the given kind with Error severity.
func NewTrip(kind Kind, message string, context Context) *Trip {
	return &Trip{
		Kind:      kind,
		Message:   message,
		Context:   context,
		Timestamp: time.Now(),
		Severity:  Error,
	}
}

// NewStumble creates a trip with Stumble severity.
func NewStumble(kind Kind, message string, context Context) *Trip {
	return NewTrip(kind, message, context).WithSeverity(Stumble)
}

// NewFall creates a trip with Fall severity.
func NewFall(kind Kind, message string, context Context) *Trip {
	return NewTrip(kind, message, context).WithSeverity(Fall)
}

// WithSeverity sets the severity level for this trip.
func (t *Trip) WithSeverity(severity Severity) *Trip {
	t.Severity = severity
	return t
}

// WithCause sets the underlying error.
func (t *Trip) WithCause(err error) *Trip {
	t.Cause = err
	return t
}

// WithOp fills in the operation and locator if they are not already set.
// Inner layers know the condition, outer layers know the operation; each
// adds what it knows.
func (t *Trip) WithOp(op, locator string) *Trip {
	if t.Op == "" {
		t.Op = op
	}
	if t.Locator == "" {
		t.Locator = locator
	}
	return t
}

// Error implements the error interface.
func (t *Trip) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s:%s]", t.Kind, t.Severity)
	if t.Op != "" {
		b.WriteString(" " + t.Op)
	}
	if t.Locator != "" {
		b.WriteString(" " + t.Locator)
	}
	b.WriteString(": ")

	switch {
	case t.Condition != "":
		b.WriteString("expected " + t.Condition)
	case t.Message != "":
		b.WriteString(t.Message)
	default:
		b.WriteString(t.Kind.String())
	}

	switch t.Kind {
	case Timeout:
		fmt.Fprintf(&b, " within %s, gave up after %s (%d %s)",
			t.Timeout, t.Elapsed.Round(time.Millisecond), t.Attempts, plural(t.Attempts, "attempt"))
	case Cancelled:
		fmt.Fprintf(&b, ", cancelled after %s of %s", t.Elapsed.Round(time.Millisecond), t.Timeout)
	}

	if t.Condition != "" && t.Message != "" {
		b.WriteString("; " + t.Message)
	}
	if t.Actual != "" {
		fmt.Fprintf(&b, "; actual: %s", t.Actual)
	}
	if t.Cause != nil {
		fmt.Fprintf(&b, "; last error: %v", t.Cause)
	}

	return b.String()
}

// Unwrap exposes the last underlying cause to errors.Is and errors.As.
func (t *Trip) Unwrap() error {
	return t.Cause
}

// Is matches the kind sentinels ErrTimeout and ErrCancelled.
func (t *Trip) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return t.Kind == Timeout
	case ErrCancelled:
		return t.Kind == Cancelled
	}
	return false
}

// CanRecover returns true if testing can continue despite this trip.
func (t *Trip) CanRecover() bool {
	return t.Severity == Stumble
}

// IsFall returns true if this trip should immediately stop testing.
func (t *Trip) IsFall() bool {
	return t.Severity == Fall
}

// GetContext returns a specific context value if it exists.
func (t *Trip) GetContext(key string) (interface{}, bool) {
	if t.Context == nil {
		return nil, false
	}
	val, exists := t.Context[key]
	return val, exists
}

// DetailedString returns a multi-line description with context, for reports.
func (t *Trip) DetailedString() string {
	var details strings.Builder

	details.WriteString(t.Error())
	details.WriteString(fmt.Sprintf("\n  Time: %s", t.Timestamp.Format("15:04:05.000")))

	if t.Attempts > 0 {
		details.WriteString(fmt.Sprintf("\n  Attempts: %d", t.Attempts))
	}

	if len(t.Context) > 0 {
		keys := make([]string, 0, len(t.Context))
		for key := range t.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		details.WriteString("\n  Context:")
		for _, key := range keys {
			details.WriteString(fmt.Sprintf("\n    %s: %v", key, t.Context[key]))
		}
	}

	return details.String()
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
