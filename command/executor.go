// Package command runs named operations against element handles inside the
// retry loop and reports each one as a single step.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teranos/dolly/cond"
	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/poll"
	"github.com/teranos/dolly/steplog"
	"github.com/teranos/dolly/trip"
)

// Kind says how an operation uses the retry loop.
type Kind int

const (
	// Assert retries the caller's condition and performs nothing.
	Assert Kind = iota
	// Mutate waits for readiness, then performs one side effect.
	Mutate
	// Extract waits for readiness, then reads one value.
	Extract
)

func (k Kind) String() string {
	switch k {
	case Assert:
		return "assert"
	case Mutate:
		return "mutate"
	case Extract:
		return "extract"
	default:
		return "unknown"
	}
}

// Operation is a named command. For Assert operations Ready is the asserted
// condition; otherwise it is the state the element must reach before Do runs.
// Do is called once and never retried.
type Operation struct {
	Name  string
	Args  []any
	Kind  Kind
	Ready cond.Condition
	Do    func(ctx context.Context, x *Executor, el element.Element, t element.Target) (any, error)
}

// Subject is the step subject reported for the operation.
func (op Operation) Subject() string {
	return steplog.ReadableSubject(op.Name, op.Args...)
}

// Validate rejects operations that cannot mean anything, such as an
// assertion without conditions.
func (op Operation) Validate() error {
	if op.Kind == Assert && len(op.Args) == 0 {
		return fmt.Errorf("%w: %s needs at least one condition", trip.ErrInvalidLocator, readableOp(op))
	}
	return nil
}

// Executor binds a driver and polling configuration.
type Executor struct {
	driver element.Driver
	cfg    poll.Config
	clock  poll.Clock
	log    logrus.FieldLogger
}

// Option configures an Executor.
type Option func(*Executor)

// WithConfig sets the polling configuration.
func WithConfig(cfg poll.Config) Option {
	return func(x *Executor) { x.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(x *Executor) {
		if log != nil {
			x.log = log
		}
	}
}

// WithClock replaces the wall clock used by the retry loop.
func WithClock(c poll.Clock) Option {
	return func(x *Executor) { x.clock = c }
}

// New returns an executor for d.
func New(d element.Driver, opts ...Option) *Executor {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	x := &Executor{driver: d, cfg: poll.DefaultConfig(), clock: poll.RealClock{}, log: discard}
	for _, opt := range opts {
		opt(x)
	}
	x.log = x.log.WithField("component", "command")
	return x
}

// Driver returns the driver commands run against.
func (x *Executor) Driver() element.Driver { return x.driver }

// Config returns the polling configuration.
func (x *Executor) Config() poll.Config { return x.cfg }

// WithTimeout returns a copy of x with a different timeout.
func (x *Executor) WithTimeout(d time.Duration) *Executor {
	c := *x
	c.cfg.Timeout = d
	return &c
}

// Execute runs op against el as one step of the scope in ctx.
//
// It returns the value produced by Do (the resolved target for assertions),
// a *trip.Trip when the element never became ready or the condition never
// held, or a fatal error exactly as the driver reported it.
func (x *Executor) Execute(ctx context.Context, el element.Element, op Operation) (any, error) {
	return steplog.Wrap(ctx, el.String(), op.Subject(), func(ctx context.Context) (any, error) {
		return x.execute(ctx, el, op)
	})
}

func (x *Executor) execute(ctx context.Context, el element.Element, op Operation) (any, error) {
	log := x.log.WithFields(logrus.Fields{"op": op.Name, "locator": el.String(), "kind": op.Kind})
	log.Debug("Executing")

	if err := op.Validate(); err != nil {
		return nil, err
	}

	target, err := poll.Until(ctx, x.cfg,
		func(ctx context.Context) (element.Target, error) { return el.Resolve(ctx, x.driver) },
		op.Ready,
		poll.WithClock(x.clock),
		poll.WithLogger(log),
	)
	if err != nil {
		return nil, enrich(err, op, el)
	}

	if op.Kind == Assert || op.Do == nil {
		return target, nil
	}

	v, err := op.Do(ctx, x, el, target)
	if err == nil {
		return v, nil
	}

	if trip.Classify(err) == trip.Transient {
		// The element was ready a moment ago; actions are not retried.
		return nil, &trip.Trip{
			Kind:      trip.Transient,
			Op:        readableOp(op),
			Locator:   el.String(),
			Message:   "element changed before the action could run",
			Cause:     err,
			Severity:  trip.Error,
			Timestamp: time.Now(),
		}
	}
	return nil, err
}

// enrich adds the operation and locator to trips from the retry loop.
// Everything else is returned untouched.
func enrich(err error, op Operation, el element.Element) error {
	var tr *trip.Trip
	if errors.As(err, &tr) && (tr.Kind == trip.Timeout || tr.Kind == trip.Cancelled) {
		tr.WithOp(readableOp(op), el.String())
	}
	return err
}

func readableOp(op Operation) string {
	return steplog.ReadableMethodName(op.Name)
}
