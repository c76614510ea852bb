package poll

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Clock abstracts time so tests can drive the loop without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures a single Until call.
type Option func(*options)

type options struct {
	clock   Clock
	log     logrus.FieldLogger
	onTrial []func(Attempt)
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger used for per-attempt debug lines.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// OnAttempt registers a hook called after every attempt.
func OnAttempt(fn func(Attempt)) Option {
	return func(o *options) {
		if fn != nil {
			o.onTrial = append(o.onTrial, fn)
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{clock: RealClock{}, log: discardLogger()}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.WithField("component", "poll")
	return o
}

func (o *options) notify(a Attempt) {
	for _, fn := range o.onTrial {
		fn(a)
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type funcCheck[T any] struct {
	description string
	fn          func(ctx context.Context, target T) (Verdict, error)
}

func (f funcCheck[T]) String() string { return f.description }

func (f funcCheck[T]) Evaluate(ctx context.Context, target T) (Verdict, error) {
	return f.fn(ctx, target)
}

// Func adapts a plain function into a Check.
func Func[T any](description string, fn func(ctx context.Context, target T) (Verdict, error)) Check[T] {
	return funcCheck[T]{description: description, fn: fn}
}

// Equals is a Check that compares an extracted value with want.
func Equals[T any, V comparable](description string, extract func(ctx context.Context, target T) (V, error), want V) Check[T] {
	return Func(description, func(ctx context.Context, target T) (Verdict, error) {
		got, err := extract(ctx, target)
		if err != nil {
			return Verdict{}, err
		}
		return Verdict{Satisfied: got == want, Actual: fmt.Sprint(got)}, nil
	})
}
