package steplog

import (
	"context"
	"errors"
	"fmt"
)

// ErrGoexit is recorded when a wrapped function stops its goroutine with
// runtime.Goexit, which is what t.FailNow does.
var ErrGoexit = errors.New("goroutine exited")

// PanicError is recorded as the step error when the wrapped function panics.
// The panic itself is re-raised with the original value.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap returns the panic value if it was an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

// Wrap runs fn as one step of the scope carried by ctx.
//
// On success the step is committed PASS and fn's value returned. On error the
// step is committed FAIL with that error, and the same error is returned
// without wrapping. A panic commits FAIL and keeps propagating.
func Wrap[T any](ctx context.Context, source, subject string, fn func(ctx context.Context) (T, error)) (T, error) {
	s := FromContext(ctx)
	e := s.BeginStep(source, subject)

	done := false
	defer func() {
		if done {
			return
		}
		r := recover()
		if r == nil {
			s.CommitStepError(e, ErrGoexit)
			return
		}
		s.CommitStepError(e, &PanicError{Value: r})
		panic(r)
	}()

	v, err := fn(ctx)
	done = true

	if err != nil {
		s.CommitStepError(e, err)
		return v, err
	}
	s.CommitStep(e, Pass)
	return v, nil
}

// Run is Wrap for functions without a result.
func Run(ctx context.Context, source, subject string, fn func(ctx context.Context) error) error {
	_, err := Wrap(ctx, source, subject, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Step groups the steps fn performs under one named parent step.
func Step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return Run(ctx, name, "", fn)
}
