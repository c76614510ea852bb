// Package poll implements the retry loop every fluent dolly operation runs in.
//
// Until resolves a target, evaluates a check against it and repeats on a fixed
// interval until the check holds, the timeout expires, the context is
// cancelled, or a non-retryable error shows up. Transient errors (see
// trip.Classify) count as "not yet"; anything else is returned unchanged.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teranos/dolly/trip"
)

const (
	DefaultTimeout  = 4 * time.Second
	DefaultInterval = 200 * time.Millisecond
)

// Config is the per-call polling configuration.
//
// Timeout zero means a single attempt with no sleep. Interval must be
// positive; a non-positive value is replaced with DefaultInterval.
type Config struct {
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns a Config with DefaultTimeout and DefaultInterval.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout, Interval: DefaultInterval}
}

func (c Config) normalize() Config {
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Verdict is the outcome of one evaluation. Actual describes what was
// observed and ends up in the timeout message.
type Verdict struct {
	Satisfied bool
	Actual    string
}

// Check is evaluated against a freshly resolved target on every attempt.
type Check[T any] interface {
	String() string
	Evaluate(ctx context.Context, target T) (Verdict, error)
}

// MissingSatisfier is implemented by checks that hold when the target cannot
// be found at all, such as "hidden" or "not exist".
type MissingSatisfier interface {
	SatisfiedByMissing() bool
}

// Attempt describes one finished round, passed to OnAttempt hooks.
type Attempt struct {
	N       int
	Elapsed time.Duration
	Verdict Verdict
	Err     error
}

// Until polls resolve and check until check is satisfied and returns the
// target that satisfied it.
//
// On failure the error is either the fatal error exactly as resolve or check
// returned it, or a *trip.Trip of kind Timeout or Cancelled.
func Until[T any](
	ctx context.Context,
	cfg Config,
	resolve func(ctx context.Context) (T, error),
	check Check[T],
	opts ...Option,
) (T, error) {
	o := newOptions(opts)
	cfg = cfg.normalize()

	var (
		zero       T
		lastErr    error
		lastActual string
		missingOK  = satisfiedByMissing(check)
		start      = o.clock.Now()
		log        = o.log.WithField("condition", check.String())
	)

	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return zero, cancelled(ctx, cfg, check, start, o.clock.Now(), n-1, lastActual, lastErr)
		}

		target, verdict, err := attempt(ctx, resolve, check)
		elapsed := o.clock.Now().Sub(start)
		o.notify(Attempt{N: n, Elapsed: elapsed, Verdict: verdict, Err: err})

		if err == nil {
			if verdict.Satisfied {
				log.WithFields(logrus.Fields{"attempt": n, "elapsed": elapsed}).Debug("Condition met")
				return target, nil
			}
			lastActual, lastErr = verdict.Actual, nil
		} else {
			switch trip.Classify(err) {
			case trip.Transient:
				if missingOK && errors.Is(err, trip.ErrNotFound) {
					return zero, nil
				}
				lastErr = err
			case trip.Cancelled:
				if ctx.Err() != nil {
					return zero, cancelled(ctx, cfg, check, start, start.Add(elapsed), n, lastActual, err)
				}
				return zero, err
			default:
				log.WithError(err).WithField("attempt", n).Debug("Aborting on non-retryable error")
				return zero, err
			}
		}

		log.WithFields(logrus.Fields{
			"attempt": n,
			"elapsed": elapsed,
			"actual":  lastActual,
			"error":   lastErr,
		}).Debug("Condition not met yet")

		if elapsed >= cfg.Timeout {
			return zero, &trip.Trip{
				Kind:      trip.Timeout,
				Condition: check.String(),
				Timeout:   cfg.Timeout,
				Elapsed:   elapsed,
				Attempts:  n,
				Actual:    lastActual,
				Cause:     lastErr,
				Severity:  trip.Error,
				Timestamp: o.clock.Now(),
			}
		}

		if err := o.clock.Sleep(ctx, cfg.Interval); err != nil {
			return zero, cancelled(ctx, cfg, check, start, o.clock.Now(), n, lastActual, lastErr)
		}
	}
}

func attempt[T any](
	ctx context.Context,
	resolve func(ctx context.Context) (T, error),
	check Check[T],
) (T, Verdict, error) {
	target, err := resolve(ctx)
	if err != nil {
		return target, Verdict{}, err
	}
	verdict, err := check.Evaluate(ctx, target)
	return target, verdict, err
}

func satisfiedByMissing(check any) bool {
	m, ok := check.(MissingSatisfier)
	return ok && m.SatisfiedByMissing()
}

func cancelled[T any](
	ctx context.Context,
	cfg Config,
	check Check[T],
	start, now time.Time,
	attempts int,
	actual string,
	last error,
) *trip.Trip {
	t := &trip.Trip{
		Kind:      trip.Cancelled,
		Condition: check.String(),
		Timeout:   cfg.Timeout,
		Elapsed:   now.Sub(start),
		Attempts:  attempts,
		Actual:    actual,
		Cause:     ctx.Err(),
		Severity:  trip.Error,
		Timestamp: now,
	}
	if last != nil && !errors.Is(last, ctx.Err()) {
		t.Context = trip.Context{"last_error": last.Error()}
	}
	return t
}

// Wait polls fn until it reports true. It is Until without a target, for
// callers that only need to block on some state.
func Wait(ctx context.Context, cfg Config, description string, fn func(ctx context.Context) (bool, error), opts ...Option) error {
	_, err := Until(ctx, cfg, func(context.Context) (struct{}, error) {
		return struct{}{}, nil
	}, Func(description, func(ctx context.Context, _ struct{}) (Verdict, error) {
		ok, err := fn(ctx)
		return Verdict{Satisfied: ok}, err
	}), opts...)
	return err
}
