// Package cond provides named, negatable predicates over resolved elements.
//
// A Condition is an immutable value. It satisfies poll.Check, so any
// condition can be handed straight to the retry loop:
//
//	poll.Until(ctx, cfg, el.Resolve..., cond.Not(cond.Text("Loading")))
package cond

import (
	"context"
	"fmt"
	"strings"

	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/poll"
)

// Predicate evaluates a condition against one resolved target.
type Predicate func(ctx context.Context, t element.Target) (poll.Verdict, error)

// Condition is a named predicate. The zero value behaves like Exist.
type Condition struct {
	name      string
	args      []any
	predicate Predicate
	missing   bool       // holds when the element cannot be found
	negation  *Condition // set on conditions built by Not
}

var _ poll.Check[element.Target] = Condition{}

// New builds a custom condition. missingSatisfies says whether an element
// that cannot be found counts as meeting it.
func New(name string, missingSatisfies bool, p Predicate, args ...any) Condition {
	return Condition{name: name, args: args, predicate: p, missing: missingSatisfies}
}

// Name returns the bare condition name without arguments.
func (c Condition) Name() string {
	if c.name == "" {
		return "exist"
	}
	return c.name
}

// Args returns the arguments shown in the description.
func (c Condition) Args() []any { return c.args }

// String renders the condition as it appears in failure messages, e.g.
// `text "Done"` or `not visible`.
func (c Condition) String() string {
	if len(c.args) == 0 {
		return c.Name()
	}
	parts := make([]string, len(c.args))
	for i, a := range c.args {
		if s, ok := a.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)
		} else {
			parts[i] = fmt.Sprint(a)
		}
	}
	return c.Name() + " " + strings.Join(parts, " ")
}

// SatisfiedByMissing implements poll.MissingSatisfier.
func (c Condition) SatisfiedByMissing() bool { return c.missing }

// Evaluate implements poll.Check.
func (c Condition) Evaluate(ctx context.Context, t element.Target) (poll.Verdict, error) {
	if c.predicate == nil {
		return poll.Verdict{Satisfied: true, Actual: "exists"}, nil
	}
	return c.predicate(ctx, t)
}

// Negated reports whether c was produced by Not.
func (c Condition) Negated() bool { return c.negation != nil }

// Not inverts c. The description gains a "not " prefix and the missing
// element rule flips, so Not(Exist) holds for an element that is gone.
// Not(Not(c)) returns c itself.
func Not(c Condition) Condition {
	if c.negation != nil {
		return *c.negation
	}
	orig := c
	return Condition{
		name: "not " + c.Name(),
		args: c.args,
		predicate: func(ctx context.Context, t element.Target) (poll.Verdict, error) {
			v, err := orig.Evaluate(ctx, t)
			if err != nil {
				return v, err
			}
			return poll.Verdict{Satisfied: !v.Satisfied, Actual: v.Actual}, nil
		},
		missing:  !c.missing,
		negation: &orig,
	}
}

// And holds when every condition holds. Evaluation stops at the first one
// that does not.
func And(conds ...Condition) Condition {
	return combine(" and ", conds, func(ok bool) bool { return !ok }, true)
}

// Or holds when at least one condition holds. Evaluation stops at the first
// one that does.
func Or(conds ...Condition) Condition {
	return combine(" or ", conds, func(ok bool) bool { return ok }, false)
}

func combine(sep string, conds []Condition, stop func(bool) bool, all bool) Condition {
	if len(conds) == 1 {
		return conds[0]
	}

	names := make([]string, len(conds))
	// an empty And says nothing about a missing element
	missing := all && len(conds) > 0
	for i, c := range conds {
		names[i] = c.String()
		if all {
			missing = missing && c.missing
		} else {
			missing = missing || c.missing
		}
	}
	list := append([]Condition(nil), conds...)

	return Condition{
		name: strings.Join(names, sep),
		predicate: func(ctx context.Context, t element.Target) (poll.Verdict, error) {
			actual := make([]string, 0, len(list))
			for _, c := range list {
				v, err := c.Evaluate(ctx, t)
				if err != nil {
					return poll.Verdict{}, err
				}
				if v.Actual != "" {
					actual = append(actual, v.Actual)
				}
				if stop(v.Satisfied) {
					return poll.Verdict{Satisfied: v.Satisfied, Actual: strings.Join(actual, ", ")}, nil
				}
			}
			return poll.Verdict{Satisfied: all, Actual: strings.Join(actual, ", ")}, nil
		},
		missing: missing,
	}
}
