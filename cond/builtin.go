package cond

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/poll"
	"github.com/teranos/dolly/trip"
)

var (
	// Exist holds once the element resolves.
	Exist = Condition{name: "exist"}

	// Visible holds when the element is displayed.
	Visible = New("visible", false, flag("visible", "hidden", element.Target.Displayed))

	// Hidden holds when the element is not displayed or not present.
	Hidden = New("hidden", true, invert(flag("visible", "hidden", element.Target.Displayed)))

	// Enabled holds when the element accepts interaction.
	Enabled = New("enabled", false, flag("enabled", "disabled", element.Target.Enabled))

	// Disabled holds when the element is present but inert.
	Disabled = New("disabled", false, invert(flag("enabled", "disabled", element.Target.Enabled)))

	// Editable holds for enabled, non-readonly inputs.
	Editable = New("editable", false, flag("editable", "readonly", element.Target.Editable))

	// Empty holds when the element has no visible text.
	Empty = New("empty", false, func(ctx context.Context, t element.Target) (poll.Verdict, error) {
		text, err := t.Text(ctx)
		if err != nil {
			return poll.Verdict{}, err
		}
		return poll.Verdict{Satisfied: strings.TrimSpace(text) == "", Actual: fmt.Sprintf("%q", text)}, nil
	})
)

// Text holds when the element text contains want, ignoring case and
// collapsing runs of whitespace.
func Text(want string) Condition {
	needle := normalize(want)
	return New("text", false, textPredicate(func(got string) bool {
		return strings.Contains(normalize(got), needle)
	}), want)
}

// ExactText holds when the element text equals want after trimming.
func ExactText(want string) Condition {
	return New("exact text", false, textPredicate(func(got string) bool {
		return strings.TrimSpace(got) == want
	}), want)
}

// MatchText holds when the element text matches the regular expression.
// An invalid pattern fails the first evaluation with trip.ErrInvalidLocator.
func MatchText(pattern string) Condition {
	re, compileErr := regexp.Compile(pattern)
	return New("match text", false, func(ctx context.Context, t element.Target) (poll.Verdict, error) {
		if compileErr != nil {
			return poll.Verdict{}, fmt.Errorf("%w: %v", trip.ErrInvalidLocator, compileErr)
		}
		return textPredicate(re.MatchString)(ctx, t)
	}, pattern)
}

// Value holds when the value attribute contains want.
func Value(want string) Condition {
	return New("value", false, attrPredicate("value", func(got string, ok bool) bool {
		return ok && strings.Contains(got, want)
	}), want)
}

// Attribute holds when the attribute is present.
func Attribute(name string) Condition {
	return New("attribute", false, attrPredicate(name, func(_ string, ok bool) bool {
		return ok
	}), name)
}

// AttributeValue holds when the attribute is present and equals want.
func AttributeValue(name, want string) Condition {
	return New("attribute", false, attrPredicate(name, func(got string, ok bool) bool {
		return ok && got == want
	}), name, want)
}

func flag(yes, no string, read func(element.Target, context.Context) (bool, error)) Predicate {
	return func(ctx context.Context, t element.Target) (poll.Verdict, error) {
		ok, err := read(t, ctx)
		if err != nil {
			return poll.Verdict{}, err
		}
		actual := no
		if ok {
			actual = yes
		}
		return poll.Verdict{Satisfied: ok, Actual: actual}, nil
	}
}

func invert(p Predicate) Predicate {
	return func(ctx context.Context, t element.Target) (poll.Verdict, error) {
		v, err := p(ctx, t)
		v.Satisfied = !v.Satisfied
		return v, err
	}
}

func textPredicate(match func(string) bool) Predicate {
	return func(ctx context.Context, t element.Target) (poll.Verdict, error) {
		text, err := t.Text(ctx)
		if err != nil {
			return poll.Verdict{}, err
		}
		return poll.Verdict{Satisfied: match(text), Actual: fmt.Sprintf("text %q", text)}, nil
	}
}

func attrPredicate(name string, match func(string, bool) bool) Predicate {
	return func(ctx context.Context, t element.Target) (poll.Verdict, error) {
		got, ok, err := t.Attribute(ctx, name)
		if err != nil {
			return poll.Verdict{}, err
		}
		actual := fmt.Sprintf("%s=%q", name, got)
		if !ok {
			actual = fmt.Sprintf("no %s", name)
		}
		return poll.Verdict{Satisfied: match(got, ok), Actual: actual}, nil
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
