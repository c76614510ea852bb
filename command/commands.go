package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/teranos/dolly/cond"
	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/trip"
)

var clickable = cond.And(cond.Visible, cond.Enabled)

// present holds for found elements and, unlike cond.Exist, for missing ones.
var present = cond.New("present", true, nil)

func perform(action element.Action) func(context.Context, *Executor, element.Element, element.Target) (any, error) {
	return func(ctx context.Context, _ *Executor, _ element.Element, t element.Target) (any, error) {
		return nil, t.Perform(ctx, action)
	}
}

// Click waits until the element is visible and enabled, then clicks it.
func Click() Operation {
	return Operation{Name: "click", Kind: Mutate, Ready: clickable, Do: perform(element.Action{Kind: element.Click})}
}

// DoubleClick waits like Click, then double-clicks.
func DoubleClick() Operation {
	return Operation{Name: "doubleClick", Kind: Mutate, Ready: clickable, Do: perform(element.Action{Kind: element.DoubleClick})}
}

// Focus waits until the element is visible, then focuses it.
func Focus() Operation {
	return Operation{Name: "focus", Kind: Mutate, Ready: cond.Visible, Do: perform(element.Action{Kind: element.Focus})}
}

// Clear empties an editable input and then blurs it, so frameworks that
// listen for change or blur events notice the new value.
func Clear() Operation {
	return Operation{
		Name:  "clear",
		Kind:  Mutate,
		Ready: cond.Editable,
		Do: func(ctx context.Context, x *Executor, el element.Element, t element.Target) (any, error) {
			if err := t.Perform(ctx, element.Action{Kind: element.ClearValue}); err != nil {
				return nil, err
			}
			return nil, x.blurSafely(ctx, el, t)
		},
	}
}

// blurSafely blurs t. An input that disappeared right after clearing is not
// an error; any other failure is.
func (x *Executor) blurSafely(ctx context.Context, el element.Element, t element.Target) error {
	_, err := x.driver.ExecuteScript(ctx, "arguments[0].blur()", t)
	if err != nil && errors.Is(err, trip.ErrStale) {
		x.log.WithField("locator", el.String()).Debugf("The input has disappeared after clearing: %v", err)
		return nil
	}
	return err
}

// SetValue replaces the content of an editable input with text.
func SetValue(text string) Operation {
	return Operation{
		Name:  "setValue",
		Args:  []any{text},
		Kind:  Mutate,
		Ready: cond.Editable,
		Do: func(ctx context.Context, x *Executor, el element.Element, t element.Target) (any, error) {
			if err := t.Perform(ctx, element.Action{Kind: element.ClearValue}); err != nil {
				return nil, err
			}
			if text == "" {
				return nil, nil
			}
			// clearing may re-render the input, which leaves t stale
			t, err := el.Resolve(ctx, x.driver)
			if err != nil {
				return nil, err
			}
			return nil, t.Perform(ctx, element.Action{Kind: element.SendKeys, Keys: text})
		},
	}
}

// Type appends text to an editable input.
func Type(text string) Operation {
	return Operation{
		Name:  "type",
		Args:  []any{text},
		Kind:  Mutate,
		Ready: cond.Editable,
		Do:    perform(element.Action{Kind: element.SendKeys, Keys: text}),
	}
}

// Press sends a named key (see element.KeyEnter and friends).
func Press(key string) Operation {
	return Operation{
		Name:  "press",
		Args:  []any{key},
		Kind:  Mutate,
		Ready: cond.Exist,
		Do:    perform(element.Action{Kind: element.Press, Keys: key}),
	}
}

// Text reads the element text.
func Text() Operation {
	return Operation{
		Name:  "getText",
		Kind:  Extract,
		Ready: cond.Exist,
		Do: func(ctx context.Context, _ *Executor, _ element.Element, t element.Target) (any, error) {
			return t.Text(ctx)
		},
	}
}

// Attribute reads an attribute. A missing attribute reads as "".
func Attribute(name string) Operation {
	return Operation{
		Name:  "getAttribute",
		Args:  []any{name},
		Kind:  Extract,
		Ready: cond.Exist,
		Do: func(ctx context.Context, _ *Executor, _ element.Element, t element.Target) (any, error) {
			v, _, err := t.Attribute(ctx, name)
			return v, err
		},
	}
}

// Value reads the value attribute of an input.
func Value() Operation {
	op := Attribute("value")
	op.Name, op.Args = "getValue", nil
	return op
}

// Displayed reports whether the element is displayed. A missing element is
// not displayed; the call does not wait for it to appear.
func Displayed() Operation {
	return Operation{
		Name:  "isDisplayed",
		Kind:  Extract,
		Ready: present,
		Do: func(ctx context.Context, _ *Executor, _ element.Element, t element.Target) (any, error) {
			if t == nil {
				return false, nil
			}
			return t.Displayed(ctx)
		},
	}
}

// Should asserts that every condition holds at least once within the timeout.
func Should(conds ...cond.Condition) Operation {
	return assertion("should", cond.And(conds...), conds)
}

// ShouldHave is Should under a name that reads better for value conditions.
func ShouldHave(conds ...cond.Condition) Operation {
	return assertion("shouldHave", cond.And(conds...), conds)
}

// ShouldBe is Should under a name that reads better for state conditions.
func ShouldBe(conds ...cond.Condition) Operation {
	return assertion("shouldBe", cond.And(conds...), conds)
}

// ShouldNot asserts that none of the conditions hold.
func ShouldNot(conds ...cond.Condition) Operation {
	negated := make([]cond.Condition, len(conds))
	for i, c := range conds {
		negated[i] = cond.Not(c)
	}
	return assertion("shouldNot", cond.And(negated...), conds)
}

func assertion(name string, c cond.Condition, conds []cond.Condition) Operation {
	args := make([]any, len(conds))
	for i := range conds {
		args[i] = conds[i]
	}
	return Operation{Name: name, Args: args, Kind: Assert, Ready: c}
}

// Click runs Click against el.
func (x *Executor) Click(ctx context.Context, el element.Element) error {
	_, err := x.Execute(ctx, el, Click())
	return err
}

// DoubleClick runs DoubleClick against el.
func (x *Executor) DoubleClick(ctx context.Context, el element.Element) error {
	_, err := x.Execute(ctx, el, DoubleClick())
	return err
}

// Clear runs Clear against el.
func (x *Executor) Clear(ctx context.Context, el element.Element) error {
	_, err := x.Execute(ctx, el, Clear())
	return err
}

// SetValue runs SetValue against el.
func (x *Executor) SetValue(ctx context.Context, el element.Element, text string) error {
	_, err := x.Execute(ctx, el, SetValue(text))
	return err
}

// Type runs Type against el.
func (x *Executor) Type(ctx context.Context, el element.Element, text string) error {
	_, err := x.Execute(ctx, el, Type(text))
	return err
}

// Press runs Press against el.
func (x *Executor) Press(ctx context.Context, el element.Element, key string) error {
	_, err := x.Execute(ctx, el, Press(key))
	return err
}

// Text runs Text against el.
func (x *Executor) Text(ctx context.Context, el element.Element) (string, error) {
	return extract[string](x.Execute(ctx, el, Text()))
}

// Attribute runs Attribute against el.
func (x *Executor) Attribute(ctx context.Context, el element.Element, name string) (string, error) {
	return extract[string](x.Execute(ctx, el, Attribute(name)))
}

// Value runs Value against el.
func (x *Executor) Value(ctx context.Context, el element.Element) (string, error) {
	return extract[string](x.Execute(ctx, el, Value()))
}

// Displayed runs Displayed against el.
func (x *Executor) Displayed(ctx context.Context, el element.Element) (bool, error) {
	return extract[bool](x.Execute(ctx, el, Displayed()))
}

// Should runs Should against el.
func (x *Executor) Should(ctx context.Context, el element.Element, conds ...cond.Condition) error {
	_, err := x.Execute(ctx, el, Should(conds...))
	return err
}

// ShouldNot runs ShouldNot against el.
func (x *Executor) ShouldNot(ctx context.Context, el element.Element, conds ...cond.Condition) error {
	_, err := x.Execute(ctx, el, ShouldNot(conds...))
	return err
}

func extract[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected result type %T", trip.ErrDriver, v)
	}
	return out, nil
}
