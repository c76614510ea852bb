package dolly

import (
	"github.com/teranos/dolly/command"
	"github.com/teranos/dolly/cond"
	"github.com/teranos/dolly/element"
)

// Shot is an element in a fluent chain. Every call waits as described on
// the matching command and returns the same Shot, so calls can be chained.
// Once the session fell, remaining calls do nothing.
type Shot struct {
	d  *Director
	el element.Element
}

// Element returns the underlying handle.
func (s *Shot) Element() element.Element { return s.el }

// String renders the locator chain.
func (s *Shot) String() string { return s.el.String() }

// Find narrows the chain to a descendant.
func (s *Shot) Find(by element.By) *Shot {
	return &Shot{d: s.d, el: s.el.Find(by)}
}

// Nth selects the i-th match of the last locator.
func (s *Shot) Nth(i int) *Shot {
	return &Shot{d: s.d, el: s.el.Nth(i)}
}

func (s *Shot) do(op command.Operation) *Shot {
	s.d.t.Helper()
	s.d.run(s.el, op)
	return s
}

// Click waits until the element is visible and enabled, then clicks it.
func (s *Shot) Click() *Shot {
	s.d.t.Helper()
	return s.do(command.Click())
}

// DoubleClick waits like Click, then double-clicks.
func (s *Shot) DoubleClick() *Shot {
	s.d.t.Helper()
	return s.do(command.DoubleClick())
}

// Focus focuses the element once it is visible.
func (s *Shot) Focus() *Shot {
	s.d.t.Helper()
	return s.do(command.Focus())
}

// Clear empties an editable input.
func (s *Shot) Clear() *Shot {
	s.d.t.Helper()
	return s.do(command.Clear())
}

// SetValue replaces the content of an editable input.
func (s *Shot) SetValue(text string) *Shot {
	s.d.t.Helper()
	return s.do(command.SetValue(text))
}

// Type appends text to an editable input.
func (s *Shot) Type(text string) *Shot {
	s.d.t.Helper()
	return s.do(command.Type(text))
}

// Press sends a named key such as element.KeyEnter.
func (s *Shot) Press(key string) *Shot {
	s.d.t.Helper()
	return s.do(command.Press(key))
}

// Should waits until every condition holds.
func (s *Shot) Should(conds ...cond.Condition) *Shot {
	s.d.t.Helper()
	return s.do(command.Should(conds...))
}

// ShouldHave reads better with value conditions: ShouldHave(cond.Text("x")).
func (s *Shot) ShouldHave(conds ...cond.Condition) *Shot {
	s.d.t.Helper()
	return s.do(command.ShouldHave(conds...))
}

// ShouldBe reads better with state conditions: ShouldBe(cond.Visible).
func (s *Shot) ShouldBe(conds ...cond.Condition) *Shot {
	s.d.t.Helper()
	return s.do(command.ShouldBe(conds...))
}

// ShouldNot waits until none of the conditions holds.
func (s *Shot) ShouldNot(conds ...cond.Condition) *Shot {
	s.d.t.Helper()
	return s.do(command.ShouldNot(conds...))
}

// Text reads the element text. It is empty when the call failed.
func (s *Shot) Text() (string, *Director) {
	s.d.t.Helper()
	v, _ := s.d.run(s.el, command.Text())
	text, _ := v.(string)
	return text, s.d
}

// Attribute reads an attribute. It is empty when missing or when the call
// failed.
func (s *Shot) Attribute(name string) (string, *Director) {
	s.d.t.Helper()
	v, _ := s.d.run(s.el, command.Attribute(name))
	value, _ := v.(string)
	return value, s.d
}

// Displayed reports whether the element is displayed right now, without
// waiting for it to appear.
func (s *Shot) Displayed() (bool, *Director) {
	s.d.t.Helper()
	v, _ := s.d.run(s.el, command.Displayed())
	shown, _ := v.(bool)
	return shown, s.d
}
