// Package element models lazy, re-resolvable references to remote UI
// elements and the minimal driver contract they are resolved against.
package element

import (
	"context"
	"fmt"
	"strings"

	"github.com/teranos/dolly/trip"
)

// Strategy names how a selector is interpreted by a driver.
type Strategy string

const (
	CSS      Strategy = "css"
	XPath    Strategy = "xpath"
	ID       Strategy = "id"
	Name     Strategy = "name"
	Text     Strategy = "text"
	LinkText Strategy = "link text"
	Line     Strategy = "line"
	Regexp   Strategy = "regexp"
)

// By is a strategy plus selector.
type By struct {
	Strategy Strategy
	Selector string
}

func ByCSS(selector string) By { return By{Strategy: CSS, Selector: selector} }
func ByXPath(selector string) By { return By{Strategy: XPath, Selector: selector} }
func ByID(id string) By { return By{Strategy: ID, Selector: id} }
func ByName(name string) By { return By{Strategy: Name, Selector: name} }
func ByText(text string) By { return By{Strategy: Text, Selector: text} }
func ByLinkText(text string) By { return By{Strategy: LinkText, Selector: text} }
func ByRegexp(pattern string) By { return By{Strategy: Regexp, Selector: pattern} }
func ByLine(n int) By { return By{Strategy: Line, Selector: fmt.Sprint(n)} }

func (b By) String() string {
	switch b.Strategy {
	case CSS, "":
		return b.Selector
	default:
		return fmt.Sprintf("by %s: %s", b.Strategy, b.Selector)
	}
}

// Validate rejects locators no driver could ever resolve.
func (b By) Validate() error {
	if strings.TrimSpace(b.Selector) == "" {
		return fmt.Errorf("%w: empty %s selector", trip.ErrInvalidLocator, b.Strategy)
	}
	return nil
}

// Element is an immutable handle to zero or more elements in a remote
// document. It holds no driver object: every Resolve call walks the parent
// chain again, so a re-rendered DOM is picked up on the next attempt.
type Element struct {
	by     By
	index  int
	parent *Element
}

// Find returns a top-level handle.
func Find(by By) Element {
	return Element{by: by}
}

// FindCSS is Find(ByCSS(selector)).
func FindCSS(selector string) Element {
	return Find(ByCSS(selector))
}

// Find returns a child handle scoped to e.
func (e Element) Find(by By) Element {
	parent := e
	return Element{by: by, parent: &parent}
}

// Nth returns a handle to the i-th match (zero-based) of the same locator.
func (e Element) Nth(i int) Element {
	e.index = i
	return e
}

// By returns the handle's own locator, without its parents.
func (e Element) By() By { return e.by }

// Index returns the match index selected with Nth.
func (e Element) Index() int { return e.index }

// Parent returns the enclosing handle, if any.
func (e Element) Parent() (Element, bool) {
	if e.parent == nil {
		return Element{}, false
	}
	return *e.parent, true
}

// String renders the locator chain, outermost first.
func (e Element) String() string {
	s := e.by.String()
	if e.index > 0 {
		s = fmt.Sprintf("%s[%d]", s, e.index)
	}
	if e.parent != nil {
		return e.parent.String() + " >> " + s
	}
	return s
}

// Resolve looks the element up through d. Errors are whatever the driver
// reports; drivers wrap trip sentinels so callers can classify them.
func (e Element) Resolve(ctx context.Context, d Driver) (Target, error) {
	if err := e.by.Validate(); err != nil {
		return nil, err
	}
	if e.index < 0 {
		return nil, fmt.Errorf("%w: negative index %d", trip.ErrInvalidLocator, e.index)
	}

	var scope Target
	if e.parent != nil {
		var err error
		if scope, err = e.parent.Resolve(ctx, d); err != nil {
			return nil, err
		}
	}
	return d.Find(ctx, scope, e.by, e.index)
}
