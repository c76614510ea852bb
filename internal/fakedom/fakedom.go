// Package fakedom is an in-memory element.Driver for tests.
//
// Nodes are registered under a locator string (element.By.String(), joined
// with " " for scoped lookups). Replacing or removing a node makes targets
// resolved earlier stale, the way a re-render does in a browser.
package fakedom

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/trip"
)

// Node is the state of one element.
type Node struct {
	Text     string
	Attrs    map[string]string
	Hidden   bool
	Disabled bool
	ReadOnly bool
}

type node struct {
	Node
	removed bool
}

// DOM is safe for concurrent use.
type DOM struct {
	mu         sync.Mutex
	nodes      map[string]*node
	finds      map[string]int
	onFind     map[string]func(n int)
	findErr    map[string]error
	actionErr  map[element.ActionKind]error
	onAction   func(selector string, a element.Action)
	scriptErr  error
	actions    []string
	scripts    []string
	screenshot []byte
}

// New returns an empty DOM.
func New() *DOM {
	return &DOM{
		nodes:     make(map[string]*node),
		finds:     make(map[string]int),
		onFind:    make(map[string]func(int)),
		findErr:   make(map[string]error),
		actionErr: make(map[element.ActionKind]error),
	}
}

// Set adds or replaces the node at selector. Earlier targets become stale.
func (d *DOM) Set(selector string, n Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setLocked(selector, n)
}

func (d *DOM) setLocked(selector string, n Node) {
	if old, ok := d.nodes[selector]; ok {
		old.removed = true
	}
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	d.nodes[selector] = &node{Node: n}
}

// Update changes the node in place; targets stay valid.
func (d *DOM) Update(selector string, fn func(n *Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if nd, ok := d.nodes[selector]; ok {
		fn(&nd.Node)
	}
}

// Remove detaches the node at selector.
func (d *DOM) Remove(selector string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(selector)
}

func (d *DOM) removeLocked(selector string) {
	if nd, ok := d.nodes[selector]; ok {
		nd.removed = true
		delete(d.nodes, selector)
	}
}

// OnFind runs fn before the n-th (1-based) lookup of selector is answered.
// fn may call Set, Update or Remove.
func (d *DOM) OnFind(selector string, fn func(n int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFind[selector] = fn
}

// OnAction runs fn after every successful action.
func (d *DOM) OnAction(fn func(selector string, a element.Action)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAction = fn
}

// FailFind makes every lookup of selector return err.
func (d *DOM) FailFind(selector string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.findErr[selector] = err
}

// FailAction makes every action of kind return err.
func (d *DOM) FailAction(kind element.ActionKind, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actionErr[kind] = err
}

// FailScript makes ExecuteScript return err.
func (d *DOM) FailScript(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scriptErr = err
}

// SetScreenshot sets the bytes returned by Screenshot.
func (d *DOM) SetScreenshot(png []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.screenshot = png
}

// Finds returns how often selector was looked up.
func (d *DOM) Finds(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finds[selector]
}

// Actions returns performed actions as "<action> <selector>".
func (d *DOM) Actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.actions...)
}

// Scripts returns executed scripts.
func (d *DOM) Scripts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.scripts...)
}

// Node returns a copy of the node at selector.
func (d *DOM) Node(selector string) (Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	nd, ok := d.nodes[selector]
	if !ok {
		return Node{}, false
	}
	return nd.Node, true
}

// Find implements element.Driver.
func (d *DOM) Find(ctx context.Context, scope element.Target, by element.By, index int) (element.Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	selector := by.String()
	if scope != nil {
		parent, ok := scope.(*target)
		if !ok {
			return nil, fmt.Errorf("%w: foreign scope %T", trip.ErrDriver, scope)
		}
		selector = parent.selector + " " + selector
	}
	if index > 0 {
		selector = fmt.Sprintf("%s[%d]", selector, index)
	}

	d.mu.Lock()
	d.finds[selector]++
	n := d.finds[selector]
	hook := d.onFind[selector]
	d.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err, ok := d.findErr[selector]; ok {
		return nil, err
	}
	nd, ok := d.nodes[selector]
	if !ok {
		return nil, fmt.Errorf("%s: %w", selector, trip.ErrNotFound)
	}
	return &target{dom: d, selector: selector, node: nd}, nil
}

// ExecuteScript implements element.Driver. Only "arguments[0].blur()" is
// understood; it fails with trip.ErrStale when the target was detached.
func (d *DOM) ExecuteScript(_ context.Context, script string, args ...any) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.scripts = append(d.scripts, script)
	if d.scriptErr != nil {
		return nil, d.scriptErr
	}
	if strings.HasSuffix(script, ".blur()") && len(args) > 0 {
		if t, ok := args[0].(*target); ok && t.node.removed {
			return nil, fmt.Errorf("%s: %w", t.selector, trip.ErrStale)
		}
	}
	return nil, nil
}

// Screenshot implements element.Screenshotter.
func (d *DOM) Screenshot(context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.screenshot == nil {
		return nil, fmt.Errorf("%w: no screenshot configured", trip.ErrDriver)
	}
	return d.screenshot, nil
}

type target struct {
	dom      *DOM
	selector string
	node     *node
}

// read runs fn on the node under the DOM lock, failing if it was detached.
func (t *target) read(fn func(n *Node)) error {
	t.dom.mu.Lock()
	defer t.dom.mu.Unlock()
	if t.node.removed {
		return fmt.Errorf("%s: %w", t.selector, trip.ErrStale)
	}
	fn(&t.node.Node)
	return nil
}

func (t *target) Text(context.Context) (string, error) {
	var s string
	err := t.read(func(n *Node) { s = n.Text })
	return s, err
}

func (t *target) Attribute(_ context.Context, name string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := t.read(func(n *Node) { v, ok = n.Attrs[name] })
	return v, ok, err
}

func (t *target) Displayed(context.Context) (bool, error) {
	var v bool
	err := t.read(func(n *Node) { v = !n.Hidden })
	return v, err
}

func (t *target) Enabled(context.Context) (bool, error) {
	var v bool
	err := t.read(func(n *Node) { v = !n.Disabled })
	return v, err
}

func (t *target) Editable(context.Context) (bool, error) {
	var v bool
	err := t.read(func(n *Node) { v = !n.Disabled && !n.ReadOnly })
	return v, err
}

func (t *target) Perform(_ context.Context, a element.Action) error {
	t.dom.mu.Lock()
	if err, ok := t.dom.actionErr[a.Kind]; ok {
		t.dom.mu.Unlock()
		return err
	}
	if t.node.removed {
		t.dom.mu.Unlock()
		return fmt.Errorf("%s: %w", t.selector, trip.ErrStale)
	}

	switch a.Kind {
	case element.ClearValue:
		t.node.Attrs["value"] = ""
	case element.SendKeys:
		t.node.Attrs["value"] += a.Keys
	}
	t.dom.actions = append(t.dom.actions, strings.TrimSpace(a.String()+" "+t.selector))
	hook := t.dom.onAction
	t.dom.mu.Unlock()

	if hook != nil {
		hook(t.selector, a)
	}
	return nil
}

// String is used as the script argument in logs.
func (t *target) String() string { return t.selector }
