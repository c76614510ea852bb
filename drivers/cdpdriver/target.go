package cdpdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/trip"
)

// Element functions run with the element as this. Every one is wrapped so
// that a node which has left the document fails instead of answering.
const (
	jsText      = `function() { return this.innerText ?? this.textContent ?? ""; }`
	jsEnabled   = `function() { return !this.disabled; }`
	jsAttribute = `function(name) {
	if (name === "value" && "value" in this) return {present: true, value: String(this.value)};
	if (!this.hasAttribute(name)) return {present: false, value: ""};
	return {present: true, value: this.getAttribute(name)};
}`
	jsDisplayed = `function() {
	const style = getComputedStyle(this);
	if (style.visibility === "hidden" || style.display === "none") return false;
	const box = this.getBoundingClientRect();
	return box.width > 0 && box.height > 0;
}`
	jsEditable = `function() {
	if (this.disabled) return false;
	if (this.isContentEditable) return true;
	if (this.tagName === "TEXTAREA") return !this.readOnly;
	if (this.tagName !== "INPUT") return false;
	const fixed = ["button", "checkbox", "radio", "submit", "reset", "file", "image", "hidden"];
	return !this.readOnly && !fixed.includes(this.type);
}`
	jsClear = `function() {
	this.value = "";
	this.dispatchEvent(new Event("input", {bubbles: true}));
}`
)

func guarded(fn string) string {
	return `function(...args) {
	if (!this.isConnected) throw new Error("` + staleMarker + `");
	return (` + fn + `).apply(this, args);
}`
}

// keys maps element key names to what chromedp types.
var keys = map[string]string{
	element.KeyEnter:     kb.Enter,
	element.KeyTab:       kb.Tab,
	element.KeyEscape:    kb.Escape,
	element.KeyBackspace: kb.Backspace,
	element.KeyUp:        kb.ArrowUp,
	element.KeyDown:      kb.ArrowDown,
	element.KeyLeft:      kb.ArrowLeft,
	element.KeyRight:     kb.ArrowRight,
}

type target struct {
	d    *Driver
	node *cdp.Node
	by   element.By
}

func (t *target) String() string { return t.by.String() }

func (t *target) Text(ctx context.Context) (string, error) {
	var s string
	err := t.call(ctx, jsText, &s)
	return s, err
}

func (t *target) Attribute(ctx context.Context, name string) (string, bool, error) {
	var attr struct {
		Present bool   `json:"present"`
		Value   string `json:"value"`
	}
	err := t.call(ctx, jsAttribute, &attr, name)
	return attr.Value, attr.Present, err
}

func (t *target) Displayed(ctx context.Context) (bool, error) { return t.flag(ctx, jsDisplayed) }
func (t *target) Enabled(ctx context.Context) (bool, error)   { return t.flag(ctx, jsEnabled) }
func (t *target) Editable(ctx context.Context) (bool, error)  { return t.flag(ctx, jsEditable) }

func (t *target) flag(ctx context.Context, fn string) (bool, error) {
	var v bool
	err := t.call(ctx, fn, &v)
	return v, err
}

// Perform implements element.Target.
func (t *target) Perform(ctx context.Context, a element.Action) error {
	var do func(ctx context.Context) error
	switch a.Kind {
	case element.Click:
		do = chromedp.MouseClickNode(t.node).Do
	case element.DoubleClick:
		do = chromedp.MouseClickNode(t.node, chromedp.ClickCount(2)).Do
	case element.ClearValue:
		return t.call(ctx, jsClear, nil)
	case element.SendKeys:
		do = chromedp.KeyEventNode(t.node, a.Keys).Do
	case element.Press:
		key, ok := keys[a.Keys]
		if !ok {
			return fmt.Errorf("%w: unknown key %q", trip.ErrDriver, a.Keys)
		}
		do = chromedp.KeyEventNode(t.node, key).Do
	case element.Focus:
		do = dom.Focus().WithBackendNodeID(t.node.BackendNodeID).Do
	default:
		return fmt.Errorf("%w: unsupported action %s", trip.ErrDriver, a)
	}

	return t.d.run(ctx, func(ctx context.Context) error {
		// input events go to whatever is at the node's position, so make
		// sure it is still the node
		if err := callOn(ctx, t.node, `function() {}`, nil); err != nil {
			return err
		}
		return do(ctx)
	})
}

func (t *target) call(ctx context.Context, fn string, out any, args ...any) error {
	return t.d.run(ctx, func(ctx context.Context) error {
		return callOn(ctx, t.node, fn, out, args...)
	})
}

// callOn runs fn with node as this. ctx must come from chromedp.Run.
func callOn(ctx context.Context, node *cdp.Node, fn string, out any, args ...any) error {
	obj, err := dom.ResolveNode().WithBackendNodeID(node.BackendNodeID).Do(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

	callArgs := make([]*runtime.CallArgument, len(args))
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("%w: argument %d: %v", trip.ErrDriver, i, err)
		}
		callArgs[i] = &runtime.CallArgument{Value: raw}
	}

	res, exc, err := runtime.CallFunctionOn(guarded(fn)).
		WithObjectID(obj.ObjectID).
		WithArguments(callArgs).
		WithReturnByValue(true).
		Do(ctx)
	if err != nil {
		return err
	}
	if exc != nil {
		return exception(exc)
	}
	return decode(res, out)
}

// ExecuteScript implements element.Driver. The script is the body of a
// function; targets among args are passed as their DOM nodes.
func (d *Driver) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	var out any
	err := d.run(ctx, func(ctx context.Context) error {
		var this runtime.RemoteObjectID
		callArgs := make([]*runtime.CallArgument, len(args))
		for i, a := range args {
			if t, ok := a.(*target); ok {
				if t.d != d {
					return fmt.Errorf("%w: argument %d belongs to another driver", trip.ErrDriver, i)
				}
				obj, err := dom.ResolveNode().WithBackendNodeID(t.node.BackendNodeID).Do(ctx)
				if err != nil {
					return err
				}
				defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()
				callArgs[i] = &runtime.CallArgument{ObjectID: obj.ObjectID}
				if this == "" {
					this = obj.ObjectID
				}
				continue
			}
			raw, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("%w: argument %d: %v", trip.ErrDriver, i, err)
			}
			callArgs[i] = &runtime.CallArgument{Value: raw}
		}

		decl := "function() {\n" + script + "\n}"
		var (
			res *runtime.RemoteObject
			exc *runtime.ExceptionDetails
			err error
		)
		if this != "" {
			res, exc, err = runtime.CallFunctionOn(decl).
				WithObjectID(this).
				WithArguments(callArgs).
				WithReturnByValue(true).
				Do(ctx)
		} else {
			// without a node there is no object to call on
			raw, _ := json.Marshal(args)
			res, exc, err = runtime.Evaluate("(" + decl + ").apply(null, " + string(raw) + ")").
				WithReturnByValue(true).
				Do(ctx)
		}
		if err != nil {
			return err
		}
		if exc != nil {
			return exception(exc)
		}
		return decode(res, &out)
	})
	return out, err
}

// Screenshot implements element.Screenshotter.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	var png []byte
	err := d.run(ctx, chromedp.CaptureScreenshot(&png).Do)
	return png, err
}

func exception(exc *runtime.ExceptionDetails) error {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return errors.New(exc.Exception.Description)
	}
	return errors.New(exc.Text)
}

// decode unmarshals a by-value result. undefined leaves out untouched.
func decode(res *runtime.RemoteObject, out any) error {
	if out == nil || res == nil || len(res.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal([]byte(res.Value), out); err != nil {
		return fmt.Errorf("%w: unexpected script result %s: %v", trip.ErrDriver, res.Value, err)
	}
	return nil
}
