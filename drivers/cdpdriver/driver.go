// Package cdpdriver drives a Chrome tab over the DevTools protocol.
//
//	d, err := cdpdriver.Launch(ctx)
//	if err != nil { ... }
//	defer d.Close()
//	_ = d.Navigate(ctx, "http://localhost:8080/login")
//
//	dolly.NewDirector(t, d).Start().Find("#name").SetValue("john")
//
// Targets hold a DOM node and are re-checked on every call: once the node
// has left the document every method fails with trip.ErrStale and the
// element is looked up again.
package cdpdriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/trip"
)

// Driver implements element.Driver and element.Screenshotter for the tab
// bound to a chromedp context.
type Driver struct {
	browser context.Context
	release []context.CancelFunc
	log     logrus.FieldLogger
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. Launch also routes chromedp's own messages
// through it.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

// New wraps an existing chromedp context. The caller owns the browser.
func New(browser context.Context, opts ...Option) *Driver {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	d := &Driver{browser: browser, log: discard}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithField("component", "cdpdriver")
	return d
}

// Launch starts a headless Chrome owned by the driver. Close stops it.
func Launch(ctx context.Context, opts ...Option) (*Driver, error) {
	d := New(nil, opts...)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1280, 800),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browser, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(d.log.Debugf),
		chromedp.WithErrorf(d.log.Warnf),
	)
	d.browser = browser
	d.release = []context.CancelFunc{browserCancel, allocCancel}

	// the first Run starts the browser
	if err := chromedp.Run(browser); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("%w: failed to launch chrome: %v", trip.ErrDriver, err)
	}
	d.log.Debug("Browser launched")
	return d, nil
}

// Close stops a browser started by Launch. It does nothing for drivers
// made with New.
func (d *Driver) Close() error {
	for _, cancel := range d.release {
		cancel()
	}
	d.release = nil
	return nil
}

// Navigate loads url and waits for the page to load.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url).Do)
}

// run executes fn against the tab. fn is cancelled with ctx, which need
// not be a chromedp context.
func (d *Driver) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if d.browser == nil {
		return fmt.Errorf("%w: no browser", trip.ErrDriver)
	}
	runCtx, cancel := context.WithCancel(d.browser)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, chromedp.ActionFunc(fn))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return classify(err)
}

// Find implements element.Driver.
func (d *Driver) Find(ctx context.Context, scope element.Target, by element.By, index int) (element.Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, opts, err := query(by)
	if err != nil {
		return nil, err
	}
	if scope != nil {
		parent, ok := scope.(*target)
		if !ok || parent.d != d {
			return nil, fmt.Errorf("%w: foreign scope %T", trip.ErrDriver, scope)
		}
		if !scopable(by) {
			return nil, fmt.Errorf("%w: %s cannot be searched inside another element", trip.ErrInvalidLocator, by)
		}
		opts = append(opts, chromedp.FromNode(parent.node))
	}
	opts = append(opts, chromedp.AtLeast(0))

	var nodes []*cdp.Node
	err = d.run(ctx, func(ctx context.Context) error {
		return chromedp.Nodes(sel, &nodes, opts...).Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	d.log.WithFields(logrus.Fields{"locator": by.String(), "matches": len(nodes)}).Debug("Queried")

	if index >= len(nodes) {
		return nil, fmt.Errorf("%s[%d] among %d matches: %w", by, index, len(nodes), trip.ErrNotFound)
	}
	return &target{d: d, node: nodes[index], by: by}, nil
}

// query translates a locator into a chromedp selector.
func query(by element.By) (string, []chromedp.QueryOption, error) {
	if err := by.Validate(); err != nil {
		return "", nil, err
	}
	switch by.Strategy {
	case element.CSS, "":
		return by.Selector, []chromedp.QueryOption{chromedp.ByQueryAll}, nil
	case element.ID:
		return fmt.Sprintf("[id=%q]", by.Selector), []chromedp.QueryOption{chromedp.ByQueryAll}, nil
	case element.Name:
		return fmt.Sprintf("[name=%q]", by.Selector), []chromedp.QueryOption{chromedp.ByQueryAll}, nil
	case element.XPath:
		return by.Selector, []chromedp.QueryOption{chromedp.BySearch}, nil
	case element.Text:
		return "//*[contains(normalize-space(text()), " + xpathLiteral(by.Selector) + ")]",
			[]chromedp.QueryOption{chromedp.BySearch}, nil
	case element.LinkText:
		return "//a[normalize-space(.)=" + xpathLiteral(by.Selector) + "]",
			[]chromedp.QueryOption{chromedp.BySearch}, nil
	default:
		return "", nil, fmt.Errorf("%w: %s locators are not supported in a browser", trip.ErrInvalidLocator, by.Strategy)
	}
}

// scopable reports whether by runs as a DOM query, the only kind chromedp
// can start from a node.
func scopable(by element.By) bool {
	switch by.Strategy {
	case element.CSS, element.ID, element.Name, "":
		return true
	}
	return false
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	switch {
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	case !strings.Contains(s, `'`):
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

const staleMarker = "dolly: element is detached"

var sentinels = []error{trip.ErrNotFound, trip.ErrStale, trip.ErrNotInteractable, trip.ErrInvalidLocator, trip.ErrDriver}

// classify maps protocol and script failures onto the trip sentinels.
func classify(err error) error {
	for _, known := range sentinels {
		if errors.Is(err, known) {
			return err
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "Could not find node"),
		strings.Contains(msg, "No node with given id"),
		strings.Contains(msg, "Node with given id does not belong to the document"),
		strings.Contains(msg, staleMarker):
		return fmt.Errorf("%w: %v", trip.ErrStale, err)
	case strings.Contains(msg, "is not a valid selector"),
		strings.Contains(msg, "DOM Error while querying"),
		strings.Contains(msg, "is not a valid XPath expression"):
		return fmt.Errorf("%w: %v", trip.ErrInvalidLocator, err)
	case strings.Contains(msg, "does not have a layout object"),
		strings.Contains(msg, "not visible"):
		return fmt.Errorf("%w: %v", trip.ErrNotInteractable, err)
	default:
		return fmt.Errorf("%w: %v", trip.ErrDriver, err)
	}
}
