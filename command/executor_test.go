package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teranos/dolly/cond"
	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/internal/fakedom"
	"github.com/teranos/dolly/poll"
	"github.com/teranos/dolly/steplog"
	"github.com/teranos/dolly/trip"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

type steps struct {
	mu     sync.Mutex
	begun  int
	events []*steplog.Event
}

func (s *steps) BeforeEvent(*steplog.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun++
}

func (s *steps) AfterEvent(e *steplog.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

type fixture struct {
	dom   *fakedom.DOM
	x     *Executor
	ctx   context.Context
	steps *steps
	hook  *logtest.Hook
}

func newFixture(t *testing.T, cfg poll.Config) *fixture {
	t.Helper()

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	dom := fakedom.New()
	scope := steplog.NewScope(t.Name(), log)
	rec := &steps{}
	scope.AddListener("steps", rec)

	return &fixture{
		dom:   dom,
		x:     New(dom, WithConfig(cfg), WithLogger(log), WithClock(&stepClock{now: time.Unix(0, 0)})),
		ctx:   steplog.WithScope(context.Background(), scope),
		steps: rec,
		hook:  hook,
	}
}

var fast = poll.Config{Timeout: time.Second, Interval: 100 * time.Millisecond}

func TestClickWaitsUntilClickable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	f.dom.Set("#submit", fakedom.Node{Hidden: true})
	f.dom.OnFind("#submit", func(n int) {
		if n == 3 {
			f.dom.Update("#submit", func(n *fakedom.Node) { n.Hidden = false })
		}
	})

	require.NoError(t, f.x.Click(f.ctx, element.FindCSS("#submit")))
	assert.Equal(t, []string{"click #submit"}, f.dom.Actions())
	assert.Equal(t, 3, f.dom.Finds("#submit"))

	assert.Equal(t, 1, f.steps.begun, "retries must not emit their own steps")
	require.Len(t, f.steps.events, 1)
	assert.Equal(t, "#submit", f.steps.events[0].Source)
	assert.Equal(t, "click()", f.steps.events[0].Subject)
	assert.Equal(t, steplog.Pass, f.steps.events[0].Status)
}

func TestTimeoutTripNamesOperationLocatorAndWait(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	f.dom.Set("#submit", fakedom.Node{Disabled: true})

	err := f.x.Click(f.ctx, element.FindCSS("form").Find(element.ByCSS("#submit")))
	require.Error(t, err)

	var tr *trip.Trip
	require.ErrorAs(t, err, &tr)
	assert.Equal(t, trip.Timeout, tr.Kind)
	assert.Equal(t, "click", tr.Op)
	assert.Equal(t, "form >> #submit", tr.Locator)
	assert.Equal(t, "visible and enabled", tr.Condition)
	assert.Equal(t, time.Second, tr.Timeout)
	assert.ErrorIs(t, err, trip.ErrNotFound)
	assert.Contains(t, err.Error(), "click form >> #submit: expected visible and enabled within 1s")

	require.Len(t, f.steps.events, 1)
	assert.Equal(t, steplog.Fail, f.steps.events[0].Status)
	assert.True(t, f.steps.events[0].Err == err)
}

func TestFatalErrorPassesThroughUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	fatal := fmt.Errorf("selector rejected: %w", trip.ErrInvalidLocator)
	f.dom.FailFind("#bad", fatal)

	_, err := f.x.Text(f.ctx, element.FindCSS("#bad"))
	assert.True(t, err == fatal, "got %v", err)
	assert.Equal(t, 1, f.dom.Finds("#bad"))
	assert.True(t, f.steps.events[0].Err == fatal)
}

func TestAssertionsNeedConditions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	el := element.FindCSS("#gone")

	err := f.x.Should(f.ctx, el)
	assert.ErrorIs(t, err, trip.ErrInvalidLocator)
	assert.Equal(t, trip.Fatal, trip.Classify(err))

	err = f.x.ShouldNot(f.ctx, el)
	assert.ErrorIs(t, err, trip.ErrInvalidLocator)

	assert.Zero(t, f.dom.Finds("#gone"), "nothing is looked up")
	require.Len(t, f.steps.events, 2)
	assert.Equal(t, steplog.Fail, f.steps.events[0].Status)
	assert.Equal(t, "should()", f.steps.events[0].Subject)
}

func TestClearEmptiesAndBlurs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	f.dom.Set("#name", fakedom.Node{Attrs: map[string]string{"value": "john"}})

	require.NoError(t, f.x.Clear(f.ctx, element.FindCSS("#name")))

	n, _ := f.dom.Node("#name")
	assert.Equal(t, "", n.Attrs["value"])
	assert.Equal(t, []string{"clear #name"}, f.dom.Actions())
	assert.Equal(t, []string{"arguments[0].blur()"}, f.dom.Scripts())
	assert.Equal(t, "clear()", f.steps.events[0].Subject)
}

func TestClearToleratesInputDisappearingBeforeBlur(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	f.dom.Set("#search", fakedom.Node{Attrs: map[string]string{"value": "q"}})
	f.dom.OnAction(func(selector string, a element.Action) {
		if a.Kind == element.ClearValue {
			f.dom.Remove(selector)
		}
	})

	require.NoError(t, f.x.Clear(f.ctx, element.FindCSS("#search")))
	assert.Len(t, f.dom.Scripts(), 1)

	var found bool
	for _, e := range f.hook.AllEntries() {
		if strings.Contains(e.Message, "The input has disappeared after clearing") {
			assert.Equal(t, logrus.DebugLevel, e.Level)
			assert.Equal(t, "#search", e.Data["locator"])
			found = true
		}
	}
	assert.True(t, found)
}

func TestClearDoesNotTolerateOtherBlurFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
	}{
		{"driver", fmt.Errorf("connection reset: %w", trip.ErrDriver)},
		{"not interactable", fmt.Errorf("covered: %w", trip.ErrNotInteractable)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, fast)
			f.dom.Set("#name", fakedom.Node{})
			f.dom.FailScript(tc.err)

			err := f.x.Clear(f.ctx, element.FindCSS("#name"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, steplog.Fail, f.steps.events[0].Status)
		})
	}
}

func TestClearRequiresEditable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, poll.Config{Timeout: 300 * time.Millisecond, Interval: 100 * time.Millisecond})
	f.dom.Set("#name", fakedom.Node{ReadOnly: true})

	err := f.x.Clear(f.ctx, element.FindCSS("#name"))

	var tr *trip.Trip
	require.ErrorAs(t, err, &tr)
	assert.Equal(t, "editable", tr.Condition)
	assert.Equal(t, "readonly", tr.Actual)
	assert.Equal(t, 4, tr.Attempts)
	assert.Empty(t, f.dom.Actions())
}

func TestSetValueAndType(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	f.dom.Set("#name", fakedom.Node{Attrs: map[string]string{"value": "old"}})
	el := element.FindCSS("#name")

	require.NoError(t, f.x.SetValue(f.ctx, el, "john"))
	require.NoError(t, f.x.Type(f.ctx, el, " smith"))

	v, err := f.x.Value(f.ctx, el)
	require.NoError(t, err)
	assert.Equal(t, "john smith", v)

	require.Len(t, f.steps.events, 3)
	assert.Equal(t, `set value("john")`, f.steps.events[0].Subject)
	assert.Equal(t, `type(" smith")`, f.steps.events[1].Subject)
	assert.Equal(t, "get value()", f.steps.events[2].Subject)
}

func TestSetValueTypesIntoReRenderedInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	f.dom.Set("#name", fakedom.Node{Attrs: map[string]string{"value": "old"}})
	f.dom.OnAction(func(selector string, a element.Action) {
		if a.Kind == element.ClearValue {
			f.dom.Set(selector, fakedom.Node{Attrs: map[string]string{"value": ""}})
		}
	})
	el := element.FindCSS("#name")

	require.NoError(t, f.x.SetValue(f.ctx, el, "john"))
	require.NoError(t, f.x.SetValue(f.ctx, el, "bo"))

	n, ok := f.dom.Node("#name")
	require.True(t, ok)
	assert.Equal(t, "bo", n.Attrs["value"])
}

func TestShouldTextTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	texts := []string{"", "Loading", "Done"}
	f.dom.Set("#status", fakedom.Node{})
	f.dom.OnFind("#status", func(n int) {
		f.dom.Update("#status", func(node *fakedom.Node) { node.Text = texts[min(n-1, 2)] })
	})

	require.NoError(t, f.x.Should(f.ctx, element.FindCSS("#status"), cond.ExactText("Done")))
	assert.Equal(t, 3, f.dom.Finds("#status"))
	assert.Equal(t, `should(exact text "Done")`, f.steps.events[0].Subject)
}

func TestShouldNotPassesForMissingElement(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	el := element.FindCSS("#spinner")

	require.NoError(t, f.x.ShouldNot(f.ctx, el, cond.Visible))
	require.NoError(t, f.x.ShouldNot(f.ctx, el, cond.Exist))

	err := f.x.Should(f.ctx, el, cond.Visible)
	assert.ErrorIs(t, err, trip.ErrTimeout)
}

func TestShouldNotWaitsForAllConditionsToFail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	f.dom.Set("#msg", fakedom.Node{Text: "Loading"})
	f.dom.OnFind("#msg", func(n int) {
		if n == 2 {
			f.dom.Update("#msg", func(node *fakedom.Node) { node.Text = "Ready" })
		}
	})

	require.NoError(t, f.x.ShouldNot(f.ctx, element.FindCSS("#msg"), cond.Text("loading"), cond.Hidden))
	assert.Equal(t, 2, f.dom.Finds("#msg"))
}

func TestExtractors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	f.dom.Set("a.home", fakedom.Node{Text: "Home", Attrs: map[string]string{"href": "/"}})
	f.dom.Set("a.home[1]", fakedom.Node{Text: "Other"})

	text, err := f.x.Text(f.ctx, element.FindCSS("a.home"))
	require.NoError(t, err)
	assert.Equal(t, "Home", text)

	text, err = f.x.Text(f.ctx, element.FindCSS("a.home").Nth(1))
	require.NoError(t, err)
	assert.Equal(t, "Other", text)

	href, err := f.x.Attribute(f.ctx, element.FindCSS("a.home"), "href")
	require.NoError(t, err)
	assert.Equal(t, "/", href)

	missing, err := f.x.Attribute(f.ctx, element.FindCSS("a.home"), "target")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestDisplayedDoesNotWaitForMissingElement(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	shown, err := f.x.Displayed(f.ctx, element.FindCSS("#toast"))
	require.NoError(t, err)
	assert.False(t, shown)
	assert.Equal(t, 1, f.dom.Finds("#toast"))

	f.dom.Set("#toast", fakedom.Node{})
	shown, err = f.x.Displayed(f.ctx, element.FindCSS("#toast"))
	require.NoError(t, err)
	assert.True(t, shown)
}

func TestTransientActionFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	f.dom.Set("#submit", fakedom.Node{})
	f.dom.FailAction(element.Click, fmt.Errorf("overlay: %w", trip.ErrNotInteractable))

	err := f.x.Click(f.ctx, element.FindCSS("#submit"))

	var tr *trip.Trip
	require.ErrorAs(t, err, &tr)
	assert.Equal(t, trip.Transient, tr.Kind)
	assert.Equal(t, "click", tr.Op)
	assert.Equal(t, "#submit", tr.Locator)
	assert.ErrorIs(t, err, trip.ErrNotInteractable)
	assert.Equal(t, 1, f.dom.Finds("#submit"))
}

func TestCancelledTripIsEnriched(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fast)
	ctx, cancel := context.WithCancel(f.ctx)
	f.dom.OnFind("#late", func(n int) {
		if n == 2 {
			cancel()
		}
	})

	err := f.x.Press(ctx, element.FindCSS("#late"), element.KeyEnter)

	var tr *trip.Trip
	require.ErrorAs(t, err, &tr)
	assert.Equal(t, trip.Cancelled, tr.Kind)
	assert.Equal(t, "press", tr.Op)
	assert.Equal(t, "#late", tr.Locator)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWithTimeoutCopies(t *testing.T) {
	t.Parallel()

	x := New(fakedom.New())
	y := x.WithTimeout(0)

	assert.Equal(t, poll.DefaultTimeout, x.Config().Timeout)
	assert.Zero(t, y.Config().Timeout)
	assert.Same(t, x.Driver(), y.Driver())
	assert.Equal(t, "extract", Extract.String())
}
