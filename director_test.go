package dolly

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teranos/dolly/cond"
	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/internal/fakedom"
	"github.com/teranos/dolly/report"
	"github.com/teranos/dolly/steplog"
	"github.com/teranos/dolly/trip"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeT records failures instead of failing the real test, so failure
// paths can be asserted on.
type fakeT struct {
	testing.TB
	mu     sync.Mutex
	errors []string
	logs   []string
}

func newFakeT(t *testing.T) *fakeT { return &fakeT{TB: t} }

func (f *fakeT) Helper() {}

func (f *fakeT) Error(args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, fmt.Sprint(args...))
}

func (f *fakeT) Errorf(format string, args ...any) { f.Error(fmt.Sprintf(format, args...)) }

func (f *fakeT) Log(args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, fmt.Sprint(args...))
}

func (f *fakeT) Logf(format string, args ...any) { f.Log(fmt.Sprintf(format, args...)) }

func (f *fakeT) Errors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.errors...)
}

func (f *fakeT) Logs() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.logs, "\n")
}

func fastConfig() Config {
	return Config{
		Timeout:      300 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		LogLevel:     "debug",
		MaxStumbles:  10,
	}
}

// loginPage greets whoever was typed into #name once #submit is clicked.
func loginPage() *fakedom.DOM {
	dom := fakedom.New()
	dom.Set("#name", fakedom.Node{Attrs: map[string]string{"value": ""}})
	dom.Set("#submit", fakedom.Node{Text: "Send"})
	dom.Set("#greeting", fakedom.Node{Hidden: true})
	dom.OnAction(func(selector string, a element.Action) {
		if selector != "#submit" || a.Kind != element.Click {
			return
		}
		name, _ := dom.Node("#name")
		dom.Update("#greeting", func(n *fakedom.Node) {
			n.Hidden = false
			n.Text = "Hello, " + name.Attrs["value"]
		})
	})
	return dom
}

func TestDirector_FluentFlow(t *testing.T) {
	ft := newFakeT(t)
	dom := loginPage()

	d := NewDirectorWithConfig(ft, dom, fastConfig()).Start()
	d.Find("#name").SetValue("john")
	d.Find("#submit").Click()
	d.Find("#greeting").ShouldBe(cond.Visible).ShouldHave(cond.Text("hello, JOHN"))
	text, _ := d.Find("#greeting").Text()
	value, _ := d.Find("#name").Attribute("value")
	shown, _ := d.Find("#greeting").Displayed()

	res := d.Stop()
	assert.Empty(t, ft.Errors())
	assert.True(t, res.Success)
	assert.NoError(t, res.Error)
	assert.Equal(t, "Hello, john", text)
	assert.Equal(t, "john", value)
	assert.True(t, shown)

	require.Len(t, res.Steps, 7)
	assert.Equal(t, "#name", res.Steps[0].Source)
	assert.Equal(t, `set value("john")`, res.Steps[0].Subject)
	assert.Equal(t, "click()", res.Steps[1].Subject)
	assert.Equal(t, "should be(visible)", res.Steps[2].Subject)
	for _, s := range res.Steps {
		assert.Equal(t, "PASS", s.Status)
	}
	assert.Contains(t, ft.Logs(), "Step passed")
}

func TestDirector_FailedExpectationKeepsGoing(t *testing.T) {
	ft := newFakeT(t)
	dom := loginPage()
	dom.Set("#spinner", fakedom.Node{})
	dom.SetScreenshot([]byte("png"))

	d := NewDirectorWithConfig(ft, dom, fastConfig()).WithFrames(true).Start()
	d.Find("#spinner").ShouldNot(cond.Visible)
	d.Find("#name").SetValue("still runs")
	res := d.Stop()

	assert.False(t, res.Success)
	require.Len(t, ft.Errors(), 1)
	assert.Contains(t, ft.Errors()[0], "#spinner")

	var tr *trip.Trip
	require.ErrorAs(t, res.Error, &tr)
	assert.Equal(t, trip.Timeout, tr.Kind)
	assert.Equal(t, trip.Error, tr.Severity)
	assert.Equal(t, "should not", tr.Op)
	assert.Equal(t, "#spinner", tr.Locator)
	assert.Equal(t, tr.Error(), res.ErrorMessage)
	assert.Contains(t, res.TripReport, "#spinner")

	n, _ := dom.Node("#name")
	assert.Equal(t, "still runs", n.Attrs["value"])

	require.Len(t, res.Frames, 2)
	assert.Equal(t, "failure: should not #spinner", res.Frames[0].Label)
	assert.Equal(t, 1, res.Frames[0].Step)
	assert.Equal(t, "final", res.Frames[1].Label)
	assert.Equal(t, []byte("png"), res.Frames[1].PNG)

	require.Len(t, res.Steps, 2)
	assert.Equal(t, "FAIL", res.Steps[0].Status)
}

func TestDirector_FatalErrorStopsTheSession(t *testing.T) {
	ft := newFakeT(t)
	dom := loginPage()
	dom.FailFind("#broken", fmt.Errorf("%w: bad selector", trip.ErrInvalidLocator))

	d := NewDirectorWithConfig(ft, dom, fastConfig()).Start()
	d.Find("#broken").Click()
	d.Find("#name").SetValue("skipped")
	res := d.Stop()

	assert.False(t, res.Success)
	assert.Len(t, ft.Errors(), 1)
	assert.Zero(t, dom.Finds("#name"), "calls after a fall do nothing")
	assert.ErrorIs(t, res.Error, trip.ErrInvalidLocator)

	var tr *trip.Trip
	require.ErrorAs(t, res.Error, &tr)
	assert.Equal(t, trip.Fall, tr.Severity)
	assert.Equal(t, trip.Fatal, tr.Kind)
	assert.True(t, d.HasFailed())
	assert.Same(t, tr, d.Err())
}

func TestDirector_ScreenshotFailureIsAStumble(t *testing.T) {
	ft := newFakeT(t)
	dom := loginPage()

	d := NewDirectorWithConfig(ft, dom, fastConfig()).WithFrames(true).Start()
	d.Find("#submit").Click()
	res := d.Stop()

	assert.True(t, res.Success)
	assert.Empty(t, ft.Errors())
	assert.Empty(t, res.Frames)
	assert.True(t, d.Trips().HasStumbles())
	assert.Contains(t, res.TripReport, "could not capture final")
}

func TestDirector_WritesReport(t *testing.T) {
	dir := t.TempDir()
	dom := loginPage()

	d := NewDirectorWithConfig(t, dom, fastConfig()).WithReportDir(dir).Start()
	d.Find("#name").SetValue("ann")
	d.Find("#submit").Click()
	res := d.Stop()

	require.NotEmpty(t, res.ReportPath)
	assert.FileExists(t, res.ReportPath)
	meta, err := report.ReadMetadata(res.ReportPath)
	require.NoError(t, err)
	assert.True(t, meta.Success)
	assert.Equal(t, 2, meta.StepCount)
	assert.Equal(t, t.Name(), meta.TestName)

	entries, err := report.GenerateDashboard(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, report.SafeName(t.Name()), entries[0].Suite)
}

type collector struct {
	mu       sync.Mutex
	subjects []string
	statuses []string
}

func (c *collector) BeforeEvent(*steplog.Event) {}

func (c *collector) AfterEvent(e *steplog.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, fmt.Sprintf("%d %s", e.Depth, e.Subject))
	c.statuses = append(c.statuses, strings.TrimSpace(e.Source+" "+e.Status.String()))
}

func TestDirector_ListenersAndSteps(t *testing.T) {
	c := &collector{}
	d := NewDirectorWithConfig(t, loginPage(), fastConfig()).WithListener("collector", c).Start()

	d.Step("log in", func(d *Director) {
		d.Find("#name").SetValue("bo")
		d.Find("#submit").Click()
	})
	d.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, []string{`1 set value("bo")`, "1 click()", "0 "}, c.subjects)
	assert.Equal(t, []string{"#name PASS", "#submit PASS", "log in PASS"}, c.statuses)
}

func TestDirector_StepFailsWithItsChildren(t *testing.T) {
	ft := newFakeT(t)
	c := &collector{}
	d := NewDirectorWithConfig(ft, loginPage(), fastConfig()).WithListener("collector", c).Start()

	d.Step("check greeting", func(d *Director) {
		d.Find("#greeting").Should(cond.Visible)
	})
	d.Step("fill in", func(d *Director) {
		d.Find("#name").SetValue("bo")
	})
	res := d.Stop()

	assert.False(t, res.Success)
	require.Len(t, ft.Errors(), 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, []string{"#greeting FAIL", "check greeting FAIL", "#name PASS", "fill in PASS"}, c.statuses)
}

func TestDirector_Misuse(t *testing.T) {
	ft := newFakeT(t)
	dom := loginPage()

	d := NewDirectorWithConfig(ft, dom, fastConfig())
	d.Find("#name").Click()
	require.Len(t, ft.Errors(), 1)
	assert.Contains(t, ft.Errors()[0], "Start must be called")
	assert.True(t, d.Stop().Success, "an unstarted director has nothing to report")

	d.Start()
	d.WithTimeout(time.Hour)
	assert.Contains(t, ft.Logs(), "Cannot apply WithTimeout")
	assert.Equal(t, 300*time.Millisecond, d.config.Timeout)
	d.Start()
	assert.Contains(t, ft.Logs(), "already started")

	d.Stop()
	d.Find("#name").Click()
	assert.Contains(t, ft.Errors()[len(ft.Errors())-1], "already stopped")
}

func TestDirector_InvalidConfig(t *testing.T) {
	ft := newFakeT(t)
	dom := loginPage()
	cfg := fastConfig()
	cfg.PollInterval = 0

	d := NewDirectorWithConfig(ft, dom, cfg).Start()
	d.Find("#name").Click()
	res := d.Stop()

	assert.False(t, res.Success)
	assert.Zero(t, dom.Finds("#name"))
	require.Len(t, ft.Errors(), 1)
	assert.Contains(t, ft.Errors()[0], "poll_interval")
}

// prompt is a one-line REPL.
type prompt struct {
	input   string
	history []string
}

func (p prompt) Init() tea.Cmd { return nil }

func (p prompt) View() string {
	out := "> " + p.input
	for _, h := range p.history {
		out += "\nran: " + h
	}
	return out
}

func (p prompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyRunes:
			p.input += string(key.Runes)
		case tea.KeyBackspace:
			if len(p.input) > 0 {
				p.input = p.input[:len(p.input)-1]
			}
		case tea.KeyEnter:
			p.history = append(append([]string(nil), p.history...), p.input)
			p.input = ""
		}
	}
	return p, nil
}

func (p prompt) CurrentInput() string { return p.input }

func TestProgramDirector(t *testing.T) {
	d := NewProgramDirector(t, prompt{input: "draft"}).
		WithTimeout(2 * time.Second).
		WithPollInterval(10 * time.Millisecond).
		WithFrames(true).
		Start()

	line := d.Element(element.ByText("> "))
	line.Clear().Type("hi").Press(element.KeyEnter)
	d.Element(element.ByText("ran:")).ShouldHave(cond.ExactText("ran: hi"))
	d.Element(element.ByText("ran: draft")).ShouldNot(cond.Exist)

	res := d.Stop()
	require.True(t, res.Success, res.TripReport)
	require.Len(t, res.Frames, 1)
	assert.Contains(t, res.Frames[0].View, "ran: hi")
	assert.NotEmpty(t, res.Frames[0].PNG)
	assert.Equal(t, "start()", res.Steps[0].Subject)
}

func TestDirector_ErrorWithoutTrip(t *testing.T) {
	ft := newFakeT(t)
	dom := loginPage()
	dom.FailAction(element.Click, errors.New("socket closed"))

	d := NewDirectorWithConfig(ft, dom, fastConfig()).Start()
	d.Find("#submit").Click()
	res := d.Stop()

	var tr *trip.Trip
	require.ErrorAs(t, res.Error, &tr)
	assert.Equal(t, "click", tr.Op)
	assert.Equal(t, "#submit", tr.Locator)
	assert.Contains(t, res.ErrorMessage, "socket closed")
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDirector_MatchBaseline(t *testing.T) {
	dir := t.TempDir()
	canvas := image.NewRGBA(image.Rect(0, 0, 4, 4))
	dom := loginPage()
	dom.SetScreenshot(encodePNG(t, canvas))

	first := newFakeT(t)
	d := NewDirectorWithConfig(first, dom, fastConfig()).WithBaselines(dir).Start()
	d.MatchBaseline("login")
	res := d.Stop()
	require.True(t, res.Success, res.TripReport)
	assert.FileExists(t, filepath.Join(dir, "login.png"))
	require.Len(t, res.Frames, 1)
	assert.Equal(t, "baseline: login", res.Frames[0].Label)

	for x := 0; x < 4; x++ {
		canvas.Set(x, 0, color.White)
	}
	dom.SetScreenshot(encodePNG(t, canvas))

	second := newFakeT(t)
	d = NewDirectorWithConfig(second, dom, fastConfig()).WithBaselines(dir).Start()
	d.MatchBaseline("login")
	d.Find("#name").SetValue("after the diff")
	res = d.Stop()

	assert.False(t, res.Success)
	require.Len(t, second.Errors(), 1)
	assert.ErrorIs(t, res.Error, report.ErrVisualRegression)
	var tr *trip.Trip
	require.ErrorAs(t, res.Error, &tr)
	assert.Equal(t, trip.Error, tr.Severity)
	n, _ := dom.Node("#name")
	assert.Equal(t, "after the diff", n.Attrs["value"], "a visual difference does not end the session")
}

func TestDirector_MatchBaselineNeedsDirectory(t *testing.T) {
	ft := newFakeT(t)
	d := NewDirectorWithConfig(ft, loginPage(), fastConfig()).Start()
	d.MatchBaseline("login")
	res := d.Stop()

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, trip.ErrDriver)
	assert.Contains(t, res.ErrorMessage, "no baseline directory")
}
