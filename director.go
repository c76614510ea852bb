// Package dolly is a fluent, self-waiting UI test API.
//
// A Director binds a test to a UI driver. Every fluent call waits until the
// element is ready or the condition holds, reports itself as one step, and
// records failures instead of stopping the test, so a run ends with a
// Result that tells the whole story.
//
// Basic usage:
//
//	d := dolly.NewProgramDirector(t, newREPL()).
//		WithTimeout(2 * time.Second).
//		Start()
//
//	d.Element(element.ByText("> ")).SetValue("help").Press(element.KeyEnter)
//	d.Element(element.ByText("commands:")).Should(cond.Visible)
//
//	result := d.Stop()
//	assert.True(t, result.Success)
//
// Against a browser:
//
//	d := dolly.NewDirector(t, cdpdriver.New(browserCtx)).Start()
//	d.Find("#login").SetValue("john")
//	d.Find("#submit").Click()
//	d.Find("#greeting").ShouldHave(cond.Text("Hello, john"))
package dolly

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/teranos/dolly/command"
	"github.com/teranos/dolly/drivers/teadriver"
	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/report"
	"github.com/teranos/dolly/steplog"
	"github.com/teranos/dolly/trip"
)

// Starter is implemented by drivers the Director starts itself.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by drivers the Director stops at Stop.
type Stopper interface {
	Stop()
}

// Closeable is implemented by drivers holding resources released at Stop.
type Closeable interface {
	Close() error
}

// viewer is implemented by drivers with a textual screen.
type viewer interface {
	View() string
}

// Director runs one test against one driver. It is meant to be used from
// the test goroutine.
type Director struct {
	t      testing.TB
	driver element.Driver
	config Config
	log    logrus.FieldLogger
	extra  []namedListener

	ctx       context.Context
	cancel    context.CancelFunc
	scope     *steplog.Scope
	exec      *command.Executor
	recorder  *report.Recorder
	handler   *trip.Handler
	startedAt time.Time
	started   bool
	stopped   bool

	mu       sync.Mutex
	lastTrip *trip.Trip
	frames   []report.Frame
}

type namedListener struct {
	name string
	l    steplog.Listener
}

// Result is what a Director reports at Stop.
type Result struct {
	Steps        []report.StepRecord // every committed step, in commit order
	Frames       []report.Frame      // screenshots taken on failure and at Stop
	Success      bool                // no failed expectation and no fall
	Duration     time.Duration
	Error        error  // the last failure, a *trip.Trip
	ErrorMessage string // Error as text
	TripReport   string // every trip and stumble, for debugging
	ReportPath   string // the HTML report, when one was written
}

// NewDirector returns a Director for driver with DefaultConfig.
func NewDirector(t testing.TB, driver element.Driver) *Director {
	return NewDirectorWithConfig(t, driver, DefaultConfig())
}

// NewDirectorWithConfig returns a Director for driver.
func NewDirectorWithConfig(t testing.TB, driver element.Driver, config Config) *Director {
	return &Director{
		t:      t,
		driver: driver,
		config: config,
	}
}

// NewProgramDirector runs model headlessly through teadriver. The Director
// starts and stops the program.
func NewProgramDirector(t testing.TB, model tea.Model, opts ...teadriver.Option) *Director {
	return NewDirector(t, teadriver.New(model, opts...))
}

// WithTimeout sets how long every fluent call may wait.
// It must be called before Start.
func (d *Director) WithTimeout(timeout time.Duration) *Director {
	if d.tooLate("WithTimeout") {
		return d
	}
	d.config.Timeout = timeout
	return d
}

// WithPollInterval sets the pause between attempts. It must be called
// before Start.
func (d *Director) WithPollInterval(interval time.Duration) *Director {
	if d.tooLate("WithPollInterval") {
		return d
	}
	d.config.PollInterval = interval
	return d
}

// WithFrames enables or disables screenshots. It must be called before Start.
func (d *Director) WithFrames(enabled bool) *Director {
	if d.tooLate("WithFrames") {
		return d
	}
	d.config.CaptureFrames = enabled
	return d
}

// WithReportDir writes an HTML report under dir at Stop.
func (d *Director) WithReportDir(dir string) *Director {
	if d.tooLate("WithReportDir") {
		return d
	}
	d.config.ReportDir = dir
	return d
}

// WithBaselines compares MatchBaseline screenshots against the PNGs in dir.
func (d *Director) WithBaselines(dir string) *Director {
	if d.tooLate("WithBaselines") {
		return d
	}
	d.config.BaselineDir = dir
	return d
}

// WithListener registers an extra step listener for this test.
func (d *Director) WithListener(name string, l steplog.Listener) *Director {
	if d.tooLate("WithListener") {
		return d
	}
	d.extra = append(d.extra, namedListener{name, l})
	return d
}

// WithLogger replaces the logger, which by default writes through t.Log.
func (d *Director) WithLogger(log logrus.FieldLogger) *Director {
	if d.tooLate("WithLogger") {
		return d
	}
	d.log = log
	return d
}

func (d *Director) tooLate(option string) bool {
	if d.started {
		d.t.Logf("⚠️ Cannot apply %s after the director has started, ignoring it", option)
	}
	return d.started
}

// Start prepares the test's step scope and starts the driver if it needs
// starting.
func (d *Director) Start() *Director {
	d.t.Helper()
	if d.started {
		d.t.Logf("⚠️ Director already started")
		return d
	}
	d.started = true
	d.startedAt = time.Now()

	if d.log == nil {
		d.log = newTestLogger(d.t, d.config.LogLevel)
	}
	d.log = d.log.WithField("component", "director")

	policy := trip.DefaultPolicy()
	policy.MaxStumbles = d.config.MaxStumbles
	d.handler = trip.NewHandler("director", policy)

	if err := d.config.Validate(); err != nil {
		d.record(trip.NewFall(trip.Fatal, "invalid configuration", nil).WithCause(err))
		return d
	}

	d.scope = steplog.ForTest(d.t)
	d.recorder = report.NewRecorder()
	d.scope.AddListener("dolly.recorder", d.recorder)
	d.scope.AddListener("dolly.log", steplog.NewLogrusListener(d.log))
	for _, nl := range d.extra {
		d.scope.AddListener(nl.name, nl.l)
	}

	d.ctx, d.cancel = context.WithCancel(steplog.WithScope(context.Background(), d.scope))
	d.t.Cleanup(d.cancel)
	d.exec = command.New(d.driver, command.WithConfig(d.config.Poll()), command.WithLogger(d.log))

	if s, ok := d.driver.(Starter); ok {
		err := steplog.Run(d.ctx, "director", "start()", s.Start)
		if err != nil {
			d.fail(err, "start", "")
			return d
		}
	}

	d.log.WithFields(logrus.Fields{
		"timeout":       d.config.Timeout,
		"poll_interval": d.config.PollInterval,
		"driver":        fmt.Sprintf("%T", d.driver),
	}).Debug("Director started")
	return d
}

// Find starts a chain at a CSS selector.
func (d *Director) Find(css string) *Shot {
	return d.Element(element.ByCSS(css))
}

// Element starts a chain at by.
func (d *Director) Element(by element.By) *Shot {
	return &Shot{d: d, el: element.Find(by)}
}

// Of wraps an existing element handle.
func (d *Director) Of(el element.Element) *Shot {
	return &Shot{d: d, el: el}
}

// Step groups the calls fn makes under one named step. The group fails
// when any call inside it recorded a trip.
func (d *Director) Step(name string, fn func(d *Director)) *Director {
	d.t.Helper()
	if !d.ready() {
		return d
	}
	_ = steplog.Step(d.ctx, name, func(ctx context.Context) error {
		before := len(d.handler.Trips())
		fn(d)
		if trips := d.handler.Trips(); len(trips) > before {
			return trips[len(trips)-1]
		}
		return nil
	})
	return d
}

// Sleep pauses for duration. Prefer Should, which waits only as long as
// needed.
func (d *Director) Sleep(duration time.Duration) *Director {
	if !d.ready() {
		return d
	}
	_ = steplog.Run(d.ctx, "director", steplog.ReadableSubject("sleep", duration), func(ctx context.Context) error {
		select {
		case <-time.After(duration):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return d
}

// MatchBaseline compares a screenshot with the baseline stored under name.
// The first run records the baseline. A difference beyond the tolerance
// fails the test without ending it.
func (d *Director) MatchBaseline(name string) *Director {
	d.t.Helper()
	if !d.ready() {
		return d
	}
	err := steplog.Run(d.ctx, "director", steplog.ReadableSubject("matchBaseline", name), func(ctx context.Context) error {
		if d.config.BaselineDir == "" {
			return fmt.Errorf("%w: no baseline directory configured", trip.ErrDriver)
		}
		shooter, ok := d.driver.(element.Screenshotter)
		if !ok {
			return fmt.Errorf("%w: %T cannot take screenshots", trip.ErrDriver, d.driver)
		}
		png, err := shooter.Screenshot(ctx)
		if err != nil {
			return err
		}
		d.addFrame("baseline: "+name, png)

		recorded, err := report.NewBaselines(d.config.BaselineDir).Check(name, png)
		if recorded {
			d.log.WithField("baseline", name).Info("Recorded new baseline")
		}
		return err
	})
	if err == nil {
		return d
	}
	if errors.Is(err, report.ErrVisualRegression) {
		d.record(trip.NewTrip(trip.Fatal, "frame differs from baseline", nil).
			WithCause(err).
			WithOp("match baseline", name).
			WithSeverity(trip.Error))
		return d
	}
	d.fail(err, "match baseline", name)
	return d
}

// Stop ends the test session, captures a last frame, stops the driver and
// returns the result. When a report directory is configured the HTML
// report is written too.
func (d *Director) Stop() *Result {
	d.t.Helper()
	if !d.started || d.stopped {
		return d.result()
	}
	d.stopped = true

	if d.config.CaptureFrames && d.ctx != nil {
		d.captureFrame("final")
	}
	if s, ok := d.driver.(Stopper); ok {
		s.Stop()
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.detach()
	if c, ok := d.driver.(Closeable); ok {
		if err := c.Close(); err != nil {
			d.stumble("close driver", err)
		}
	}

	res := d.result()
	if d.config.ReportDir != "" {
		dir := report.RunDir(d.config.ReportDir, d.t.Name(), d.startedAt)
		err := report.Generate(dir, report.Report{
			Name:      d.t.Name(),
			Timestamp: d.startedAt,
			Duration:  res.Duration,
			Success:   res.Success,
			Error:     res.ErrorMessage,
			Steps:     res.Steps,
			Frames:    res.Frames,
			Metadata:  map[string]string{"driver": fmt.Sprintf("%T", d.driver), "timeout": d.config.Timeout.String()},
		})
		if err != nil {
			d.stumble("write report", err)
		} else {
			res.ReportPath = filepath.Join(dir, "index.html")
			d.t.Logf("📊 Report written to %s", res.ReportPath)
		}
	}
	return res
}

// detach removes this Director's listeners, so a later Director in the same
// test starts from a clean scope.
func (d *Director) detach() {
	if d.scope == nil {
		return
	}
	d.scope.RemoveListener("dolly.recorder")
	d.scope.RemoveListener("dolly.log")
	for _, nl := range d.extra {
		d.scope.RemoveListener(nl.name)
	}
}

func (d *Director) result() *Result {
	res := &Result{Success: true}
	if !d.started {
		return res
	}
	res.Duration = time.Since(d.startedAt)
	if d.recorder != nil {
		res.Steps = d.recorder.Steps()
	}

	d.mu.Lock()
	res.Frames = append([]report.Frame(nil), d.frames...)
	last := d.lastTrip
	d.mu.Unlock()

	res.Success = !d.handler.HasTrips()
	if last != nil {
		res.Error = last
		res.ErrorMessage = last.Error()
	}
	if d.handler.HasTrips() || d.handler.HasStumbles() {
		res.TripReport = d.handler.DetailedReport()
	}
	return res
}

// HasFailed reports whether an expectation failed or the session fell.
func (d *Director) HasFailed() bool {
	return d.handler != nil && d.handler.HasTrips()
}

// Err returns the last failure, if any.
func (d *Director) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastTrip == nil {
		return nil
	}
	return d.lastTrip
}

// Trips returns the trip handler for detailed analysis.
func (d *Director) Trips() *trip.Handler { return d.handler }

// Context carries the test's step scope; it ends at Stop.
func (d *Director) Context() context.Context { return d.ctx }

// Executor runs operations with the Director's driver and timing, for
// commands the fluent API does not cover.
func (d *Director) Executor() *command.Executor { return d.exec }

// ready reports whether a fluent call should run at all.
func (d *Director) ready() bool {
	d.t.Helper()
	if !d.started {
		d.t.Errorf("dolly: Start must be called before fluent calls")
		return false
	}
	if d.stopped {
		d.t.Errorf("dolly: director already stopped")
		return false
	}
	return d.handler.ShouldContinue()
}

// run executes op on el unless an earlier failure ended the session.
func (d *Director) run(el element.Element, op command.Operation) (any, bool) {
	d.t.Helper()
	if !d.ready() {
		return nil, false
	}
	v, err := d.exec.Execute(d.ctx, el, op)
	if err != nil {
		d.fail(err, steplog.ReadableMethodName(op.Name), el.String())
		return nil, false
	}
	return v, true
}

// fail records err as a trip. Timeouts and changed elements are failed
// expectations; anything fatal or a cancellation means the session cannot
// go on.
func (d *Director) fail(err error, op, locator string) {
	d.t.Helper()
	var tr *trip.Trip
	if !errors.As(err, &tr) {
		tr = trip.NewTrip(trip.Classify(err), "failed", nil).WithCause(err)
	}
	tr.WithOp(op, locator)

	switch tr.Kind {
	case trip.Timeout, trip.Transient:
		tr.WithSeverity(trip.Error)
	default:
		tr.WithSeverity(trip.Fall)
	}
	d.record(tr)

	if d.config.CaptureFrames {
		d.captureFrame("failure: " + strings.TrimSpace(op+" "+locator))
	}
}

func (d *Director) record(tr *trip.Trip) {
	d.t.Helper()
	d.handler.Record(tr)
	if tr.Severity == trip.Stumble {
		d.t.Log(tr.DetailedString())
		return
	}

	d.mu.Lock()
	d.lastTrip = tr
	d.mu.Unlock()
	d.t.Error(tr.DetailedString())
}

// stumble records a problem that does not affect the test's verdict.
func (d *Director) stumble(what string, err error) {
	d.record(trip.NewStumble(trip.Classify(err), "could not "+what, nil).WithCause(err))
}

// captureFrame stores a screenshot when the driver can take one.
func (d *Director) captureFrame(label string) {
	shooter, ok := d.driver.(element.Screenshotter)
	if !ok {
		return
	}
	// the test context may already be cancelled after a failure
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	png, err := shooter.Screenshot(ctx)
	if err != nil {
		d.log.WithError(err).WithField("label", label).Debug("Screenshot failed")
		d.stumble("capture "+label, err)
		return
	}

	d.addFrame(label, png)
}

func (d *Director) addFrame(label string, png []byte) {
	f := report.Frame{Label: label, Taken: time.Now(), PNG: png}
	if d.recorder != nil {
		f.Step = d.recorder.Len()
	}
	if v, ok := d.driver.(viewer); ok {
		f.View = v.View()
	}
	d.mu.Lock()
	d.frames = append(d.frames, f)
	d.mu.Unlock()
}
