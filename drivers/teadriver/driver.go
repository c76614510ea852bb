// Package teadriver drives a bubbletea program in-process, without a
// terminal, and exposes the lines of its view as elements.
//
//	d := teadriver.New(model)
//	if err := d.Start(ctx); err != nil { ... }
//	defer d.Stop()
//
//	el := element.Find(element.ByText("Name:"))
//
// Every Update of the model publishes a numbered snapshot of the view.
// Locators are matched against the lines of the latest snapshot with ANSI
// sequences removed, so a target is one rendered line and goes stale as
// soon as that line renders differently.
package teadriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/trip"
)

// Inputter is implemented by models with an editable input line. Clear
// uses it to know how much to delete; the "value" attribute reads it.
type Inputter interface {
	CurrentInput() string
}

// Moder is implemented by models with named modes, read as the "mode"
// attribute.
type Moder interface {
	CurrentMode() string
}

// Conditioner is implemented by models answering named yes/no questions,
// read as the "condition:<name>" attribute.
type Conditioner interface {
	CheckCondition(name string) bool
}

// Config tunes the driver.
type Config struct {
	// TypingDelay is slept between keystrokes of SendKeys.
	TypingDelay time.Duration
	// SettleTimeout bounds how long an action waits for the model to
	// process the messages it sent.
	SettleTimeout time.Duration
	// ReadyTimeout bounds Start.
	ReadyTimeout time.Duration
	// Buffer is the capacity of the snapshot channel.
	Buffer int
	// Columns and Rows size screenshots, in characters.
	Columns, Rows int
}

// DefaultConfig returns the configuration used by New.
func DefaultConfig() Config {
	return Config{
		SettleTimeout: time.Second,
		ReadyTimeout:  5 * time.Second,
		Buffer:        64,
		Columns:       80,
		Rows:          24,
	}
}

// Option configures a Driver.
type Option func(*Driver)

// WithConfig replaces the configuration.
func WithConfig(cfg Config) Option {
	return func(d *Driver) { d.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

// Driver runs one model. It implements element.Driver and
// element.Screenshotter.
type Driver struct {
	cfg     Config
	log     logrus.FieldLogger
	initial tea.Model

	program  *tea.Program
	updates  chan snapshot
	cancel   context.CancelFunc
	done     chan struct{}
	syncDone chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	mu      sync.RWMutex
	latest  snapshot
	notify  chan struct{}
	runErr  error
	failure error

	stats counters
}

// New returns a driver for model. Nothing runs until Start.
func New(model tea.Model, opts ...Option) *Driver {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	d := &Driver{
		cfg:     DefaultConfig(),
		log:     discard,
		initial: model,
		notify:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.Buffer <= 0 {
		d.cfg.Buffer = DefaultConfig().Buffer
	}
	d.log = d.log.WithField("component", "teadriver")
	d.updates = make(chan snapshot, d.cfg.Buffer)
	return d
}

// ErrNotStarted is returned by calls made before Start.
var ErrNotStarted = fmt.Errorf("%w: teadriver not started", trip.ErrDriver)

// Start runs the program headlessly and waits until it rendered once.
// The program stops when ctx is cancelled or Stop is called.
func (d *Driver) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: teadriver already started", trip.ErrDriver)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.syncDone = make(chan struct{})

	d.program = tea.NewProgram(wrapper{inner: d.initial, d: d},
		tea.WithContext(runCtx),
		tea.WithoutRenderer(),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
		tea.WithoutSignalHandler(),
	)

	go d.sync(runCtx)
	go func() {
		defer close(d.done)
		_, err := d.program.Run()
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			d.log.WithError(err).Warn("Program exited with an error")
		}
		d.mu.Lock()
		d.runErr = err
		d.mu.Unlock()
	}()

	ready, cancelReady := context.WithTimeout(ctx, d.cfg.ReadyTimeout)
	defer cancelReady()
	if err := d.waitPast(ready, 0); err != nil {
		return fmt.Errorf("%w: program never rendered: %v", trip.ErrDriver, err)
	}
	d.log.WithField("view_lines", len(d.snapshot().lines())).Debug("Program ready")
	return nil
}

// Stop quits the program and waits for it to exit. It is safe to call
// more than once, and before Start.
func (d *Driver) Stop() {
	if !d.started.Load() {
		return
	}
	d.stopOnce.Do(func() {
		d.program.Quit()
		select {
		case <-d.done:
		case <-time.After(d.cfg.SettleTimeout + time.Second):
			d.log.Warn("Program did not quit, killing it")
			d.program.Kill()
			<-d.done
		}
		d.cancel()
		<-d.syncDone
	})
}

// View is the latest rendered view, ANSI sequences included.
func (d *Driver) View() string {
	return d.snapshot().view
}

// Model is the latest model the program returned from Update.
func (d *Driver) Model() tea.Model {
	return d.snapshot().model
}

// Send delivers msg to the program and waits for it to be processed.
func (d *Driver) Send(ctx context.Context, msg tea.Msg) error {
	if err := d.usable(); err != nil {
		return err
	}
	seq := d.snapshot().seq
	d.program.Send(msg)
	return d.settle(ctx, seq)
}

// usable reports why the driver cannot take calls, if it cannot.
func (d *Driver) usable() error {
	if !d.started.Load() {
		return ErrNotStarted
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.failure != nil {
		return d.failure
	}
	select {
	case <-d.done:
		return fmt.Errorf("%w: program has exited", trip.ErrDriver)
	default:
	}
	return nil
}

// settle waits until a snapshot newer than seq arrived or SettleTimeout
// passed. A message that changes nothing still produces a snapshot, so
// only a model that hangs hits the timeout; that is logged, not failed.
func (d *Driver) settle(ctx context.Context, seq int64) error {
	wait, cancel := context.WithTimeout(ctx, d.cfg.SettleTimeout)
	defer cancel()

	err := d.waitPast(wait, seq)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		d.log.WithField("seq", seq).Debug("No update within the settle timeout")
		return d.usable()
	}
}

// waitPast blocks until the latest snapshot is newer than seq.
func (d *Driver) waitPast(ctx context.Context, seq int64) error {
	for {
		d.mu.RLock()
		cur, ch, failure := d.latest.seq, d.notify, d.failure
		d.mu.RUnlock()

		if cur > seq {
			return nil
		}
		if failure != nil {
			return failure
		}
		select {
		case <-ch:
		case <-d.done:
			return errors.New("program exited")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Driver) snapshot() snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest
}

// ExecuteScript understands only "arguments[0].blur()", which is a no-op:
// a terminal has no focus to lose.
func (d *Driver) ExecuteScript(_ context.Context, script string, _ ...any) (any, error) {
	if script == "arguments[0].blur()" {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: teadriver cannot run script %q", trip.ErrDriver, script)
}

var _ element.Driver = (*Driver)(nil)
var _ element.Screenshotter = (*Driver)(nil)
