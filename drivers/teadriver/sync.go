package teadriver

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/teranos/dolly/trip"
)

// snapshot is the state after one Update.
type snapshot struct {
	seq   int64
	model tea.Model
	view  string

	input, mode       string
	hasInput, hasMode bool
}

func (s snapshot) lines() []string {
	if s.view == "" {
		return nil
	}
	return strings.Split(stripANSI(s.view), "\n")
}

type counters struct {
	generated  atomic.Int64
	sent       atomic.Int64
	processed  atomic.Int64
	overflows  atomic.Int64
	gaps       atomic.Int64
	duplicates atomic.Int64
}

// SyncStats describes how snapshots travelled from the program to the
// driver.
type SyncStats struct {
	Generated  int64 // snapshots published by the program
	Sent       int64 // delivered through the channel
	Processed  int64 // applied as the latest state
	Overflows  int64 // channel full; applied synchronously instead
	Gaps       int64 // applied out of sequence, skipping some
	Duplicates int64 // older than the latest state, dropped
	Buffered   int   // waiting in the channel
	Capacity   int
}

// Lossy reports whether any snapshot was skipped over.
func (s SyncStats) Lossy() bool { return s.Gaps > 0 }

// SyncStats returns the current counters.
func (d *Driver) SyncStats() SyncStats {
	return SyncStats{
		Generated:  d.stats.generated.Load(),
		Sent:       d.stats.sent.Load(),
		Processed:  d.stats.processed.Load(),
		Overflows:  d.stats.overflows.Load(),
		Gaps:       d.stats.gaps.Load(),
		Duplicates: d.stats.duplicates.Load(),
		Buffered:   len(d.updates),
		Capacity:   cap(d.updates),
	}
}

// wrapper sits between the program and the model, publishing a snapshot
// after Init and after every Update.
type wrapper struct {
	inner tea.Model
	d     *Driver
}

func (w wrapper) Init() tea.Cmd {
	cmd := w.inner.Init()
	w.d.publish(w.inner)
	return cmd
}

func (w wrapper) View() string { return w.inner.View() }

func (w wrapper) Update(msg tea.Msg) (next tea.Model, cmd tea.Cmd) {
	defer func() {
		if r := recover(); r != nil {
			w.d.fail(fmt.Errorf("%w: model panicked handling %T: %v", trip.ErrDriver, msg, r),
				"stack", string(debug.Stack()))
			next, cmd = w, tea.Quit
		}
	}()

	m, cmd := w.inner.Update(msg)
	if m == nil {
		w.d.fail(fmt.Errorf("%w: model returned nil from Update(%T)", trip.ErrDriver, msg))
		return w, tea.Quit
	}
	w.d.publish(m)
	return wrapper{inner: m, d: w.d}, cmd
}

// publish runs on the program goroutine, which owns m, so View is safe
// to call here and nowhere else.
func (d *Driver) publish(m tea.Model) {
	s := snapshot{seq: d.stats.generated.Add(1), model: m, view: m.View()}
	if in, ok := m.(Inputter); ok {
		s.input, s.hasInput = in.CurrentInput(), true
	}
	if md, ok := m.(Moder); ok {
		s.mode, s.hasMode = md.CurrentMode(), true
	}
	select {
	case d.updates <- s:
		d.stats.sent.Add(1)
	default:
		d.stats.overflows.Add(1)
		d.apply(s)
	}
}

// sync applies snapshots in order until ctx ends.
func (d *Driver) sync(ctx context.Context) {
	defer close(d.syncDone)
	for {
		select {
		case s := <-d.updates:
			d.apply(s)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Driver) apply(s snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.seq <= d.latest.seq {
		d.stats.duplicates.Add(1)
		return
	}
	if s.seq > d.latest.seq+1 {
		d.stats.gaps.Add(1)
	}
	d.latest = s
	d.stats.processed.Add(1)
	close(d.notify)
	d.notify = make(chan struct{})
}

// fail makes every later call return err.
func (d *Driver) fail(err error, kv ...string) {
	log := d.log.WithError(err)
	for i := 0; i+1 < len(kv); i += 2 {
		log = log.WithField(kv[i], kv[i+1])
	}
	log.Error("Stopping: model failed")

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failure == nil {
		d.failure = err
	}
	close(d.notify)
	d.notify = make(chan struct{})
}
