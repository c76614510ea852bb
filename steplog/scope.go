package steplog

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Listener is notified before and after every step in its scope.
// A panicking listener is logged and skipped; it never affects the step.
type Listener interface {
	BeforeEvent(e *Event)
	AfterEvent(e *Event)
}

// Namer can be implemented by listeners to appear by name in log lines.
type Namer interface {
	Name() string
}

// Funcs adapts plain functions into a Listener. Nil fields are skipped.
type Funcs struct {
	Before func(e *Event)
	After  func(e *Event)
}

func (f Funcs) BeforeEvent(e *Event) {
	if f.Before != nil {
		f.Before(e)
	}
}

func (f Funcs) AfterEvent(e *Event) {
	if f.After != nil {
		f.After(e)
	}
}

// Scope holds the listeners and open steps of one execution unit.
//
// A nil *Scope is valid: it records nothing and notifies no one, which is
// what code running outside any test gets.
type Scope struct {
	id  string
	log logrus.FieldLogger

	mu        sync.Mutex
	order     []string
	listeners map[string]Listener
	open      []*Event
}

// NewScope returns an empty scope for the unit id.
func NewScope(id string, log logrus.FieldLogger) *Scope {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scope{
		id:        id,
		log:       log.WithFields(logrus.Fields{"component": "steplog", "unit": id}),
		listeners: make(map[string]Listener),
	}
}

// ID returns the execution unit this scope belongs to.
func (s *Scope) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// AddListener registers l under name, replacing any listener with that name.
// A replaced listener keeps its position in the notification order.
func (s *Scope) AddListener(name string, l Listener) {
	if s == nil || l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listeners[name]; !exists {
		s.order = append(s.order, name)
	}
	s.listeners[name] = l
}

// RemoveListener unregisters and returns the listener, or nil.
func (s *Scope) RemoveListener(name string) Listener {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listeners[name]
	if !ok {
		return nil
	}
	delete(s.listeners, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return l
}

// Listener returns the listener registered under name.
func (s *Scope) Listener(name string) (Listener, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listeners[name]
	return l, ok
}

// HasListener reports whether name is registered in this scope.
func (s *Scope) HasListener(name string) bool {
	_, ok := s.Listener(name)
	return ok
}

// RemoveAllListeners empties the scope. Open steps are forgotten too, so a
// scope reused by the next test on the same worker starts clean.
func (s *Scope) RemoveAllListeners() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.listeners = make(map[string]Listener)
	s.open = nil
}

// Listeners returns the registered listeners in registration order.
func (s *Scope) Listeners() []Listener {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scope) snapshotLocked() []Listener {
	out := make([]Listener, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.listeners[name])
	}
	return out
}

// BeginStep creates an IN_PROGRESS event nested under the innermost open
// step and notifies every listener's BeforeEvent.
func (s *Scope) BeginStep(source, subject string) *Event {
	e := &Event{
		ID:      ulid.Make().String(),
		Source:  source,
		Subject: subject,
		Status:  InProgress,
		Started: time.Now(),
	}
	if s == nil {
		return e
	}

	s.mu.Lock()
	e.UnitID = s.id
	e.Depth = len(s.open)
	if e.Depth > 0 {
		e.ParentID = s.open[e.Depth-1].ID
	}
	s.open = append(s.open, e)
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	for _, l := range listeners {
		s.notify(l, e, Listener.BeforeEvent)
	}
	return e
}

// CommitStepError commits e as FAIL with err.
func (s *Scope) CommitStepError(e *Event, err error) {
	s.commit(e, Fail, err)
}

// CommitStep commits e with a terminal status and notifies every
// listener's AfterEvent. Committing an event twice is ignored.
func (s *Scope) CommitStep(e *Event, status Status) {
	s.commit(e, status, nil)
}

func (s *Scope) commit(e *Event, status Status, err error) {
	if e == nil {
		return
	}
	if status == InProgress {
		status = Pass
	}
	if s == nil {
		if !e.Committed() {
			e.Status, e.Err, e.Ended = status, err, time.Now()
		}
		return
	}

	s.mu.Lock()
	if e.Committed() {
		s.mu.Unlock()
		s.log.WithField("step", e.String()).Warn("Step committed twice, ignoring")
		return
	}
	e.Status, e.Err, e.Ended = status, err, time.Now()
	outOfOrder := s.popLocked(e)
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	if outOfOrder {
		s.log.WithField("step", e.String()).Warn("Step committed before its nested steps")
	}

	for _, l := range listeners {
		s.notify(l, e, Listener.AfterEvent)
	}
}

// popLocked removes e from the open stack and reports whether it was not on
// top.
func (s *Scope) popLocked(e *Event) bool {
	for i := len(s.open) - 1; i >= 0; i-- {
		if s.open[i] == e {
			top := i == len(s.open)-1
			s.open = append(s.open[:i:i], s.open[i+1:]...)
			return !top
		}
	}
	// Not opened here (e.g. RemoveAllListeners in between).
	return false
}

// OpenSteps returns how many steps are currently in progress.
func (s *Scope) OpenSteps() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func (s *Scope) notify(l Listener, e *Event, call func(Listener, *Event)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{
				"listener": listenerName(l),
				"source":   e.Source,
				"subject":  e.Subject,
				"stack":    string(debug.Stack()),
			}).Errorf("Failed to call listener: %v", r)
		}
	}()
	call(l, e)
}

func listenerName(l Listener) string {
	if n, ok := l.(Namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", l)
}
