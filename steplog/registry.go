package steplog

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Registry maps execution-unit IDs to their scopes. Scopes are created on
// first use and dropped by Release.
type Registry struct {
	log logrus.FieldLogger

	mu    sync.Mutex
	units map[string]*Scope
}

// Default is the process-wide registry used by ForTest.
var Default = NewRegistry(nil)

// NewRegistry returns an empty registry. Scopes inherit log.
func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{log: log, units: make(map[string]*Scope)}
}

// NewUnitID returns a fresh random unit ID.
func NewUnitID() string {
	return uuid.NewString()
}

// Unit returns the scope for id, creating it if needed.
func (r *Registry) Unit(id string) *Scope {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.units[id]
	if !ok {
		s = NewScope(id, r.log)
		r.units[id] = s
	}
	return s
}

// Lookup returns the scope for id without creating one.
func (r *Registry) Lookup(id string) (*Scope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.units[id]
	return s, ok
}

// Release removes all listeners of id and forgets the scope.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	s, ok := r.units[id]
	delete(r.units, id)
	r.mu.Unlock()

	if ok {
		s.RemoveAllListeners()
	}
}

// Len returns the number of live scopes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.units)
}

// ForTest returns the scope for t from the Default registry and releases it
// when t finishes. Subtests get their own scopes.
func ForTest(t testing.TB) *Scope {
	t.Helper()
	id := t.Name()
	t.Cleanup(func() { Default.Release(id) })
	return Default.Unit(id)
}

type scopeKey struct{}

// WithScope attaches s to ctx.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the scope attached to ctx, or nil.
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
