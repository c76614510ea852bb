package observe

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teranos/dolly/steplog"
)

// Span attributes set on every step.
var (
	AttrSource  = attribute.Key("dolly.source")
	AttrSubject = attribute.Key("dolly.subject")
	AttrUnit    = attribute.Key("dolly.unit")
)

// TracingListener opens one span per step. A nested step becomes a child
// of its enclosing step's span.
type TracingListener struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span // open spans by event ID
}

func NewTracingListener(tracer trace.Tracer) *TracingListener {
	return &TracingListener{tracer: tracer, spans: make(map[string]trace.Span)}
}

func (l *TracingListener) Name() string { return "tracing" }

func (l *TracingListener) BeforeEvent(e *steplog.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx := context.Background()
	if parent, ok := l.spans[e.ParentID]; ok && e.ParentID != "" {
		ctx = trace.ContextWithSpan(ctx, parent)
	}
	_, span := l.tracer.Start(ctx, spanName(e),
		trace.WithTimestamp(e.Started),
		trace.WithAttributes(
			AttrSource.String(e.Source),
			AttrSubject.String(e.Subject),
			AttrUnit.String(e.UnitID),
		),
	)
	l.spans[e.ID] = span
}

func (l *TracingListener) AfterEvent(e *steplog.Event) {
	l.mu.Lock()
	span, ok := l.spans[e.ID]
	delete(l.spans, e.ID)
	l.mu.Unlock()
	if !ok {
		return
	}

	if e.Status == steplog.Fail {
		if e.Err != nil {
			span.RecordError(e.Err)
			span.SetStatus(codes.Error, e.Err.Error())
		} else {
			span.SetStatus(codes.Error, "step failed")
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Ended))
}

// Open returns how many spans are waiting for their step to commit.
func (l *TracingListener) Open() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.spans)
}

func spanName(e *steplog.Event) string {
	return strings.TrimSpace(e.Source + " " + e.Subject)
}
