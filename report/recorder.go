package report

import (
	"strings"
	"sync"
	"time"

	"github.com/teranos/dolly/steplog"
)

// StepRecord is a committed step as it appears in a report.
type StepRecord struct {
	ID       string        `json:"id"`
	ParentID string        `json:"parent_id,omitempty"`
	Depth    int           `json:"depth"`
	Source   string        `json:"source"`
	Subject  string        `json:"subject"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the step failed.
func (s StepRecord) Failed() bool { return s.Status == steplog.Fail.String() }

// Indent is used by the template to show nesting.
func (s StepRecord) Indent() string { return strings.Repeat("  ", s.Depth) }

// Recorder is a steplog listener collecting every committed step in
// commit order.
type Recorder struct {
	mu    sync.Mutex
	steps []StepRecord
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Name() string { return "report" }

func (r *Recorder) BeforeEvent(*steplog.Event) {}

func (r *Recorder) AfterEvent(e *steplog.Event) {
	rec := StepRecord{
		ID:       e.ID,
		ParentID: e.ParentID,
		Depth:    e.Depth,
		Source:   e.Source,
		Subject:  e.Subject,
		Status:   e.Status.String(),
		Started:  e.Started,
		Duration: e.Duration(),
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}

	r.mu.Lock()
	r.steps = append(r.steps, rec)
	r.mu.Unlock()
}

// Steps returns a copy of what was recorded so far.
func (r *Recorder) Steps() []StepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepRecord(nil), r.steps...)
}

// Len is the number of recorded steps.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}
