package steplog

import (
	"github.com/sirupsen/logrus"
)

// LogrusListener writes one log line per committed step.
type LogrusListener struct {
	log logrus.FieldLogger
}

// NewLogrusListener returns a listener logging to log.
func NewLogrusListener(log logrus.FieldLogger) *LogrusListener {
	return &LogrusListener{log: log}
}

func (l *LogrusListener) Name() string { return "logrus" }

func (l *LogrusListener) BeforeEvent(e *Event) {
	l.fields(e).Debug("Step started")
}

func (l *LogrusListener) AfterEvent(e *Event) {
	entry := l.fields(e).WithField("duration", e.Duration())
	if e.Status == Fail {
		entry.WithError(e.Err).Error("Step failed")
		return
	}
	entry.Info("Step passed")
}

func (l *LogrusListener) fields(e *Event) *logrus.Entry {
	return l.log.WithFields(logrus.Fields{
		"source":  e.Source,
		"subject": e.Subject,
		"status":  e.Status.String(),
		"unit":    e.UnitID,
		"depth":   e.Depth,
	})
}
