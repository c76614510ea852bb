package dolly

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// testWriter sends log output through t.Log so it is shown with the test
// that produced it.
type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func newTestLogger(t testing.TB, level string) logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(testWriter{t})
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	return log.WithField("test", t.Name())
}
