package dolly

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/teranos/dolly/poll"
)

// Config controls how a Director waits, logs and reports. It holds
// resolved values; see ConfigLayer for how files and the environment feed
// into it.
type Config struct {
	// Timeout bounds every fluent call.
	Timeout time.Duration
	// PollInterval is the pause between attempts.
	PollInterval time.Duration
	// CaptureFrames takes a screenshot on failure and at Stop when the
	// driver can.
	CaptureFrames bool
	// ReportDir, when set, receives an HTML report per test.
	ReportDir string
	// BaselineDir holds the reference screenshots for MatchBaseline.
	BaselineDir string
	// LogLevel is a logrus level name.
	LogLevel string
	// MaxStumbles is how many minor problems (failed screenshots, reports)
	// are tolerated before later calls are skipped. Zero means no limit.
	MaxStumbles int
}

// DefaultConfig returns the configuration used by NewDirector.
func DefaultConfig() Config {
	return Config{
		Timeout:       poll.DefaultTimeout,
		PollInterval:  poll.DefaultInterval,
		CaptureFrames: true,
		LogLevel:      "info",
		MaxStumbles:   10,
	}
}

// ConfigLayer is one source of configuration. Only the fields that source
// actually set are valid, so a layer can switch CaptureFrames off or set
// MaxStumbles to zero.
//
//	timeout: 10s
//	poll_interval: 100ms
//	capture_frames: false
//	report_dir: build/reports
//	baseline_dir: testdata/baselines
type ConfigLayer struct {
	Timeout       NullDuration `yaml:"timeout" envconfig:"DOLLY_TIMEOUT"`
	PollInterval  NullDuration `yaml:"poll_interval" envconfig:"DOLLY_POLL_INTERVAL"`
	CaptureFrames null.Bool    `yaml:"capture_frames" envconfig:"DOLLY_CAPTURE_FRAMES"`
	ReportDir     null.String  `yaml:"report_dir" envconfig:"DOLLY_REPORT_DIR"`
	BaselineDir   null.String  `yaml:"baseline_dir" envconfig:"DOLLY_BASELINE_DIR"`
	LogLevel      null.String  `yaml:"log_level" envconfig:"DOLLY_LOG_LEVEL"`
	MaxStumbles   null.Int     `yaml:"max_stumbles" envconfig:"DOLLY_MAX_STUMBLES"`
}

// NullDuration is a duration that knows whether it was set.
type NullDuration struct {
	Duration time.Duration
	Valid    bool
}

// NullDurationFrom returns a valid NullDuration.
func NullDurationFrom(d time.Duration) NullDuration {
	return NullDuration{Duration: d, Valid: true}
}

// UnmarshalText parses a time.ParseDuration string. Empty text is unset.
func (d *NullDuration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = NullDuration{}
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = NullDurationFrom(v)
	return nil
}

// Apply returns c with every field that l set applied on top.
func (c Config) Apply(l ConfigLayer) Config {
	if l.Timeout.Valid {
		c.Timeout = l.Timeout.Duration
	}
	if l.PollInterval.Valid {
		c.PollInterval = l.PollInterval.Duration
	}
	if l.CaptureFrames.Valid {
		c.CaptureFrames = l.CaptureFrames.Bool
	}
	if l.ReportDir.Valid {
		c.ReportDir = l.ReportDir.String
	}
	if l.BaselineDir.Valid {
		c.BaselineDir = l.BaselineDir.String
	}
	if l.LogLevel.Valid {
		c.LogLevel = l.LogLevel.String
	}
	if l.MaxStumbles.Valid {
		c.MaxStumbles = int(l.MaxStumbles.Int64)
	}
	return c
}

// LoadConfig layers the YAML file at path (skipped when path is empty)
// and the process environment over DefaultConfig, then validates.
func LoadConfig(path string) (Config, error) {
	return LoadConfigFrom(path, os.LookupEnv)
}

// LoadConfigFrom is LoadConfig with an explicit environment.
func LoadConfigFrom(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		var file ConfigLayer
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg = cfg.Apply(file)
	}

	var env ConfigLayer
	if err := envconfig.Process("", &env, lookup); err != nil {
		return cfg, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg = cfg.Apply(env)

	return cfg, cfg.Validate()
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.MaxStumbles < 0 {
		errs = append(errs, fmt.Errorf("max_stumbles must not be negative, got %d", c.MaxStumbles))
	}
	return errors.Join(errs...)
}

// Poll is the retry configuration derived from c.
func (c Config) Poll() poll.Config {
	return poll.Config{Timeout: c.Timeout, Interval: c.PollInterval}
}
