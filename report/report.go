// Package report turns the steps and frames of a test run into a
// self-contained HTML page, and indexes many such pages in a dashboard.
package report

import (
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"
)

//go:embed templates/report.html
var reportTemplate string

// TimestampLayout names the per-run directories under a suite directory.
const TimestampLayout = "20060102_150405"

// Report is one test run.
type Report struct {
	Name      string
	Timestamp time.Time
	Duration  time.Duration
	Success   bool
	Error     string
	Steps     []StepRecord
	Frames    []Frame
	Metadata  map[string]string
}

// Frame is a picture of the application under test at some step.
// View holds the text the picture was rendered from, when there is one.
type Frame struct {
	Label string
	Step  int
	Taken time.Time
	PNG   []byte
	View  string
}

// DataURL inlines the frame so the report needs no sibling files.
func (f Frame) DataURL() template.URL {
	if len(f.PNG) == 0 {
		return ""
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(f.PNG))
}

// Terminal renders View with its colours as HTML.
func (f Frame) Terminal() template.HTML {
	return ANSIToHTML(f.View)
}

// Metadata is embedded in every report as JSON so the dashboard can index
// it without scraping HTML.
type Metadata struct {
	TestName   string `json:"testName"`
	Duration   string `json:"duration"`
	StepCount  int    `json:"stepCount"`
	FailCount  int    `json:"failCount"`
	FrameCount int    `json:"frameCount"`
	Timestamp  string `json:"timestamp"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

func (r Report) metadata() Metadata {
	fails := 0
	for _, s := range r.Steps {
		if s.Status == "FAIL" {
			fails++
		}
	}
	return Metadata{
		TestName:   r.Name,
		Duration:   r.Duration.Round(time.Millisecond).String(),
		StepCount:  len(r.Steps),
		FailCount:  fails,
		FrameCount: len(r.Frames),
		Timestamp:  r.Timestamp.Format(TimestampLayout),
		Success:    r.Success,
		Error:      r.Error,
	}
}

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"ms": func(d time.Duration) string { return d.Round(time.Millisecond).String() },
}).Parse(reportTemplate))

// Generate writes dir/index.html for r, creating dir if needed.
func Generate(dir string, r Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	meta, err := json.Marshal(r.metadata())
	if err != nil {
		return fmt.Errorf("failed to encode report metadata: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "index.html"))
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	data := struct {
		Report
		Meta template.JS
	}{r, template.JS(meta)}
	if err := reportTmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return f.Close()
}

// RunDir is where a run of name started at ts keeps its report under root.
func RunDir(root, name string, ts time.Time) string {
	return filepath.Join(root, SafeName(name), ts.Format(TimestampLayout))
}
