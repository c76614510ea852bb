package report

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

//go:embed templates/dashboard.html
var dashboardTemplate string

var dashboardTmpl = template.Must(template.New("dashboard").Parse(dashboardTemplate))

const metadataOpen = `<script type="application/json" id="test-metadata">`

// Entry is one report listed on the dashboard.
type Entry struct {
	Suite        string
	Timestamp    string
	RelativePath string
	CreatedAt    time.Time
	Metadata
}

// GenerateDashboard indexes every <root>/<suite>/<timestamp>/index.html and
// writes <root>/index.html. Newest reports come first.
func GenerateDashboard(root string) ([]Entry, error) {
	entries, err := Scan(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan reports: %w", err)
	}

	f, err := os.Create(filepath.Join(root, "index.html"))
	if err != nil {
		return nil, fmt.Errorf("failed to create dashboard: %w", err)
	}
	defer f.Close()

	data := struct {
		Reports     []Entry
		GeneratedAt time.Time
	}{entries, time.Now()}
	if err := dashboardTmpl.Execute(f, data); err != nil {
		return nil, fmt.Errorf("failed to render dashboard: %w", err)
	}
	return entries, f.Close()
}

// Scan finds the reports under root. Directories whose name is not a
// TimestampLayout timestamp are ignored; reports without readable metadata
// are listed with what the path tells.
func Scan(root string) ([]Entry, error) {
	var entries []Entry
	top := filepath.Join(root, "index.html")

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "index.html" || path == top {
			return nil
		}

		dir := filepath.Dir(path)
		ts := filepath.Base(dir)
		if _, err := time.Parse(TimestampLayout, ts); err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		e := Entry{
			Suite:        filepath.Base(filepath.Dir(dir)),
			Timestamp:    ts,
			RelativePath: relativePath(root, path),
			CreatedAt:    info.ModTime(),
		}
		if meta, err := ReadMetadata(path); err == nil {
			e.Metadata = meta
		} else {
			e.TestName = e.Suite
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp > entries[j].Timestamp
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// ErrNoMetadata is returned for pages that carry no metadata block.
var ErrNoMetadata = errors.New("no report metadata")

// ReadMetadata extracts the JSON metadata block from a report page.
func ReadMetadata(path string) (Metadata, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	return parseMetadata(string(content))
}

func parseMetadata(page string) (Metadata, error) {
	start := strings.Index(page, metadataOpen)
	if start == -1 {
		return Metadata{}, ErrNoMetadata
	}
	body := page[start+len(metadataOpen):]
	end := strings.Index(body, "</script>")
	if end == -1 {
		return Metadata{}, fmt.Errorf("%w: unterminated block", ErrNoMetadata)
	}

	var m Metadata
	if err := json.Unmarshal([]byte(strings.TrimSpace(body[:end])), &m); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse report metadata: %w", err)
	}
	return m, nil
}

func relativePath(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName turns a test name such as "TestLogin/bad_password" into a
// directory name.
func SafeName(name string) string {
	s := strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_")
	if s == "" {
		return "unnamed"
	}
	return s
}
