package teadriver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/teranos/dolly/element"
	"github.com/teranos/dolly/trip"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

func stripANSI(s string) string {
	return ansi.ReplaceAllString(s, "")
}

// Find implements element.Driver. Text and CSS selectors match lines
// containing the selector, Regexp lines matching it, and Line selects a
// line by number. Inside a scope, only the scope's own line is searched.
func (d *Driver) Find(ctx context.Context, scope element.Target, by element.By, index int) (element.Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.usable(); err != nil {
		return nil, err
	}

	match, err := matcher(by)
	if err != nil {
		return nil, err
	}

	snap := d.snapshot()
	lines := snap.lines()
	first, last := 0, len(lines)
	if scope != nil {
		parent, ok := scope.(*target)
		if !ok || parent.d != d {
			return nil, fmt.Errorf("%w: foreign scope %T", trip.ErrDriver, scope)
		}
		if err := parent.check(); err != nil {
			return nil, err
		}
		first, last = parent.line, parent.line+1
	}

	n := 0
	for i := first; i < last && i < len(lines); i++ {
		if !match(i, lines[i]) {
			continue
		}
		if n == index {
			return &target{d: d, line: i, text: lines[i], by: by}, nil
		}
		n++
	}
	return nil, fmt.Errorf("%s[%d] among %d lines: %w", by, index, len(lines), trip.ErrNotFound)
}

func matcher(by element.By) (func(int, string) bool, error) {
	switch by.Strategy {
	case element.Text, element.CSS, element.LinkText:
		return func(_ int, line string) bool { return strings.Contains(line, by.Selector) }, nil
	case element.Regexp:
		re, err := regexp.Compile(by.Selector)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", trip.ErrInvalidLocator, err)
		}
		return func(_ int, line string) bool { return re.MatchString(line) }, nil
	case element.Line:
		want, err := strconv.Atoi(by.Selector)
		if err != nil || want < 0 {
			return nil, fmt.Errorf("%w: line %q is not a line number", trip.ErrInvalidLocator, by.Selector)
		}
		return func(i int, _ string) bool { return i == want }, nil
	default:
		return nil, fmt.Errorf("%w: %s locators are not supported by teadriver", trip.ErrInvalidLocator, by.Strategy)
	}
}

// target is one rendered line. It stays valid while that line renders the
// same way.
type target struct {
	d    *Driver
	line int
	text string
	by   element.By
}

func (t *target) String() string { return fmt.Sprintf("line %d %q", t.line, t.text) }

func (t *target) check() error {
	if err := t.d.usable(); err != nil {
		return err
	}
	lines := t.d.snapshot().lines()
	if t.line >= len(lines) || lines[t.line] != t.text {
		return fmt.Errorf("%s re-rendered: %w", t, trip.ErrStale)
	}
	return nil
}

func (t *target) Text(context.Context) (string, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	return strings.TrimRight(t.text, " "), nil
}

// Attribute exposes model state: "value" is the current input, "mode"
// the current mode, "line" the line number and "condition:<name>" is
// present when the model's CheckCondition(name) holds.
func (t *target) Attribute(_ context.Context, name string) (string, bool, error) {
	if err := t.check(); err != nil {
		return "", false, err
	}
	snap := t.d.snapshot()
	switch {
	case name == "value":
		return snap.input, snap.hasInput, nil
	case name == "mode":
		return snap.mode, snap.hasMode, nil
	case name == "line":
		return strconv.Itoa(t.line), true, nil
	case strings.HasPrefix(name, "condition:"):
		if c, ok := snap.model.(Conditioner); ok && c.CheckCondition(strings.TrimPrefix(name, "condition:")) {
			return "true", true, nil
		}
	}
	return "", false, nil
}

func (t *target) Displayed(context.Context) (bool, error) {
	return true, t.check()
}

func (t *target) Enabled(context.Context) (bool, error) {
	return true, t.check()
}

func (t *target) Editable(context.Context) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	return t.d.snapshot().hasInput, nil
}

func (t *target) Perform(ctx context.Context, a element.Action) error {
	if err := t.check(); err != nil {
		return err
	}
	d := t.d

	switch a.Kind {
	case element.Focus:
		return nil
	case element.Click:
		return d.Send(ctx, tea.KeyMsg{Type: tea.KeyEnter})
	case element.DoubleClick:
		if err := d.Send(ctx, tea.KeyMsg{Type: tea.KeyEnter}); err != nil {
			return err
		}
		return d.Send(ctx, tea.KeyMsg{Type: tea.KeyEnter})
	case element.Press:
		k, ok := keys[a.Keys]
		if !ok {
			return fmt.Errorf("%w: unknown key %q", trip.ErrDriver, a.Keys)
		}
		return d.Send(ctx, tea.KeyMsg{Type: k})
	case element.SendKeys:
		return d.typeText(ctx, a.Keys)
	case element.ClearValue:
		snap := d.snapshot()
		if !snap.hasInput {
			return fmt.Errorf("%w: %T has no input to clear", trip.ErrNotInteractable, snap.model)
		}
		for range []rune(snap.input) {
			if err := d.Send(ctx, tea.KeyMsg{Type: tea.KeyBackspace}); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: teadriver cannot %s", trip.ErrDriver, a.Kind)
	}
}

func (d *Driver) typeText(ctx context.Context, text string) error {
	for i, r := range []rune(text) {
		if i > 0 && d.cfg.TypingDelay > 0 {
			select {
			case <-time.After(d.cfg.TypingDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := d.Send(ctx, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}); err != nil {
			return err
		}
	}
	return nil
}

var keys = map[string]tea.KeyType{
	element.KeyEnter:     tea.KeyEnter,
	element.KeyTab:       tea.KeyTab,
	element.KeyEscape:    tea.KeyEsc,
	element.KeyBackspace: tea.KeyBackspace,
	element.KeyUp:        tea.KeyUp,
	element.KeyDown:      tea.KeyDown,
	element.KeyLeft:      tea.KeyLeft,
	element.KeyRight:     tea.KeyRight,
}
