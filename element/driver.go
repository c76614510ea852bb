package element

import (
	"context"
	"fmt"
)

// Driver is everything the core needs from a UI backend.
//
// Errors must wrap the trip sentinels: trip.ErrNotFound when nothing matches,
// trip.ErrStale when a target went away, trip.ErrNotInteractable when it is
// covered or inert, trip.ErrInvalidLocator for selectors the backend rejects
// and trip.ErrDriver for everything that retrying cannot fix.
type Driver interface {
	// Find returns the index-th match of by, inside scope when scope is
	// non-nil.
	Find(ctx context.Context, scope Target, by By, index int) (Target, error)

	// ExecuteScript runs a script with arguments. Targets passed as
	// arguments are addressed as arguments[i] by the script.
	ExecuteScript(ctx context.Context, script string, args ...any) (any, error)
}

// Screenshotter is implemented by drivers that can capture the current
// screen as a PNG.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Target is a resolved element. It is only valid until the next render; any
// method may fail with trip.ErrStale.
type Target interface {
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	Displayed(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	Editable(ctx context.Context) (bool, error)
	Perform(ctx context.Context, action Action) error
}

// ActionKind enumerates side-effecting interactions.
type ActionKind int

const (
	Click ActionKind = iota
	DoubleClick
	ClearValue
	SendKeys
	Press
	Focus
)

func (k ActionKind) String() string {
	switch k {
	case Click:
		return "click"
	case DoubleClick:
		return "double click"
	case ClearValue:
		return "clear"
	case SendKeys:
		return "send keys"
	case Press:
		return "press"
	case Focus:
		return "focus"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// Action is one interaction. Keys holds the text for SendKeys or the key
// name for Press.
type Action struct {
	Kind ActionKind
	Keys string
}

func (a Action) String() string {
	if a.Keys == "" {
		return a.Kind.String()
	}
	return fmt.Sprintf("%s %q", a.Kind, a.Keys)
}

// Named keys understood by Press across drivers.
const (
	KeyEnter     = "Enter"
	KeyTab       = "Tab"
	KeyEscape    = "Escape"
	KeyBackspace = "Backspace"
	KeyUp        = "ArrowUp"
	KeyDown      = "ArrowDown"
	KeyLeft      = "ArrowLeft"
	KeyRight     = "ArrowRight"
)
