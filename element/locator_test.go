package element

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teranos/dolly/trip"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubTarget struct {
	name string
}

func (s stubTarget) Text(context.Context) (string, error) { return s.name, nil }
func (s stubTarget) Attribute(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (stubTarget) Displayed(context.Context) (bool, error) { return true, nil }
func (stubTarget) Enabled(context.Context) (bool, error) { return true, nil }
func (stubTarget) Editable(context.Context) (bool, error) { return true, nil }
func (stubTarget) Perform(context.Context, Action) error { return nil }

// countingDriver names each resolved target after its scope and locator so
// tests can see the chain that produced it.
type countingDriver struct {
	finds int
	fail  map[string]error
}

func (d *countingDriver) Find(_ context.Context, scope Target, by By, index int) (Target, error) {
	d.finds++
	if err, ok := d.fail[by.Selector]; ok {
		return nil, err
	}
	name := fmt.Sprintf("%s#%d", by.Selector, index)
	if scope != nil {
		name = scope.(stubTarget).name + "/" + name
	}
	return stubTarget{name: name}, nil
}

func (d *countingDriver) ExecuteScript(context.Context, string, ...any) (any, error) {
	return nil, nil
}

func TestElementString(t *testing.T) {
	t.Parallel()

	form := FindCSS("form.login")
	field := form.Find(ByName("password")).Nth(1)

	assert.Equal(t, "form.login", form.String())
	assert.Equal(t, "form.login >> by name: password[1]", field.String())
	assert.Equal(t, "by line: 3", ByLine(3).String())

	parent, ok := field.Parent()
	require.True(t, ok)
	assert.Equal(t, form, parent)
	_, ok = form.Parent()
	assert.False(t, ok)
}

func TestElementIsImmutable(t *testing.T) {
	t.Parallel()

	base := FindCSS("li")
	third := base.Nth(2)

	assert.Equal(t, 0, base.Index())
	assert.Equal(t, 2, third.Index())
	assert.Equal(t, base.By(), third.By())
}

func TestResolveWalksChainEveryTime(t *testing.T) {
	t.Parallel()

	d := &countingDriver{}
	el := FindCSS("table").Find(ByCSS("tr")).Nth(4)

	for i := 0; i < 3; i++ {
		target, err := el.Resolve(context.Background(), d)
		require.NoError(t, err)
		text, _ := target.Text(context.Background())
		assert.Equal(t, "table#0/tr#4", text)
	}
	assert.Equal(t, 6, d.finds)
}

func TestResolveParentFailureStopsChain(t *testing.T) {
	t.Parallel()

	d := &countingDriver{fail: map[string]error{"table": fmt.Errorf("no table: %w", trip.ErrNotFound)}}
	_, err := FindCSS("table").Find(ByCSS("tr")).Resolve(context.Background(), d)

	assert.ErrorIs(t, err, trip.ErrNotFound)
	assert.Equal(t, 1, d.finds)
}

func TestResolveRejectsInvalidLocator(t *testing.T) {
	t.Parallel()

	d := &countingDriver{}
	_, err := FindCSS("  ").Resolve(context.Background(), d)
	assert.ErrorIs(t, err, trip.ErrInvalidLocator)
	assert.Equal(t, trip.Fatal, trip.Classify(err))

	_, err = FindCSS("li").Nth(-1).Resolve(context.Background(), d)
	assert.ErrorIs(t, err, trip.ErrInvalidLocator)
	assert.Zero(t, d.finds)
}

func TestActionString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "click", Action{Kind: Click}.String())
	assert.Equal(t, `send keys "hi"`, Action{Kind: SendKeys, Keys: "hi"}.String())
	assert.Equal(t, "action(42)", ActionKind(42).String())
}
