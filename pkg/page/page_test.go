package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValueCarrying(t *testing.T) {
	p := NewMemory()
	for kind, want := range map[Kind]bool{
		KindInput:     true,
		KindSelect:    true,
		KindProgress:  true,
		KindButton:    false,
		KindText:      false,
		Kind("meter"): false,
	} {
		el := p.Add(string(kind), kind)
		assert.Equal(t, want, IsValueCarrying(el), "kind %s", kind)
	}
}

func TestRegisterKind(t *testing.T) {
	kind := Kind("slider")
	t.Cleanup(func() {
		kindsLock.Lock()
		delete(valueCarrying, kind)
		kindsLock.Unlock()
	})

	el := NewMemory().Add("zoom", kind)
	assert.False(t, IsValueCarrying(el))
	RegisterKind(kind, true)
	assert.True(t, IsValueCarrying(el))
}

func TestMemoryResolve(t *testing.T) {
	p := NewMemory()
	p.Add("status", KindText)

	el, ok := p.Resolve("status")
	require.True(t, ok)
	assert.Equal(t, "status", el.ID())

	_, ok = p.Resolve("ghost")
	assert.False(t, ok)

	p.Remove("status")
	_, ok = p.Resolve("status")
	assert.False(t, ok)
}

func TestFieldState(t *testing.T) {
	p := NewMemory()
	f := p.Add("answer", KindText)
	f.SetContent("42")
	f.SetDisabled(true)
	f.SetBackground("red")

	bg, ok := f.Background()
	assert.True(t, ok)
	assert.Equal(t, "red", bg)
	assert.Equal(t, "42", f.Content())
	assert.True(t, f.Disabled())

	f.ClearBackground()
	_, ok = f.Background()
	assert.False(t, ok)
	assert.Contains(t, p.String(), `answer	value="" content="42" disabled=true bgcolor=-`)
}

func TestRecordingNotifier(t *testing.T) {
	n := new(RecordingNotifier)
	n.Alert("one")
	n.Alert("two")
	assert.Equal(t, []string{"one", "two"}, n.Messages())
}
