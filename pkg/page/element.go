// Package page models the addressable elements a synchronised page exposes to the update
// protocol. The element set is owned by the caller and injected as a Registry, so the same
// protocol code can drive an in-memory page, a terminal UI or a test fake.
package page

import "sync"

// Kind names a family of elements that share capabilities.
type Kind string

const (
	KindInput    Kind = "input"
	KindSelect   Kind = "select"
	KindProgress Kind = "progress"
	KindButton   Kind = "button"
	KindText     Kind = "text"
)

// Element is one addressable target on a page.
type Element interface {
	ID() string
	Kind() Kind

	// SetValue replaces the typed value of a value-carrying control.
	SetValue(v string)
	// SetContent replaces the inner markup of a display element.
	SetContent(c string)

	Disabled() bool
	SetDisabled(disabled bool)

	// SetBackground overrides the background colour; ClearBackground removes the override so
	// the element inherits its styled colour again.
	SetBackground(color string)
	ClearBackground()
}

// Registry resolves field ids to elements. A missing id reports false.
type Registry interface {
	Resolve(id string) (Element, bool)
}

// RegistryFunc adapts a plain function to Registry.
type RegistryFunc func(id string) (Element, bool)

func (f RegistryFunc) Resolve(id string) (Element, bool) {
	return f(id)
}

var (
	kindsLock     sync.RWMutex
	valueCarrying = map[Kind]bool{
		KindInput:    true,
		KindSelect:   true,
		KindProgress: true,
	}
)

// RegisterKind declares whether elements of kind accept a typed value (true) or display inner
// content (false). Registering an existing kind replaces its classification.
func RegisterKind(kind Kind, carriesValue bool) {
	kindsLock.Lock()
	defer kindsLock.Unlock()
	valueCarrying[kind] = carriesValue
}

// IsValueCarrying reports whether displayed content for el is routed to its value rather than
// its inner content. Unknown kinds are display elements.
func IsValueCarrying(el Element) bool {
	kindsLock.RLock()
	defer kindsLock.RUnlock()
	return valueCarrying[el.Kind()]
}
