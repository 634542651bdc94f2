package page

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory page. It is safe for concurrent use so that a renderer can read
// while the protocol writes.
type Memory struct {
	lock   sync.RWMutex
	fields map[string]*Field
}

func NewMemory() *Memory {
	return &Memory{fields: make(map[string]*Field)}
}

// Add creates (or replaces) the element id with the given kind and returns it.
func (m *Memory) Add(id string, kind Kind) *Field {
	m.lock.Lock()
	defer m.lock.Unlock()
	f := &Field{page: m, id: id, kind: kind}
	m.fields[id] = f
	return f
}

// Remove drops id from the page. Later updates addressing it become target-not-found.
func (m *Memory) Remove(id string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.fields, id)
}

func (m *Memory) Resolve(id string) (Element, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	f, ok := m.fields[id]
	if !ok {
		return nil, false
	}
	return f, true
}

// Field returns the concrete element for id, or nil.
func (m *Memory) Field(id string) *Field {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.fields[id]
}

// Snapshot returns a copy of every element's state keyed by id.
func (m *Memory) Snapshot() map[string]State {
	m.lock.RLock()
	defer m.lock.RUnlock()
	out := make(map[string]State, len(m.fields))
	for id, f := range m.fields {
		out[id] = f.state
	}
	return out
}

// String renders the page one element per line, sorted by id.
func (m *Memory) String() string {
	snap := m.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sb := new(strings.Builder)
	for _, id := range ids {
		_, _ = fmt.Fprintf(sb, "%s\t%s\n", id, snap[id])
	}
	return sb.String()
}

// State is the observable state of one element.
type State struct {
	Value      string
	Content    string
	Disabled   bool
	Background *string
}

func (s State) String() string {
	bg := "-"
	if s.Background != nil {
		bg = *s.Background
	}
	return fmt.Sprintf("value=%q content=%q disabled=%t bgcolor=%s", s.Value, s.Content, s.Disabled, bg)
}

// Field is an element of a Memory page.
type Field struct {
	page  *Memory
	id    string
	kind  Kind
	state State
}

func (f *Field) ID() string { return f.id }

func (f *Field) Kind() Kind { return f.kind }

func (f *Field) State() State {
	f.page.lock.RLock()
	defer f.page.lock.RUnlock()
	return f.state
}

func (f *Field) Value() string { return f.State().Value }

func (f *Field) Content() string { return f.State().Content }

func (f *Field) Disabled() bool { return f.State().Disabled }

func (f *Field) Background() (string, bool) {
	s := f.State()
	if s.Background == nil {
		return "", false
	}
	return *s.Background, true
}

func (f *Field) SetValue(v string) {
	f.page.lock.Lock()
	defer f.page.lock.Unlock()
	f.state.Value = v
}

func (f *Field) SetContent(c string) {
	f.page.lock.Lock()
	defer f.page.lock.Unlock()
	f.state.Content = c
}

func (f *Field) SetDisabled(disabled bool) {
	f.page.lock.Lock()
	defer f.page.lock.Unlock()
	f.state.Disabled = disabled
}

func (f *Field) SetBackground(color string) {
	f.page.lock.Lock()
	defer f.page.lock.Unlock()
	f.state.Background = &color
}

func (f *Field) ClearBackground() {
	f.page.lock.Lock()
	defer f.page.lock.Unlock()
	f.state.Background = nil
}
