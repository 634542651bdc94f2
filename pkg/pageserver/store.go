package pageserver

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	ErrNoGroup = errors.New("no such group")
	ErrNoField = errors.New("no such field")
)

// Rejection is returned by a Var check to refuse a value with a message meant for the user.
type Rejection struct {
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

// Reject builds a Rejection.
func Reject(format string, args ...any) error {
	return &Rejection{Message: fmt.Sprintf(format, args...)}
}

// Var is one piece of application state a page field can edit. Its type is fixed by the
// initial value.
type Var struct {
	lock    sync.RWMutex
	value   any
	choices *Choices
	check   func(any) error
	format  func(any) string
}

type VarOption func(*Var)

// WithChoices attaches the option list used to convert "sel" edits.
func WithChoices(c Choices) VarOption {
	return func(v *Var) { v.choices = &c }
}

// WithCheck validates every new value before it is stored.
func WithCheck(f func(any) error) VarOption {
	return func(v *Var) { v.check = f }
}

// WithFormat sets how the stored value is shown back on the page. A Var with a format
// echoes the stored value after each edit.
func WithFormat(f func(any) string) VarOption {
	return func(v *Var) { v.format = f }
}

func NewVar(initial any, opts ...VarOption) *Var {
	v := &Var{value: initial}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *Var) Get() any {
	v.lock.RLock()
	defer v.lock.RUnlock()
	return v.value
}

// Float returns the value when it is a float64, else zero.
func (v *Var) Float() float64 {
	f, _ := v.Get().(float64)
	return f
}

// String returns the value when it is a string, else its default formatting.
func (v *Var) String() string {
	if s, ok := v.Get().(string); ok {
		return s
	}
	return fmt.Sprint(v.Get())
}

// Set stores x. It must have the same type as the initial value, converting an int into a
// float var where needed.
func (v *Var) Set(x any) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.value != nil {
		want := reflect.TypeOf(v.value)
		got := reflect.ValueOf(x)
		if !got.IsValid() {
			return fmt.Errorf("cannot store nil in a %s field", want)
		}
		if got.Type() != want {
			if !got.CanInt() || !(want.Kind() == reflect.Float64 || want.Kind() == reflect.Float32) {
				return fmt.Errorf("cannot store %s in a %s field", got.Type(), want)
			}
			x = got.Convert(want).Interface()
		}
	}
	if v.check != nil {
		if err := v.check(x); err != nil {
			return err
		}
	}
	v.value = x
	return nil
}

func (v *Var) Choices() *Choices {
	return v.choices
}

// Formatted reports the display form of the stored value and whether a format is set.
func (v *Var) Formatted() (string, bool) {
	if v.format == nil {
		return "", false
	}
	return v.format(v.Get()), true
}

// Group is a namespace of vars and nested groups addressed by dotted ids such as
// "calc.number_A".
type Group struct {
	lock   sync.RWMutex
	vars   map[string]*Var
	groups map[string]*Group
}

func NewGroup() *Group {
	return &Group{vars: make(map[string]*Var), groups: make(map[string]*Group)}
}

// Add registers v under name and returns it.
func (g *Group) Add(name string, v *Var) *Var {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.vars[name] = v
	return v
}

// Group returns the child group called name, creating it when missing.
func (g *Group) Group(name string) *Group {
	g.lock.Lock()
	defer g.lock.Unlock()
	child, ok := g.groups[name]
	if !ok {
		child = NewGroup()
		g.groups[name] = child
	}
	return child
}

// Lookup resolves a dotted id. Every segment but the last names a group.
func (g *Group) Lookup(id string) (*Var, error) {
	parts := strings.Split(id, ".")
	current := g
	for _, part := range parts[:len(parts)-1] {
		current.lock.RLock()
		next, ok := current.groups[part]
		current.lock.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrNoGroup, part, id)
		}
		current = next
	}
	leaf := parts[len(parts)-1]
	current.lock.RLock()
	defer current.lock.RUnlock()
	v, ok := current.vars[leaf]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoField, id)
	}
	return v, nil
}
