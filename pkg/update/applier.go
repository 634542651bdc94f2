package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/astromechza/fieldsync/pkg/page"
)

// Applier mutates page elements from update values. Every Apply call is one turn: calls are
// serialised so that a single element is never written by two updates at once, while batches
// from different sources may still interleave between entries.
type Applier struct {
	registry page.Registry
	notifier page.Notifier
	logger   *slog.Logger

	lock sync.Mutex
}

var (
	ErrTargetNotFound = errors.New("update target not found")
	ErrTargetDisabled = errors.New("update target is disabled")
)

type Option func(*Applier)

// WithNotifier sets the alert sink. Defaults to a page.LogNotifier.
func WithNotifier(n page.Notifier) Option {
	return func(a *Applier) { a.notifier = n }
}

// WithLogger sets the diagnostic sink. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Applier) { a.logger = l }
}

func NewApplier(registry page.Registry, opts ...Option) *Applier {
	a := &Applier{registry: registry}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.notifier == nil {
		a.notifier = page.LogNotifier{Logger: a.logger}
	}
	return a
}

// Logger returns the diagnostic sink.
func (a *Applier) Logger() *slog.Logger {
	return a.logger
}

// Notifier returns the alert sink.
func (a *Applier) Notifier() page.Notifier {
	return a.notifier
}

// Registry returns the element registry.
func (a *Applier) Registry() page.Registry {
	return a.registry
}

// Apply applies one update. It never fails: problems are logged, or alerted when the update
// itself is malformed.
func (a *Applier) Apply(id string, v Value) {
	a.lock.Lock()
	defer a.lock.Unlock()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("update panicked", "field", id, "panic", r)
		}
	}()

	target := TargetOf(id)
	switch target.Kind {
	case TargetLog:
		a.logger.Info(v.Text(), "source", FieldLog)
		return
	case TargetAlert:
		a.notifier.Alert(v.Text())
		return
	}

	el, ok := a.registry.Resolve(target.ID)
	if !ok {
		a.logger.Warn("update target not found", "field", target.ID)
		return
	}
	if v.IsScalar() {
		setDisplayed(el, v.Text())
		return
	}
	for _, attr := range v.Attributes() {
		a.applyAttr(el, attr)
	}
}

func (a *Applier) applyAttr(el page.Element, attr Attr) {
	switch attr.Key {
	case AttrValue:
		text, ok := ScalarText(attr.Raw)
		if !ok {
			a.notifier.Alert(fmt.Sprintf("value %s for %s is not a scalar", attr.Raw, el.ID()))
			return
		}
		setDisplayed(el, text)
	case AttrDisabled:
		var disabled bool
		if err := json.Unmarshal(attr.Raw, &disabled); err != nil {
			a.notifier.Alert(fmt.Sprintf("disabled %s for %s is not a boolean", attr.Raw, el.ID()))
			return
		}
		el.SetDisabled(disabled)
	case AttrBgColor:
		var color *string
		if err := json.Unmarshal(attr.Raw, &color); err != nil {
			a.notifier.Alert(fmt.Sprintf("bgcolor %s for %s is not a colour", attr.Raw, el.ID()))
			return
		}
		if color == nil {
			el.ClearBackground()
		} else {
			el.SetBackground(*color)
		}
	default:
		a.notifier.Alert(fmt.Sprintf("param %s not understood in field updates for %s", attr.Key, el.ID()))
	}
}

func setDisplayed(el page.Element, text string) {
	if page.IsValueCarrying(el) {
		el.SetValue(text)
	} else {
		el.SetContent(text)
	}
}

// Acquire disables the element id in a single turn, failing if it does not exist or is
// already disabled. It is how a request claims its origin element before suspending.
func (a *Applier) Acquire(id string) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if TargetOf(id).Kind != TargetElement {
		return fmt.Errorf("%w: %s is reserved", ErrTargetNotFound, id)
	}
	el, ok := a.registry.Resolve(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	if el.Disabled() {
		return fmt.Errorf("%w: %s", ErrTargetDisabled, id)
	}
	el.SetDisabled(true)
	return nil
}

// Release re-enables the element id. Missing elements are ignored.
func (a *Applier) Release(id string) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if el, ok := a.registry.Resolve(id); ok {
		el.SetDisabled(false)
	}
}

// ApplyBatch applies each entry in order. The no-op batch is accepted and skipped.
func (a *Applier) ApplyBatch(b Batch) {
	if b.NoOp {
		a.logger.Debug("update nothing")
		return
	}
	for _, e := range b.Entries {
		a.Apply(e.ID, e.Value)
	}
}
