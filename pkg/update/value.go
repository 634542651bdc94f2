// Package update holds the field update protocol shared by the action and live channels: the
// Value/Batch wire types, their JSON codec, and the Applier that mutates page elements.
package update

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Reserved pseudo-targets.
const (
	FieldLog   = "log"
	FieldAlert = "alert"
)

// Recognised attribute keys.
const (
	AttrValue    = "value"
	AttrDisabled = "disabled"
	AttrBgColor  = "bgcolor"
)

// TargetKind discriminates the Target variant.
type TargetKind int

const (
	TargetElement TargetKind = iota
	TargetLog
	TargetAlert
)

// Target is a resolved field id: the diagnostic sink, the alert sink, or a page element.
type Target struct {
	Kind TargetKind
	ID   string
}

// TargetOf classifies a field id.
func TargetOf(id string) Target {
	switch id {
	case FieldLog:
		return Target{Kind: TargetLog, ID: id}
	case FieldAlert:
		return Target{Kind: TargetAlert, ID: id}
	default:
		return Target{Kind: TargetElement, ID: id}
	}
}

// Attr is one named change within an attribute set. Raw holds the JSON encoded new value.
type Attr struct {
	Key string
	Raw json.RawMessage
}

// SetValue changes the displayed content.
func SetValue(v string) Attr {
	return Attr{Key: AttrValue, Raw: mustMarshal(v)}
}

// SetDisabled changes the enabled state.
func SetDisabled(disabled bool) Attr {
	return Attr{Key: AttrDisabled, Raw: mustMarshal(disabled)}
}

// SetBackground overrides the background colour.
func SetBackground(color string) Attr {
	return Attr{Key: AttrBgColor, Raw: mustMarshal(color)}
}

// ClearBackground removes a background override.
func ClearBackground() Attr {
	return Attr{Key: AttrBgColor, Raw: json.RawMessage("null")}
}

// Value is either an opaque scalar or an ordered attribute set.
type Value struct {
	scalar *string
	attrs  []Attr
}

// Scalar returns a value that replaces an element's displayed content.
func Scalar(s string) Value {
	return Value{scalar: &s}
}

// Attrs returns an attribute set applied in the order given.
func Attrs(attrs ...Attr) Value {
	return Value{attrs: attrs}
}

func (v Value) IsScalar() bool {
	return v.scalar != nil
}

// Text returns the scalar text, or the JSON form of an attribute set.
func (v Value) Text() string {
	if v.scalar != nil {
		return *v.scalar
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(raw)
}

// Attributes returns the attribute entries in order. Scalars have none.
func (v Value) Attributes() []Attr {
	return v.attrs
}

// Lookup returns the last entry for key.
func (v Value) Lookup(key string) (json.RawMessage, bool) {
	for i := len(v.attrs) - 1; i >= 0; i-- {
		if v.attrs[i].Key == key {
			return v.attrs[i].Raw, true
		}
	}
	return nil, false
}

// Equal reports whether both values encode identically.
func (v Value) Equal(o Value) bool {
	a, errA := v.MarshalJSON()
	b, errB := o.MarshalJSON()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.scalar != nil {
		return json.Marshal(*v.scalar)
	}
	buf := new(bytes.Buffer)
	buf.WriteByte('{')
	for i, a := range v.attrs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(a.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(a.Raw) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(a.Raw)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps object keys in the order they appear on the wire.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read value: %w", err)
	}
	if delim, ok := tok.(json.Delim); ok {
		if delim != '{' {
			return fmt.Errorf("update value must be a scalar or an object, got %s", delim)
		}
		attrs := make([]Attr, 0)
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return fmt.Errorf("failed to read attribute key: %w", err)
			}
			key, _ := keyTok.(string)
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return fmt.Errorf("failed to read attribute %q: %w", key, err)
			}
			attrs = append(attrs, Attr{Key: key, Raw: raw})
		}
		*v = Value{attrs: attrs}
		return nil
	}
	text, ok := scalarText(tok)
	if !ok {
		return fmt.Errorf("unsupported scalar %v", tok)
	}
	*v = Scalar(text)
	return nil
}

// ScalarText renders a raw JSON scalar as display text. Objects and arrays are rejected.
func ScalarText(raw json.RawMessage) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return "", false
	}
	return scalarText(tok)
}

func scalarText(tok json.Token) (string, bool) {
	switch t := tok.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case nil:
		return "", true
	default:
		return "", false
	}
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
