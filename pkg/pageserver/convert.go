package pageserver

import (
	"errors"
	"fmt"
	"html"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrUnknownType = errors.New("unknown field type")
	ErrNoChoices   = errors.New("field has no choice list")
)

// Choices is the option list behind a select field. Display is what the user sees; Values,
// when set, is what the application stores for the option at the same index.
type Choices struct {
	Display []string
	Values  []string
}

// Convert turns the text a page sent for an edit into a typed value. fieldType is one of
// float, int, str, bool or sel; choices is only needed for sel.
func Convert(fieldType, raw string, choices *Choices) (any, error) {
	switch fieldType {
	case "float":
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case "int":
		return strconv.Atoi(strings.TrimSpace(raw))
	case "str":
		return raw, nil
	case "bool":
		return raw == "true", nil
	case "sel":
		if choices == nil {
			return nil, ErrNoChoices
		}
		i := slices.Index(choices.Display, raw)
		if i < 0 {
			return nil, fmt.Errorf("%q is not one of the choices", raw)
		}
		if len(choices.Values) > 0 {
			return choices.Values[i], nil
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, fieldType)
	}
}

// notifyTypes maps the id suffix used on the notify route to a field type.
var notifyTypes = map[string]string{
	"f": "float",
	"i": "int",
	"s": "str",
}

// splitNotifyID splits "name-f" into the field name and its field type.
func splitNotifyID(id string) (string, string, error) {
	i := strings.LastIndex(id, "-")
	if i <= 0 {
		return "", "", fmt.Errorf("field id not understood (%s)", id)
	}
	fieldType, ok := notifyTypes[id[i+1:]]
	if !ok {
		return "", "", fmt.Errorf("request format not understood (%s)", id[i+1:])
	}
	return id[:i], fieldType, nil
}

// MakeSelect renders the inner markup of a select element with selected marked. With display
// nil the choices are shown as they are; otherwise display must be the same length and each
// option carries its choice as its name.
func MakeSelect(choices []string, selected string, display []string) (string, error) {
	if display != nil && len(display) != len(choices) {
		return "", fmt.Errorf("display has %d entries for %d choices", len(display), len(choices))
	}
	b := new(strings.Builder)
	for i, choice := range choices {
		b.WriteString("<option")
		if display != nil {
			b.WriteString(` name="` + html.EscapeString(choice) + `"`)
		}
		if choice == selected {
			b.WriteString(" selected")
		}
		b.WriteString(">")
		if display != nil {
			b.WriteString(html.EscapeString(display[i]))
		} else {
			b.WriteString(html.EscapeString(choice))
		}
		b.WriteString("</option>")
	}
	return b.String(), nil
}

// Select renders c with the option for the stored value selected.
func (c Choices) Select(selected string) string {
	if len(c.Values) == 0 {
		out, _ := MakeSelect(c.Display, selected, nil)
		return out
	}
	out, _ := MakeSelect(c.Values, selected, c.Display)
	return out
}
