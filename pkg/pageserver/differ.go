package pageserver

import (
	"bytes"
	"encoding/json"

	"github.com/astromechza/fieldsync/pkg/update"
)

// Differ remembers what one stream has already sent so that each round only carries fields,
// and attributes within fields, whose value changed.
type Differ struct {
	sent map[string]update.Value
}

func NewDiffer() *Differ {
	return &Differ{sent: make(map[string]update.Value)}
}

// Diff returns the part of current not yet sent and records it as sent.
func (d *Differ) Diff(current []update.Entry) update.Batch {
	var out update.Batch
	for _, e := range current {
		previous, seen := d.sent[e.ID]
		switch {
		case !seen || e.Value.IsScalar() || previous.IsScalar():
			if seen && previous.Equal(e.Value) {
				continue
			}
			d.sent[e.ID] = e.Value
			out.Add(e.ID, e.Value)
		default:
			merged, changed := mergeAttrs(previous.Attributes(), e.Value.Attributes())
			d.sent[e.ID] = update.Attrs(merged...)
			if len(changed) > 0 {
				out.Add(e.ID, update.Attrs(changed...))
			}
		}
	}
	return out
}

// mergeAttrs folds next into previous, returning the merged set and the entries of next that
// differ from what previous held.
func mergeAttrs(previous, next []update.Attr) ([]update.Attr, []update.Attr) {
	merged := make([]update.Attr, len(previous))
	copy(merged, previous)
	var changed []update.Attr
	for _, a := range next {
		i := indexOf(merged, a.Key)
		if i >= 0 && sameJSON(merged[i].Raw, a.Raw) {
			continue
		}
		if i >= 0 {
			merged[i] = a
		} else {
			merged = append(merged, a)
		}
		changed = append(changed, a)
	}
	return merged, changed
}

func indexOf(attrs []update.Attr, key string) int {
	for i, a := range attrs {
		if a.Key == key {
			return i
		}
	}
	return -1
}

func sameJSON(a, b json.RawMessage) bool {
	ca, cb := new(bytes.Buffer), new(bytes.Buffer)
	if json.Compact(ca, a) != nil || json.Compact(cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
