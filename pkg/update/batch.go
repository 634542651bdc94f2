package update

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NoOpSentinel is the wire token a server sends instead of a batch when nothing changed.
const NoOpSentinel = "kwac"

// Entry addresses one field with one value.
type Entry struct {
	ID    string
	Value Value
}

// Set builds an entry.
func Set(id string, v Value) Entry {
	return Entry{ID: id, Value: v}
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.ID, e.Value})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("failed to decode update pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("update pair must have 2 elements, got %d", len(pair))
	}
	var id string
	if err := json.Unmarshal(pair[0], &id); err != nil {
		return fmt.Errorf("failed to decode field id: %w", err)
	}
	var v Value
	if err := v.UnmarshalJSON(pair[1]); err != nil {
		return fmt.Errorf("failed to decode value for %q: %w", id, err)
	}
	*e = Entry{ID: id, Value: v}
	return nil
}

// Batch is an ordered list of entries. A batch with NoOp set means "no changes" and is
// distinct from a batch with zero entries.
type Batch struct {
	Entries []Entry
	NoOp    bool
}

// NoChange is the no-op batch.
var NoChange = Batch{NoOp: true}

// NewBatch builds a batch from entries.
func NewBatch(entries ...Entry) Batch {
	return Batch{Entries: entries}
}

// Add appends an entry.
func (b *Batch) Add(id string, v Value) {
	b.Entries = append(b.Entries, Entry{ID: id, Value: v})
}

// Len is the number of entries, zero for the no-op batch.
func (b Batch) Len() int {
	return len(b.Entries)
}

func (b Batch) MarshalJSON() ([]byte, error) {
	if b.NoOp {
		return json.Marshal(NoOpSentinel)
	}
	if b.Entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(b.Entries)
}

func (b *Batch) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var token string
		if err := json.Unmarshal(data, &token); err != nil {
			return fmt.Errorf("failed to decode batch token: %w", err)
		}
		if token != NoOpSentinel {
			return fmt.Errorf("unexpected batch token %q", token)
		}
		*b = NoChange
		return nil
	}
	entries := make([]Entry, 0)
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*b = Batch{Entries: entries}
	return nil
}

// DecodeBatch validates data against the batch schema and decodes it.
func DecodeBatch(data []byte) (Batch, error) {
	if err := ValidateBatch(data); err != nil {
		return Batch{}, err
	}
	var b Batch
	if err := b.UnmarshalJSON(data); err != nil {
		return Batch{}, fmt.Errorf("failed to decode batch: %w", err)
	}
	return b, nil
}
