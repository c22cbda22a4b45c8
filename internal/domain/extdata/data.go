// Package extdata holds the method-specific key/value bag attached to a
// payment instruction. Values are opaque to the core and only need to be
// JSON serializable.
package extdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Data is an insertion-ordered key/value store. It is not safe for
// concurrent mutation; the controller serializes writers per instruction.
type Data struct {
	keys   []string
	values map[string]any
}

func New() *Data {
	return &Data{values: make(map[string]any)}
}

// Set stores value under key. Overwriting keeps the original position.
func (d *Data) Set(key string, value any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

func (d *Data) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (d *Data) GetString(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (d *Data) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

func (d *Data) Remove(key string) {
	if d == nil {
		return
	}
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	d.keys = slices.DeleteFunc(d.keys, func(k string) bool { return k == key })
}

// Keys returns the keys in insertion order.
func (d *Data) Keys() []string {
	if d == nil {
		return nil
	}
	return slices.Clone(d.keys)
}

func (d *Data) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Clone returns a shallow copy; nested values are shared.
func (d *Data) Clone() *Data {
	if d == nil {
		return New()
	}
	return &Data{keys: slices.Clone(d.keys), values: maps.Clone(d.values)}
}

// Equal compares keys, order and the JSON form of every value.
func (d *Data) Equal(other *Data) bool {
	if d.Len() != other.Len() {
		return false
	}
	a, errA := json.Marshal(d)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

type entry struct {
	Key   string `json:"k"`
	Value any    `json:"v"`
}

// MarshalJSON encodes the store as an ordered list of entries.
func (d *Data) MarshalJSON() ([]byte, error) {
	entries := make([]entry, 0, d.Len())
	if d != nil {
		for _, k := range d.keys {
			entries = append(entries, entry{Key: k, Value: d.values[k]})
		}
	}
	return json.Marshal(entries)
}

// UnmarshalJSON decodes numbers as json.Number to avoid float rounding of
// amounts and card data.
func (d *Data) UnmarshalJSON(b []byte) error {
	var raw []struct {
		Key   string          `json:"k"`
		Value json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode extended data: %w", err)
	}

	d.keys = d.keys[:0]
	d.values = make(map[string]any, len(raw))
	for _, e := range raw {
		dec := json.NewDecoder(bytes.NewReader(e.Value))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("decode extended data key %q: %w", e.Key, err)
		}
		d.Set(e.Key, v)
	}
	return nil
}
