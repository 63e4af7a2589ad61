// Package features models the flat, ordered feature records that flow through
// scoring and similarity: uploaded targets, reference rows and hybrids.
package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DonorSuffix marks donor-origin fields (AGE_DON, CREAT_DON, ...).
const DonorSuffix = "_DON"

// IsDonorField reports whether name carries the donor-origin suffix.
func IsDonorField(name string) bool {
	return len(name) >= len(DonorSuffix) &&
		strings.EqualFold(name[len(name)-len(DonorSuffix):], DonorSuffix)
}

// Vector is an ordered, immutable mapping from feature name to Value.  Keys
// are case-sensitive; Lookup and Number also accept case-insensitive names.
// The zero Vector is empty and usable.
type Vector struct {
	keys   []string
	values map[string]Value
	fold   map[string]string
}

// Builder accumulates fields for a Vector.  Setting an existing key replaces
// its value and keeps its position.
type Builder struct {
	keys   []string
	values map[string]Value
}

// NewBuilder returns a Builder with room for n fields.
func NewBuilder(n int) *Builder {
	return &Builder{keys: make([]string, 0, n), values: make(map[string]Value, n)}
}

// Set adds or replaces key.
func (b *Builder) Set(key string, val Value) *Builder {
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = val
	return b
}

// Build freezes the accumulated fields.  The Builder must not be reused.
func (b *Builder) Build() Vector {
	fold := make(map[string]string, len(b.keys))
	for _, k := range b.keys {
		lk := strings.ToLower(k)
		if _, ok := fold[lk]; !ok {
			fold[lk] = k
		}
	}
	v := Vector{keys: b.keys, values: b.values, fold: fold}
	b.keys, b.values = nil, nil
	return v
}

// FromMap builds a Vector from m.  Keys are ordered lexically since Go maps
// carry no order; use JSON decoding to keep source order.
func FromMap(m map[string]interface{}) Vector {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	b := NewBuilder(len(keys))
	for _, k := range keys {
		b.Set(k, Of(m[k]))
	}
	return b.Build()
}

// Len returns the number of fields.
func (v Vector) Len() int { return len(v.keys) }

// Keys returns the field names in order.
func (v Vector) Keys() []string {
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Get returns the value stored under exactly key.
func (v Vector) Get(key string) (Value, bool) {
	val, ok := v.values[key]
	return val, ok
}

// Lookup returns the value for key, falling back to a case-insensitive match.
func (v Vector) Lookup(key string) (Value, bool) {
	if val, ok := v.values[key]; ok {
		return val, true
	}
	if actual, ok := v.fold[strings.ToLower(key)]; ok {
		return v.values[actual], true
	}
	return Value{}, false
}

// KeyOf returns the stored spelling of key, matched case-insensitively.
func (v Vector) KeyOf(key string) (string, bool) {
	if _, ok := v.values[key]; ok {
		return key, true
	}
	actual, ok := v.fold[strings.ToLower(key)]
	return actual, ok
}

// Has reports whether key is present, case-insensitively.
func (v Vector) Has(key string) bool {
	_, ok := v.Lookup(key)
	return ok
}

// Number returns the numeric reading of key, case-insensitively.
func (v Vector) Number(key string) (float64, bool) {
	val, ok := v.Lookup(key)
	if !ok {
		return 0, false
	}
	return val.Float()
}

// Range calls fn for every field in order until fn returns false.
func (v Vector) Range(fn func(key string, val Value) bool) {
	for _, k := range v.keys {
		if !fn(k, v.values[k]) {
			return
		}
	}
}

// With returns a copy of v with key set to val.
func (v Vector) With(key string, val Value) Vector {
	b := v.ToBuilder()
	b.Set(key, val)
	return b.Build()
}

// ToBuilder returns a Builder seeded with a copy of v's fields.
func (v Vector) ToBuilder() *Builder {
	b := NewBuilder(len(v.keys) + 4)
	for _, k := range v.keys {
		b.Set(k, v.values[k])
	}
	return b
}

// ToMap returns the fields as plain Go values (nil, float64, string).
func (v Vector) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(v.keys))
	for _, k := range v.keys {
		out[k] = v.values[k].Interface()
	}
	return out
}

// MarshalJSON writes the fields as a JSON object in their stored order.
func (v Vector) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := v.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat JSON object, keeping field order.  Nested
// objects and arrays are stored as their JSON text; null leaves v unchanged.
func (v *Vector) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("features: expected JSON object, got %v", tok)
	}

	b := NewBuilder(16)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("features: expected object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("features: field %q: %w", key, err)
		}
		var val Value
		if err := val.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("features: field %q: %w", key, err)
		}
		b.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*v = b.Build()
	return nil
}
