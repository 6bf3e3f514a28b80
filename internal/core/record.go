package core

import (
	"bytes"
	"encoding/json"
	"slices"
)

// Field is one key/value pair of a Record.
type Field struct {
	Key   string
	Value any
}

// Record is an ordered mapping from target field name to value. Field order is
// the output column order and is preserved by every exporter.
type Record struct {
	fields []Field
}

// NewRecord builds a record from fields. Later duplicates replace earlier ones.
func NewRecord(fields ...Field) Record {
	var r Record
	for _, f := range fields {
		r.Set(f.Key, f.Value)
	}
	return r
}

// Get returns the value for key and whether it is present.
func (r Record) Get(key string) (any, bool) {
	if i := r.index(key); i >= 0 {
		return r.fields[i].Value, true
	}
	return nil, false
}

// Set replaces the value for key in place, or appends it.
func (r *Record) Set(key string, value any) {
	if i := r.index(key); i >= 0 {
		r.fields[i].Value = value
		return
	}
	r.fields = append(r.fields, Field{Key: key, Value: value})
}

// Delete removes key if present.
func (r *Record) Delete(key string) {
	if i := r.index(key); i >= 0 {
		r.fields = slices.Delete(r.fields, i, i+1)
	}
}

// Keys returns the field names in order.
func (r Record) Keys() []string {
	keys := make([]string, len(r.fields))
	for i, f := range r.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the fields in order.
func (r Record) Fields() []Field { return slices.Clone(r.fields) }

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Map returns the record as an unordered map.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.fields))
	for _, f := range r.fields {
		m[f.Key] = f.Value
	}
	return m
}

func (r Record) index(key string) int {
	for i, f := range r.fields {
		if f.Key == key {
			return i
		}
	}
	return -1
}

// MarshalJSON writes the record as a JSON object with keys in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
