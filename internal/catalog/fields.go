package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is one label/value pair.
type Field struct {
	Label string
	Value string
}

// Fields is an ordered list of label/value pairs that marshals to a JSON object
// preserving insertion order.
type Fields []Field

// Get returns the value stored under label.
func (f Fields) Get(label string) (string, bool) {
	for _, field := range f {
		if field.Label == label {
			return field.Value, true
		}
	}
	return "", false
}

// Set replaces the value under label in place or appends a new pair.
func (f Fields) Set(label, value string) Fields {
	for i := range f {
		if f[i].Label == label {
			f[i].Value = value
			return f
		}
	}
	return append(f, Field{Label: label, Value: value})
}

// Clone returns an independent copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	copy(out, f)
	return out
}

// MarshalJSON encodes the pairs as a JSON object in order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Label)
		if err != nil {
			return nil, fmt.Errorf("marshal label %q: %w", field.Label, err)
		}
		val, err := json.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value of %q: %w", field.Label, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the document's key order.
// Non-string values are kept as their raw JSON text.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read fields: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("fields must be a JSON object, got %v", tok)
	}
	out := Fields{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read field label: %w", err)
		}
		label, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected field label %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("read field %q: %w", label, err)
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			value = string(raw)
		}
		out = out.Set(label, value)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("close fields object: %w", err)
	}
	*f = out
	return nil
}
