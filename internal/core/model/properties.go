package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type Property struct {
	Name  string
	Value any
}

// Properties is an insertion-ordered attribute map. Values are scalars
// (string, float64, int64, bool) or nil.
type Properties []Property

func (p Properties) Get(name string) (any, bool) {
	for _, kv := range p {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return nil, false
}

// Set replaces an existing value in place or appends a new one.
func (p *Properties) Set(name string, v any) {
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Value = v
			return
		}
	}
	*p = append(*p, Property{Name: name, Value: v})
}

func (p Properties) Names() []string {
	out := make([]string, len(p))
	for i, kv := range p {
		out[i] = kv.Name
	}
	return out
}

func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Name)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", kv.Name, err)
		}
		v, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value of %q: %w", kv.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the key order of the source object.
func (p *Properties) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("properties: %w", err)
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("properties must be a JSON object")
	}

	out := Properties{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("properties key: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("properties key must be string (got %T)", kt)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("properties value of %q: %w", key, err)
		}
		out.Set(key, normalizeNumber(v))
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("properties: %w", err)
	}
	*p = out
	return nil
}

// json.Number becomes int64 when integral, float64 otherwise
func normalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
