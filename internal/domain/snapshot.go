package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Snapshot is an ordered, already-encoded copy of a record's attributes.
// Values are marshaled when the snapshot is taken, so later changes to the
// source record cannot leak into it.
type Snapshot struct {
	fields []snapshotField
}

type snapshotField struct {
	name  string
	value json.RawMessage
}

// TakeSnapshot encodes the attributes of rec in order.
func TakeSnapshot(rec Protected) (Snapshot, error) {
	return NewSnapshot(rec.Attributes())
}

// NewSnapshot encodes attrs in order. A repeated name keeps its first
// position and its last value.
func NewSnapshot(attrs []Attribute) (Snapshot, error) {
	s := Snapshot{fields: make([]snapshotField, 0, len(attrs))}
	for _, a := range attrs {
		raw, err := json.Marshal(a.Value)
		if err != nil {
			return Snapshot{}, fmt.Errorf("domain.NewSnapshot: %s: %w", a.Name, err)
		}
		s.set(a.Name, raw)
	}
	return s, nil
}

func (s *Snapshot) set(name string, raw json.RawMessage) {
	for i := range s.fields {
		if s.fields[i].name == name {
			s.fields[i].value = raw
			return
		}
	}
	s.fields = append(s.fields, snapshotField{name: name, value: raw})
}

// IsZero reports whether no snapshot was ever taken.
func (s Snapshot) IsZero() bool { return s.fields == nil }

func (s Snapshot) Len() int { return len(s.fields) }

func (s Snapshot) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.name
	}
	return names
}

// Get returns a copy of the encoded value for name.
func (s Snapshot) Get(name string) (json.RawMessage, bool) {
	for _, f := range s.fields {
		if f.name == name {
			return bytes.Clone(f.value), true
		}
	}
	return nil, false
}

// Decode unmarshals the value stored under name into dst.
func (s Snapshot) Decode(name string, dst any) error {
	raw, ok := s.Get(name)
	if !ok {
		return fmt.Errorf("domain.Snapshot.Decode(%q): %w", name, ErrNotFound)
	}
	return json.Unmarshal(raw, dst)
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.fields == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(f.value)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the key order of the encoded object.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = Snapshot{}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("domain.Snapshot: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("domain.Snapshot: expected object")
	}

	out := Snapshot{fields: []snapshotField{}}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return fmt.Errorf("domain.Snapshot: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return errors.New("domain.Snapshot: expected key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("domain.Snapshot: %s: %w", name, err)
		}
		out.set(name, raw)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("domain.Snapshot: %w", err)
	}

	*s = out
	return nil
}
