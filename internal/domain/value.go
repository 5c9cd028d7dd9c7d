package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Value is one node of a snapshot record. The concrete type is decided once,
// when the payload is parsed: Scalar, Sequence, Mapping or LocaleObject.
type Value interface {
	isValue()
}

type scalarKind uint8

const (
	scalarNull scalarKind = iota
	scalarBool
	scalarNumber
	scalarString
)

// Scalar is a JSON leaf. Numbers keep their literal text so that integers
// beyond float64 precision survive a round trip.
type Scalar struct {
	kind scalarKind
	str  string
	b    bool
}

// Sequence is an ordered list of values.
type Sequence []Value

// Field is one key/value pair of a Mapping.
type Field struct {
	Key   string
	Value Value
}

// Mapping is an ordered set of fields that is not a LocaleObject.
type Mapping []Field

// LocaleObject holds the per-language alternatives of one value.
// A nil De or En means the language key was absent upstream.
type LocaleObject struct {
	De Value
	En Value
}

func (Scalar) isValue()       {}
func (Sequence) isValue()     {}
func (Mapping) isValue()      {}
func (LocaleObject) isValue() {}

func Null() Scalar             { return Scalar{kind: scalarNull} }
func Bool(b bool) Scalar       { return Scalar{kind: scalarBool, b: b} }
func String(s string) Scalar   { return Scalar{kind: scalarString, str: s} }
func Number(lit string) Scalar { return Scalar{kind: scalarNumber, str: lit} }
func Int(n int64) Scalar       { return Number(strconv.FormatInt(n, 10)) }
func Float(f float64) Scalar   { return Number(strconv.FormatFloat(f, 'f', -1, 64)) }

func (s Scalar) IsNull() bool { return s.kind == scalarNull }

// Str returns the string value; ok is false for non-strings.
func (s Scalar) Str() (string, bool) {
	if s.kind != scalarString {
		return "", false
	}
	return s.str, true
}

// Float64 returns the numeric value; ok is false for non-numbers.
func (s Scalar) Float64() (float64, bool) {
	if s.kind != scalarNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(s.str, 64)
	return f, err == nil
}

// Int64 returns the value if it is an integral number.
func (s Scalar) Int64() (int64, bool) {
	if s.kind != scalarNumber {
		return 0, false
	}
	n, err := strconv.ParseInt(s.str, 10, 64)
	return n, err == nil
}

// Get returns the value stored under key.
func (m Mapping) Get(key string) (Value, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Lang returns the alternative for lang, or nil when absent.
func (l LocaleObject) Lang(lang Language) Value {
	switch lang {
	case LangDE:
		return l.De
	case LangEN:
		return l.En
	}
	return nil
}

// Lookup walks a dotted path through nested mappings.
func Lookup(v Value, path string) (Value, bool) {
	cur := v
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		m, ok := cur.(Mapping)
		if !ok {
			return nil, false
		}
		next, ok := m.Get(path[start:i])
		if !ok {
			return nil, false
		}
		cur = next
		start = i + 1
	}
	return cur, true
}

// MarshalJSON encodes a Value tree with mapping order preserved.
func MarshalJSON(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s Scalar) MarshalJSON() ([]byte, error)       { return MarshalJSON(s) }
func (s Sequence) MarshalJSON() ([]byte, error)     { return MarshalJSON(s) }
func (m Mapping) MarshalJSON() ([]byte, error)      { return MarshalJSON(m) }
func (l LocaleObject) MarshalJSON() ([]byte, error) { return MarshalJSON(l) }

func encode(buf *bytes.Buffer, v Value) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case Scalar:
		switch t.kind {
		case scalarNull:
			buf.WriteString("null")
		case scalarBool:
			buf.WriteString(strconv.FormatBool(t.b))
		case scalarNumber:
			buf.WriteString(t.str)
		case scalarString:
			return encodeString(buf, t.str)
		}
	case Sequence:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Mapping:
		buf.WriteByte('{')
		for i, f := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, f.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, f.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case LocaleObject:
		m := Mapping{}
		if t.De != nil {
			m = append(m, Field{Key: string(LangDE), Value: t.De})
		}
		if t.En != nil {
			m = append(m, Field{Key: string(LangEN), Value: t.En})
		}
		return encode(buf, m)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}
