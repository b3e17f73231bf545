package state

import (
	"fmt"
	"reflect"
)

// Type is the declared type of a state cell.
type Type string

// Supported cell types. TypeAny performs no coercion.
const (
	TypeAny     Type = ""
	TypeNumber  Type = "number"
	TypeString  Type = "string"
	TypeBoolean Type = "boolean"
)

// Valid reports whether t is a known cell type.
func (t Type) Valid() bool {
	switch t {
	case TypeAny, TypeNumber, TypeString, TypeBoolean:
		return true
	default:
		return false
	}
}

// Spec describes one cell a plugin exposes.
type Spec struct {
	Key     string `yaml:"key" json:"key"`
	Type    Type   `yaml:"type" json:"type,omitempty"`
	Default any    `yaml:"default" json:"default,omitempty"`

	// Serialized cells are persisted and restored across restarts.
	Serialized bool `yaml:"serialized" json:"serialized,omitempty"`
}

// zero returns the default value for a spec with no explicit Default.
func (s Spec) zero() any {
	switch s.Type {
	case TypeNumber:
		return float64(0)
	case TypeString:
		return ""
	case TypeBoolean:
		return false
	default:
		return nil
	}
}

// coerce converts v to the representation stored for type t.
// Every integer and float kind becomes float64 so that 22 and 22.0 compare equal.
func coerce(t Type, v any) (any, error) {
	if v == nil {
		if t == TypeAny {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: nil is not a %s", ErrTypeMismatch, t)
	}

	switch t {
	case TypeNumber:
		f, ok := ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a number", ErrTypeMismatch, v)
		}
		return f, nil
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a string", ErrTypeMismatch, v)
		}
		return s, nil
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a boolean", ErrTypeMismatch, v)
		}
		return b, nil
	default:
		if f, ok := ToFloat(v); ok {
			return f, nil
		}
		return v, nil
	}
}

// ToFloat converts any Go numeric kind to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Equal reports whether two state values are the same.
// Numbers compare by value regardless of their Go kind.
func Equal(a, b any) bool {
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		return ok && fa == fb
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta == tb && ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two numbers or two strings.
// The boolean is false when the values are not mutually ordered.
func Compare(a, b any) (int, bool) {
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}

	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	switch {
	case sa < sb:
		return -1, true
	case sa > sb:
		return 1, true
	default:
		return 0, true
	}
}
