package mqttbridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/cuebox/internal/infrastructure/mqtt"
	"github.com/nerrad567/cuebox/internal/state"
)

// Binding copies messages on Topic into the state cell Key.
type Binding struct {
	Topic string
	Key   string
	Type  state.Type

	// Field is a dot-separated path into a JSON payload. Empty uses the
	// whole payload.
	Field string
}

// Validate checks that the binding is usable.
func (b Binding) Validate() error {
	if b.Topic == "" || b.Key == "" {
		return fmt.Errorf("%w: topic and key are required", ErrInvalidBinding)
	}
	if err := mqtt.ValidateFilter(b.Topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBinding, err)
	}
	if !b.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidBinding, b.Type)
	}
	return nil
}

// Value extracts the binding's value from a payload.
func (b Binding) Value(payload []byte) (any, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		if b.Field != "" {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
		// Plain text payload.
		v = string(payload)
	}

	if b.Field != "" {
		var ok bool
		if v, ok = lookup(v, b.Field); !ok {
			return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, b.Field)
		}
	}
	return convert(b.Type, v)
}

func lookup(v any, path string) (any, bool) {
	for _, part := range strings.Split(path, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		if v, ok = m[part]; !ok {
			return nil, false
		}
	}
	return v, true
}

// convert turns a decoded payload into the representation of type t.
// Strings are parsed for number and boolean cells.
func convert(t state.Type, v any) (any, error) {
	switch t {
	case state.TypeNumber:
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", s)
			}
			return f, nil
		}
		return v, nil
	case state.TypeBoolean:
		if s, ok := v.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "on", "yes":
				return true, nil
			case "off", "no":
				return false, nil
			}
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("%q is not a boolean", s)
			}
			return b, nil
		}
		if f, ok := state.ToFloat(v); ok {
			return f != 0, nil
		}
		return v, nil
	case state.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return v, nil
	}
}
