// Package model holds the entity types shared across the control plane.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Value is a schema-on-read tagged union for the free-form JSON columns
// (trigger_info, parsed config, matrix_values, outputs, capabilities,
// system_info). The parser/planner produce it; consumers read only the
// paths they know about and ignore the rest.
type Value struct {
	raw interface{}
}

// NewValue wraps an already-decoded Go value (map[string]interface{},
// []interface{}, string, float64, bool, or nil) as a Value.
func NewValue(v interface{}) Value {
	return Value{raw: v}
}

// Raw returns the underlying decoded value.
func (v Value) Raw() interface{} {
	return v.raw
}

// IsNull reports whether the value is JSON null / unset.
func (v Value) IsNull() bool {
	return v.raw == nil
}

// Map returns the value as a map, or ok=false if it isn't one.
func (v Value) Map() (map[string]interface{}, bool) {
	m, ok := v.raw.(map[string]interface{})
	return m, ok
}

// Slice returns the value as a slice, or ok=false if it isn't one.
func (v Value) Slice() ([]interface{}, bool) {
	s, ok := v.raw.([]interface{})
	return s, ok
}

// String returns the value as a string, or "" if it isn't one.
func (v Value) String() string {
	s, _ := v.raw.(string)
	return s
}

// Get walks a dotted path (e.g. "repository.full_name") through nested
// maps and returns the Value found there, or a null Value if any segment
// is missing or not a map.
func (v Value) Get(path string) Value {
	cur := v.raw
	for _, seg := range splitPath(path) {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return Value{}
		}
		cur, ok = m[seg]
		if !ok {
			return Value{}
		}
	}
	return Value{raw: cur}
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &v.raw)
}

// Value implements driver.Valuer so a Value marshals to jsonb transparently.
func (v Value) Value() (driver.Value, error) {
	if v.raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(v.raw)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner so a Value can be read back from a jsonb column.
func (v *Value) Scan(src interface{}) error {
	if src == nil {
		v.raw = nil
		return nil
	}
	var b []byte
	switch t := src.(type) {
	case []byte:
		b = t
	case string:
		b = []byte(t)
	default:
		return fmt.Errorf("unsupported scan type %T for model.Value", src)
	}
	if len(b) == 0 {
		v.raw = nil
		return nil
	}
	return json.Unmarshal(b, &v.raw)
}
