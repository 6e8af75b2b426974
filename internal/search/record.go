package search

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// record is a type-guarded view over a decoded JSON object. Every accessor is
// total: missing or mistyped fields read as the zero value. Accessors that take
// several keys return the first usable one.
type record map[string]any

func decodeRecord(payload []byte) (record, bool) {
	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, false
	}
	return asRecord(root)
}

func asRecord(value any) (record, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	return record(obj), true
}

func (r record) Has(key string) bool {
	value, ok := r[key]
	return ok && value != nil
}

func (r record) String(keys ...string) string {
	for _, key := range keys {
		if value := stringValue(r[key]); value != "" {
			return value
		}
	}
	return ""
}

func (r record) Float(keys ...string) float64 {
	for _, key := range keys {
		if value, ok := floatValue(r[key]); ok {
			return value
		}
	}
	return 0
}

// OptFloat distinguishes "absent" from an explicit zero.
func (r record) OptFloat(keys ...string) *float64 {
	for _, key := range keys {
		if value, ok := floatValue(r[key]); ok {
			return &value
		}
	}
	return nil
}

func (r record) Int(keys ...string) int {
	for _, key := range keys {
		if value, ok := floatValue(r[key]); ok {
			return int(math.Round(value))
		}
	}
	return 0
}

func (r record) Bool(keys ...string) bool {
	value := r.OptBool(keys...)
	return value != nil && *value
}

func (r record) OptBool(keys ...string) *bool {
	for _, key := range keys {
		switch v := r[key].(type) {
		case bool:
			return &v
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return &parsed
			}
		case float64:
			parsed := v != 0
			return &parsed
		}
	}
	return nil
}

// Record returns a nil record (safe to read) when the field is not an object.
func (r record) Record(keys ...string) record {
	for _, key := range keys {
		if obj, ok := asRecord(r[key]); ok {
			return obj
		}
	}
	return nil
}

func (r record) List(keys ...string) []any {
	for _, key := range keys {
		if items, ok := r[key].([]any); ok {
			return items
		}
	}
	return nil
}

// Strings keeps the non-empty scalar entries of a list field.
func (r record) Strings(keys ...string) []string {
	items := r.List(keys...)
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if value := stringValue(item); value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (r record) Ints(keys ...string) []int {
	items := r.List(keys...)
	if len(items) == 0 {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		if value, ok := floatValue(item); ok && value > 0 {
			out = append(out, int(math.Round(value)))
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func floatValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
