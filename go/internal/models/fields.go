package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Int64Field reads an integral number from a document field.
// Documents round-trip through JSON and protobuf Structs, so numbers may arrive
// as float64, json.Number or numeric text.
func Int64Field(fields map[string]any, key string) (int64, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return 0, false
	}
	return ToInt64(v)
}

// ToInt64 converts a loosely typed document value to an int64
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}
