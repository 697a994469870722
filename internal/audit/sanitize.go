package audit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

const (
	maskedValue     = "***"
	maxValueLength  = 1000
	truncatedSuffix = "... (truncated)"
	timestampLayout = "2006-01-02 15:04:05"
)

// SanitizeValues prepares change values for storage. Keys mentioning a
// password or token are masked, times are formatted, nested values become
// JSON strings and long strings are truncated.
func SanitizeValues(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "password") || strings.Contains(lower, "token") {
			out[key] = maskedValue
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

func sanitizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return v.Format(timestampLayout)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.Format(timestampLayout)
	case string:
		return truncate(v)
	case fmt.Stringer:
		return truncate(v.String())
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return truncate(string(data))
	}
	return value
}

func truncate(s string) string {
	if len(s) <= maxValueLength {
		return s
	}
	return s[:maxValueLength] + truncatedSuffix
}

// Changes returns only the keys of next whose value differs from prev, as a
// pair of (old, new) maps. Both are empty when nothing changed.
func Changes(prev, next map[string]any) (map[string]any, map[string]any) {
	oldValues := make(map[string]any)
	newValues := make(map[string]any)
	for key, nv := range next {
		ov := prev[key]
		if reflect.DeepEqual(normalizeForCompare(ov), normalizeForCompare(nv)) {
			continue
		}
		oldValues[key] = ov
		newValues[key] = nv
	}
	return oldValues, newValues
}

func normalizeForCompare(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(timestampLayout)
	}
	return v
}
