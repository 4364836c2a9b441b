package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const listSeparator = ", "

// ListToText joins list values with ", " for display in the grid. Nil becomes
// the empty string and values that are already scalar pass through stringified.
func ListToText(v any) string {
	switch list := v.(type) {
	case nil:
		return ""
	case string:
		return list
	case []string:
		return strings.Join(list, listSeparator)
	case []any:
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, Stringify(item))
		}
		return strings.Join(parts, listSeparator)
	default:
		return Stringify(v)
	}
}

// TextToList splits comma-joined text, trimming each fragment and dropping the
// ones that end up empty. The result is never nil.
//
// Commas or surrounding whitespace inside a single entry do not survive a
// ListToText/TextToList round trip.
func TextToList(text string) []string {
	out := make([]string, 0)
	for _, fragment := range strings.Split(text, ",") {
		if fragment = strings.TrimSpace(fragment); fragment != "" {
			out = append(out, fragment)
		}
	}
	return out
}

// TextToListValue is TextToList for untyped grid values; nil yields an empty list.
func TextToListValue(v any) []string {
	if v == nil {
		return []string{}
	}
	return TextToList(Stringify(v))
}

// SanitizePayload prepares a field map for a create or update call. Nil values
// and blank strings are dropped, list fields given as text are split, and
// backend-owned keys (identifier, timestamps) are removed.
func SanitizePayload(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if IsReadOnlyField(key) {
			continue
		}
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		if IsListField(key) && !isList(value) {
			out[key] = TextToListValue(value)
			continue
		}
		out[key] = value
	}
	return out
}

// Stringify renders a grid value the way the diff engine compares it.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []string, []any:
		return ListToText(val)
	default:
		return fmt.Sprint(val)
	}
}

func isList(v any) bool {
	switch v.(type) {
	case []string, []any:
		return true
	}
	return false
}
