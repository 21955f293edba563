package catalog

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

func asRecord(v any) (Record, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, m != nil
	default:
		return nil, false
	}
}

func asList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []Record:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out
	case []string:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out
	default:
		return nil
	}
}

// field returns raw[key] when key is non-empty and present with a non-nil value.
func field(raw Record, key string) (any, bool) {
	if raw == nil || key == "" {
		return nil, false
	}
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func record(raw Record, key string) Record {
	v, _ := field(raw, key)
	r, _ := asRecord(v)
	return r
}

func list(raw Record, key string) []any {
	v, _ := field(raw, key)
	return asList(v)
}

func firstRecord(raw Record, key string) Record {
	for _, item := range list(raw, key) {
		if r, ok := asRecord(item); ok {
			return r
		}
	}
	return nil
}

// firstString returns the first non-empty string among raw[keys...].
func firstString(raw Record, keys ...string) string {
	for _, key := range keys {
		if v, ok := field(raw, key); ok {
			if s := toString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstNumber returns the coerced value of the first present key among raw[keys...].
func firstNumber(raw Record, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := field(raw, key); ok {
			return toFloat(v), true
		}
	}
	return 0, false
}

// toFloat coerces numbers and numeric strings. Anything else, NaN and ±Inf become 0.
func toFloat(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func toInt(v any) int {
	f := toFloat(v)
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0
	}
	return int(f)
}

// toString renders scalars as trimmed strings; integral numbers print without a fraction.
func toString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	case float64, float32, int, int32, int64:
		f := toFloat(s)
		return strconv.FormatFloat(f, 'f', -1, 64)
	default:
		return ""
	}
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	case float64:
		return b != 0, true
	case int:
		return b != 0, true
	default:
		return false, false
	}
}

// idString renders upstream identifiers. Zero means "no parent" in nopCommerce, so zero IDs become "".
func idString(v any) string {
	s := toString(v)
	if s == "0" {
		return ""
	}
	return s
}
