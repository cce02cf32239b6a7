package llm

import (
	"math"
	"strconv"
	"strings"
)

// Fields is a decoded JSON object returned by the model. Values are advisory:
// numbers and booleans may arrive as strings, so read them through the
// coercing accessors.
type Fields map[string]any

// Has reports whether key is present with a non-nil value.
func (f Fields) Has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

// String returns the value as trimmed text. Numbers and booleans are formatted.
func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Float returns the value as a number. Strings like "85", "85%" or "$1,200"
// are accepted.
func (f Fields) Float(key string) (float64, bool) {
	switch v := f[key].(type) {
	case float64:
		return v, true
	case string:
		return ParseNumber(v)
	default:
		return 0, false
	}
}

// Int returns the value rounded to the nearest integer.
func (f Fields) Int(key string) (int, bool) {
	v, ok := f.Float(key)
	if !ok {
		return 0, false
	}
	return int(math.Round(v)), true
}

// Bool returns the value as a boolean. Accepts true/false, yes/no and 1/0.
func (f Fields) Bool(key string) (bool, bool) {
	switch v := f[key].(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	}
	return false, false
}

// Strings returns a list value. A comma separated string is split.
func (f Fields) Strings(key string) []string {
	var out []string
	switch v := f[key].(type) {
	case []any:
		for _, item := range v {
			s := Fields{"v": item}.String("v")
			if s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Len returns the number of non-empty entries Strings would return.
func (f Fields) Len(key string) int {
	return len(f.Strings(key))
}

// ParseNumber parses model-formatted numeric text, ignoring a leading
// currency symbol, thousands separators and a trailing percent sign.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
