// Package metadata stores schema-free attributes returned by pipeline stages
// as typed entity-attribute-value rows.
package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ValueType tags how an attribute value is encoded.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeNumber  ValueType = "number"
	TypeBoolean ValueType = "boolean"
	TypeJSON    ValueType = "json"
)

// ParseValueType converts a stored tag into a ValueType.
func ParseValueType(s string) (ValueType, error) {
	switch t := ValueType(s); t {
	case TypeString, TypeNumber, TypeBoolean, TypeJSON:
		return t, nil
	default:
		return "", fmt.Errorf("unknown value type %q", s)
	}
}

// Source tags which stage wrote an attribute.
type Source string

const (
	SourceIdentification Source = "identification"
	SourceVerification   Source = "verification"
	SourcePricing        Source = "pricing"
	SourceUserEdit       Source = "user_edit"
	SourceMigration      Source = "migration"
)

// Attribute is one stored key/value pair of a detection.
type Attribute struct {
	DetectionID string
	Key         string
	Value       string
	ValueType   ValueType
	Category    string
	Source      Source
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Decode returns the attribute value in its original shape.
func (a Attribute) Decode() (any, error) {
	return DecodeValue(a.Value, a.ValueType)
}

// EncodeValue converts v to its text form and type tag. Strings, booleans
// and numbers are stored as-is; anything else is stored as JSON.
func EncodeValue(v any) (string, ValueType, error) {
	switch x := v.(type) {
	case string:
		return x, TypeString, nil
	case bool:
		return strconv.FormatBool(x), TypeBoolean, nil
	case float64:
		return encodeFloat(x)
	case float32:
		return encodeFloat(float64(x))
	case int:
		return strconv.FormatInt(int64(x), 10), TypeNumber, nil
	case int32:
		return strconv.FormatInt(int64(x), 10), TypeNumber, nil
	case int64:
		return strconv.FormatInt(x, 10), TypeNumber, nil
	case json.Number:
		if _, err := x.Float64(); err != nil {
			return "", "", fmt.Errorf("invalid number %q: %w", x, err)
		}
		return x.String(), TypeNumber, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode value as JSON: %w", err)
		}
		return string(data), TypeJSON, nil
	}
}

func encodeFloat(f float64) (string, ValueType, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", "", fmt.Errorf("cannot store non-finite number %v", f)
	}
	return strconv.FormatFloat(f, 'g', -1, 64), TypeNumber, nil
}

// DecodeValue reverses EncodeValue. Numbers decode to float64 and JSON to
// the generic encoding/json shapes.
func DecodeValue(raw string, t ValueType) (any, error) {
	switch t {
	case TypeString:
		return raw, nil
	case TypeNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stored number %q: %w", raw, err)
		}
		return f, nil
	case TypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid stored boolean %q: %w", raw, err)
		}
		return b, nil
	case TypeJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid stored JSON: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", t)
	}
}
