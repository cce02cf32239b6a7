package metadata

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		wantType ValueType
	}{
		{"string", "Space Gray", TypeString},
		{"empty-looking string", "0", TypeString},
		{"integer-valued float", float64(256), TypeNumber},
		{"fraction", 150.17, TypeNumber},
		{"negative", -3.5e-7, TypeNumber},
		{"large", 1.2345678901234567e+21, TypeNumber},
		{"true", true, TypeBoolean},
		{"false", false, TypeBoolean},
		{"list", []any{"USB-C", "Wi-Fi", float64(6)}, TypeJSON},
		{"object", map[string]any{"marketplace": "ebay", "min": float64(100), "nested": map[string]any{"ok": true}}, TypeJSON},
		{"json null inside list", []any{nil, "x"}, TypeJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, vt, err := EncodeValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, vt)

			out, err := DecodeValue(raw, vt)
			require.NoError(t, err)
			assert.Equal(t, tt.in, out)
		})
	}
}

func TestEncodeValue_IntegersDecodeAsFloat(t *testing.T) {
	raw, vt, err := EncodeValue(42)
	require.NoError(t, err)
	assert.Equal(t, TypeNumber, vt)
	assert.Equal(t, "42", raw)

	out, err := DecodeValue(raw, vt)
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)
}

func TestEncodeValue_RejectsNonFinite(t *testing.T) {
	_, _, err := EncodeValue(math.NaN())
	assert.Error(t, err)
	_, _, err = EncodeValue(math.Inf(1))
	assert.Error(t, err)
}

func TestDecodeValue_Errors(t *testing.T) {
	_, err := DecodeValue("abc", TypeNumber)
	assert.Error(t, err)
	_, err = DecodeValue("maybe", TypeBoolean)
	assert.Error(t, err)
	_, err = DecodeValue("{", TypeJSON)
	assert.Error(t, err)
	_, err = DecodeValue("x", ValueType("blob"))
	assert.Error(t, err)
}

func TestParseValueType(t *testing.T) {
	vt, err := ParseValueType("json")
	require.NoError(t, err)
	assert.Equal(t, TypeJSON, vt)

	_, err = ParseValueType("date")
	assert.Error(t, err)
}
