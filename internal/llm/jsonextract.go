package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	errNoJSONObject   = errors.New("no JSON object found in response")
	errUnbalancedJSON = errors.New("unbalanced braces in response JSON")
)

// ExtractJSON returns the first complete JSON object in text. It scans from
// the first '{' to its matching '}', ignoring braces inside strings, then
// removes commas that directly precede a closing '}' or ']'. Anything after
// the object is discarded.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", errNoJSONObject
	}

	depth := 0
	inString := false
	escaped := false
	end := -1

scan:
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
				break scan
			}
		}
	}

	if end == -1 {
		return "", errUnbalancedJSON
	}

	return stripTrailingCommas(text[start : end+1]), nil
}

// stripTrailingCommas drops any comma followed only by whitespace and then a
// closing brace or bracket. String contents are left alone.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}

		if c == '"' {
			inString = true
		}
		if c == ',' && closesNext(s[i+1:]) {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func closesNext(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	return rest != "" && (rest[0] == '}' || rest[0] == ']')
}

// ParseFields extracts and decodes the JSON object in text.
func ParseFields(text string) (Fields, error) {
	jsonStr, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	var fields Fields
	if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return fields, nil
}
