// Package pricing estimates resale prices from structured marketplace
// listings or from a model estimate.
package pricing

import (
	"strings"
)

const maxQueryLength = 200

// QueryParts are the identification fields used to build a search query.
type QueryParts struct {
	Brand     string
	Model     string
	Variant   string
	Storage   string
	Size      string
	Condition string
}

var placeholderValues = map[string]bool{
	"none":    true,
	"unknown": true,
	"n/a":     true,
	"na":      true,
	"null":    true,
	"-":       true,
}

// BuildSearchQuery joins brand, model and variant, then storage and size,
// then condition. Blank and placeholder values are dropped and the result is
// cut to 200 characters on a word boundary.
func BuildSearchQuery(p QueryParts) string {
	var words []string
	for _, part := range []string{p.Brand, p.Model, p.Variant, p.Storage, p.Size, p.Condition} {
		part = strings.Join(strings.Fields(part), " ")
		if part == "" || placeholderValues[strings.ToLower(part)] {
			continue
		}
		words = append(words, part)
	}

	query := strings.Join(words, " ")
	runes := []rune(query)
	if len(runes) <= maxQueryLength {
		return query
	}

	cut := string(runes[:maxQueryLength])
	if i := strings.LastIndexByte(cut, ' '); i > 0 && runes[maxQueryLength] != ' ' {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
