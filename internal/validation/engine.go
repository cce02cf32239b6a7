// Package validation implements the heuristic checks that gate progression
// from identification to verification and pricing. The checks are pure
// functions over model output and are expected to produce both false
// positives and false negatives.
package validation

import (
	"strings"

	"github.com/raine/item-appraiser/internal/detection"
)

// ErrorType classifies a validation failure.
type ErrorType string

const (
	ErrLowConfidence         ErrorType = "low_confidence"
	ErrMultipleProducts      ErrorType = "multiple_products"
	ErrUnclearImages         ErrorType = "unclear_images"
	ErrContradiction         ErrorType = "contradiction"
	ErrMissingBrand          ErrorType = "missing_brand"
	ErrTooManyMissingDetails ErrorType = "too_many_missing_details"
)

// Error is one failed check.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// Result is the aggregate outcome of a validation pass. An invalid Result is
// not an error: the caller halts and shows Errors and Suggestions.
type Result struct {
	Valid       bool     `json:"valid"`
	Errors      []Error  `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// HasError reports whether r contains an error of type t.
func (r Result) HasError(t ErrorType) bool {
	for _, e := range r.Errors {
		if e.Type == t {
			return true
		}
	}
	return false
}

// Config holds thresholds for the checks.
type Config struct {
	// MinConfidence is the minimum identification confidence per category.
	MinConfidence map[detection.Category]int

	// ClarityMinConfidence flags images as unclear below this score.
	ClarityMinConfidence int

	// CategoryWarnConfidence produces a warning (not an error) when the
	// category confidence is below it.
	CategoryWarnConfidence int

	FashionRequireBrand      bool
	FashionMaxMissingDetails int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinConfidence: map[detection.Category]int{
			detection.CategoryElectronics: 50,
			detection.CategoryFashion:     40,
			detection.CategoryOther:       40,
		},
		ClarityMinConfidence:     50,
		CategoryWarnConfidence:   60,
		FashionRequireBrand:      true,
		FashionMaxMissingDetails: 5,
	}
}

// Engine runs validation checks with a fixed configuration.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine. Missing per-category thresholds fall back to
// the defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	thresholds := make(map[detection.Category]int, len(def.MinConfidence))
	for c, v := range def.MinConfidence {
		thresholds[c] = v
	}
	for c, v := range cfg.MinConfidence {
		thresholds[c] = v
	}
	cfg.MinConfidence = thresholds
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// RequiredConfidence returns the minimum identification confidence for c.
// Unknown categories use the threshold for "other".
func (e *Engine) RequiredConfidence(c detection.Category) int {
	if v, ok := e.cfg.MinConfidence[c]; ok {
		return v
	}
	return e.cfg.MinConfidence[detection.CategoryOther]
}

// suggestionSet merges suggestions in first-seen order, dropping
// case-insensitive duplicates.
type suggestionSet struct {
	seen  map[string]bool
	items []string
}

func (s *suggestionSet) add(items ...string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || s.seen[key] {
			continue
		}
		s.seen[key] = true
		s.items = append(s.items, item)
	}
}
