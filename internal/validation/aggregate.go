package validation

import (
	"fmt"
	"strings"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/llm"
)

var lowConfidenceSuggestions = []string{
	"Add more photos from different angles",
	"Include a close-up of the brand logo or model label",
	"Add a short description of the item",
}

var multipleProductSuggestions = []string{
	"Photograph only one item at a time",
	"Remove other products from the background",
}

var contradictionSuggestions = []string{
	"Check that the description matches the item in the photos",
	"Correct or remove the description and resubmit",
}

// ValidateStage1Comprehensive runs all four checks over an identification
// result. It is valid iff every check passes.
func (e *Engine) ValidateStage1Comprehensive(f llm.Fields, category detection.Category) Result {
	var res Result
	var suggestions suggestionSet

	threshold := e.CheckConfidenceThreshold(f, category)
	if !threshold.Passes {
		res.Errors = append(res.Errors, Error{
			Type:    ErrLowConfidence,
			Message: fmt.Sprintf("identification confidence %d is below the required %d for %s", threshold.Score, threshold.Required, category),
		})
		suggestions.add(lowConfidenceSuggestions...)
	}

	multiple := e.CheckMultipleProducts(f)
	if multiple.MultipleDetected {
		res.Errors = append(res.Errors, Error{
			Type:    ErrMultipleProducts,
			Message: "more than one product appears in the images: " + strings.Join(multiple.Indicators, "; "),
		})
		suggestions.add(multipleProductSuggestions...)
	}

	clarity := e.CheckClarity(f)
	if clarity.Unclear {
		res.Errors = append(res.Errors, Error{
			Type:    ErrUnclearImages,
			Message: "images are not clear enough: " + strings.Join(clarity.Issues, "; "),
		})
		suggestions.add(clarity.Suggestions...)
	}

	contradiction := e.CheckContradiction(f)
	if contradiction.Contradiction {
		res.Errors = append(res.Errors, Error{
			Type:    ErrContradiction,
			Message: "description contradicts the images: " + strings.Join(contradiction.Reasons, "; "),
		})
		suggestions.add(contradictionSuggestions...)
	}

	res.Valid = len(res.Errors) == 0
	res.Suggestions = suggestions.items
	return res
}

var brandPlaceholders = map[string]bool{
	"":        true,
	"unknown": true,
	"n/a":     true,
	"none":    true,
	"null":    true,
	"-":       true,
}

// ValidateFashion is ValidateStage1Comprehensive plus the fashion
// completeness checks: a brand is required (unless disabled) and the number
// of missing_details entries is capped.
func (e *Engine) ValidateFashion(f llm.Fields) Result {
	res := e.ValidateStage1Comprehensive(f, detection.CategoryFashion)
	var suggestions suggestionSet
	suggestions.add(res.Suggestions...)

	if e.cfg.FashionRequireBrand && brandPlaceholders[strings.ToLower(f.String("brand"))] {
		res.Errors = append(res.Errors, Error{
			Type:    ErrMissingBrand,
			Message: "brand could not be identified",
		})
		suggestions.add("Include a close-up of the brand logo, label or tag")
	}

	missing := f.Strings("missing_details")
	if len(missing) > e.cfg.FashionMaxMissingDetails {
		res.Errors = append(res.Errors, Error{
			Type:    ErrTooManyMissingDetails,
			Message: fmt.Sprintf("%d details are missing, at most %d allowed", len(missing), e.cfg.FashionMaxMissingDetails),
		})
		suggestions.add("Add photos showing: " + strings.Join(missing, ", "))
	}

	res.Valid = len(res.Errors) == 0
	res.Suggestions = suggestions.items
	return res
}

// ValidateIdentification picks the validation variant for category.
func (e *Engine) ValidateIdentification(f llm.Fields, category detection.Category) Result {
	if category == detection.CategoryFashion {
		return e.ValidateFashion(f)
	}
	return e.ValidateStage1Comprehensive(f, category)
}

// CategoryValidation is the outcome of ValidateCategoryResponse.
type CategoryValidation struct {
	Valid      bool               `json:"valid"`
	Category   detection.Category `json:"category"`
	Confidence int                `json:"confidence"`
	Errors     []string           `json:"errors,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// ValidateCategoryResponse checks the category stage output. Low confidence
// is only a warning.
func (e *Engine) ValidateCategoryResponse(f llm.Fields) CategoryValidation {
	var res CategoryValidation

	raw := strings.ToLower(f.String("category"))
	if raw == "" {
		res.Errors = append(res.Errors, "missing required field: category")
	} else if c, ok := detection.ParseCategory(raw); ok {
		res.Category = c
	} else {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown category %q", raw))
	}

	if !f.Has("confidence") {
		res.Errors = append(res.Errors, "missing required field: confidence")
	} else if conf, ok := f.Int("confidence"); !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("confidence is not a number: %q", f.String("confidence")))
	} else {
		res.Confidence = min(max(conf, 0), 100)
		if res.Confidence < e.cfg.CategoryWarnConfidence {
			res.Warnings = append(res.Warnings, fmt.Sprintf("category confidence %d is below %d", res.Confidence, e.cfg.CategoryWarnConfidence))
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}
