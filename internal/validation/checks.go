package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/llm"
)

var multipleProductIndicators = []string{
	"multiple products",
	"multiple items",
	"several items",
	"several products",
	"two products",
	"two items",
	"two different",
	"more than one",
	"different products",
	"another product",
	"second item",
	"both items",
	"various items",
	"group of items",
	"set of different",
}

// "iPhone and Samsung visible", "a watch & a bracelet are shown"
var visiblePairPattern = regexp.MustCompile(`(?i)\b[\w-]+\s+(?:and|&)\s+(?:an?\s+)?[\w-]+\s+(?:are\s+|is\s+)?(?:both\s+)?(?:visible|shown|present|pictured|in\s+(?:the\s+)?(?:frame|photo|image|picture))`)

var productConjunctionPattern = regexp.MustCompile(`(?i)(?:\s(?:and|&|\+)\s|\s&|&\s)`)

// Brand names containing a conjunction that must not count as two products.
var compoundBrandNames = []string{
	"dolce & gabbana",
	"dolce and gabbana",
	"bang & olufsen",
	"bang and olufsen",
	"abercrombie & fitch",
	"marks & spencer",
	"procter & gamble",
	"johnson & johnson",
	"black & decker",
	"barnes & noble",
	"crabtree & evelyn",
	"smith & wesson",
	"tiffany & co",
	"h&m",
	"at&t",
	"b&o",
	"d&g",
	"m&s",
}

// MultipleProductResult is the outcome of MultipleProductCheck.
type MultipleProductResult struct {
	MultipleDetected bool     `json:"multiple_detected"`
	Indicators       []string `json:"indicators,omitempty"`
}

// CheckMultipleProducts looks for signs that more than one product is in view.
func (e *Engine) CheckMultipleProducts(f llm.Fields) MultipleProductResult {
	var res MultipleProductResult

	for _, key := range []string{"possible_confusion", "clarity_feedback"} {
		text := strings.ToLower(f.String(key))
		if text == "" {
			continue
		}
		for _, phrase := range multipleProductIndicators {
			if strings.Contains(text, phrase) {
				res.Indicators = append(res.Indicators, fmt.Sprintf("%s mentions %q", key, phrase))
			}
		}
		if m := visiblePairPattern.FindString(f.String(key)); m != "" {
			res.Indicators = append(res.Indicators, fmt.Sprintf("%s mentions %q", key, m))
		}
	}

	if product := f.String("identified_product"); product != "" {
		stripped := stripBrandNames(product, f.String("brand"))
		if productConjunctionPattern.MatchString(stripped) {
			res.Indicators = append(res.Indicators, fmt.Sprintf("identified_product %q names more than one item", product))
		}
	}

	res.MultipleDetected = len(res.Indicators) > 0
	return res
}

func stripBrandNames(product, brand string) string {
	s := strings.ToLower(product)
	if b := strings.ToLower(strings.TrimSpace(brand)); b != "" {
		s = strings.ReplaceAll(s, b, " ")
	}
	for _, name := range compoundBrandNames {
		s = strings.ReplaceAll(s, name, " ")
	}
	return s
}

type clarityRule struct {
	keywords   []string
	suggestion string
}

var clarityRules = []clarityRule{
	{[]string{"blurry", "blurred", "out of focus", "motion blur"}, "Hold the camera steady and tap to focus before taking the photo"},
	{[]string{"too dark", "poorly lit", "underexposed", "low light", "dim lighting"}, "Retake the photos in brighter, even lighting"},
	{[]string{"glare", "reflection", "overexposed"}, "Avoid direct light sources to reduce glare and reflections"},
	{[]string{"unclear", "not clear", "hard to see", "difficult to see", "illegible", "unreadable"}, "Take a close-up photo of the brand logo and model label"},
	{[]string{"cropped", "cut off", "partially visible", "obstructed", "obscured"}, "Make sure the whole item is visible in the frame"},
	{[]string{"low resolution", "pixelated", "grainy"}, "Use a higher resolution photo"},
	{[]string{"too far", "too small", "far away"}, "Move closer so the item fills most of the frame"},
}

var defaultClaritySuggestions = []string{
	"Take photos in good, even lighting",
	"Add a close-up of the branding or model label",
	"Photograph the item from several angles",
}

// ClarityResult is the outcome of ClarityCheck.
type ClarityResult struct {
	Unclear     bool     `json:"unclear"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// CheckClarity flags low confidence or image quality complaints in the
// model's feedback.
func (e *Engine) CheckClarity(f llm.Fields) ClarityResult {
	var res ClarityResult
	var suggestions suggestionSet

	score, _ := f.Int("confidence_score")
	if score < e.cfg.ClarityMinConfidence {
		res.Issues = append(res.Issues, fmt.Sprintf("confidence %d is below %d", score, e.cfg.ClarityMinConfidence))
	}

	feedback := strings.ToLower(f.String("clarity_feedback"))
	for _, rule := range clarityRules {
		for _, kw := range rule.keywords {
			if strings.Contains(feedback, kw) {
				res.Issues = append(res.Issues, fmt.Sprintf("image feedback mentions %q", kw))
				suggestions.add(rule.suggestion)
				break
			}
		}
	}

	res.Unclear = len(res.Issues) > 0
	if res.Unclear {
		if len(suggestions.items) == 0 {
			suggestions.add(defaultClaritySuggestions...)
		}
		res.Suggestions = suggestions.items
	}
	return res
}

// ThresholdResult is the outcome of ConfidenceThresholdCheck.
type ThresholdResult struct {
	Passes   bool `json:"passes"`
	Score    int  `json:"score"`
	Required int  `json:"required"`
}

// CheckConfidenceThreshold compares confidence_score with the category minimum.
// A missing or non-numeric score counts as 0.
func (e *Engine) CheckConfidenceThreshold(f llm.Fields, category detection.Category) ThresholdResult {
	score, _ := f.Int("confidence_score")
	required := e.RequiredConfidence(category)
	return ThresholdResult{
		Passes:   score >= required,
		Score:    score,
		Required: required,
	}
}

var contradictionKeywords = []string{
	"contradict",
	"does not match",
	"doesn't match",
	"do not match",
	"don't match",
	"mismatch",
	"inconsistent",
	"differs from",
	"different from the description",
	"not what the user described",
}

// ContradictionResult is the outcome of ContradictionCheck.
type ContradictionResult struct {
	Contradiction bool     `json:"contradiction"`
	Reasons       []string `json:"reasons,omitempty"`
}

// CheckContradiction looks for disagreement between the user's text and the
// images, either reported through text_image_match or described in prose.
func (e *Engine) CheckContradiction(f llm.Fields) ContradictionResult {
	var res ContradictionResult

	if match, ok := f.Bool("text_image_match"); ok && !match {
		res.Reasons = append(res.Reasons, "model reported that the description does not match the images")
	}

	for _, key := range []string{"contradiction_notes", "clarity_feedback", "possible_confusion"} {
		text := strings.ToLower(f.String(key))
		if text == "" {
			continue
		}
		for _, kw := range contradictionKeywords {
			if strings.Contains(text, kw) {
				res.Reasons = append(res.Reasons, fmt.Sprintf("%s mentions %q", key, kw))
				break
			}
		}
	}

	res.Contradiction = len(res.Reasons) > 0
	return res
}
