package llm

import (
	"fmt"
	"strings"

	"github.com/lithammer/dedent"
	"github.com/raine/item-appraiser/internal/detection"
)

func formatPrompt(text string, a ...any) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(text)), a...)
}

func userTextBlock(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "The user gave no description."
	}
	return fmt.Sprintf("User description: %q", text)
}

const categoryPrompt = `
	Classify the product shown in the images into exactly one category.

	Categories:
	- electronics: phones, computers, cameras, consoles, audio gear and accessories
	- fashion: clothing, shoes, bags, watches, jewelry and accessories
	- other: anything else

	%s

	Respond in JSON format with these fields:
	- category: one of "electronics", "fashion", "other"
	- confidence: integer 0-100, how sure you are about the category
	- reasoning: one sentence explaining the choice

	Example response:
	{"category": "electronics", "confidence": 92, "reasoning": "A smartphone with a triple camera module is visible."}

	Respond ONLY with the JSON object, no markdown or other text.`

// CategoryPrompt builds the category classification prompt.
func CategoryPrompt(userText string) string {
	return formatPrompt(categoryPrompt, userTextBlock(userText))
}

const identificationPrompt = `
	Identify the product shown in these images. The images show the same item from different angles.
	The item was classified as: %s.

	%s

	Respond in JSON format with these fields:
	- identified_product: full product name, e.g. "Apple iPhone 13 Pro"
	- brand: brand name, empty string if unknown
	- model: model name or number, empty string if unknown
	- color_variants: list of colors visible on the item
	- condition_rating: one of "new", "like_new", "good", "fair", "poor"
	- confidence_score: integer 0-100, how sure you are about the identification
	- estimated_year: release year or range, empty string if unknown
	- short_description: one or two sentences describing the item
	- possible_confusion: note any other products visible or similar products it could be confused with, empty string if none
	- clarity_feedback: describe any image quality problems (blur, darkness, glare, cropping), empty string if none
	- text_image_match: true if the user description matches the images, false if it contradicts them
	- contradiction_notes: explain any mismatch between the description and the images, empty string if none
	%s

	Respond ONLY with the JSON object, no markdown or other text.`

var electronicsFields = []string{
	`- variant: edition or trim, e.g. "Pro Max", empty string if unknown`,
	`- storage_capacity: storage size like "256GB", empty string if not applicable`,
	`- connectivity: list of connectivity features visible or implied`,
	`- serial_visible: true if a serial number or IMEI label is readable`,
}

var fashionFields = []string{
	`- size: size label if readable, empty string if unknown`,
	`- material: main material, e.g. "leather"`,
	`- style: style or product line name`,
	`- authenticity_markers: list of visible markers such as logos, tags, stitching, serial stamps`,
	`- missing_details: list of details you could not see but would need, e.g. "inner label", "serial tag"`,
}

var otherFields = []string{
	`- variant: edition or variant, empty string if unknown`,
	`- dimensions: approximate size if it can be judged, empty string otherwise`,
	`- material: main material if apparent`,
}

// IdentificationPrompt builds the category-specific identification prompt.
func IdentificationPrompt(category detection.Category, userText string) string {
	var extra []string
	switch category {
	case detection.CategoryElectronics:
		extra = electronicsFields
	case detection.CategoryFashion:
		extra = fashionFields
	default:
		extra = otherFields
	}
	return formatPrompt(identificationPrompt, category, userTextBlock(userText), strings.Join(extra, "\n"))
}

const verificationPrompt = `
	Verify the authenticity of the product shown in the images.

	The product was identified as:
	- Product: %s
	- Brand: %s
	- Model: %s
	- Condition: %s
	- Estimated year: %s

	Compare what is visible with the known specifications of this product. Look for signs of counterfeits,
	replaced parts, or mismatched specifications.

	%s

	Respond in JSON format with these fields:
	- authenticity_status: one of "authentic", "likely_authentic", "uncertain", "likely_counterfeit", "counterfeit"
	- verification_confidence: integer 0-100
	- specs_match: true if visible specifications match the identified model
	- warnings: list of short warnings for the buyer or seller, empty list if none
	- authenticity_markers_found: list of markers that support authenticity
	- red_flags: list of details that suggest a counterfeit or mismatch
	- recommended_checks: list of further checks the owner could do

	Respond ONLY with the JSON object, no markdown or other text.`

// VerificationPrompt builds the authenticity verification prompt.
func VerificationPrompt(ident detection.Identification, userText string) string {
	return formatPrompt(verificationPrompt,
		orUnknown(ident.IdentifiedProduct),
		orUnknown(ident.Brand),
		orUnknown(ident.Model),
		orUnknown(ident.ConditionRating),
		orUnknown(ident.EstimatedYear),
		userTextBlock(userText),
	)
}

const priceEstimatePrompt = `
	Estimate the resale price of this second-hand item. Search current listings and recent sales.

	Item: %s
	Brand: %s
	Model: %s
	Condition: %s
	Currency: %s

	Respond in JSON format with these fields:
	- marketplace_ranges: list of objects {"marketplace": name, "min": number, "max": number, "currency": code}
	- recommended_price: single number, the price most likely to sell within two weeks
	- currency: currency code of recommended_price
	- confidence: one of "low", "medium", "high"
	- platform_recommendations: list of objects {"platform": name, "reason": short text}
	- seasonal_guidance: one or two sentences on whether to sell now or wait

	Respond ONLY with the JSON object, no markdown or other text.`

// PriceEstimatePrompt builds the model-estimated pricing prompt.
func PriceEstimatePrompt(ident detection.Identification, currency string) string {
	return formatPrompt(priceEstimatePrompt,
		orUnknown(ident.IdentifiedProduct),
		orUnknown(ident.Brand),
		orUnknown(ident.Model),
		orUnknown(ident.ConditionRating),
		currency,
	)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
