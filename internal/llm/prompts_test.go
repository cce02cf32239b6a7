package llm

import (
	"strings"
	"testing"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/stretchr/testify/assert"
)

func TestIdentificationPrompt_CategoryFields(t *testing.T) {
	fashion := IdentificationPrompt(detection.CategoryFashion, "Gucci bag")
	assert.Contains(t, fashion, "missing_details")
	assert.Contains(t, fashion, `"Gucci bag"`)
	assert.NotContains(t, fashion, "storage_capacity")

	electronics := IdentificationPrompt(detection.CategoryElectronics, "")
	assert.Contains(t, electronics, "storage_capacity")
	assert.Contains(t, electronics, "no description")
	assert.False(t, strings.HasPrefix(electronics, "\t"))

	for _, line := range strings.Split(electronics, "\n") {
		assert.False(t, strings.HasPrefix(line, "\t"), "indented line: %q", line)
	}
}

func TestPromptsHaveDistinctOpenings(t *testing.T) {
	ident := detection.Identification{Brand: "Apple"}
	prompts := []string{
		CategoryPrompt(""),
		IdentificationPrompt(detection.CategoryOther, ""),
		VerificationPrompt(ident, ""),
		PriceEstimatePrompt(ident, "USD"),
	}
	seen := map[string]bool{}
	for _, p := range prompts {
		first := strings.SplitN(p, " ", 2)[0]
		assert.False(t, seen[first], "duplicate opening %q", first)
		seen[first] = true
	}
	assert.Contains(t, VerificationPrompt(ident, ""), "Model: unknown")
}
