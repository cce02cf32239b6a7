package pricing

import (
	"math"

	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/marketplace"
)

// Stats summarizes the numeric prices of a set of listings.
type Stats struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Average  float64 `json:"average"`
	Count    int     `json:"count"`
	Currency string  `json:"currency"`
}

// FilterAllowed keeps items with at least one category id in allowList. An
// empty allowList keeps everything.
func FilterAllowed(items []marketplace.Item, allowList []string) []marketplace.Item {
	if len(allowList) == 0 {
		return items
	}
	allowed := make(map[string]bool, len(allowList))
	for _, id := range allowList {
		allowed[id] = true
	}

	var out []marketplace.Item
	for _, item := range items {
		for _, id := range item.CategoryIDs {
			if allowed[id] {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// ComputeStats aggregates numeric prices. Non-numeric prices are skipped and
// not counted. With no numeric prices all values are zero. The currency is
// taken from the first priced item, falling back to defaultCurrency.
func ComputeStats(items []marketplace.Item, defaultCurrency string) Stats {
	stats := Stats{Currency: defaultCurrency}

	var sum float64
	for _, item := range items {
		v, ok := llm.ParseNumber(item.Price.Value)
		if !ok {
			continue
		}
		if stats.Count == 0 {
			stats.Min, stats.Max = v, v
			if item.Price.Currency != "" {
				stats.Currency = item.Price.Currency
			}
		}
		stats.Min = math.Min(stats.Min, v)
		stats.Max = math.Max(stats.Max, v)
		sum += v
		stats.Count++
	}

	if stats.Count == 0 {
		return stats
	}

	stats.Min = round2(stats.Min)
	stats.Max = round2(stats.Max)
	stats.Average = round2(sum / float64(stats.Count))
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
