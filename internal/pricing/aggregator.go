package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/marketplace"
	"github.com/rs/zerolog/log"
)

// ErrNoResults is returned when a pricing strategy finds no usable price.
var ErrNoResults = errors.New("no priced marketplace listings found")

// Searcher finds marketplace listings.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]marketplace.Item, error)
}

// Estimator runs a structured inference call.
type Estimator interface {
	CallAndParse(ctx context.Context, prompt string, images []llm.Image, opts llm.Options) (llm.Fields, error)
}

// Config configures an Aggregator.
type Config struct {
	AllowedCategoryIDs []string
	SearchLimit        int
	DefaultCurrency    string
}

// DefaultConfig allows common consumer electronics and clothing categories.
func DefaultConfig() Config {
	return Config{
		AllowedCategoryIDs: []string{
			"9355",   // cell phones & smartphones
			"171485", // tablets & ebook readers
			"177",    // laptops & netbooks
			"112529", // headphones
			"31388",  // digital cameras
			"139971", // video game consoles
			"178893", // smart watches
			"11483",  // men's jeans
			"57989",  // men's shirts
			"63861",  // women's dresses
			"169291", // women's bags & handbags
			"93427",  // men's shoes
			"3034",   // women's shoes
		},
		SearchLimit:     50,
		DefaultCurrency: "USD",
	}
}

// Aggregator implements the structured search and model estimate strategies.
type Aggregator struct {
	cfg       Config
	searcher  Searcher
	estimator Estimator
}

// NewAggregator creates an aggregator. Either collaborator may be nil, in
// which case the corresponding strategy returns an error.
func NewAggregator(cfg Config, searcher Searcher, estimator Estimator) *Aggregator {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 50
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &Aggregator{cfg: cfg, searcher: searcher, estimator: estimator}
}

// MarketResult is the outcome of a structured search.
type MarketResult struct {
	Query string             `json:"query"`
	Items []marketplace.Item `json:"items"`
	Stats Stats              `json:"stats"`
}

// SearchMarket searches listings for parts and aggregates their prices. The
// result is never nil; ErrNoResults is returned alongside zero stats when
// nothing priced remains after filtering.
func (a *Aggregator) SearchMarket(ctx context.Context, parts QueryParts) (*MarketResult, error) {
	result := &MarketResult{
		Query: BuildSearchQuery(parts),
		Stats: Stats{Currency: a.cfg.DefaultCurrency},
	}
	if a.searcher == nil {
		return result, errors.New("marketplace search is not configured")
	}
	if result.Query == "" {
		return result, fmt.Errorf("%w: nothing to search for", ErrNoResults)
	}

	items, err := a.searcher.Search(ctx, result.Query, a.cfg.SearchLimit)
	if err != nil {
		return result, fmt.Errorf("marketplace search failed: %w", err)
	}

	result.Items = FilterAllowed(items, a.cfg.AllowedCategoryIDs)
	result.Stats = ComputeStats(result.Items, a.cfg.DefaultCurrency)

	log.Info().
		Str("query", result.Query).
		Int("found", len(items)).
		Int("allowed", len(result.Items)).
		Int("priced", result.Stats.Count).
		Float64("average", result.Stats.Average).
		Msg("marketplace price search")

	if result.Stats.Count == 0 {
		return result, ErrNoResults
	}
	return result, nil
}

// EstimateInput describes the item for a model estimate.
type EstimateInput struct {
	Identification detection.Identification
	Currency       string
}

// MarketplaceRange is one marketplace's price range from a model estimate.
type MarketplaceRange struct {
	Marketplace string  `json:"marketplace"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Currency    string  `json:"currency"`
}

// ModelEstimate is a model-estimated price. Raw holds the complete response
// for metadata storage.
type ModelEstimate struct {
	RecommendedPrice float64            `json:"recommended_price"`
	Currency         string             `json:"currency"`
	Confidence       string             `json:"confidence"`
	Ranges           []MarketplaceRange `json:"marketplace_ranges"`
	Raw              llm.Fields         `json:"-"`
}

// Stats converts the estimate into price statistics over its ranges. Count is
// the number of marketplaces with a usable range. A recommended price
// overrides the average and widens the range to include it; on its own it
// counts as a single data point.
func (e *ModelEstimate) Stats() Stats {
	stats := Stats{Currency: e.Currency}
	var sum float64
	for _, r := range e.Ranges {
		if r.Max <= 0 || r.Min > r.Max {
			continue
		}
		if stats.Count == 0 || r.Min < stats.Min {
			stats.Min = r.Min
		}
		if r.Max > stats.Max {
			stats.Max = r.Max
		}
		sum += (r.Min + r.Max) / 2
		stats.Count++
	}
	if stats.Count > 0 {
		stats.Min = round2(stats.Min)
		stats.Max = round2(stats.Max)
		stats.Average = round2(sum / float64(stats.Count))
	}
	if e.RecommendedPrice > 0 {
		price := round2(e.RecommendedPrice)
		if stats.Count == 0 {
			stats.Min, stats.Max, stats.Count = price, price, 1
		}
		stats.Min = min(stats.Min, price)
		stats.Max = max(stats.Max, price)
		stats.Average = price
	}
	return stats
}

// EstimateWithModel asks the inference service, with web search, for a
// price estimate. ErrNoResults is returned when the response carries neither
// a recommended price nor a usable range.
func (a *Aggregator) EstimateWithModel(ctx context.Context, in EstimateInput) (*ModelEstimate, error) {
	if a.estimator == nil {
		return nil, errors.New("model estimation is not configured")
	}
	currency := in.Currency
	if currency == "" {
		currency = a.cfg.DefaultCurrency
	}

	fields, err := a.estimator.CallAndParse(ctx, llm.PriceEstimatePrompt(in.Identification, currency), nil, llm.Options{
		ReasoningEffort: llm.EffortMedium,
		Verbosity:       llm.EffortLow,
		WebSearch:       true,
		Stage:           "pricing",
	})
	if err != nil {
		return nil, err
	}

	est := &ModelEstimate{
		Currency:   strings.ToUpper(fields.String("currency")),
		Confidence: strings.ToLower(fields.String("confidence")),
		Raw:        fields,
	}
	if est.Currency == "" {
		est.Currency = currency
	}
	est.RecommendedPrice, _ = fields.Float("recommended_price")
	est.Ranges = parseRanges(fields["marketplace_ranges"], est.Currency)

	if est.Stats().Count == 0 {
		return nil, fmt.Errorf("%w: model estimate has no usable price", ErrNoResults)
	}
	return est, nil
}

func parseRanges(v any, defaultCurrency string) []MarketplaceRange {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	var out []MarketplaceRange
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		f := llm.Fields(m)
		r := MarketplaceRange{
			Marketplace: f.String("marketplace"),
			Currency:    f.String("currency"),
		}
		r.Min, _ = f.Float("min")
		r.Max, _ = f.Float("max")
		if r.Currency == "" {
			r.Currency = defaultCurrency
		}
		out = append(out, r)
	}
	return out
}
