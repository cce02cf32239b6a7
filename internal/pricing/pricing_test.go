package pricing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/marketplace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name  string
		parts QueryParts
		want  string
	}{
		{
			name:  "fixed precedence",
			parts: QueryParts{Condition: "used", Size: "M", Storage: "128GB", Variant: "Pro", Model: "iPhone 13", Brand: "Apple"},
			want:  "Apple iPhone 13 Pro 128GB M used",
		},
		{
			name:  "placeholders dropped",
			parts: QueryParts{Brand: "Sony", Model: "WH-1000XM4", Variant: "Unknown", Storage: "none", Size: "N/A", Condition: "-"},
			want:  "Sony WH-1000XM4",
		},
		{
			name:  "whitespace collapsed",
			parts: QueryParts{Brand: "  Levi's ", Model: "501\tOriginal"},
			want:  "Levi's 501 Original",
		},
		{
			name:  "empty",
			parts: QueryParts{Brand: "unknown"},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildSearchQuery(tt.parts))
		})
	}
}

func TestBuildSearchQuery_Capped(t *testing.T) {
	q := BuildSearchQuery(QueryParts{Brand: "Brand", Model: strings.Repeat("word ", 60)})
	assert.LessOrEqual(t, len(q), 200)
	assert.False(t, strings.HasSuffix(q, " "))
	assert.True(t, strings.HasSuffix(q, "word"))
}

func TestBuildSearchQuery_CappedMultibyte(t *testing.T) {
	q := BuildSearchQuery(QueryParts{Brand: strings.Repeat("日", 250)})
	assert.True(t, utf8.ValidString(q))
	assert.Equal(t, 200, utf8.RuneCountInString(q))

	short := strings.Repeat("日", 100)
	assert.Equal(t, short, BuildSearchQuery(QueryParts{Brand: short}))
}

func priced(values ...string) []marketplace.Item {
	items := make([]marketplace.Item, len(values))
	for i, v := range values {
		items[i] = marketplace.Item{Price: marketplace.Price{Value: v, Currency: "USD"}, CategoryIDs: []string{"9355"}}
	}
	return items
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats(priced("100", "150.5", "N/A", "200"), "EUR")
	assert.Equal(t, Stats{Min: 100, Max: 200, Average: 150.17, Count: 3, Currency: "USD"}, stats)
}

func TestComputeStats_NoNumericPrices(t *testing.T) {
	assert.Equal(t, Stats{Currency: "EUR"}, ComputeStats(nil, "EUR"))
	assert.Equal(t, Stats{Currency: "EUR"}, ComputeStats(priced("N/A", ""), "EUR"))
}

func TestFilterAllowed(t *testing.T) {
	items := []marketplace.Item{
		{ID: "a", CategoryIDs: []string{"9355"}},
		{ID: "b", CategoryIDs: []string{"1", "177"}},
		{ID: "c", CategoryIDs: []string{"99"}},
		{ID: "d"},
	}

	got := FilterAllowed(items, []string{"9355", "177"})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	assert.Len(t, FilterAllowed(items, nil), 4)
}

type fakeSearcher struct {
	items []marketplace.Item
	err   error
	query string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]marketplace.Item, error) {
	f.query = query
	return f.items, f.err
}

func TestSearchMarket(t *testing.T) {
	searcher := &fakeSearcher{items: append(priced("100", "150.5", "N/A", "200"), marketplace.Item{
		Price: marketplace.Price{Value: "5"}, CategoryIDs: []string{"1"},
	})}
	agg := NewAggregator(Config{AllowedCategoryIDs: []string{"9355"}}, searcher, nil)

	res, err := agg.SearchMarket(context.Background(), QueryParts{Brand: "Apple", Model: "iPhone 13"})
	require.NoError(t, err)
	assert.Equal(t, "Apple iPhone 13", searcher.query)
	assert.Len(t, res.Items, 4)
	assert.Equal(t, 3, res.Stats.Count)
	assert.Equal(t, 150.17, res.Stats.Average)
}

func TestSearchMarket_Failures(t *testing.T) {
	t.Run("no results", func(t *testing.T) {
		agg := NewAggregator(Config{}, &fakeSearcher{}, nil)
		res, err := agg.SearchMarket(context.Background(), QueryParts{Brand: "Apple"})
		assert.ErrorIs(t, err, ErrNoResults)
		require.NotNil(t, res)
		assert.Zero(t, res.Stats.Count)
	})

	t.Run("unauthorized", func(t *testing.T) {
		agg := NewAggregator(Config{}, &fakeSearcher{err: marketplace.ErrUnauthorized}, nil)
		res, err := agg.SearchMarket(context.Background(), QueryParts{Brand: "Apple"})
		assert.ErrorIs(t, err, marketplace.ErrUnauthorized)
		assert.NotNil(t, res)
	})

	t.Run("not configured", func(t *testing.T) {
		agg := NewAggregator(Config{}, nil, nil)
		res, err := agg.SearchMarket(context.Background(), QueryParts{Brand: "Apple"})
		assert.Error(t, err)
		assert.NotNil(t, res)
	})
}

type fakeEstimator struct {
	fields llm.Fields
	err    error
	opts   llm.Options
	prompt string
}

func (f *fakeEstimator) CallAndParse(_ context.Context, prompt string, _ []llm.Image, opts llm.Options) (llm.Fields, error) {
	f.prompt = prompt
	f.opts = opts
	return f.fields, f.err
}

func TestEstimateWithModel(t *testing.T) {
	est := &fakeEstimator{fields: llm.Fields{
		"marketplace_ranges": []any{
			map[string]any{"marketplace": "eBay", "min": float64(380), "max": float64(450), "currency": "USD"},
			map[string]any{"marketplace": "Facebook", "min": "350", "max": "$420"},
			"garbage",
		},
		"recommended_price":        "$410",
		"currency":                 "usd",
		"confidence":               "High",
		"platform_recommendations": []any{map[string]any{"platform": "eBay", "reason": "largest audience"}},
		"seasonal_guidance":        "Sell before the new model launches.",
	}}
	agg := NewAggregator(Config{}, nil, est)

	got, err := agg.EstimateWithModel(context.Background(), EstimateInput{
		Identification: detection.Identification{IdentifiedProduct: "iPhone 13", Brand: "Apple"},
	})
	require.NoError(t, err)
	assert.True(t, est.opts.WebSearch)
	assert.Contains(t, est.prompt, "Currency: USD")
	assert.Equal(t, 410.0, got.RecommendedPrice)
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, "high", got.Confidence)
	require.Len(t, got.Ranges, 2)
	assert.Equal(t, MarketplaceRange{Marketplace: "Facebook", Min: 350, Max: 420, Currency: "USD"}, got.Ranges[1])
	assert.Equal(t, "Sell before the new model launches.", got.Raw.String("seasonal_guidance"))

	stats := got.Stats()
	assert.Equal(t, 350.0, stats.Min)
	assert.Equal(t, 450.0, stats.Max)
	assert.Equal(t, 410.0, stats.Average)
	assert.Equal(t, 2, stats.Count)
}

func TestEstimateWithModel_Error(t *testing.T) {
	parseErr := &llm.JSONParseError{Raw: "nope", Err: errors.New("no json")}
	agg := NewAggregator(Config{}, nil, &fakeEstimator{err: parseErr})

	_, err := agg.EstimateWithModel(context.Background(), EstimateInput{})
	var target *llm.JSONParseError
	assert.ErrorAs(t, err, &target)
}

func TestEstimateWithModel_RecommendedPriceOnly(t *testing.T) {
	agg := NewAggregator(Config{}, nil, &fakeEstimator{fields: llm.Fields{"recommended_price": float64(340)}})

	got, err := agg.EstimateWithModel(context.Background(), EstimateInput{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Min: 340, Max: 340, Average: 340, Count: 1, Currency: "USD"}, got.Stats())
}

func TestModelEstimateStats_RecommendedOutsideRanges(t *testing.T) {
	est := &ModelEstimate{
		RecommendedPrice: 500,
		Currency:         "USD",
		Ranges:           []MarketplaceRange{{Min: 300, Max: 400}},
	}
	assert.Equal(t, Stats{Min: 300, Max: 500, Average: 500, Count: 1, Currency: "USD"}, est.Stats())
}

func TestEstimateWithModel_NoUsablePrice(t *testing.T) {
	agg := NewAggregator(Config{}, nil, &fakeEstimator{fields: llm.Fields{
		"confidence":         "low",
		"marketplace_ranges": []any{map[string]any{"min": float64(50), "max": float64(0)}},
	}})

	got, err := agg.EstimateWithModel(context.Background(), EstimateInput{})
	assert.ErrorIs(t, err, ErrNoResults)
	assert.Nil(t, got)
}
