// Package marketplace is a client for a structured marketplace search API
// (eBay Browse style) authenticated with OAuth2 client credentials.
package marketplace

import (
	"errors"
	"time"
)

const (
	DefaultBaseURL  = "https://api.ebay.com"
	DefaultTokenURL = "https://api.ebay.com/identity/v1/oauth2/token"
	DefaultScope    = "https://api.ebay.com/oauth/api_scope"

	searchPath = "/buy/browse/v1/item_summary/search"

	marketplaceHeader = "X-EBAY-C-MARKETPLACE-ID"
)

// ErrUnauthorized is returned when the service rejects the credentials.
var ErrUnauthorized = errors.New("marketplace: unauthorized")

// Config configures a Client.
type Config struct {
	BaseURL       string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Scopes        []string
	MarketplaceID string

	// RequestsPerSecond throttles search requests. 0 disables throttling.
	RequestsPerSecond float64

	// TokenRefreshMargin is how long before expiry a token is replaced.
	TokenRefreshMargin time.Duration

	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns production endpoints and conservative limits.
func DefaultConfig() Config {
	return Config{
		BaseURL:            DefaultBaseURL,
		TokenURL:           DefaultTokenURL,
		Scopes:             []string{DefaultScope},
		MarketplaceID:      "EBAY_US",
		RequestsPerSecond:  5,
		TokenRefreshMargin: 60 * time.Second,
		Timeout:            15 * time.Second,
		MaxRetries:         2,
	}
}

// Price is a listing price. Value is kept exactly as the service sent it.
type Price struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Category is a marketplace category reference on a listing.
type Category struct {
	CategoryID   string `json:"categoryId"`
	CategoryName string `json:"categoryName"`
}

// Item is one search result.
type Item struct {
	ID          string   `json:"itemId"`
	Title       string   `json:"title"`
	Price       Price    `json:"price"`
	Condition   string   `json:"condition"`
	CategoryIDs []string `json:"-"`
	URL         string   `json:"itemWebUrl"`
}

type itemSummary struct {
	ItemID     string     `json:"itemId"`
	Title      string     `json:"title"`
	Price      *Price     `json:"price"`
	Condition  string     `json:"condition"`
	Categories []Category `json:"categories"`
	ItemWebURL string     `json:"itemWebUrl"`
}

type searchResponse struct {
	Total         int           `json:"total"`
	ItemSummaries []itemSummary `json:"itemSummaries"`
}

type errorResponse struct {
	Errors []struct {
		ErrorID int    `json:"errorId"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (s itemSummary) toItem() Item {
	item := Item{
		ID:        s.ItemID,
		Title:     s.Title,
		Condition: s.Condition,
		URL:       s.ItemWebURL,
	}
	if s.Price != nil {
		item.Price = *s.Price
	}
	for _, c := range s.Categories {
		if c.CategoryID != "" {
			item.CategoryIDs = append(item.CategoryIDs, c.CategoryID)
		}
	}
	return item
}
