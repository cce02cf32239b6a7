package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/raine/item-appraiser/config"
	"github.com/raine/item-appraiser/internal/marketplace"
	"github.com/raine/item-appraiser/internal/pricing"
)

func main() {
	query := flag.String("q", "", "Search query")
	limit := flag.Int("limit", 20, "Number of results")
	categories := flag.String("categories", "", "Comma separated allowed category ids (empty keeps all)")
	configFile := flag.String("config", "", "Config file")
	rawJSON := flag.Bool("json", false, "Output raw JSON only")
	flag.Parse()

	if *query == "" {
		fmt.Fprintln(os.Stderr, "Error: -q is required")
		os.Exit(2)
	}

	config.LoadEnvFile()
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := marketplace.NewClient(ctx, cfg.MarketplaceClient(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	items, err := client.Search(ctx, *query, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var allowed []string
	if *categories != "" {
		allowed = strings.Split(*categories, ",")
	}
	kept := pricing.FilterAllowed(items, allowed)
	stats := pricing.ComputeStats(kept, cfg.Pricing.Currency)

	if *rawJSON {
		jsonBytes, _ := json.MarshalIndent(map[string]any{"items": kept, "stats": stats}, "", "  ")
		fmt.Println(string(jsonBytes))
		return
	}

	fmt.Printf("Found %d results (%d in allowed categories)\n\n", len(items), len(kept))

	for i, item := range kept {
		price := "N/A"
		if item.Price.Value != "" {
			price = item.Price.Value + " " + item.Price.Currency
		}
		fmt.Printf("%d. %s - %s\n", i+1, item.Title, price)
		if item.Condition != "" {
			fmt.Printf("   %s\n", item.Condition)
		}
	}

	fmt.Printf("\nPriced: %d  Min: %.2f  Avg: %.2f  Max: %.2f %s\n", stats.Count, stats.Min, stats.Average, stats.Max, stats.Currency)
}
