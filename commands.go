package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/images"
	"github.com/raine/item-appraiser/internal/pipeline"
	"github.com/raine/item-appraiser/internal/storage"
	"github.com/spf13/cobra"
)

// withApp wires the application for a command and closes it afterwards.
func withApp(run func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(ctx, cmd, a, args)
	}
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>...",
	Short: "Start an analysis from image files or URLs",
	Long:  "Uploads the images, detects the category and identifies the item. The run stops at the confidence gate and waits for confirm.",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		owner, _ := cmd.Flags().GetString("owner")

		in := pipeline.StartInput{Text: text}
		if owner != "" {
			in.OwnerID = &owner
		}
		for _, arg := range args {
			img, err := loadImage(ctx, a.downloader, arg)
			if err != nil {
				return err
			}
			in.Images = append(in.Images, img)
		}

		res, err := a.orch.StartAnalysis(ctx, in)
		if err != nil {
			return err
		}
		return printJSON(res)
	}),
}

var categoryCmd = &cobra.Command{
	Use:   "category <detection-id>",
	Short: "Show the detected category",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		res, err := a.orch.CategoryResult(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(res)
	}),
}

var identificationCmd = &cobra.Command{
	Use:   "identification <detection-id>",
	Short: "Show the identification and its attributes",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		res, err := a.orch.IdentificationResult(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(res)
	}),
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <detection-id>",
	Short: "Confirm the identification and run verification and pricing",
	Long:  "Applies --set edits to the identification, then runs verification and pricing concurrently and prints the settled outcome.",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		sets, _ := cmd.Flags().GetStringArray("set")
		edits, err := parseEdits(sets)
		if err != nil {
			return err
		}

		report, err := a.orch.Confirm(ctx, args[0], edits)
		if err != nil {
			return err
		}
		return printJSON(report)
	}),
}

var verifyCmd = &cobra.Command{
	Use:   "verify <detection-id>",
	Short: "Re-run verification of a confirmed detection",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		report, err := a.orch.RunVerification(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(report)
	}),
}

var priceCmd = &cobra.Command{
	Use:   "price <detection-id>",
	Short: "Re-run pricing of a confirmed detection",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		report, err := a.orch.RunPricing(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(report)
	}),
}

var showCmd = &cobra.Command{
	Use:   "show <detection-id>",
	Short: "Show the full detection with all attributes",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		full, err := a.orch.FullRecord(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(full)
	}),
}

// listEntry is the one-line summary printed by list.
type listEntry struct {
	ID           string           `json:"id"`
	Status       detection.Status `json:"status"`
	Category     string           `json:"category,omitempty"`
	Product      string           `json:"product,omitempty"`
	AveragePrice float64          `json:"average_price,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent detections",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		status, _ := cmd.Flags().GetString("status")
		category, _ := cmd.Flags().GetString("category")
		brand, _ := cmd.Flags().GetString("brand")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := storage.DetectionFilter{
			OwnerID:  owner,
			Category: detection.Category(category),
			Brand:    brand,
			Limit:    limit,
		}
		if status != "" {
			s, err := detection.ParseStatus(status)
			if err != nil {
				return err
			}
			filter.Status = s
		}

		recs, err := a.store.ListDetections(ctx, filter)
		if err != nil {
			return err
		}

		entries := make([]listEntry, 0, len(recs))
		for _, r := range recs {
			entries = append(entries, listEntry{
				ID:           r.ID,
				Status:       r.Status,
				Category:     string(r.Category),
				Product:      r.Identification.IdentifiedProduct,
				AveragePrice: r.Pricing.AveragePrice,
				Currency:     r.Pricing.Currency,
				CreatedAt:    r.CreatedAt,
			})
		}
		return printJSON(entries)
	}),
}

func init() {
	analyzeCmd.Flags().String("text", "", "optional description of the item")
	analyzeCmd.Flags().String("owner", "", "owner id stored with the detection")

	confirmCmd.Flags().StringArray("set", nil, "edit a field before confirming (key=value, repeatable)")

	listCmd.Flags().String("owner", "", "filter by owner id")
	listCmd.Flags().String("status", "", "filter by status (pending, category_detected, identified, verified, completed, failed)")
	listCmd.Flags().String("category", "", "filter by category (electronics, fashion, other)")
	listCmd.Flags().String("brand", "", "filter by brand")
	listCmd.Flags().Int("limit", 50, "max number of detections to list")

	rootCmd.AddCommand(analyzeCmd, categoryCmd, identificationCmd, confirmCmd, verifyCmd, priceCmd, showCmd, listCmd)
}

// loadImage reads an image from a local path or an http(s) URL.
func loadImage(ctx context.Context, d *images.Downloader, arg string) (pipeline.ImageInput, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		data, mimeType, err := d.Download(ctx, arg)
		if err != nil {
			return pipeline.ImageInput{}, fmt.Errorf("failed to download %s: %w", arg, err)
		}
		return pipeline.ImageInput{Data: data, MIMEType: mimeType}, nil
	}

	info, err := os.Stat(arg)
	if err != nil {
		return pipeline.ImageInput{}, err
	}
	if info.Size() > d.MaxSize() {
		return pipeline.ImageInput{}, fmt.Errorf("%s is too large: %d bytes (max %d)", arg, info.Size(), d.MaxSize())
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return pipeline.ImageInput{}, err
	}
	return pipeline.ImageInput{Data: data, MIMEType: images.DetectMIME(data)}, nil
}

// parseEdits turns key=value flags into confirmation edits. Values that parse
// as JSON (numbers, booleans, lists) keep that type; anything else is a
// string.
func parseEdits(sets []string) (map[string]any, error) {
	edits := make(map[string]any, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", s)
		}

		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil || v == nil {
			v = value
		}
		edits[key] = v
	}
	return edits, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
