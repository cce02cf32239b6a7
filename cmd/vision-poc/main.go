package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/raine/item-appraiser/config"
	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/images"
	"github.com/raine/item-appraiser/internal/llm"
)

// Runs the category and identification prompts for one image against one or
// both inference backends and prints the parsed fields with token usage.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <image-path> [gemini|anthropic|both]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  GEMINI_API_KEY    - Required for Gemini\n")
		fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY - Required for Anthropic\n")
		os.Exit(1)
	}

	imagePath := os.Args[1]
	provider := "both"
	if len(os.Args) >= 3 {
		provider = os.Args[2]
	}

	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}
	img := llm.Image{Data: imageData, MIMEType: images.DetectMIME(imageData)}

	config.LoadEnvFile()
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()

	switch provider {
	case "gemini":
		runGemini(ctx, cfg, img)
	case "anthropic":
		runAnthropic(ctx, cfg, img)
	case "both":
		runGemini(ctx, cfg, img)
		fmt.Println("\n" + strings.Repeat("-", 50) + "\n")
		runAnthropic(ctx, cfg, img)
	default:
		fmt.Fprintf(os.Stderr, "Unknown provider: %s (use gemini, anthropic, or both)\n", provider)
		os.Exit(1)
	}
}

func runGemini(ctx context.Context, cfg *config.Config, img llm.Image) {
	fmt.Println("=== GEMINI ===")

	backend, err := llm.NewGeminiBackend(ctx, llm.GeminiConfig{APIKey: cfg.Gemini.APIKey, Model: cfg.Gemini.Model})
	if err != nil {
		fmt.Printf("Error creating Gemini backend: %v\n", err)
		return
	}
	probe(ctx, backend, img)
}

func runAnthropic(ctx context.Context, cfg *config.Config, img llm.Image) {
	fmt.Println("=== ANTHROPIC ===")

	backend, err := llm.NewAnthropicBackend(llm.AnthropicConfig{APIKey: cfg.Anthropic.APIKey, Model: cfg.Anthropic.Model})
	if err != nil {
		fmt.Printf("Error creating Anthropic backend: %v\n", err)
		return
	}
	probe(ctx, backend, img)
}

func probe(ctx context.Context, backend llm.Backend, img llm.Image) {
	imgs := []llm.Image{img}

	resp, err := backend.Generate(ctx, llm.Request{
		Prompt:  llm.CategoryPrompt(""),
		Images:  imgs,
		Options: llm.Options{ReasoningEffort: llm.EffortLow, Verbosity: llm.EffortLow, Stage: "category"},
		JSON:    true,
	})
	if err != nil {
		fmt.Printf("Error detecting category: %v\n", err)
		return
	}
	fields := printResponse("Category", resp)
	if fields == nil {
		return
	}

	category, ok := detection.ParseCategory(fields.String("category"))
	if !ok {
		category = detection.CategoryOther
	}

	resp, err = backend.Generate(ctx, llm.Request{
		Prompt:  llm.IdentificationPrompt(category, ""),
		Images:  imgs,
		Options: llm.Options{ReasoningEffort: llm.EffortHigh, Verbosity: llm.EffortMedium, Stage: "identification"},
		JSON:    true,
	})
	if err != nil {
		fmt.Printf("Error identifying item: %v\n", err)
		return
	}
	printResponse("Identification", resp)
}

func printResponse(title string, resp *llm.Response) llm.Fields {
	fmt.Printf("--- %s (%s) ---\n", title, resp.Model)
	fields, err := llm.ParseFields(resp.Text)
	if err != nil {
		fmt.Printf("Error parsing response: %v\n", err)
		return nil
	}

	out, _ := json.MarshalIndent(fields, "", "  ")
	fmt.Println(string(out))
	fmt.Printf("Tokens:      %d in / %d out / %d total\n",
		resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.TotalTokens)
	fmt.Printf("Cost:        $%.6f\n\n", resp.Usage.CostUSD)
	return fields
}
