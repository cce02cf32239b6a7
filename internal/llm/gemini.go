package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	geminiModel     = "gemini-3-flash-preview"
	geminiLiteModel = "gemini-2.5-flash-lite"
)

// Gemini pricing (per million tokens)
const (
	geminiInputPricePerMillion      = 0.50 // $0.50 per 1M input tokens (text/image/video)
	geminiOutputPricePerMillion     = 3.00 // $3.00 per 1M output tokens (including thinking)
	geminiLiteInputPricePerMillion  = 0.075
	geminiLiteOutputPricePerMillion = 0.30
)

var geminiThinkingBudgets = map[Effort]int32{
	EffortLow:    1024,
	EffortMedium: 4096,
	EffortHigh:   16384,
}

var verbosityInstructions = map[Effort]string{
	EffortLow:    "Answer tersely. Keep free-text fields to one short sentence.",
	EffortMedium: "Keep free-text fields brief and factual.",
	EffortHigh:   "Explain your reasoning in the free-text fields where it helps the reader.",
}

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiBackend calls Google's Gemini API.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend creates a Gemini backend. An empty model selects the
// default flash model.
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = geminiModel
	}
	return &GeminiBackend{client: client, model: model}, nil
}

func (g *GeminiBackend) Name() string {
	return "gemini"
}

// Generate performs one GenerateContent call.
func (g *GeminiBackend) Generate(ctx context.Context, req Request) (*Response, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
	}
	for _, img := range req.Images {
		mimeType := img.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		if len(img.Data) > 0 {
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{Data: img.Data, MIMEType: mimeType},
			})
			continue
		}
		if img.URL == "" {
			return nil, fmt.Errorf("image has neither data nor url")
		}
		parts = append(parts, &genai.Part{
			FileData: &genai.FileData{FileURI: img.URL, MIMEType: mimeType},
		})
	}

	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, buildGeminiConfig(req))
	if err != nil {
		return nil, &TransportError{Backend: g.Name(), Err: fmt.Errorf("failed to generate content: %w", err)}
	}

	resp := &Response{Model: g.model}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return resp, nil
	}
	resp.Text = result.Text()

	if result.UsageMetadata != nil {
		resp.Usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		resp.Usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		resp.Usage.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		resp.Usage.CostUSD = geminiCost(g.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	return resp, nil
}

func buildGeminiConfig(req Request) *genai.GenerateContentConfig {
	opts := req.Options
	config := &genai.GenerateContentConfig{}

	if budget, ok := geminiThinkingBudgets[opts.ReasoningEffort]; ok {
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(budget)}
	}
	if instruction, ok := verbosityInstructions[opts.Verbosity]; ok {
		config.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}
	if opts.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}
	if opts.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*opts.Temperature))
	}

	// Search grounding cannot be combined with a JSON response MIME type.
	if opts.WebSearch {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	} else if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	return config
}

func geminiCost(model string, inputTokens, outputTokens int64) float64 {
	if model == geminiLiteModel {
		return calculateGeminiCost(inputTokens, outputTokens, geminiLiteInputPricePerMillion, geminiLiteOutputPricePerMillion)
	}
	return calculateGeminiCost(inputTokens, outputTokens, geminiInputPricePerMillion, geminiOutputPricePerMillion)
}

func calculateGeminiCost(inputTokens, outputTokens int64, inputPrice, outputPrice float64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * inputPrice
	outputCost := float64(outputTokens) / 1_000_000 * outputPrice
	return inputCost + outputCost
}
