package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
)

const (
	anthropicModel            = "claude-sonnet-4-5-20250929"
	anthropicDefaultMaxTokens = 4096
)

// anthropicPricing maps model -> {input $/MTok, output $/MTok}.
var anthropicPricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// AnthropicBackend calls the Anthropic Messages API. Web search and
// reasoning effort are not mapped and are ignored.
type AnthropicBackend struct {
	client sdk.Client
	model  string
}

// NewAnthropicBackend creates an Anthropic backend.
func NewAnthropicBackend(cfg AnthropicConfig) (*AnthropicBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is not set")
	}
	model := cfg.Model
	if model == "" {
		model = anthropicModel
	}
	return &AnthropicBackend{
		client: sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  model,
	}, nil
}

func (a *AnthropicBackend) Name() string {
	return "anthropic"
}

func (a *AnthropicBackend) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.Options.WebSearch {
		log.Debug().Str("stage", req.Options.Stage).Msg("web search not supported by anthropic backend, ignoring")
	}

	blocks := make([]sdk.ContentBlockParamUnion, 0, len(req.Images)+1)
	for _, img := range req.Images {
		if len(img.Data) == 0 {
			return nil, fmt.Errorf("anthropic backend needs image data, got url only: %s", img.URL)
		}
		mimeType := img.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		blocks = append(blocks, sdk.NewImageBlockBase64(mimeType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	blocks = append(blocks, sdk.NewTextBlock(req.Prompt))

	maxTokens := int64(anthropicDefaultMaxTokens)
	if req.Options.MaxOutputTokens > 0 {
		maxTokens = int64(req.Options.MaxOutputTokens)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	}
	if instruction, ok := verbosityInstructions[req.Options.Verbosity]; ok {
		params.System = []sdk.TextBlockParam{{Text: instruction}}
	}
	if req.Options.Temperature != nil {
		params.Temperature = sdk.Float(*req.Options.Temperature)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &TransportError{Backend: a.Name(), Err: fmt.Errorf("create message: %w", err)}
	}

	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}

	usage := Usage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
	}
	if pricing, ok := anthropicPricing[a.model]; ok {
		usage.CostUSD = float64(usage.InputTokens)/1e6*pricing[0] + float64(usage.OutputTokens)/1e6*pricing[1]
	}

	return &Response{Text: text.String(), Model: string(msg.Model), Usage: usage}, nil
}
