package llm

import "context"

// Effort is a coarse low/medium/high knob used for reasoning effort and verbosity.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Options tune a single inference call.
type Options struct {
	ReasoningEffort Effort
	Verbosity       Effort
	WebSearch       bool
	MaxOutputTokens int
	Temperature     *float64

	// MaxRetries is the number of retries after the first attempt. Nil uses
	// the client default; Retries(0) disables retrying for this call.
	MaxRetries *int

	// Stage is a label used only for logging and cache keys.
	Stage string
}

// Retries returns a MaxRetries value for Options.
func Retries(n int) *int {
	return &n
}

// Image is one image passed to the inference service. Data is preferred;
// URL is used by backends that can fetch remote images themselves.
type Image struct {
	URL      string
	MIMEType string
	Data     []byte
}

// Request is what the client hands to a Backend for one attempt.
type Request struct {
	Prompt  string
	Images  []Image
	Options Options

	// JSON asks the backend for a JSON-only response when it supports it.
	JSON bool
}

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// Response is the raw result of one backend call.
type Response struct {
	Text   string
	Model  string
	Usage  Usage
	Cached bool
}

// Backend performs a single, non-retried call to an inference service.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}
