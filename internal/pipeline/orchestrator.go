// Package pipeline drives a detection through category detection,
// identification, the confidence gate, confirmation and the concurrent
// verification and pricing branches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/images"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/metadata"
	"github.com/raine/item-appraiser/internal/pricing"
	"github.com/raine/item-appraiser/internal/validation"
	"github.com/rs/zerolog/log"
)

const (
	StageUpload         = "upload"
	StageCategory       = "category"
	StageIdentification = "identification"
	StageConfirmation   = "confirmation"
	StageVerification   = "verification"
	StagePricing        = "pricing"
)

var (
	ErrNoImages        = errors.New("at least one image is required")
	ErrTooManyImages   = errors.New("too many images")
	ErrNotConfirmed    = errors.New("detection has not been confirmed")
	ErrNotIdentified   = errors.New("detection is not awaiting confirmation")
	ErrNotReady        = errors.New("stage result is not available yet")
	ErrRunFailed       = errors.New("detection run has failed")
	ErrReadOnlyField   = errors.New("field cannot be edited")
	ErrInvalidCategory = errors.New("invalid category response")
)

// StageError is an unrecoverable stage failure. The detection has been
// marked failed and can be inspected by DetectionID.
type StageError struct {
	DetectionID string
	Stage       string
	Err         error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed for detection %s: %v", e.Stage, e.DetectionID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Inference runs structured inference calls. *llm.Client implements it.
type Inference interface {
	CallAndParse(ctx context.Context, prompt string, images []llm.Image, opts llm.Options) (llm.Fields, error)
}

// PriceSource implements both pricing strategies. *pricing.Aggregator
// implements it.
type PriceSource interface {
	SearchMarket(ctx context.Context, parts pricing.QueryParts) (*pricing.MarketResult, error)
	EstimateWithModel(ctx context.Context, in pricing.EstimateInput) (*pricing.ModelEstimate, error)
}

// MaxImagesLimit is the most photos a single analysis accepts.
const MaxImagesLimit = 5

// Config tunes the orchestrator.
type Config struct {
	// MaxImages is capped at MaxImagesLimit.
	MaxImages int

	// Currency is requested from model price estimates.
	Currency string

	// FallbackToModel enables the model estimate when the structured search
	// fails or finds nothing.
	FallbackToModel bool

	// ListingSample is how many listings are kept in metadata.
	ListingSample int
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		MaxImages:       MaxImagesLimit,
		Currency:        "USD",
		FallbackToModel: true,
		ListingSample:   10,
	}
}

// Orchestrator runs the analysis pipeline.
type Orchestrator struct {
	cfg       Config
	records   detection.Repository
	meta      *metadata.Store
	images    images.Store
	inference Inference
	validator *validation.Engine
	prices    PriceSource
	now       func() time.Time
}

// New creates an orchestrator.
func New(cfg Config, records detection.Repository, meta *metadata.Store, imageStore images.Store, inference Inference, validator *validation.Engine, prices PriceSource) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxImages <= 0 || cfg.MaxImages > MaxImagesLimit {
		cfg.MaxImages = def.MaxImages
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.ListingSample <= 0 {
		cfg.ListingSample = def.ListingSample
	}
	return &Orchestrator{
		cfg:       cfg,
		records:   records,
		meta:      meta,
		images:    imageStore,
		inference: inference,
		validator: validator,
		prices:    prices,
		now:       time.Now,
	}
}

var (
	categoryOptions = llm.Options{
		ReasoningEffort: llm.EffortLow,
		Verbosity:       llm.EffortLow,
		Stage:           StageCategory,
	}
	identificationOptions = llm.Options{
		ReasoningEffort: llm.EffortHigh,
		Verbosity:       llm.EffortMedium,
		Stage:           StageIdentification,
	}
	verificationOptions = llm.Options{
		ReasoningEffort: llm.EffortHigh,
		Verbosity:       llm.EffortMedium,
		Stage:           StageVerification,
	}
)

// fail marks the detection failed and returns a StageError. The status write
// is not bound to ctx so a canceled request still leaves a terminal record.
func (o *Orchestrator) fail(ctx context.Context, id string, from detection.Status, stage string, err error) error {
	if serr := o.records.SetStatus(context.WithoutCancel(ctx), id, from, detection.StatusFailed, err.Error()); serr != nil {
		log.Error().Err(serr).Str("detectionID", id).Msg("failed to mark detection failed")
	}
	log.Error().Err(err).Str("detectionID", id).Str("stage", stage).Msg("stage failed")
	return &StageError{DetectionID: id, Stage: stage, Err: err}
}

func logTransition(id string, from, to detection.Status) {
	log.Info().
		Str("detectionID", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("detection status changed")
}

// loadImages fetches stored images for an inference call.
func (o *Orchestrator) loadImages(ctx context.Context, refs []string) ([]llm.Image, error) {
	out := make([]llm.Image, 0, len(refs))
	for _, ref := range refs {
		data, mimeType, err := o.images.Fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", ref, err)
		}
		out = append(out, llm.Image{URL: ref, MIMEType: mimeType, Data: data})
	}
	return out, nil
}
