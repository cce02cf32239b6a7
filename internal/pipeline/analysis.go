package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/images"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/metadata"
	"github.com/raine/item-appraiser/internal/validation"
	"github.com/rs/zerolog/log"
)

// ImageInput is one uploaded photo.
type ImageInput struct {
	Data     []byte
	MIMEType string
}

// StartInput starts a new analysis run.
type StartInput struct {
	Images  []ImageInput
	Text    string
	OwnerID *string
}

// AnalysisResult is the outcome of StartAnalysis. When Halted is true the
// identification did not pass the validation gate; Validation carries the
// errors and suggestions and no further stage ran.
type AnalysisResult struct {
	DetectionID        string                    `json:"detection_id"`
	Status             detection.Status          `json:"status"`
	Category           detection.Category        `json:"category"`
	CategoryConfidence int                       `json:"category_confidence"`
	CategoryWarnings   []string                  `json:"category_warnings,omitempty"`
	Halted             bool                      `json:"halted"`
	Validation         validation.Result         `json:"validation"`
	Identification     *detection.Identification `json:"identification,omitempty"`
	Attributes         map[string]any            `json:"attributes,omitempty"`
}

// StartAnalysis creates a detection and runs it up to and including the
// confidence gate.
func (o *Orchestrator) StartAnalysis(ctx context.Context, in StartInput) (*AnalysisResult, error) {
	if len(in.Images) == 0 {
		return nil, ErrNoImages
	}
	if len(in.Images) > o.cfg.MaxImages {
		return nil, fmt.Errorf("%w: %d given, at most %d allowed", ErrTooManyImages, len(in.Images), o.cfg.MaxImages)
	}

	rec := &detection.Record{
		Status:    detection.StatusPending,
		OwnerID:   in.OwnerID,
		InputText: strings.TrimSpace(in.Text),
	}
	if err := o.records.CreateDetection(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create detection: %w", err)
	}
	log.Info().Str("detectionID", rec.ID).Int("images", len(in.Images)).Msg("analysis started")

	imgs, err := o.storeImages(ctx, rec.ID, in.Images)
	if err != nil {
		return nil, o.fail(ctx, rec.ID, detection.StatusPending, StageUpload, err)
	}

	result := &AnalysisResult{DetectionID: rec.ID}

	cv, err := o.detectCategory(ctx, rec, imgs)
	if err != nil {
		return nil, err
	}
	result.Category = cv.Category
	result.CategoryConfidence = cv.Confidence
	result.CategoryWarnings = cv.Warnings
	result.Status = detection.StatusCategoryDetected

	fields, err := o.inference.CallAndParse(ctx, llm.IdentificationPrompt(cv.Category, rec.InputText), imgs, identificationOptions)
	if err != nil {
		return nil, o.fail(ctx, rec.ID, detection.StatusCategoryDetected, StageIdentification, err)
	}

	result.Validation = o.validator.ValidateIdentification(fields, cv.Category)
	if !result.Validation.Valid {
		result.Halted = true
		log.Info().
			Str("detectionID", rec.ID).
			Int("errors", len(result.Validation.Errors)).
			Msg("identification rejected by validation gate")
		return result, nil
	}

	ident := identificationFromFields(fields)
	if err := o.records.SaveIdentification(ctx, rec.ID, ident, detection.StatusCategoryDetected, detection.StatusIdentified); err != nil {
		return nil, o.fail(ctx, rec.ID, detection.StatusCategoryDetected, StageIdentification, err)
	}
	logTransition(rec.ID, detection.StatusCategoryDetected, detection.StatusIdentified)
	result.Status = detection.StatusIdentified
	result.Identification = &ident

	if _, err := o.meta.StoreAttributes(ctx, rec.ID, fields, metadata.StoreOptions{
		Category: string(cv.Category),
		Source:   metadata.SourceIdentification,
	}); err != nil {
		return nil, &StageError{DetectionID: rec.ID, Stage: StageIdentification, Err: err}
	}

	result.Attributes, err = o.meta.GetAttributes(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// storeImages uploads the photos and records their references in order.
func (o *Orchestrator) storeImages(ctx context.Context, id string, in []ImageInput) ([]llm.Image, error) {
	refs := make([]string, 0, len(in))
	imgs := make([]llm.Image, 0, len(in))
	for i, img := range in {
		if len(img.Data) == 0 {
			return nil, fmt.Errorf("image %d is empty", i+1)
		}
		mimeType := img.MIMEType
		if mimeType == "" {
			mimeType = images.DetectMIME(img.Data)
		}
		ref, err := o.images.Put(ctx, img.Data, mimeType)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
		imgs = append(imgs, llm.Image{URL: ref, MIMEType: mimeType, Data: img.Data})
	}

	if err := o.records.SetImageRefs(ctx, id, refs); err != nil {
		return nil, err
	}
	return imgs, nil
}

func (o *Orchestrator) detectCategory(ctx context.Context, rec *detection.Record, imgs []llm.Image) (validation.CategoryValidation, error) {
	fields, err := o.inference.CallAndParse(ctx, llm.CategoryPrompt(rec.InputText), imgs, categoryOptions)
	if err != nil {
		return validation.CategoryValidation{}, o.fail(ctx, rec.ID, detection.StatusPending, StageCategory, err)
	}

	cv := o.validator.ValidateCategoryResponse(fields)
	if !cv.Valid {
		err := fmt.Errorf("%w: %s", ErrInvalidCategory, strings.Join(cv.Errors, "; "))
		return cv, o.fail(ctx, rec.ID, detection.StatusPending, StageCategory, err)
	}
	for _, w := range cv.Warnings {
		log.Warn().Str("detectionID", rec.ID).Msg(w)
	}

	if err := o.records.SaveCategory(ctx, rec.ID, cv.Category, cv.Confidence, detection.StatusPending, detection.StatusCategoryDetected); err != nil {
		return cv, o.fail(ctx, rec.ID, detection.StatusPending, StageCategory, err)
	}
	logTransition(rec.ID, detection.StatusPending, detection.StatusCategoryDetected)

	if reasoning := fields.String("reasoning"); reasoning != "" {
		if _, err := o.meta.StoreAttributes(ctx, rec.ID, map[string]any{"category_reasoning": reasoning}, metadata.StoreOptions{
			Category: string(cv.Category),
			Source:   metadata.SourceIdentification,
		}); err != nil {
			log.Warn().Err(err).Str("detectionID", rec.ID).Msg("failed to store category reasoning")
		}
	}
	return cv, nil
}

// identificationFromFields copies the core identification fields out of a
// model response.
func identificationFromFields(f llm.Fields) detection.Identification {
	confidence, _ := f.Int("confidence_score")
	return detection.Identification{
		IdentifiedProduct: f.String("identified_product"),
		Brand:             f.String("brand"),
		Model:             f.String("model"),
		ColorVariants:     f.Strings("color_variants"),
		ConditionRating:   strings.ToLower(f.String("condition_rating")),
		ConfidenceScore:   min(max(confidence, 0), 100),
		EstimatedYear:     f.String("estimated_year"),
		ShortDescription:  f.String("short_description"),
	}
}
