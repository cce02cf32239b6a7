package pipeline

import (
	"context"
	"errors"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/metadata"
)

// CategoryView is the result of the category stage.
type CategoryView struct {
	DetectionID string             `json:"detection_id"`
	Status      detection.Status   `json:"status"`
	Category    detection.Category `json:"category"`
	Confidence  int                `json:"confidence"`
}

// CategoryResult returns the detected category. ErrNotReady is returned
// while the category stage has not completed. A run that failed after the
// category stage still reports its category.
func (o *Orchestrator) CategoryResult(ctx context.Context, id string) (*CategoryView, error) {
	rec, err := o.records.GetDetection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Reached(detection.StatusCategoryDetected) && (rec.Status != detection.StatusFailed || rec.Category == "") {
		return nil, notReady(rec)
	}
	return &CategoryView{
		DetectionID: rec.ID,
		Status:      rec.Status,
		Category:    rec.Category,
		Confidence:  rec.CategoryConfidence,
	}, nil
}

// IdentificationView is the result of the identification stage together with
// its stored attributes.
type IdentificationView struct {
	DetectionID    string                   `json:"detection_id"`
	Status         detection.Status         `json:"status"`
	Category       detection.Category       `json:"category"`
	Identification detection.Identification `json:"identification"`
	Attributes     map[string]any           `json:"attributes"`
	Confirmed      bool                     `json:"confirmed"`
}

// IdentificationResult returns the stored identification. ErrNotReady is
// returned until the detection has passed the validation gate.
func (o *Orchestrator) IdentificationResult(ctx context.Context, id string) (*IdentificationView, error) {
	rec, err := o.records.GetDetection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Reached(detection.StatusIdentified) {
		return nil, notReady(rec)
	}

	attrs, err := o.meta.GetAttributes(ctx, id)
	if err != nil {
		return nil, err
	}
	return &IdentificationView{
		DetectionID:    rec.ID,
		Status:         rec.Status,
		Category:       rec.Category,
		Identification: rec.Identification,
		Attributes:     attrs,
		Confirmed:      rec.Confirmed(),
	}, nil
}

// FullRecord returns the denormalized detection with all attributes.
func (o *Orchestrator) FullRecord(ctx context.Context, id string) (metadata.FullRecord, error) {
	return o.meta.GetFullRecord(ctx, id)
}

func notReady(rec *detection.Record) error {
	if rec.Status == detection.StatusFailed {
		return &StageError{DetectionID: rec.ID, Stage: "analysis", Err: errors.New(rec.ErrorMessage)}
	}
	return ErrNotReady
}
