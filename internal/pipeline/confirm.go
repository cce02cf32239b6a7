package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/metadata"
	"github.com/rs/zerolog/log"
)

// identificationKeys are the core fields a confirmation may edit.
var identificationKeys = map[string]bool{
	"identified_product": true,
	"brand":              true,
	"model":              true,
	"color_variants":     true,
	"condition_rating":   true,
	"confidence_score":   true,
	"estimated_year":     true,
	"short_description":  true,
}

// Confirm accepts the identification, applying edits first, and then runs
// verification and pricing concurrently. Edits to identification fields
// update the record; any other non-core key is stored as a user_edit
// attribute. It returns once both branches have resolved and the status is
// settled.
func (o *Orchestrator) Confirm(ctx context.Context, id string, edits map[string]any) (*BranchReport, error) {
	rec, err := o.records.GetDetection(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != detection.StatusIdentified || rec.Confirmed() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotIdentified, rec.Status)
	}

	ident, extra, err := applyEdits(rec.Identification, edits)
	if err != nil {
		return nil, err
	}

	err = o.records.SaveConfirmation(ctx, id, ident, o.now().UTC())
	if errors.Is(err, detection.ErrStaleStatus) {
		return nil, fmt.Errorf("%w: already confirmed or no longer identified", ErrNotIdentified)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save confirmation: %w", err)
	}
	if len(extra) > 0 {
		if _, err := o.meta.StoreAttributes(ctx, id, extra, metadata.StoreOptions{
			Category: string(rec.Category),
			Source:   metadata.SourceUserEdit,
		}); err != nil {
			return nil, fmt.Errorf("failed to store edits: %w", err)
		}
	}
	log.Info().Str("detectionID", id).Int("edits", len(edits)).Msg("identification confirmed")

	return o.runBranches(ctx, id, true, true)
}

// applyEdits returns the edited identification and the remaining non-core
// edits. Core fields outside the identification group cannot be edited.
func applyEdits(ident detection.Identification, edits map[string]any) (detection.Identification, map[string]any, error) {
	f := llm.Fields(edits)
	extra := map[string]any{}

	for key := range edits {
		if !identificationKeys[key] {
			if metadata.CoreFields[key] {
				return ident, nil, fmt.Errorf("%w: %s", ErrReadOnlyField, key)
			}
			extra[key] = edits[key]
			continue
		}

		switch key {
		case "identified_product":
			ident.IdentifiedProduct = f.String(key)
		case "brand":
			ident.Brand = f.String(key)
		case "model":
			ident.Model = f.String(key)
		case "color_variants":
			ident.ColorVariants = f.Strings(key)
		case "condition_rating":
			ident.ConditionRating = strings.ToLower(f.String(key))
		case "confidence_score":
			v, ok := f.Int(key)
			if !ok {
				return ident, nil, fmt.Errorf("confidence_score must be a number, got %q", f.String(key))
			}
			ident.ConfidenceScore = min(max(v, 0), 100)
		case "estimated_year":
			ident.EstimatedYear = f.String(key)
		case "short_description":
			ident.ShortDescription = f.String(key)
		}
	}
	return ident, extra, nil
}
