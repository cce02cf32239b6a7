package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/rs/zerolog/log"
)

// Repository persists attribute rows. UpsertAttributes must keep exactly one
// row per (detection, key), replacing value, type, category and source.
type Repository interface {
	UpsertAttributes(ctx context.Context, attrs []Attribute) error
	ListAttributes(ctx context.Context, detectionID string) ([]Attribute, error)
}

// CoreFields are the keys stored in detection columns. They are never
// written as attributes.
var CoreFields = map[string]bool{
	"id":                      true,
	"status":                  true,
	"category":                true,
	"category_confidence":     true,
	"identified_product":      true,
	"brand":                   true,
	"model":                   true,
	"color_variants":          true,
	"condition_rating":        true,
	"confidence_score":        true,
	"estimated_year":          true,
	"short_description":       true,
	"authenticity_status":     true,
	"verification_confidence": true,
	"specs_match":             true,
	"warnings":                true,
	"average_price":           true,
	"min_price":               true,
	"max_price":               true,
	"currency":                true,
	"item_count":              true,
}

// StoreOptions qualify the attributes written by one StoreAttributes call.
type StoreOptions struct {
	Category    string
	Source      Source
	ExcludeKeys []string
}

// Store reads and writes detection attributes.
type Store struct {
	repo    Repository
	records detection.Repository
	now     func() time.Time
}

// NewStore creates a metadata store. records is used by GetFullRecord.
func NewStore(repo Repository, records detection.Repository) *Store {
	return &Store{repo: repo, records: records, now: time.Now}
}

// StoreAttributes upserts every non-core, non-excluded, non-blank entry of
// values and returns how many were written. A later write to the same key
// replaces the earlier one.
func (s *Store) StoreAttributes(ctx context.Context, detectionID string, values map[string]any, opts StoreOptions) (int, error) {
	exclude := make(map[string]bool, len(opts.ExcludeKeys))
	for _, k := range opts.ExcludeKeys {
		exclude[k] = true
	}

	now := s.now().UTC()
	attrs := make([]Attribute, 0, len(values))
	for key, v := range values {
		key = strings.TrimSpace(key)
		if key == "" || CoreFields[key] || exclude[key] || isBlank(v) {
			continue
		}

		raw, vt, err := EncodeValue(v)
		if err != nil {
			return 0, fmt.Errorf("failed to encode attribute %q: %w", key, err)
		}

		attrs = append(attrs, Attribute{
			DetectionID: detectionID,
			Key:         key,
			Value:       raw,
			ValueType:   vt,
			Category:    opts.Category,
			Source:      opts.Source,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if len(attrs) == 0 {
		return 0, nil
	}

	if err := s.repo.UpsertAttributes(ctx, attrs); err != nil {
		return 0, fmt.Errorf("failed to store attributes: %w", err)
	}

	log.Debug().
		Str("detectionID", detectionID).
		Str("source", string(opts.Source)).
		Int("count", len(attrs)).
		Msg("stored metadata attributes")

	return len(attrs), nil
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

// GetAttributes returns all attributes of a detection as a flat map.
func (s *Store) GetAttributes(ctx context.Context, detectionID string) (map[string]any, error) {
	attrs, err := s.repo.ListAttributes(ctx, detectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}

	out := make(map[string]any, len(attrs))
	for _, a := range attrs {
		v, err := a.Decode()
		if err != nil {
			log.Warn().Err(err).Str("detectionID", detectionID).Str("key", a.Key).Msg("skipping undecodable attribute")
			continue
		}
		out[a.Key] = v
	}
	return out, nil
}

// FullRecord is a denormalized view of a detection: core fields merged
// with all attributes.
type FullRecord map[string]any

// GetFullRecord merges the detection's core fields with its attributes.
// Core fields win on key collisions.
func (s *Store) GetFullRecord(ctx context.Context, detectionID string) (FullRecord, error) {
	rec, err := s.records.GetDetection(ctx, detectionID)
	if err != nil {
		return nil, err
	}

	attrs, err := s.GetAttributes(ctx, detectionID)
	if err != nil {
		return nil, err
	}

	full := make(FullRecord, len(attrs)+32)
	for k, v := range attrs {
		full[k] = v
	}
	for k, v := range coreView(rec) {
		full[k] = v
	}
	return full, nil
}

func coreView(r *detection.Record) map[string]any {
	m := map[string]any{
		"id":                      r.ID,
		"status":                  string(r.Status),
		"category":                string(r.Category),
		"category_confidence":     r.CategoryConfidence,
		"identified_product":      r.Identification.IdentifiedProduct,
		"brand":                   r.Identification.Brand,
		"model":                   r.Identification.Model,
		"color_variants":          nonNil(r.Identification.ColorVariants),
		"condition_rating":        r.Identification.ConditionRating,
		"confidence_score":        r.Identification.ConfidenceScore,
		"estimated_year":          r.Identification.EstimatedYear,
		"short_description":       r.Identification.ShortDescription,
		"authenticity_status":     r.Verification.AuthenticityStatus,
		"verification_confidence": r.Verification.VerificationConfidence,
		"specs_match":             r.Verification.SpecsMatch,
		"warnings":                nonNil(r.Verification.Warnings),
		"average_price":           r.Pricing.AveragePrice,
		"min_price":               r.Pricing.MinPrice,
		"max_price":               r.Pricing.MaxPrice,
		"currency":                r.Pricing.Currency,
		"item_count":              r.Pricing.ItemCount,
		"image_refs":              nonNil(r.ImageRefs),
		"verification_outcome":    string(r.VerificationOutcome),
		"pricing_outcome":         string(r.PricingOutcome),
		"created_at":              r.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":              r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if r.OwnerID != nil {
		m["owner_id"] = *r.OwnerID
	}
	if r.Pricing.UpdatedAt != nil {
		m["pricing_updated_at"] = r.Pricing.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if r.ConfirmedAt != nil {
		m["confirmed_at"] = r.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	if r.VerificationError != "" {
		m["verification_error"] = r.VerificationError
	}
	if r.PricingError != "" {
		m["pricing_error"] = r.PricingError
	}
	if r.ErrorMessage != "" {
		m["error_message"] = r.ErrorMessage
	}
	return m
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
