// Package detection holds the anchor entity of one analysis run and its
// state machine.
package detection

import (
	"context"
	"time"
)

// Identification contains the core identification fields. They are written
// together, only after the identification stage has passed validation.
type Identification struct {
	IdentifiedProduct string   `json:"identified_product"`
	Brand             string   `json:"brand"`
	Model             string   `json:"model"`
	ColorVariants     []string `json:"color_variants"`
	ConditionRating   string   `json:"condition_rating"`
	ConfidenceScore   int      `json:"confidence_score"`
	EstimatedYear     string   `json:"estimated_year"`
	ShortDescription  string   `json:"short_description"`
}

// Verification contains the authenticity verdict fields.
type Verification struct {
	AuthenticityStatus     string   `json:"authenticity_status"`
	VerificationConfidence int      `json:"verification_confidence"`
	SpecsMatch             *bool    `json:"specs_match"`
	Warnings               []string `json:"warnings"`
}

// Pricing contains aggregated market price statistics.
type Pricing struct {
	AveragePrice float64    `json:"average_price"`
	MinPrice     float64    `json:"min_price"`
	MaxPrice     float64    `json:"max_price"`
	Currency     string     `json:"currency"`
	ItemCount    int        `json:"item_count"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

// Record is one end-to-end analysis run.
type Record struct {
	ID                 string
	OwnerID            *string
	Status             Status
	Category           Category
	CategoryConfidence int

	Identification Identification
	Verification   Verification
	Pricing        Pricing

	ImageRefs []string
	InputText string

	ConfirmedAt         *time.Time
	VerificationOutcome Outcome
	VerificationError   string
	PricingOutcome      Outcome
	PricingError        string
	ErrorMessage        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Confirmed reports whether the external confirmation signal was received.
func (r *Record) Confirmed() bool {
	return r.ConfirmedAt != nil
}

// Branch names a post-confirmation branch.
type Branch string

const (
	BranchVerification Branch = "verification"
	BranchPricing      Branch = "pricing"
)

// Repository persists detection records. Each Save* method writes one field
// group in a single statement.
type Repository interface {
	CreateDetection(ctx context.Context, rec *Record) error
	GetDetection(ctx context.Context, id string) (*Record, error)

	// SetStatus moves id from -> to only if the stored status equals from.
	// It returns ErrStaleStatus otherwise.
	SetStatus(ctx context.Context, id string, from, to Status, message string) error

	SetImageRefs(ctx context.Context, id string, refs []string) error
	SaveCategory(ctx context.Context, id string, category Category, confidence int, from, to Status) error
	SaveIdentification(ctx context.Context, id string, ident Identification, from, to Status) error
	SaveConfirmation(ctx context.Context, id string, ident Identification, confirmedAt time.Time) error
	SaveVerification(ctx context.Context, id string, v Verification) error
	SavePricing(ctx context.Context, id string, p Pricing) error

	// RecordOutcome stores the result of a post-confirmation branch. An empty
	// message clears a previous failure.
	RecordOutcome(ctx context.Context, id string, branch Branch, outcome Outcome, message string) error
}
