package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/metadata"
	"github.com/raine/item-appraiser/internal/pricing"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// BranchResult is the outcome of one post-confirmation branch.
type BranchResult struct {
	Outcome detection.Outcome `json:"outcome"`
	Error   string            `json:"error,omitempty"`
}

// BranchReport summarizes the branches that ran and the settled status.
type BranchReport struct {
	DetectionID  string            `json:"detection_id"`
	Status       detection.Status  `json:"status"`
	Verification *BranchResult     `json:"verification,omitempty"`
	Pricing      *BranchResult     `json:"pricing,omitempty"`
	Record       *detection.Record `json:"-"`
}

// RunVerification runs only the verification branch of a confirmed
// detection and settles its status.
func (o *Orchestrator) RunVerification(ctx context.Context, id string) (*BranchReport, error) {
	if err := o.requireConfirmed(ctx, id); err != nil {
		return nil, err
	}
	return o.runBranches(ctx, id, true, false)
}

// RunPricing runs only the pricing branch of a confirmed detection and
// settles its status.
func (o *Orchestrator) RunPricing(ctx context.Context, id string) (*BranchReport, error) {
	if err := o.requireConfirmed(ctx, id); err != nil {
		return nil, err
	}
	return o.runBranches(ctx, id, false, true)
}

func (o *Orchestrator) requireConfirmed(ctx context.Context, id string) error {
	rec, err := o.records.GetDetection(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == detection.StatusFailed {
		return fmt.Errorf("%w: %s", ErrRunFailed, rec.ErrorMessage)
	}
	if !rec.Confirmed() {
		return ErrNotConfirmed
	}
	return nil
}

// runBranches runs the selected branches concurrently and waits for both.
// A branch failure is recorded on the detection and never cancels the
// sibling.
func (o *Orchestrator) runBranches(ctx context.Context, id string, verify, price bool) (*BranchReport, error) {
	rec, err := o.records.GetDetection(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &BranchReport{DetectionID: id}
	var g errgroup.Group

	if verify {
		report.Verification = &BranchResult{}
		g.Go(func() error {
			*report.Verification = o.resolveBranch(ctx, id, detection.BranchVerification, func() error {
				return o.verify(ctx, rec)
			})
			return nil
		})
	}
	if price {
		report.Pricing = &BranchResult{}
		g.Go(func() error {
			*report.Pricing = o.resolveBranch(ctx, id, detection.BranchPricing, func() error {
				return o.price(ctx, rec)
			})
			return nil
		})
	}

	_ = g.Wait()

	settled, err := o.settle(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, err
	}
	report.Status = settled.Status
	report.Record = settled
	return report, nil
}

// resolveBranch runs fn and records its outcome.
func (o *Orchestrator) resolveBranch(ctx context.Context, id string, branch detection.Branch, fn func() error) BranchResult {
	res := BranchResult{Outcome: detection.OutcomeSucceeded}
	if err := fn(); err != nil {
		res = BranchResult{Outcome: detection.OutcomeFailed, Error: err.Error()}
		log.Warn().Err(err).Str("detectionID", id).Str("branch", string(branch)).Msg("branch failed")
	} else {
		log.Info().Str("detectionID", id).Str("branch", string(branch)).Msg("branch succeeded")
	}

	if err := o.records.RecordOutcome(context.WithoutCancel(ctx), id, branch, res.Outcome, res.Error); err != nil {
		log.Error().Err(err).Str("detectionID", id).Str("branch", string(branch)).Msg("failed to record branch outcome")
	}
	return res
}

// settleTarget decides the status implied by the branch outcomes. A run
// completes once both branches resolved and at least one succeeded; it fails
// when both failed. A successful verification alone moves it to verified.
func settleTarget(rec *detection.Record) detection.Status {
	if rec.Status.Terminal() {
		return rec.Status
	}

	v, p := rec.VerificationOutcome, rec.PricingOutcome
	if v.Resolved() && p.Resolved() {
		if v == detection.OutcomeSucceeded || p == detection.OutcomeSucceeded {
			return detection.StatusCompleted
		}
		return detection.StatusFailed
	}
	if v == detection.OutcomeSucceeded && rec.Status == detection.StatusIdentified {
		return detection.StatusVerified
	}
	return rec.Status
}

// settle applies settleTarget with compare-and-set updates, re-reading the
// record when another writer got there first.
func (o *Orchestrator) settle(ctx context.Context, id string) (*detection.Record, error) {
	for range 4 {
		rec, err := o.records.GetDetection(ctx, id)
		if err != nil {
			return nil, err
		}

		target := settleTarget(rec)
		if target == rec.Status {
			return rec, nil
		}

		var message string
		if target == detection.StatusFailed {
			message = fmt.Sprintf("verification: %s; pricing: %s", rec.VerificationError, rec.PricingError)
		}

		err = o.records.SetStatus(ctx, id, rec.Status, target, message)
		if errors.Is(err, detection.ErrStaleStatus) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to settle detection status: %w", err)
		}
		logTransition(id, rec.Status, target)
	}
	return o.records.GetDetection(ctx, id)
}

// verify runs the verification stage and writes its fields.
func (o *Orchestrator) verify(ctx context.Context, rec *detection.Record) error {
	imgs, err := o.loadImages(ctx, rec.ImageRefs)
	if err != nil {
		return err
	}

	fields, err := o.inference.CallAndParse(ctx, llm.VerificationPrompt(rec.Identification, rec.InputText), imgs, verificationOptions)
	if err != nil {
		return err
	}

	v := detection.Verification{
		AuthenticityStatus: strings.ToLower(fields.String("authenticity_status")),
		Warnings:           fields.Strings("warnings"),
	}
	if conf, ok := fields.Int("verification_confidence"); ok {
		v.VerificationConfidence = min(max(conf, 0), 100)
	}
	if match, ok := fields.Bool("specs_match"); ok {
		v.SpecsMatch = &match
	}
	if v.AuthenticityStatus == "" {
		return fmt.Errorf("verification response is missing authenticity_status")
	}

	if err := o.records.SaveVerification(ctx, rec.ID, v); err != nil {
		return err
	}
	_, err = o.meta.StoreAttributes(ctx, rec.ID, fields, metadata.StoreOptions{
		Category: string(rec.Category),
		Source:   metadata.SourceVerification,
	})
	return err
}

// price runs the structured search and, if enabled, falls back to a model
// estimate.
func (o *Orchestrator) price(ctx context.Context, rec *detection.Record) error {
	attrs, err := o.meta.GetAttributes(ctx, rec.ID)
	if err != nil {
		return err
	}

	parts := queryParts(rec.Identification, attrs)
	market, searchErr := o.prices.SearchMarket(ctx, parts)
	if searchErr == nil {
		return o.saveMarketPricing(ctx, rec, market)
	}

	if !o.cfg.FallbackToModel {
		return searchErr
	}
	log.Info().Err(searchErr).Str("detectionID", rec.ID).Msg("falling back to model price estimate")

	est, err := o.prices.EstimateWithModel(ctx, pricing.EstimateInput{
		Identification: rec.Identification,
		Currency:       o.cfg.Currency,
	})
	if err != nil {
		return fmt.Errorf("market search: %v; model estimate: %w", searchErr, err)
	}
	return o.saveModelPricing(ctx, rec, est, searchErr)
}

func (o *Orchestrator) saveMarketPricing(ctx context.Context, rec *detection.Record, market *pricing.MarketResult) error {
	now := o.now().UTC()
	if err := o.records.SavePricing(ctx, rec.ID, pricingFromStats(market.Stats, &now)); err != nil {
		return err
	}

	sample := market.Items
	if len(sample) > o.cfg.ListingSample {
		sample = sample[:o.cfg.ListingSample]
	}
	_, err := o.meta.StoreAttributes(ctx, rec.ID, map[string]any{
		"pricing_strategy": "marketplace_search",
		"market_query":     market.Query,
		"market_listings":  sample,
	}, metadata.StoreOptions{Category: string(rec.Category), Source: metadata.SourcePricing})
	return err
}

func (o *Orchestrator) saveModelPricing(ctx context.Context, rec *detection.Record, est *pricing.ModelEstimate, searchErr error) error {
	now := o.now().UTC()
	if err := o.records.SavePricing(ctx, rec.ID, pricingFromStats(est.Stats(), &now)); err != nil {
		return err
	}

	values := make(map[string]any, len(est.Raw)+2)
	for k, v := range est.Raw {
		values[k] = v
	}
	values["pricing_strategy"] = "model_estimate"
	values["market_search_error"] = searchErr.Error()

	_, err := o.meta.StoreAttributes(ctx, rec.ID, values, metadata.StoreOptions{
		Category: string(rec.Category),
		Source:   metadata.SourcePricing,
	})
	return err
}

func pricingFromStats(s pricing.Stats, at *time.Time) detection.Pricing {
	return detection.Pricing{
		AveragePrice: s.Average,
		MinPrice:     s.Min,
		MaxPrice:     s.Max,
		Currency:     s.Currency,
		ItemCount:    s.Count,
		UpdatedAt:    at,
	}
}

// queryParts picks search terms from the identification and the stored
// category-specific attributes.
func queryParts(ident detection.Identification, attrs map[string]any) pricing.QueryParts {
	f := llm.Fields(attrs)
	return pricing.QueryParts{
		Brand:     ident.Brand,
		Model:     modelOrProduct(ident),
		Variant:   f.String("variant"),
		Storage:   f.String("storage_capacity"),
		Size:      f.String("size"),
		Condition: conditionTerm(ident.ConditionRating),
	}
}

func modelOrProduct(ident detection.Identification) string {
	if ident.Model != "" {
		return ident.Model
	}
	product := ident.IdentifiedProduct
	if ident.Brand != "" {
		product = strings.TrimSpace(strings.TrimPrefix(product, ident.Brand))
	}
	return product
}

// conditionTerm maps condition ratings to listing vocabulary.
func conditionTerm(rating string) string {
	switch rating {
	case "new":
		return "new"
	case "like_new", "good", "fair":
		return "used"
	case "poor":
		return "for parts"
	default:
		return ""
	}
}
