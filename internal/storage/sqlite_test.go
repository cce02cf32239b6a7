package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetDetection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner := "user-1"
	rec := &detection.Record{OwnerID: &owner, InputText: "used headphones", ImageRefs: []string{"file:///a.jpg"}}
	require.NoError(t, store.CreateDetection(ctx, rec))
	require.NotEmpty(t, rec.ID)

	got, err := store.GetDetection(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, detection.StatusPending, got.Status)
	assert.Equal(t, detection.OutcomePending, got.VerificationOutcome)
	assert.Equal(t, detection.OutcomePending, got.PricingOutcome)
	assert.Equal(t, "user-1", *got.OwnerID)
	assert.Equal(t, []string{"file:///a.jpg"}, got.ImageRefs)
	assert.Equal(t, "used headphones", got.InputText)
	assert.Nil(t, got.ConfirmedAt)
	assert.Nil(t, got.Verification.SpecsMatch)

	_, err = store.GetDetection(ctx, "missing")
	assert.ErrorIs(t, err, detection.ErrNotFound)
}

func TestSetStatus_CompareAndSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &detection.Record{}
	require.NoError(t, store.CreateDetection(ctx, rec))

	require.NoError(t, store.SaveCategory(ctx, rec.ID, detection.CategoryElectronics, 92, detection.StatusPending, detection.StatusCategoryDetected))

	// A second writer still believing the record is pending loses.
	err := store.SetStatus(ctx, rec.ID, detection.StatusPending, detection.StatusFailed, "late")
	assert.ErrorIs(t, err, detection.ErrStaleStatus)

	err = store.SetStatus(ctx, "missing", detection.StatusPending, detection.StatusFailed, "")
	assert.ErrorIs(t, err, detection.ErrNotFound)

	err = store.SetStatus(ctx, rec.ID, detection.StatusCategoryDetected, detection.StatusCompleted, "")
	assert.ErrorIs(t, err, detection.ErrInvalidTransition)

	got, err := store.GetDetection(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, detection.StatusCategoryDetected, got.Status)
	assert.Equal(t, detection.CategoryElectronics, got.Category)
	assert.Equal(t, 92, got.CategoryConfidence)
}

func TestIdentificationConfirmationAndBranches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &detection.Record{}
	require.NoError(t, store.CreateDetection(ctx, rec))
	require.NoError(t, store.SaveCategory(ctx, rec.ID, detection.CategoryFashion, 80, detection.StatusPending, detection.StatusCategoryDetected))

	ident := detection.Identification{
		IdentifiedProduct: "Levi's 501 jeans",
		Brand:             "Levi's",
		Model:             "501",
		ColorVariants:     []string{"indigo"},
		ConfidenceScore:   77,
	}

	// Confirmation before identification is rejected.
	err := store.SaveConfirmation(ctx, rec.ID, ident, time.Now())
	assert.ErrorIs(t, err, detection.ErrStaleStatus)

	require.NoError(t, store.SaveIdentification(ctx, rec.ID, ident, detection.StatusCategoryDetected, detection.StatusIdentified))

	ident.Model = "501 Original"
	confirmedAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveConfirmation(ctx, rec.ID, ident, confirmedAt))

	// A second confirmation loses the compare-and-set.
	err = store.SaveConfirmation(ctx, rec.ID, ident, time.Now())
	assert.ErrorIs(t, err, detection.ErrStaleStatus)

	match := true
	require.NoError(t, store.SaveVerification(ctx, rec.ID, detection.Verification{
		AuthenticityStatus:     "likely_authentic",
		VerificationConfidence: 70,
		SpecsMatch:             &match,
		Warnings:               []string{"check tag"},
	}))
	require.NoError(t, store.RecordOutcome(ctx, rec.ID, detection.BranchVerification, detection.OutcomeSucceeded, ""))
	require.NoError(t, store.RecordOutcome(ctx, rec.ID, detection.BranchPricing, detection.OutcomeFailed, "no results"))

	got, err := store.GetDetection(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "501 Original", got.Identification.Model)
	assert.Equal(t, []string{"indigo"}, got.Identification.ColorVariants)
	require.NotNil(t, got.ConfirmedAt)
	assert.True(t, confirmedAt.Equal(*got.ConfirmedAt))
	require.NotNil(t, got.Verification.SpecsMatch)
	assert.True(t, *got.Verification.SpecsMatch)
	assert.Equal(t, []string{"check tag"}, got.Verification.Warnings)
	assert.Equal(t, detection.OutcomeSucceeded, got.VerificationOutcome)
	assert.Equal(t, detection.OutcomeFailed, got.PricingOutcome)
	assert.Equal(t, "no results", got.PricingError)
}

func TestSavePricingAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, brand := range []string{"Sony", "Apple", "Sony"} {
		rec := &detection.Record{Category: detection.CategoryElectronics, Identification: detection.Identification{Brand: brand}}
		require.NoError(t, store.CreateDetection(ctx, rec))
	}

	sony, err := store.ListDetections(ctx, DetectionFilter{Brand: "Sony"})
	require.NoError(t, err)
	assert.Len(t, sony, 2)

	updated := time.Now().UTC()
	require.NoError(t, store.SavePricing(ctx, sony[0].ID, detection.Pricing{
		AveragePrice: 150.17, MinPrice: 100, MaxPrice: 200, Currency: "USD", ItemCount: 3, UpdatedAt: &updated,
	}))
	got, err := store.GetDetection(ctx, sony[0].ID)
	require.NoError(t, err)
	assert.InDelta(t, 150.17, got.Pricing.AveragePrice, 0.001)
	assert.Equal(t, 3, got.Pricing.ItemCount)
	assert.NotNil(t, got.Pricing.UpdatedAt)

	limited, err := store.ListDetections(ctx, DetectionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	err = store.SavePricing(ctx, "missing", detection.Pricing{})
	assert.ErrorIs(t, err, detection.ErrNotFound)
}

func TestUpsertAttributes_OneRowPerKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &detection.Record{}
	require.NoError(t, store.CreateDetection(ctx, rec))

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)
	attr := metadata.Attribute{
		DetectionID: rec.ID, Key: "storage", Value: "128GB", ValueType: metadata.TypeString,
		Source: metadata.SourceIdentification, CreatedAt: first, UpdatedAt: first,
	}
	require.NoError(t, store.UpsertAttributes(ctx, []metadata.Attribute{attr}))

	attr.Value = "256GB"
	attr.Source = metadata.SourceUserEdit
	attr.CreatedAt = later
	attr.UpdatedAt = later
	require.NoError(t, store.UpsertAttributes(ctx, []metadata.Attribute{attr}))

	attrs, err := store.ListAttributes(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "256GB", attrs[0].Value)
	assert.Equal(t, metadata.SourceUserEdit, attrs[0].Source)
	assert.True(t, first.Equal(attrs[0].CreatedAt))

	// Attributes go away with their detection.
	require.NoError(t, store.DeleteDetection(ctx, rec.ID))
	attrs, err = store.ListAttributes(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func TestMetadataStoreOnSQLite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &detection.Record{Identification: detection.Identification{Brand: "Sony"}}
	require.NoError(t, store.CreateDetection(ctx, rec))

	meta := metadata.NewStore(store, store)
	n, err := meta.StoreAttributes(ctx, rec.ID, map[string]any{
		"brand":        "Sonny",
		"battery_life": float64(30),
		"features":     []any{"ANC", "LDAC"},
	}, metadata.StoreOptions{Category: "electronics", Source: metadata.SourceIdentification})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	full, err := meta.GetFullRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sony", full["brand"])
	assert.Equal(t, float64(30), full["battery_life"])
	assert.Equal(t, []any{"ANC", "LDAC"}, full["features"])
}

func TestInferenceCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.GetCachedResponse(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.SetCachedResponse(ctx, "abc", &llm.CachedResponse{Text: `{"a":1}`, Model: "m1"}))
	require.NoError(t, store.SetCachedResponse(ctx, "abc", &llm.CachedResponse{Text: `{"a":2}`, Model: "m2"}))

	got, err = store.GetCachedResponse(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, &llm.CachedResponse{Text: `{"a":2}`, Model: "m2"}, got)
}

func TestTokenCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tok, err := store.LoadToken(ctx, "ebay:client")
	require.NoError(t, err)
	assert.Nil(t, tok)

	expiry := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.SaveToken(ctx, "ebay:client", &oauth2.Token{
		AccessToken: "secret-access",
		TokenType:   "Bearer",
		Expiry:      expiry,
	}))

	tok, err = store.LoadToken(ctx, "ebay:client")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "secret-access", tok.AccessToken)
	assert.True(t, expiry.Equal(tok.Expiry))

	var raw string
	require.NoError(t, store.db.QueryRow("SELECT encrypted_token FROM oauth_tokens WHERE cache_key = ?", "ebay:client").Scan(&raw))
	assert.NotContains(t, raw, "secret-access")
}

func TestTokenCache_RequiresKey(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nokey.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.LoadToken(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, store.SaveToken(context.Background(), "k", &oauth2.Token{AccessToken: "x"}))
}
