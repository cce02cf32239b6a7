package storage

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresMigrate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS detections").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE detections SET status = \$1, error_message = \$2, updated_at = \$3 WHERE id = \$4 AND status = \$5`).
		WithArgs("failed", "boom", pgxmock.AnyArg(), "d1", "identified").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetStatus(context.Background(), "d1", detection.StatusIdentified, detection.StatusFailed, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetStatus_Stale(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE detections SET status").
		WithArgs("completed", "", pgxmock.AnyArg(), "d1", "verified").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM detections").
		WithArgs("d1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("failed"))

	err := store.SetStatus(context.Background(), "d1", detection.StatusVerified, detection.StatusCompleted, "")
	assert.ErrorIs(t, err, detection.ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveConfirmation_AlreadyConfirmed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`confirmed_at = \$9, updated_at = \$10 WHERE id = \$11 AND status = \$12 AND confirmed_at IS NULL`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM detections").
		WithArgs("d1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("identified"))

	err := store.SaveConfirmation(context.Background(), "d1", detection.Identification{Brand: "Apple"}, time.Now())
	assert.ErrorIs(t, err, detection.ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetStatus_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE detections SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM detections").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows([]string{"status"}))

	err := store.SetStatus(context.Background(), "nope", detection.StatusPending, detection.StatusFailed, "")
	assert.ErrorIs(t, err, detection.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetStatus_InvalidTransitionSkipsDatabase(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.SetStatus(context.Background(), "d1", detection.StatusCompleted, detection.StatusPending, "")
	assert.ErrorIs(t, err, detection.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordOutcome(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE detections SET pricing_outcome").
		WithArgs("failed", "no results", pgxmock.AnyArg(), "d1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.RecordOutcome(context.Background(), "d1", detection.BranchPricing, detection.OutcomeFailed, "no results"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertAttributes(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO metadata_attributes").
		WithArgs("d1", "storage", "256GB", "string", "electronics", "identification", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("ON CONFLICT \\(detection_id, key\\) DO UPDATE").
		WithArgs("d1", "serial_visible", "true", "boolean", "electronics", "identification", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.UpsertAttributes(context.Background(), []metadata.Attribute{
		{DetectionID: "d1", Key: "storage", Value: "256GB", ValueType: metadata.TypeString, Category: "electronics", Source: metadata.SourceIdentification, CreatedAt: now, UpdatedAt: now},
		{DetectionID: "d1", Key: "serial_visible", Value: "true", ValueType: metadata.TypeBoolean, Category: "electronics", Source: metadata.SourceIdentification, CreatedAt: now, UpdatedAt: now},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListAttributes(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT detection_id, key, value, value_type").
		WithArgs("d1").
		WillReturnRows(pgxmock.NewRows([]string{"detection_id", "key", "value", "value_type", "category", "source", "created_at", "updated_at"}).
			AddRow("d1", "ram", "16", "number", "electronics", "identification", now, now))

	attrs, err := store.ListAttributes(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, metadata.TypeNumber, attrs[0].ValueType)

	v, err := attrs[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, float64(16), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCacheMiss(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT response, model FROM inference_cache").
		WithArgs("h1").
		WillReturnRows(pgxmock.NewRows([]string{"response", "model"}))

	got, err := store.GetCachedResponse(context.Background(), "h1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildListQuery(t *testing.T) {
	query, args := buildListQuery(DetectionFilter{OwnerID: "u1", Brand: "Sony", Limit: 5}, func(n int) string {
		return "$" + string(rune('0'+n))
	})
	assert.Contains(t, query, "WHERE owner_id = $1 AND brand = $2 ORDER BY created_at DESC LIMIT $3")
	assert.Equal(t, []any{"u1", "Sony", 5}, args)
}
