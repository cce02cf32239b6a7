package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/metadata"
)

// Pool is the subset of *pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it as well.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements the same repositories as SQLiteStore on a
// PostgreSQL pool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, e.g. a pgxmock pool in tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS detections (
	id                      TEXT PRIMARY KEY,
	owner_id                TEXT,
	status                  TEXT NOT NULL,
	category                TEXT NOT NULL DEFAULT '',
	category_confidence     INTEGER NOT NULL DEFAULT 0,
	identified_product      TEXT NOT NULL DEFAULT '',
	brand                   TEXT NOT NULL DEFAULT '',
	model                   TEXT NOT NULL DEFAULT '',
	color_variants          JSONB NOT NULL DEFAULT '[]',
	condition_rating        TEXT NOT NULL DEFAULT '',
	confidence_score        INTEGER NOT NULL DEFAULT 0,
	estimated_year          TEXT NOT NULL DEFAULT '',
	short_description       TEXT NOT NULL DEFAULT '',
	authenticity_status     TEXT NOT NULL DEFAULT '',
	verification_confidence INTEGER NOT NULL DEFAULT 0,
	specs_match             BOOLEAN,
	warnings                JSONB NOT NULL DEFAULT '[]',
	average_price           DOUBLE PRECISION NOT NULL DEFAULT 0,
	min_price               DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_price               DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency                TEXT NOT NULL DEFAULT '',
	item_count              INTEGER NOT NULL DEFAULT 0,
	pricing_updated_at      TIMESTAMPTZ,
	image_refs              JSONB NOT NULL DEFAULT '[]',
	input_text              TEXT NOT NULL DEFAULT '',
	confirmed_at            TIMESTAMPTZ,
	verification_outcome    TEXT NOT NULL DEFAULT 'pending',
	verification_error      TEXT NOT NULL DEFAULT '',
	pricing_outcome         TEXT NOT NULL DEFAULT 'pending',
	pricing_error           TEXT NOT NULL DEFAULT '',
	error_message           TEXT NOT NULL DEFAULT '',
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS metadata_attributes (
	detection_id TEXT NOT NULL REFERENCES detections(id) ON DELETE CASCADE,
	key          TEXT NOT NULL,
	value        TEXT NOT NULL,
	value_type   TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (detection_id, key)
);

CREATE TABLE IF NOT EXISTS inference_cache (
	request_hash TEXT PRIMARY KEY,
	model        TEXT NOT NULL DEFAULT '',
	response     TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_detections_owner_status ON detections(owner_id, status);
CREATE INDEX IF NOT EXISTS idx_detections_category_brand_created ON detections(category, brand, created_at DESC);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// placeholders renders "$from, $from+1, ..." for n parameters.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

// CreateDetection inserts a new detection. An empty ID is replaced by a new uuid.
func (s *PostgresStore) CreateDetection(ctx context.Context, rec *detection.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = detection.StatusPending
	}
	if rec.VerificationOutcome == "" {
		rec.VerificationOutcome = detection.OutcomePending
	}
	if rec.PricingOutcome == "" {
		rec.PricingOutcome = detection.OutcomePending
	}

	args, err := detectionArgs(rec)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("INSERT INTO detections (%s) VALUES (%s)", detectionColumns, placeholders(1, len(args)))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: insert detection: %w", err)
	}
	return nil
}

// GetDetection returns detection.ErrNotFound for an unknown id.
func (s *PostgresStore) GetDetection(ctx context.Context, id string) (*detection.Record, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+detectionColumns+" FROM detections WHERE id = $1", id)
	rec, err := scanDetection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", detection.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get detection: %w", err)
	}
	return rec, nil
}

// ListDetections returns matching detections, newest first.
func (s *PostgresStore) ListDetections(ctx context.Context, f DetectionFilter) ([]*detection.Record, error) {
	query, args := buildListQuery(f, func(n int) string { return fmt.Sprintf("$%d", n) })
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list detections: %w", err)
	}
	defer rows.Close()

	var out []*detection.Record
	for rows.Next() {
		rec, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan detection: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteDetection removes a detection and its attributes.
func (s *PostgresStore) DeleteDetection(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM detections WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete detection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", detection.ErrNotFound, id)
	}
	return nil
}

// casUpdate appends "WHERE id = $n AND status = $n+1" to set and reports zero
// affected rows as ErrNotFound or ErrStaleStatus.
func (s *PostgresStore) casUpdate(ctx context.Context, set string, args []any, id string, from detection.Status) error {
	return s.casUpdateWhere(ctx, set, "", args, id, from)
}

// casUpdateWhere is casUpdate with an extra condition ANDed to the guard.
func (s *PostgresStore) casUpdateWhere(ctx context.Context, set, cond string, args []any, id string, from detection.Status) error {
	query := fmt.Sprintf("UPDATE detections SET %s WHERE id = $%d AND status = $%d", set, len(args)+1, len(args)+2)
	if cond != "" {
		query += " AND " + cond
	}
	args = append(args, id, string(from))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update detection: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, "SELECT status FROM detections WHERE id = $1", id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", detection.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("postgres: query detection status: %w", err)
	}
	return fmt.Errorf("%w: expected %s, found %s", detection.ErrStaleStatus, from, current)
}

// SetStatus moves a detection from -> to if its stored status is still from.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, from, to detection.Status, message string) error {
	if err := detection.CheckTransition(from, to); err != nil {
		return err
	}
	return s.casUpdate(ctx, "status = $1, error_message = $2, updated_at = $3",
		[]any{string(to), message, time.Now().UTC()}, id, from)
}

// SetImageRefs replaces the ordered image references.
func (s *PostgresStore) SetImageRefs(ctx context.Context, id string, refs []string) error {
	encoded, err := encodeList(refs)
	if err != nil {
		return err
	}
	return s.exec(ctx, "UPDATE detections SET image_refs = $1, updated_at = $2 WHERE id = $3",
		encoded, time.Now().UTC(), id)
}

// SaveCategory stores the category result together with the status change.
func (s *PostgresStore) SaveCategory(ctx context.Context, id string, category detection.Category, confidence int, from, to detection.Status) error {
	if err := detection.CheckTransition(from, to); err != nil {
		return err
	}
	return s.casUpdate(ctx, "category = $1, category_confidence = $2, status = $3, updated_at = $4",
		[]any{string(category), confidence, string(to), time.Now().UTC()}, id, from)
}

const pgIdentificationSet = `identified_product = $1, brand = $2, model = $3, color_variants = $4,
	condition_rating = $5, confidence_score = $6, estimated_year = $7, short_description = $8`

// SaveIdentification writes all core identification fields and the status
// change in one statement.
func (s *PostgresStore) SaveIdentification(ctx context.Context, id string, ident detection.Identification, from, to detection.Status) error {
	if err := detection.CheckTransition(from, to); err != nil {
		return err
	}
	args, err := identificationArgs(ident)
	if err != nil {
		return err
	}
	args = append(args, string(to), time.Now().UTC())
	return s.casUpdate(ctx, pgIdentificationSet+", status = $9, updated_at = $10", args, id, from)
}

// SaveConfirmation writes the identification and the confirmation time. The
// detection must still be identified and not yet confirmed; otherwise
// ErrStaleStatus is returned.
func (s *PostgresStore) SaveConfirmation(ctx context.Context, id string, ident detection.Identification, confirmedAt time.Time) error {
	args, err := identificationArgs(ident)
	if err != nil {
		return err
	}
	args = append(args, confirmedAt.UTC(), time.Now().UTC())
	return s.casUpdateWhere(ctx, pgIdentificationSet+", confirmed_at = $9, updated_at = $10", "confirmed_at IS NULL",
		args, id, detection.StatusIdentified)
}

// SaveVerification writes the verification fields.
func (s *PostgresStore) SaveVerification(ctx context.Context, id string, v detection.Verification) error {
	warnings, err := encodeList(v.Warnings)
	if err != nil {
		return err
	}
	return s.exec(ctx, `UPDATE detections SET authenticity_status = $1, verification_confidence = $2, specs_match = $3,
		warnings = $4, updated_at = $5 WHERE id = $6`,
		v.AuthenticityStatus, v.VerificationConfidence, v.SpecsMatch, warnings, time.Now().UTC(), id)
}

// SavePricing writes the pricing fields.
func (s *PostgresStore) SavePricing(ctx context.Context, id string, p detection.Pricing) error {
	return s.exec(ctx, `UPDATE detections SET average_price = $1, min_price = $2, max_price = $3, currency = $4,
		item_count = $5, pricing_updated_at = $6, updated_at = $7 WHERE id = $8`,
		p.AveragePrice, p.MinPrice, p.MaxPrice, p.Currency, p.ItemCount, p.UpdatedAt, time.Now().UTC(), id)
}

// RecordOutcome stores a branch outcome and its error message.
func (s *PostgresStore) RecordOutcome(ctx context.Context, id string, branch detection.Branch, outcome detection.Outcome, message string) error {
	var query string
	switch branch {
	case detection.BranchVerification:
		query = "UPDATE detections SET verification_outcome = $1, verification_error = $2, updated_at = $3 WHERE id = $4"
	case detection.BranchPricing:
		query = "UPDATE detections SET pricing_outcome = $1, pricing_error = $2, updated_at = $3 WHERE id = $4"
	default:
		return fmt.Errorf("unknown branch %q", branch)
	}
	return s.exec(ctx, query, string(outcome), message, time.Now().UTC(), id)
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update detection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", detection.ErrNotFound, args[len(args)-1])
	}
	return nil
}

// UpsertAttributes writes all attributes in one transaction.
func (s *PostgresStore) UpsertAttributes(ctx context.Context, attrs []metadata.Attribute) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, a := range attrs {
		_, err := tx.Exec(ctx, `
			INSERT INTO metadata_attributes (detection_id, key, value, value_type, category, source, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (detection_id, key) DO UPDATE SET
				value = EXCLUDED.value,
				value_type = EXCLUDED.value_type,
				category = EXCLUDED.category,
				source = EXCLUDED.source,
				updated_at = EXCLUDED.updated_at`,
			a.DetectionID, a.Key, a.Value, string(a.ValueType), a.Category, string(a.Source), a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("postgres: upsert attribute %q: %w", a.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit attributes: %w", err)
	}
	return nil
}

// ListAttributes returns the attributes of a detection ordered by key.
func (s *PostgresStore) ListAttributes(ctx context.Context, detectionID string) ([]metadata.Attribute, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT detection_id, key, value, value_type, category, source, created_at, updated_at
		FROM metadata_attributes WHERE detection_id = $1 ORDER BY key`, detectionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attributes: %w", err)
	}
	defer rows.Close()

	var out []metadata.Attribute
	for rows.Next() {
		var a metadata.Attribute
		var valueType, source string
		if err := rows.Scan(&a.DetectionID, &a.Key, &a.Value, &valueType, &a.Category, &source, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan attribute: %w", err)
		}
		if a.ValueType, err = metadata.ParseValueType(valueType); err != nil {
			return nil, err
		}
		a.Source = metadata.Source(source)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetCachedResponse returns nil, nil on a cache miss.
func (s *PostgresStore) GetCachedResponse(ctx context.Context, key string) (*llm.CachedResponse, error) {
	var resp llm.CachedResponse
	err := s.pool.QueryRow(ctx,
		"SELECT response, model FROM inference_cache WHERE request_hash = $1", key,
	).Scan(&resp.Text, &resp.Model)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get cached response: %w", err)
	}
	return &resp, nil
}

// SetCachedResponse stores a response for a request hash.
func (s *PostgresStore) SetCachedResponse(ctx context.Context, key string, resp *llm.CachedResponse) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inference_cache (request_hash, model, response)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_hash) DO UPDATE SET
			model = EXCLUDED.model,
			response = EXCLUDED.response,
			created_at = now()`,
		key, resp.Model, resp.Text)
	if err != nil {
		return fmt.Errorf("postgres: set cached response: %w", err)
	}
	return nil
}
