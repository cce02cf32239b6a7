// Package storage persists detections, their metadata attributes, cached
// inference responses and shared OAuth tokens.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/metadata"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the detection and metadata repositories, the
// inference response cache and the encrypted token cache on one SQLite file.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
// encryptionKey protects cached OAuth tokens; it may be nil when the token
// cache is not used.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	// Configure SQLite with WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions now that the file exists
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Str("path", dbPath).Msg("failed to restrict database permissions")
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	detectionsQuery := `
	CREATE TABLE IF NOT EXISTS detections (
		id TEXT PRIMARY KEY,
		owner_id TEXT,
		status TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		category_confidence INTEGER NOT NULL DEFAULT 0,
		identified_product TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		color_variants TEXT NOT NULL DEFAULT '[]',
		condition_rating TEXT NOT NULL DEFAULT '',
		confidence_score INTEGER NOT NULL DEFAULT 0,
		estimated_year TEXT NOT NULL DEFAULT '',
		short_description TEXT NOT NULL DEFAULT '',
		authenticity_status TEXT NOT NULL DEFAULT '',
		verification_confidence INTEGER NOT NULL DEFAULT 0,
		specs_match INTEGER,
		warnings TEXT NOT NULL DEFAULT '[]',
		average_price REAL NOT NULL DEFAULT 0,
		min_price REAL NOT NULL DEFAULT 0,
		max_price REAL NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		item_count INTEGER NOT NULL DEFAULT 0,
		pricing_updated_at DATETIME,
		image_refs TEXT NOT NULL DEFAULT '[]',
		input_text TEXT NOT NULL DEFAULT '',
		confirmed_at DATETIME,
		verification_outcome TEXT NOT NULL DEFAULT 'pending',
		verification_error TEXT NOT NULL DEFAULT '',
		pricing_outcome TEXT NOT NULL DEFAULT 'pending',
		pricing_error TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_detections_owner_status ON detections(owner_id, status);
	CREATE INDEX IF NOT EXISTS idx_detections_category_brand_created ON detections(category, brand, created_at);
	`
	if _, err := s.db.Exec(detectionsQuery); err != nil {
		return fmt.Errorf("failed to create detections table: %w", err)
	}

	attributesQuery := `
	CREATE TABLE IF NOT EXISTS metadata_attributes (
		detection_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		value_type TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (detection_id, key),
		FOREIGN KEY (detection_id) REFERENCES detections(id) ON DELETE CASCADE
	);
	`
	if _, err := s.db.Exec(attributesQuery); err != nil {
		return fmt.Errorf("failed to create metadata_attributes table: %w", err)
	}

	cacheQuery := `
	CREATE TABLE IF NOT EXISTS inference_cache (
		request_hash TEXT PRIMARY KEY,
		model TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(cacheQuery); err != nil {
		return fmt.Errorf("failed to create inference_cache table: %w", err)
	}

	tokensQuery := `
	CREATE TABLE IF NOT EXISTS oauth_tokens (
		cache_key TEXT PRIMARY KEY,
		encrypted_token TEXT NOT NULL,
		expires_at DATETIME,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(tokensQuery); err != nil {
		return fmt.Errorf("failed to create oauth_tokens table: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const detectionColumns = `id, owner_id, status, category, category_confidence,
	identified_product, brand, model, color_variants, condition_rating, confidence_score, estimated_year, short_description,
	authenticity_status, verification_confidence, specs_match, warnings,
	average_price, min_price, max_price, currency, item_count, pricing_updated_at,
	image_refs, input_text, confirmed_at,
	verification_outcome, verification_error, pricing_outcome, pricing_error, error_message,
	created_at, updated_at`

// CreateDetection inserts a new detection. An empty ID is replaced by a new uuid.
func (s *SQLiteStore) CreateDetection(ctx context.Context, rec *detection.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	query := fmt.Sprintf("INSERT INTO detections (%s) VALUES (%s)", detectionColumns, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}
	return nil
}

func detectionArgs(r *detection.Record) ([]any, error) {
	colors, err := encodeList(r.Identification.ColorVariants)
	if err != nil {
		return nil, err
	}
	warnings, err := encodeList(r.Verification.Warnings)
	if err != nil {
		return nil, err
	}
	refs, err := encodeList(r.ImageRefs)
	if err != nil {
		return nil, err
	}

	return []any{
		r.ID, nullString(r.OwnerID), string(r.Status), string(r.Category), r.CategoryConfidence,
		r.Identification.IdentifiedProduct, r.Identification.Brand, r.Identification.Model, colors,
		r.Identification.ConditionRating, r.Identification.ConfidenceScore, r.Identification.EstimatedYear,
		r.Identification.ShortDescription,
		r.Verification.AuthenticityStatus, r.Verification.VerificationConfidence, nullBool(r.Verification.SpecsMatch), warnings,
		r.Pricing.AveragePrice, r.Pricing.MinPrice, r.Pricing.MaxPrice, r.Pricing.Currency, r.Pricing.ItemCount,
		nullTime(r.Pricing.UpdatedAt),
		refs, r.InputText, nullTime(r.ConfirmedAt),
		string(r.VerificationOutcome), r.VerificationError, string(r.PricingOutcome), r.PricingError, r.ErrorMessage,
		r.CreatedAt, r.UpdatedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDetection(row rowScanner) (*detection.Record, error) {
	var r detection.Record
	var ownerID sql.NullString
	var specsMatch sql.NullBool
	var pricingUpdatedAt, confirmedAt sql.NullTime
	var status, category, colors, warnings, refs, verificationOutcome, pricingOutcome string

	err := row.Scan(
		&r.ID, &ownerID, &status, &category, &r.CategoryConfidence,
		&r.Identification.IdentifiedProduct, &r.Identification.Brand, &r.Identification.Model, &colors,
		&r.Identification.ConditionRating, &r.Identification.ConfidenceScore, &r.Identification.EstimatedYear,
		&r.Identification.ShortDescription,
		&r.Verification.AuthenticityStatus, &r.Verification.VerificationConfidence, &specsMatch, &warnings,
		&r.Pricing.AveragePrice, &r.Pricing.MinPrice, &r.Pricing.MaxPrice, &r.Pricing.Currency, &r.Pricing.ItemCount,
		&pricingUpdatedAt,
		&refs, &r.InputText, &confirmedAt,
		&verificationOutcome, &r.VerificationError, &pricingOutcome, &r.PricingError, &r.ErrorMessage,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.Status, err = detection.ParseStatus(status); err != nil {
		return nil, err
	}
	r.Category = detection.Category(category)
	r.VerificationOutcome = detection.Outcome(verificationOutcome)
	r.PricingOutcome = detection.Outcome(pricingOutcome)

	if ownerID.Valid {
		r.OwnerID = &ownerID.String
	}
	if specsMatch.Valid {
		r.Verification.SpecsMatch = &specsMatch.Bool
	}
	if pricingUpdatedAt.Valid {
		r.Pricing.UpdatedAt = &pricingUpdatedAt.Time
	}
	if confirmedAt.Valid {
		r.ConfirmedAt = &confirmedAt.Time
	}

	if r.Identification.ColorVariants, err = decodeList(colors); err != nil {
		return nil, err
	}
	if r.Verification.Warnings, err = decodeList(warnings); err != nil {
		return nil, err
	}
	if r.ImageRefs, err = decodeList(refs); err != nil {
		return nil, err
	}

	return &r, nil
}

// GetDetection returns detection.ErrNotFound for an unknown id.
func (s *SQLiteStore) GetDetection(ctx context.Context, id string) (*detection.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+detectionColumns+" FROM detections WHERE id = ?", id)
	rec, err := scanDetection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", detection.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query detection: %w", err)
	}
	return rec, nil
}

// DetectionFilter narrows ListDetections. Empty fields match everything.
type DetectionFilter struct {
	OwnerID  string
	Status   detection.Status
	Category detection.Category
	Brand    string
	Limit    int
}

// ListDetections returns matching detections, newest first.
func (s *SQLiteStore) ListDetections(ctx context.Context, f DetectionFilter) ([]*detection.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildListQuery(f, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var out []*detection.Record
	for rows.Next() {
		rec, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// buildListQuery is shared by both stores; placeholder renders the n-th
// (1-based) bind parameter.
func buildListQuery(f DetectionFilter, placeholder func(n int) string) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, placeholder(len(args))))
	}
	if f.OwnerID != "" {
		add("owner_id = %s", f.OwnerID)
	}
	if f.Status != "" {
		add("status = %s", string(f.Status))
	}
	if f.Category != "" {
		add("category = %s", string(f.Category))
	}
	if f.Brand != "" {
		add("brand = %s", f.Brand)
	}

	query := "SELECT " + detectionColumns + " FROM detections"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += " LIMIT " + placeholder(len(args))
	return query, args
}

// DeleteDetection removes a detection and, through the foreign key, its
// attributes.
func (s *SQLiteStore) DeleteDetection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM detections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete detection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", detection.ErrNotFound, id)
	}
	return nil
}

// casUpdate runs an UPDATE guarded by "WHERE id = ? AND status = ?" whose
// last two arguments are id and the expected status. Zero affected rows is
// reported as ErrNotFound or ErrStaleStatus.
func (s *SQLiteStore) casUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update detection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	id := args[len(args)-2].(string)
	var current string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM detections WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", detection.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to query detection status: %w", err)
	}
	return fmt.Errorf("%w: expected %s, found %s", detection.ErrStaleStatus, args[len(args)-1], current)
}

// SetStatus moves a detection from -> to if its stored status is still from.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, from, to detection.Status, message string) error {
	if err := detection.CheckTransition(from, to); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.casUpdate(ctx,
		"UPDATE detections SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), message, time.Now().UTC(), id, string(from))
}

// SetImageRefs replaces the ordered image references.
func (s *SQLiteStore) SetImageRefs(ctx context.Context, id string, refs []string) error {
	encoded, err := encodeList(refs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.exec(ctx, "UPDATE detections SET image_refs = ?, updated_at = ? WHERE id = ?",
		encoded, time.Now().UTC(), id)
}

// SaveCategory stores the category result together with the status change.
func (s *SQLiteStore) SaveCategory(ctx context.Context, id string, category detection.Category, confidence int, from, to detection.Status) error {
	if err := detection.CheckTransition(from, to); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.casUpdate(ctx,
		"UPDATE detections SET category = ?, category_confidence = ?, status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(category), confidence, string(to), time.Now().UTC(), id, string(from))
}

const identificationSet = `identified_product = ?, brand = ?, model = ?, color_variants = ?,
	condition_rating = ?, confidence_score = ?, estimated_year = ?, short_description = ?`

func identificationArgs(ident detection.Identification) ([]any, error) {
	colors, err := encodeList(ident.ColorVariants)
	if err != nil {
		return nil, err
	}
	return []any{
		ident.IdentifiedProduct, ident.Brand, ident.Model, colors,
		ident.ConditionRating, ident.ConfidenceScore, ident.EstimatedYear, ident.ShortDescription,
	}, nil
}

// SaveIdentification writes all core identification fields and the status
// change in one statement.
func (s *SQLiteStore) SaveIdentification(ctx context.Context, id string, ident detection.Identification, from, to detection.Status) error {
	if err := detection.CheckTransition(from, to); err != nil {
		return err
	}
	args, err := identificationArgs(ident)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	args = append(args, string(to), time.Now().UTC(), id, string(from))
	return s.casUpdate(ctx,
		"UPDATE detections SET "+identificationSet+", status = ?, updated_at = ? WHERE id = ? AND status = ?",
		args...)
}

// SaveConfirmation writes the (possibly edited) identification and the
// confirmation time. The detection must still be identified and not yet
// confirmed.
func (s *SQLiteStore) SaveConfirmation(ctx context.Context, id string, ident detection.Identification, confirmedAt time.Time) error {
	args, err := identificationArgs(ident)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	args = append(args, confirmedAt.UTC(), time.Now().UTC(), id, string(detection.StatusIdentified))
	return s.casUpdate(ctx,
		"UPDATE detections SET "+identificationSet+", confirmed_at = ?, updated_at = ? WHERE id = ? AND status = ? AND confirmed_at IS NULL",
		args...)
}

// SaveVerification writes the verification fields.
func (s *SQLiteStore) SaveVerification(ctx context.Context, id string, v detection.Verification) error {
	warnings, err := encodeList(v.Warnings)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.exec(ctx, `UPDATE detections SET authenticity_status = ?, verification_confidence = ?, specs_match = ?,
		warnings = ?, updated_at = ? WHERE id = ?`,
		v.AuthenticityStatus, v.VerificationConfidence, nullBool(v.SpecsMatch), warnings, time.Now().UTC(), id)
}

// SavePricing writes the pricing fields.
func (s *SQLiteStore) SavePricing(ctx context.Context, id string, p detection.Pricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.exec(ctx, `UPDATE detections SET average_price = ?, min_price = ?, max_price = ?, currency = ?,
		item_count = ?, pricing_updated_at = ?, updated_at = ? WHERE id = ?`,
		p.AveragePrice, p.MinPrice, p.MaxPrice, p.Currency, p.ItemCount, nullTime(p.UpdatedAt), time.Now().UTC(), id)
}

// RecordOutcome stores a branch outcome and its error message.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, id string, branch detection.Branch, outcome detection.Outcome, message string) error {
	var query string
	switch branch {
	case detection.BranchVerification:
		query = "UPDATE detections SET verification_outcome = ?, verification_error = ?, updated_at = ? WHERE id = ?"
	case detection.BranchPricing:
		query = "UPDATE detections SET pricing_outcome = ?, pricing_error = ?, updated_at = ? WHERE id = ?"
	default:
		return fmt.Errorf("unknown branch %q", branch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.exec(ctx, query, string(outcome), message, time.Now().UTC(), id)
}

// exec runs a single-row update and maps zero affected rows to ErrNotFound.
func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update detection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", detection.ErrNotFound, args[len(args)-1])
	}
	return nil
}

// UpsertAttributes writes all attributes in one transaction. An existing
// (detection_id, key) row is overwritten, keeping its created_at.
func (s *SQLiteStore) UpsertAttributes(ctx context.Context, attrs []metadata.Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metadata_attributes (detection_id, key, value, value_type, category, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(detection_id, key) DO UPDATE SET
			value = excluded.value,
			value_type = excluded.value_type,
			category = excluded.category,
			source = excluded.source,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare attribute upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range attrs {
		if _, err := stmt.ExecContext(ctx, a.DetectionID, a.Key, a.Value, string(a.ValueType), a.Category, string(a.Source), a.CreatedAt, a.UpdatedAt); err != nil {
			return fmt.Errorf("failed to upsert attribute %q: %w", a.Key, err)
		}
	}

	return tx.Commit()
}

// ListAttributes returns the attributes of a detection ordered by key.
func (s *SQLiteStore) ListAttributes(ctx context.Context, detectionID string) ([]metadata.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT detection_id, key, value, value_type, category, source, created_at, updated_at
		FROM metadata_attributes WHERE detection_id = ? ORDER BY key`, detectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributes: %w", err)
	}
	defer rows.Close()

	var out []metadata.Attribute
	for rows.Next() {
		var a metadata.Attribute
		var valueType, source string
		if err := rows.Scan(&a.DetectionID, &a.Key, &a.Value, &valueType, &a.Category, &source, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
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
func (s *SQLiteStore) GetCachedResponse(ctx context.Context, key string) (*llm.CachedResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var resp llm.CachedResponse
	err := s.db.QueryRowContext(ctx,
		"SELECT response, model FROM inference_cache WHERE request_hash = ?", key,
	).Scan(&resp.Text, &resp.Model)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query inference cache: %w", err)
	}
	return &resp, nil
}

// SetCachedResponse stores a response for a request hash.
func (s *SQLiteStore) SetCachedResponse(ctx context.Context, key string, resp *llm.CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inference_cache (request_hash, model, response)
		VALUES (?, ?, ?)
		ON CONFLICT(request_hash) DO UPDATE SET
			model = excluded.model,
			response = excluded.response,
			created_at = CURRENT_TIMESTAMP
	`, key, resp.Model, resp.Text)
	if err != nil {
		return fmt.Errorf("failed to cache inference response: %w", err)
	}
	return nil
}

var errNoEncryptionKey = errors.New("token cache encryption key is not configured")

// LoadToken returns the cached token for key, or nil, nil if none is stored.
func (s *SQLiteStore) LoadToken(ctx context.Context, key string) (*oauth2.Token, error) {
	if len(s.encryptionKey) == 0 {
		return nil, errNoEncryptionKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var encrypted string
	err := s.db.QueryRowContext(ctx, "SELECT encrypted_token FROM oauth_tokens WHERE cache_key = ?", key).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}

	plaintext, err := Decrypt(encrypted, s.encryptionKey, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(plaintext, &tok); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &tok, nil
}

// SaveToken encrypts and stores tok under key.
func (s *SQLiteStore) SaveToken(ctx context.Context, key string, tok *oauth2.Token) error {
	if len(s.encryptionKey) == 0 {
		return errNoEncryptionKey
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	encrypted, err := Encrypt(data, s.encryptionKey, []byte(key))
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expiresAt = &e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (cache_key, encrypted_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			encrypted_token = excluded.encrypted_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key, encrypted, nullTime(expiresAt), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(data), nil
}

func decodeList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
