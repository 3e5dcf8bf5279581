package entitlement

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists entitlement records in SQLite. Writers from checkout and
// webhook ingestion may race on the same user; every mutation is a
// field-level merge executed as a single conditional statement, so races on
// disjoint fields are safe and the customer-identity race is decided by the
// database, not by application-level read-then-write.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the entitlement database in dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create entitlement dir: %w", err)
	}

	dbPath := filepath.Join(dir, "entitlements.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open entitlement db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entitlements (
		user_id                 TEXT PRIMARY KEY,
		tier                    TEXT NOT NULL DEFAULT 'free',
		billing_customer_id     TEXT NOT NULL DEFAULT '',
		billing_subscription_id TEXT NOT NULL DEFAULT '',
		expires_at              INTEGER,
		created_at              INTEGER NOT NULL,
		updated_at              INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entitlements_customer_id ON entitlements(billing_customer_id);
	CREATE TABLE IF NOT EXISTS webhook_events (
		event_id    TEXT PRIMARY KEY,
		event_type  TEXT NOT NULL DEFAULT '',
		received_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init entitlement schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureRecord returns the record for userID, creating a default free-tier
// record if none exists. The create is a set-if-absent insert, so concurrent
// callers for the same user cannot produce two records; a losing writer
// reads back the winner's row.
func (s *Store) EnsureRecord(ctx context.Context, userID string) (*Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is empty")
	}
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entitlements (user_id, tier, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, string(TierFree), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure entitlement record: %w", err)
	}
	rec, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("entitlement record %q missing after insert", userID)
	}
	return rec, nil
}

// Get retrieves a record by user ID. Returns nil when absent.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		user_id, tier, billing_customer_id, billing_subscription_id,
		expires_at, created_at, updated_at
		FROM entitlements WHERE user_id = ?`, userID)
	return scanRecord(row)
}

// GetByCustomerID retrieves a record by external billing customer ID.
// Returns nil when no user maps to the customer.
func (s *Store) GetByCustomerID(ctx context.Context, customerID string) (*Record, error) {
	if customerID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT
		user_id, tier, billing_customer_id, billing_subscription_id,
		expires_at, created_at, updated_at
		FROM entitlements WHERE billing_customer_id = ?`, customerID)
	return scanRecord(row)
}

// SetCustomerIDIfAbsent writes the billing customer ID only if the field is
// still unset. Returns true when this caller's write won. The condition runs
// inside the database, so two concurrent callers cannot both win.
func (s *Store) SetCustomerIDIfAbsent(ctx context.Context, userID, customerID string) (bool, error) {
	if customerID == "" {
		return false, fmt.Errorf("customer id is empty")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE entitlements SET billing_customer_id = ?, updated_at = ?
		WHERE user_id = ? AND billing_customer_id = ''`,
		customerID, time.Now().UTC().Unix(), userID,
	)
	if err != nil {
		return false, fmt.Errorf("set billing customer id: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ApplyCheckoutCompleted records a completed checkout: the user becomes pro
// with the event's subscription ID, and the customer correlation is
// established if it was not already. The statement carries the event's full
// truth for these fields, so replaying it is a no-op.
func (s *Store) ApplyCheckoutCompleted(ctx context.Context, userID, customerID, subscriptionID string) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entitlements (user_id, tier, billing_customer_id, billing_subscription_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			tier = excluded.tier,
			billing_subscription_id = excluded.billing_subscription_id,
			billing_customer_id = CASE
				WHEN entitlements.billing_customer_id = '' THEN excluded.billing_customer_id
				ELSE entitlements.billing_customer_id
			END,
			updated_at = excluded.updated_at`,
		userID, string(TierPro), customerID, subscriptionID, now, now,
	)
	if err != nil {
		return fmt.Errorf("apply checkout completed for %q: %w", userID, err)
	}
	return nil
}

// ApplySubscriptionState sets the tier, subscription ID, and expiry for a
// user from a subscription event. A nil expiresAt clears the stored expiry.
func (s *Store) ApplySubscriptionState(ctx context.Context, userID string, tier Tier, subscriptionID string, expiresAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entitlements SET
			tier = ?, billing_subscription_id = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ?`,
		string(tier), subscriptionID, nullableTimeUnix(expiresAt), time.Now().UTC().Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("apply subscription state for %q: %w", userID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("entitlement record %q not found", userID)
	}
	return nil
}

// ClearSubscription downgrades a user to free and clears the subscription
// ID and expiry. The customer correlation is kept.
func (s *Store) ClearSubscription(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entitlements SET
			tier = ?, billing_subscription_id = '', expires_at = NULL, updated_at = ?
		WHERE user_id = ?`,
		string(TierFree), time.Now().UTC().Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("clear subscription for %q: %w", userID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("entitlement record %q not found", userID)
	}
	return nil
}

// List returns all entitlement records, newest first.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		user_id, tier, billing_customer_id, billing_subscription_id,
		expires_at, created_at, updated_at
		FROM entitlements ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CountByTier returns a map of tier -> record count.
func (s *Store) CountByTier(ctx context.Context) (map[Tier]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tier, COUNT(*) FROM entitlements GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("count entitlements by tier: %w", err)
	}
	defer rows.Close()

	counts := make(map[Tier]int)
	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Tier(tier)] = count
	}
	return counts, rows.Err()
}

// ListProExpiredBefore returns pro records whose expiry passed before cutoff.
// Used by the expiry auditor to surface billing drift.
func (s *Store) ListProExpiredBefore(ctx context.Context, cutoff time.Time) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		user_id, tier, billing_customer_id, billing_subscription_id,
		expires_at, created_at, updated_at
		FROM entitlements
		WHERE tier = ? AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at ASC`,
		string(TierPro), cutoff.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("list expired pro entitlements: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// EventProcessed reports whether a webhook event ID has already been applied.
func (s *Store) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM webhook_events WHERE event_id = ?`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check webhook event %q: %w", eventID, err)
	}
	return true, nil
}

// MarkEventProcessed records a webhook event ID after its effect has been
// durably applied. Events that failed to apply are never recorded, so the
// processor's redelivery re-runs the handler.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	if eventID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, received_at)
		VALUES (?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		eventID, eventType, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("mark webhook event %q processed: %w", eventID, err)
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var r Record
	var tier string
	var expiresAt sql.NullInt64
	var createdAt, updatedAt int64

	err := s.Scan(
		&r.UserID, &tier, &r.BillingCustomerID, &r.BillingSubscriptionID,
		&expiresAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan entitlement record: %w", err)
	}

	r.Tier = Tier(tier)
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	r.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if expiresAt.Valid {
		ts := time.Unix(expiresAt.Int64, 0).UTC()
		r.ExpiresAt = &ts
	}
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
