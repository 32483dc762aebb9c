// Package pgstore implements billing.CheckoutStore on PostgreSQL.
//
// Every write is a single statement. Ordering-guarded writes embed the
// timestamp comparison in the WHERE clause so that concurrent deliveries
// cannot interleave a read and a write.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/billsync/pkg/billing"
	"github.com/dmitrymomot/billsync/pkg/pg"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store writes account, subscription and alert records.
type Store struct {
	db DBTX
}

var _ billing.CheckoutStore = (*Store)(nil)

// New creates a Store. Panics if db is nil.
func New(db DBTX) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &Store{db: db}
}

const accountCustomerSQL = `SELECT COALESCE(stripe_customer_id, '') FROM companies WHERE id = $1`

func (s *Store) AccountCustomerID(ctx context.Context, accountID uuid.UUID) (string, error) {
	var customerID string
	err := s.db.QueryRow(ctx, accountCustomerSQL, accountID).Scan(&customerID)
	switch {
	case err == nil:
		return customerID, nil
	case pg.IsNotFoundError(err):
		return "", billing.ErrNoRecordMatched
	default:
		return "", fmt.Errorf("account customer: %w", err)
	}
}

const patchAccountSQL = `UPDATE companies SET
	subscription_status   = COALESCE(NULLIF($2::text, ''), subscription_status),
	plan_type             = COALESCE(NULLIF($3::text, ''), plan_type),
	stripe_customer_id    = COALESCE(stripe_customer_id, NULLIF($4::text, '')),
	subscription_event_at = COALESCE($5::timestamptz, subscription_event_at),
	updated_at            = $6
WHERE %s = $1
	AND (subscription_event_at IS NULL OR $5::timestamptz IS NULL OR subscription_event_at <= $5::timestamptz)
RETURNING id::text`

const accountExistsSQL = `SELECT EXISTS (SELECT 1 FROM companies WHERE %s = $1)`

var (
	patchAccountByCustomerSQL = fmt.Sprintf(patchAccountSQL, "stripe_customer_id")
	patchAccountByIDSQL       = fmt.Sprintf(patchAccountSQL, "id")
	accountByCustomerSQL      = fmt.Sprintf(accountExistsSQL, "stripe_customer_id")
	accountByIDSQL            = fmt.Sprintf(accountExistsSQL, "id")
)

func (s *Store) PatchAccountByCustomer(ctx context.Context, customerID string, patch billing.AccountPatch) error {
	return s.patchAccount(ctx, patchAccountByCustomerSQL, accountByCustomerSQL, customerID, patch)
}

func (s *Store) PatchAccountByID(ctx context.Context, accountID uuid.UUID, patch billing.AccountPatch) error {
	return s.patchAccount(ctx, patchAccountByIDSQL, accountByIDSQL, accountID, patch)
}

func (s *Store) patchAccount(ctx context.Context, query, existsQuery string, key any, patch billing.AccountPatch) error {
	var id string
	err := s.db.QueryRow(ctx, query,
		key,
		string(patch.Status),
		string(patch.PlanTier),
		patch.CustomerID,
		stamp(patch.EventAt),
		patch.UpdatedAt,
	).Scan(&id)
	if err == nil {
		return nil
	}
	if !pg.IsNotFoundError(err) {
		return fmt.Errorf("patch account: %w", err)
	}
	return s.missOrStale(ctx, existsQuery, key)
}

const upsertSubscriptionSQL = `INSERT INTO subscriptions (
	id, stripe_customer_id, status, current_period_start, current_period_end,
	cancel_at_period_end, last_event_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (id) DO UPDATE SET
	stripe_customer_id   = EXCLUDED.stripe_customer_id,
	status               = EXCLUDED.status,
	current_period_start = EXCLUDED.current_period_start,
	current_period_end   = EXCLUDED.current_period_end,
	cancel_at_period_end = EXCLUDED.cancel_at_period_end,
	last_event_at        = COALESCE(EXCLUDED.last_event_at, subscriptions.last_event_at),
	updated_at           = EXCLUDED.updated_at
WHERE subscriptions.last_event_at IS NULL
	OR EXCLUDED.last_event_at IS NULL
	OR subscriptions.last_event_at <= EXCLUDED.last_event_at
RETURNING id`

func (s *Store) UpsertSubscription(ctx context.Context, state billing.SubscriptionState) error {
	var id string
	err := s.db.QueryRow(ctx, upsertSubscriptionSQL,
		state.ID,
		state.CustomerID,
		string(state.Status),
		state.CurrentPeriodStart,
		state.CurrentPeriodEnd,
		state.CancelAtPeriodEnd,
		stamp(state.EventAt),
		state.UpdatedAt,
	).Scan(&id)
	switch {
	case err == nil:
		return nil
	case pg.IsNotFoundError(err):
		// The conflict branch was skipped by the guard.
		return billing.ErrStaleEvent
	default:
		return fmt.Errorf("upsert subscription: %w", err)
	}
}

const patchSubscriptionStatusSQL = `UPDATE subscriptions SET
	status        = $2,
	last_event_at = COALESCE($3::timestamptz, last_event_at),
	updated_at    = $4
WHERE id = $1
	AND (last_event_at IS NULL OR $3::timestamptz IS NULL OR last_event_at <= $3::timestamptz)
RETURNING id`

const subscriptionExistsSQL = `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`

func (s *Store) PatchSubscriptionStatus(ctx context.Context, subscriptionID string, status billing.Status, eventAt, updatedAt time.Time) error {
	var id string
	err := s.db.QueryRow(ctx, patchSubscriptionStatusSQL,
		subscriptionID, string(status), stamp(eventAt), updatedAt,
	).Scan(&id)
	if err == nil {
		return nil
	}
	if !pg.IsNotFoundError(err) {
		return fmt.Errorf("patch subscription status: %w", err)
	}
	return s.missOrStale(ctx, subscriptionExistsSQL, subscriptionID)
}

const insertSubscriptionSQL = `INSERT INTO subscriptions (
	id, company_id, stripe_customer_id, status, plan_type, plan_name, plan_price,
	currency, billing_period, current_period_start, current_period_end,
	cancel_at_period_end, last_event_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

func (s *Store) InsertSubscription(ctx context.Context, rec billing.SubscriptionRecord) error {
	_, err := s.db.Exec(ctx, insertSubscriptionSQL,
		rec.ID,
		owner(rec.AccountID),
		rec.CustomerID,
		string(rec.Status),
		string(rec.PlanTier),
		rec.PlanName,
		rec.PlanPrice.Amount,
		rec.PlanPrice.Currency,
		string(rec.BillingPeriod),
		rec.CurrentPeriodStart,
		rec.CurrentPeriodEnd,
		rec.CancelAtPeriodEnd,
		stamp(rec.EventAt),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateKeyError(err):
		return billing.ErrDuplicateRecord
	default:
		return fmt.Errorf("insert subscription: %w", err)
	}
}

const attachSubscriptionOwnerSQL = `UPDATE subscriptions SET
	company_id           = $2,
	plan_type            = $3,
	plan_name            = $4,
	plan_price           = $5,
	currency             = $6,
	billing_period       = $7,
	current_period_start = COALESCE(current_period_start, $8),
	current_period_end   = COALESCE(current_period_end, $9),
	updated_at           = $10
WHERE id = $1`

func (s *Store) AttachSubscriptionOwner(ctx context.Context, rec billing.SubscriptionRecord) error {
	tag, err := s.db.Exec(ctx, attachSubscriptionOwnerSQL,
		rec.ID,
		owner(rec.AccountID),
		string(rec.PlanTier),
		rec.PlanName,
		rec.PlanPrice.Amount,
		rec.PlanPrice.Currency,
		string(rec.BillingPeriod),
		rec.CurrentPeriodStart,
		rec.CurrentPeriodEnd,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("attach subscription owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNoRecordMatched
	}
	return nil
}

const insertAlertSQL = `INSERT INTO alerts (
	id, category, title, description, severity, source_platform,
	external_reference, metadata, source_event_id, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9::text, ''), $10)
ON CONFLICT (source_event_id) DO NOTHING
RETURNING id::text`

func (s *Store) InsertAlert(ctx context.Context, alert billing.Alert) error {
	metadata := alert.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	var id string
	err := s.db.QueryRow(ctx, insertAlertSQL,
		alert.ID,
		alert.Category,
		alert.Title,
		alert.Description,
		alert.Severity,
		alert.SourcePlatform,
		alert.ExternalReference,
		metadata,
		alert.SourceEventID,
		alert.CreatedAt,
	).Scan(&id)
	switch {
	case err == nil:
		return nil
	case pg.IsNotFoundError(err):
		return billing.ErrDuplicateRecord
	default:
		return fmt.Errorf("insert alert: %w", err)
	}
}

// missOrStale resolves an empty guarded update: the row is either absent
// or was written by a newer event.
func (s *Store) missOrStale(ctx context.Context, query string, key any) error {
	var exists bool
	if err := s.db.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return errors.Join(billing.ErrNoRecordMatched, err)
	}
	if exists {
		return billing.ErrStaleEvent
	}
	return billing.ErrNoRecordMatched
}

func stamp(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func owner(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
