package pgstore_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/pkg/billing"
	"github.com/dmitrymomot/billsync/pkg/billing/pgstore"
)

var (
	eventAt   = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	updatedAt = eventAt.Add(time.Minute)
)

type call struct {
	sql  string
	args []any
}

// fakeDB answers each QueryRow with the next scripted row.
type fakeDB struct {
	rows    []fakeRow
	execTag pgconn.CommandTag
	execErr error
	calls   []call
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, call{sql, args})
	return f.execTag, f.execErr
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.calls = append(f.calls, call{sql, args})
	if len(f.rows) == 0 {
		return fakeRow{err: errors.New("unexpected query")}
	}
	row := f.rows[0]
	f.rows = f.rows[1:]
	return row
}

type fakeRow struct {
	value any
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	switch d := dest[0].(type) {
	case *string:
		*d = r.value.(string)
	case *bool:
		*d = r.value.(bool)
	}
	return nil
}

func returned(v any) fakeRow { return fakeRow{value: v} }
func noRows() fakeRow        { return fakeRow{err: pgx.ErrNoRows} }

func TestAccountCustomerID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("linked", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rows: []fakeRow{returned("cus_1")}}
		got, err := pgstore.New(db).AccountCustomerID(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, "cus_1", got)
		assert.Contains(t, db.calls[0].sql, "FROM companies WHERE id = $1")
		assert.Equal(t, accountID, db.calls[0].args[0])
	})

	t.Run("missing account", func(t *testing.T) {
		t.Parallel()
		_, err := pgstore.New(&fakeDB{rows: []fakeRow{noRows()}}).AccountCustomerID(ctx, accountID)
		assert.ErrorIs(t, err, billing.ErrNoRecordMatched)
	})

	t.Run("driver errors are wrapped", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("connection reset")
		_, err := pgstore.New(&fakeDB{rows: []fakeRow{{err: boom}}}).AccountCustomerID(ctx, accountID)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, billing.ErrNoRecordMatched)
	})
}

func TestPatchAccountByCustomer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	patch := billing.AccountPatch{Status: billing.StatusActive, EventAt: eventAt, UpdatedAt: updatedAt}

	t.Run("applies", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rows: []fakeRow{returned("8c7e...")}}
		require.NoError(t, pgstore.New(db).PatchAccountByCustomer(ctx, "cus_1", patch))

		require.Len(t, db.calls, 1)
		assert.Contains(t, db.calls[0].sql, "WHERE stripe_customer_id = $1")
		assert.Contains(t, db.calls[0].sql, "subscription_event_at <= $5::timestamptz")
		assert.Equal(t, "cus_1", db.calls[0].args[0])
		assert.Equal(t, "active", db.calls[0].args[1])
		assert.Equal(t, &eventAt, db.calls[0].args[4])
	})

	t.Run("stale when the row exists", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rows: []fakeRow{noRows(), returned(true)}}
		err := pgstore.New(db).PatchAccountByCustomer(ctx, "cus_1", patch)
		assert.ErrorIs(t, err, billing.ErrStaleEvent)
		require.Len(t, db.calls, 2)
		assert.Contains(t, db.calls[1].sql, "SELECT EXISTS")
	})

	t.Run("no record matched", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rows: []fakeRow{noRows(), returned(false)}}
		err := pgstore.New(db).PatchAccountByCustomer(ctx, "cus_1", patch)
		assert.ErrorIs(t, err, billing.ErrNoRecordMatched)
	})

	t.Run("zero stamp is passed as null", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rows: []fakeRow{returned("id")}}
		require.NoError(t, pgstore.New(db).PatchAccountByCustomer(ctx, "cus_1", billing.AccountPatch{Status: billing.StatusActive}))
		assert.Nil(t, db.calls[0].args[4])
	})

	t.Run("driver errors are wrapped", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("connection reset")
		db := &fakeDB{rows: []fakeRow{{err: boom}}}
		err := pgstore.New(db).PatchAccountByCustomer(ctx, "cus_1", patch)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, billing.ErrNoRecordMatched)
	})
}

func TestPatchAccountByID(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	db := &fakeDB{rows: []fakeRow{returned(id.String())}}

	err := pgstore.New(db).PatchAccountByID(context.Background(), id, billing.AccountPatch{
		PlanTier:   billing.TierProfessional,
		CustomerID: "cus_1",
		UpdatedAt:  updatedAt,
	})
	require.NoError(t, err)
	assert.Contains(t, db.calls[0].sql, "WHERE id = $1")
	assert.Contains(t, db.calls[0].sql, "COALESCE(stripe_customer_id, NULLIF($4::text, ''))")
	assert.Equal(t, id, db.calls[0].args[0])
}

func TestUpsertSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	state := billing.SubscriptionState{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             billing.StatusActive,
		CurrentPeriodStart: eventAt,
		CurrentPeriodEnd:   eventAt.AddDate(0, 1, 0),
		EventAt:            eventAt,
		UpdatedAt:          updatedAt,
	}

	t.Run("single statement", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rows: []fakeRow{returned("sub_1")}}
		require.NoError(t, pgstore.New(db).UpsertSubscription(ctx, state))
		require.Len(t, db.calls, 1)
		assert.Contains(t, db.calls[0].sql, "ON CONFLICT (id) DO UPDATE")
		assert.Contains(t, db.calls[0].sql, "subscriptions.last_event_at <= EXCLUDED.last_event_at")
	})

	t.Run("guard rejects older event", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rows: []fakeRow{noRows()}}
		assert.ErrorIs(t, pgstore.New(db).UpsertSubscription(ctx, state), billing.ErrStaleEvent)
	})
}

func TestPatchSubscriptionStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db := &fakeDB{rows: []fakeRow{returned("sub_1")}}
	require.NoError(t, pgstore.New(db).PatchSubscriptionStatus(ctx, "sub_1", billing.StatusCancelled, eventAt, updatedAt))
	assert.Equal(t, "cancelled", db.calls[0].args[1])

	db = &fakeDB{rows: []fakeRow{noRows(), returned(false)}}
	assert.ErrorIs(t, pgstore.New(db).PatchSubscriptionStatus(ctx, "sub_404", billing.StatusCancelled, eventAt, updatedAt), billing.ErrNoRecordMatched)

	db = &fakeDB{rows: []fakeRow{noRows(), returned(true)}}
	assert.ErrorIs(t, pgstore.New(db).PatchSubscriptionStatus(ctx, "sub_1", billing.StatusCancelled, eventAt, updatedAt), billing.ErrStaleEvent)
}

func TestInsertSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := billing.SubscriptionRecord{
		ID:            "sub_1",
		AccountID:     uuid.New(),
		CustomerID:    "cus_1",
		Status:        billing.StatusIncomplete,
		PlanTier:      billing.TierBasic,
		PlanName:      "TAVIT Basic Monthly",
		PlanPrice:     billing.Money{Amount: 9900, Currency: "USD"},
		BillingPeriod: billing.PeriodMonth,
		CreatedAt:     updatedAt,
		UpdatedAt:     updatedAt,
	}

	db := &fakeDB{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	require.NoError(t, pgstore.New(db).InsertSubscription(ctx, rec))
	assert.Equal(t, int64(9900), db.calls[0].args[6])
	assert.Nil(t, db.calls[0].args[12], "checkout writes carry no event stamp")

	db = &fakeDB{execErr: &pgconn.PgError{Code: "23505"}}
	assert.ErrorIs(t, pgstore.New(db).InsertSubscription(ctx, rec), billing.ErrDuplicateRecord)
}

func TestAttachSubscriptionOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := billing.SubscriptionRecord{ID: "sub_1", AccountID: uuid.New(), UpdatedAt: updatedAt}

	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 1")}
	require.NoError(t, pgstore.New(db).AttachSubscriptionOwner(ctx, rec))
	assert.False(t, strings.Contains(db.calls[0].sql, "status"), "attach must not touch status")

	db = &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	assert.ErrorIs(t, pgstore.New(db).AttachSubscriptionOwner(ctx, rec), billing.ErrNoRecordMatched)
}

func TestInsertAlert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	alert := billing.Alert{ID: uuid.New(), Category: billing.AlertPaymentFailed, SourceEventID: "evt_1"}

	db := &fakeDB{rows: []fakeRow{returned(alert.ID.String())}}
	require.NoError(t, pgstore.New(db).InsertAlert(ctx, alert))
	assert.Equal(t, map[string]any{}, db.calls[0].args[7])

	db = &fakeDB{rows: []fakeRow{noRows()}}
	assert.ErrorIs(t, pgstore.New(db).InsertAlert(ctx, alert), billing.ErrDuplicateRecord)
}

func TestNewPanicsWithoutDB(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { pgstore.New(nil) })
}
