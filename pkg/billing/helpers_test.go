package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/billsync/pkg/billing"
)

const testSignature = "t=1,v1=test"

// fakeVerifier accepts testSignature and decodes provider-shaped JSON.
type fakeVerifier struct{}

func (fakeVerifier) VerifyEvent(payload []byte, signature string) (*billing.Envelope, error) {
	if signature != testSignature {
		return nil, billing.ErrSignatureInvalid
	}
	var raw struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", billing.ErrMalformedEvent, err)
	}
	return &billing.Envelope{
		ID:      raw.ID,
		Type:    raw.Type,
		Created: time.Unix(raw.Created, 0).UTC(),
		Object:  raw.Data.Object,
	}, nil
}

func eventPayload(id, eventType string, created time.Time, object map[string]any) []byte {
	raw, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": created.Unix(),
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return raw
}

func subscriptionObject(subID, customerID, status string) map[string]any {
	return map[string]any{
		"id":                   subID,
		"object":               "subscription",
		"customer":             customerID,
		"status":               status,
		"current_period_start": int64(1748779200),
		"current_period_end":   int64(1751371200),
		"cancel_at_period_end": false,
	}
}

func invoiceObject(invoiceID, customerID, subID string) map[string]any {
	return map[string]any{
		"id":           invoiceID,
		"object":       "invoice",
		"customer":     customerID,
		"subscription": subID,
		"amount_due":   int64(9900),
		"currency":     "usd",
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seededStore(customerID string) (*billing.MemoryStore, uuid.UUID) {
	store := billing.NewMemoryStore()
	id := uuid.New()
	store.SeedAccount(billing.Account{ID: id, Name: "Acme", CustomerID: customerID, Status: billing.StatusIncomplete})
	return store, id
}

// mockWriter is a testify mock of billing.RecordWriter.
type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) AccountCustomerID(ctx context.Context, accountID uuid.UUID) (string, error) {
	args := m.Called(ctx, accountID)
	return args.String(0), args.Error(1)
}

func (m *mockWriter) PatchAccountByCustomer(ctx context.Context, customerID string, patch billing.AccountPatch) error {
	return m.Called(ctx, customerID, patch).Error(0)
}

func (m *mockWriter) PatchAccountByID(ctx context.Context, accountID uuid.UUID, patch billing.AccountPatch) error {
	return m.Called(ctx, accountID, patch).Error(0)
}

func (m *mockWriter) UpsertSubscription(ctx context.Context, state billing.SubscriptionState) error {
	return m.Called(ctx, state).Error(0)
}

func (m *mockWriter) PatchSubscriptionStatus(ctx context.Context, id string, status billing.Status, eventAt, updatedAt time.Time) error {
	return m.Called(ctx, id, status, eventAt, updatedAt).Error(0)
}

func (m *mockWriter) InsertSubscription(ctx context.Context, rec billing.SubscriptionRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockWriter) AttachSubscriptionOwner(ctx context.Context, rec billing.SubscriptionRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockWriter) InsertAlert(ctx context.Context, alert billing.Alert) error {
	return m.Called(ctx, alert).Error(0)
}

// mockProvider is a testify mock of billing.PaymentProvider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCustomer(ctx context.Context, params billing.CustomerParams) (*billing.ProviderCustomer, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderCustomer), args.Error(1)
}

func (m *mockProvider) CreatePrice(ctx context.Context, params billing.PriceParams) (*billing.ProviderPrice, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderPrice), args.Error(1)
}

func (m *mockProvider) CreateSubscription(ctx context.Context, params billing.SubscriptionParams) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderSubscription), args.Error(1)
}

func (m *mockProvider) DeleteCustomer(ctx context.Context, customerID string) error {
	return m.Called(ctx, customerID).Error(0)
}

func (m *mockProvider) DeactivatePrice(ctx context.Context, priceID string) error {
	return m.Called(ctx, priceID).Error(0)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return m.Called(ctx, subscriptionID).Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyAlert(ctx context.Context, alert billing.Alert) error {
	return m.Called(ctx, alert).Error(0)
}

type failingLedger struct{}

func (failingLedger) Seen(context.Context, string) (bool, error) {
	return false, errors.New("ledger unavailable")
}

func (failingLedger) MarkProcessed(context.Context, string) error {
	return errors.New("ledger unavailable")
}

// panicWriter panics on every call.
type panicWriter struct{ billing.RecordWriter }

func (panicWriter) PatchAccountByCustomer(context.Context, string, billing.AccountPatch) error {
	panic("store exploded")
}

// flakyStore fails account patches while down is set.
type flakyStore struct {
	*billing.MemoryStore
	down atomic.Bool
}

func (s *flakyStore) PatchAccountByCustomer(ctx context.Context, customerID string, patch billing.AccountPatch) error {
	if s.down.Load() {
		return errors.New("connection refused")
	}
	return s.MemoryStore.PatchAccountByCustomer(ctx, customerID, patch)
}
