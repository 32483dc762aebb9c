package billing

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process CheckoutStore. It backs the "memory" store
// driver and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	accounts      map[uuid.UUID]*Account
	byCustomer    map[string]uuid.UUID
	subscriptions map[string]*SubscriptionRecord
	alerts        []Alert
	alertSources  map[string]struct{}
	calls         int
}

var _ CheckoutStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[uuid.UUID]*Account),
		byCustomer:    make(map[string]uuid.UUID),
		subscriptions: make(map[string]*SubscriptionRecord),
		alertSources:  make(map[string]struct{}),
	}
}

// SeedAccount stores an account as if it had been created at signup.
func (s *MemoryStore) SeedAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := a
	s.accounts[a.ID] = &acc
	if a.CustomerID != "" {
		s.byCustomer[a.CustomerID] = a.ID
	}
}

// Account returns a copy of the account with the given id.
func (s *MemoryStore) Account(id uuid.UUID) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, false
	}
	return *acc, true
}

// AccountByCustomer returns a copy of the account owning customerID.
func (s *MemoryStore) AccountByCustomer(customerID string) (Account, bool) {
	s.mu.RLock()
	id, ok := s.byCustomer[customerID]
	s.mu.RUnlock()
	if !ok {
		return Account{}, false
	}
	return s.Account(id)
}

// Subscription returns a copy of the subscription record.
func (s *MemoryStore) Subscription(id string) (SubscriptionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.subscriptions[id]
	if !ok {
		return SubscriptionRecord{}, false
	}
	return *rec, true
}

// Alerts returns the stored alerts in insertion order.
func (s *MemoryStore) Alerts() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.alerts)
}

// Calls returns how many RecordWriter operations were invoked. Reads are
// not counted.
func (s *MemoryStore) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *MemoryStore) AccountCustomerID(_ context.Context, accountID uuid.UUID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return "", ErrNoRecordMatched
	}
	return acc.CustomerID, nil
}

func (s *MemoryStore) PatchAccountByCustomer(_ context.Context, customerID string, patch AccountPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	id, ok := s.byCustomer[customerID]
	if !ok {
		return ErrNoRecordMatched
	}
	return s.patchAccount(s.accounts[id], patch)
}

func (s *MemoryStore) PatchAccountByID(_ context.Context, accountID uuid.UUID, patch AccountPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	acc, ok := s.accounts[accountID]
	if !ok {
		return ErrNoRecordMatched
	}
	return s.patchAccount(acc, patch)
}

// Must be called with lock held.
func (s *MemoryStore) patchAccount(acc *Account, patch AccountPatch) error {
	if isStale(acc.EventAt, patch.EventAt) {
		return ErrStaleEvent
	}
	if patch.Status != "" {
		acc.Status = patch.Status
	}
	if patch.PlanTier != "" {
		acc.PlanTier = patch.PlanTier
	}
	if patch.CustomerID != "" && acc.CustomerID == "" {
		acc.CustomerID = patch.CustomerID
		s.byCustomer[patch.CustomerID] = acc.ID
	}
	if !patch.EventAt.IsZero() {
		acc.EventAt = patch.EventAt
	}
	acc.UpdatedAt = patch.UpdatedAt
	return nil
}

func (s *MemoryStore) UpsertSubscription(_ context.Context, state SubscriptionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	rec, ok := s.subscriptions[state.ID]
	if !ok {
		rec = &SubscriptionRecord{ID: state.ID, CreatedAt: state.UpdatedAt}
		s.subscriptions[state.ID] = rec
	} else if isStale(rec.EventAt, state.EventAt) {
		return ErrStaleEvent
	}

	start, end := state.CurrentPeriodStart, state.CurrentPeriodEnd
	rec.CustomerID = state.CustomerID
	rec.Status = state.Status
	rec.CurrentPeriodStart = &start
	rec.CurrentPeriodEnd = &end
	rec.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	if !state.EventAt.IsZero() {
		rec.EventAt = state.EventAt
	}
	rec.UpdatedAt = state.UpdatedAt
	return nil
}

func (s *MemoryStore) PatchSubscriptionStatus(_ context.Context, subscriptionID string, status Status, eventAt, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	rec, ok := s.subscriptions[subscriptionID]
	if !ok {
		return ErrNoRecordMatched
	}
	if isStale(rec.EventAt, eventAt) {
		return ErrStaleEvent
	}
	rec.Status = status
	if !eventAt.IsZero() {
		rec.EventAt = eventAt
	}
	rec.UpdatedAt = updatedAt
	return nil
}

func (s *MemoryStore) InsertSubscription(_ context.Context, rec SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if _, ok := s.subscriptions[rec.ID]; ok {
		return ErrDuplicateRecord
	}
	stored := rec
	s.subscriptions[rec.ID] = &stored
	return nil
}

func (s *MemoryStore) AttachSubscriptionOwner(_ context.Context, rec SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	stored, ok := s.subscriptions[rec.ID]
	if !ok {
		return ErrNoRecordMatched
	}
	stored.AccountID = rec.AccountID
	stored.PlanTier = rec.PlanTier
	stored.PlanName = rec.PlanName
	stored.PlanPrice = rec.PlanPrice
	stored.BillingPeriod = rec.BillingPeriod
	if stored.CurrentPeriodStart == nil {
		stored.CurrentPeriodStart = rec.CurrentPeriodStart
	}
	if stored.CurrentPeriodEnd == nil {
		stored.CurrentPeriodEnd = rec.CurrentPeriodEnd
	}
	stored.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *MemoryStore) InsertAlert(_ context.Context, alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if alert.SourceEventID != "" {
		if _, ok := s.alertSources[alert.SourceEventID]; ok {
			return ErrDuplicateRecord
		}
		s.alertSources[alert.SourceEventID] = struct{}{}
	}
	alert.Metadata = maps.Clone(alert.Metadata)
	s.alerts = append(s.alerts, alert)
	return nil
}

// isStale reports whether an incoming stamp is older than the stored one.
// Equal stamps apply so that redeliveries stay idempotent.
func isStale(stored, incoming time.Time) bool {
	return !stored.IsZero() && !incoming.IsZero() && incoming.Before(stored)
}
