package billing

import (
	"context"
	"time"

	"github.com/dmitrymomot/billsync/pkg/cache"
)

// EventLedger remembers provider event ids that were fully handled so that
// redeliveries can be acknowledged without touching the record store.
// The ledger is an optimisation: Event Intake treats ledger errors as a miss.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// DefaultLedgerTTL matches the provider's redelivery window.
const DefaultLedgerTTL = 72 * time.Hour

// MemoryLedger is an in-process EventLedger for single-instance deployments
// and tests.
type MemoryLedger struct {
	seen *cache.TTLCache[string, struct{}]
}

// NewMemoryLedger creates a ledger remembering up to capacity event ids for ttl.
func NewMemoryLedger(capacity int, ttl time.Duration, opts ...cache.Option) *MemoryLedger {
	return &MemoryLedger{seen: cache.NewTTLCache[string, struct{}](capacity, ttl, opts...)}
}

func (l *MemoryLedger) Seen(_ context.Context, eventID string) (bool, error) {
	_, ok := l.seen.Get(eventID)
	return ok, nil
}

func (l *MemoryLedger) MarkProcessed(_ context.Context, eventID string) error {
	l.seen.Put(eventID, struct{}{})
	return nil
}
