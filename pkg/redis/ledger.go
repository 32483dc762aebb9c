package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyValue is the subset of the go-redis client used by EventLedger.
type KeyValue interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// EventLedger remembers processed provider event ids for a limited time so
// that redeliveries can be skipped across replicas.
type EventLedger struct {
	client KeyValue
	prefix string
	ttl    time.Duration
}

// NewEventLedger creates a ledger. Keys are stored as prefix+"event:"+id
// and expire after ttl. Panics if client is nil.
func NewEventLedger(client KeyValue, prefix string, ttl time.Duration) *EventLedger {
	if client == nil {
		panic("redis: client is required")
	}
	return &EventLedger{client: client, prefix: prefix, ttl: ttl}
}

// Seen reports whether eventID was marked processed and has not expired.
func (l *EventLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(eventID)).Result()
	if err != nil {
		return false, errors.Join(ErrLedgerUnavailable, err)
	}
	return n > 0, nil
}

// MarkProcessed records eventID.
func (l *EventLedger) MarkProcessed(ctx context.Context, eventID string) error {
	if err := l.client.Set(ctx, l.key(eventID), 1, l.ttl).Err(); err != nil {
		return errors.Join(ErrLedgerUnavailable, err)
	}
	return nil
}

func (l *EventLedger) key(eventID string) string {
	return l.prefix + "event:" + eventID
}
