package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/pkg/redis"
)

type fakeKV struct {
	keys map[string]time.Duration
	err  error
}

func (f *fakeKV) Exists(_ context.Context, keys ...string) *goredis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return goredis.NewIntResult(n, f.err)
}

func (f *fakeKV) Set(_ context.Context, key string, _ any, ttl time.Duration) *goredis.StatusCmd {
	if f.err == nil {
		f.keys[key] = ttl
	}
	return goredis.NewStatusResult("OK", f.err)
}

func TestEventLedger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("marks and reports events", func(t *testing.T) {
		t.Parallel()
		kv := &fakeKV{keys: map[string]time.Duration{}}
		ledger := redis.NewEventLedger(kv, "billsync:", time.Hour)

		seen, err := ledger.Seen(ctx, "evt_1")
		require.NoError(t, err)
		assert.False(t, seen)

		require.NoError(t, ledger.MarkProcessed(ctx, "evt_1"))
		assert.Equal(t, time.Hour, kv.keys["billsync:event:evt_1"])

		seen, err = ledger.Seen(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("wraps driver errors", func(t *testing.T) {
		t.Parallel()
		kv := &fakeKV{keys: map[string]time.Duration{}, err: errors.New("connection refused")}
		ledger := redis.NewEventLedger(kv, "", time.Hour)

		_, err := ledger.Seen(ctx, "evt_1")
		assert.ErrorIs(t, err, redis.ErrLedgerUnavailable)
		assert.ErrorIs(t, ledger.MarkProcessed(ctx, "evt_1"), redis.ErrLedgerUnavailable)
	})

	t.Run("panics without client", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { redis.NewEventLedger(nil, "", time.Hour) })
	})
}

func TestConnectRejectsEmptyURL(t *testing.T) {
	t.Parallel()
	_, err := redis.Connect(context.Background(), redis.Config{})
	assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
}
