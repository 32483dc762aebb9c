package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/pkg/config"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	require.NoError(t, config.LoadFrom(&cfg, map[string]string{
		"STRIPE_SECRET_KEY":     "sk_test",
		"STRIPE_WEBHOOK_SECRET": "whsec_test",
	}))
	require.NoError(t, cfg.validate())

	assert.Equal(t, storePostgres, cfg.StoreDriver)
	assert.Equal(t, ledgerMemory, cfg.EventLedger)
	assert.Equal(t, 72*time.Hour, cfg.EventLedgerTTL)
	assert.Equal(t, 10*time.Second, cfg.DownstreamTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Stripe.WebhookTolerance)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestConfigRequiresStripeSecrets(t *testing.T) {
	t.Parallel()
	var cfg Config
	assert.ErrorIs(t, config.LoadFrom(&cfg, map[string]string{}), config.ErrParsingConfig)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	base := Config{StoreDriver: storeMemory, EventLedger: ledgerNone}
	require.NoError(t, base.validate())

	bad := base
	bad.StoreDriver = "sqlite"
	assert.Error(t, bad.validate())

	bad = base
	bad.EventLedger = "memcached"
	assert.Error(t, bad.validate())

	bad = base
	bad.EventLedger = ledgerMemory
	bad.EventLedgerSize = 0
	assert.Error(t, bad.validate())
}
