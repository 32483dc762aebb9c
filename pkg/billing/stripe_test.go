package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/billsync/pkg/billing"
)

const webhookSecret = "whsec_test_secret"

func newStripe(t *testing.T, secret string) *billing.StripeProvider {
	t.Helper()
	p, err := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey:        "sk_test_123",
		WebhookSecret:    secret,
		WebhookTolerance: 5 * time.Minute,
	})
	require.NoError(t, err)
	return p
}

func sign(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

func TestStripeProvider_VerifyEvent(t *testing.T) {
	t.Parallel()

	created := time.Now().Add(-time.Minute).Truncate(time.Second).UTC()
	payload := eventPayload("evt_1", billing.EventSubscriptionUpdated, created, subscriptionObject("sub_1", "cus_1", "active"))

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		env, err := newStripe(t, webhookSecret).VerifyEvent(payload, sign(payload, webhookSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", env.ID)
		assert.Equal(t, billing.EventSubscriptionUpdated, env.Type)
		assert.Equal(t, created, env.Created)
		assert.Contains(t, string(env.Object), `"sub_1"`)
	})

	t.Run("tampered body", func(t *testing.T) {
		t.Parallel()
		header := sign(payload, webhookSecret, time.Now())
		tampered := eventPayload("evt_1", billing.EventSubscriptionUpdated, created, subscriptionObject("sub_1", "cus_1", "cancelled"))
		_, err := newStripe(t, webhookSecret).VerifyEvent(tampered, header)
		assert.ErrorIs(t, err, billing.ErrSignatureInvalid)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		_, err := newStripe(t, webhookSecret).VerifyEvent(payload, sign(payload, "whsec_other", time.Now()))
		assert.ErrorIs(t, err, billing.ErrSignatureInvalid)
	})

	t.Run("expired timestamp", func(t *testing.T) {
		t.Parallel()
		_, err := newStripe(t, webhookSecret).VerifyEvent(payload, sign(payload, webhookSecret, time.Now().Add(-time.Hour)))
		assert.ErrorIs(t, err, billing.ErrSignatureInvalid)
	})

	t.Run("garbage header", func(t *testing.T) {
		t.Parallel()
		_, err := newStripe(t, webhookSecret).VerifyEvent(payload, "not-a-signature")
		assert.ErrorIs(t, err, billing.ErrSignatureInvalid)
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		_, err := newStripe(t, webhookSecret).VerifyEvent(payload, "")
		assert.ErrorIs(t, err, billing.ErrMissingSignature)
	})

	t.Run("missing webhook secret fails regardless of payload", func(t *testing.T) {
		t.Parallel()
		p := newStripe(t, "")
		for _, body := range [][]byte{payload, []byte("{}"), nil} {
			_, err := p.VerifyEvent(body, sign(payload, webhookSecret, time.Now()))
			assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)
		}
	})
}

func TestNewStripeProvider_RequiresSecretKey(t *testing.T) {
	t.Parallel()

	_, err := billing.NewStripeProvider(billing.StripeConfig{WebhookSecret: webhookSecret})
	assert.ErrorIs(t, err, billing.ErrMissingSecretKey)
}

func TestIntake_WithStripeVerifier(t *testing.T) {
	t.Parallel()

	store, accountID := seededStore("cus_1")
	intake := billing.NewIntake(store, newStripe(t, webhookSecret), billing.WithIntakeClock(fixedClock(now)))

	created := time.Now().Truncate(time.Second).UTC()
	payload := eventPayload("evt_1", billing.EventInvoiceFailed, created, invoiceObject("in_1", "cus_1", "sub_1"))

	require.NoError(t, intake.Process(context.Background(), payload, sign(payload, webhookSecret, time.Now())))

	acc, _ := store.Account(accountID)
	assert.Equal(t, billing.StatusPastDue, acc.Status)
	require.Len(t, store.Alerts(), 1)

	forged := sign(payload, "whsec_attacker", time.Now())
	err := intake.Process(context.Background(), payload, forged)
	require.ErrorIs(t, err, billing.ErrSignatureInvalid)
}
