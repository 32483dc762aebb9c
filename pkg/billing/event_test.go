package billing_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/pkg/billing"
)

var eventTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func envelope(eventType, object string) billing.Envelope {
	return billing.Envelope{
		ID:      "evt_1",
		Type:    eventType,
		Created: eventTime,
		Object:  json.RawMessage(object),
	}
}

func TestDecodeEvent_SubscriptionSynced(t *testing.T) {
	t.Parallel()

	t.Run("top-level period bounds", func(t *testing.T) {
		t.Parallel()
		evt, err := billing.DecodeEvent(envelope(billing.EventSubscriptionUpdated, `{
			"id": "sub_1", "customer": "cus_1", "status": "active",
			"current_period_start": 1748779200, "current_period_end": 1751371200,
			"cancel_at_period_end": true
		}`))
		require.NoError(t, err)

		synced, ok := evt.(billing.SubscriptionSynced)
		require.True(t, ok, "got %T", evt)
		assert.Equal(t, "sub_1", synced.SubscriptionID)
		assert.Equal(t, "cus_1", synced.CustomerID)
		assert.Equal(t, billing.StatusActive, synced.Status)
		assert.Equal(t, time.Unix(1748779200, 0).UTC(), synced.CurrentPeriodStart)
		assert.Equal(t, time.Unix(1751371200, 0).UTC(), synced.CurrentPeriodEnd)
		assert.True(t, synced.CancelAtPeriodEnd)
		assert.Equal(t, billing.EventMeta{ID: "evt_1", Type: billing.EventSubscriptionUpdated, OccurredAt: eventTime}, synced.Meta())
	})

	t.Run("period bounds from first item and expanded customer", func(t *testing.T) {
		t.Parallel()
		evt, err := billing.DecodeEvent(envelope(billing.EventSubscriptionCreated, `{
			"id": "sub_2", "customer": {"id": "cus_2", "object": "customer"}, "status": "incomplete",
			"cancel_at_period_end": false,
			"items": {"data": [{"current_period_start": 100, "current_period_end": 200}]}
		}`))
		require.NoError(t, err)

		synced := evt.(billing.SubscriptionSynced)
		assert.Equal(t, "cus_2", synced.CustomerID)
		assert.Equal(t, billing.StatusIncomplete, synced.Status)
		assert.Equal(t, time.Unix(100, 0).UTC(), synced.CurrentPeriodStart)
		assert.Equal(t, time.Unix(200, 0).UTC(), synced.CurrentPeriodEnd)
		assert.False(t, synced.CancelAtPeriodEnd)
	})

	t.Run("canceled spelling is normalized", func(t *testing.T) {
		t.Parallel()
		evt, err := billing.DecodeEvent(envelope(billing.EventSubscriptionUpdated, `{
			"id": "sub_1", "customer": "cus_1", "status": "canceled",
			"current_period_start": 1, "current_period_end": 2, "cancel_at_period_end": false
		}`))
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCancelled, evt.(billing.SubscriptionSynced).Status)
	})

	missing := []struct {
		field  string
		object string
	}{
		{"customer", `{"id":"sub_1","status":"active","current_period_start":1,"current_period_end":2,"cancel_at_period_end":false}`},
		{"id", `{"customer":"cus_1","status":"active","current_period_start":1,"current_period_end":2,"cancel_at_period_end":false}`},
		{"status", `{"id":"sub_1","customer":"cus_1","current_period_start":1,"current_period_end":2,"cancel_at_period_end":false}`},
		{"current_period_start", `{"id":"sub_1","customer":"cus_1","status":"active","current_period_end":2,"cancel_at_period_end":false}`},
		{"current_period_end", `{"id":"sub_1","customer":"cus_1","status":"active","current_period_start":1,"cancel_at_period_end":false}`},
		{"cancel_at_period_end", `{"id":"sub_1","customer":"cus_1","status":"active","current_period_start":1,"current_period_end":2}`},
	}
	for _, tt := range missing {
		t.Run("missing "+tt.field, func(t *testing.T) {
			t.Parallel()
			_, err := billing.DecodeEvent(envelope(billing.EventSubscriptionUpdated, tt.object))
			require.ErrorIs(t, err, billing.ErrMissingField)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestDecodeEvent_SubscriptionCancelled(t *testing.T) {
	t.Parallel()

	evt, err := billing.DecodeEvent(envelope(billing.EventSubscriptionDeleted, `{"id":"sub_1","customer":"cus_1","status":"canceled"}`))
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionCancelled{
		EventMeta:      billing.EventMeta{ID: "evt_1", Type: billing.EventSubscriptionDeleted, OccurredAt: eventTime},
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
	}, evt)

	_, err = billing.DecodeEvent(envelope(billing.EventSubscriptionDeleted, `{"customer":"cus_1"}`))
	assert.ErrorIs(t, err, billing.ErrMissingField)
}

func TestDecodeEvent_PaymentSucceeded(t *testing.T) {
	t.Parallel()

	t.Run("subscription from top level", func(t *testing.T) {
		t.Parallel()
		evt, err := billing.DecodeEvent(envelope(billing.EventInvoicePaid, `{"id":"in_1","customer":"cus_1","subscription":"sub_1"}`))
		require.NoError(t, err)
		paid := evt.(billing.PaymentSucceeded)
		assert.Equal(t, "sub_1", paid.SubscriptionID)
		assert.Equal(t, "in_1", paid.InvoiceID)
	})

	t.Run("subscription from parent details", func(t *testing.T) {
		t.Parallel()
		evt, err := billing.DecodeEvent(envelope(billing.EventInvoicePaid, `{
			"id":"in_1","customer":"cus_1","subscription":null,
			"parent":{"type":"subscription_details","subscription_details":{"subscription":"sub_9"}}
		}`))
		require.NoError(t, err)
		assert.Equal(t, "sub_9", evt.(billing.PaymentSucceeded).SubscriptionID)
	})

	t.Run("missing subscription", func(t *testing.T) {
		t.Parallel()
		_, err := billing.DecodeEvent(envelope(billing.EventInvoicePaid, `{"id":"in_1","customer":"cus_1"}`))
		require.ErrorIs(t, err, billing.ErrMissingField)
		assert.Contains(t, err.Error(), "subscription")
	})
}

func TestDecodeEvent_PaymentFailed(t *testing.T) {
	t.Parallel()

	evt, err := billing.DecodeEvent(envelope(billing.EventInvoiceFailed, `{
		"id":"in_1","customer":"cus_1","amount_due":9900,"currency":"USD","subscription":"sub_1"
	}`))
	require.NoError(t, err)
	failed := evt.(billing.PaymentFailed)
	assert.Equal(t, "in_1", failed.InvoiceID)
	assert.Equal(t, int64(9900), failed.AmountDue)
	assert.Equal(t, "usd", failed.Currency)
	assert.Equal(t, "sub_1", failed.SubscriptionID)

	t.Run("zero amount is present", func(t *testing.T) {
		t.Parallel()
		evt, err := billing.DecodeEvent(envelope(billing.EventInvoiceFailed, `{"id":"in_1","customer":"cus_1","amount_due":0,"currency":"usd"}`))
		require.NoError(t, err)
		assert.Zero(t, evt.(billing.PaymentFailed).AmountDue)
	})

	for _, field := range []string{"customer", "id", "amount_due", "currency"} {
		t.Run("missing "+field, func(t *testing.T) {
			t.Parallel()
			obj := map[string]any{"id": "in_1", "customer": "cus_1", "amount_due": 100, "currency": "usd"}
			delete(obj, field)
			raw, err := json.Marshal(obj)
			require.NoError(t, err)

			_, err = billing.DecodeEvent(envelope(billing.EventInvoiceFailed, string(raw)))
			require.ErrorIs(t, err, billing.ErrMissingField)
			assert.Contains(t, err.Error(), field)
		})
	}
}

func TestDecodeEvent_Unrecognized(t *testing.T) {
	t.Parallel()

	evt, err := billing.DecodeEvent(envelope("charge.refunded", `not even json`))
	require.NoError(t, err)
	assert.IsType(t, billing.Unrecognized{}, evt)
	assert.Equal(t, "charge.refunded", evt.Meta().Type)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	t.Parallel()

	_, err := billing.DecodeEvent(envelope(billing.EventSubscriptionUpdated, `{"id": 5}`))
	assert.ErrorIs(t, err, billing.ErrMalformedEvent)

	_, err = billing.DecodeEvent(envelope(billing.EventInvoiceFailed, ``))
	assert.ErrorIs(t, err, billing.ErrMalformedEvent)
}
