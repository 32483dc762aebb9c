package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Provider event type names handled by Event Intake.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// Event is a classified lifecycle event. The set of variants is closed:
// SubscriptionSynced, SubscriptionCancelled, PaymentSucceeded,
// PaymentFailed and Unrecognized.
type Event interface {
	Meta() EventMeta
	isEvent()
}

// EventMeta identifies one provider delivery.
type EventMeta struct {
	ID         string
	Type       string
	OccurredAt time.Time
}

// Meta returns the delivery metadata.
func (m EventMeta) Meta() EventMeta { return m }

// SubscriptionSynced carries a subscription created/updated event.
type SubscriptionSynced struct {
	EventMeta
	SubscriptionID     string
	CustomerID         string
	Status             Status
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// SubscriptionCancelled carries a subscription deleted event.
type SubscriptionCancelled struct {
	EventMeta
	SubscriptionID string
	CustomerID     string
}

// PaymentSucceeded carries an invoice payment succeeded event.
type PaymentSucceeded struct {
	EventMeta
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
}

// PaymentFailed carries an invoice payment failed event.
type PaymentFailed struct {
	EventMeta
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	AmountDue      int64  // minor units
	Currency       string // provider spelling, e.g. "usd"
}

// Unrecognized is any event kind this service does not act on.
type Unrecognized struct {
	EventMeta
}

func (SubscriptionSynced) isEvent()    {}
func (SubscriptionCancelled) isEvent() {}
func (PaymentSucceeded) isEvent()      {}
func (PaymentFailed) isEvent()         {}
func (Unrecognized) isEvent()          {}

// expandableID accepts either a bare id string or an expanded object with an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type subscriptionObject struct {
	ID                 string       `json:"id"`
	Customer           expandableID `json:"customer"`
	Status             string       `json:"status"`
	CurrentPeriodStart *int64       `json:"current_period_start"`
	CurrentPeriodEnd   *int64       `json:"current_period_end"`
	CancelAtPeriodEnd  *bool        `json:"cancel_at_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart *int64 `json:"current_period_start"`
			CurrentPeriodEnd   *int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// periodBounds prefers the top-level fields and falls back to the first
// item, where newer provider API versions report them.
func (o subscriptionObject) periodBounds() (start, end *int64) {
	start, end = o.CurrentPeriodStart, o.CurrentPeriodEnd
	if len(o.Items.Data) > 0 {
		if start == nil {
			start = o.Items.Data[0].CurrentPeriodStart
		}
		if end == nil {
			end = o.Items.Data[0].CurrentPeriodEnd
		}
	}
	return start, end
}

type invoiceObject struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	AmountDue    *int64       `json:"amount_due"`
	Currency     string       `json:"currency"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (o invoiceObject) subscriptionID() string {
	if o.Subscription != "" {
		return string(o.Subscription)
	}
	if o.Parent != nil && o.Parent.SubscriptionDetails != nil {
		return string(o.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// DecodeEvent classifies an envelope into its typed variant and enforces
// the fields each handler requires. Unknown event types decode to
// Unrecognized without inspecting the object.
func DecodeEvent(env Envelope) (Event, error) {
	meta := EventMeta{ID: env.ID, Type: env.Type, OccurredAt: env.Created.UTC()}

	switch env.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var obj subscriptionObject
		if err := decodeObject(env.Object, &obj); err != nil {
			return nil, err
		}
		start, end := obj.periodBounds()
		if err := requireFields(env.Type,
			field{"customer", obj.Customer != ""},
			field{"id", obj.ID != ""},
			field{"status", obj.Status != ""},
			field{"current_period_start", start != nil},
			field{"current_period_end", end != nil},
			field{"cancel_at_period_end", obj.CancelAtPeriodEnd != nil},
		); err != nil {
			return nil, err
		}
		return SubscriptionSynced{
			EventMeta:          meta,
			SubscriptionID:     obj.ID,
			CustomerID:         string(obj.Customer),
			Status:             NormalizeStatus(obj.Status),
			CurrentPeriodStart: time.Unix(*start, 0).UTC(),
			CurrentPeriodEnd:   time.Unix(*end, 0).UTC(),
			CancelAtPeriodEnd:  *obj.CancelAtPeriodEnd,
		}, nil

	case EventSubscriptionDeleted:
		var obj subscriptionObject
		if err := decodeObject(env.Object, &obj); err != nil {
			return nil, err
		}
		if err := requireFields(env.Type,
			field{"customer", obj.Customer != ""},
			field{"id", obj.ID != ""},
		); err != nil {
			return nil, err
		}
		return SubscriptionCancelled{
			EventMeta:      meta,
			SubscriptionID: obj.ID,
			CustomerID:     string(obj.Customer),
		}, nil

	case EventInvoicePaid:
		var obj invoiceObject
		if err := decodeObject(env.Object, &obj); err != nil {
			return nil, err
		}
		subID := obj.subscriptionID()
		if err := requireFields(env.Type,
			field{"customer", obj.Customer != ""},
			field{"subscription", subID != ""},
		); err != nil {
			return nil, err
		}
		return PaymentSucceeded{
			EventMeta:      meta,
			InvoiceID:      obj.ID,
			CustomerID:     string(obj.Customer),
			SubscriptionID: subID,
		}, nil

	case EventInvoiceFailed:
		var obj invoiceObject
		if err := decodeObject(env.Object, &obj); err != nil {
			return nil, err
		}
		if err := requireFields(env.Type,
			field{"customer", obj.Customer != ""},
			field{"id", obj.ID != ""},
			field{"amount_due", obj.AmountDue != nil},
			field{"currency", obj.Currency != ""},
		); err != nil {
			return nil, err
		}
		return PaymentFailed{
			EventMeta:      meta,
			InvoiceID:      obj.ID,
			CustomerID:     string(obj.Customer),
			SubscriptionID: obj.subscriptionID(),
			AmountDue:      *obj.AmountDue,
			Currency:       strings.ToLower(obj.Currency),
		}, nil

	default:
		return Unrecognized{EventMeta: meta}, nil
	}
}

func decodeObject(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: event has no data object", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return nil
}

type field struct {
	name    string
	present bool
}

func requireFields(eventType string, fields ...field) error {
	for _, f := range fields {
		if !f.present {
			return fmt.Errorf("%w: %s requires %s", ErrMissingField, eventType, f.name)
		}
	}
	return nil
}
