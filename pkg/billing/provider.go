package billing

import (
	"context"
	"encoding/json"
	"time"
)

// PaymentProvider is the payment processor capability used by checkout.
// Create calls return provider-assigned ids; the remaining calls undo a
// partially provisioned checkout.
type PaymentProvider interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (*ProviderCustomer, error)
	CreatePrice(ctx context.Context, params PriceParams) (*ProviderPrice, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*ProviderSubscription, error)

	DeleteCustomer(ctx context.Context, customerID string) error
	DeactivatePrice(ctx context.Context, priceID string) error
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// EventVerifier authenticates a raw event delivery and returns its envelope.
// Implementations must verify the signature over the unparsed body with a
// constant-time comparison before decoding anything.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (*Envelope, error)
}

// Envelope is a verified provider event before classification.
type Envelope struct {
	ID      string
	Type    string
	Created time.Time
	Object  json.RawMessage
}

// CustomerParams describes a provider customer.
type CustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string // opaque correlation data
}

// ProviderCustomer is a created provider customer.
type ProviderCustomer struct {
	ID string
}

// PriceParams describes a recurring price.
type PriceParams struct {
	Amount      Money
	Interval    Period
	ProductName string
	Metadata    map[string]string
}

// ProviderPrice is a created provider price.
type ProviderPrice struct {
	ID string
}

// SubscriptionParams references a customer and a price. Payment collection
// is deferred until the client confirms a payment method.
type SubscriptionParams struct {
	CustomerID string
	PriceID    string
	Metadata   map[string]string
}

// ProviderSubscription is a created provider subscription.
type ProviderSubscription struct {
	ID                 string
	Status             Status
	ClientSecret       string
	CreatedAt          time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}
