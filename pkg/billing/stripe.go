package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds the payment provider credentials.
type StripeConfig struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`

	// APIURL overrides the API endpoint, e.g. for stripe-mock.
	APIURL string `env:"STRIPE_API_URL"`
}

// StripeProvider implements PaymentProvider and EventVerifier on Stripe.
// It owns its API client; the package-level stripe.Key is never touched.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

// NewStripeProvider creates a provider from cfg.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, ErrMissingSecretKey
	}

	var backends *stripe.Backends
	if cfg.APIURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL: stripe.String(cfg.APIURL),
			}),
		}
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeProvider{api: api, webhookSecret: cfg.WebhookSecret, tolerance: tolerance}, nil
}

// VerifyEvent checks the Stripe-Signature header over the raw body before
// decoding it. The SDK compares signatures with hmac.Equal.
func (p *StripeProvider) VerifyEvent(payload []byte, signature string) (*Envelope, error) {
	if p.webhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if strings.TrimSpace(signature) == "" {
		return nil, ErrMissingSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrTooOld),
			errors.Is(err, webhook.ErrNoValidSignature):
			return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
	}

	env := &Envelope{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data != nil {
		env.Object = event.Data.Raw
	}
	return env, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, in CustomerParams) (*ProviderCustomer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(in.Email)}
	if in.Name != "" {
		params.Name = stripe.String(in.Name)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	c, err := p.api.Customers.New(params)
	if err != nil {
		return nil, wrapStripeError("create customer", err)
	}
	return &ProviderCustomer{ID: c.ID}, nil
}

func (p *StripeProvider) CreatePrice(ctx context.Context, in PriceParams) (*ProviderPrice, error) {
	params := &stripe.PriceParams{
		Currency:   stripe.String(strings.ToLower(in.Amount.Currency)),
		UnitAmount: stripe.Int64(in.Amount.Amount),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(in.Interval)),
		},
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(in.ProductName),
		},
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pr, err := p.api.Prices.New(params)
	if err != nil {
		return nil, wrapStripeError("create price", err)
	}
	return &ProviderPrice{ID: pr.ID}, nil
}

// CreateSubscription creates an incomplete subscription; the first invoice
// is confirmed client-side with the returned secret.
func (p *StripeProvider) CreateSubscription(ctx context.Context, in SubscriptionParams) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(in.PriceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddExpand("latest_invoice.confirmation_secret")
	params.Context = ctx

	sub, err := p.api.Subscriptions.New(params)
	if err != nil {
		return nil, wrapStripeError("create subscription", err)
	}

	out := &ProviderSubscription{
		ID:        sub.ID,
		Status:    NormalizeStatus(string(sub.Status)),
		CreatedAt: time.Unix(sub.Created, 0).UTC(),
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.ConfirmationSecret != nil {
		out.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		if item.CurrentPeriodStart > 0 {
			start := time.Unix(item.CurrentPeriodStart, 0).UTC()
			out.CurrentPeriodStart = &start
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			out.CurrentPeriodEnd = &end
		}
	}
	return out, nil
}

func (p *StripeProvider) DeleteCustomer(ctx context.Context, customerID string) error {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if _, err := p.api.Customers.Del(customerID, params); err != nil {
		return wrapStripeError("delete customer", err)
	}
	return nil
}

// DeactivatePrice archives a price. Stripe prices cannot be deleted.
func (p *StripeProvider) DeactivatePrice(ctx context.Context, priceID string) error {
	params := &stripe.PriceParams{Active: stripe.Bool(false)}
	params.Context = ctx
	if _, err := p.api.Prices.Update(priceID, params); err != nil {
		return wrapStripeError("deactivate price", err)
	}
	return nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := p.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return wrapStripeError("cancel subscription", err)
	}
	return nil
}

// wrapStripeError adds the Stripe error code, HTTP status and request id to
// the message while keeping the original error in the chain.
func wrapStripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("stripe: %s: %w", op, err)
	}
	return fmt.Errorf("stripe: %s: %s (code=%s status=%d request=%s): %w",
		op, se.Msg, se.Code, se.HTTPStatusCode, se.RequestID, err)
}
