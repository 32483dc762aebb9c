// Package billing mounts the HTTP surface of the billing service: the
// provider webhook endpoint, the checkout endpoint and the plan listing.
package billing

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/billsync/pkg/billing"
)

// EventProcessor authenticates and applies one raw webhook delivery.
type EventProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) error
}

// CheckoutRunner provisions a subscription for an account.
type CheckoutRunner interface {
	Checkout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
}

// RouterOptions configures the billing routes. Intake, Checkout and Catalog
// are required.
type RouterOptions struct {
	Intake   EventProcessor
	Checkout CheckoutRunner
	Catalog  billing.Catalog

	// WebhookSecret is re-checked on every delivery; an empty secret
	// rejects all webhook requests.
	WebhookSecret string

	// AllowOrigin is sent as Access-Control-Allow-Origin. Defaults to "*".
	AllowOrigin string

	// MaxWebhookBytes caps the webhook body. Defaults to 1 MiB.
	MaxWebhookBytes int64

	Logger *slog.Logger
}

const defaultMaxWebhookBytes = 1 << 20

// Router builds the billing routes.
//
//	r := chi.NewRouter()
//	r.Mount("/", billinghttp.Router(billinghttp.RouterOptions{
//		Intake:        intake,
//		Checkout:      provisioner,
//		Catalog:       catalog,
//		WebhookSecret: cfg.Stripe.WebhookSecret,
//	}))
func Router(opts RouterOptions) chi.Router {
	if opts.Intake == nil || opts.Checkout == nil || opts.Catalog == nil {
		panic("billing router: intake, checkout and catalog are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AllowOrigin == "" {
		opts.AllowOrigin = "*"
	}
	if opts.MaxWebhookBytes <= 0 {
		opts.MaxWebhookBytes = defaultMaxWebhookBytes
	}

	cors := corsPreflight(opts.AllowOrigin)
	r := chi.NewRouter()

	wh := &webhookHandler{
		intake:   opts.Intake,
		secret:   opts.WebhookSecret,
		maxBytes: opts.MaxWebhookBytes,
		log:      opts.Logger,
	}
	// HandleFunc binds every method, so it must precede the method-specific routes.
	r.HandleFunc("/webhooks/stripe", methodNotAllowed)
	r.Options("/webhooks/stripe", cors)
	r.Post("/webhooks/stripe", wh.ServeHTTP)

	co := &checkoutHandler{runner: opts.Checkout, allowOrigin: opts.AllowOrigin, log: opts.Logger}
	r.HandleFunc("/checkout", co.ServeHTTP)
	r.Options("/checkout", cors)

	r.Get("/plans", plansHandler(opts.Catalog))

	return r
}
