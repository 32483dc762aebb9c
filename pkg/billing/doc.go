// Package billing keeps account and subscription records in step with the
// payment provider.
//
// Two entry points share one RecordWriter:
//
//   - Intake verifies and classifies provider lifecycle events and applies
//     each one as an account patch plus a subscription write.
//   - Provisioner runs checkout: it validates the requested plan against the
//     Catalog, creates customer, price and subscription at the provider, and
//     mirrors the result into the record store.
//
// # Architecture
//
//   - Catalog: immutable plan configuration keyed by tier and billing period
//   - Event: closed set of typed event variants built by DecodeEvent
//   - RecordWriter: store capability (MemoryStore, pgstore, mongostore)
//   - PaymentProvider / EventVerifier: provider capability (StripeProvider)
//   - EventLedger: optional duplicate-delivery filter
//   - AlertNotifier: optional operator notification for created alerts
//
// # Failure containment
//
// Every store write performed for an event is independent. A failed write is
// logged and counted, and handling continues with the next write; the
// delivery is still acknowledged because the provider redelivers and later
// events converge the records. Handler panics are recovered and reported as
// ErrHandlerPanic.
//
// # Ordering
//
// Event-driven writes carry the provider event timestamp. Stores apply a
// write only when the stored stamp is not newer, so an out-of-order delivery
// cannot overwrite fresher state. Rejected writes surface as ErrStaleEvent.
//
// # Checkout
//
// Checkout is a saga. If the price or subscription stage fails, the objects
// created by earlier stages are removed in reverse order and no record is
// written. The failing stage is reported through CheckoutError.
//
// # Quick Start
//
//	provider, err := billing.NewStripeProvider(cfg.Stripe)
//	if err != nil {
//		return err
//	}
//	store := pgstore.New(pool)
//
//	intake := billing.NewIntake(store, provider,
//		billing.WithIntakeLogger(log),
//		billing.WithEventLedger(ledger),
//	)
//	err = intake.Process(ctx, body, r.Header.Get("Stripe-Signature"))
//
//	prov := billing.NewProvisioner(billing.DefaultCatalog(), provider, store)
//	res, err := prov.Checkout(ctx, billing.CheckoutRequest{
//		AccountID: accountID,
//		Tier:      billing.TierBasic,
//		Period:    billing.PeriodMonth,
//		Email:     "owner@example.com",
//	})
package billing
