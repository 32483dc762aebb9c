package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

// SourcePlatform identifies the payment provider on alert records.
const SourcePlatform = "stripe"

// Record store operation names used in logs and metrics.
const (
	opPatchAccount       = "patch_account"
	opUpsertSubscription = "upsert_subscription"
	opPatchSubscription  = "patch_subscription"
	opInsertSubscription = "insert_subscription"
	opAttachOwner        = "attach_subscription_owner"
	opInsertAlert        = "insert_alert"
	opNotifyAlert        = "notify_alert"
)

// Intake receives provider lifecycle events and applies them to the record
// store. It is safe for concurrent use; every call is an independent unit
// of work.
type Intake struct {
	common
	store    RecordWriter
	verifier EventVerifier
	ledger   EventLedger
	notifier AlertNotifier
}

// NewIntake creates an Intake. Panics if store or verifier is nil.
func NewIntake(store RecordWriter, verifier EventVerifier, opts ...IntakeOption) *Intake {
	if store == nil {
		panic("billing: RecordWriter is required")
	}
	if verifier == nil {
		panic("billing: EventVerifier is required")
	}
	in := &Intake{common: defaultCommon(), store: store, verifier: verifier}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = in.logger.With(logger.Component("billing.intake"))
	return in
}

// Process authenticates, decodes and handles one raw event delivery.
// A nil error means the delivery should be acknowledged, including for
// event kinds this service ignores and for writes skipped after a store
// failure.
func (in *Intake) Process(ctx context.Context, payload []byte, signature string) error {
	if strings.TrimSpace(signature) == "" {
		in.metrics.event("", "rejected")
		return ErrMissingSignature
	}

	env, err := in.verifier.VerifyEvent(payload, signature)
	if err != nil {
		in.metrics.event("", "rejected")
		return err
	}

	evt, err := DecodeEvent(*env)
	if err != nil {
		in.metrics.event(env.Type, "rejected")
		in.logger.WarnContext(ctx, "rejected malformed event",
			logger.EventID(env.ID), logger.EventType(env.Type), logger.Error(err))
		return err
	}

	meta := evt.Meta()
	if in.alreadyProcessed(ctx, meta) {
		in.metrics.event(meta.Type, "duplicate")
		in.logger.DebugContext(ctx, "event already processed",
			logger.EventID(meta.ID), logger.EventType(meta.Type))
		return nil
	}

	ok, err := in.handle(ctx, evt)
	if err != nil {
		return err
	}
	if !ok {
		// Left out of the ledger so a redelivery can repair the failed writes.
		in.logger.WarnContext(ctx, "event handled with failed writes",
			logger.EventID(meta.ID), logger.EventType(meta.Type))
		return nil
	}

	if in.ledger != nil && meta.ID != "" {
		if err := in.ledger.MarkProcessed(ctx, meta.ID); err != nil {
			in.logger.WarnContext(ctx, "failed to record processed event",
				logger.EventID(meta.ID), logger.Error(err))
		}
	}
	return nil
}

func (in *Intake) alreadyProcessed(ctx context.Context, meta EventMeta) bool {
	if in.ledger == nil || meta.ID == "" {
		return false
	}
	seen, err := in.ledger.Seen(ctx, meta.ID)
	if err != nil {
		in.logger.WarnContext(ctx, "event ledger lookup failed",
			logger.EventID(meta.ID), logger.Error(err))
		return false
	}
	return seen
}

// Handle dispatches a decoded event to its handler. Store write failures
// are logged and do not fail the call; a panicking handler is recovered
// and reported as ErrHandlerPanic.
func (in *Intake) Handle(ctx context.Context, evt Event) error {
	_, err := in.handle(ctx, evt)
	return err
}

// handle reports whether every write of the event settled.
func (in *Intake) handle(ctx context.Context, evt Event) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			in.metrics.event(eventType(evt), "panic")
			in.logger.ErrorContext(ctx, "event handler panicked",
				logger.EventType(eventType(evt)), slog.Any("panic", r))
			ok, err = false, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	switch e := evt.(type) {
	case SubscriptionSynced:
		ok = in.syncSubscription(ctx, e)
	case SubscriptionCancelled:
		ok = in.cancelSubscription(ctx, e)
	case PaymentSucceeded:
		ok = in.paymentSucceeded(ctx, e)
	case PaymentFailed:
		ok = in.paymentFailed(ctx, e)
	case Unrecognized:
		in.metrics.event(e.Type, "ignored")
		in.logger.DebugContext(ctx, "ignored event", logger.EventID(e.ID), logger.EventType(e.Type))
		return true, nil
	default:
		in.metrics.event(eventType(evt), "rejected")
		return false, fmt.Errorf("%w: %T", ErrUnhandledVariant, evt)
	}

	if ok {
		in.metrics.event(evt.Meta().Type, "handled")
	} else {
		in.metrics.event(evt.Meta().Type, "partial")
	}
	return ok, nil
}

func eventType(evt Event) string {
	if evt == nil {
		return ""
	}
	return evt.Meta().Type
}

func (in *Intake) syncSubscription(ctx context.Context, e SubscriptionSynced) bool {
	now := in.now().UTC()
	account := in.write(ctx, opPatchAccount, e.EventMeta, func(ctx context.Context) error {
		return in.store.PatchAccountByCustomer(ctx, e.CustomerID, AccountPatch{
			Status:    e.Status,
			EventAt:   e.OccurredAt,
			UpdatedAt: now,
		})
	}, logger.CustomerID(e.CustomerID))

	subscription := in.write(ctx, opUpsertSubscription, e.EventMeta, func(ctx context.Context) error {
		return in.store.UpsertSubscription(ctx, SubscriptionState{
			ID:                 e.SubscriptionID,
			CustomerID:         e.CustomerID,
			Status:             e.Status,
			CurrentPeriodStart: e.CurrentPeriodStart,
			CurrentPeriodEnd:   e.CurrentPeriodEnd,
			CancelAtPeriodEnd:  e.CancelAtPeriodEnd,
			EventAt:            e.OccurredAt,
			UpdatedAt:          now,
		})
	}, logger.SubscriptionID(e.SubscriptionID))

	return settled(account, subscription)
}

func (in *Intake) cancelSubscription(ctx context.Context, e SubscriptionCancelled) bool {
	now := in.now().UTC()
	account := in.write(ctx, opPatchAccount, e.EventMeta, func(ctx context.Context) error {
		return in.store.PatchAccountByCustomer(ctx, e.CustomerID, AccountPatch{
			Status:    StatusCancelled,
			EventAt:   e.OccurredAt,
			UpdatedAt: now,
		})
	}, logger.CustomerID(e.CustomerID))

	subscription := in.write(ctx, opPatchSubscription, e.EventMeta, func(ctx context.Context) error {
		return in.store.PatchSubscriptionStatus(ctx, e.SubscriptionID, StatusCancelled, e.OccurredAt, now)
	}, logger.SubscriptionID(e.SubscriptionID))

	return settled(account, subscription)
}

func (in *Intake) paymentSucceeded(ctx context.Context, e PaymentSucceeded) bool {
	account := in.write(ctx, opPatchAccount, e.EventMeta, func(ctx context.Context) error {
		return in.store.PatchAccountByCustomer(ctx, e.CustomerID, AccountPatch{
			Status:    StatusActive,
			EventAt:   e.OccurredAt,
			UpdatedAt: in.now().UTC(),
		})
	}, logger.CustomerID(e.CustomerID))

	return settled(account)
}

func (in *Intake) paymentFailed(ctx context.Context, e PaymentFailed) bool {
	now := in.now().UTC()
	account := in.write(ctx, opPatchAccount, e.EventMeta, func(ctx context.Context) error {
		return in.store.PatchAccountByCustomer(ctx, e.CustomerID, AccountPatch{
			Status:    StatusPastDue,
			EventAt:   e.OccurredAt,
			UpdatedAt: now,
		})
	}, logger.CustomerID(e.CustomerID))

	alert := paymentFailedAlert(e, now)
	inserted := in.write(ctx, opInsertAlert, e.EventMeta, func(ctx context.Context) error {
		return in.store.InsertAlert(ctx, alert)
	}, logger.InvoiceID(e.InvoiceID))
	if inserted != writeApplied || in.notifier == nil {
		return settled(account, inserted)
	}

	// A stored alert is never notified twice, so a failed notification
	// does not hold the event back from the ledger.
	in.write(ctx, opNotifyAlert, e.EventMeta, func(ctx context.Context) error {
		return in.notifier.NotifyAlert(ctx, alert)
	}, logger.InvoiceID(e.InvoiceID))
	return settled(account)
}

func paymentFailedAlert(e PaymentFailed, now time.Time) Alert {
	metadata := map[string]any{
		"invoice_id":  e.InvoiceID,
		"amount_due":  e.AmountDue,
		"currency":    e.Currency,
		"customer_id": e.CustomerID,
	}
	if e.SubscriptionID != "" {
		metadata["subscription_id"] = e.SubscriptionID
	}
	sourceEventID := e.ID
	if sourceEventID == "" {
		sourceEventID = e.Type + ":" + e.InvoiceID
	}
	return Alert{
		ID:       uuid.New(),
		Category: AlertPaymentFailed,
		Title:    "Payment failed",
		Description: fmt.Sprintf("Payment of %.2f %s failed for invoice %s (customer %s)",
			float64(e.AmountDue)/100, strings.ToUpper(e.Currency), e.InvoiceID, e.CustomerID),
		Severity:          SeverityHigh,
		SourcePlatform:    SourcePlatform,
		ExternalReference: e.InvoiceID,
		Metadata:          metadata,
		SourceEventID:     sourceEventID,
		CreatedAt:         now,
	}
}

// write runs one independent store call for an event and classifies its
// outcome.
func (in *Intake) write(ctx context.Context, op string, meta EventMeta, fn func(context.Context) error, attrs ...slog.Attr) writeOutcome {
	callCtx, cancel := in.withTimeout(ctx)
	defer cancel()

	attrs = append(attrs, logger.EventID(meta.ID), logger.EventType(meta.Type))
	return in.report(ctx, op, fn(callCtx), attrs...)
}
