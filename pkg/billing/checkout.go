package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

// CheckoutStage names a step of the provisioning flow.
type CheckoutStage string

const (
	StageValidate           CheckoutStage = "validate"
	StageCreateCustomer     CheckoutStage = "create_customer"
	StageCreatePrice        CheckoutStage = "create_price"
	StageCreateSubscription CheckoutStage = "create_subscription"
)

// CheckoutError reports the stage at which checkout failed.
type CheckoutError struct {
	Stage CheckoutStage
	Err   error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout failed at %s: %v", e.Stage, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// CheckoutRequest asks for a new subscription for an existing account.
type CheckoutRequest struct {
	AccountID   string
	Tier        Tier
	Period      Period
	Email       string
	AccountName string
}

// CheckoutResult is returned once the provider subscription exists. The
// client confirms payment with ClientSecret.
type CheckoutResult struct {
	SubscriptionID string
	CustomerID     string
	ClientSecret   string
	Plan           PlanConfig
	Status         Status
}

// Provisioner creates provider customers, prices and subscriptions for
// checkout requests and mirrors the result into the record store.
type Provisioner struct {
	common
	catalog  Catalog
	provider PaymentProvider
	store    CheckoutStore
}

// NewProvisioner creates a Provisioner. Panics if any dependency is nil.
func NewProvisioner(catalog Catalog, provider PaymentProvider, store CheckoutStore, opts ...ProvisionerOption) *Provisioner {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if provider == nil {
		panic("billing: PaymentProvider is required")
	}
	if store == nil {
		panic("billing: RecordWriter is required")
	}
	p := &Provisioner{common: defaultCommon(), catalog: catalog, provider: provider, store: store}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.Component("billing.checkout"))
	return p
}

type compensation struct {
	stage CheckoutStage
	undo  func(context.Context) error
}

// Checkout validates the request, then creates customer, price and
// subscription in that order. An account already linked to a provider
// customer keeps that customer and no new one is created. If a stage
// fails, the stages already completed are compensated in reverse order
// and no record is written. Record writes after a successful provider
// flow are best-effort.
func (p *Provisioner) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	accountID, plan, err := p.validate(req)
	if err != nil {
		p.metrics.checkout("failed", StageValidate)
		return nil, &CheckoutError{Stage: StageValidate, Err: err}
	}

	log := p.logger.With(
		logger.AccountID(accountID),
		slog.String("plan_type", string(plan.Tier)),
		slog.String("billing_period", string(plan.Period)),
	)
	metadata := map[string]string{
		"account_id":     accountID.String(),
		"plan_type":      string(plan.Tier),
		"billing_period": string(plan.Period),
	}

	var undo []compensation

	customerID, err := p.linkedCustomer(ctx, accountID)
	if err != nil {
		return nil, p.abort(ctx, log, StageCreateCustomer, err, undo)
	}
	if customerID != "" {
		log.InfoContext(ctx, "reusing linked provider customer", logger.CustomerID(customerID))
	} else {
		customer, err := call(ctx, p.common, func(ctx context.Context) (*ProviderCustomer, error) {
			return p.provider.CreateCustomer(ctx, CustomerParams{
				Email:    strings.TrimSpace(req.Email),
				Name:     strings.TrimSpace(req.AccountName),
				Metadata: metadata,
			})
		})
		if err != nil {
			return nil, p.abort(ctx, log, StageCreateCustomer, err, undo)
		}
		customerID = customer.ID
		undo = append(undo, compensation{StageCreateCustomer, func(ctx context.Context) error {
			return p.provider.DeleteCustomer(ctx, customerID)
		}})
	}

	price, err := call(ctx, p.common, func(ctx context.Context) (*ProviderPrice, error) {
		return p.provider.CreatePrice(ctx, PriceParams{
			Amount:      plan.Price,
			Interval:    plan.Period,
			ProductName: plan.Name,
			Metadata:    metadata,
		})
	})
	if err != nil {
		return nil, p.abort(ctx, log, StageCreatePrice, err, undo)
	}
	undo = append(undo, compensation{StageCreatePrice, func(ctx context.Context) error {
		return p.provider.DeactivatePrice(ctx, price.ID)
	}})

	sub, err := call(ctx, p.common, func(ctx context.Context) (*ProviderSubscription, error) {
		return p.provider.CreateSubscription(ctx, SubscriptionParams{
			CustomerID: customerID,
			PriceID:    price.ID,
			Metadata:   metadata,
		})
	})
	if err == nil && sub.ClientSecret == "" {
		undo = append(undo, compensation{StageCreateSubscription, func(ctx context.Context) error {
			return p.provider.CancelSubscription(ctx, sub.ID)
		}})
		err = ErrNoClientSecret
	}
	if err != nil {
		return nil, p.abort(ctx, log, StageCreateSubscription, err, undo)
	}

	p.metrics.checkout("succeeded", "")
	log.InfoContext(ctx, "checkout provisioned",
		logger.CustomerID(customerID), logger.SubscriptionID(sub.ID), slog.String("status", string(sub.Status)))

	p.record(ctx, accountID, plan, customerID, sub)

	return &CheckoutResult{
		SubscriptionID: sub.ID,
		CustomerID:     customerID,
		ClientSecret:   sub.ClientSecret,
		Plan:           plan,
		Status:         sub.Status,
	}, nil
}

func (p *Provisioner) validate(req CheckoutRequest) (uuid.UUID, PlanConfig, error) {
	accountID, err := uuid.Parse(strings.TrimSpace(req.AccountID))
	if err != nil {
		return uuid.Nil, PlanConfig{}, fmt.Errorf("%w: account id must be a uuid", ErrInvalidCheckoutParams)
	}
	plan, err := p.catalog.Lookup(req.Tier, req.Period)
	if err != nil {
		return uuid.Nil, PlanConfig{}, err
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		return uuid.Nil, PlanConfig{}, fmt.Errorf("%w: email is invalid", ErrInvalidCheckoutParams)
	}
	return accountID, plan, nil
}

// linkedCustomer returns the provider customer already linked to the
// account. Lifecycle events are correlated by customer id only, so a second
// customer for the same account would never be linked.
func (p *Provisioner) linkedCustomer(ctx context.Context, accountID uuid.UUID) (string, error) {
	customerID, err := call(ctx, p.common, func(ctx context.Context) (string, error) {
		return p.store.AccountCustomerID(ctx, accountID)
	})
	switch {
	case err == nil:
		return customerID, nil
	case errors.Is(err, ErrNoRecordMatched):
		// Unknown accounts still provision; the account patch then matches nothing.
		return "", nil
	default:
		return "", fmt.Errorf("look up account customer: %w", err)
	}
}

// abort compensates completed stages and returns the staged error.
// Compensation runs detached from the request's cancellation.
func (p *Provisioner) abort(ctx context.Context, log *slog.Logger, stage CheckoutStage, cause error, undo []compensation) error {
	p.metrics.checkout("failed", stage)
	log.ErrorContext(ctx, "checkout failed", logger.Stage(string(stage)), logger.Error(cause))

	detached := context.WithoutCancel(ctx)
	for i := len(undo) - 1; i >= 0; i-- {
		c := undo[i]
		callCtx, cancel := p.withTimeout(detached)
		err := c.undo(callCtx)
		cancel()
		if err != nil {
			p.metrics.compensationFailed(c.stage)
			log.ErrorContext(ctx, "checkout compensation failed, provider object leaked",
				logger.Stage(string(c.stage)), logger.Error(err))
		}
	}
	return &CheckoutError{Stage: stage, Err: cause}
}

// record mirrors a provisioned subscription into the record store.
// Failures are logged and left for later lifecycle events to converge.
func (p *Provisioner) record(ctx context.Context, accountID uuid.UUID, plan PlanConfig, customerID string, sub *ProviderSubscription) {
	now := p.now().UTC()
	eventAt := sub.CreatedAt
	if eventAt.IsZero() {
		eventAt = now
	}

	p.bestEffort(ctx, opPatchAccount, func(ctx context.Context) error {
		return p.store.PatchAccountByID(ctx, accountID, AccountPatch{
			Status:     sub.Status,
			PlanTier:   plan.Tier,
			CustomerID: customerID,
			EventAt:    eventAt,
			UpdatedAt:  now,
		})
	}, logger.AccountID(accountID))

	rec := SubscriptionRecord{
		ID:                 sub.ID,
		AccountID:          accountID,
		CustomerID:         customerID,
		Status:             sub.Status,
		PlanTier:           plan.Tier,
		PlanName:           plan.Name,
		PlanPrice:          plan.Price,
		BillingPeriod:      plan.Period,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		EventAt:            eventAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	var inserted error
	p.bestEffort(ctx, opInsertSubscription, func(ctx context.Context) error {
		inserted = p.store.InsertSubscription(ctx, rec)
		return inserted
	}, logger.SubscriptionID(sub.ID))

	// A lifecycle event may have created the record first.
	if errors.Is(inserted, ErrDuplicateRecord) {
		p.bestEffort(ctx, opAttachOwner, func(ctx context.Context) error {
			return p.store.AttachSubscriptionOwner(ctx, rec)
		}, logger.SubscriptionID(sub.ID))
	}
}

func (p *Provisioner) bestEffort(ctx context.Context, op string, fn func(context.Context) error, attrs ...slog.Attr) {
	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()
	p.report(ctx, op, fn(callCtx), attrs...)
}

func call[T any](ctx context.Context, c common, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	return fn(callCtx)
}
