package billing

import "errors"

var (
	ErrInvalidPlan           = errors.New("invalid plan")
	ErrInvalidCatalog        = errors.New("invalid plan catalog")
	ErrFailedToLoadCatalog   = errors.New("failed to load plan catalog")
	ErrInvalidCheckoutParams = errors.New("invalid checkout parameters")

	ErrMissingWebhookSecret = errors.New("webhook secret is not configured")
	ErrMissingSignature     = errors.New("missing webhook signature")
	ErrSignatureInvalid     = errors.New("webhook signature verification failed")
	ErrMalformedEvent       = errors.New("malformed event payload")
	ErrMissingField         = errors.New("required event field is missing")
	ErrHandlerPanic         = errors.New("event handler panicked")
	ErrUnhandledVariant     = errors.New("unhandled event variant")

	// Record store errors
	ErrNoRecordMatched = errors.New("no record matched the filter")
	ErrStaleEvent      = errors.New("event is older than the stored state")
	ErrDuplicateRecord = errors.New("record already exists")

	// Provider errors
	ErrMissingSecretKey = errors.New("payment provider secret key is required")
	ErrNoClientSecret   = errors.New("provider did not return a client confirmation secret")
)
