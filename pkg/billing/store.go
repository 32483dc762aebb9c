package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordWriter is the record store capability shared by Event Intake and
// the Checkout Provisioner. Each operation must be atomic per record at the
// store; callers hold no locks.
//
// Writes that carry an ordering stamp return ErrStaleEvent when the stored
// record was last written by a newer event, and ErrNoRecordMatched when
// the filter selects nothing.
type RecordWriter interface {
	// PatchAccountByCustomer updates the account owning the provider customer id.
	PatchAccountByCustomer(ctx context.Context, customerID string, patch AccountPatch) error

	// PatchAccountByID updates the account with the given internal id.
	PatchAccountByID(ctx context.Context, accountID uuid.UUID, patch AccountPatch) error

	// UpsertSubscription creates or overwrites the subscription keyed by state.ID
	// in a single atomic statement.
	UpsertSubscription(ctx context.Context, state SubscriptionState) error

	// PatchSubscriptionStatus updates the status of an existing subscription.
	PatchSubscriptionStatus(ctx context.Context, subscriptionID string, status Status, eventAt, updatedAt time.Time) error

	// InsertSubscription creates a new subscription record.
	// Returns ErrDuplicateRecord when the id already exists.
	InsertSubscription(ctx context.Context, rec SubscriptionRecord) error

	// AttachSubscriptionOwner fills the provisioning-only fields (owner, plan
	// snapshot) of an existing record without touching its status.
	AttachSubscriptionOwner(ctx context.Context, rec SubscriptionRecord) error

	// InsertAlert stores an alert. A second alert with the same SourceEventID
	// is not stored and ErrDuplicateRecord is returned.
	InsertAlert(ctx context.Context, alert Alert) error
}

// NormalizeStatus maps provider status spellings onto stored values.
func NormalizeStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "canceled", "cancelled":
		return StatusCancelled
	default:
		return Status(strings.ToLower(strings.TrimSpace(s)))
	}
}

// CheckoutStore is the record store used by the Checkout Provisioner.
type CheckoutStore interface {
	RecordWriter

	// AccountCustomerID returns the provider customer id already linked to
	// the account, or an empty string. Returns ErrNoRecordMatched when the
	// account does not exist.
	AccountCustomerID(ctx context.Context, accountID uuid.UUID) (string, error)
}
