package billing

import (
	"time"

	"github.com/google/uuid"
)

// Status is a subscription status as reported by the payment provider.
// Provider-native transitional states (incomplete, trialing, unpaid, ...)
// are stored verbatim alongside the values below.
type Status string

const (
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCancelled         Status = "cancelled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// AccountPatch is a partial update of an account (company) record.
// Empty fields are left untouched.
type AccountPatch struct {
	Status     Status
	PlanTier   Tier
	CustomerID string // set once, during checkout

	// EventAt is the ordering stamp of the change. The write is skipped when
	// the stored stamp is newer.
	EventAt   time.Time
	UpdatedAt time.Time
}

// SubscriptionState is the lifecycle-event view of a subscription that
// Subscription Sync upserts.
type SubscriptionState struct {
	ID                 string
	CustomerID         string
	Status             Status
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	EventAt            time.Time
	UpdatedAt          time.Time
}

// SubscriptionRecord is the full subscription record written at checkout.
// Plan fields are a snapshot of the catalog at provisioning time.
type SubscriptionRecord struct {
	ID                 string
	AccountID          uuid.UUID
	CustomerID         string
	Status             Status
	PlanTier           Tier
	PlanName           string
	PlanPrice          Money
	BillingPeriod      Period
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	EventAt            time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Alert severities and categories.
const (
	SeverityHigh = "high"

	AlertPaymentFailed = "payment_failed"
)

// Alert is an operational notification record.
type Alert struct {
	ID                uuid.UUID
	Category          string
	Title             string
	Description       string
	Severity          string
	SourcePlatform    string
	ExternalReference string
	Metadata          map[string]any

	// SourceEventID makes alert creation idempotent per provider event.
	SourceEventID string
	CreatedAt     time.Time
}

// Account is a stored account (company) record.
type Account struct {
	ID         uuid.UUID
	Name       string
	CustomerID string
	Status     Status
	PlanTier   Tier
	EventAt    time.Time // ordering stamp of the last applied subscription event
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
