// Package mongostore implements billing.CheckoutStore on MongoDB.
//
// Ordering-guarded writes put the timestamp comparison in the update
// filter, so a single UpdateOne either applies or matches nothing.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/billsync/pkg/billing"
)

// Collection names.
const (
	AccountsCollection      = "companies"
	SubscriptionsCollection = "subscriptions"
	AlertsCollection        = "alerts"
)

// Collection is the subset of *mongo.Collection used by the store.
type Collection interface {
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error)
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
	CountDocuments(ctx context.Context, filter any, opts ...options.Lister[options.CountOptions]) (int64, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
}

// Store writes account, subscription and alert documents.
type Store struct {
	accounts      Collection
	subscriptions Collection
	alerts        Collection
}

var _ billing.CheckoutStore = (*Store)(nil)

// New creates a Store over the default collections of db.
func New(db *mongo.Database) *Store {
	return NewWithCollections(
		db.Collection(AccountsCollection),
		db.Collection(SubscriptionsCollection),
		db.Collection(AlertsCollection),
	)
}

// NewWithCollections creates a Store over explicit collections.
// Panics if any collection is nil.
func NewWithCollections(accounts, subscriptions, alerts Collection) *Store {
	if accounts == nil || subscriptions == nil || alerts == nil {
		panic("mongostore: all collections are required")
	}
	return &Store{accounts: accounts, subscriptions: subscriptions, alerts: alerts}
}

type subscriptionDoc struct {
	ID                 string     `bson:"_id"`
	AccountID          string     `bson:"company_id,omitempty"`
	CustomerID         string     `bson:"stripe_customer_id"`
	Status             string     `bson:"status"`
	PlanTier           string     `bson:"plan_type,omitempty"`
	PlanName           string     `bson:"plan_name,omitempty"`
	PlanPrice          int64      `bson:"plan_price,omitempty"`
	Currency           string     `bson:"currency,omitempty"`
	BillingPeriod      string     `bson:"billing_period,omitempty"`
	CurrentPeriodStart *time.Time `bson:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `bson:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `bson:"cancel_at_period_end"`
	LastEventAt        *time.Time `bson:"last_event_at,omitempty"`
	CreatedAt          time.Time  `bson:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at"`
}

type alertDoc struct {
	ID                string         `bson:"_id"`
	Category          string         `bson:"category"`
	Title             string         `bson:"title"`
	Description       string         `bson:"description"`
	Severity          string         `bson:"severity"`
	SourcePlatform    string         `bson:"source_platform"`
	ExternalReference string         `bson:"external_reference"`
	Metadata          map[string]any `bson:"metadata"`
	SourceEventID     string         `bson:"source_event_id,omitempty"`
	CreatedAt         time.Time      `bson:"created_at"`
}

func (s *Store) AccountCustomerID(ctx context.Context, accountID uuid.UUID) (string, error) {
	var doc struct {
		CustomerID string `bson:"stripe_customer_id"`
	}
	err := s.accounts.FindOne(ctx, bson.M{"_id": accountID.String()},
		options.FindOne().SetProjection(bson.M{"stripe_customer_id": 1}),
	).Decode(&doc)
	switch {
	case err == nil:
		return doc.CustomerID, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return "", billing.ErrNoRecordMatched
	default:
		return "", fmt.Errorf("account customer: %w", err)
	}
}

func (s *Store) PatchAccountByCustomer(ctx context.Context, customerID string, patch billing.AccountPatch) error {
	return s.patchAccount(ctx, bson.M{"stripe_customer_id": customerID}, patch)
}

func (s *Store) PatchAccountByID(ctx context.Context, accountID uuid.UUID, patch billing.AccountPatch) error {
	return s.patchAccount(ctx, bson.M{"_id": accountID.String()}, patch)
}

func (s *Store) patchAccount(ctx context.Context, key bson.M, patch billing.AccountPatch) error {
	set := bson.M{"updated_at": patch.UpdatedAt}
	if patch.Status != "" {
		set["subscription_status"] = literal(string(patch.Status))
	}
	if patch.PlanTier != "" {
		set["plan_type"] = literal(string(patch.PlanTier))
	}
	if patch.CustomerID != "" {
		set["stripe_customer_id"] = bson.M{"$ifNull": bson.A{"$stripe_customer_id", literal(patch.CustomerID)}}
	}
	if !patch.EventAt.IsZero() {
		set["subscription_event_at"] = patch.EventAt
	}

	res, err := s.accounts.UpdateOne(ctx,
		guarded(key, "subscription_event_at", patch.EventAt),
		bson.A{bson.M{"$set": set}},
	)
	if err != nil {
		return fmt.Errorf("patch account: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return missOrStale(ctx, s.accounts, key)
}

func (s *Store) UpsertSubscription(ctx context.Context, state billing.SubscriptionState) error {
	set := bson.M{
		"stripe_customer_id":   state.CustomerID,
		"status":               string(state.Status),
		"current_period_start": state.CurrentPeriodStart,
		"current_period_end":   state.CurrentPeriodEnd,
		"cancel_at_period_end": state.CancelAtPeriodEnd,
		"updated_at":           state.UpdatedAt,
	}
	if !state.EventAt.IsZero() {
		set["last_event_at"] = state.EventAt
	}

	_, err := s.subscriptions.UpdateOne(ctx,
		guarded(bson.M{"_id": state.ID}, "last_event_at", state.EventAt),
		bson.M{"$set": set, "$setOnInsert": bson.M{"created_at": state.UpdatedAt}},
		options.UpdateOne().SetUpsert(true),
	)
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		// The guard excluded the existing document and the upsert collided with its _id.
		return billing.ErrStaleEvent
	default:
		return fmt.Errorf("upsert subscription: %w", err)
	}
}

func (s *Store) PatchSubscriptionStatus(ctx context.Context, subscriptionID string, status billing.Status, eventAt, updatedAt time.Time) error {
	set := bson.M{"status": string(status), "updated_at": updatedAt}
	if !eventAt.IsZero() {
		set["last_event_at"] = eventAt
	}
	key := bson.M{"_id": subscriptionID}

	res, err := s.subscriptions.UpdateOne(ctx, guarded(key, "last_event_at", eventAt), bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("patch subscription status: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return missOrStale(ctx, s.subscriptions, key)
}

func (s *Store) InsertSubscription(ctx context.Context, rec billing.SubscriptionRecord) error {
	doc := subscriptionDoc{
		ID:                 rec.ID,
		AccountID:          ownerID(rec.AccountID),
		CustomerID:         rec.CustomerID,
		Status:             string(rec.Status),
		PlanTier:           string(rec.PlanTier),
		PlanName:           rec.PlanName,
		PlanPrice:          rec.PlanPrice.Amount,
		Currency:           rec.PlanPrice.Currency,
		BillingPeriod:      string(rec.BillingPeriod),
		CurrentPeriodStart: rec.CurrentPeriodStart,
		CurrentPeriodEnd:   rec.CurrentPeriodEnd,
		CancelAtPeriodEnd:  rec.CancelAtPeriodEnd,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
	if !rec.EventAt.IsZero() {
		doc.LastEventAt = &rec.EventAt
	}

	_, err := s.subscriptions.InsertOne(ctx, doc)
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return billing.ErrDuplicateRecord
	default:
		return fmt.Errorf("insert subscription: %w", err)
	}
}

func (s *Store) AttachSubscriptionOwner(ctx context.Context, rec billing.SubscriptionRecord) error {
	set := bson.M{
		"company_id":     literal(ownerID(rec.AccountID)),
		"plan_type":      literal(string(rec.PlanTier)),
		"plan_name":      literal(rec.PlanName),
		"plan_price":     rec.PlanPrice.Amount,
		"currency":       literal(rec.PlanPrice.Currency),
		"billing_period": literal(string(rec.BillingPeriod)),
		"updated_at":     rec.UpdatedAt,
	}
	if rec.CurrentPeriodStart != nil {
		set["current_period_start"] = bson.M{"$ifNull": bson.A{"$current_period_start", *rec.CurrentPeriodStart}}
	}
	if rec.CurrentPeriodEnd != nil {
		set["current_period_end"] = bson.M{"$ifNull": bson.A{"$current_period_end", *rec.CurrentPeriodEnd}}
	}

	res, err := s.subscriptions.UpdateOne(ctx, bson.M{"_id": rec.ID}, bson.A{bson.M{"$set": set}})
	if err != nil {
		return fmt.Errorf("attach subscription owner: %w", err)
	}
	if res.MatchedCount == 0 {
		return billing.ErrNoRecordMatched
	}
	return nil
}

func (s *Store) InsertAlert(ctx context.Context, alert billing.Alert) error {
	metadata := alert.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := s.alerts.InsertOne(ctx, alertDoc{
		ID:                alert.ID.String(),
		Category:          alert.Category,
		Title:             alert.Title,
		Description:       alert.Description,
		Severity:          alert.Severity,
		SourcePlatform:    alert.SourcePlatform,
		ExternalReference: alert.ExternalReference,
		Metadata:          metadata,
		SourceEventID:     alert.SourceEventID,
		CreatedAt:         alert.CreatedAt,
	})
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return billing.ErrDuplicateRecord
	default:
		return fmt.Errorf("insert alert: %w", err)
	}
}

// guarded adds the ordering condition on field to the key filter.
// A zero stamp disables the guard.
func guarded(key bson.M, field string, eventAt time.Time) bson.M {
	if eventAt.IsZero() {
		return key
	}
	filter := bson.M{"$or": bson.A{
		bson.M{field: nil},
		bson.M{field: bson.M{"$lte": eventAt}},
	}}
	for k, v := range key {
		filter[k] = v
	}
	return filter
}

func missOrStale(ctx context.Context, coll Collection, key bson.M) error {
	n, err := coll.CountDocuments(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %w", billing.ErrNoRecordMatched, err)
	}
	if n > 0 {
		return billing.ErrStaleEvent
	}
	return billing.ErrNoRecordMatched
}

// literal keeps pipeline updates from interpreting a value as a field path.
func literal(v string) bson.M {
	return bson.M{"$literal": v}
}

func ownerID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
