package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EnsureIndexes creates the unique indexes the store relies on for
// customer lookup and alert idempotency.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	customer := mongo.IndexModel{
		Keys:    bson.D{{Key: "stripe_customer_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	}
	if _, err := db.Collection(AccountsCollection).Indexes().CreateOne(ctx, customer); err != nil {
		return fmt.Errorf("create %s index: %w", AccountsCollection, err)
	}

	source := mongo.IndexModel{
		Keys:    bson.D{{Key: "source_event_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	}
	if _, err := db.Collection(AlertsCollection).Indexes().CreateOne(ctx, source); err != nil {
		return fmt.Errorf("create %s index: %w", AlertsCollection, err)
	}

	subscriptionCustomer := mongo.IndexModel{Keys: bson.D{{Key: "stripe_customer_id", Value: 1}}}
	if _, err := db.Collection(SubscriptionsCollection).Indexes().CreateOne(ctx, subscriptionCustomer); err != nil {
		return fmt.Errorf("create %s index: %w", SubscriptionsCollection, err)
	}
	return nil
}
