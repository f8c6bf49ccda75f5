package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Collection names.
const (
	CollectionOrders         = "orders"
	CollectionEnrollments    = "enrollments"
	CollectionProgress       = "courseprogresses"
	CollectionCourses        = "courses"
	CollectionPendingCourses = "pendingcourses"
	CollectionCoupons        = "coupons"
	CollectionNotifications  = "notifications"
	CollectionWebhookEvents  = "processed_webhook_events"
)

// ConnectMongo connects to MongoDB with the decimal-aware registry and pings it.
func ConnectMongo(ctx context.Context, uri, dbName string, logger *zap.Logger) (*mongo.Client, *mongo.Database, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetRegistry(NewRegistry()).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(5)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB", zap.String("database", dbName))
	return client, client.Database(dbName), nil
}

// DisconnectMongo closes the client with a bounded timeout.
func DisconnectMongo(client *mongo.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}

// EnsureIndexes creates the indexes the fulfillment path relies on for
// uniqueness: one enrollment per (user, course), one progress record per
// enrollment, unique coupon codes and unique payment references on paid orders.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		CollectionEnrollments: {
			{
				Keys:    bson.D{{Key: "user", Value: 1}, {Key: "course", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("user_course_unique"),
			},
			{Keys: bson.D{{Key: "order", Value: 1}}},
		},
		CollectionProgress: {
			{
				Keys:    bson.D{{Key: "enrollment", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		CollectionOrders: {
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "created_at", Value: -1}}},
			{
				Keys: bson.D{{Key: "payment_reference", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName("paid_payment_reference_unique").
					SetPartialFilterExpression(bson.M{
						"status":            "paid",
						"payment_reference": bson.M{"$type": "string"},
					}),
			},
		},
		CollectionCoupons: {
			{
				Keys:    bson.D{{Key: "code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		CollectionNotifications: {
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		CollectionWebhookEvents: {
			// Claims are kept 30 days, longer than the gateway retries a delivery.
			{
				Keys:    bson.D{{Key: "received_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(30 * 24 * 60 * 60),
			},
		},
	}

	for name, indexes := range specs {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}
