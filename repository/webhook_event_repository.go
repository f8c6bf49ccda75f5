package repository

import (
	"context"
	"time"

	"lms-payment-service/database"
	"lms-payment-service/models"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoWebhookEventRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewWebhookEventRepository(db *mongo.Database) *MongoWebhookEventRepository {
	return &MongoWebhookEventRepository{
		collection: db.Collection(database.CollectionWebhookEvents),
		now:        time.Now,
	}
}

// Claim records eventID as being processed. It returns false when another
// delivery of the same event already holds the claim.
func (r *MongoWebhookEventRepository) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := r.collection.InsertOne(ctx, models.ProcessedEvent{
		ID:         eventID,
		Type:       eventType,
		ReceivedAt: r.now().UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "claim webhook event")
	}
	return true, nil
}

// Release drops a claim so a redelivery can retry the event.
func (r *MongoWebhookEventRepository) Release(ctx context.Context, eventID string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": eventID}); err != nil {
		return errors.Wrap(err, "release webhook event")
	}
	return nil
}
