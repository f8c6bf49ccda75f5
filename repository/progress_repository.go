package repository

import (
	"context"

	"lms-payment-service/database"
	"lms-payment-service/models"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoProgressRepository struct {
	collection *mongo.Collection
}

func NewProgressRepository(db *mongo.Database) *MongoProgressRepository {
	return &MongoProgressRepository{collection: db.Collection(database.CollectionProgress)}
}

// Create inserts a progress record. A record already present for the enrollment is kept.
func (r *MongoProgressRepository) Create(ctx context.Context, p *models.CourseProgress) error {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	if p.CompletedLessons == nil {
		p.CompletedLessons = []string{}
	}
	_, err := r.collection.InsertOne(ctx, p)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return errors.Wrap(err, "insert progress")
	}
	return nil
}
