package repository

import (
	"context"

	"lms-payment-service/database"
	"lms-payment-service/models"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoEnrollmentRepository struct {
	collection *mongo.Collection
}

func NewEnrollmentRepository(db *mongo.Database) *MongoEnrollmentRepository {
	return &MongoEnrollmentRepository{collection: db.Collection(database.CollectionEnrollments)}
}

func (r *MongoEnrollmentRepository) FindOne(ctx context.Context, userID, courseID primitive.ObjectID) (*models.Enrollment, error) {
	var e models.Enrollment
	err := r.collection.FindOne(ctx, bson.M{"user": userID, "course": courseID}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find enrollment")
	}
	return &e, nil
}

func (r *MongoEnrollmentRepository) FindByUserAndCourses(ctx context.Context, userID primitive.ObjectID, courseIDs []primitive.ObjectID) ([]models.Enrollment, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"user": userID, "course": bson.M{"$in": courseIDs}})
}

func (r *MongoEnrollmentRepository) FindByOrder(ctx context.Context, orderID primitive.ObjectID) ([]models.Enrollment, error) {
	return r.find(ctx, bson.M{"order": orderID})
}

func (r *MongoEnrollmentRepository) find(ctx context.Context, filter bson.M) ([]models.Enrollment, error) {
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "find enrollments")
	}
	defer cursor.Close(ctx)

	var out []models.Enrollment
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode enrollments")
	}
	return out, nil
}

// InsertIgnore relies on the (user, course) unique index. A duplicate key means
// another caller enrolled first; its row is returned in place of e.
func (r *MongoEnrollmentRepository) InsertIgnore(ctx context.Context, e *models.Enrollment) (bool, error) {
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}

	_, err := r.collection.InsertOne(ctx, e)
	if err == nil {
		return true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, errors.Wrap(err, "insert enrollment")
	}

	existing, err := r.FindOne(ctx, e.UserID, e.CourseID)
	if err != nil {
		return false, errors.Wrap(err, "load existing enrollment")
	}
	*e = *existing
	return false, nil
}
