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

type MongoCourseRepository struct {
	courses *mongo.Collection
	drafts  *mongo.Collection
}

func NewCourseRepository(db *mongo.Database) *MongoCourseRepository {
	return &MongoCourseRepository{
		courses: db.Collection(database.CollectionCourses),
		drafts:  db.Collection(database.CollectionPendingCourses),
	}
}

func (r *MongoCourseRepository) ResolveRef(ctx context.Context, id primitive.ObjectID) (*models.CourseRef, error) {
	var course models.Course
	err := r.courses.FindOne(ctx, bson.M{"_id": id}).Decode(&course)
	if err == nil {
		ref := models.RefFromCourse(&course)
		return &ref, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrap(err, "find course")
	}

	var draft models.PendingCourse
	err = r.drafts.FindOne(ctx, bson.M{"_id": id}).Decode(&draft)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find pending course")
	}
	ref := models.RefFromDraft(&draft)
	return &ref, nil
}

func (r *MongoCourseRepository) FindCourses(ctx context.Context, ids []primitive.ObjectID) ([]models.Course, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cursor, err := r.courses.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, errors.Wrap(err, "find courses")
	}
	defer cursor.Close(ctx)

	var out []models.Course
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode courses")
	}
	return out, nil
}

func (r *MongoCourseRepository) IncrementLearners(ctx context.Context, courseID primitive.ObjectID) error {
	_, err := r.courses.UpdateOne(ctx,
		bson.M{"_id": courseID},
		bson.M{"$inc": bson.M{"total_learners": 1}},
	)
	if err != nil {
		return errors.Wrap(err, "increment learners")
	}
	return nil
}
