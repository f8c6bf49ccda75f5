package repository

import (
	"context"
	"time"

	"lms-payment-service/database"
	"lms-payment-service/models"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoOrderRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{
		collection: db.Collection(database.CollectionOrders),
		now:        time.Now,
	}
}

func (r *MongoOrderRepository) Create(ctx context.Context, order *models.Order) error {
	now := r.now().UTC()
	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, order); err != nil {
		return errors.Wrap(err, "insert order")
	}
	return nil
}

func (r *MongoOrderRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoOrderRepository) FindByIDForUser(ctx context.Context, id, userID primitive.ObjectID) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id, "user": userID})
}

func (r *MongoOrderRepository) findOne(ctx context.Context, filter bson.M) (*models.Order, error) {
	var order models.Order
	err := r.collection.FindOne(ctx, filter).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	return &order, nil
}

// SetPaymentReference stores the gateway session id on a pending order.
func (r *MongoOrderRepository) SetPaymentReference(ctx context.Context, id primitive.ObjectID, reference string) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.OrderStatusPending},
		bson.M{"$set": bson.M{"payment_reference": reference, "updated_at": r.now().UTC()}},
	)
	if err != nil {
		return errors.Wrap(err, "set payment reference")
	}
	if res.MatchedCount == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkPaid moves a pending order to paid. It is the fulfillment gate: of any
// number of concurrent callers exactly one gets the updated order back, the
// rest get ErrStatusConflict.
func (r *MongoOrderRepository) MarkPaid(ctx context.Context, id primitive.ObjectID, update PaidUpdate) (*models.Order, error) {
	set := bson.M{
		"status":         models.OrderStatusPaid,
		"paid_at":        update.PaidAt.UTC(),
		"payment_method": update.PaymentMethod,
		"updated_at":     r.now().UTC(),
	}
	if update.Reference != nil {
		set["payment_reference"] = *update.Reference
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var order models.Order
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.OrderStatusPending},
		bson.M{"$set": set},
		opts,
	).Decode(&order)

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, ErrStatusConflict
	case mongo.IsDuplicateKeyError(err):
		return nil, ErrDuplicate
	case err != nil:
		return nil, errors.Wrap(err, "mark order paid")
	}
	return &order, nil
}

// TransitionStatus applies from -> to only if the order is still in from.
func (r *MongoOrderRepository) TransitionStatus(ctx context.Context, id primitive.ObjectID, from, to models.OrderStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, errors.Errorf("illegal order transition %s -> %s", from, to)
	}
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": r.now().UTC()}},
	)
	if err != nil {
		return false, errors.Wrap(err, "transition order status")
	}
	return res.ModifiedCount > 0, nil
}

func (r *MongoOrderRepository) ClaimCouponRedemption(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.OrderStatusPaid, "coupon_redeemed": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"coupon_redeemed": true, "updated_at": r.now().UTC()}},
	)
	if err != nil {
		return false, errors.Wrap(err, "claim coupon redemption")
	}
	return res.ModifiedCount > 0, nil
}

func (r *MongoOrderRepository) MarkCompleted(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.OrderStatusPaid, "completed_at": nil},
		bson.M{"$set": bson.M{"completed_at": at.UTC(), "updated_at": r.now().UTC()}},
	)
	if err != nil {
		return false, errors.Wrap(err, "mark order completed")
	}
	return res.ModifiedCount > 0, nil
}
