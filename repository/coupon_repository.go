package repository

import (
	"context"
	"strings"
	"time"

	"lms-payment-service/database"
	"lms-payment-service/models"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoCouponRepository struct {
	collection *mongo.Collection
}

func NewCouponRepository(db *mongo.Database) *MongoCouponRepository {
	return &MongoCouponRepository{collection: db.Collection(database.CollectionCoupons)}
}

// NormalizeCode is the stored form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *MongoCouponRepository) FindActiveByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return r.findOne(ctx, bson.M{"code": NormalizeCode(code), "is_active": true})
}

func (r *MongoCouponRepository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return r.findOne(ctx, bson.M{"code": NormalizeCode(code)})
}

func (r *MongoCouponRepository) findOne(ctx context.Context, filter bson.M) (*models.Coupon, error) {
	var c models.Coupon
	err := r.collection.FindOne(ctx, filter).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find coupon")
	}
	return &c, nil
}

func (r *MongoCouponRepository) Create(ctx context.Context, coupon *models.Coupon) error {
	coupon.Code = NormalizeCode(coupon.Code)
	if coupon.ID.IsZero() {
		coupon.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, coupon)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return errors.Wrap(err, "insert coupon")
	}
	return nil
}

// availableFilter matches active coupons that have not expired at now.
func availableFilter(now time.Time) bson.M {
	return bson.M{
		"is_active": true,
		"$or": bson.A{
			bson.M{"valid_until": nil},
			bson.M{"valid_until": bson.M{"$gt": now}},
		},
	}
}

func (r *MongoCouponRepository) Redeem(ctx context.Context, code string, now time.Time) (*models.Coupon, error) {
	filter := availableFilter(now)
	filter["code"] = NormalizeCode(code)
	filter["$and"] = bson.A{
		bson.M{"$or": bson.A{
			bson.M{"max_uses": bson.M{"$lte": 0}},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$used_count", "$max_uses"}}},
		}},
	}

	var c models.Coupon
	err := r.collection.FindOneAndUpdate(ctx, filter,
		bson.M{"$inc": bson.M{"used_count": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, errors.Wrap(err, "redeem coupon")
	}
	return &c, nil
}

func (r *MongoCouponRepository) ListAvailable(ctx context.Context, now time.Time) ([]models.Coupon, error) {
	opts := options.Find().SetSort(bson.D{{Key: "discount_percentage", Value: -1}})
	cursor, err := r.collection.Find(ctx, availableFilter(now), opts)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	defer cursor.Close(ctx)

	var out []models.Coupon
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode coupons")
	}
	// Exhausted coupons stay active in storage but are no longer offered.
	available := out[:0]
	for _, c := range out {
		if !c.Exhausted() {
			available = append(available, c)
		}
	}
	return available, nil
}
