package repository

import (
	"context"
	"time"

	"lms-payment-service/models"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write violates a unique index.
	ErrDuplicate = errors.New("duplicate record")
	// ErrStatusConflict is returned by conditional updates whose precondition no longer holds.
	ErrStatusConflict = errors.New("status precondition failed")
)

// OrderRepository persists orders. Only conditional updates change status.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
	FindByIDForUser(ctx context.Context, id, userID primitive.ObjectID) (*models.Order, error)
	SetPaymentReference(ctx context.Context, id primitive.ObjectID, reference string) error
	MarkPaid(ctx context.Context, id primitive.ObjectID, update PaidUpdate) (*models.Order, error)
	TransitionStatus(ctx context.Context, id primitive.ObjectID, from, to models.OrderStatus) (bool, error)
	// ClaimCouponRedemption reports true to the one caller that flips the
	// paid order's coupon_redeemed flag.
	ClaimCouponRedemption(ctx context.Context, id primitive.ObjectID) (bool, error)
	// MarkCompleted reports true to the one caller that stamps completed_at
	// on a paid order.
	MarkCompleted(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error)
}

// PaidUpdate carries the fields recorded when an order becomes paid.
type PaidUpdate struct {
	PaymentMethod string
	Reference     *string // nil keeps the stored reference
	PaidAt        time.Time
}

type EnrollmentRepository interface {
	FindOne(ctx context.Context, userID, courseID primitive.ObjectID) (*models.Enrollment, error)
	FindByUserAndCourses(ctx context.Context, userID primitive.ObjectID, courseIDs []primitive.ObjectID) ([]models.Enrollment, error)
	FindByOrder(ctx context.Context, orderID primitive.ObjectID) ([]models.Enrollment, error)
	// InsertIgnore inserts e unless (user, course) already exists, in which case
	// e is overwritten with the stored enrollment and created is false.
	InsertIgnore(ctx context.Context, e *models.Enrollment) (created bool, err error)
}

type ProgressRepository interface {
	Create(ctx context.Context, p *models.CourseProgress) error
}

type CourseRepository interface {
	// ResolveRef looks id up as a published course, then as a draft.
	ResolveRef(ctx context.Context, id primitive.ObjectID) (*models.CourseRef, error)
	FindCourses(ctx context.Context, ids []primitive.ObjectID) ([]models.Course, error)
	IncrementLearners(ctx context.Context, courseID primitive.ObjectID) error
}

type CouponRepository interface {
	FindActiveByCode(ctx context.Context, code string) (*models.Coupon, error)
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	Create(ctx context.Context, coupon *models.Coupon) error
	// Redeem increments used_count only while the coupon is active, unexpired at
	// now and below its cap. ErrStatusConflict means the precondition failed.
	Redeem(ctx context.Context, code string, now time.Time) (*models.Coupon, error)
	ListAvailable(ctx context.Context, now time.Time) ([]models.Coupon, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
}

// WebhookEventRepository records processed gateway event ids.
type WebhookEventRepository interface {
	Claim(ctx context.Context, eventID, eventType string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	MarkSucceeded(ctx context.Context, sessionID string, payload *string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, sessionID string, payload *string, at time.Time) (bool, error)
}

type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*models.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}
