package services

import (
	"context"
	"time"

	apperrors "lms-payment-service/common/errors"
	"lms-payment-service/models"
	pkgaws "lms-payment-service/pkg/aws"
	"lms-payment-service/repository"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Rejection messages shown to the client.
const (
	MsgCourseNotFound     = "Course not found"
	MsgInvalidCoupon      = "Invalid coupon code"
	MsgCouponExpired      = "Coupon has expired"
	MsgCouponLimitReached = "Coupon usage limit exceeded"
	MsgCouponNotApplies   = "This coupon is not applicable for this course"
)

var hundred = decimal.NewFromInt(100)

type CouponService struct {
	coupons repository.CouponRepository
	courses repository.CourseRepository
	events  EventPublisher
	metrics MetricsRecorder
	logger  *zap.Logger
	now     func() time.Time
}

func NewCouponService(coupons repository.CouponRepository, courses repository.CourseRepository, events EventPublisher, metrics MetricsRecorder, logger *zap.Logger) *CouponService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &CouponService{
		coupons: coupons,
		courses: courses,
		events:  events,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// ValidateForCourse checks code against one course without consuming it.
// Checks run in a fixed order and the first failure is returned.
func (s *CouponService) ValidateForCourse(ctx context.Context, courseID, code string) (*models.CouponEvaluation, error) {
	oid, err := primitive.ObjectIDFromHex(courseID)
	if err != nil {
		return nil, apperrors.NotFound(MsgCourseNotFound)
	}

	ref, err := s.courses.ResolveRef(ctx, oid)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(MsgCourseNotFound)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	coupon, err := s.coupons.FindActiveByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(MsgInvalidCoupon)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	if err := checkUsable(coupon, s.now()); err != nil {
		return nil, err
	}
	if !coupon.AppliesTo(ref.IDs()...) {
		return nil, apperrors.Validation(MsgCouponNotApplies)
	}
	if coupon.MinimumPurchase.IsPositive() && ref.Price.LessThan(coupon.MinimumPurchase) {
		return nil, apperrors.Validation("Minimum purchase of ₹" + coupon.MinimumPurchase.String() + " required")
	}

	discount := models.PercentOf(ref.Price, coupon.DiscountPercentage)
	return &models.CouponEvaluation{
		Valid:              true,
		Message:            "Coupon applied successfully",
		CouponCode:         coupon.Code,
		DiscountPercentage: coupon.DiscountPercentage,
		OriginalPrice:      ref.Price,
		DiscountAmount:     discount,
		DiscountedPrice:    ref.Price.Sub(discount),
		Description:        coupon.Description,
	}, nil
}

func checkUsable(c *models.Coupon, now time.Time) error {
	if c.ExpiredAt(now) {
		return apperrors.Validation(MsgCouponExpired)
	}
	if c.Exhausted() {
		return apperrors.Validation(MsgCouponLimitReached)
	}
	return nil
}

// Redeem consumes one use of code. The increment is conditional in storage, so
// concurrent redemptions can never push used_count past max_uses.
func (s *CouponService) Redeem(ctx context.Context, code string) (*models.Coupon, error) {
	now := s.now()
	coupon, err := s.coupons.Redeem(ctx, code, now)
	if err == nil {
		s.logger.Info("Coupon redeemed",
			zap.String("code", coupon.Code),
			zap.Int("used_count", coupon.UsedCount),
		)
		_ = s.metrics.RecordCount(ctx, pkgaws.MetricCouponRedemptions, map[string]string{"Code": coupon.Code})
		if s.events != nil {
			s.events.Publish(ctx, models.DomainEvent{
				Type:      models.EventCouponRedeemed,
				Reference: coupon.Code,
				Timestamp: now.UTC(),
			})
		}
		return coupon, nil
	}
	if !errors.Is(err, repository.ErrStatusConflict) {
		return nil, apperrors.Internal(err)
	}

	// Precondition failed: report why.
	current, err := s.coupons.FindByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !current.IsActive) {
		return nil, apperrors.NotFound(MsgInvalidCoupon)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := checkUsable(current, now); err != nil {
		return nil, err
	}
	return nil, apperrors.Validation(MsgCouponLimitReached)
}

// CreateCoupon stores a new coupon with an uppercase code.
func (s *CouponService) CreateCoupon(ctx context.Context, creatorID string, req models.CreateCouponRequest) (*models.Coupon, error) {
	if req.DiscountPercentage.IsZero() {
		return nil, apperrors.Validation("Code and discount percentage are required")
	}
	if req.DiscountPercentage.IsNegative() || req.DiscountPercentage.GreaterThan(hundred) {
		return nil, apperrors.Validation("Discount percentage must be between 0 and 100")
	}
	if req.MinimumPurchase.IsNegative() {
		return nil, apperrors.Validation("Minimum purchase cannot be negative")
	}
	creator, err := primitive.ObjectIDFromHex(creatorID)
	if err != nil {
		return nil, apperrors.Unauthorized("Invalid user")
	}

	applicable := make([]primitive.ObjectID, 0, len(req.ApplicableCourses))
	for _, raw := range lo.Uniq(req.ApplicableCourses) {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return nil, apperrors.Validation("Invalid course id").With("courseId", raw)
		}
		applicable = append(applicable, id)
	}

	coupon := &models.Coupon{
		Code:               repository.NormalizeCode(req.Code),
		DiscountPercentage: req.DiscountPercentage,
		Description:        req.Description,
		IsActive:           true,
		ValidUntil:         req.ValidUntil,
		MaxUses:            req.MaxUses,
		MinimumPurchase:    req.MinimumPurchase,
		ApplicableCourses:  applicable,
		CreatedBy:          creator,
		CreatedAt:          s.now().UTC(),
	}
	if err := s.coupons.Create(ctx, coupon); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict("Coupon code already exists").With("code", coupon.Code)
		}
		return nil, apperrors.Internal(err)
	}

	s.logger.Info("Coupon created", zap.String("code", coupon.Code), zap.String("created_by", creatorID))
	return coupon, nil
}

// ListAvailable returns the public view of active, unexpired, unexhausted coupons.
func (s *CouponService) ListAvailable(ctx context.Context) ([]models.AvailableCoupon, error) {
	coupons, err := s.coupons.ListAvailable(ctx, s.now())
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return lo.Map(coupons, func(c models.Coupon, _ int) models.AvailableCoupon {
		return models.AvailableCoupon{
			Code:               c.Code,
			DiscountPercentage: c.DiscountPercentage,
			Description:        c.Description,
		}
	}), nil
}
