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

// CouponRedeemer consumes one use of a coupon.
type CouponRedeemer interface {
	Redeem(ctx context.Context, code string) (*models.Coupon, error)
}

// ReceiptIssuer archives and mails a receipt for a paid order.
type ReceiptIssuer interface {
	Issue(ctx context.Context, order *models.Order, enrollments []models.Enrollment) error
}

// FulfillmentService turns paid orders into enrollments exactly once.
type FulfillmentService struct {
	orders      repository.OrderRepository
	enrollments repository.EnrollmentRepository
	progress    repository.ProgressRepository
	courses     repository.CourseRepository
	carts       repository.CartRepository
	coupons     CouponRedeemer
	notifier    Notifier
	events      EventPublisher
	receipts    ReceiptIssuer
	metrics     MetricsRecorder
	dispatch    Dispatcher
	logger      *zap.Logger
	now         func() time.Time
}

type FulfillmentDeps struct {
	Orders      repository.OrderRepository
	Enrollments repository.EnrollmentRepository
	Progress    repository.ProgressRepository
	Courses     repository.CourseRepository
	Carts       repository.CartRepository
	Coupons     CouponRedeemer
	Notifier    Notifier
	Events      EventPublisher
	Receipts    ReceiptIssuer
	Metrics     MetricsRecorder
	Dispatch    Dispatcher
}

func NewFulfillmentService(deps FulfillmentDeps, logger *zap.Logger) *FulfillmentService {
	f := &FulfillmentService{
		orders:      deps.Orders,
		enrollments: deps.Enrollments,
		progress:    deps.Progress,
		courses:     deps.Courses,
		carts:       deps.Carts,
		coupons:     deps.Coupons,
		notifier:    deps.Notifier,
		events:      deps.Events,
		receipts:    deps.Receipts,
		metrics:     deps.Metrics,
		dispatch:    deps.Dispatch,
		logger:      logger,
		now:         time.Now,
	}
	if f.metrics == nil {
		f.metrics = nopMetrics{}
	}
	if f.dispatch == nil {
		f.dispatch = AsyncDispatcher(30 * time.Second)
	}
	return f
}

// Confirmation describes how an order was paid.
type Confirmation struct {
	PaymentMethod string
	Reference     *string // nil keeps the order's stored reference
}

type FulfillmentResult struct {
	Order       *models.Order
	Enrollments []models.Enrollment
	// Fulfilled is true only for the caller that moved the order to paid.
	Fulfilled bool
}

// FulfillOrder marks order paid and creates its enrollments. The conditional
// pending -> paid update is the only gate: a caller that loses it gets the
// current order back and creates nothing new.
func (f *FulfillmentService) FulfillOrder(ctx context.Context, order *models.Order, c Confirmation) (*FulfillmentResult, error) {
	method := lo.CoalesceOrEmpty(c.PaymentMethod, order.PaymentMethod, models.PaymentMethodManual)

	paid, err := f.orders.MarkPaid(ctx, order.ID, repository.PaidUpdate{
		PaymentMethod: method,
		Reference:     c.Reference,
		PaidAt:        f.now().UTC(),
	})
	switch {
	case errors.Is(err, repository.ErrStatusConflict):
		return f.alreadyDecided(ctx, order.ID)
	case errors.Is(err, repository.ErrDuplicate):
		return nil, apperrors.Conflict("Payment reference already used by another order")
	case err != nil:
		return nil, apperrors.Internal(err)
	}

	log := f.logger.With(zap.String("order_id", paid.ID.Hex()), zap.String("user_id", paid.UserID.Hex()))
	log.Info("Order marked paid", zap.String("payment_method", paid.PaymentMethod))

	enrollments, err := f.enrollOrder(ctx, paid)
	if err != nil {
		return nil, err
	}
	f.complete(ctx, paid, enrollments)

	return &FulfillmentResult{Order: paid, Enrollments: enrollments, Fulfilled: true}, nil
}

// alreadyDecided handles a caller that lost the paid gate.
func (f *FulfillmentService) alreadyDecided(ctx context.Context, orderID primitive.ObjectID) (*FulfillmentResult, error) {
	current, err := f.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if current.Status != models.OrderStatusPaid {
		return nil, apperrors.Conflict("Order is " + string(current.Status)).With("status", current.Status)
	}
	enrollments, err := f.Reconcile(ctx, current)
	if err != nil {
		return nil, err
	}
	return &FulfillmentResult{Order: current, Enrollments: enrollments}, nil
}

// Reconcile returns the enrollments of a paid order, creating any that a
// previous attempt failed to write, then runs whatever post-payment steps are
// still outstanding.
func (f *FulfillmentService) Reconcile(ctx context.Context, order *models.Order) ([]models.Enrollment, error) {
	enrollments, err := f.enrollments.FindByOrder(ctx, order.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if len(enrollments) < len(order.Items) {
		f.logger.Warn("Paid order is missing enrollments, repairing",
			zap.String("order_id", order.ID.Hex()),
			zap.Int("have", len(enrollments)),
			zap.Int("want", len(order.Items)),
		)
		if enrollments, err = f.enrollOrder(ctx, order); err != nil {
			return nil, err
		}
	}
	if order.CompletedAt == nil {
		f.complete(ctx, order, enrollments)
	}
	return enrollments, nil
}

// complete redeems the coupon, resets the cart and announces the payment.
// A step that fails leaves completed_at unset so the next confirm, webhook or
// verify for the order picks it up again.
func (f *FulfillmentService) complete(ctx context.Context, order *models.Order, enrollments []models.Enrollment) {
	log := f.logger.With(zap.String("order_id", order.ID.Hex()), zap.String("user_id", order.UserID.Hex()))

	if order.CouponCode != nil && order.DiscountPercentage.IsPositive() && f.coupons != nil && !order.CouponRedeemed {
		won, err := f.orders.ClaimCouponRedemption(ctx, order.ID)
		if err != nil {
			log.Warn("Failed to claim coupon redemption", zap.Error(err))
			return
		}
		if won {
			if _, err := f.coupons.Redeem(ctx, *order.CouponCode); err != nil {
				// The customer already paid the discounted price.
				log.Warn("Coupon redemption rejected after payment", zap.String("code", *order.CouponCode), zap.Error(err))
			}
		}
	}

	if order.Source == models.OrderSourceCart {
		if err := f.carts.ClearCart(ctx, order.UserID.Hex()); err != nil {
			log.Warn("Failed to clear cart", zap.Error(err))
			return
		}
	}

	done, err := f.orders.MarkCompleted(ctx, order.ID, f.now().UTC())
	if err != nil {
		log.Warn("Failed to mark order completed", zap.Error(err))
		return
	}
	if !done {
		return
	}

	_ = f.metrics.RecordCount(ctx, pkgaws.MetricOrdersPaid, map[string]string{"Currency": order.Currency, "Method": order.PaymentMethod})
	if f.events != nil {
		f.events.Publish(ctx, models.DomainEvent{
			Type:      models.EventOrderPaid,
			OrderID:   order.ID.Hex(),
			UserID:    order.UserID.Hex(),
			Reference: lo.FromPtr(order.PaymentReference),
			Amount:    order.Total,
			Currency:  order.Currency,
			Timestamp: f.now().UTC(),
		})
	}
	if f.receipts != nil {
		receiptOrder, receiptEnrollments := *order, enrollments
		f.dispatch(func(ctx context.Context) {
			if err := f.receipts.Issue(ctx, &receiptOrder, receiptEnrollments); err != nil {
				f.logger.Warn("Failed to issue receipt", zap.String("order_id", receiptOrder.ID.Hex()), zap.Error(err))
			}
		})
	}
}

func (f *FulfillmentService) enrollOrder(ctx context.Context, order *models.Order) ([]models.Enrollment, error) {
	orderID := order.ID
	out := make([]models.Enrollment, 0, len(order.Items))
	for _, item := range order.Items {
		e, err := f.enroll(ctx, models.EnrollmentGrant{
			UserID:        order.UserID,
			CourseID:      item.CourseID,
			CourseTitle:   item.Title,
			PaymentMethod: order.PaymentMethod,
			AmountPaid:    item.DiscountedPrice(order.DiscountPercentage),
			Currency:      order.Currency,
			PaymentID:     order.PaymentReference,
			OrderID:       &orderID,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// EnrollUserInCourses enrolls userID in each course, splitting amountPaid
// equally. Unknown courses are skipped with a warning.
func (f *FulfillmentService) EnrollUserInCourses(ctx context.Context, userID string, courseIDs []string, paymentRef string, amountPaid decimal.Decimal, currency string) ([]models.Enrollment, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperrors.Validation("Invalid user id")
	}

	type target struct {
		id    primitive.ObjectID
		title string
	}
	var targets []target
	for _, raw := range lo.Uniq(courseIDs) {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			f.logger.Warn("Skipping invalid course id", zap.String("course_id", raw))
			continue
		}
		ref, err := f.courses.ResolveRef(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			f.logger.Warn("Skipping missing course", zap.String("course_id", raw), zap.String("user_id", userID))
			continue
		}
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		courseID := ref.ID
		if ref.Kind == models.CourseKindDraft {
			if ref.LinkedID == nil {
				f.logger.Warn("Skipping unpublished draft course", zap.String("course_id", raw))
				continue
			}
			courseID = *ref.LinkedID
		}
		targets = append(targets, target{id: courseID, title: ref.Title})
	}

	var ref *string
	if paymentRef != "" {
		ref = &paymentRef
	}
	shares := SplitAmount(amountPaid, len(targets))
	out := make([]models.Enrollment, 0, len(targets))
	for i, t := range targets {
		e, err := f.enroll(ctx, models.EnrollmentGrant{
			UserID:        uid,
			CourseID:      t.id,
			CourseTitle:   t.title,
			PaymentMethod: models.PaymentMethodStripe,
			AmountPaid:    shares[i],
			Currency:      currency,
			PaymentID:     ref,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// SplitAmount divides total into n shares of 2 decimals. Leftover cents go to the first share.
func SplitAmount(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	share := total.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	shares := make([]decimal.Decimal, n)
	for i := range shares {
		shares[i] = share
	}
	shares[0] = total.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
	return shares
}

// enroll creates one enrollment unless the (user, course) pair already has
// one. Side effects run only for a real insert.
func (f *FulfillmentService) enroll(ctx context.Context, g models.EnrollmentGrant) (*models.Enrollment, error) {
	existing, err := f.enrollments.FindOne(ctx, g.UserID, g.CourseID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	e := &models.Enrollment{
		UserID:        g.UserID,
		CourseID:      g.CourseID,
		EnrolledAt:    f.now().UTC(),
		PaymentMethod: g.PaymentMethod,
		AmountPaid:    g.AmountPaid,
		Currency:      g.Currency,
		PaymentID:     g.PaymentID,
		OrderID:       g.OrderID,
	}
	created, err := f.enrollments.InsertIgnore(ctx, e)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !created {
		return e, nil
	}

	log := f.logger.With(zap.String("user_id", g.UserID.Hex()), zap.String("course_id", g.CourseID.Hex()))
	log.Info("Enrollment created", zap.String("enrollment_id", e.ID.Hex()))

	if err := f.progress.Create(ctx, &models.CourseProgress{
		EnrollmentID: e.ID,
		UserID:       e.UserID,
		CourseID:     e.CourseID,
		CreatedAt:    e.EnrolledAt,
	}); err != nil {
		log.Error("Failed to create course progress", zap.Error(err))
	}
	if err := f.courses.IncrementLearners(ctx, e.CourseID); err != nil {
		log.Error("Failed to increment learner count", zap.Error(err))
	}

	_ = f.metrics.RecordCount(ctx, pkgaws.MetricEnrollments, nil)
	if f.events != nil {
		f.events.Publish(ctx, models.DomainEvent{
			Type:      models.EventEnrollmentCreated,
			OrderID:   lo.Ternary(e.OrderID != nil, lo.FromPtr(e.OrderID).Hex(), ""),
			UserID:    e.UserID.Hex(),
			CourseID:  e.CourseID.Hex(),
			Reference: lo.FromPtr(e.PaymentID),
			Amount:    e.AmountPaid,
			Currency:  e.Currency,
			Timestamp: e.EnrolledAt,
		})
	}
	if f.notifier != nil {
		title := lo.CoalesceOrEmpty(g.CourseTitle, "your course")
		userID, courseID := e.UserID.Hex(), e.CourseID.Hex()
		f.dispatch(func(ctx context.Context) {
			_, err := f.notifier.Create(ctx, userID, "enrollment",
				"Enrollment confirmed",
				"Welcome! You are now enrolled in "+title+".",
				map[string]string{"courseId": courseID},
			)
			if err != nil {
				f.logger.Warn("Failed to send welcome notification", zap.String("user_id", userID), zap.Error(err))
			}
		})
	}
	return e, nil
}
