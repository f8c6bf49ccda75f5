package services

import (
	"context"
	"strings"

	apperrors "lms-payment-service/common/errors"
	"lms-payment-service/models"
	pkgaws "lms-payment-service/pkg/aws"
	"lms-payment-service/repository"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// OrderBuilder snapshots a cart into a pending order.
type OrderBuilder struct {
	carts       repository.CartRepository
	courses     repository.CourseRepository
	enrollments repository.EnrollmentRepository
	orders      repository.OrderRepository
	rates       RateProvider
	metrics     MetricsRecorder
	logger      *zap.Logger
}

func NewOrderBuilder(
	carts repository.CartRepository,
	courses repository.CourseRepository,
	enrollments repository.EnrollmentRepository,
	orders repository.OrderRepository,
	rates RateProvider,
	metrics MetricsRecorder,
	logger *zap.Logger,
) *OrderBuilder {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &OrderBuilder{
		carts:       carts,
		courses:     courses,
		enrollments: enrollments,
		orders:      orders,
		rates:       rates,
		metrics:     metrics,
		logger:      logger,
	}
}

type BuildOrderRequest struct {
	UserID        string
	PaymentMethod string
	Currency      string
	CustomerEmail string
}

// NormalizeCurrency uppercases code and defaults to the base currency.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return models.BaseCurrency
	}
	return code
}

// CreateOrderFromCart validates the user's cart and persists a pending order.
// The cart is returned unchanged so the caller can clear it after payment.
func (b *OrderBuilder) CreateOrderFromCart(ctx context.Context, req BuildOrderRequest) (*models.Order, *models.Cart, error) {
	userID, err := primitive.ObjectIDFromHex(req.UserID)
	if err != nil {
		return nil, nil, apperrors.Unauthorized("Invalid user")
	}

	cart, err := b.carts.GetCart(ctx, req.UserID)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	if cart.IsEmpty() {
		return nil, nil, apperrors.Validation("Cart is empty")
	}

	rawIDs := lo.Uniq(lo.Map(cart.Items, func(it models.CartItem, _ int) string { return it.CourseID }))
	ids := make([]primitive.ObjectID, 0, len(rawIDs))
	var missing []string
	for _, raw := range rawIDs {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			missing = append(missing, raw)
			continue
		}
		ids = append(ids, id)
	}

	courses, err := b.courses.FindCourses(ctx, ids)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	byID := lo.KeyBy(courses, func(c models.Course) primitive.ObjectID { return c.ID })
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id.Hex())
		}
	}
	if len(missing) > 0 {
		return nil, nil, apperrors.NotFound("Some courses are no longer available").With("missing", missing)
	}

	unpublished := lo.FilterMap(ids, func(id primitive.ObjectID, _ int) (string, bool) {
		return id.Hex(), !byID[id].Published
	})
	if len(unpublished) > 0 {
		return nil, nil, apperrors.Validation("Some courses are not published").With("unpublished", unpublished)
	}

	existing, err := b.enrollments.FindByUserAndCourses(ctx, userID, ids)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	if len(existing) > 0 {
		enrolled := lo.Uniq(lo.Map(existing, func(e models.Enrollment, _ int) string { return e.CourseID.Hex() }))
		return nil, nil, apperrors.Conflict("Already enrolled in one or more courses").With("enrolledCourseIds", enrolled)
	}

	currency := NormalizeCurrency(req.Currency)
	if !models.SupportedCurrencies[currency] {
		return nil, nil, apperrors.UnsupportedCurrency(currency)
	}

	rate := decimal.NewFromInt(1)
	if currency != models.BaseCurrency {
		rate, err = b.rates.GetRate(ctx, models.BaseCurrency, currency)
		if err != nil {
			b.logger.Warn("Currency conversion failed, falling back to base currency",
				zap.String("user_id", req.UserID),
				zap.String("currency", currency),
				zap.Error(err),
			)
			_ = b.metrics.RecordCount(ctx, pkgaws.MetricRateFallbacks, map[string]string{"Currency": currency})
			currency = models.BaseCurrency
			rate = decimal.NewFromInt(1)
		}
	}

	order := snapshotOrder(userID, cart, byID, currency, rate)
	order.PaymentMethod = req.PaymentMethod
	if order.PaymentMethod == "" {
		order.PaymentMethod = models.PaymentMethodManual
	}
	order.CustomerEmail = req.CustomerEmail

	if err := b.orders.Create(ctx, order); err != nil {
		return nil, nil, apperrors.Internal(err)
	}

	_ = b.metrics.RecordCount(ctx, pkgaws.MetricOrdersCreated, map[string]string{"Currency": order.Currency})
	b.logger.Info("Order created",
		zap.String("order_id", order.ID.Hex()),
		zap.String("user_id", req.UserID),
		zap.String("currency", order.Currency),
		zap.String("total", order.Total.String()),
	)
	return order, cart, nil
}

// snapshotOrder prices the cart in currency. Line items keep both prices;
// totals are derived from the base subtotal so both currencies satisfy
// total == subtotal - discount.
func snapshotOrder(userID primitive.ObjectID, cart *models.Cart, courses map[primitive.ObjectID]models.Course, currency string, rate decimal.Decimal) *models.Order {
	pct := clampPercent(cart.DiscountPercentage)

	items := make([]models.OrderItem, 0, len(cart.Items))
	seen := make(map[string]bool, len(cart.Items))
	baseSubtotal := decimal.Zero
	for _, it := range cart.Items {
		if seen[it.CourseID] {
			continue
		}
		seen[it.CourseID] = true

		id, _ := primitive.ObjectIDFromHex(it.CourseID)
		course := courses[id]
		qty := it.Quantity
		if qty < 1 {
			qty = 1
		}
		items = append(items, models.OrderItem{
			CourseID:  course.ID,
			Title:     course.DisplayTitle(),
			Price:     course.Price.Mul(rate).Round(2),
			Quantity:  qty,
			BasePrice: course.Price,
		})
		baseSubtotal = baseSubtotal.Add(course.Price.Mul(decimal.NewFromInt(int64(qty))))
	}

	converted := models.ComputeTotals(baseSubtotal, rate, pct)
	base := models.ComputeTotals(baseSubtotal, decimal.NewFromInt(1), pct)

	var coupon *string
	if cart.CouponCode != nil && strings.TrimSpace(*cart.CouponCode) != "" {
		code := repository.NormalizeCode(*cart.CouponCode)
		coupon = &code
	}

	return &models.Order{
		UserID:             userID,
		Items:              items,
		Currency:           currency,
		BaseCurrency:       models.BaseCurrency,
		ExchangeRate:       rate,
		CouponCode:         coupon,
		DiscountPercentage: pct,
		Subtotal:           converted.Subtotal,
		DiscountAmount:     converted.Discount,
		Total:              converted.Total,
		BaseSubtotal:       base.Subtotal,
		BaseDiscountAmount: base.Discount,
		BaseTotal:          base.Total,
		Status:             models.OrderStatusPending,
		Source:             models.OrderSourceCart,
	}
}

func clampPercent(pct decimal.Decimal) decimal.Decimal {
	switch {
	case pct.IsNegative():
		return decimal.Zero
	case pct.GreaterThan(hundred):
		return hundred
	}
	return pct
}
