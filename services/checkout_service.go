package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
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

// Client-facing messages.
const (
	MsgFreeCheckout     = "Order completed (free checkout)"
	MsgOrderCreated     = "Order created"
	MsgSessionCreated   = "Stripe session created"
	MsgPaymentConfirmed = "Payment confirmed and enrollment completed"
	MsgOrderAlreadyPaid = "Order already paid"
	MsgOrderNotFound    = "Order not found"
	MsgReferenceNeeded  = "paymentReference is required for paid orders"
)

// GatewayMinimum is the smallest total the processor accepts in any supported currency.
var GatewayMinimum = decimal.RequireFromString("0.50")

type CheckoutConfig struct {
	FrontendURL string
	// ManualPayments accepts confirmations without a verified gateway reference.
	ManualPayments bool
}

// CheckoutService orchestrates order creation, payment confirmation and
// gateway callbacks.
type CheckoutService struct {
	builder     *OrderBuilder
	fulfillment *FulfillmentService
	orders      repository.OrderRepository
	payments    repository.PaymentRepository
	events      repository.WebhookEventRepository
	gateway     PaymentGateway
	metrics     MetricsRecorder
	cfg         CheckoutConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewCheckoutService(
	builder *OrderBuilder,
	fulfillment *FulfillmentService,
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	events repository.WebhookEventRepository,
	gateway PaymentGateway,
	metrics MetricsRecorder,
	cfg CheckoutConfig,
	logger *zap.Logger,
) *CheckoutService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	cfg.FrontendURL = strings.TrimSuffix(cfg.FrontendURL, "/")
	return &CheckoutService{
		builder:     builder,
		fulfillment: fulfillment,
		orders:      orders,
		payments:    payments,
		events:      events,
		gateway:     gateway,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Customer identifies the authenticated caller.
type Customer struct {
	UserID string
	Email  string
}

type CheckoutResult struct {
	Message         string
	Order           *models.Order
	Enrollments     []models.Enrollment
	RequiresPayment bool
	SessionID       string
	URL             string
}

// Checkout creates an order from the cart. Free orders are fulfilled at once.
func (s *CheckoutService) Checkout(ctx context.Context, who Customer, paymentMethod, currency string) (*CheckoutResult, error) {
	order, _, err := s.builder.CreateOrderFromCart(ctx, BuildOrderRequest{
		UserID:        who.UserID,
		PaymentMethod: lo.CoalesceOrEmpty(paymentMethod, models.PaymentMethodManual),
		Currency:      currency,
		CustomerEmail: who.Email,
	})
	if err != nil {
		return nil, err
	}
	if !order.RequiresPayment() {
		return s.freeCheckout(ctx, order)
	}
	return &CheckoutResult{Message: MsgOrderCreated, Order: order, RequiresPayment: true}, nil
}

func (s *CheckoutService) freeCheckout(ctx context.Context, order *models.Order) (*CheckoutResult, error) {
	res, err := s.fulfillment.FulfillOrder(ctx, order, Confirmation{PaymentMethod: order.PaymentMethod})
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Message: MsgFreeCheckout, Order: res.Order, Enrollments: res.Enrollments}, nil
}

// CreateStripeSession builds an order from the cart and opens a hosted
// checkout for it. A gateway failure leaves the order pending.
func (s *CheckoutService) CreateStripeSession(ctx context.Context, who Customer, currency string) (*CheckoutResult, error) {
	order, _, err := s.builder.CreateOrderFromCart(ctx, BuildOrderRequest{
		UserID:        who.UserID,
		PaymentMethod: models.PaymentMethodStripe,
		Currency:      currency,
		CustomerEmail: who.Email,
	})
	if err != nil {
		return nil, err
	}
	if !order.RequiresPayment() {
		return s.freeCheckout(ctx, order)
	}

	orderID := order.ID.Hex()
	req := SessionRequest{
		Currency:      order.Currency,
		LineItems:     orderLineItems(order),
		Metadata:      map[string]string{MetaOrderID: orderID, MetaUserID: who.UserID},
		SuccessURL:    s.cfg.FrontendURL + "/payment?status=success&orderId=" + url.QueryEscape(orderID) + "&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.cfg.FrontendURL + "/payment?status=cancelled&orderId=" + url.QueryEscape(orderID),
		CustomerEmail: who.Email,
	}
	sess, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, apperrors.Upstream("Failed to create payment session", err).With("orderId", orderID)
	}

	if err := s.orders.SetPaymentReference(ctx, order.ID, sess.ID); err != nil {
		return nil, apperrors.Internal(err)
	}
	order.PaymentReference = &sess.ID

	s.recordSession(ctx, &models.Payment{
		SessionID:   sess.ID,
		UserID:      who.UserID,
		OrderID:     &orderID,
		CourseIDs:   encodeCourseIDs(lo.Map(order.CourseIDs(), func(id primitive.ObjectID, _ int) string { return id.Hex() })),
		Amount:      order.Total,
		Currency:    order.Currency,
		Mode:        models.PaymentModeCart,
		Status:      models.PaymentStatusPending,
		CheckoutURL: lo.EmptyableToPtr(sess.URL),
	})

	s.logger.Info("Checkout session created",
		zap.String("order_id", orderID),
		zap.String("session_id", sess.ID),
	)
	return &CheckoutResult{
		Message:         MsgSessionCreated,
		Order:           order,
		RequiresPayment: true,
		SessionID:       sess.ID,
		URL:             sess.URL,
	}, nil
}

// orderLineItems prices every line at its discounted unit price in minor units.
func orderLineItems(order *models.Order) []SessionLineItem {
	return lo.Map(order.Items, func(it models.OrderItem, _ int) SessionLineItem {
		unit := it.Price
		if order.DiscountPercentage.IsPositive() {
			unit = unit.Sub(models.PercentOf(unit, order.DiscountPercentage))
		}
		return SessionLineItem{
			Name:       lo.CoalesceOrEmpty(it.Title, "Course"),
			UnitAmount: ToMinorUnits(unit),
			Quantity:   int64(max(it.Quantity, 1)),
		}
	})
}

// ToMinorUnits converts amount to cents, rounding half-up.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func encodeCourseIDs(ids []string) string {
	raw, _ := json.Marshal(lo.Uniq(ids))
	return string(raw)
}

// recordSession writes the ledger row. The ledger is an audit trail, so a
// failed write is logged and the checkout proceeds.
func (s *CheckoutService) recordSession(ctx context.Context, p *models.Payment) {
	_ = s.metrics.RecordCount(ctx, pkgaws.MetricCheckoutSessions, map[string]string{"Mode": p.Mode})
	if s.payments == nil {
		return
	}
	if err := s.payments.Create(ctx, p); err != nil {
		s.logger.Error("Failed to record payment session", zap.String("session_id", p.SessionID), zap.Error(err))
	}
}

type ConfirmRequest struct {
	OrderID          string
	PaymentMethod    string
	PaymentReference string
}

// ConfirmOrder marks the caller's order paid and enrolls them. Confirming an
// already paid order returns it unchanged with Fulfilled false.
func (s *CheckoutService) ConfirmOrder(ctx context.Context, userID string, req ConfirmRequest) (*FulfillmentResult, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, apperrors.Validation("orderId is required")
	}
	orderID, err := primitive.ObjectIDFromHex(req.OrderID)
	if err != nil {
		return nil, apperrors.NotFound(MsgOrderNotFound)
	}
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperrors.Unauthorized("Invalid user")
	}

	order, err := s.orders.FindByIDForUser(ctx, orderID, uid)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(MsgOrderNotFound)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	switch order.Status {
	case models.OrderStatusPaid:
		enrollments, err := s.fulfillment.Reconcile(ctx, order)
		if err != nil {
			return nil, err
		}
		return &FulfillmentResult{Order: order, Enrollments: enrollments}, nil
	case models.OrderStatusFailed, models.OrderStatusCancelled:
		return nil, apperrors.Conflict(fmt.Sprintf("Order is %s", order.Status)).With("status", order.Status)
	}

	// An order that went through the gateway stays a gateway order whatever
	// method the request names.
	viaGateway := order.PaymentMethod == models.PaymentMethodStripe ||
		order.PaymentReference != nil ||
		req.PaymentMethod == models.PaymentMethodStripe
	method := lo.Ternary(viaGateway, models.PaymentMethodStripe,
		lo.CoalesceOrEmpty(req.PaymentMethod, order.PaymentMethod, models.PaymentMethodManual))
	ref := lo.CoalesceOrEmpty(strings.TrimSpace(req.PaymentReference), lo.FromPtr(order.PaymentReference))

	if order.RequiresPayment() && !s.cfg.ManualPayments {
		if ref == "" {
			return nil, apperrors.PaymentRequired(MsgReferenceNeeded)
		}
		if viaGateway {
			if err := s.verifySessionForOrder(ctx, ref, order); err != nil {
				return nil, err
			}
		}
	}

	return s.fulfillment.FulfillOrder(ctx, order, Confirmation{
		PaymentMethod: method,
		Reference:     lo.EmptyableToPtr(ref),
	})
}

func (s *CheckoutService) verifySessionForOrder(ctx context.Context, sessionID string, order *models.Order) error {
	sess, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return apperrors.Upstream("Failed to verify payment", err).With("orderId", order.ID.Hex())
	}
	if sess.Metadata[MetaOrderID] != order.ID.Hex() {
		return apperrors.Validation("Payment reference does not belong to this order")
	}
	if !sess.Paid() {
		return apperrors.PaymentRequired("Payment not completed").With("paymentStatus", sess.PaymentStatus)
	}
	if want := chargedMinorUnits(order); sess.AmountTotal != want || !strings.EqualFold(sess.Currency, order.Currency) {
		s.logger.Warn("Paid session does not match order",
			zap.String("order_id", order.ID.Hex()),
			zap.String("session_id", sess.ID),
			zap.Int64("session_amount", sess.AmountTotal),
			zap.Int64("order_amount", want),
			zap.String("session_currency", sess.Currency),
		)
		return apperrors.Validation("Payment amount does not match this order")
	}
	return nil
}

// chargedMinorUnits is the amount a cart session was created for.
func chargedMinorUnits(order *models.Order) int64 {
	return lo.SumBy(orderLineItems(order), func(li SessionLineItem) int64 { return li.UnitAmount * li.Quantity })
}

type DirectItem struct {
	CourseID string
	Name     string
	Price    decimal.Decimal
}

// CreateDirectSession opens a hosted checkout for raw items without an
// order. Enrollment happens when the gateway reports the session paid.
func (s *CheckoutService) CreateDirectSession(ctx context.Context, who Customer, items []DirectItem, currency string) (*GatewaySession, error) {
	if len(items) == 0 {
		return nil, apperrors.Validation("No items to purchase")
	}
	currency = NormalizeCurrency(currency)
	if !models.SupportedCurrencies[currency] {
		return nil, apperrors.UnsupportedCurrency(currency)
	}

	total := decimal.Zero
	for _, it := range items {
		if it.Price.IsNegative() {
			return nil, apperrors.Validation("Item price cannot be negative").With("courseId", it.CourseID)
		}
		total = total.Add(it.Price)
	}
	if total.LessThan(GatewayMinimum) {
		return nil, apperrors.Validation(fmt.Sprintf("Order total must be at least %s %s", GatewayMinimum.StringFixed(2), currency)).
			With("total", total)
	}

	courseIDs := encodeCourseIDs(lo.Map(items, func(it DirectItem, _ int) string { return it.CourseID }))
	sess, err := s.gateway.CreateCheckoutSession(ctx, SessionRequest{
		Currency: currency,
		LineItems: lo.Map(items, func(it DirectItem, _ int) SessionLineItem {
			return SessionLineItem{Name: lo.CoalesceOrEmpty(it.Name, "Course"), UnitAmount: ToMinorUnits(it.Price), Quantity: 1}
		}),
		Metadata:      map[string]string{MetaUserID: who.UserID, MetaCourseIDs: courseIDs},
		SuccessURL:    s.cfg.FrontendURL + "/payment?status=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.cfg.FrontendURL + "/payment?status=cancelled",
		CustomerEmail: who.Email,
	})
	if err != nil {
		return nil, apperrors.Upstream("Failed to create payment session", err)
	}

	s.recordSession(ctx, &models.Payment{
		SessionID:   sess.ID,
		UserID:      who.UserID,
		CourseIDs:   courseIDs,
		Amount:      total,
		Currency:    currency,
		Mode:        models.PaymentModeDirect,
		Status:      models.PaymentStatusPending,
		CheckoutURL: lo.EmptyableToPtr(sess.URL),
	})
	s.logger.Info("Direct checkout session created", zap.String("session_id", sess.ID), zap.String("user_id", who.UserID))
	return sess, nil
}

type VerifyResult struct {
	Success bool
	Status  string
	Payment *models.Payment
	Order   *models.Order
}

// VerifyPayment asks the gateway about a session and, when paid, fulfills it
// through the same path as the webhook.
func (s *CheckoutService) VerifyPayment(ctx context.Context, userID, sessionID string) (*VerifyResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.Validation("sessionId is required")
	}
	sess, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Upstream("Failed to verify payment", err)
	}
	if owner := sess.Metadata[MetaUserID]; owner != "" && owner != userID {
		return nil, apperrors.Forbidden("Payment belongs to another user")
	}
	if !sess.Paid() {
		return &VerifyResult{Success: false, Status: sess.PaymentStatus}, nil
	}

	evt := models.GatewayEvent{
		Type:          "verify",
		Outcome:       models.OutcomeCompleted,
		SessionID:     sess.ID,
		PaymentStatus: sess.PaymentStatus,
		OrderID:       sess.Metadata[MetaOrderID],
		UserID:        lo.CoalesceOrEmpty(sess.Metadata[MetaUserID], userID),
		CourseIDs:     decodeCourseIDs(sess.Metadata[MetaCourseIDs]),
		AmountTotal:   sess.AmountTotal,
		Currency:      strings.ToUpper(sess.Currency),
		CustomerEmail: sess.CustomerEmail,
	}
	order, err := s.applySessionEvent(ctx, evt)
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Success: true, Status: sess.PaymentStatus, Order: order}
	if s.payments != nil {
		p, err := s.payments.FindBySessionID(ctx, sess.ID)
		switch {
		case err == nil:
			res.Payment = p
		case !errors.Is(err, repository.ErrNotFound):
			s.logger.Warn("Failed to load payment record", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	return res, nil
}

// HandleGatewayEvent processes a verified webhook event at most once per
// event id. On failure the claim is released so a resent event is not dropped
// as a duplicate; the webhook still answers 200, and a missed event is
// settled by verify-payment or a confirm retry.
func (s *CheckoutService) HandleGatewayEvent(ctx context.Context, evt *models.GatewayEvent) error {
	log := s.logger.With(zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))
	_ = s.metrics.RecordCount(ctx, pkgaws.MetricWebhookEvents, map[string]string{"Type": evt.Type})

	if evt.Outcome == models.OutcomeIgnored {
		log.Info("Unhandled webhook event type")
		return nil
	}

	claimed, err := s.events.Claim(ctx, evt.ID, evt.Type)
	if err != nil {
		return errors.Wrap(err, "claim webhook event")
	}
	if !claimed {
		log.Info("Skipping duplicate webhook event")
		return nil
	}

	if _, err := s.applySessionEvent(ctx, *evt); err != nil {
		if rerr := s.events.Release(ctx, evt.ID); rerr != nil {
			log.Error("Failed to release webhook claim", zap.Error(rerr))
		}
		return err
	}
	log.Info("Webhook event processed", zap.String("session_id", evt.SessionID))
	return nil
}

// applySessionEvent moves the order (or the direct-mode enrollment) along
// according to a checkout session outcome.
func (s *CheckoutService) applySessionEvent(ctx context.Context, evt models.GatewayEvent) (*models.Order, error) {
	payload := eventPayload(evt)
	if evt.OrderID == "" {
		return nil, s.applyDirectEvent(ctx, evt, payload)
	}

	orderID, err := primitive.ObjectIDFromHex(evt.OrderID)
	if err != nil {
		s.logger.Warn("Webhook references an invalid order id", zap.String("order_id", evt.OrderID))
		return nil, nil
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("Webhook references an unknown order", zap.String("order_id", evt.OrderID))
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load order")
	}

	next, apply := models.NextOrderStatus(order.Status, evt)
	if !apply {
		if order.Status == models.OrderStatusPaid && evt.Paid() {
			if _, err := s.fulfillment.Reconcile(ctx, order); err != nil {
				return nil, err
			}
			s.markLedger(ctx, evt.SessionID, true, payload)
		}
		return order, nil
	}

	if next == models.OrderStatusPaid {
		res, err := s.fulfillment.FulfillOrder(ctx, order, Confirmation{
			PaymentMethod: models.PaymentMethodStripe,
			Reference:     lo.EmptyableToPtr(evt.SessionID),
		})
		if err != nil {
			return nil, err
		}
		s.markLedger(ctx, evt.SessionID, true, payload)
		return res.Order, nil
	}

	moved, err := s.orders.TransitionStatus(ctx, order.ID, models.OrderStatusPending, next)
	if err != nil {
		return nil, errors.Wrap(err, "transition order")
	}
	if moved {
		order.Status = next
		s.logger.Info("Order closed by gateway",
			zap.String("order_id", order.ID.Hex()),
			zap.String("status", string(next)),
		)
	}
	s.markLedger(ctx, evt.SessionID, false, payload)
	return order, nil
}

func (s *CheckoutService) applyDirectEvent(ctx context.Context, evt models.GatewayEvent, payload *string) error {
	switch evt.Outcome {
	case models.OutcomeAsyncFailed, models.OutcomeExpired:
		s.markLedger(ctx, evt.SessionID, false, payload)
		return nil
	}
	if !evt.Paid() {
		return nil
	}
	if evt.UserID == "" || len(evt.CourseIDs) == 0 {
		s.logger.Warn("Missing metadata in checkout session", zap.String("session_id", evt.SessionID))
		return nil
	}

	currency := lo.CoalesceOrEmpty(evt.Currency, models.BaseCurrency)
	if _, err := s.fulfillment.EnrollUserInCourses(ctx, evt.UserID, evt.CourseIDs, evt.SessionID, fromMinorUnits(evt.AmountTotal), currency); err != nil {
		return err
	}
	s.markLedger(ctx, evt.SessionID, true, payload)
	return nil
}

func (s *CheckoutService) markLedger(ctx context.Context, sessionID string, succeeded bool, payload *string) {
	if s.payments == nil || sessionID == "" {
		return
	}
	mark := s.payments.MarkFailed
	if succeeded {
		mark = s.payments.MarkSucceeded
	}
	if _, err := mark(ctx, sessionID, payload, s.now().UTC()); err != nil {
		s.logger.Error("Failed to update payment record", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func eventPayload(evt models.GatewayEvent) *string {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil
	}
	return lo.ToPtr(string(raw))
}
