package controllers

import (
	"context"
	"io"
	"net/http"

	"lms-payment-service/middleware"
	"lms-payment-service/models"
	"lms-payment-service/services"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService is the checkout surface the payment routes drive.
type PaymentService interface {
	Checkout(ctx context.Context, who services.Customer, paymentMethod, currency string) (*services.CheckoutResult, error)
	CreateStripeSession(ctx context.Context, who services.Customer, currency string) (*services.CheckoutResult, error)
	ConfirmOrder(ctx context.Context, userID string, req services.ConfirmRequest) (*services.FulfillmentResult, error)
	CreateDirectSession(ctx context.Context, who services.Customer, items []services.DirectItem, currency string) (*services.GatewaySession, error)
	VerifyPayment(ctx context.Context, userID, sessionID string) (*services.VerifyResult, error)
	HandleGatewayEvent(ctx context.Context, evt *models.GatewayEvent) error
}

// WebhookVerifier checks a gateway signature and decodes the event.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, signature string) (*models.GatewayEvent, error)
}

type PaymentController struct {
	Payments PaymentService
	Webhooks WebhookVerifier
	Logger   *zap.Logger
}

func NewPaymentController(payments PaymentService, webhooks WebhookVerifier, logger *zap.Logger) *PaymentController {
	return &PaymentController{Payments: payments, Webhooks: webhooks, Logger: logger}
}

type checkoutRequest struct {
	PaymentMethod string `json:"paymentMethod" binding:"omitempty,oneof=manual stripe"`
	Currency      string `json:"currency" binding:"omitempty,len=3"`
}

type stripeSessionRequest struct {
	Currency string `json:"currency" binding:"omitempty,len=3"`
}

type confirmRequest struct {
	OrderID          string `json:"orderId" binding:"required,objectid"`
	PaymentMethod    string `json:"paymentMethod" binding:"omitempty,oneof=manual stripe"`
	PaymentReference string `json:"paymentReference" binding:"max=255"`
}

type directItemRequest struct {
	CourseID string          `json:"courseId" binding:"required,objectid"`
	Name     string          `json:"name" binding:"max=250"`
	Price    decimal.Decimal `json:"price"`
}

type directSessionRequest struct {
	Items    []directItemRequest `json:"items" binding:"required,min=1,dive"`
	Currency string              `json:"currency" binding:"omitempty,len=3"`
}

type verifyRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// Checkout POST /api/payments/checkout
func (pc *PaymentController) Checkout(c *gin.Context) {
	var req checkoutRequest
	if !pc.bindOptional(c, &req) {
		return
	}

	res, err := pc.Payments.Checkout(c.Request.Context(), customer(c), req.PaymentMethod, req.Currency)
	if err != nil {
		pc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkoutBody(res))
}

// StripeSession POST /api/payments/stripe-session
func (pc *PaymentController) StripeSession(c *gin.Context) {
	var req stripeSessionRequest
	if !pc.bindOptional(c, &req) {
		return
	}

	res, err := pc.Payments.CreateStripeSession(c.Request.Context(), customer(c), req.Currency)
	if err != nil {
		pc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkoutBody(res))
}

// Confirm POST /api/payments/confirm
func (pc *PaymentController) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		pc.respondError(c, bindError(err))
		return
	}

	res, err := pc.Payments.ConfirmOrder(c.Request.Context(), middleware.GetUserID(c), services.ConfirmRequest{
		OrderID:          req.OrderID,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		pc.respondError(c, err)
		return
	}

	msg := lo.Ternary(res.Fulfilled, services.MsgPaymentConfirmed, services.MsgOrderAlreadyPaid)
	c.JSON(http.StatusOK, gin.H{
		"message":     msg,
		"order":       res.Order,
		"enrollments": orEmpty(res.Enrollments),
	})
}

// CreateCheckoutSession POST /api/payments/create-checkout-session
func (pc *PaymentController) CreateCheckoutSession(c *gin.Context) {
	var req directSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		pc.respondError(c, bindError(err))
		return
	}

	items := lo.Map(req.Items, func(it directItemRequest, _ int) services.DirectItem {
		return services.DirectItem{CourseID: it.CourseID, Name: it.Name, Price: it.Price}
	})
	sess, err := pc.Payments.CreateDirectSession(c.Request.Context(), customer(c), items, req.Currency)
	if err != nil {
		pc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sess.ID, "url": sess.URL})
}

// VerifyPayment POST /api/payments/verify-payment
func (pc *PaymentController) VerifyPayment(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		pc.respondError(c, bindError(err))
		return
	}

	res, err := pc.Payments.VerifyPayment(c.Request.Context(), middleware.GetUserID(c), req.SessionID)
	if err != nil {
		pc.respondError(c, err)
		return
	}

	body := gin.H{"success": res.Success, "status": res.Status}
	if res.Payment != nil {
		body["payment"] = res.Payment
	}
	if res.Order != nil {
		body["order"] = res.Order
	}
	c.JSON(http.StatusOK, body)
}

// bindOptional binds a JSON body that may be absent entirely.
func (pc *PaymentController) bindOptional(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		pc.respondError(c, bindError(err))
		return false
	}
	return true
}

func checkoutBody(res *services.CheckoutResult) gin.H {
	body := gin.H{
		"message":         res.Message,
		"order":           res.Order,
		"requiresPayment": res.RequiresPayment,
	}
	if !res.RequiresPayment {
		body["enrollments"] = orEmpty(res.Enrollments)
	}
	if res.SessionID != "" {
		body["sessionId"] = res.SessionID
		body["url"] = res.URL
	}
	return body
}
