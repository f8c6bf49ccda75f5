package routes

import (
	"context"
	"net/http"
	"time"

	"lms-payment-service/controllers"
	"lms-payment-service/middleware"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// WebhookPath receives Stripe events. It is outside auth and rate limiting.
const WebhookPath = "/api/payments/webhook"

func RegisterPaymentRoutes(r *gin.Engine, pc *controllers.PaymentController, auth gin.HandlerFunc) {
	// Stripe webhook (no auth, signature verified)
	r.POST(WebhookPath, pc.StripeWebhook)

	payments := r.Group("/api/payments")
	payments.Use(auth)
	payments.POST("/checkout", pc.Checkout)
	payments.POST("/stripe-session", pc.StripeSession)
	payments.POST("/confirm", pc.Confirm)
	payments.POST("/create-checkout-session", pc.CreateCheckoutSession)
	payments.POST("/verify-payment", pc.VerifyPayment)
}

func RegisterCouponRoutes(r *gin.Engine, cc *controllers.CouponController, auth gin.HandlerFunc) {
	coupons := r.Group("/api/coupons")
	coupons.Use(auth)
	coupons.GET("/available", cc.Available)
	coupons.POST("/validate-course", cc.ValidateCourse)
	coupons.POST("", middleware.RequireRole(middleware.RoleAdmin, middleware.RoleInstructor), cc.Create)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RegisterHealthRoutes exposes GET /health. Any failing check turns it 503.
func RegisterHealthRoutes(r *gin.Engine, checks map[string]HealthCheck) {
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, deps := http.StatusOK, gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				deps[name] = err.Error()
				continue
			}
			deps[name] = "ok"
		}
		c.JSON(status, gin.H{
			"status":       lo.Ternary(status == http.StatusOK, "ok", "degraded"),
			"dependencies": deps,
		})
	})
}
