package controllers

import (
	"net/http"

	apperrors "lms-payment-service/common/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody bounds the raw payload read before signature verification.
const maxWebhookBody = 1 << 20

// StripeWebhook receives gateway events. Only a bad signature is rejected;
// processing failures are logged and acknowledged with 200.
func (pc *PaymentController) StripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := c.GetRawData()
	if err != nil {
		pc.respondError(c, apperrors.Validation("Unreadable webhook body"))
		return
	}

	evt, err := pc.Webhooks.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		pc.Logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		pc.respondError(c, apperrors.Signature(err))
		return
	}

	pc.Logger.Info("Processing Stripe webhook",
		zap.String("event_type", evt.Type),
		zap.String("event_id", evt.ID),
	)

	if err := pc.Payments.HandleGatewayEvent(c.Request.Context(), evt); err != nil {
		pc.Logger.Error("Webhook processing failed",
			zap.String("event_id", evt.ID),
			zap.String("session_id", evt.SessionID),
			zap.Error(err),
		)
	}
	c.JSON(http.StatusOK, gin.H{})
}
