package controllers

import (
	apperrors "lms-payment-service/common/errors"
	"lms-payment-service/middleware"
	"lms-payment-service/services"

	"github.com/gin-gonic/gin"
)

// customer reads the authenticated caller set by the auth middleware.
func customer(c *gin.Context) services.Customer {
	return services.Customer{UserID: middleware.GetUserID(c), Email: middleware.GetEmail(c)}
}

// respondError writes err as JSON; server-side causes are logged.
func (pc *PaymentController) respondError(c *gin.Context, err error) {
	apperrors.Respond(c, pc.Logger, err)
}

// orEmpty keeps nil slices from rendering as null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
