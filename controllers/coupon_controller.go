package controllers

import (
	"context"
	"net/http"

	apperrors "lms-payment-service/common/errors"
	"lms-payment-service/middleware"
	"lms-payment-service/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CouponService interface {
	ValidateForCourse(ctx context.Context, courseID, code string) (*models.CouponEvaluation, error)
	CreateCoupon(ctx context.Context, creatorID string, req models.CreateCouponRequest) (*models.Coupon, error)
	ListAvailable(ctx context.Context) ([]models.AvailableCoupon, error)
}

type CouponController struct {
	Coupons CouponService
	Logger  *zap.Logger
}

func NewCouponController(coupons CouponService, logger *zap.Logger) *CouponController {
	return &CouponController{Coupons: coupons, Logger: logger}
}

// Available GET /api/coupons/available
func (cc *CouponController) Available(c *gin.Context) {
	coupons, err := cc.Coupons.ListAvailable(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, cc.Logger, err)
		return
	}
	c.JSON(http.StatusOK, orEmpty(coupons))
}

// ValidateCourse POST /api/coupons/validate-course. Rejections carry valid=false.
func (cc *CouponController) ValidateCourse(c *gin.Context) {
	var req models.ValidateCourseCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, cc.Logger, bindError(err).With("valid", false))
		return
	}

	eval, err := cc.Coupons.ValidateForCourse(c.Request.Context(), req.CourseID, req.CouponCode)
	if err != nil {
		apperrors.Respond(c, cc.Logger, apperrors.As(err).With("valid", false))
		return
	}
	c.JSON(http.StatusOK, eval)
}

// Create POST /api/coupons
func (cc *CouponController) Create(c *gin.Context) {
	var req models.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, cc.Logger, bindError(err))
		return
	}

	coupon, err := cc.Coupons.CreateCoupon(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		apperrors.Respond(c, cc.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, coupon)
}
