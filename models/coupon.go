package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Coupon is a percentage discount rule. MaxUses 0 means unlimited.
type Coupon struct {
	ID                 primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Code               string               `bson:"code" json:"code"`
	DiscountPercentage decimal.Decimal      `bson:"discount_percentage" json:"discountPercentage"`
	Description        string               `bson:"description" json:"description"`
	IsActive           bool                 `bson:"is_active" json:"isActive"`
	ValidUntil         *time.Time           `bson:"valid_until" json:"validUntil"`
	MaxUses            int                  `bson:"max_uses" json:"maxUses"`
	UsedCount          int                  `bson:"used_count" json:"usedCount"`
	MinimumPurchase    decimal.Decimal      `bson:"minimum_purchase" json:"minimumPurchase"`
	ApplicableCourses  []primitive.ObjectID `bson:"applicable_courses" json:"applicableCourses"`
	CreatedBy          primitive.ObjectID   `bson:"created_by" json:"createdBy"`
	CreatedAt          time.Time            `bson:"created_at" json:"createdAt"`
}

// ExpiredAt reports whether the coupon is past its validity at now.
func (c *Coupon) ExpiredAt(now time.Time) bool {
	return c.ValidUntil != nil && now.After(*c.ValidUntil)
}

// Exhausted reports whether the usage cap has been reached.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses > 0 && c.UsedCount >= c.MaxUses
}

// AppliesTo reports whether any of ids is in the applicable list. An empty list applies to all courses.
func (c *Coupon) AppliesTo(ids ...primitive.ObjectID) bool {
	if len(c.ApplicableCourses) == 0 {
		return true
	}
	for _, allowed := range c.ApplicableCourses {
		for _, id := range ids {
			if allowed == id {
				return true
			}
		}
	}
	return false
}

// CreateCouponRequest is the payload for creating a new coupon.
type CreateCouponRequest struct {
	Code               string          `json:"code" binding:"required,min=3,max=64"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	Description        string          `json:"description" binding:"max=500"`
	ValidUntil         *time.Time      `json:"validUntil"`
	MaxUses            int             `json:"maxUses" binding:"gte=0"`
	MinimumPurchase    decimal.Decimal `json:"minimumPurchase"`
	ApplicableCourses  []string        `json:"applicableCourses" binding:"dive,objectid"`
}

// ValidateCourseCouponRequest checks a coupon against one course.
type ValidateCourseCouponRequest struct {
	CourseID   string `json:"courseId" binding:"required,objectid"`
	CouponCode string `json:"couponCode" binding:"required"`
}

// CouponEvaluation is the result of a successful coupon check.
type CouponEvaluation struct {
	Valid              bool            `json:"valid"`
	Message            string          `json:"message"`
	CouponCode         string          `json:"couponCode"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	OriginalPrice      decimal.Decimal `json:"originalPrice"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	DiscountedPrice    decimal.Decimal `json:"discountedPrice"`
	Description        string          `json:"description"`
}

// AvailableCoupon is the public view of an active coupon.
type AvailableCoupon struct {
	Code               string          `json:"code"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	Description        string          `json:"description"`
}
