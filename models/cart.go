package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	CourseID string `json:"course_id"`
	Quantity int    `json:"quantity"`
}

// Cart is owned by the cart service and read from Redis at checkout.
type Cart struct {
	UserID             string          `json:"user_id"`
	Items              []CartItem      `json:"items"`
	CouponCode         *string         `json:"coupon_code"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}
