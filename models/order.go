package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BaseCurrency is the currency course prices are stored in.
const BaseCurrency = "INR"

// SupportedCurrencies lists the currencies an order may be placed in.
var SupportedCurrencies = map[string]bool{
	"INR": true,
	"USD": true,
	"EUR": true,
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type OrderSource string

const (
	OrderSourceCart   OrderSource = "cart"
	OrderSourceSingle OrderSource = "single"
)

const (
	PaymentMethodManual = "manual"
	PaymentMethodStripe = "stripe"
	PaymentMethodFree   = "free"
)

// OrderItem is a snapshot of one course at checkout time.
type OrderItem struct {
	CourseID  primitive.ObjectID `bson:"course" json:"course"`
	Title     string             `bson:"title" json:"title"`
	Price     decimal.Decimal    `bson:"price" json:"price"` // order currency
	Quantity  int                `bson:"quantity" json:"quantity"`
	BasePrice decimal.Decimal    `bson:"base_price" json:"basePrice"`
}

// DiscountedPrice is the line total after the order-level percentage discount.
func (i OrderItem) DiscountedPrice(pct decimal.Decimal) decimal.Decimal {
	line := i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
	if !pct.IsPositive() {
		return line
	}
	return line.Sub(PercentOf(line, pct))
}

type Order struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID             primitive.ObjectID `bson:"user" json:"user"`
	CustomerEmail      string             `bson:"customer_email,omitempty" json:"customerEmail,omitempty"`
	Items              []OrderItem        `bson:"items" json:"items"`
	Currency           string             `bson:"currency" json:"currency"`
	BaseCurrency       string             `bson:"base_currency" json:"baseCurrency"`
	ExchangeRate       decimal.Decimal    `bson:"exchange_rate" json:"exchangeRate"`
	CouponCode         *string            `bson:"coupon_code" json:"couponCode"`
	DiscountPercentage decimal.Decimal    `bson:"discount_percentage" json:"discountPercentage"`
	Subtotal           decimal.Decimal    `bson:"subtotal" json:"subtotal"`
	DiscountAmount     decimal.Decimal    `bson:"discount_amount" json:"discountAmount"`
	Total              decimal.Decimal    `bson:"total" json:"total"`
	BaseSubtotal       decimal.Decimal    `bson:"base_subtotal" json:"baseSubtotal"`
	BaseDiscountAmount decimal.Decimal    `bson:"base_discount_amount" json:"baseDiscountAmount"`
	BaseTotal          decimal.Decimal    `bson:"base_total" json:"baseTotal"`
	Status             OrderStatus        `bson:"status" json:"status"`
	PaymentMethod      string             `bson:"payment_method" json:"paymentMethod"`
	PaymentReference   *string            `bson:"payment_reference" json:"paymentReference"`
	PaidAt             *time.Time         `bson:"paid_at" json:"paidAt"`
	Source             OrderSource        `bson:"source" json:"source"`
	// Post-payment bookkeeping. Each flag is set once by a conditional update.
	CouponRedeemed     bool               `bson:"coupon_redeemed" json:"-"`
	CompletedAt        *time.Time         `bson:"completed_at" json:"completedAt,omitempty"`
	CreatedAt          time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt          time.Time          `bson:"updated_at" json:"updatedAt"`
}

// CourseIDs returns the course of every line item in order.
func (o *Order) CourseIDs() []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.CourseID)
	}
	return ids
}

// RequiresPayment reports whether the order total is above zero.
func (o *Order) RequiresPayment() bool {
	return o.Total.IsPositive()
}

// PercentOf returns amount*pct/100 rounded half-up to 2 decimals.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
}

// Totals holds the monetary summary of an order in one currency.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals converts a base subtotal with rate and applies pct discount.
// Every value is rounded to 2 decimals and Total == Subtotal - Discount exactly.
func ComputeTotals(baseSubtotal, rate, pct decimal.Decimal) Totals {
	subtotal := baseSubtotal.Mul(rate).Round(2)
	discount := decimal.Zero
	if pct.IsPositive() {
		discount = PercentOf(subtotal, pct)
	}
	return Totals{Subtotal: subtotal, Discount: discount, Total: subtotal.Sub(discount)}
}
