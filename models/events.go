package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	EventOrderPaid         = "order_paid"
	EventEnrollmentCreated = "enrollment_created"
	EventCouponRedeemed    = "coupon_redeemed"
)

// DomainEvent is published to SNS after state changes.
type DomainEvent struct {
	Type      string          `json:"type"`
	OrderID   string          `json:"order_id,omitempty"`
	UserID    string          `json:"user_id"`
	CourseID  string          `json:"course_id,omitempty"`
	Reference string          `json:"reference,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ProcessedEvent marks a gateway webhook event as handled.
type ProcessedEvent struct {
	ID         string    `bson:"_id"`
	Type       string    `bson:"type"`
	ReceivedAt time.Time `bson:"received_at"`
}

// Notification is an in-app message for a user.
type Notification struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Recipient primitive.ObjectID `bson:"recipient" json:"recipient"`
	Type      string             `bson:"type" json:"type"`
	Title     string             `bson:"title" json:"title"`
	Message   string             `bson:"message" json:"message"`
	Metadata  map[string]string  `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Read      bool               `bson:"read" json:"read"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
}
