package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Enrollment grants a user access to a course. Unique per (user, course).
type Enrollment struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID        primitive.ObjectID  `bson:"user" json:"user"`
	CourseID      primitive.ObjectID  `bson:"course" json:"course"`
	EnrolledAt    time.Time           `bson:"enrolled_at" json:"enrolledAt"`
	PaymentMethod string              `bson:"payment_method" json:"paymentMethod"`
	AmountPaid    decimal.Decimal     `bson:"amount_paid" json:"amountPaid"`
	Currency      string              `bson:"currency" json:"currency"`
	PaymentID     *string             `bson:"payment_id" json:"paymentId"`
	OrderID       *primitive.ObjectID `bson:"order,omitempty" json:"orderId,omitempty"`
}

// CourseProgress tracks a learner through one enrollment.
type CourseProgress struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EnrollmentID     primitive.ObjectID `bson:"enrollment" json:"enrollment"`
	UserID           primitive.ObjectID `bson:"user" json:"user"`
	CourseID         primitive.ObjectID `bson:"course" json:"course"`
	CompletedLessons []string           `bson:"completed_lessons" json:"completedLessons"`
	Percent          int                `bson:"percent" json:"percent"`
	LastAccessedAt   *time.Time         `bson:"last_accessed_at" json:"lastAccessedAt"`
	CreatedAt        time.Time          `bson:"created_at" json:"createdAt"`
}

// EnrollmentGrant describes one enrollment to create.
type EnrollmentGrant struct {
	UserID        primitive.ObjectID
	CourseID      primitive.ObjectID
	CourseTitle   string
	PaymentMethod string
	AmountPaid    decimal.Decimal
	Currency      string
	PaymentID     *string
	OrderID       *primitive.ObjectID
}
