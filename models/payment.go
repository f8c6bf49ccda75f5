package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

const (
	PaymentModeCart   = "cart"
	PaymentModeDirect = "direct"
)

// Payment is the ledger row for one gateway checkout session.
type Payment struct {
	ID                 uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SessionID          string          `gorm:"type:varchar(255);uniqueIndex;not null" json:"sessionId"`
	UserID             string          `gorm:"type:varchar(64);index;not null" json:"userId"`
	OrderID            *string         `gorm:"type:varchar(64);index" json:"orderId,omitempty"`
	CourseIDs          string          `gorm:"type:text;not null;default:'[]'" json:"-"` // JSON array
	Amount             decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency           string          `gorm:"type:varchar(10);not null" json:"currency"`
	Mode               string          `gorm:"type:varchar(10);not null" json:"mode"`
	Status             string          `gorm:"type:varchar(20);not null" json:"status"`
	CheckoutURL        *string         `gorm:"type:varchar(1024)" json:"checkoutUrl,omitempty"`
	StripeEventPayload *string         `gorm:"type:jsonb" json:"-"`
	SucceededAt        *time.Time      `json:"succeededAt,omitempty"`
	FailedAt           *time.Time      `json:"failedAt,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt          gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusSucceeded || p.Status == PaymentStatusFailed
}
