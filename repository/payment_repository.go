package repository

import (
	"context"
	"time"

	"lms-payment-service/models"

	"github.com/go-faster/errors"
	"gorm.io/gorm"
)

type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepo(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return errors.Wrap(err, "create payment")
	}
	return nil
}

func (r *GormPaymentRepository) FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find payment")
	}
	return &payment, nil
}

// MarkSucceeded moves a pending ledger row to succeeded. It reports whether
// this call made the change, so duplicate deliveries see false.
func (r *GormPaymentRepository) MarkSucceeded(ctx context.Context, sessionID string, payload *string, at time.Time) (bool, error) {
	return r.finish(ctx, sessionID, map[string]interface{}{
		"status":               models.PaymentStatusSucceeded,
		"stripe_event_payload": payload,
		"succeeded_at":         at,
		"updated_at":           at,
	})
}

func (r *GormPaymentRepository) MarkFailed(ctx context.Context, sessionID string, payload *string, at time.Time) (bool, error) {
	return r.finish(ctx, sessionID, map[string]interface{}{
		"status":               models.PaymentStatusFailed,
		"stripe_event_payload": payload,
		"failed_at":            at,
		"updated_at":           at,
	})
}

func (r *GormPaymentRepository) finish(ctx context.Context, sessionID string, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("session_id = ? AND status = ?", sessionID, models.PaymentStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "update payment status")
	}
	return res.RowsAffected > 0, nil
}
