package services

import (
	"context"
	"time"

	"lms-payment-service/models"
	"lms-payment-service/repository"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type NotificationService struct {
	repo   repository.NotificationRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewNotificationService(repo repository.NotificationRepository, logger *zap.Logger) *NotificationService {
	return &NotificationService{repo: repo, logger: logger, now: time.Now}
}

// Create stores an unread in-app notification for recipient.
func (s *NotificationService) Create(ctx context.Context, recipient, kind, title, message string, metadata map[string]string) (*models.Notification, error) {
	to, err := primitive.ObjectIDFromHex(recipient)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid recipient %q", recipient)
	}

	n := &models.Notification{
		Recipient: to,
		Type:      kind,
		Title:     title,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	s.logger.Debug("notification created",
		zap.String("recipient", recipient),
		zap.String("type", kind),
	)
	return n, nil
}
