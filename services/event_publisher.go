package services

import (
	"context"
	"encoding/json"

	"lms-payment-service/models"

	"go.uber.org/zap"
)

// TopicPublisher publishes a message tagged with an event type.
type TopicPublisher interface {
	PublishWithType(ctx context.Context, topicArn, eventType string, message []byte) error
}

// SNSEventPublisher publishes domain events to one SNS topic. Without a topic
// events are only logged.
type SNSEventPublisher struct {
	sns      TopicPublisher
	topicArn string
	logger   *zap.Logger
}

func NewSNSEventPublisher(sns TopicPublisher, topicArn string, logger *zap.Logger) *SNSEventPublisher {
	return &SNSEventPublisher{sns: sns, topicArn: topicArn, logger: logger}
}

func (p *SNSEventPublisher) Publish(ctx context.Context, evt models.DomainEvent) {
	fields := []zap.Field{
		zap.String("event_type", evt.Type),
		zap.String("order_id", evt.OrderID),
		zap.String("user_id", evt.UserID),
	}
	if p.sns == nil || p.topicArn == "" {
		p.logger.Debug("Domain event (no topic configured)", fields...)
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("Failed to encode domain event", append(fields, zap.Error(err))...)
		return
	}
	if err := p.sns.PublishWithType(ctx, p.topicArn, evt.Type, payload); err != nil {
		p.logger.Error("Failed to publish domain event to SNS", append(fields, zap.Error(err))...)
		return
	}
	p.logger.Info("Domain event published to SNS", fields...)
}
