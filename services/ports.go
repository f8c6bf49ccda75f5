package services

import (
	"context"
	"time"

	"lms-payment-service/models"

	"github.com/shopspring/decimal"
)

// RateProvider converts between currencies.
type RateProvider interface {
	GetRate(ctx context.Context, base, target string) (decimal.Decimal, error)
}

// PaymentGateway is a hosted-checkout processor.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*GatewaySession, error)
	GetSession(ctx context.Context, sessionID string) (*GatewaySession, error)
	ParseWebhook(payload []byte, signature string) (*models.GatewayEvent, error)
}

// SessionLineItem is one priced line of a hosted checkout, in minor units.
type SessionLineItem struct {
	Name       string
	UnitAmount int64
	Quantity   int64
}

type SessionRequest struct {
	Currency      string
	LineItems     []SessionLineItem
	Metadata      map[string]string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
}

// GatewaySession is the processor's view of a checkout session.
type GatewaySession struct {
	ID            string
	URL           string
	Status        string
	PaymentStatus string
	Metadata      map[string]string
	AmountTotal   int64
	Currency      string
	CustomerEmail string
}

func (s *GatewaySession) Paid() bool {
	return s.PaymentStatus == models.SessionPaymentPaid || s.PaymentStatus == models.SessionPaymentNotRequired
}

// EventPublisher fans domain events out to subscribers. Failures are logged, never returned.
type EventPublisher interface {
	Publish(ctx context.Context, evt models.DomainEvent)
}

// Notifier creates in-app notifications.
type Notifier interface {
	Create(ctx context.Context, recipient, kind, title, message string, metadata map[string]string) (*models.Notification, error)
}

// EmailSender delivers HTML email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// MetricsRecorder records business counters.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

// Dispatcher runs best-effort side effects off the request path.
type Dispatcher func(fn func(ctx context.Context))

// AsyncDispatcher runs fn on a new goroutine with a detached, bounded context.
func AsyncDispatcher(timeout time.Duration) Dispatcher {
	return func(fn func(ctx context.Context)) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			fn(ctx)
		}()
	}
}

// nopMetrics is used when CloudWatch is not wired.
type nopMetrics struct{}

func (nopMetrics) RecordCount(context.Context, string, map[string]string) error { return nil }
