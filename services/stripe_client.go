package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"lms-payment-service/models"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// Metadata keys written on every checkout session.
const (
	MetaOrderID   = "orderId"
	MetaUserID    = "userId"
	MetaCourseIDs = "courseIds"
)

// StripeService implements PaymentGateway on Stripe Checkout.
type StripeService struct {
	api        *client.API
	webhookKey string
}

// NewStripeService builds a client whose HTTP calls time out after timeout.
func NewStripeService(secretKey, webhookKey string, timeout time.Duration) *StripeService {
	api := &client.API{}
	api.Init(secretKey, stripe.NewBackends(&http.Client{Timeout: timeout}))
	return &StripeService{api: api, webhookKey: webhookKey}
}

func (s *StripeService) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*GatewaySession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	currency := strings.ToLower(req.Currency)
	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(item.UnitAmount),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "create checkout session")
	}
	return toGatewaySession(sess), nil
}

func (s *StripeService) GetSession(ctx context.Context, sessionID string) (*GatewaySession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, errors.Wrapf(err, "get checkout session %s", sessionID)
	}
	return toGatewaySession(sess), nil
}

// ParseWebhook verifies the signature and maps checkout events onto a GatewayEvent.
// Other event types come back with OutcomeIgnored.
func (s *StripeService) ParseWebhook(payload []byte, signature string) (*models.GatewayEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookKey, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, err
	}

	evt := &models.GatewayEvent{ID: event.ID, Type: string(event.Type), Outcome: outcomeFor(event.Type)}
	if evt.Outcome == models.OutcomeIgnored {
		return evt, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, errors.Wrap(err, "decode checkout session")
	}
	gs := toGatewaySession(&sess)
	evt.SessionID = gs.ID
	evt.PaymentStatus = gs.PaymentStatus
	evt.OrderID = gs.Metadata[MetaOrderID]
	evt.UserID = gs.Metadata[MetaUserID]
	evt.CourseIDs = decodeCourseIDs(gs.Metadata[MetaCourseIDs])
	evt.AmountTotal = gs.AmountTotal
	evt.Currency = strings.ToUpper(gs.Currency)
	evt.CustomerEmail = gs.CustomerEmail
	return evt, nil
}

func outcomeFor(t stripe.EventType) models.CheckoutOutcome {
	switch t {
	case stripe.EventTypeCheckoutSessionCompleted:
		return models.OutcomeCompleted
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return models.OutcomeAsyncSucceeded
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		return models.OutcomeAsyncFailed
	case stripe.EventTypeCheckoutSessionExpired:
		return models.OutcomeExpired
	}
	return models.OutcomeIgnored
}

func toGatewaySession(sess *stripe.CheckoutSession) *GatewaySession {
	gs := &GatewaySession{
		ID:            sess.ID,
		URL:           sess.URL,
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
		Metadata:      sess.Metadata,
		AmountTotal:   sess.AmountTotal,
		Currency:      string(sess.Currency),
		CustomerEmail: sess.CustomerEmail,
	}
	if gs.CustomerEmail == "" && sess.CustomerDetails != nil {
		gs.CustomerEmail = sess.CustomerDetails.Email
	}
	if gs.Metadata == nil {
		gs.Metadata = map[string]string{}
	}
	return gs
}

// decodeCourseIDs reads the JSON array stored in session metadata. A bare
// comma-separated list is accepted too.
func decodeCourseIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err == nil {
		return ids
	}
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
