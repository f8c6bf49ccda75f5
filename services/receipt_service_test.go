package services_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"lms-payment-service/models"
	"lms-payment-service/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type mockStorage struct {
	uploads map[string][]byte
	err     error
}

func (m *mockStorage) Upload(_ context.Context, bucket, key, _ string, body []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.uploads == nil {
		m.uploads = map[string][]byte{}
	}
	m.uploads[bucket+"/"+key] = body
	return "https://cdn.test/" + key, nil
}

type mockEmail struct {
	to, subject, body string
	err               error
}

func (m *mockEmail) Send(_ context.Context, to, subject, body string) error {
	m.to, m.subject, m.body = to, subject, body
	return m.err
}

func paidOrder() *models.Order {
	paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ref, code := "cs_test_1", "WELCOME40"
	return &models.Order{
		ID:                 primitive.NewObjectID(),
		UserID:             primitive.NewObjectID(),
		CustomerEmail:      "learner@example.com",
		Items:              []models.OrderItem{{CourseID: primitive.NewObjectID(), Title: "Go <Advanced>", Price: decimal.NewFromInt(1000), Quantity: 1}},
		Currency:           "INR",
		CouponCode:         &code,
		DiscountPercentage: decimal.NewFromInt(40),
		Subtotal:           decimal.NewFromInt(1000),
		DiscountAmount:     decimal.NewFromInt(400),
		Total:              decimal.NewFromInt(600),
		Status:             models.OrderStatusPaid,
		PaymentMethod:      models.PaymentMethodStripe,
		PaymentReference:   &ref,
		PaidAt:             &paidAt,
	}
}

func TestReceiptService_ArchivesAndEmails(t *testing.T) {
	storage, email := &mockStorage{}, &mockEmail{}
	svc := services.NewReceiptService(storage, "receipts-bucket", email, zap.NewNop())
	order := paidOrder()

	require.NoError(t, svc.Issue(context.Background(), order, []models.Enrollment{{ID: primitive.NewObjectID()}}))

	raw, ok := storage.uploads["receipts-bucket/"+services.ReceiptKey(order.ID.Hex())]
	require.True(t, ok)
	var archived map[string]any
	require.NoError(t, json.Unmarshal(raw, &archived))
	assert.Equal(t, "600.00", archived["total"])
	assert.Equal(t, "400.00", archived["discount"])
	assert.Equal(t, "2026-03-01T10:00:00Z", archived["paidAt"])

	assert.Equal(t, "learner@example.com", email.to)
	assert.Contains(t, email.subject, order.ID.Hex())
	assert.Contains(t, email.body, "Go &lt;Advanced&gt;")
	assert.Contains(t, email.body, "-400.00 INR")
	assert.Contains(t, email.body, "https://cdn.test/"+services.ReceiptKey(order.ID.Hex()))
}

func TestReceiptService_EmailsEvenWhenArchiveFails(t *testing.T) {
	storage, email := &mockStorage{err: assert.AnError}, &mockEmail{}
	svc := services.NewReceiptService(storage, "bucket", email, zap.NewNop())

	err := svc.Issue(context.Background(), paidOrder(), nil)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "learner@example.com", email.to)
	assert.NotContains(t, email.body, "Download your receipt")
}

func TestReceiptService_NothingConfigured(t *testing.T) {
	svc := services.NewReceiptService(nil, "", nil, zap.NewNop())
	assert.NoError(t, svc.Issue(context.Background(), paidOrder(), nil))
}
