package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"lms-payment-service/models"
	pkgaws "lms-payment-service/pkg/aws"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var receiptTemplate = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>Thank you for your purchase!</h2>
  <p>Order <strong>{{.OrderID}}</strong> was paid on {{.PaidAt}}.</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><th align="left">Course</th><th align="right">Price</th></tr>
    {{range .Items}}<tr><td>{{.Title}}</td><td align="right">{{.Price}} {{$.Currency}}</td></tr>
    {{end}}
    {{if .Discount}}<tr><td>Discount{{if .Coupon}} ({{.Coupon}}){{end}}</td><td align="right">-{{.Discount}} {{.Currency}}</td></tr>{{end}}
    <tr><td><strong>Total</strong></td><td align="right"><strong>{{.Total}} {{.Currency}}</strong></td></tr>
  </table>
  {{if .ArchiveURL}}<p><a href="{{.ArchiveURL}}">Download your receipt</a></p>{{end}}
  <p>You now have access to {{len .Items}} course(s). Happy learning!</p>
</body>
</html>
`))

type receiptLine struct {
	CourseID string `json:"courseId"`
	Title    string `json:"title"`
	Price    string `json:"price"`
}

// Receipt is the archived record of a paid order.
type Receipt struct {
	OrderID    string        `json:"orderId"`
	UserID     string        `json:"userId"`
	Reference  string        `json:"paymentReference,omitempty"`
	Method     string        `json:"paymentMethod"`
	Currency   string        `json:"currency"`
	Items      []receiptLine `json:"items"`
	Subtotal   string        `json:"subtotal"`
	Discount   string        `json:"discount,omitempty"`
	Coupon     string        `json:"coupon,omitempty"`
	Total      string        `json:"total"`
	Enrolled   []string      `json:"enrollmentIds"`
	PaidAt     string        `json:"paidAt"`
	ArchiveURL string        `json:"-"`
}

// ReceiptService archives receipts to object storage and emails them.
type ReceiptService struct {
	storage pkgaws.ObjectStorage
	bucket  string
	email   EmailSender
	logger  *zap.Logger
}

func NewReceiptService(storage pkgaws.ObjectStorage, bucket string, email EmailSender, logger *zap.Logger) *ReceiptService {
	return &ReceiptService{storage: storage, bucket: bucket, email: email, logger: logger}
}

func ReceiptKey(orderID string) string {
	return "receipts/" + orderID + ".json"
}

// BuildReceipt renders the archived view of order.
func BuildReceipt(order *models.Order, enrollments []models.Enrollment) Receipt {
	r := Receipt{
		OrderID:   order.ID.Hex(),
		UserID:    order.UserID.Hex(),
		Reference: lo.FromPtr(order.PaymentReference),
		Method:    order.PaymentMethod,
		Currency:  order.Currency,
		Subtotal:  order.Subtotal.StringFixed(2),
		Total:     order.Total.StringFixed(2),
		Coupon:    lo.FromPtr(order.CouponCode),
		Items: lo.Map(order.Items, func(it models.OrderItem, _ int) receiptLine {
			return receiptLine{CourseID: it.CourseID.Hex(), Title: it.Title, Price: it.Price.StringFixed(2)}
		}),
		Enrolled: lo.Map(enrollments, func(e models.Enrollment, _ int) string { return e.ID.Hex() }),
	}
	if order.DiscountAmount.IsPositive() {
		r.Discount = order.DiscountAmount.StringFixed(2)
	}
	if order.PaidAt != nil {
		r.PaidAt = order.PaidAt.UTC().Format(time.RFC3339)
	}
	return r
}

// Issue archives the receipt when storage is configured, then emails it when
// the order carries a customer address. Both steps are attempted.
func (s *ReceiptService) Issue(ctx context.Context, order *models.Order, enrollments []models.Enrollment) error {
	receipt := BuildReceipt(order, enrollments)
	log := s.logger.With(zap.String("order_id", receipt.OrderID))

	var failed error
	if s.storage != nil && s.bucket != "" {
		body, err := json.Marshal(receipt)
		if err != nil {
			return errors.Wrap(err, "encode receipt")
		}
		url, err := s.storage.Upload(ctx, s.bucket, ReceiptKey(receipt.OrderID), "application/json", body)
		if err != nil {
			failed = err
			log.Warn("Failed to archive receipt", zap.Error(err))
		} else {
			receipt.ArchiveURL = url
			log.Info("Receipt archived", zap.String("url", url))
		}
	}

	if s.email != nil && order.CustomerEmail != "" {
		var buf bytes.Buffer
		if err := receiptTemplate.Execute(&buf, receipt); err != nil {
			return errors.Wrap(err, "render receipt")
		}
		subject := fmt.Sprintf("Your receipt for order %s", receipt.OrderID)
		if err := s.email.Send(ctx, order.CustomerEmail, subject, buf.String()); err != nil {
			failed = errors.Wrap(err, "email receipt")
		} else {
			log.Info("Receipt emailed")
		}
	}

	return failed
}
