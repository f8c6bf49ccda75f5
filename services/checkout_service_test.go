package services_test

import (
	"context"
	"net/http"
	"testing"

	apperrors "lms-payment-service/common/errors"
	"lms-payment-service/models"
	"lms-payment-service/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func customer(userID string) services.Customer {
	return services.Customer{UserID: userID, Email: "learner@example.com"}
}

func TestCheckout_FreeOrderAutoPaysWithoutGateway(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	userID := newUserID()
	cart := h.carts.put(userID, h.courses.add("A", "500", true), h.courses.add("B", "300", true))
	cart.DiscountPercentage = decimal.NewFromInt(100)

	res, err := h.checkout.CreateStripeSession(context.Background(), customer(userID), "INR")
	require.NoError(t, err)

	assert.Equal(t, services.MsgFreeCheckout, res.Message)
	assert.False(t, res.RequiresPayment)
	assert.Equal(t, models.OrderStatusPaid, res.Order.Status)
	assert.Equal(t, models.PaymentMethodStripe, res.Order.PaymentMethod)
	assert.Len(t, res.Enrollments, 2)
	assert.Zero(t, h.gateway.calls())
	assert.Equal(t, []string{userID}, h.carts.cleared)
}

func TestCheckout_PaidOrderStaysPending(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	userID := newUserID()
	h.carts.put(userID, h.courses.add("A", "500", true))

	res, err := h.checkout.Checkout(context.Background(), customer(userID), "", "")
	require.NoError(t, err)
	assert.Equal(t, services.MsgOrderCreated, res.Message)
	assert.True(t, res.RequiresPayment)
	assert.Equal(t, models.OrderStatusPending, res.Order.Status)
	assert.Equal(t, "learner@example.com", res.Order.CustomerEmail)
	assert.Empty(t, h.enrollments.all())
	assert.Empty(t, h.carts.cleared)
}

func TestCreateStripeSession_DiscountedLineItemsAndLedger(t *testing.T) {
	h := newHarness(services.CheckoutConfig{FrontendURL: "https://lms.test/"})
	userID := newUserID()
	cart := h.carts.put(userID, h.courses.add("Go", "999.99", true))
	cart.DiscountPercentage = decimal.NewFromInt(40)

	res, err := h.checkout.CreateStripeSession(context.Background(), customer(userID), "inr")
	require.NoError(t, err)

	assert.Equal(t, services.MsgSessionCreated, res.Message)
	require.Len(t, h.gateway.created, 1)
	req := h.gateway.created[0]
	assert.Equal(t, "INR", req.Currency)
	require.Len(t, req.LineItems, 1)
	// 999.99 - 400.00 = 599.99
	assert.EqualValues(t, 59999, req.LineItems[0].UnitAmount)
	assert.Equal(t, "Go", req.LineItems[0].Name)
	assert.Equal(t, res.Order.ID.Hex(), req.Metadata[services.MetaOrderID])
	assert.Equal(t, userID, req.Metadata[services.MetaUserID])
	assert.Contains(t, req.SuccessURL, "https://lms.test/payment?status=success&orderId="+res.Order.ID.Hex())
	assert.Contains(t, req.SuccessURL, "session_id={CHECKOUT_SESSION_ID}")

	stored, err := h.orders.FindByID(context.Background(), res.Order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentReference)
	assert.Equal(t, res.SessionID, *stored.PaymentReference)

	row, err := h.payments.FindBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentModeCart, row.Mode)
	assert.Equal(t, models.PaymentStatusPending, row.Status)
}

func TestCreateStripeSession_GatewayFailureLeavesOrderPending(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	h.gateway.createErr = assert.AnError
	userID := newUserID()
	h.carts.put(userID, h.courses.add("Go", "100", true))

	_, err := h.checkout.CreateStripeSession(context.Background(), customer(userID), "")
	require.Error(t, err)
	appErr := apperrors.As(err)
	assert.Equal(t, http.StatusInternalServerError, appErr.Code)
	assert.Equal(t, "Failed to create payment session", appErr.Message)

	require.Equal(t, 1, h.orders.count())
	for _, o := range h.orders.orders {
		assert.Equal(t, models.OrderStatusPending, o.Status)
	}
}

func TestConfirmOrder_IsIdempotent(t *testing.T) {
	h := newHarness(services.CheckoutConfig{ManualPayments: true})
	userID := newUserID()
	order := pendingOrder(t, h, userID, h.courses.add("A", "100", true))
	req := services.ConfirmRequest{OrderID: order.ID.Hex()}

	first, err := h.checkout.ConfirmOrder(context.Background(), userID, req)
	require.NoError(t, err)
	second, err := h.checkout.ConfirmOrder(context.Background(), userID, req)
	require.NoError(t, err)

	assert.True(t, first.Fulfilled)
	assert.False(t, second.Fulfilled)
	assert.Equal(t, models.OrderStatusPaid, second.Order.Status)
	assert.Len(t, second.Enrollments, 1)
	assert.Len(t, h.enrollments.all(), 1)
}

func TestConfirmOrder_Rejections(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	userID := newUserID()
	order := pendingOrder(t, h, userID, h.courses.add("A", "100", true))
	closed := pendingOrder(t, h, userID, h.courses.add("B", "100", true))
	_, _ = h.orders.TransitionStatus(context.Background(), closed.ID, models.OrderStatusPending, models.OrderStatusFailed)

	tests := []struct {
		name     string
		userID   string
		req      services.ConfirmRequest
		wantCode int
		wantMsg  string
	}{
		{"missing order id", userID, services.ConfirmRequest{}, http.StatusBadRequest, "orderId is required"},
		{"unknown order", userID, services.ConfirmRequest{OrderID: newUserID()}, http.StatusNotFound, services.MsgOrderNotFound},
		{"someone else's order", newUserID(), services.ConfirmRequest{OrderID: order.ID.Hex()}, http.StatusNotFound, services.MsgOrderNotFound},
		{"no reference", userID, services.ConfirmRequest{OrderID: order.ID.Hex()}, http.StatusBadRequest, services.MsgReferenceNeeded},
		{"failed order", userID, services.ConfirmRequest{OrderID: closed.ID.Hex(), PaymentReference: "ref"}, http.StatusConflict, "Order is failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.checkout.ConfirmOrder(context.Background(), tt.userID, tt.req)
			require.Error(t, err)
			appErr := apperrors.As(err)
			assert.Equal(t, tt.wantCode, appErr.Code)
			assert.Equal(t, tt.wantMsg, appErr.Message)
		})
	}
	assert.Empty(t, h.enrollments.all())
}

func TestConfirmOrder_StripeReferenceVerifiedWithGateway(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	userID := newUserID()
	h.carts.put(userID, h.courses.add("A", "100", true))
	res, err := h.checkout.CreateStripeSession(context.Background(), customer(userID), "")
	require.NoError(t, err)
	req := services.ConfirmRequest{OrderID: res.Order.ID.Hex()}

	_, err = h.checkout.ConfirmOrder(context.Background(), userID, req)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindPaymentRequired, apperrors.As(err).Kind)

	h.gateway.sessions[res.SessionID].PaymentStatus = models.SessionPaymentPaid
	confirmed, err := h.checkout.ConfirmOrder(context.Background(), userID, req)
	require.NoError(t, err)
	assert.True(t, confirmed.Fulfilled)
	require.NotNil(t, confirmed.Order.PaymentReference)
	assert.Equal(t, res.SessionID, *confirmed.Order.PaymentReference)
}

func TestConfirmOrder_RequestCannotSkipGatewayCheck(t *testing.T) {
	h := newHarness(services.CheckoutConfig{ManualPayments: false})
	userID := newUserID()
	h.carts.put(userID, h.courses.add("A", "5000", true))
	res, err := h.checkout.CreateStripeSession(context.Background(), customer(userID), "INR")
	require.NoError(t, err)

	_, err = h.checkout.ConfirmOrder(context.Background(), userID, services.ConfirmRequest{
		OrderID:       res.Order.ID.Hex(),
		PaymentMethod: models.PaymentMethodManual,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindPaymentRequired, apperrors.As(err).Kind)

	stored, err := h.orders.FindByID(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Empty(t, h.enrollments.all())
}

func TestConfirmOrder_SessionMustMatchOrder(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	userID := newUserID()
	h.gateway.sessions["cs_direct"] = &services.GatewaySession{
		ID:            "cs_direct",
		PaymentStatus: models.SessionPaymentPaid,
		Metadata:      map[string]string{services.MetaUserID: userID},
		AmountTotal:   50,
		Currency:      "inr",
	}

	h.carts.put(userID, h.courses.add("A", "50000", true))
	res, err := h.checkout.CreateStripeSession(context.Background(), customer(userID), "INR")
	require.NoError(t, err)
	orderID := res.Order.ID.Hex()

	_, err = h.checkout.ConfirmOrder(context.Background(), userID, services.ConfirmRequest{
		OrderID:          orderID,
		PaymentReference: "cs_direct",
	})
	require.Error(t, err)
	assert.Equal(t, "Payment reference does not belong to this order", apperrors.As(err).Message)

	own := h.gateway.sessions[res.SessionID]
	own.PaymentStatus = models.SessionPaymentPaid
	own.AmountTotal = 50

	_, err = h.checkout.ConfirmOrder(context.Background(), userID, services.ConfirmRequest{OrderID: orderID})
	require.Error(t, err)
	assert.Equal(t, "Payment amount does not match this order", apperrors.As(err).Message)

	own.AmountTotal = 5000000
	own.Currency = "usd"
	_, err = h.checkout.ConfirmOrder(context.Background(), userID, services.ConfirmRequest{OrderID: orderID})
	require.Error(t, err)
	assert.Equal(t, "Payment amount does not match this order", apperrors.As(err).Message)

	own.Currency = "inr"
	confirmed, err := h.checkout.ConfirmOrder(context.Background(), userID, services.ConfirmRequest{OrderID: orderID})
	require.NoError(t, err)
	assert.True(t, confirmed.Fulfilled)
	assert.Equal(t, models.OrderStatusPaid, confirmed.Order.Status)
}

func TestCreateDirectSession(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	userID := newUserID()

	_, err := h.checkout.CreateDirectSession(context.Background(), customer(userID), []services.DirectItem{
		{CourseID: newUserID(), Name: "Tiny", Price: decimal.RequireFromString("0.49")},
	}, "usd")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperrors.As(err).Code)
	assert.Zero(t, h.gateway.calls())

	a, b := newUserID(), newUserID()
	sess, err := h.checkout.CreateDirectSession(context.Background(), customer(userID), []services.DirectItem{
		{CourseID: a, Name: "A", Price: decimal.RequireFromString("19.99")},
		{CourseID: b, Price: decimal.RequireFromString("5")},
	}, "usd")
	require.NoError(t, err)

	req := h.gateway.created[0]
	assert.Equal(t, "USD", req.Currency)
	assert.EqualValues(t, 1999, req.LineItems[0].UnitAmount)
	assert.Equal(t, "Course", req.LineItems[1].Name)
	assert.JSONEq(t, `["`+a+`","`+b+`"]`, req.Metadata[services.MetaCourseIDs])
	assert.Empty(t, req.Metadata[services.MetaOrderID])

	row, err := h.payments.FindBySessionID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentModeDirect, row.Mode)
	assert.Equal(t, "24.99", row.Amount.String())
}

func TestCreateDirectSession_UnsupportedCurrency(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	_, err := h.checkout.CreateDirectSession(context.Background(), customer(newUserID()), []services.DirectItem{
		{CourseID: newUserID(), Price: decimal.NewFromInt(10)},
	}, "GBP")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUnsupportedCurrency, apperrors.As(err).Kind)
}

func completedEvent(id, sessionID string, order *models.Order) *models.GatewayEvent {
	return &models.GatewayEvent{
		ID:            id,
		Type:          "checkout.session.completed",
		Outcome:       models.OutcomeCompleted,
		SessionID:     sessionID,
		PaymentStatus: models.SessionPaymentPaid,
		OrderID:       order.ID.Hex(),
		UserID:        order.UserID.Hex(),
	}
}

func TestHandleGatewayEvent_DuplicateDeliveryEnrollsOnce(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	userID := newUserID()
	h.carts.put(userID, h.courses.add("A", "100", true), h.courses.add("B", "200", true))
	res, err := h.checkout.CreateStripeSession(context.Background(), customer(userID), "")
	require.NoError(t, err)

	evt := completedEvent("evt_1", res.SessionID, res.Order)
	require.NoError(t, h.checkout.HandleGatewayEvent(context.Background(), evt))
	require.NoError(t, h.checkout.HandleGatewayEvent(context.Background(), evt))
	// A distinct event for the same session is also harmless.
	require.NoError(t, h.checkout.HandleGatewayEvent(context.Background(), completedEvent("evt_2", res.SessionID, res.Order)))

	assert.Len(t, h.enrollments.all(), 2)
	assert.Equal(t, 2, h.enrollments.inserts)
	assert.Equal(t, 1, h.events.ofType(models.EventOrderPaid))

	stored, _ := h.orders.FindByID(context.Background(), res.Order.ID)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	row, _ := h.payments.FindBySessionID(context.Background(), res.SessionID)
	assert.Equal(t, models.PaymentStatusSucceeded, row.Status)
}

func TestHandleGatewayEvent_UnpaidCompletionLeavesOrderPending(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	userID := newUserID()
	order := pendingOrder(t, h, userID, h.courses.add("A", "100", true))

	evt := completedEvent("evt_unpaid", "cs_async", order)
	evt.PaymentStatus = models.SessionPaymentUnpaid
	require.NoError(t, h.checkout.HandleGatewayEvent(context.Background(), evt))

	stored, _ := h.orders.FindByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Empty(t, h.enrollments.all())
}

func TestHandleGatewayEvent_ExpiredCancelsOrder(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	order := pendingOrder(t, h, newUserID(), h.courses.add("A", "100", true))

	evt := completedEvent("evt_exp", "cs_exp", order)
	evt.Type, evt.Outcome, evt.PaymentStatus = "checkout.session.expired", models.OutcomeExpired, models.SessionPaymentUnpaid
	require.NoError(t, h.checkout.HandleGatewayEvent(context.Background(), evt))

	stored, _ := h.orders.FindByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)

	// A late success for a cancelled order changes nothing.
	require.NoError(t, h.checkout.HandleGatewayEvent(context.Background(), completedEvent("evt_late", "cs_exp", order)))
	stored, _ = h.orders.FindByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Empty(t, h.enrollments.all())
}

func TestHandleGatewayEvent_FailureReleasesClaim(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	order := pendingOrder(t, h, newUserID(), h.courses.add("A", "100", true))

	// Another paid order already holds this reference.
	other := pendingOrder(t, h, newUserID(), h.courses.add("B", "100", true))
	ref := "cs_shared"
	_, err := h.orders.MarkPaid(context.Background(), other.ID, repositoryPaidWithRef(ref))
	require.NoError(t, err)

	err = h.checkout.HandleGatewayEvent(context.Background(), completedEvent("evt_fail", ref, order))
	require.Error(t, err)
	assert.Equal(t, []string{"evt_fail"}, h.webhooks.released)
}

func TestHandleGatewayEvent_DirectModeEnrollsFromMetadata(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	userID := newUserID()
	a, b := h.courses.add("A", "10", true), h.courses.add("B", "10", true)

	evt := &models.GatewayEvent{
		ID:            "evt_direct",
		Type:          "checkout.session.completed",
		Outcome:       models.OutcomeCompleted,
		SessionID:     "cs_direct",
		PaymentStatus: models.SessionPaymentPaid,
		UserID:        userID,
		CourseIDs:     []string{a.ID.Hex(), b.ID.Hex()},
		AmountTotal:   2000,
		Currency:      "USD",
	}
	require.NoError(t, h.checkout.HandleGatewayEvent(context.Background(), evt))
	evt.ID = "evt_direct_retry"
	require.NoError(t, h.checkout.HandleGatewayEvent(context.Background(), evt))

	all := h.enrollments.all()
	require.Len(t, all, 2)
	for _, e := range all {
		assert.Equal(t, "10", e.AmountPaid.String())
		assert.Equal(t, "USD", e.Currency)
	}
}

func TestHandleGatewayEvent_IgnoresOtherTypes(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	evt := &models.GatewayEvent{ID: "evt_other", Type: "invoice.paid", Outcome: models.OutcomeIgnored}
	require.NoError(t, h.checkout.HandleGatewayEvent(context.Background(), evt))
	assert.Empty(t, h.webhooks.claimed)
}

func TestVerifyPayment(t *testing.T) {
	h := newHarness(services.CheckoutConfig{})
	userID := newUserID()
	h.carts.put(userID, h.courses.add("A", "100", true))
	res, err := h.checkout.CreateStripeSession(context.Background(), customer(userID), "")
	require.NoError(t, err)

	out, err := h.checkout.VerifyPayment(context.Background(), userID, res.SessionID)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, models.SessionPaymentUnpaid, out.Status)

	h.gateway.sessions[res.SessionID].PaymentStatus = models.SessionPaymentPaid
	out, err = h.checkout.VerifyPayment(context.Background(), userID, res.SessionID)
	require.NoError(t, err)
	assert.True(t, out.Success)
	require.NotNil(t, out.Payment)
	assert.Equal(t, models.PaymentStatusSucceeded, out.Payment.Status)
	assert.Equal(t, models.OrderStatusPaid, out.Order.Status)
	assert.Len(t, h.enrollments.all(), 1)

	_, err = h.checkout.VerifyPayment(context.Background(), newUserID(), res.SessionID)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, apperrors.As(err).Code)
}

func TestToMinorUnits(t *testing.T) {
	assert.EqualValues(t, 1200, services.ToMinorUnits(decimal.RequireFromString("12")))
	assert.EqualValues(t, 59999, services.ToMinorUnits(decimal.RequireFromString("599.99")))
	assert.EqualValues(t, 1, services.ToMinorUnits(decimal.RequireFromString("0.005")))
}
