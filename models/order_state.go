package models

// IsTerminal reports whether no transition may leave s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed || s == OrderStatusCancelled
}

// CanTransitionTo reports whether s -> next is allowed. Only pending moves.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s != OrderStatusPending {
		return false
	}
	switch next {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// CheckoutOutcome is what a verified gateway event says about a session.
type CheckoutOutcome string

const (
	OutcomeCompleted      CheckoutOutcome = "completed"
	OutcomeAsyncSucceeded CheckoutOutcome = "async_succeeded"
	OutcomeAsyncFailed    CheckoutOutcome = "async_failed"
	OutcomeExpired        CheckoutOutcome = "expired"
	OutcomeIgnored        CheckoutOutcome = "ignored"
)

// Session payment statuses reported by the gateway.
const (
	SessionPaymentPaid        = "paid"
	SessionPaymentUnpaid      = "unpaid"
	SessionPaymentNotRequired = "no_payment_required"
)

// GatewayEvent is a signature-verified checkout event.
type GatewayEvent struct {
	ID            string
	Type          string
	Outcome       CheckoutOutcome
	SessionID     string
	PaymentStatus string
	OrderID       string
	UserID        string
	CourseIDs     []string
	AmountTotal   int64 // minor units
	Currency      string
	CustomerEmail string
}

// Paid reports whether the session has collected its money.
func (e GatewayEvent) Paid() bool {
	return e.PaymentStatus == SessionPaymentPaid || e.PaymentStatus == SessionPaymentNotRequired
}

// NextOrderStatus decides the order status after evt. apply is false when the
// event must not change the order (terminal order, unpaid completion, unknown outcome).
func NextOrderStatus(current OrderStatus, evt GatewayEvent) (next OrderStatus, apply bool) {
	if current.IsTerminal() {
		return current, false
	}

	switch evt.Outcome {
	case OutcomeCompleted, OutcomeAsyncSucceeded:
		if evt.Paid() {
			return OrderStatusPaid, true
		}
	case OutcomeAsyncFailed:
		return OrderStatusFailed, true
	case OutcomeExpired:
		return OrderStatusCancelled, true
	}
	return current, false
}
