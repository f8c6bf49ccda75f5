package services_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"lms-payment-service/models"
	"lms-payment-service/repository"
	"lms-payment-service/services"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// --- orders ---

type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[primitive.ObjectID]*models.Order
	refs   map[string]primitive.ObjectID
	err    error
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: map[primitive.ObjectID]*models.Order{}, refs: map[string]primitive.ObjectID{}}
}

func (m *mockOrderRepo) Create(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) FindByID(_ context.Context, id primitive.ObjectID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) FindByIDForUser(ctx context.Context, id, userID primitive.ObjectID) (*models.Order, error) {
	o, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) SetPaymentReference(_ context.Context, id primitive.ObjectID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderStatusPending {
		return repository.ErrStatusConflict
	}
	o.PaymentReference = &ref
	return nil
}

func (m *mockOrderRepo) MarkPaid(_ context.Context, id primitive.ObjectID, u repository.PaidUpdate) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderStatusPending {
		return nil, repository.ErrStatusConflict
	}
	if u.Reference != nil {
		if owner, taken := m.refs[*u.Reference]; taken && owner != id {
			return nil, repository.ErrDuplicate
		}
		ref := *u.Reference
		o.PaymentReference = &ref
	}
	if o.PaymentReference != nil {
		m.refs[*o.PaymentReference] = id
	}
	paidAt := u.PaidAt
	o.Status = models.OrderStatusPaid
	o.PaymentMethod = u.PaymentMethod
	o.PaidAt = &paidAt
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) TransitionStatus(_ context.Context, id primitive.ObjectID, from, to models.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (m *mockOrderRepo) ClaimCouponRedemption(_ context.Context, id primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderStatusPaid || o.CouponRedeemed {
		return false, nil
	}
	o.CouponRedeemed = true
	return true, nil
}

func (m *mockOrderRepo) MarkCompleted(_ context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderStatusPaid || o.CompletedAt != nil {
		return false, nil
	}
	o.CompletedAt = &at
	return true, nil
}

func (m *mockOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// --- enrollments ---

type enrollKey struct{ user, course primitive.ObjectID }

type mockEnrollmentRepo struct {
	mu      sync.Mutex
	rows    map[enrollKey]models.Enrollment
	inserts int
	// failInserts makes that many upcoming InsertIgnore calls fail.
	failInserts int
}

func newMockEnrollmentRepo() *mockEnrollmentRepo {
	return &mockEnrollmentRepo{rows: map[enrollKey]models.Enrollment{}}
}

func (m *mockEnrollmentRepo) FindOne(_ context.Context, userID, courseID primitive.ObjectID) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[enrollKey{userID, courseID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (m *mockEnrollmentRepo) FindByUserAndCourses(_ context.Context, userID primitive.ObjectID, ids []primitive.ObjectID) ([]models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Enrollment
	for _, id := range ids {
		if e, ok := m.rows[enrollKey{userID, id}]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEnrollmentRepo) FindByOrder(_ context.Context, orderID primitive.ObjectID) ([]models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Enrollment
	for _, e := range m.rows {
		if e.OrderID != nil && *e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEnrollmentRepo) InsertIgnore(_ context.Context, e *models.Enrollment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInserts > 0 {
		m.failInserts--
		return false, errors.New("mongo: connection reset")
	}
	key := enrollKey{e.UserID, e.CourseID}
	if existing, ok := m.rows[key]; ok {
		*e = existing
		return false, nil
	}
	e.ID = primitive.NewObjectID()
	m.rows[key] = *e
	m.inserts++
	return true, nil
}

func (m *mockEnrollmentRepo) all() []models.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Enrollment, 0, len(m.rows))
	for _, e := range m.rows {
		out = append(out, e)
	}
	return out
}

func (m *mockEnrollmentRepo) seed(userID, courseID primitive.ObjectID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[enrollKey{userID, courseID}] = models.Enrollment{ID: primitive.NewObjectID(), UserID: userID, CourseID: courseID}
}

// --- progress ---

type mockProgressRepo struct {
	mu    sync.Mutex
	count int
	err   error
}

func (m *mockProgressRepo) Create(context.Context, *models.CourseProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.count++
	return nil
}

// --- courses ---

type mockCourseRepo struct {
	mu       sync.Mutex
	courses  map[primitive.ObjectID]models.Course
	drafts   map[primitive.ObjectID]models.PendingCourse
	learners map[primitive.ObjectID]int
}

func newMockCourseRepo() *mockCourseRepo {
	return &mockCourseRepo{
		courses:  map[primitive.ObjectID]models.Course{},
		drafts:   map[primitive.ObjectID]models.PendingCourse{},
		learners: map[primitive.ObjectID]int{},
	}
}

func (m *mockCourseRepo) add(title string, price string, published bool) models.Course {
	c := models.Course{ID: primitive.NewObjectID(), Title: title, Price: decimal.RequireFromString(price), Published: published}
	m.courses[c.ID] = c
	return c
}

func (m *mockCourseRepo) ResolveRef(_ context.Context, id primitive.ObjectID) (*models.CourseRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.courses[id]; ok {
		ref := models.RefFromCourse(&c)
		return &ref, nil
	}
	if d, ok := m.drafts[id]; ok {
		ref := models.RefFromDraft(&d)
		return &ref, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockCourseRepo) FindCourses(_ context.Context, ids []primitive.ObjectID) ([]models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Course
	for _, id := range ids {
		if c, ok := m.courses[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCourseRepo) IncrementLearners(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.learners[id]++
	return nil
}

// --- carts ---

type mockCartRepo struct {
	mu       sync.Mutex
	carts    map[string]*models.Cart
	cleared  []string
	clearErr error
}

func newMockCartRepo() *mockCartRepo {
	return &mockCartRepo{carts: map[string]*models.Cart{}}
}

func (m *mockCartRepo) put(userID string, courses ...models.Course) *models.Cart {
	cart := &models.Cart{UserID: userID}
	for _, c := range courses {
		cart.Items = append(cart.Items, models.CartItem{CourseID: c.ID.Hex(), Quantity: 1})
	}
	m.carts[userID] = cart
	return cart
}

func (m *mockCartRepo) GetCart(_ context.Context, userID string) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *mockCartRepo) ClearCart(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	delete(m.carts, userID)
	m.cleared = append(m.cleared, userID)
	return nil
}

// --- coupons ---

type mockCouponRepo struct {
	mu      sync.Mutex
	coupons map[string]*models.Coupon
}

func newMockCouponRepo() *mockCouponRepo {
	return &mockCouponRepo{coupons: map[string]*models.Coupon{}}
}

func (m *mockCouponRepo) FindActiveByCode(ctx context.Context, code string) (*models.Coupon, error) {
	c, err := m.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[repository.NormalizeCode(code)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCouponRepo) Create(_ context.Context, c *models.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Code = repository.NormalizeCode(c.Code)
	if _, ok := m.coupons[c.Code]; ok {
		return repository.ErrDuplicate
	}
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	cp := *c
	m.coupons[c.Code] = &cp
	return nil
}

func (m *mockCouponRepo) Redeem(_ context.Context, code string, now time.Time) (*models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[repository.NormalizeCode(code)]
	if !ok || !c.IsActive || c.ExpiredAt(now) || c.Exhausted() {
		return nil, repository.ErrStatusConflict
	}
	c.UsedCount++
	cp := *c
	return &cp, nil
}

func (m *mockCouponRepo) ListAvailable(_ context.Context, now time.Time) ([]models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Coupon
	for _, c := range m.coupons {
		if c.IsActive && !c.ExpiredAt(now) && !c.Exhausted() {
			out = append(out, *c)
		}
	}
	return out, nil
}

// --- webhook events ---

type mockWebhookEvents struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
}

func newMockWebhookEvents() *mockWebhookEvents {
	return &mockWebhookEvents{claimed: map[string]bool{}}
}

func (m *mockWebhookEvents) Claim(_ context.Context, id, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[id] {
		return false, nil
	}
	m.claimed[id] = true
	return true, nil
}

func (m *mockWebhookEvents) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, id)
	m.released = append(m.released, id)
	return nil
}

// --- payment ledger ---

type mockPaymentRepo struct {
	mu   sync.Mutex
	rows map[string]*models.Payment
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{rows: map[string]*models.Payment{}}
}

func (m *mockPaymentRepo) Create(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.SessionID]; ok {
		return repository.ErrDuplicate
	}
	cp := *p
	m.rows[p.SessionID] = &cp
	return nil
}

func (m *mockPaymentRepo) FindBySessionID(_ context.Context, sid string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[sid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepo) MarkSucceeded(_ context.Context, sid string, payload *string, at time.Time) (bool, error) {
	return m.finish(sid, models.PaymentStatusSucceeded, payload)
}

func (m *mockPaymentRepo) MarkFailed(_ context.Context, sid string, payload *string, at time.Time) (bool, error) {
	return m.finish(sid, models.PaymentStatusFailed, payload)
}

func (m *mockPaymentRepo) finish(sid, status string, payload *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[sid]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = status
	p.StripeEventPayload = payload
	return true, nil
}

// --- collaborators ---

type mockGateway struct {
	mu        sync.Mutex
	created   []services.SessionRequest
	sessions  map[string]*services.GatewaySession
	createErr error
	getErr    error
}

func newMockGateway() *mockGateway {
	return &mockGateway{sessions: map[string]*services.GatewaySession{}}
}

func (m *mockGateway) CreateCheckoutSession(_ context.Context, req services.SessionRequest) (*services.GatewaySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, req)
	if m.createErr != nil {
		return nil, m.createErr
	}
	id := "cs_test_" + gofakeit.LetterN(12)
	var amount int64
	for _, li := range req.LineItems {
		amount += li.UnitAmount * li.Quantity
	}
	s := &services.GatewaySession{
		ID:            id,
		URL:           "https://checkout.stripe.test/" + id,
		PaymentStatus: models.SessionPaymentUnpaid,
		Metadata:      req.Metadata,
		AmountTotal:   amount,
		Currency:      strings.ToLower(req.Currency),
	}
	m.sessions[id] = s
	return s, nil
}

func (m *mockGateway) GetSession(_ context.Context, id string) (*services.GatewaySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockGateway) ParseWebhook([]byte, string) (*models.GatewayEvent, error) {
	return nil, nil
}

func (m *mockGateway) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

type mockRates struct {
	rate decimal.Decimal
	err  error
	hits int
}

func (m *mockRates) GetRate(context.Context, string, string) (decimal.Decimal, error) {
	m.hits++
	return m.rate, m.err
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *mockNotifier) Create(_ context.Context, recipient, _, _, _ string, _ map[string]string) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, recipient)
	return &models.Notification{}, m.err
}

type mockEvents struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (m *mockEvents) Publish(_ context.Context, evt models.DomainEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockEvents) ofType(t string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (m *mockCouponRepo) usedCount(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[repository.NormalizeCode(code)].UsedCount
}

type mockReceipts struct {
	mu     sync.Mutex
	issued int
}

func (m *mockReceipts) Issue(context.Context, *models.Order, []models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued++
	return nil
}

func syncDispatch(fn func(ctx context.Context)) { fn(context.Background()) }

// harness wires every service over in-memory fakes.
type harness struct {
	orders      *mockOrderRepo
	enrollments *mockEnrollmentRepo
	progress    *mockProgressRepo
	courses     *mockCourseRepo
	carts       *mockCartRepo
	coupons     *mockCouponRepo
	webhooks    *mockWebhookEvents
	payments    *mockPaymentRepo
	gateway     *mockGateway
	rates       *mockRates
	notifier    *mockNotifier
	events      *mockEvents
	receipts    *mockReceipts

	couponSvc   *services.CouponService
	builder     *services.OrderBuilder
	fulfillment *services.FulfillmentService
	checkout    *services.CheckoutService
}

func newHarness(cfg services.CheckoutConfig) *harness {
	h := &harness{
		orders:      newMockOrderRepo(),
		enrollments: newMockEnrollmentRepo(),
		progress:    &mockProgressRepo{},
		courses:     newMockCourseRepo(),
		carts:       newMockCartRepo(),
		coupons:     newMockCouponRepo(),
		webhooks:    newMockWebhookEvents(),
		payments:    newMockPaymentRepo(),
		gateway:     newMockGateway(),
		rates:       &mockRates{rate: decimal.RequireFromString("0.012")},
		notifier:    &mockNotifier{},
		events:      &mockEvents{},
		receipts:    &mockReceipts{},
	}
	logger := zap.NewNop()
	h.couponSvc = services.NewCouponService(h.coupons, h.courses, h.events, nil, logger)
	h.builder = services.NewOrderBuilder(h.carts, h.courses, h.enrollments, h.orders, h.rates, nil, logger)
	h.fulfillment = services.NewFulfillmentService(services.FulfillmentDeps{
		Orders:      h.orders,
		Enrollments: h.enrollments,
		Progress:    h.progress,
		Courses:     h.courses,
		Carts:       h.carts,
		Coupons:     h.couponSvc,
		Notifier:    h.notifier,
		Events:      h.events,
		Receipts:    h.receipts,
		Dispatch:    syncDispatch,
	}, logger)
	h.checkout = services.NewCheckoutService(h.builder, h.fulfillment, h.orders, h.payments, h.webhooks, h.gateway, nil, cfg, logger)
	return h
}

func newUserID() string { return primitive.NewObjectID().Hex() }

func newObjectID() primitive.ObjectID { return primitive.NewObjectID() }

func mustObjectID(hex string) primitive.ObjectID {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		panic(err)
	}
	return id
}
