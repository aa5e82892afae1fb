package order

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"restaurant-system/internal/logger"
	"restaurant-system/internal/models"
	"restaurant-system/internal/payment"
)

// memoryStore applies the same conditional writes as the SQL queries
type memoryStore struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	history  map[string][]models.OrderStatusHistory
	events   map[string]PaymentEventRecord
	failNext error

	// beforeTransition runs once inside TransitionStatus to simulate a concurrent writer
	beforeTransition func()
	// beforeAttach runs once inside AttachPaymentIntent
	beforeAttach func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:  make(map[string]*models.Order),
		history: make(map[string][]models.OrderStatusHistory),
		events:  make(map[string]PaymentEventRecord),
	}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	if o.PaymentIntentID != nil {
		id := *o.PaymentIntentID
		c.PaymentIntentID = &id
	}
	return &c
}

func (m *memoryStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memoryStore) CreateOrder(_ context.Context, order *models.Order, changedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if _, exists := m.orders[order.ID]; exists {
		return errDuplicateOrderID
	}
	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	m.orders[order.ID] = cloneOrder(order)
	m.history[order.ID] = append(m.history[order.ID], models.OrderStatusHistory{Status: order.Status, ChangedBy: changedBy, ChangedAt: now})
	return nil
}

func (m *memoryStore) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *memoryStore) ListOrders(_ context.Context, restaurantID string) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Order, 0)
	for _, o := range m.orders {
		if o.RestaurantID == restaurantID {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (m *memoryStore) CurrentStatus(_ context.Context, orderID string) (models.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return "", models.ErrOrderNotFound
	}
	return o.Status, nil
}

func (m *memoryStore) TransitionStatus(_ context.Context, orderID string, from, to models.OrderStatus, changedBy string) (bool, error) {
	if hook := m.beforeTransition; hook != nil {
		m.beforeTransition = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	m.history[orderID] = append(m.history[orderID], models.OrderStatusHistory{Status: to, ChangedBy: changedBy, ChangedAt: time.Now().UTC()})
	return true, nil
}

func (m *memoryStore) AttachPaymentIntent(_ context.Context, orderID, intentID string) (bool, error) {
	if hook := m.beforeAttach; hook != nil {
		m.beforeAttach = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.PaymentIntentID != nil {
		return false, nil
	}
	o.PaymentIntentID = &intentID
	return true, nil
}

func (m *memoryStore) SetPaymentStatus(_ context.Context, orderID string, status models.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return false, err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	switch status {
	case models.PaymentPaid:
		if o.PaymentStatus == models.PaymentPaid {
			return false, nil
		}
	case models.PaymentFailed:
		if o.PaymentStatus != models.PaymentPending {
			return false, nil
		}
	default:
		return false, fmt.Errorf("payment status %q cannot be written", status)
	}
	o.PaymentStatus = status
	return true, nil
}

func (m *memoryStore) GetStatusHistory(_ context.Context, orderID string) ([]models.OrderStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return nil, models.ErrOrderNotFound
	}
	return append([]models.OrderStatusHistory(nil), m.history[orderID]...), nil
}

func (m *memoryStore) RecordPaymentEvent(_ context.Context, rec PaymentEventRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return false, err
	}
	if _, ok := m.events[rec.EventID]; ok {
		return false, nil
	}
	m.events[rec.EventID] = rec
	return true, nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func (m *memoryStore) paymentStatus(orderID string) models.PaymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[orderID].PaymentStatus
}

func (m *memoryStore) status(orderID string) models.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[orderID].Status
}

// fakeGateway stands in for the payment provider
type fakeGateway struct {
	mu        sync.Mutex
	intents   map[string]*payment.Intent
	created   int
	createErr []error
	events    map[string]*payment.Event
	nextID    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: make(map[string]*payment.Intent), events: make(map[string]*payment.Event)}
}

func (g *fakeGateway) CreateIntent(_ context.Context, amountMinor int64, metadata map[string]string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created++
	if len(g.createErr) > 0 {
		err := g.createErr[0]
		g.createErr = g.createErr[1:]
		return nil, err
	}
	g.nextID++
	id := fmt.Sprintf("pi_%d", g.nextID)
	intent := &payment.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		AmountMinor:  amountMinor,
		Currency:     "inr",
		Metadata:     metadata,
	}
	g.intents[id] = intent
	return copyIntent(intent), nil
}

func (g *fakeGateway) RetrieveIntent(_ context.Context, intentID string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w: no such intent %s", models.ErrPaymentMismatch, intentID)
	}
	return copyIntent(intent), nil
}

// VerifyWebhook treats the payload as an event id registered with sendEvent and
// the header as a shared secret
func (g *fakeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*payment.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	event, ok := g.events[string(payload)]
	if !ok || signatureHeader != "valid" {
		return nil, fmt.Errorf("%w: bad signature", models.ErrSignature)
	}
	return event, nil
}

func (g *fakeGateway) succeed(intentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[intentID].Status = payment.IntentSucceeded
}

func (g *fakeGateway) addIntent(intent *payment.Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[intent.ID] = intent
}

func (g *fakeGateway) registerEvent(eventID, eventType string, intent *payment.Intent) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	var snapshot *payment.Intent
	if intent != nil {
		snapshot = copyIntent(intent)
	}
	g.events[eventID] = &payment.Event{ID: eventID, Type: eventType, Intent: snapshot}
	return []byte(eventID)
}

func (g *fakeGateway) intent(id string) *payment.Intent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copyIntent(g.intents[id])
}

func copyIntent(i *payment.Intent) *payment.Intent {
	c := *i
	c.Metadata = make(map[string]string, len(i.Metadata))
	for k, v := range i.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// fakeCatalog serves a fixed menu
type fakeCatalog struct {
	dishes map[string]models.Dish
	err    error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{dishes: map[string]models.Dish{
		"dish-1": {ID: "dish-1", RestaurantID: "u_demo", Name: "Paneer Tikka", Price: decimal.RequireFromString("10.00"), Available: true},
		"dish-2": {ID: "dish-2", RestaurantID: "u_demo", Name: "Masala Chai", Price: decimal.RequireFromString("18.99"), Available: true},
		"dish-3": {ID: "dish-3", RestaurantID: "u_demo", Name: "Biryani", Price: decimal.RequireFromString("24.50"), Available: true},
		"dish-x": {ID: "dish-x", RestaurantID: "u_demo", Name: "Seasonal Special", Price: decimal.RequireFromString("5.00"), Available: false},
	}}
}

func (c *fakeCatalog) GetDish(_ context.Context, restaurantID, dishID string) (models.Dish, bool, error) {
	if c.err != nil {
		return models.Dish{}, false, c.err
	}
	d, ok := c.dishes[dishID]
	if !ok || d.RestaurantID != restaurantID {
		return models.Dish{}, false, nil
	}
	return d, true, nil
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.OrderEventMessage
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event *models.OrderEventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []models.OrderEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.OrderEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// memoryIdempotency mirrors the Redis reservation semantics
type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]string)}
}

func (m *memoryIdempotency) Reserve(_ context.Context, restaurantID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idempotencyKey(restaurantID, key)
	v, ok := m.keys[k]
	if !ok {
		m.keys[k] = inFlightMarker
		return "", true, nil
	}
	if v == inFlightMarker {
		return "", false, models.ErrIdempotencyInProgress
	}
	return v, false, nil
}

func (m *memoryIdempotency) Complete(_ context.Context, restaurantID, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[idempotencyKey(restaurantID, key)] = orderID
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, restaurantID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, idempotencyKey(restaurantID, key))
	return nil
}

type testEnv struct {
	service   *Service
	store     *memoryStore
	gateway   *fakeGateway
	catalog   *fakeCatalog
	events    *recordingPublisher
	idem      *memoryIdempotency
	logOutput *bytes.Buffer
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:     newMemoryStore(),
		gateway:   newFakeGateway(),
		catalog:   newFakeCatalog(),
		events:    &recordingPublisher{},
		idem:      newMemoryIdempotency(),
		logOutput: &bytes.Buffer{},
	}
	env.service = NewService(Dependencies{
		Store:       env.store,
		Catalog:     env.catalog,
		Gateway:     env.gateway,
		Idempotency: env.idem,
		Events:      env.events,
		Retry:       RetryPolicy{Attempts: 3, Backoff: time.Millisecond},
		Logger:      logger.NewWithWriter("order-service-test", &lockedWriter{buf: env.logOutput}),
	})
	return env
}

type lockedWriter struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func cardRequest() *models.CreateOrderRequest {
	return &models.CreateOrderRequest{
		TableNumber:   4,
		Items:         []models.OrderItemRequest{{DishID: "dish-1", Quantity: 2}},
		PaymentMethod: models.MethodCard,
		CustomerName:  "Asha",
		CustomerPhone: "+91 98765-43210",
	}
}
