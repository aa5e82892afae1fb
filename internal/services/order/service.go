package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"restaurant-system/internal/logger"
	"restaurant-system/internal/models"
	"restaurant-system/internal/payment"
	"restaurant-system/internal/services/order/internal/pricing"
	"restaurant-system/internal/services/order/internal/statemachine"
	"restaurant-system/internal/services/order/internal/validation"
)

const (
	maxOrderIDAttempts = 3
	maxCASAttempts     = 3
	customerActor      = "customer"
)

// Store persists orders and applies conditional status writes
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order, changedBy string) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, restaurantID string) ([]*models.Order, error)
	CurrentStatus(ctx context.Context, orderID string) (models.OrderStatus, error)
	TransitionStatus(ctx context.Context, orderID string, from, to models.OrderStatus, changedBy string) (bool, error)
	AttachPaymentIntent(ctx context.Context, orderID, intentID string) (bool, error)
	SetPaymentStatus(ctx context.Context, orderID string, status models.PaymentStatus) (bool, error)
	GetStatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error)
	RecordPaymentEvent(ctx context.Context, rec PaymentEventRecord) (bool, error)
	Ping(ctx context.Context) error
}

// PaymentGateway is the payment provider contract
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, metadata map[string]string) (*payment.Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*payment.Intent, error)
	VerifyWebhook(payload []byte, signatureHeader string) (*payment.Event, error)
}

// DishCatalog resolves dish references at intake time
type DishCatalog interface {
	GetDish(ctx context.Context, restaurantID, dishID string) (models.Dish, bool, error)
}

// IdempotencyStore maps client checkout keys to the orders they created
type IdempotencyStore interface {
	Reserve(ctx context.Context, restaurantID, key string) (string, bool, error)
	Complete(ctx context.Context, restaurantID, key, orderID string) error
	Release(ctx context.Context, restaurantID, key string) error
}

// EventPublisher announces committed order changes
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEventMessage) error
}

// Dependencies are the collaborators of the order service
type Dependencies struct {
	Store       Store
	Catalog     DishCatalog
	Gateway     PaymentGateway
	Idempotency IdempotencyStore
	Events      EventPublisher
	Retry       RetryPolicy
	Logger      *logger.Logger
}

// Service orchestrates order intake, payment and fulfillment
type Service struct {
	store      Store
	catalog    DishCatalog
	gateway    PaymentGateway
	idem       IdempotencyStore
	events     EventPublisher
	retry      RetryPolicy
	reconciler *Reconciler
	logger     *logger.Logger
	now        func() time.Time
}

// NewService creates a new order service
func NewService(deps Dependencies) *Service {
	return &Service{
		store:      deps.Store,
		catalog:    deps.Catalog,
		gateway:    deps.Gateway,
		idem:       deps.Idempotency,
		events:     deps.Events,
		retry:      deps.Retry,
		reconciler: NewReconciler(deps.Store, deps.Gateway, deps.Events, deps.Retry, deps.Logger),
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// CreateOrder validates, prices and stores a checkout. A repeated idempotency key
// returns the order the first call created.
func (s *Service) CreateOrder(ctx context.Context, restaurantID string, req *models.CreateOrderRequest, idempotencyKey string) (*models.Order, error) {
	return s.intake(ctx, restaurantID, req, idempotencyKey)
}

// CreateOrderWithPaymentIntent stores the order and opens a provider intent for its total
func (s *Service) CreateOrderWithPaymentIntent(ctx context.Context, restaurantID string, req *models.CreateOrderRequest, idempotencyKey string) (*models.PaymentIntentResponse, error) {
	if req.PaymentMethod == models.MethodCash {
		return nil, models.ValidationError{Field: "payment_method", Message: "cash orders do not use a payment intent"}
	}

	order, err := s.intake(ctx, restaurantID, req, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !order.PaymentMethod.ProviderSettled() {
		return nil, models.ValidationError{Field: "payment_method", Message: "idempotency key belongs to a cash order"}
	}

	return s.ensureIntent(ctx, order)
}

// ConfirmPayment applies a client confirm call
func (s *Service) ConfirmPayment(ctx context.Context, restaurantID, orderID, intentID string) error {
	if intentID == "" {
		return models.ValidationError{Field: "payment_intent_id", Message: "is required"}
	}
	return s.reconciler.ConfirmPayment(ctx, restaurantID, orderID, intentID)
}

// HandleProviderWebhook applies a signed provider event
func (s *Service) HandleProviderWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	return s.reconciler.HandleWebhook(ctx, payload, signatureHeader)
}

// ListOrders returns a restaurant's orders, newest first
func (s *Service) ListOrders(ctx context.Context, restaurantID string) ([]*models.Order, error) {
	return s.store.ListOrders(ctx, restaurantID)
}

// GetOrder returns one order of the restaurant
func (s *Service) GetOrder(ctx context.Context, restaurantID, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RestaurantID != restaurantID {
		return nil, models.ErrOrderNotFound
	}
	return order, nil
}

// GetOrderHistory returns the status log of one order of the restaurant
func (s *Service) GetOrderHistory(ctx context.Context, restaurantID, orderID string) ([]models.OrderStatusHistory, error) {
	if _, err := s.GetOrder(ctx, restaurantID, orderID); err != nil {
		return nil, err
	}
	return s.store.GetStatusHistory(ctx, orderID)
}

// RequestStatusTransition moves an order along the fulfillment table. The write is
// a compare-and-swap on the stored status; a lost race is re-checked against the
// status that won.
func (s *Service) RequestStatusTransition(ctx context.Context, restaurantID, orderID string, requested models.OrderStatus, changedBy string) (*models.Order, error) {
	requestID := logger.RequestIDFromContext(ctx)

	if !requested.Valid() {
		return nil, models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", requested)}
	}

	order, err := s.GetOrder(ctx, restaurantID, orderID)
	if err != nil {
		return nil, err
	}

	current := order.Status
	for attempt := 1; ; attempt++ {
		if err := statemachine.Check(current, requested); err != nil {
			s.logger.Debug("transition_rejected", "Status transition rejected", requestID,
				map[string]interface{}{"order_id": orderID, "from": current, "to": requested})
			return nil, err
		}

		ok, err := s.store.TransitionStatus(ctx, orderID, current, requested, changedBy)
		if err != nil {
			s.logger.Error("transition_failed", "Failed to update order status", requestID, err,
				map[string]interface{}{"order_id": orderID})
			return nil, err
		}
		if ok {
			break
		}

		if attempt == maxCASAttempts {
			return nil, models.InvalidTransitionError{From: current, To: requested}
		}
		if current, err = s.store.CurrentStatus(ctx, orderID); err != nil {
			return nil, err
		}
	}

	old := current
	order.Status = requested
	order.UpdatedAt = s.now().UTC()

	s.logger.Info("order_status_changed", "Order status changed", requestID, map[string]interface{}{
		"order_id":   orderID,
		"from":       old,
		"to":         requested,
		"changed_by": changedBy,
	})
	publish(ctx, s.events, s.logger, models.CreateOrderEventMessage(models.EventStatusChanged, order, string(old), changedBy))

	return order, nil
}

// RecordCashPayment marks a cash order Paid when staff collect the money
func (s *Service) RecordCashPayment(ctx context.Context, restaurantID, orderID, changedBy string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, restaurantID, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.reconciler.MarkCashPaid(ctx, order, changedBy); err != nil {
		return nil, err
	}
	return order, nil
}

// HealthCheck checks the health of the store
func (s *Service) HealthCheck(ctx context.Context) bool {
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("health_check_failed", "Database ping failed", "", err, nil)
		return false
	}
	return true
}

// intake runs the shared checkout path
func (s *Service) intake(ctx context.Context, restaurantID string, req *models.CreateOrderRequest, idempotencyKey string) (order *models.Order, err error) {
	requestID := logger.RequestIDFromContext(ctx)

	if err := validation.ValidateOrderRequest(req); err != nil {
		s.logger.Debug("validation_failed", "Order request rejected", requestID,
			map[string]interface{}{"reason": err.Error()})
		return nil, err
	}

	if idempotencyKey != "" && s.idem != nil {
		existingID, reserved, resErr := s.idem.Reserve(ctx, restaurantID, idempotencyKey)
		if resErr != nil {
			return nil, resErr
		}
		if !reserved {
			existing, getErr := s.GetOrder(ctx, restaurantID, existingID)
			if getErr != nil {
				return nil, getErr
			}
			s.logger.Info("order_replayed", "Returning order for repeated idempotency key", requestID,
				map[string]interface{}{"order_id": existingID})
			return existing, nil
		}

		// reads the named results, so nothing below may shadow err
		defer func() {
			if err != nil || order == nil {
				if relErr := s.idem.Release(context.WithoutCancel(ctx), restaurantID, idempotencyKey); relErr != nil {
					s.logger.Warn("idempotency_release_failed", "Failed to release idempotency key", requestID,
						map[string]interface{}{"error": relErr.Error()})
				}
				return
			}
			if cErr := s.idem.Complete(context.WithoutCancel(ctx), restaurantID, idempotencyKey, order.ID); cErr != nil {
				s.logger.Warn("idempotency_complete_failed", "Failed to store idempotency key", requestID,
					map[string]interface{}{"error": cErr.Error(), "order_id": order.ID})
			}
		}()
	}

	order, err = s.buildOrder(ctx, restaurantID, req)
	if err != nil {
		return nil, err
	}

	if err = s.persist(ctx, order); err != nil {
		s.logger.Error("order_creation_failed", "Failed to store order", requestID, err,
			map[string]interface{}{"restaurant_id": restaurantID})
		return nil, err
	}

	s.logger.Info("order_created", "Order created", requestID, map[string]interface{}{
		"order_id":       order.ID,
		"restaurant_id":  restaurantID,
		"table_number":   order.TableNumber,
		"total":          order.Total.StringFixed(2),
		"payment_method": order.PaymentMethod,
	})
	publish(ctx, s.events, s.logger, models.CreateOrderEventMessage(models.EventOrderCreated, order, "", customerActor))

	return order, nil
}

// buildOrder resolves every dish and snapshots its price
func (s *Service) buildOrder(ctx context.Context, restaurantID string, req *models.CreateOrderRequest) (*models.Order, error) {
	items := make([]models.OrderItem, 0, len(req.Items))
	for i, line := range req.Items {
		field := fmt.Sprintf("items[%d].dish_id", i)

		dish, found, err := s.catalog.GetDish(ctx, restaurantID, line.DishID)
		if err != nil {
			return nil, fmt.Errorf("resolve dish %s: %w", line.DishID, err)
		}
		if !found {
			return nil, models.ValidationError{Field: field, Message: fmt.Sprintf("dish %q does not exist", line.DishID)}
		}
		if !dish.Available {
			return nil, models.ValidationError{Field: field, Message: fmt.Sprintf("dish %q is not available", dish.Name)}
		}

		items = append(items, models.OrderItem{
			DishID:    dish.ID,
			DishName:  dish.Name,
			Quantity:  line.Quantity,
			UnitPrice: dish.Price,
		})
	}

	breakdown := pricing.Calculate(items)

	return &models.Order{
		RestaurantID:  restaurantID,
		TableNumber:   req.TableNumber,
		Items:         items,
		Status:        statemachine.Initial,
		Subtotal:      breakdown.Subtotal,
		Total:         breakdown.Total,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: models.PaymentPending,
		CustomerName:  req.CustomerName,
		CustomerPhone: validation.NormalizePhone(req.CustomerPhone),
	}, nil
}

// persist stores the order under a fresh id, regenerating it on collision
func (s *Service) persist(ctx context.Context, order *models.Order) error {
	var err error
	for i := 0; i < maxOrderIDAttempts; i++ {
		order.ID = models.GenerateOrderID(s.now())
		if err = s.store.CreateOrder(ctx, order, customerActor); !errors.Is(err, errDuplicateOrderID) {
			return err
		}
	}
	return err
}

// ensureIntent returns the order's provider intent, creating and attaching one if needed
func (s *Service) ensureIntent(ctx context.Context, order *models.Order) (*models.PaymentIntentResponse, error) {
	requestID := logger.RequestIDFromContext(ctx)

	if order.PaymentIntentID != nil {
		intent, err := s.retrieveIntent(ctx, *order.PaymentIntentID)
		if err != nil {
			return nil, err
		}
		return &models.PaymentIntentResponse{ClientSecret: intent.ClientSecret, PaymentIntentID: intent.ID, OrderID: order.ID}, nil
	}

	metadata := map[string]string{
		payment.MetaOrderID:       order.ID,
		payment.MetaRestaurantID:  order.RestaurantID,
		payment.MetaCustomerName:  order.CustomerName,
		payment.MetaCustomerPhone: order.CustomerPhone,
		payment.MetaTableNumber:   strconv.Itoa(order.TableNumber),
	}

	var intent *payment.Intent
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.CreateIntent(ctx, order.TotalMinorUnits(), metadata)
		return err
	})
	if err != nil {
		s.logger.Error("payment_intent_failed", "Failed to create payment intent", requestID, err,
			map[string]interface{}{"order_id": order.ID})
		return nil, err
	}

	attached, err := s.store.AttachPaymentIntent(ctx, order.ID, intent.ID)
	if err != nil {
		return nil, err
	}
	if !attached {
		// a concurrent replay attached its own intent first
		current, err := s.store.GetOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current.PaymentIntentID == nil {
			return nil, fmt.Errorf("order %s has no payment intent after attach", order.ID)
		}
		return s.ensureIntent(ctx, current)
	}
	order.PaymentIntentID = &intent.ID

	s.logger.Info("payment_intent_created", "Payment intent created", requestID, map[string]interface{}{
		"order_id":     order.ID,
		"intent_id":    intent.ID,
		"amount_minor": intent.AmountMinor,
	})

	return &models.PaymentIntentResponse{ClientSecret: intent.ClientSecret, PaymentIntentID: intent.ID, OrderID: order.ID}, nil
}

func (s *Service) retrieveIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	var intent *payment.Intent
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.RetrieveIntent(ctx, intentID)
		return err
	})
	return intent, err
}

// publish sends an event after the change is committed. Failures are logged only.
func publish(ctx context.Context, events EventPublisher, log *logger.Logger, event *models.OrderEventMessage) {
	if events == nil {
		return
	}
	if err := events.PublishOrderEvent(ctx, event); err != nil {
		log.Error("event_publish_failed", "Failed to publish order event", logger.RequestIDFromContext(ctx), err,
			map[string]interface{}{"order_id": event.OrderID, "type": event.Type})
	}
}
