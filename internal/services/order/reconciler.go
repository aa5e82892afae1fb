package order

import (
	"context"
	"errors"
	"fmt"

	"restaurant-system/internal/logger"
	"restaurant-system/internal/models"
	"restaurant-system/internal/payment"
)

// Outcomes recorded in the payment event audit
const (
	outcomeApplied       = "applied"
	outcomeNoOp          = "no_op"
	outcomeUnknownOrder  = "unknown_order"
	outcomeMissingOrder  = "missing_order_metadata"
	outcomeMismatch      = "mismatch"
	outcomeIgnoredStatus = "ignored"
)

// Reconciler merges payment updates from the confirm call, provider webhooks and
// cash settlement into one monotonic payment status per order.
type Reconciler struct {
	store   Store
	gateway PaymentGateway
	events  EventPublisher
	retry   RetryPolicy
	logger  *logger.Logger
}

// NewReconciler creates a payment reconciler
func NewReconciler(store Store, gateway PaymentGateway, events EventPublisher, retry RetryPolicy, log *logger.Logger) *Reconciler {
	return &Reconciler{store: store, gateway: gateway, events: events, retry: retry, logger: log}
}

// ConfirmPayment handles the client confirm call. The intent is looked up at the
// provider and must belong to the order before Paid is written. Repeating a
// successful confirm is a no-op.
func (r *Reconciler) ConfirmPayment(ctx context.Context, restaurantID, orderID, intentID string) error {
	requestID := logger.RequestIDFromContext(ctx)

	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.RestaurantID != restaurantID {
		return models.ErrOrderNotFound
	}
	if !order.PaymentMethod.ProviderSettled() {
		return fmt.Errorf("%w: cash orders are not settled through the payment provider", models.ErrPaymentMismatch)
	}

	var intent *payment.Intent
	err = r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		intent, err = r.gateway.RetrieveIntent(ctx, intentID)
		return err
	})
	if err != nil {
		return err
	}

	if err := matchIntent(order, intent); err != nil {
		r.logger.Warn("payment_mismatch", "Confirm call references an intent that does not belong to the order", requestID,
			map[string]interface{}{"order_id": orderID, "intent_id": intentID, "reason": err.Error()})
		return err
	}

	if intent.Status != payment.IntentSucceeded {
		return fmt.Errorf("%w: intent status is %s", models.ErrPaymentIncomplete, intent.Status)
	}

	if err := r.bindIntent(ctx, order, intent); err != nil {
		if errors.Is(err, models.ErrPaymentMismatch) {
			r.logger.Warn("payment_mismatch", "Order is already bound to another intent", requestID,
				map[string]interface{}{"order_id": orderID, "intent_id": intentID, "reason": err.Error()})
		}
		return err
	}

	_, err = r.apply(ctx, order, models.PaymentPaid, "customer")
	return err
}

// HandleWebhook verifies and applies a provider event. Only signature failures and
// store or provider errors are returned; events that cannot be matched to an order
// are acknowledged so the provider stops redelivering them.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	requestID := logger.RequestIDFromContext(ctx)

	event, err := r.gateway.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		r.logger.Warn("webhook_rejected", "Webhook signature verification failed", requestID,
			map[string]interface{}{"reason": err.Error()})
		return err
	}

	var target models.PaymentStatus
	switch event.Type {
	case payment.EventIntentSucceeded:
		target = models.PaymentPaid
	case payment.EventIntentFailed:
		target = models.PaymentFailed
	default:
		r.logger.Debug("webhook_ignored", "Ignoring unhandled webhook event type", requestID,
			map[string]interface{}{"event_id": event.ID, "event_type": event.Type})
		return nil
	}

	record := PaymentEventRecord{EventID: event.ID, EventType: event.Type}
	if event.Intent == nil {
		return r.audit(ctx, record, outcomeIgnoredStatus)
	}
	record.IntentID = event.Intent.ID

	orderID := event.Intent.OrderID()
	if orderID == "" {
		r.logger.Warn("webhook_unmatched", "Payment intent carries no order id", requestID,
			map[string]interface{}{"event_id": event.ID, "intent_id": event.Intent.ID})
		return r.audit(ctx, record, outcomeMissingOrder)
	}
	record.OrderID = orderID

	order, err := r.store.GetOrder(ctx, orderID)
	if errors.Is(err, models.ErrOrderNotFound) {
		r.logger.Warn("webhook_unmatched", "Webhook references an unknown order", requestID,
			map[string]interface{}{"event_id": event.ID, "order_id": orderID})
		return r.audit(ctx, record, outcomeUnknownOrder)
	}
	if err != nil {
		return err
	}

	if err := matchIntent(order, event.Intent); err != nil {
		r.logger.Warn("payment_mismatch", "Webhook intent does not match the stored order", requestID,
			map[string]interface{}{"event_id": event.ID, "order_id": orderID, "reason": err.Error()})
		return r.audit(ctx, record, outcomeMismatch)
	}

	if err := r.bindIntent(ctx, order, event.Intent); err != nil {
		if errors.Is(err, models.ErrPaymentMismatch) {
			r.logger.Warn("payment_mismatch", "Order is already bound to another intent", requestID,
				map[string]interface{}{"event_id": event.ID, "order_id": orderID, "reason": err.Error()})
			return r.audit(ctx, record, outcomeMismatch)
		}
		return err
	}

	changed, err := r.apply(ctx, order, target, "payment-provider")
	if err != nil {
		return err
	}

	outcome := outcomeNoOp
	if changed {
		outcome = outcomeApplied
	}
	return r.audit(ctx, record, outcome)
}

// MarkCashPaid settles a cash order at the counter
func (r *Reconciler) MarkCashPaid(ctx context.Context, order *models.Order, changedBy string) (bool, error) {
	if order.PaymentMethod != models.MethodCash {
		return false, models.ValidationError{Field: "payment_method", Message: "only cash orders can be settled at the counter"}
	}
	return r.apply(ctx, order, models.PaymentPaid, changedBy)
}

// apply performs the single conditional write and publishes the change when a row moved
func (r *Reconciler) apply(ctx context.Context, order *models.Order, target models.PaymentStatus, changedBy string) (bool, error) {
	requestID := logger.RequestIDFromContext(ctx)

	changed, err := r.store.SetPaymentStatus(ctx, order.ID, target)
	if err != nil {
		r.logger.Error("payment_update_failed", "Failed to update payment status", requestID, err,
			map[string]interface{}{"order_id": order.ID, "target": target})
		return false, err
	}

	if !changed {
		r.logger.Debug("payment_update_skipped", "Payment status already settled", requestID,
			map[string]interface{}{"order_id": order.ID, "target": target, "previous": order.PaymentStatus})
		return false, nil
	}

	previous := order.PaymentStatus
	order.PaymentStatus = target
	r.logger.Info("payment_status_updated", "Payment status updated", requestID,
		map[string]interface{}{"order_id": order.ID, "from": previous, "to": target, "changed_by": changedBy})

	publish(ctx, r.events, r.logger, models.CreateOrderEventMessage(models.EventPaymentUpdated, order, "", changedBy))
	return true, nil
}

// bindIntent stores the intent id on orders that were created before the intent was attached.
// When another intent was attached first the order is re-read and checked against it.
func (r *Reconciler) bindIntent(ctx context.Context, order *models.Order, intent *payment.Intent) error {
	if order.PaymentIntentID != nil {
		return nil
	}
	attached, err := r.store.AttachPaymentIntent(ctx, order.ID, intent.ID)
	if err != nil {
		return err
	}
	if attached {
		order.PaymentIntentID = &intent.ID
		return nil
	}

	stored, err := r.store.GetOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	*order = *stored
	if order.PaymentIntentID == nil {
		return fmt.Errorf("%w: intent %s could not be bound", models.ErrPaymentMismatch, intent.ID)
	}
	return matchIntent(order, intent)
}

func (r *Reconciler) audit(ctx context.Context, record PaymentEventRecord, outcome string) error {
	record.Outcome = outcome
	fresh, err := r.store.RecordPaymentEvent(ctx, record)
	if err != nil {
		r.logger.Error("payment_event_audit_failed", "Failed to record webhook event", logger.RequestIDFromContext(ctx), err,
			map[string]interface{}{"event_id": record.EventID})
		return err
	}
	if !fresh {
		r.logger.Debug("webhook_duplicate", "Webhook event already recorded", logger.RequestIDFromContext(ctx),
			map[string]interface{}{"event_id": record.EventID, "outcome": outcome})
	}
	return nil
}

// matchIntent cross-checks an intent against the stored order
func matchIntent(order *models.Order, intent *payment.Intent) error {
	if intent.OrderID() != order.ID {
		return fmt.Errorf("%w: intent is bound to order %q", models.ErrPaymentMismatch, intent.OrderID())
	}
	if rid, ok := intent.Metadata[payment.MetaRestaurantID]; ok && rid != order.RestaurantID {
		return fmt.Errorf("%w: intent is bound to another restaurant", models.ErrPaymentMismatch)
	}
	if order.PaymentIntentID != nil && *order.PaymentIntentID != intent.ID {
		return fmt.Errorf("%w: order is bound to a different intent", models.ErrPaymentMismatch)
	}
	if intent.AmountMinor != order.TotalMinorUnits() {
		return fmt.Errorf("%w: intent amount %d differs from order total %d",
			models.ErrPaymentMismatch, intent.AmountMinor, order.TotalMinorUnits())
	}
	return nil
}
