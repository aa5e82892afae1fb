package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"restaurant-system/internal/logger"
	"restaurant-system/internal/messaging"
	"restaurant-system/internal/models"
)

// Subscriber prints order event notifications for front-of-house staff
type Subscriber struct {
	consumer *messaging.Consumer
	logger   *logger.Logger
	out      io.Writer
}

// NewSubscriber creates a new notification subscriber
func NewSubscriber(consumer *messaging.Consumer, log *logger.Logger) *Subscriber {
	return &Subscriber{
		consumer: consumer,
		logger:   log,
		out:      os.Stdout,
	}
}

// Start consumes order events until ctx is cancelled
func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info("service_started", "Notification subscriber started", "", nil)

	err := s.consumer.StartConsuming(ctx, s.handleEvent)
	if errors.Is(err, context.Canceled) {
		s.logger.Info("graceful_shutdown", "Notification subscriber stopped", "", nil)
		return nil
	}
	return err
}

func (s *Subscriber) handleEvent(ctx context.Context, body []byte) error {
	requestID := logger.RequestIDFromContext(ctx)

	var event models.OrderEventMessage
	if err := json.Unmarshal(body, &event); err != nil {
		return messaging.Permanent(fmt.Errorf("failed to parse order event: %w", err))
	}
	if event.OrderID == "" {
		return messaging.Permanent(errors.New("order event has no order_id"))
	}

	if _, err := fmt.Fprintln(s.out, formatNotification(&event)); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}

	s.logger.Info("notification_displayed", "Notification displayed", requestID, map[string]interface{}{
		"type":           event.Type,
		"order_id":       event.OrderID,
		"restaurant_id":  event.RestaurantID,
		"old_status":     event.OldStatus,
		"new_status":     event.NewStatus,
		"payment_status": event.PaymentStatus,
		"changed_by":     event.ChangedBy,
	})
	return nil
}

// formatNotification creates a human-readable notification message
func formatNotification(event *models.OrderEventMessage) string {
	timestamp := event.Timestamp.Format("2006-01-02 15:04:05")

	switch event.Type {
	case models.EventOrderCreated:
		return fmt.Sprintf("[%s] New order %s for table %d, total %s (payment %s).",
			timestamp, event.OrderID, event.TableNumber, event.Total, event.PaymentStatus)

	case models.EventPaymentUpdated:
		if event.PaymentStatus == models.PaymentPaid {
			return fmt.Sprintf("[%s] Order %s for table %d is paid (%s).",
				timestamp, event.OrderID, event.TableNumber, event.Total)
		}
		return fmt.Sprintf("[%s] Payment for order %s at table %d is %s.",
			timestamp, event.OrderID, event.TableNumber, event.PaymentStatus)

	case models.EventStatusChanged:
		switch models.OrderStatus(event.NewStatus) {
		case models.StatusPreparing:
			return fmt.Sprintf("[%s] Order %s for table %d is being prepared.", timestamp, event.OrderID, event.TableNumber)
		case models.StatusReady:
			return fmt.Sprintf("[%s] Order %s for table %d is ready to serve.", timestamp, event.OrderID, event.TableNumber)
		case models.StatusServed:
			return fmt.Sprintf("[%s] Order %s for table %d has been served.", timestamp, event.OrderID, event.TableNumber)
		case models.StatusCancelled:
			return fmt.Sprintf("[%s] Order %s for table %d has been cancelled.", timestamp, event.OrderID, event.TableNumber)
		}
	}

	return fmt.Sprintf("[%s] Order %s changed from '%s' to '%s' by %s.",
		timestamp, event.OrderID, event.OldStatus, event.NewStatus, event.ChangedBy)
}
