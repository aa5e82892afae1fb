package models

import (
	"time"
)

// OrderEventType names the kind of change carried by an OrderEventMessage
type OrderEventType string

const (
	EventOrderCreated   OrderEventType = "order.created"
	EventStatusChanged  OrderEventType = "order.status_changed"
	EventPaymentUpdated OrderEventType = "order.payment_updated"
)

// OrderEventMessage is published to the order events exchange after a committed change
type OrderEventMessage struct {
	Type          OrderEventType `json:"type"`
	OrderID       string         `json:"order_id"`
	RestaurantID  string         `json:"restaurant_id"`
	TableNumber   int            `json:"table_number"`
	OldStatus     string         `json:"old_status,omitempty"`
	NewStatus     string         `json:"new_status,omitempty"`
	PaymentStatus PaymentStatus  `json:"payment_status"`
	Total         string         `json:"total"`
	ChangedBy     string         `json:"changed_by"`
	Timestamp     time.Time      `json:"timestamp"`
}

// CreateOrderEventMessage builds an event from the current state of an order
func CreateOrderEventMessage(eventType OrderEventType, order *Order, oldStatus, changedBy string) *OrderEventMessage {
	return &OrderEventMessage{
		Type:          eventType,
		OrderID:       order.ID,
		RestaurantID:  order.RestaurantID,
		TableNumber:   order.TableNumber,
		OldStatus:     oldStatus,
		NewStatus:     string(order.Status),
		PaymentStatus: order.PaymentStatus,
		Total:         order.Total.StringFixed(2),
		ChangedBy:     changedBy,
		Timestamp:     time.Now().UTC(),
	}
}
