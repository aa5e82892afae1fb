package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the fulfillment status of an order
type OrderStatus string

const (
	StatusReceived  OrderStatus = "received"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusServed    OrderStatus = "served"
	StatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is one of the known fulfillment statuses
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusPreparing, StatusReady, StatusServed, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus represents the settlement status of an order
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
	PaymentFailed  PaymentStatus = "Failed"
)

// PaymentMethod represents how the customer intends to pay
type PaymentMethod string

const (
	MethodUPI  PaymentMethod = "UPI"
	MethodCard PaymentMethod = "Card"
	MethodCash PaymentMethod = "Cash"
)

// Valid reports whether m is an accepted payment method
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodUPI, MethodCard, MethodCash:
		return true
	}
	return false
}

// ProviderSettled reports whether the method is settled through the payment provider
func (m PaymentMethod) ProviderSettled() bool {
	return m != MethodCash
}

// Dish is the catalog view the order engine needs at intake time
type Dish struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Available    bool            `json:"available"`
}

// OrderItem is a line item with the dish price captured at order time
type OrderItem struct {
	DishID    string          `json:"dish_id" db:"dish_id"`
	DishName  string          `json:"dish_name" db:"dish_name"`
	Quantity  int             `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
}

// Order represents a customer order for one table
type Order struct {
	ID              string          `json:"id" db:"id"`
	RestaurantID    string          `json:"restaurant_id" db:"restaurant_id"`
	TableNumber     int             `json:"table_number" db:"table_number"`
	Items           []OrderItem     `json:"items"`
	Status          OrderStatus     `json:"status" db:"status"`
	Subtotal        decimal.Decimal `json:"subtotal" db:"subtotal"`
	Total           decimal.Decimal `json:"total" db:"total_amount"`
	PaymentMethod   PaymentMethod   `json:"payment_method" db:"payment_method"`
	PaymentStatus   PaymentStatus   `json:"payment_status" db:"payment_status"`
	CustomerName    string          `json:"customer_name" db:"customer_name"`
	CustomerPhone   string          `json:"customer_phone" db:"customer_phone"`
	PaymentIntentID *string         `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// TotalMinorUnits returns the order total in the currency's minor units
func (o *Order) TotalMinorUnits() int64 {
	return o.Total.Shift(2).Round(0).IntPart()
}

// OrderItemRequest is a single line of a checkout request
type OrderItemRequest struct {
	DishID   string `json:"dishId"`
	Quantity int    `json:"quantity"`
}

// CreateOrderRequest represents a checkout submitted by a customer
type CreateOrderRequest struct {
	TableNumber   int                `json:"tableNumber"`
	Items         []OrderItemRequest `json:"items"`
	PaymentMethod PaymentMethod      `json:"paymentMethod"`
	CustomerName  string             `json:"customerName"`
	CustomerPhone string             `json:"customerPhone"`
}

// PaymentIntentResponse is returned when an order is created together with a provider intent
type PaymentIntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	OrderID         string `json:"orderId"`
}

// ConfirmPaymentRequest is sent by the client after the provider checkout completes
type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

// UpdateStatusRequest is sent by staff to move an order along
type UpdateStatusRequest struct {
	Status OrderStatus `json:"status"`
}

// OrderStatusHistory represents an entry in the order status log
type OrderStatusHistory struct {
	Status    OrderStatus `json:"status" db:"status"`
	ChangedBy string      `json:"changed_by" db:"changed_by"`
	ChangedAt time.Time   `json:"timestamp" db:"changed_at"`
	Notes     *string     `json:"notes,omitempty" db:"notes"`
}

// GenerateOrderID generates a human-displayable order id in format ORD-YYYYMMDD-XXXXXXXX
func GenerateOrderID(date time.Time) string {
	suffix := uuid.New()
	return fmt.Sprintf("ORD-%s-%X", date.UTC().Format("20060102"), suffix[:4])
}
