package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"restaurant-system/internal/database"
	"restaurant-system/internal/models"
)

// errDuplicateOrderID is returned by CreateOrder when the generated id is already taken
var errDuplicateOrderID = errors.New("order id already exists")

const uniqueViolation = "23505"

// PaymentEventRecord is one audited webhook decision
type PaymentEventRecord struct {
	EventID   string
	EventType string
	OrderID   string
	IntentID  string
	Outcome   string
}

// Repository persists orders in PostgreSQL
type Repository struct {
	db database.Querier
}

// NewRepository creates a repository over a pool or transaction-capable querier
func NewRepository(db database.Querier) *Repository {
	return &Repository{db: db}
}

// CreateOrder inserts the order, its line items and the initial status log row in one transaction
func (r *Repository) CreateOrder(ctx context.Context, order *models.Order, changedBy string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, database.InsertOrderSQL,
		order.ID,
		order.RestaurantID,
		order.TableNumber,
		string(order.Status),
		order.Subtotal.StringFixed(2),
		order.Total.StringFixed(2),
		string(order.PaymentMethod),
		string(order.PaymentStatus),
		order.CustomerName,
		order.CustomerPhone,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errDuplicateOrderID
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.Exec(ctx, database.InsertOrderItemSQL,
			order.ID, item.DishID, item.DishName, item.Quantity, item.UnitPrice.StringFixed(2))
		if err != nil {
			return fmt.Errorf("insert order item %s: %w", item.DishID, err)
		}
	}

	notes := "order placed"
	if _, err = tx.Exec(ctx, database.InsertOrderStatusLogSQL, order.ID, string(order.Status), changedBy, &notes); err != nil {
		return fmt.Errorf("insert initial status: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}

	return nil
}

// GetOrder loads one order with its line items
func (r *Repository) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, database.GetOrderByIDSQL, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("query order: %w", err)
	}

	if err = r.loadItems(ctx, []*models.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

// ListOrders returns the restaurant's orders, newest first
func (r *Repository) ListOrders(ctx context.Context, restaurantID string) ([]*models.Order, error) {
	rows, err := r.db.Query(ctx, database.ListOrdersByRestaurantSQL, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	if err = r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *Repository) loadItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[string]*models.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		o.Items = make([]models.OrderItem, 0)
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db.Query(ctx, database.GetOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID   string
			item      models.OrderItem
			unitPrice string
		)
		if err := rows.Scan(&orderID, &item.DishID, &item.DishName, &item.Quantity, &unitPrice); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return fmt.Errorf("parse unit price %q: %w", unitPrice, err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	if err = rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}
	return nil
}

// CurrentStatus reads the stored lifecycle status
func (r *Repository) CurrentStatus(ctx context.Context, orderID string) (models.OrderStatus, error) {
	var status string
	if err := r.db.QueryRow(ctx, database.GetOrderStatusSQL, orderID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.ErrOrderNotFound
		}
		return "", fmt.Errorf("query order status: %w", err)
	}
	return models.OrderStatus(status), nil
}

// TransitionStatus moves the order from -> to only if the stored status still equals from.
// It reports false without error when the compare fails.
func (r *Repository) TransitionStatus(ctx context.Context, orderID string, from, to models.OrderStatus, changedBy string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, database.TransitionOrderStatusSQL, orderID, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	notes := fmt.Sprintf("%s -> %s", from, to)
	if _, err = tx.Exec(ctx, database.InsertOrderStatusLogSQL, orderID, string(to), changedBy, &notes); err != nil {
		return false, fmt.Errorf("insert status log: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit status change: %w", err)
	}
	return true, nil
}

// AttachPaymentIntent binds a provider intent to an order that has none yet
func (r *Repository) AttachPaymentIntent(ctx context.Context, orderID, intentID string) (bool, error) {
	tag, err := r.db.Exec(ctx, database.AttachPaymentIntentSQL, orderID, intentID)
	if err != nil {
		return false, fmt.Errorf("attach payment intent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetPaymentStatus applies a monotonic payment status write. Paid overwrites anything but Paid,
// Failed only overwrites Pending. It reports whether a row changed.
func (r *Repository) SetPaymentStatus(ctx context.Context, orderID string, status models.PaymentStatus) (bool, error) {
	var query string
	switch status {
	case models.PaymentPaid:
		query = database.MarkPaymentPaidSQL
	case models.PaymentFailed:
		query = database.MarkPaymentFailedSQL
	default:
		return false, fmt.Errorf("payment status %q cannot be written", status)
	}

	tag, err := r.db.Exec(ctx, query, orderID)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetStatusHistory returns the status log of an order in the order it was written
func (r *Repository) GetStatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error) {
	if _, err := r.CurrentStatus(ctx, orderID); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, database.GetOrderStatusHistorySQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	history := make([]models.OrderStatusHistory, 0)
	for rows.Next() {
		var (
			entry  models.OrderStatusHistory
			status string
		)
		if err := rows.Scan(&status, &entry.ChangedBy, &entry.ChangedAt, &entry.Notes); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		entry.Status = models.OrderStatus(status)
		history = append(history, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}

	return history, nil
}

// RecordPaymentEvent audits a webhook decision. It reports false when the event id was already recorded.
func (r *Repository) RecordPaymentEvent(ctx context.Context, rec PaymentEventRecord) (bool, error) {
	tag, err := r.db.Exec(ctx, database.InsertPaymentEventSQL,
		rec.EventID, rec.EventType, nullable(rec.OrderID), nullable(rec.IntentID), rec.Outcome)
	if err != nil {
		return false, fmt.Errorf("record payment event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Ping checks the store connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var status, method, paymentStatus, subtotal, total string
	err := row.Scan(
		&order.ID,
		&order.RestaurantID,
		&order.TableNumber,
		&status,
		&subtotal,
		&total,
		&method,
		&paymentStatus,
		&order.CustomerName,
		&order.CustomerPhone,
		&order.PaymentIntentID,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Status = models.OrderStatus(status)
	order.PaymentMethod = models.PaymentMethod(method)
	order.PaymentStatus = models.PaymentStatus(paymentStatus)
	if order.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("parse subtotal %q: %w", subtotal, err)
	}
	if order.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total %q: %w", total, err)
	}

	return &order, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
