package database

// Migration bookkeeping
const (
	RecordMigrationSQL = `INSERT INTO schema_migrations (migration_name) VALUES ($1)`
)

// Order queries. Money columns are exchanged as text to keep exact decimal values.
const (
	InsertOrderSQL = `
		INSERT INTO orders (id, restaurant_id, table_number, status, subtotal, total_amount,
			payment_method, payment_status, customer_name, customer_phone)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	InsertOrderItemSQL = `
		INSERT INTO order_items (order_id, dish_id, dish_name, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5::numeric)`

	InsertOrderStatusLogSQL = `
		INSERT INTO order_status_log (order_id, status, changed_by, notes)
		VALUES ($1, $2, $3, $4)`

	GetOrderByIDSQL = `
		SELECT id, restaurant_id, table_number, status, subtotal::text, total_amount::text,
			payment_method, payment_status, customer_name, customer_phone, payment_intent_id,
			created_at, updated_at
		FROM orders WHERE id = $1`

	ListOrdersByRestaurantSQL = `
		SELECT id, restaurant_id, table_number, status, subtotal::text, total_amount::text,
			payment_method, payment_status, customer_name, customer_phone, payment_intent_id,
			created_at, updated_at
		FROM orders WHERE restaurant_id = $1
		ORDER BY created_at DESC`

	GetOrderItemsSQL = `
		SELECT order_id, dish_id, dish_name, quantity, unit_price::text
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id ASC`

	GetOrderStatusSQL = `SELECT status FROM orders WHERE id = $1`

	GetOrderStatusHistorySQL = `
		SELECT status, changed_by, changed_at, notes
		FROM order_status_log
		WHERE order_id = $1
		ORDER BY changed_at ASC, id ASC`

	// TransitionOrderStatusSQL only applies while the stored status still equals the expected one
	TransitionOrderStatusSQL = `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	AttachPaymentIntentSQL = `
		UPDATE orders SET payment_intent_id = $2, updated_at = NOW()
		WHERE id = $1 AND payment_intent_id IS NULL`

	// MarkPaymentPaidSQL never touches an order that is already Paid
	MarkPaymentPaidSQL = `
		UPDATE orders SET payment_status = 'Paid', updated_at = NOW()
		WHERE id = $1 AND payment_status <> 'Paid'`

	// MarkPaymentFailedSQL only moves orders that are still Pending
	MarkPaymentFailedSQL = `
		UPDATE orders SET payment_status = 'Failed', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'Pending'`
)

// Payment event audit queries
const (
	InsertPaymentEventSQL = `
		INSERT INTO payment_events (event_id, event_type, order_id, intent_id, outcome)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`
)

// Catalog queries
const (
	GetDishSQL = `
		SELECT id, restaurant_id, name, price::text, available
		FROM dishes WHERE id = $1 AND restaurant_id = $2`
)
