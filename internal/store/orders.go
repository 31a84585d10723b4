package store

import (
	"context"
	"fmt"

	"order-lifecycle/internal/models"
)

// Both status writes set the same columns and append the same history row.
// Parameters: $1 order id, $2 new status, $3 reason, $4 previous status, $5 actor id.
const (
	setStatusColumns = `
		status = $2::text,
		updated_at = NOW(),
		cancelled_at = CASE WHEN $2::text = 'cancelled' THEN NOW() ELSE cancelled_at END,
		cancel_reason = CASE WHEN $2::text = 'cancelled' THEN NULLIF($3::text, '') ELSE cancel_reason END`

	fastStatusUpdate = `
		WITH updated AS (
			UPDATE orders SET` + setStatusColumns + `
			WHERE id = $1
			RETURNING id
		)
		INSERT INTO order_status_history (order_id, from_status, to_status, reason, actor_id)
		SELECT id, $4::text, $2::text, NULLIF($3::text, ''), $5::bigint FROM updated`

	generalStatusUpdate = `UPDATE orders SET` + setStatusColumns + `
		WHERE id = $1`

	insertStatusHistory = `
		INSERT INTO order_status_history (order_id, from_status, to_status, reason, actor_id)
		VALUES ($1, $4::text, $2::text, NULLIF($3::text, ''), $5::bigint)`
)

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// UpdateOrderStatusFast writes the status and its history row in one statement
func (s *Store) UpdateOrderStatusFast(ctx context.Context, change models.StatusChange) error {
	res, err := s.db.ExecContext(ctx, fastStatusUpdate, statusArgs(change)...)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %d: %w", change.OrderID, ErrNotFound)
	}
	return nil
}

// UpdateOrderStatus locks the order row and writes the status and its history
// row in a transaction. The write is refused with ErrStaleStatus when the row
// no longer holds change.From.
func (s *Store) UpdateOrderStatus(ctx context.Context, change models.StatusChange) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.GetContext(ctx, &current, "SELECT status FROM orders WHERE id = $1 FOR UPDATE", change.OrderID)
	if err != nil {
		return notFound(err, "order", change.OrderID)
	}
	if models.OrderStatus(current) != change.From {
		return fmt.Errorf("order %d is %s, expected %s: %w", change.OrderID, current, change.From, ErrStaleStatus)
	}

	args := statusArgs(change)

	if _, err := tx.ExecContext(ctx, generalStatusUpdate, args[:3]...); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertStatusHistory, args...); err != nil {
		return fmt.Errorf("failed to record status history: %w", err)
	}

	return tx.Commit()
}

func statusArgs(change models.StatusChange) []any {
	return []any{change.OrderID, string(change.To), change.Reason, string(change.From), change.ActorID}
}

// GetOrderStatusHistory retrieves the status changes of an order, oldest first
func (s *Store) GetOrderStatusHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	var history []models.OrderStatusHistory
	err := s.db.SelectContext(ctx, &history,
		"SELECT * FROM order_status_history WHERE order_id = $1 ORDER BY id", orderID)
	return history, err
}

// GetOrderItem retrieves an order item by ID
func (s *Store) GetOrderItem(ctx context.Context, itemID int64) (*models.OrderItem, error) {
	var item models.OrderItem
	err := s.db.GetContext(ctx, &item, "SELECT * FROM order_items WHERE id = $1", itemID)
	if err != nil {
		return nil, notFound(err, "order item", itemID)
	}
	return &item, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateOrderItemStatus updates the status of a single order item
func (s *Store) UpdateOrderItemStatus(ctx context.Context, itemID int64, status models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE order_items SET status = $1, updated_at = NOW() WHERE id = $2",
		string(status), itemID)
	if err != nil {
		return fmt.Errorf("failed to update order item status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order item %d: %w", itemID, ErrNotFound)
	}
	return nil
}
