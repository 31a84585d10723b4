package store

import (
	"context"
	"fmt"

	"order-lifecycle/internal/models"
)

// GetSellerOrder retrieves a seller order by ID
func (s *Store) GetSellerOrder(ctx context.Context, sellerOrderID int64) (*models.SellerOrder, error) {
	var so models.SellerOrder
	err := s.db.GetContext(ctx, &so, "SELECT * FROM seller_orders WHERE id = $1", sellerOrderID)
	if err != nil {
		return nil, notFound(err, "seller order", sellerOrderID)
	}
	return &so, nil
}

// GetSellerOrdersByOrderID retrieves every seller order of an order
func (s *Store) GetSellerOrdersByOrderID(ctx context.Context, orderID int64) ([]models.SellerOrder, error) {
	var sellerOrders []models.SellerOrder
	err := s.db.SelectContext(ctx, &sellerOrders,
		"SELECT * FROM seller_orders WHERE order_id = $1 ORDER BY id", orderID)
	return sellerOrders, err
}

// GetOrderItemsBySellerOrderID retrieves the items grouped under a seller order
func (s *Store) GetOrderItemsBySellerOrderID(ctx context.Context, sellerOrderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE seller_order_id = $1 ORDER BY id", sellerOrderID)
	return items, err
}

// UpdateSellerOrderStatus updates the rollup status of a seller order
func (s *Store) UpdateSellerOrderStatus(ctx context.Context, sellerOrderID int64, status models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE seller_orders SET status = $1, updated_at = NOW() WHERE id = $2",
		string(status), sellerOrderID)
	if err != nil {
		return fmt.Errorf("failed to update seller order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("seller order %d: %w", sellerOrderID, ErrNotFound)
	}
	return nil
}
