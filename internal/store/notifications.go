package store

import (
	"context"
	"fmt"

	"order-lifecycle/internal/models"
)

// CreateNotification inserts a notification and fills its ID and creation time
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (user_id, type, message, order_id, read)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return s.db.QueryRowxContext(ctx, query, n.UserID, n.Type, n.Message, n.OrderID, n.Read).
		Scan(&n.ID, &n.CreatedAt)
}

// ListNotificationsByUser retrieves a user's notifications, newest first
func (s *Store) ListNotificationsByUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := "SELECT * FROM notifications WHERE user_id = $1"
	if unreadOnly {
		query += " AND read = FALSE"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $2"

	var notifications []models.Notification
	err := s.db.SelectContext(ctx, &notifications, query, userID, limit)
	return notifications, err
}

// MarkNotificationRead flags a notification as read
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = TRUE WHERE id = $1", notificationID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %d: %w", notificationID, ErrNotFound)
	}
	return nil
}
