package service

import (
	"context"
	"time"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/worker"

	"github.com/shopspring/decimal"
)

// OrderRepository is the order storage the lifecycle service needs.
// Lookups return store.ErrNotFound (or any error wrapping it) for missing rows.
type OrderRepository interface {
	GetOrderByID(ctx context.Context, orderID int64) (*models.Order, error)
	// UpdateOrderStatusFast is the single-statement write used for hot-path statuses.
	UpdateOrderStatusFast(ctx context.Context, change models.StatusChange) error
	// UpdateOrderStatus is the general transactional write.
	UpdateOrderStatus(ctx context.Context, change models.StatusChange) error
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrderItem(ctx context.Context, itemID int64) (*models.OrderItem, error)
	UpdateOrderItemStatus(ctx context.Context, itemID int64, status models.OrderStatus) error
	GetOrderStatusHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error)
}

// SellerOrderRepository stores seller sub-orders
type SellerOrderRepository interface {
	GetSellerOrder(ctx context.Context, sellerOrderID int64) (*models.SellerOrder, error)
	GetSellerOrdersByOrderID(ctx context.Context, orderID int64) ([]models.SellerOrder, error)
	GetOrderItemsBySellerOrderID(ctx context.Context, sellerOrderID int64) ([]models.OrderItem, error)
	UpdateSellerOrderStatus(ctx context.Context, sellerOrderID int64, status models.OrderStatus) error
}

// UserDirectory resolves notification recipients
type UserDirectory interface {
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]models.User, error)
}

// Wallets adjusts wallet balances. Adjustments for one user are serialised by the implementation.
type Wallets interface {
	GetWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error)
	// AdjustWallet credits (positive) or debits (negative) amount. A non-empty
	// reference already applied makes the call a no-op.
	AdjustWallet(ctx context.Context, userID int64, amount decimal.Decimal, reason, note, reference string) (*models.Wallet, error)
}

// Stock restores inventory for cancelled order items
type Stock interface {
	GetProduct(ctx context.Context, productID int64) (*models.Product, error)
	GetProductVariant(ctx context.Context, variantID int64) (*models.ProductVariant, error)
	// IncrementProductStock adds quantity once per restoration key.
	IncrementProductStock(ctx context.Context, productID int64, quantity int, restorationKey string) error
	// IncrementVariantStock adds quantity once per restoration key.
	IncrementVariantStock(ctx context.Context, variantID int64, quantity int, restorationKey string) error
}

// Notifier persists and delivers notifications. Each call may fail independently.
type Notifier interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	PushRealtime(ctx context.Context, userID int64, n *models.Notification) error
	SendEmail(ctx context.Context, to, template string, data map[string]any) error
}

// EventPublisher publishes order domain events
type EventPublisher interface {
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderItemStatusChanged(ctx context.Context, event *models.OrderItemStatusChangedEvent) error
}

// TaskDispatcher runs side effects without blocking the caller
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task worker.Task) error
}

// OrderLocker serialises status changes of one order when enabled
type OrderLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}
