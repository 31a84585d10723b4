package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// User is any account the service notifies: buyers, sellers and admins
type User struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// User roles
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Product represents a product in the catalog
type Product struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	Stock     int       `db:"stock" json:"stock"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ProductVariant is a sellable variation of a product with its own stock
type ProductVariant struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	SKU       string    `db:"sku" json:"sku"`
	Stock     int       `db:"stock" json:"stock"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order
type Order struct {
	ID              int64               `db:"id" json:"id"`
	UserID          int64               `db:"user_id" json:"user_id"`
	TotalAmount     decimal.Decimal     `db:"total_amount" json:"total_amount"`
	Status          OrderStatus         `db:"status" json:"status"`
	PaymentMethod   string              `db:"payment_method" json:"payment_method"`
	ShippingAddress types.JSONText      `db:"shipping_address" json:"shipping_address"`
	WalletCoinsUsed decimal.NullDecimal `db:"wallet_coins_used" json:"wallet_coins_used"`
	CancelReason    *string             `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time          `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// CoinsToRefund returns the wallet coins spent on the order, zero when none were used
func (o *Order) CoinsToRefund() decimal.Decimal {
	if !o.WalletCoinsUsed.Valid || !o.WalletCoinsUsed.Decimal.IsPositive() {
		return decimal.Zero
	}
	return o.WalletCoinsUsed.Decimal
}

// OrderItem represents items in an order
type OrderItem struct {
	ID            int64           `db:"id" json:"id"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	SellerOrderID int64           `db:"seller_order_id" json:"seller_order_id"`
	ProductID     int64           `db:"product_id" json:"product_id"`
	VariantID     *int64          `db:"variant_id" json:"variant_id,omitempty"`
	Quantity      int             `db:"quantity" json:"quantity"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	Status        OrderStatus     `db:"status" json:"status"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// SellerOrder groups the items of one order fulfilled by one seller
type SellerOrder struct {
	ID        int64       `db:"id" json:"id"`
	OrderID   int64       `db:"order_id" json:"order_id"`
	SellerID  int64       `db:"seller_id" json:"seller_id"`
	Status    OrderStatus `db:"status" json:"status"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// OrderStatusHistory records one persisted status change
type OrderStatusHistory struct {
	ID         int64       `db:"id" json:"id"`
	OrderID    int64       `db:"order_id" json:"order_id"`
	FromStatus OrderStatus `db:"from_status" json:"from_status"`
	ToStatus   OrderStatus `db:"to_status" json:"to_status"`
	Reason     *string     `db:"reason" json:"reason,omitempty"`
	ActorID    *int64      `db:"actor_id" json:"actor_id,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// Wallet holds a user's spendable coins
type Wallet struct {
	ID        int64           `db:"id" json:"id"`
	UserID    int64           `db:"user_id" json:"user_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// WalletTransaction is a ledger line for one wallet adjustment
type WalletTransaction struct {
	ID        int64           `db:"id" json:"id"`
	WalletID  int64           `db:"wallet_id" json:"wallet_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Reason    string          `db:"reason" json:"reason"`
	Note      string          `db:"note" json:"note"`
	Reference *string         `db:"reference" json:"reference,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Wallet adjustment reasons
const (
	WalletReasonOrderRefund = "order_refund"
	WalletReasonOrderSpend  = "order_spend"
	WalletReasonManual      = "manual"
)

// Notification is an immutable message for a user; only Read changes
type Notification struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Type      string    `db:"type" json:"type"`
	Message   string    `db:"message" json:"message"`
	OrderID   *int64    `db:"order_id" json:"order_id,omitempty"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification types
const (
	NotificationOrderStatus       = "order_status"
	NotificationSellerOrderStatus = "seller_order_status"
	NotificationAdminOrderStatus  = "admin_order_status"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
