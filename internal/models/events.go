package models

import "time"

// Event types
const (
	EventTypeOrderStatusChanged     = "ORDER_STATUS_CHANGED"
	EventTypeOrderItemStatusChanged = "ORDER_ITEM_STATUS_CHANGED"
	EventTypeEmailRequested         = "EMAIL_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderStatusChangedEvent published after an order status change commits
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID        int64       `json:"order_id"`
	UserID         int64       `json:"user_id"`
	PreviousStatus OrderStatus `json:"previous_status"`
	CurrentStatus  OrderStatus `json:"current_status"`
	Reason         string      `json:"reason,omitempty"`
	ActorID        *int64      `json:"actor_id,omitempty"`
}

// OrderItemStatusChangedEvent published after an item status change and its rollups
type OrderItemStatusChangedEvent struct {
	BaseEvent
	OrderID             int64       `json:"order_id"`
	OrderItemID         int64       `json:"order_item_id"`
	SellerOrderID       int64       `json:"seller_order_id"`
	ItemStatus          OrderStatus `json:"item_status"`
	SellerOrderStatus   OrderStatus `json:"seller_order_status"`
	OrderStatus         OrderStatus `json:"order_status"`
	SellerOrderRolledUp bool        `json:"seller_order_rolled_up"`
	OrderRolledUp       bool        `json:"order_rolled_up"`
}

// EmailRequestedEvent carries a rendered email to the email worker
type EmailRequestedEvent struct {
	BaseEvent
	To       string `json:"to"`
	Template string `json:"template"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}
