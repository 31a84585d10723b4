package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/util"
	"order-lifecycle/internal/worker"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Side-effect task names, used in logs and metric labels
const (
	TaskWalletRefund      = "wallet_refund"
	TaskRestoreStock      = "restore_stock"
	TaskRestoreItemStock  = "restore_item_stock"
	TaskNotifyBuyer       = "notify_buyer"
	TaskNotifyAdmins      = "notify_admins"
	TaskNotifyAdmin       = "notify_admin"
	TaskNotifySeller      = "notify_seller"
	TaskPublishOrderEvent = "publish_order_event"
	TaskPublishItemEvent  = "publish_item_event"
)

// Email templates rendered by the notifier
const (
	EmailOrderStatus       = "order_status"
	EmailSellerOrderStatus = "seller_order_status"
)

// RefundReference is the wallet transaction reference of a cancellation refund
func RefundReference(orderID int64) string {
	return fmt.Sprintf("order:%d:cancel-refund", orderID)
}

// StockRestorationKey identifies the stock restoration of one cancelled item
func StockRestorationKey(itemID int64) string {
	return fmt.Sprintf("order-item:%d:cancel", itemID)
}

// SideEffects turns committed status changes into dispatched tasks
type SideEffects struct {
	orders     OrderRepository
	users      UserDirectory
	wallets    Wallets
	stock      Stock
	notifier   Notifier
	events     EventPublisher
	dispatcher TaskDispatcher
	logger     *zap.Logger
}

// NewSideEffects creates the side-effect planner
func NewSideEffects(deps Dependencies) *SideEffects {
	return &SideEffects{
		orders:     deps.Orders,
		users:      deps.Users,
		wallets:    deps.Wallets,
		stock:      deps.Stock,
		notifier:   deps.Notifier,
		events:     deps.Events,
		dispatcher: deps.Dispatcher,
		logger:     util.GetLogger(),
	}
}

// OrderStatusChanged dispatches the side effects of a committed order status change
func (e *SideEffects) OrderStatusChanged(ctx context.Context, order *models.Order, change models.StatusChange) {
	if change.To == models.StatusCancelled {
		if coins := order.CoinsToRefund(); coins.IsPositive() {
			e.dispatch(ctx, e.refundTask(order.ID, order.UserID, coins))
		}
		e.dispatch(ctx, e.restoreStockTask(order.ID))
	}

	e.dispatch(ctx, e.notifyBuyerTask(order.ID, order.UserID, change.To))
	e.dispatch(ctx, e.notifyAdminsTask(order.ID, change))

	if e.events != nil {
		e.dispatch(ctx, e.orderEventTask(order.UserID, change))
	}
}

// ItemRollup describes the outcome of one item status change
type ItemRollup struct {
	Order               *models.Order
	Item                *models.OrderItem
	SellerOrder         *models.SellerOrder
	SellerOrderRolledUp bool
	// OrderChange is set when the order status followed its seller orders.
	OrderChange *models.StatusChange
}

// ItemStatusChanged dispatches the notifications and events of an item status change
func (e *SideEffects) ItemStatusChanged(ctx context.Context, rollup ItemRollup) {
	if rollup.SellerOrderRolledUp {
		e.dispatch(ctx, e.notifySellerTask(rollup.SellerOrder))
	}

	if rollup.OrderChange != nil {
		e.dispatch(ctx, e.notifyBuyerTask(rollup.Order.ID, rollup.Order.UserID, rollup.OrderChange.To))
		if e.events != nil {
			e.dispatch(ctx, e.orderEventTask(rollup.Order.UserID, *rollup.OrderChange))
		}
	}

	if e.events != nil {
		e.dispatch(ctx, e.itemEventTask(rollup))
	}
}

func (e *SideEffects) dispatch(ctx context.Context, task worker.Task) {
	if err := e.dispatcher.Dispatch(ctx, task); err != nil {
		e.logger.Error("Failed to dispatch side-effect task",
			zap.String("task", task.Name),
			zap.Int64("order_id", task.OrderID),
			zap.Error(err))
	}
}

// fanOut dispatches the children not accepted by an earlier attempt of the
// parent task, so a retried parent never starts a child twice. Any rejected
// child fails the parent.
func (e *SideEffects) fanOut(ctx context.Context, children map[int64]worker.Task, accepted map[int64]bool) error {
	var errs []error
	for id, task := range children {
		if accepted[id] {
			continue
		}
		if err := e.dispatcher.Dispatch(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("%s %d: %w", task.Name, id, err))
			continue
		}
		accepted[id] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to dispatch %d of %d tasks: %w", len(errs), len(children), errors.Join(errs...))
	}
	return nil
}

// refundTask credits the coins spent on a cancelled order back to its buyer.
// The reference makes retries safe.
func (e *SideEffects) refundTask(orderID, userID int64, coins decimal.Decimal) worker.Task {
	return worker.Task{
		Name:    TaskWalletRefund,
		OrderID: orderID,
		Run: func(ctx context.Context) error {
			wallet, err := e.wallets.AdjustWallet(ctx, userID, coins,
				models.WalletReasonOrderRefund,
				fmt.Sprintf("Refund for cancelled order #%d", orderID),
				RefundReference(orderID))
			if err != nil {
				util.WalletRefundsTotal.WithLabelValues("failed").Inc()
				return fmt.Errorf("failed to refund wallet coins: %w", err)
			}

			util.WalletRefundsTotal.WithLabelValues("success").Inc()
			e.logger.Info("Wallet coins refunded",
				zap.Int64("order_id", orderID),
				zap.Int64("user_id", userID),
				zap.String("amount", coins.String()),
				zap.String("balance", wallet.Balance.String()))
			return nil
		},
	}
}

// restoreStockTask loads the order items and restores each one in its own
// task, so one failing item never blocks the others.
func (e *SideEffects) restoreStockTask(orderID int64) worker.Task {
	accepted := make(map[int64]bool)
	return worker.Task{
		Name:    TaskRestoreStock,
		OrderID: orderID,
		Run: func(ctx context.Context) error {
			items, err := e.orders.GetOrderItemsByOrderID(ctx, orderID)
			if err != nil {
				return fmt.Errorf("failed to get order items: %w", err)
			}
			children := make(map[int64]worker.Task, len(items))
			for i := range items {
				children[items[i].ID] = e.restoreItemTask(orderID, items[i])
			}
			return e.fanOut(ctx, children, accepted)
		},
	}
}

func (e *SideEffects) restoreItemTask(orderID int64, item models.OrderItem) worker.Task {
	return worker.Task{
		Name:    TaskRestoreItemStock,
		OrderID: orderID,
		Run: func(ctx context.Context) error {
			target, err := e.restoreItem(ctx, item)
			if err != nil {
				util.StockRestorationsTotal.WithLabelValues(target, "failed").Inc()
				return fmt.Errorf("failed to restore stock for order item %d: %w", item.ID, err)
			}
			util.StockRestorationsTotal.WithLabelValues(target, "success").Inc()
			return nil
		},
	}
}

// restoreItem increments the variant when the item names one, else the product
func (e *SideEffects) restoreItem(ctx context.Context, item models.OrderItem) (string, error) {
	key := StockRestorationKey(item.ID)

	if item.VariantID != nil {
		if _, err := e.stock.GetProductVariant(ctx, *item.VariantID); err != nil {
			return "variant", err
		}
		return "variant", e.stock.IncrementVariantStock(ctx, *item.VariantID, item.Quantity, key)
	}

	if _, err := e.stock.GetProduct(ctx, item.ProductID); err != nil {
		return "product", err
	}
	return "product", e.stock.IncrementProductStock(ctx, item.ProductID, item.Quantity, key)
}

// Notification tasks are not retried: each channel is attempted once and
// its failure logged on its own, so a retry would duplicate the channels
// that did succeed.

func (e *SideEffects) notifyBuyerTask(orderID, buyerID int64, status models.OrderStatus) worker.Task {
	return worker.Task{
		Name:        TaskNotifyBuyer,
		OrderID:     orderID,
		MaxAttempts: 1,
		Run: func(ctx context.Context) error {
			n := &models.Notification{
				UserID:  buyerID,
				Type:    models.NotificationOrderStatus,
				Message: fmt.Sprintf("Your order #%d is now %s", orderID, status),
				OrderID: &orderID,
			}
			return e.deliver(ctx, orderID, n, EmailOrderStatus, map[string]any{
				"OrderID": orderID,
				"Status":  string(status),
			})
		},
	}
}

// notifyAdminsTask fans out one independent task per admin
func (e *SideEffects) notifyAdminsTask(orderID int64, change models.StatusChange) worker.Task {
	accepted := make(map[int64]bool)
	return worker.Task{
		Name:    TaskNotifyAdmins,
		OrderID: orderID,
		Run: func(ctx context.Context) error {
			admins, err := e.users.ListUsersByRole(ctx, models.RoleAdmin)
			if err != nil {
				return fmt.Errorf("failed to list admins: %w", err)
			}
			children := make(map[int64]worker.Task, len(admins))
			for _, admin := range admins {
				children[admin.ID] = e.notifyAdminTask(orderID, admin.ID, change)
			}
			return e.fanOut(ctx, children, accepted)
		},
	}
}

func (e *SideEffects) notifyAdminTask(orderID, adminID int64, change models.StatusChange) worker.Task {
	return worker.Task{
		Name:        TaskNotifyAdmin,
		OrderID:     orderID,
		MaxAttempts: 1,
		Run: func(ctx context.Context) error {
			n := &models.Notification{
				UserID:  adminID,
				Type:    models.NotificationAdminOrderStatus,
				Message: fmt.Sprintf("Order #%d changed from %s to %s", orderID, change.From, change.To),
				OrderID: &orderID,
			}
			return e.deliver(ctx, orderID, n, "", nil)
		},
	}
}

func (e *SideEffects) notifySellerTask(sellerOrder *models.SellerOrder) worker.Task {
	orderID := sellerOrder.OrderID
	return worker.Task{
		Name:        TaskNotifySeller,
		OrderID:     orderID,
		MaxAttempts: 1,
		Run: func(ctx context.Context) error {
			n := &models.Notification{
				UserID:  sellerOrder.SellerID,
				Type:    models.NotificationSellerOrderStatus,
				Message: fmt.Sprintf("Your items in order #%d are now %s", orderID, sellerOrder.Status),
				OrderID: &orderID,
			}
			return e.deliver(ctx, orderID, n, EmailSellerOrderStatus, map[string]any{
				"OrderID":       orderID,
				"SellerOrderID": sellerOrder.ID,
				"Status":        string(sellerOrder.Status),
			})
		},
	}
}

// deliver persists n, pushes it in realtime and, when template is set,
// emails the recipient. Each channel fails on its own.
func (e *SideEffects) deliver(ctx context.Context, orderID int64, n *models.Notification, template string, data map[string]any) error {
	var errs []error
	fields := []zap.Field{
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", n.UserID),
		zap.String("type", n.Type),
	}

	if err := e.notifier.CreateNotification(ctx, n); err != nil {
		util.NotificationsTotal.WithLabelValues("persist", "failed").Inc()
		e.logger.Error("Failed to persist notification", append(fields, zap.Error(err))...)
		errs = append(errs, fmt.Errorf("persist: %w", err))
	} else {
		util.NotificationsTotal.WithLabelValues("persist", "success").Inc()
	}

	if err := e.notifier.PushRealtime(ctx, n.UserID, n); err != nil {
		util.NotificationsTotal.WithLabelValues("realtime", "failed").Inc()
		e.logger.Warn("Failed to push realtime notification", append(fields, zap.Error(err))...)
		errs = append(errs, fmt.Errorf("realtime: %w", err))
	} else {
		util.NotificationsTotal.WithLabelValues("realtime", "success").Inc()
	}

	if template == "" {
		return errors.Join(errs...)
	}

	user, err := e.users.GetUserByID(ctx, n.UserID)
	if err != nil || user.Email == "" {
		util.NotificationsTotal.WithLabelValues("email", "skipped").Inc()
		e.logger.Warn("No email address for notification recipient", append(fields, zap.Error(err))...)
		return errors.Join(errs...)
	}

	data["Name"] = user.Name
	data["Message"] = n.Message
	if err := e.notifier.SendEmail(ctx, user.Email, template, data); err != nil {
		util.NotificationsTotal.WithLabelValues("email", "failed").Inc()
		e.logger.Warn("Failed to send notification email", append(fields, zap.Error(err))...)
		errs = append(errs, fmt.Errorf("email: %w", err))
	} else {
		util.NotificationsTotal.WithLabelValues("email", "success").Inc()
	}

	return errors.Join(errs...)
}

// orderEventTask publishes ORDER_STATUS_CHANGED. The event is built once
// so every attempt carries the same event id.
func (e *SideEffects) orderEventTask(userID int64, change models.StatusChange) worker.Task {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:        change.OrderID,
		UserID:         userID,
		PreviousStatus: change.From,
		CurrentStatus:  change.To,
		Reason:         change.Reason,
		ActorID:        change.ActorID,
	}

	return worker.Task{
		Name:    TaskPublishOrderEvent,
		OrderID: change.OrderID,
		Run: func(ctx context.Context) error {
			return e.events.PublishOrderStatusChanged(ctx, event)
		},
	}
}

func (e *SideEffects) itemEventTask(rollup ItemRollup) worker.Task {
	orderStatus := rollup.Order.Status
	if rollup.OrderChange != nil {
		orderStatus = rollup.OrderChange.To
	}

	event := &models.OrderItemStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderItemStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:             rollup.Order.ID,
		OrderItemID:         rollup.Item.ID,
		SellerOrderID:       rollup.SellerOrder.ID,
		ItemStatus:          rollup.Item.Status,
		SellerOrderStatus:   rollup.SellerOrder.Status,
		OrderStatus:         orderStatus,
		SellerOrderRolledUp: rollup.SellerOrderRolledUp,
		OrderRolledUp:       rollup.OrderChange != nil,
	}

	return worker.Task{
		Name:    TaskPublishItemEvent,
		OrderID: rollup.Order.ID,
		Run: func(ctx context.Context) error {
			return e.events.PublishOrderItemStatusChanged(ctx, event)
		},
	}
}
