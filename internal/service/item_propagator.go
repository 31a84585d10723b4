package service

import (
	"context"
	"errors"
	"fmt"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/store"
	"order-lifecycle/internal/util"

	"go.uber.org/zap"
)

// ChangeOrderItemStatus moves one item to target, then rolls the change up
// to its seller order and to the order when every sibling agrees. All
// lookups happen before the first write.
func (s *OrderService) ChangeOrderItemStatus(ctx context.Context, orderID, itemID int64, target models.OrderStatus, opts ChangeOptions) (*ItemRollup, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ChangeOrderItemStatus")
	defer span.End()

	if !target.IsValid() {
		util.OrderStatusRejectedTotal.WithLabelValues("invalid_status").Inc()
		return nil, util.RecordError(span, fmt.Errorf("%w: %q", ErrInvalidStatus, target))
	}

	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, util.RecordError(span, err)
	}
	defer unlock()

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, util.RecordError(span, err)
	}

	item, err := s.orders.GetOrderItem(ctx, itemID)
	if err != nil {
		return nil, util.RecordError(span, lookupError(err, EntityOrderItem, itemID))
	}
	if item.OrderID != orderID {
		return nil, util.RecordError(span, notFound(EntityOrderItem, itemID))
	}

	sellerOrder, err := s.sellerOrders.GetSellerOrder(ctx, item.SellerOrderID)
	if err != nil {
		return nil, util.RecordError(span, lookupError(err, EntitySellerOrder, item.SellerOrderID))
	}

	rollup := &ItemRollup{Order: order, Item: item, SellerOrder: sellerOrder}

	if item.Status == target {
		return rollup, nil
	}

	if order.Status.IsTerminal() {
		util.OrderStatusRejectedTotal.WithLabelValues("business_rule").Inc()
		return nil, util.RecordError(span, &RuleViolationError{
			From: item.Status,
			To:   target,
			Rule: fmt.Sprintf("order is %s", order.Status),
		})
	}

	if err := s.machine.ValidateItemTransition(item.Status, target); err != nil {
		util.OrderStatusRejectedTotal.WithLabelValues(rejectionReason(err)).Inc()
		return nil, util.RecordError(span, err)
	}

	if err := s.orders.UpdateOrderItemStatus(ctx, itemID, target); err != nil {
		return nil, util.RecordError(span, persistenceFailure("update item status", orderID, err))
	}
	util.OrderItemStatusChangesTotal.WithLabelValues("item").Inc()

	updatedItem := *item
	updatedItem.Status = target
	rollup.Item = &updatedItem

	s.logger.Info("Order item status changed",
		zap.Int64("order_id", orderID),
		zap.Int64("order_item_id", itemID),
		zap.String("from", string(item.Status)),
		zap.String("to", string(target)))

	if err := s.rollUpSellerOrder(ctx, rollup); err != nil {
		return nil, util.RecordError(span, err)
	}
	if err := s.rollUpOrder(ctx, rollup, opts); err != nil {
		return nil, util.RecordError(span, err)
	}

	s.effects.ItemStatusChanged(ctx, *rollup)

	return rollup, nil
}

// rollUpSellerOrder moves the seller order to the status all its items share
func (s *OrderService) rollUpSellerOrder(ctx context.Context, rollup *ItemRollup) error {
	items, err := s.sellerOrders.GetOrderItemsBySellerOrderID(ctx, rollup.SellerOrder.ID)
	if err != nil {
		return persistenceFailure("load seller order items", rollup.Order.ID, err)
	}

	statuses := make([]models.OrderStatus, 0, len(items))
	for _, it := range items {
		if it.ID == rollup.Item.ID {
			it.Status = rollup.Item.Status
		}
		statuses = append(statuses, it.Status)
	}

	agreed, ok := consensus(statuses)
	if !ok || agreed == rollup.SellerOrder.Status {
		return nil
	}

	if err := s.sellerOrders.UpdateSellerOrderStatus(ctx, rollup.SellerOrder.ID, agreed); err != nil {
		return persistenceFailure("update seller order status", rollup.Order.ID, err)
	}
	util.OrderItemStatusChangesTotal.WithLabelValues("seller_order").Inc()

	updated := *rollup.SellerOrder
	updated.Status = agreed
	rollup.SellerOrder = &updated
	rollup.SellerOrderRolledUp = true

	s.logger.Info("Seller order status rolled up",
		zap.Int64("order_id", rollup.Order.ID),
		zap.Int64("seller_order_id", updated.ID),
		zap.String("status", string(agreed)))
	return nil
}

// rollUpOrder moves the order to the status all its seller orders share.
// The write goes through the mutator so it is recorded in the history like
// any other change; it follows the children rather than the table.
func (s *OrderService) rollUpOrder(ctx context.Context, rollup *ItemRollup, opts ChangeOptions) error {
	sellerOrders, err := s.sellerOrders.GetSellerOrdersByOrderID(ctx, rollup.Order.ID)
	if err != nil {
		return persistenceFailure("load seller orders", rollup.Order.ID, err)
	}

	statuses := make([]models.OrderStatus, 0, len(sellerOrders))
	for _, so := range sellerOrders {
		if so.ID == rollup.SellerOrder.ID {
			so.Status = rollup.SellerOrder.Status
		}
		statuses = append(statuses, so.Status)
	}

	agreed, ok := consensus(statuses)
	if !ok || agreed == rollup.Order.Status {
		return nil
	}

	reason := opts.Reason
	if reason == "" {
		reason = fmt.Sprintf("all seller orders %s", agreed)
	}
	change := models.StatusChange{
		OrderID: rollup.Order.ID,
		From:    rollup.Order.Status,
		To:      agreed,
		Reason:  reason,
		ActorID: opts.ActorID,
	}

	if _, err := s.mutator.Apply(ctx, change); err != nil {
		return err
	}
	util.OrderItemStatusChangesTotal.WithLabelValues("order").Inc()

	rollup.Order = applyChange(rollup.Order, change)
	rollup.OrderChange = &change

	s.logger.Info("Order status rolled up",
		zap.Int64("order_id", change.OrderID),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)))
	return nil
}

// consensus returns the status every entry shares. An empty list has none.
func consensus(statuses []models.OrderStatus) (models.OrderStatus, bool) {
	if len(statuses) == 0 {
		return "", false
	}
	first := statuses[0]
	for _, st := range statuses[1:] {
		if st != first {
			return "", false
		}
	}
	return first, true
}

func lookupError(err error, entity string, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(entity, id)
	}
	return fmt.Errorf("failed to get %s: %w", entity, err)
}
