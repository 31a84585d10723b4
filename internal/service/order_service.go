package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/store"
	"order-lifecycle/internal/util"

	"go.uber.org/zap"
)

// Dependencies are the collaborators of OrderService. Locker is optional;
// when nil, concurrent changes of one order are last-writer-wins.
type Dependencies struct {
	Orders       OrderRepository
	SellerOrders SellerOrderRepository
	Users        UserDirectory
	Wallets      Wallets
	Stock        Stock
	Notifier     Notifier
	Events       EventPublisher
	Dispatcher   TaskDispatcher
	Locker       OrderLocker
	LockTTL      time.Duration
}

// OrderService validates, persists and propagates order status changes
type OrderService struct {
	orders       OrderRepository
	sellerOrders SellerOrderRepository
	machine      *StatusMachine
	mutator      *StatusMutator
	effects      *SideEffects
	locker       OrderLocker
	lockTTL      time.Duration
	logger       *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(deps Dependencies) *OrderService {
	lockTTL := deps.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &OrderService{
		orders:       deps.Orders,
		sellerOrders: deps.SellerOrders,
		machine:      NewStatusMachine(),
		mutator:      NewStatusMutator(deps.Orders),
		effects:      NewSideEffects(deps),
		locker:       deps.Locker,
		lockTTL:      lockTTL,
		logger:       util.GetLogger(),
	}
}

// ChangeOptions carries the optional metadata of a status change
type ChangeOptions struct {
	Reason  string
	ActorID *int64
}

// ChangeOrderStatus moves an order to target. Requesting the current status
// returns the unchanged order and starts no side effects. Side effects of a
// committed change run in the background and never fail the call.
func (s *OrderService) ChangeOrderStatus(ctx context.Context, orderID int64, target models.OrderStatus, opts ChangeOptions) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ChangeOrderStatus")
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

	if order.Status == target {
		s.logger.Debug("Order already in requested status",
			zap.Int64("order_id", orderID),
			zap.String("status", string(target)))
		return order, nil
	}

	if err := s.machine.ValidateOrderTransition(order.Status, target); err != nil {
		util.OrderStatusRejectedTotal.WithLabelValues(rejectionReason(err)).Inc()
		s.logger.Info("Order status change rejected",
			zap.Int64("order_id", orderID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(target)),
			zap.Error(err))
		return nil, util.RecordError(span, err)
	}

	change := models.StatusChange{
		OrderID: orderID,
		From:    order.Status,
		To:      target,
		Reason:  opts.Reason,
		ActorID: opts.ActorID,
	}

	path, err := s.mutator.Apply(ctx, change)
	if err != nil {
		return nil, util.RecordError(span, err)
	}

	updated := applyChange(order, change)

	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
		zap.String("path", path))

	s.effects.OrderStatusChanged(ctx, updated, change)

	return updated, nil
}

// applyChange returns a copy of order with the persisted columns of change applied
func applyChange(order *models.Order, change models.StatusChange) *models.Order {
	updated := *order
	now := time.Now()
	updated.Status = change.To
	updated.UpdatedAt = now
	if change.To == models.StatusCancelled {
		updated.CancelledAt = &now
		if change.Reason != "" {
			reason := change.Reason
			updated.CancelReason = &reason
		}
	}
	return &updated
}

// GetOrder retrieves an order and its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, nil, util.RecordError(span, err)
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, util.RecordError(span, fmt.Errorf("failed to get order items: %w", err))
	}

	return order, items, nil
}

// AllowedTransitions returns the order's current status and every status it may move to
func (s *OrderService) AllowedTransitions(ctx context.Context, orderID int64) (models.OrderStatus, []models.OrderStatus, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return "", nil, err
	}
	return order.Status, s.machine.AllowedTransitions(order.Status), nil
}

// GetOrderHistory returns the persisted status changes of an order, oldest first
func (s *OrderService) GetOrderHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	if _, err := s.getOrder(ctx, orderID); err != nil {
		return nil, err
	}
	history, err := s.orders.GetOrderStatusHistory(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order status history: %w", err)
	}
	return history, nil
}

func (s *OrderService) getOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound(EntityOrder, orderID)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// lockOrder takes the per-order lock when locking is enabled
func (s *OrderService) lockOrder(ctx context.Context, orderID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	key := fmt.Sprintf("order:%d:status", orderID)
	token, acquired, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire order lock: %w", err)
	}
	if !acquired {
		util.OrderStatusRejectedTotal.WithLabelValues("locked").Inc()
		return nil, fmt.Errorf("%w: order %d", ErrConcurrentUpdate, orderID)
	}

	return func() {
		// The request context may already be cancelled here.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.locker.ReleaseLock(releaseCtx, key, token); err != nil {
			s.logger.Warn("Failed to release order lock",
				zap.Int64("order_id", orderID),
				zap.Error(err))
		}
	}, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrBusinessRule):
		return "business_rule"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid_status"
	default:
		return "other"
	}
}
