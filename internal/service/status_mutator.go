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

// Mutator write paths, used as metric labels
const (
	PathFast    = "fast"
	PathGeneral = "general"
)

// hotPathStatuses are written with the single-statement fast path
var hotPathStatuses = map[models.OrderStatus]bool{
	models.StatusDelivered:  true,
	models.StatusShipped:    true,
	models.StatusProcessing: true,
	models.StatusConfirmed:  true,
}

// IsHotPath reports whether writes of status use the fast path
func IsHotPath(status models.OrderStatus) bool {
	return hotPathStatuses[status]
}

// OrderStatusWriter is the persistence half of OrderRepository
type OrderStatusWriter interface {
	UpdateOrderStatusFast(ctx context.Context, change models.StatusChange) error
	UpdateOrderStatus(ctx context.Context, change models.StatusChange) error
}

// StatusMutator persists validated order status changes
type StatusMutator struct {
	orders OrderStatusWriter
	logger *zap.Logger
}

// NewStatusMutator creates a new status mutator
func NewStatusMutator(orders OrderStatusWriter) *StatusMutator {
	return &StatusMutator{
		orders: orders,
		logger: util.GetLogger(),
	}
}

// Apply writes change and reports which path was used. Both paths persist
// the same columns and the same history row.
func (m *StatusMutator) Apply(ctx context.Context, change models.StatusChange) (string, error) {
	ctx, span := util.StartSpan(ctx, "StatusMutator.Apply")
	defer span.End()

	path := PathGeneral
	write := m.orders.UpdateOrderStatus
	if IsHotPath(change.To) {
		path = PathFast
		write = m.orders.UpdateOrderStatusFast
	}

	start := time.Now()
	err := write(ctx, change)
	util.OrderStatusWriteLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return path, util.RecordError(span, notFound(EntityOrder, change.OrderID))
		}
		if errors.Is(err, store.ErrStaleStatus) {
			util.OrderStatusRejectedTotal.WithLabelValues("stale").Inc()
			return path, util.RecordError(span, fmt.Errorf("%w: %v", ErrConcurrentUpdate, err))
		}
		m.logger.Error("Failed to persist order status",
			zap.Int64("order_id", change.OrderID),
			zap.String("from", string(change.From)),
			zap.String("to", string(change.To)),
			zap.String("path", path),
			zap.Error(err))
		return path, util.RecordError(span, persistenceFailure("update status", change.OrderID, err))
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(string(change.From), string(change.To), path).Inc()
	return path, nil
}
