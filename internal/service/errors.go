package service

import (
	"errors"
	"fmt"
	"strings"

	"order-lifecycle/internal/models"
)

var (
	// ErrNotFound indicates an order, order item or seller order is missing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates the requested edge is not in the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrBusinessRule indicates a guard layered on top of the transition table failed.
	ErrBusinessRule = errors.New("business rule violation")
	// ErrPersistence indicates the status write itself failed.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidStatus indicates the requested status is not a known status.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrConcurrentUpdate indicates another status change holds the order lock
	// or committed between the read and the write.
	ErrConcurrentUpdate = errors.New("concurrent status update")
	// ErrInsufficientFunds indicates a wallet debit larger than the balance.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
)

// Entity names used in NotFoundError
const (
	EntityOrder       = "order"
	EntityOrderItem   = "order item"
	EntitySellerOrder = "seller order"
	EntityWallet      = "wallet"
	EntityProduct     = "product"
	EntityVariant     = "product variant"
)

// NotFoundError names the missing entity
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TransitionError reports an edge missing from the transition table
type TransitionError struct {
	From    models.OrderStatus
	To      models.OrderStatus
	Allowed []models.OrderStatus
}

func (e *TransitionError) Error() string {
	allowed := "none"
	if len(e.Allowed) > 0 {
		names := make([]string, len(e.Allowed))
		for i, s := range e.Allowed {
			names[i] = string(s)
		}
		allowed = strings.Join(names, ", ")
	}
	return fmt.Sprintf("cannot change status from %s to %s (allowed: %s)", e.From, e.To, allowed)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// RuleViolationError reports a failed business rule
type RuleViolationError struct {
	From models.OrderStatus
	To   models.OrderStatus
	Rule string
}

func (e *RuleViolationError) Error() string {
	return fmt.Sprintf("cannot change status from %s to %s: %s", e.From, e.To, e.Rule)
}

func (e *RuleViolationError) Is(target error) bool {
	return target == ErrBusinessRule
}

func notFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func persistenceFailure(op string, orderID int64, err error) error {
	return fmt.Errorf("%w: %s for order %d: %w", ErrPersistence, op, orderID, err)
}
