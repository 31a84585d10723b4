package service

import (
	"fmt"

	"order-lifecycle/internal/models"
)

// orderTransitions is the canonical transition table. Terminal statuses have no entry.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:       {models.StatusConfirmed, models.StatusCancelled},
	models.StatusConfirmed:     {models.StatusProcessing, models.StatusCancelled},
	models.StatusProcessing:    {models.StatusShipped, models.StatusCancelled},
	models.StatusShipped:       {models.StatusDelivered, models.StatusReturned, models.StatusCancelled},
	models.StatusDelivered:     {models.StatusReturned},
	models.StatusReturned:      {models.StatusRefunded, models.StatusReplaced},
	models.StatusReplaced:      {models.StatusShipped},
	models.StatusApproveReturn: {models.StatusProcessReturn},
	models.StatusRejectReturn:  {models.StatusReturned},
	models.StatusProcessReturn: {models.StatusCompletedReturn, models.StatusReturned},
}

// returnFlowEntry gates entry into the return sub-flow. For these targets
// the gate replaces the table lookup.
var returnFlowEntry = map[models.OrderStatus][]models.OrderStatus{
	models.StatusApproveReturn:   {models.StatusPending, models.StatusConfirmed},
	models.StatusProcessReturn:   {models.StatusApproveReturn},
	models.StatusCompletedReturn: {models.StatusProcessReturn},
}

// prerequisites lists the statuses that must directly precede a target.
// The order table already encodes them; item transitions have no table
// and are checked against these instead.
var prerequisites = map[models.OrderStatus][]models.OrderStatus{
	models.StatusDelivered: {models.StatusShipped},
	models.StatusShipped:   {models.StatusProcessing, models.StatusReplaced},
	models.StatusReturned:  {models.StatusShipped, models.StatusDelivered, models.StatusRejectReturn, models.StatusProcessReturn},
	models.StatusRefunded:  {models.StatusReturned},
	models.StatusReplaced:  {models.StatusReturned},
}

// StatusMachine validates order and order item status transitions
type StatusMachine struct {
	transitions map[models.OrderStatus][]models.OrderStatus
	returnFlow  map[models.OrderStatus][]models.OrderStatus
}

// NewStatusMachine creates a status machine over the canonical table
func NewStatusMachine() *StatusMachine {
	return &StatusMachine{
		transitions: orderTransitions,
		returnFlow:  returnFlowEntry,
	}
}

// ValidateOrderTransition checks current -> target for an order. Callers
// treat current == target as a no-op before calling.
func (sm *StatusMachine) ValidateOrderTransition(current, target models.OrderStatus) error {
	if !target.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}

	if current == models.StatusDelivered && target == models.StatusCancelled {
		return &RuleViolationError{
			From: current,
			To:   target,
			Rule: "delivered orders cannot be cancelled, use the return flow",
		}
	}

	if gate, ok := sm.returnFlow[target]; ok {
		if !contains(gate, current) {
			return &RuleViolationError{
				From: current,
				To:   target,
				Rule: fmt.Sprintf("%s requires current status %s", target, joinStatuses(gate)),
			}
		}
		return nil
	}

	if !contains(sm.transitions[current], target) {
		return &TransitionError{
			From:    current,
			To:      target,
			Allowed: sm.AllowedTransitions(current),
		}
	}
	return nil
}

// ValidateItemTransition checks current -> target for a single order item
func (sm *StatusMachine) ValidateItemTransition(current, target models.OrderStatus) error {
	if !target.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}

	if current.IsTerminal() {
		return &RuleViolationError{From: current, To: target, Rule: "item is in a terminal status"}
	}

	if current == models.StatusDelivered && target == models.StatusCancelled {
		return &RuleViolationError{
			From: current,
			To:   target,
			Rule: "delivered items cannot be cancelled, use the return flow",
		}
	}

	if gate, ok := sm.returnFlow[target]; ok && !contains(gate, current) {
		return &RuleViolationError{
			From: current,
			To:   target,
			Rule: fmt.Sprintf("%s requires current status %s", target, joinStatuses(gate)),
		}
	}

	if required, ok := prerequisites[target]; ok && !contains(required, current) {
		return &RuleViolationError{
			From: current,
			To:   target,
			Rule: fmt.Sprintf("%s requires prior %s", target, joinStatuses(required)),
		}
	}
	return nil
}

// AllowedTransitions returns every status reachable from current,
// table edges first, then return-flow entries.
func (sm *StatusMachine) AllowedTransitions(current models.OrderStatus) []models.OrderStatus {
	allowed := make([]models.OrderStatus, 0, len(sm.transitions[current])+2)
	allowed = append(allowed, sm.transitions[current]...)

	for _, target := range models.AllStatuses {
		gate, ok := sm.returnFlow[target]
		if ok && contains(gate, current) && !contains(allowed, target) {
			allowed = append(allowed, target)
		}
	}
	return allowed
}

// CanTransition reports whether current -> target passes order validation
func (sm *StatusMachine) CanTransition(current, target models.OrderStatus) bool {
	return sm.ValidateOrderTransition(current, target) == nil
}

func contains(list []models.OrderStatus, s models.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func joinStatuses(list []models.OrderStatus) string {
	out := ""
	for i, s := range list {
		if i > 0 {
			if i == len(list)-1 {
				out += " or "
			} else {
				out += ", "
			}
		}
		out += string(s)
	}
	return out
}
