package models

// OrderStatus is the lifecycle state shared by orders, seller orders and order items
type OrderStatus string

// Order statuses
const (
	StatusPending         OrderStatus = "pending"
	StatusConfirmed       OrderStatus = "confirmed"
	StatusProcessing      OrderStatus = "processing"
	StatusShipped         OrderStatus = "shipped"
	StatusDelivered       OrderStatus = "delivered"
	StatusReturned        OrderStatus = "returned"
	StatusRefunded        OrderStatus = "refunded"
	StatusReplaced        OrderStatus = "replaced"
	StatusCancelled       OrderStatus = "cancelled"
	StatusApproveReturn   OrderStatus = "approve_return"
	StatusRejectReturn    OrderStatus = "reject_return"
	StatusProcessReturn   OrderStatus = "process_return"
	StatusCompletedReturn OrderStatus = "completed_return"
)

// AllStatuses lists every known status in lifecycle order
var AllStatuses = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusReturned,
	StatusRefunded,
	StatusReplaced,
	StatusCancelled,
	StatusApproveReturn,
	StatusRejectReturn,
	StatusProcessReturn,
	StatusCompletedReturn,
}

// IsValid reports whether s is a known status
func (s OrderStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusRefunded, StatusCancelled, StatusCompletedReturn:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	return string(s)
}

// StatusChange describes one order status write
type StatusChange struct {
	OrderID int64
	From    OrderStatus
	To      OrderStatus
	Reason  string
	ActorID *int64
}
