package models

import "time"

// Event types
const (
	EventTypeOrderCreated    = "ORDER_CREATED"
	EventTypeOrderPaid       = "ORDER_PAID"
	EventTypeOrderRefunded   = "ORDER_REFUNDED"
	EventTypeOrderCanceled   = "ORDER_CANCELED"
	EventTypePaymentNotified = "PAYMENT_NOTIFIED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order and its items are committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	UserID      int64           `json:"user_id"`
	TotalAmount int64           `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderPaidEvent published when a payment settles an order
type OrderPaidEvent struct {
	BaseEvent
	OrderID    int64 `json:"order_id"`
	PaymentID  int64 `json:"payment_id"`
	PaidAmount int64 `json:"paid_amount"`
}

// OrderRefundedEvent published when a refund commits; OrderItemID is set
// for item-scoped refunds.
type OrderRefundedEvent struct {
	BaseEvent
	OrderID        int64  `json:"order_id"`
	PaymentID      int64  `json:"payment_id"`
	RefundID       int64  `json:"refund_id"`
	OrderItemID    *int64 `json:"order_item_id,omitempty"`
	Amount         int64  `json:"amount"`
	RefundedAmount int64  `json:"refunded_amount"`
	OrderStatus    string `json:"order_status"`
}

// OrderCanceledEvent published when refunds exhaust the paid balance
type OrderCanceledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentNotification is the gateway callback payload consumed by the
// settlement worker.
type PaymentNotification struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	PaymentID  int64  `json:"payment_id"`
	PaidAmount int64  `json:"paid_amount"`
	TID        string `json:"tid,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
