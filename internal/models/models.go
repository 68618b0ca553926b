package models

import (
	"time"

	"payment-sub/internal/ledger"
)

// Product represents a sellable item in the catalog
type Product struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Description  *string   `db:"description" json:"description,omitempty"`
	Price        int64     `db:"price" json:"price"`
	ImageURL     *string   `db:"image_url" json:"image_url,omitempty"`
	Currency     string    `db:"currency" json:"currency"`
	Stock        *int      `db:"stock" json:"stock,omitempty"` // nil = untracked/unlimited
	IsActive     bool      `db:"is_active" json:"is_active"`
	IsRefundable bool      `db:"is_refundable" json:"is_refundable"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Order represents a customer purchase tracked through the payment/refund lifecycle
type Order struct {
	ID                   int64              `db:"id" json:"id"`
	UserID               int64              `db:"user_id" json:"user_id"`
	TotalAmount          int64              `db:"total_amount" json:"total_amount"`
	Status               ledger.OrderStatus `db:"status" json:"status"`
	PaidAmount           *int64             `db:"paid_amount" json:"paid_amount,omitempty"`
	RefundedAmount       *int64             `db:"refunded_amount" json:"refunded_amount,omitempty"`
	PaymentID            *int64             `db:"payment_id" json:"payment_id,omitempty"`
	ExternalOrderNo      *string            `db:"external_order_no" json:"external_order_no,omitempty"`
	SummaryTitle         *string            `db:"summary_title" json:"summary_title,omitempty"`
	CouponAmount         *int64             `db:"coupon_amount" json:"coupon_amount,omitempty"`
	DiscountAmount       *int64             `db:"discount_amount" json:"discount_amount,omitempty"`
	DisposableCupDeposit *int64             `db:"disposable_cup_deposit" json:"disposable_cup_deposit,omitempty"`
	IdempotencyKey       *string            `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at" json:"updated_at"`
}

// Paid returns the paid amount, zero when unset
func (o *Order) Paid() int64 {
	if o.PaidAmount == nil {
		return 0
	}
	return *o.PaidAmount
}

// Refunded returns the refunded amount, zero when unset
func (o *Order) Refunded() int64 {
	if o.RefundedAmount == nil {
		return 0
	}
	return *o.RefundedAmount
}

// RefundableBalance is what remains claimable against this order
func (o *Order) RefundableBalance() int64 {
	return o.Paid() - o.Refunded()
}

// OrderItem is a priced quantity of one product snapshotted at order time.
// UnitPrice and the name snapshots are immutable once written.
type OrderItem struct {
	ID          int64     `db:"id" json:"id"`
	OrderID     int64     `db:"order_id" json:"order_id"`
	ProductID   int64     `db:"product_id" json:"product_id"`
	Quantity    int       `db:"quantity" json:"quantity"`
	CanceledQty int       `db:"canceled_qty" json:"canceled_qty"`
	UnitPrice   int64     `db:"unit_price" json:"unit_price"`
	ProductName string    `db:"product_name" json:"product_name"`
	OptionName  *string   `db:"option_name" json:"option_name,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Subtotal is the line total before order-level adjustments
func (i *OrderItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// RemainingQty is the quantity not yet canceled by refunds
func (i *OrderItem) RemainingQty() int {
	return i.Quantity - i.CanceledQty
}

// Payment represents funds authorized/captured via a given method and provider
type Payment struct {
	ID          int64                `db:"id" json:"id"`
	Amount      int64                `db:"amount" json:"amount"`
	Method      ledger.PaymentMethod `db:"method" json:"method"`
	ServiceName string               `db:"service_name" json:"service_name"`
	Status      ledger.PaymentStatus `db:"status" json:"status"`
	OnlineURL   *string              `db:"online_url" json:"online_url,omitempty"`
	MobileURL   *string              `db:"mobile_url" json:"mobile_url,omitempty"`
	PaidAt      *time.Time           `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt   time.Time            `db:"created_at" json:"created_at"`
}

// PayletterDetail is provider-specific settlement data attached 1:1 to a
// Payment. It has no lifecycle of its own: created with its payment and
// removed with it.
type PayletterDetail struct {
	ID                 int64      `db:"id" json:"id"`
	PaymentID          int64      `db:"payment_id" json:"payment_id"`
	TID                string     `db:"tid" json:"tid"`
	CID                *string    `db:"cid" json:"cid,omitempty"`
	PayHash            *string    `db:"pay_hash" json:"pay_hash,omitempty"`
	MethodCode         *string    `db:"method_code" json:"method_code,omitempty"`
	MethodName         *string    `db:"method_name" json:"method_name,omitempty"`
	TransactionDate    *time.Time `db:"transaction_date" json:"transaction_date,omitempty"`
	InstallMonth       *int       `db:"install_month" json:"install_month,omitempty"`
	CardCode           *string    `db:"card_code" json:"card_code,omitempty"`
	CardName           *string    `db:"card_name" json:"card_name,omitempty"`
	CardNo             *string    `db:"card_no" json:"card_no,omitempty"`
	TaxAmount          *int64     `db:"tax_amount" json:"tax_amount,omitempty"`
	TaxFreeAmount      *int64     `db:"tax_free_amount" json:"tax_free_amount,omitempty"`
	NonSettleAmount    *int64     `db:"non_settle_amount" json:"non_settle_amount,omitempty"`
	CashReceiptType    *string    `db:"cash_receipt_type" json:"cash_receipt_type,omitempty"`
	CashReceiptCID     *string    `db:"cash_receipt_cid" json:"cash_receipt_cid,omitempty"`
	CashReceiptTID     *string    `db:"cash_receipt_tid" json:"cash_receipt_tid,omitempty"`
	CashReceiptIssueNo *string    `db:"cash_receipt_issue_no" json:"cash_receipt_issue_no,omitempty"`
	AccountNo          *string    `db:"account_no" json:"account_no,omitempty"`
	AccountName        *string    `db:"account_name" json:"account_name,omitempty"`
	AccountHolder      *string    `db:"account_holder" json:"account_holder,omitempty"`
	BankCode           *string    `db:"bank_code" json:"bank_code,omitempty"`
	BankName           *string    `db:"bank_name" json:"bank_name,omitempty"`
	BillKey            *string    `db:"bill_key" json:"bill_key,omitempty"`
	ExpireDate         *time.Time `db:"expire_date" json:"expire_date,omitempty"`
	DomesticFlag       *bool      `db:"domestic_flag" json:"domestic_flag,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

// Refund records money returned against a payment, optionally scoped to a
// single order or a single order item.
type Refund struct {
	ID          int64      `db:"id" json:"id"`
	PaymentID   int64      `db:"payment_id" json:"payment_id"`
	OrderID     *int64     `db:"order_id" json:"order_id,omitempty"`
	OrderItemID *int64     `db:"order_item_id" json:"order_item_id,omitempty"`
	Reason      *string    `db:"reason" json:"reason,omitempty"`
	Amount      int64      `db:"amount" json:"amount"`
	Quantity    *int       `db:"quantity" json:"quantity,omitempty"`
	RefundedAt  *time.Time `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// ProcessedEvent marks a consumed broker event for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
