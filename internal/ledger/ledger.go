package ledger

import (
	"payment-sub/internal/errs"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// PaymentStatus is the lifecycle state of a payment
type PaymentStatus string

// PaymentMethod identifies how a payment is funded
type PaymentMethod string

// Order statuses
const (
	OrderPending           OrderStatus = "PENDING"
	OrderPaid              OrderStatus = "PAID"
	OrderPartiallyCanceled OrderStatus = "PARTIALLY_CANCELED"
	OrderCanceled          OrderStatus = "CANCELED"
)

// Payment statuses
const (
	PaymentInitiated PaymentStatus = "INITIATED"
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment methods
const (
	MethodCard           PaymentMethod = "CARD"
	MethodBankTransfer   PaymentMethod = "BANK_TRANSFER"
	MethodVirtualAccount PaymentMethod = "VIRTUAL_ACCOUNT"
	MethodMobile         PaymentMethod = "MOBILE"
	MethodPoint          PaymentMethod = "POINT"
	MethodVoucher        PaymentMethod = "VOUCHER"
	MethodOther          PaymentMethod = "OTHER"
)

// ValidateAmount checks that n is a usable minor-unit money amount
func ValidateAmount(n int64) (int64, error) {
	if n < 0 {
		return 0, errs.Validation("amount must be non-negative, got %d", n)
	}
	return n, nil
}

// ValidateQuantity checks that n is a positive item quantity
func ValidateQuantity(n int) (int, error) {
	if n <= 0 {
		return 0, errs.Validation("quantity must be positive, got %d", n)
	}
	return n, nil
}

// AddAmount sums two validated amounts
func AddAmount(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, errs.Validation("cannot add negative amount (%d + %d)", a, b)
	}
	return a + b, nil
}

// SubtractAmount computes a-b, failing on underflow rather than going negative
func SubtractAmount(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, errs.Validation("cannot subtract negative amount (%d - %d)", a, b)
	}
	if b > a {
		return 0, errs.Validation("amount underflow: %d - %d", a, b)
	}
	return a - b, nil
}

// ParseOrderStatus parses a stored status string
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderPending, OrderPaid, OrderPartiallyCanceled, OrderCanceled:
		return st, nil
	}
	return "", errs.Validation("unknown order status %q", s)
}

// ParsePaymentStatus parses a stored status string
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(s); st {
	case PaymentInitiated, PaymentSuccess, PaymentFailed:
		return st, nil
	}
	return "", errs.Validation("unknown payment status %q", s)
}

// ParsePaymentMethod parses a payment method string
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case MethodCard, MethodBankTransfer, MethodVirtualAccount,
		MethodMobile, MethodPoint, MethodVoucher, MethodOther:
		return m, nil
	}
	return "", errs.Validation("unknown payment method %q", s)
}

// CanTransition reports whether an order may move from one status to another.
// CANCELED is terminal; status never moves backward.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderPending:
		return to == OrderPaid
	case OrderPaid:
		return to == OrderPartiallyCanceled || to == OrderCanceled
	case OrderPartiallyCanceled:
		return to == OrderCanceled
	}
	return false
}

// StatusAfterRefund computes the order status once refunded reaches
// the given level against the paid amount.
func StatusAfterRefund(paid, refunded int64) OrderStatus {
	if refunded >= paid {
		return OrderCanceled
	}
	return OrderPartiallyCanceled
}

// OrderTotal computes an order total from item subtotals and adjustments.
// Every term must already be validated non-negative; the resulting total
// must not be negative either.
func OrderTotal(itemSubtotal, couponAmount, discountAmount, cupDeposit int64) (int64, error) {
	if itemSubtotal < 0 || couponAmount < 0 || discountAmount < 0 || cupDeposit < 0 {
		return 0, errs.Validation("order total terms must be non-negative")
	}
	total := itemSubtotal - couponAmount - discountAmount + cupDeposit
	if total < 0 {
		return 0, errs.Validation("order total is negative: subtotal=%d coupon=%d discount=%d deposit=%d",
			itemSubtotal, couponAmount, discountAmount, cupDeposit)
	}
	return total, nil
}
