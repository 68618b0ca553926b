package ledger

import (
	"testing"

	"payment-sub/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAmount(t *testing.T) {
	n, err := ValidateAmount(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = ValidateAmount(15000)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), n)

	_, err = ValidateAmount(-1)
	assert.True(t, errs.Is(err, errs.CodeValidation))
}

func TestValidateQuantity(t *testing.T) {
	_, err := ValidateQuantity(1)
	assert.NoError(t, err)

	_, err = ValidateQuantity(0)
	assert.True(t, errs.Is(err, errs.CodeValidation))

	_, err = ValidateQuantity(-3)
	assert.True(t, errs.Is(err, errs.CodeValidation))
}

func TestAmountArithmetic(t *testing.T) {
	sum, err := AddAmount(1000, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), sum)

	_, err = AddAmount(-1, 500)
	assert.Error(t, err)

	diff, err := SubtractAmount(1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), diff)

	_, err = SubtractAmount(500, 501)
	assert.True(t, errs.Is(err, errs.CodeValidation))
}

func TestParseOrderStatus(t *testing.T) {
	for _, s := range []string{"PENDING", "PAID", "PARTIALLY_CANCELED", "CANCELED"} {
		parsed, err := ParseOrderStatus(s)
		require.NoError(t, err)
		assert.Equal(t, OrderStatus(s), parsed)
	}

	_, err := ParseOrderStatus("SHIPPED")
	assert.True(t, errs.Is(err, errs.CodeValidation))

	_, err = ParseOrderStatus("paid")
	assert.Error(t, err, "status parsing is case sensitive")
}

func TestParsePaymentMethod(t *testing.T) {
	for _, s := range []string{"CARD", "BANK_TRANSFER", "VIRTUAL_ACCOUNT", "MOBILE", "POINT", "VOUCHER", "OTHER"} {
		_, err := ParsePaymentMethod(s)
		assert.NoError(t, err, s)
	}

	_, err := ParsePaymentMethod("CRYPTO")
	assert.True(t, errs.Is(err, errs.CodeValidation))
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to OrderStatus }{
		{OrderPending, OrderPaid},
		{OrderPaid, OrderPartiallyCanceled},
		{OrderPaid, OrderCanceled},
		{OrderPartiallyCanceled, OrderCanceled},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	forbidden := []struct{ from, to OrderStatus }{
		{OrderPending, OrderCanceled},
		{OrderPending, OrderPartiallyCanceled},
		{OrderPaid, OrderPending},
		{OrderPartiallyCanceled, OrderPaid},
		{OrderCanceled, OrderPending},
		{OrderCanceled, OrderPaid},
		{OrderCanceled, OrderPartiallyCanceled},
	}
	for _, tc := range forbidden {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusAfterRefund(t *testing.T) {
	assert.Equal(t, OrderPartiallyCanceled, StatusAfterRefund(2000, 800))
	assert.Equal(t, OrderCanceled, StatusAfterRefund(2000, 2000))
}

func TestOrderTotal(t *testing.T) {
	total, err := OrderTotal(2000, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), total)

	total, err = OrderTotal(2000, 300, 200, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1600), total)

	_, err = OrderTotal(1000, 600, 600, 0)
	assert.True(t, errs.Is(err, errs.CodeValidation), "negative total must be rejected")

	_, err = OrderTotal(1000, -1, 0, 0)
	assert.True(t, errs.Is(err, errs.CodeValidation))
}
