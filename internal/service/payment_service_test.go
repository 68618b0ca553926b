package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"payment-sub/internal/errs"
	"payment-sub/internal/ledger"
	"payment-sub/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sqlmock "gopkg.in/DATA-DOG/go-sqlmock.v1"
)

func newMockPaymentService(t *testing.T) (*PaymentService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.NewStoreWithDB(sqlx.NewDb(db, "postgres"))
	return NewPaymentService(st, nil, 5*time.Second), mock
}

func paymentForUpdateRows(id, amount int64, status ledger.PaymentStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "amount", "method", "service_name", "status", "created_at"}).
		AddRow(id, amount, ledger.MethodCard, "payletter", status, time.Now())
}

func TestApplyPayment(t *testing.T) {
	svc, mock := newMockPaymentService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(11)).
		WillReturnRows(orderForUpdateRows(11, 9000, ledger.OrderPending, nil, nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM payments WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(paymentForUpdateRows(5, 9000, ledger.PaymentInitiated))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = $1, paid_at = $2 WHERE id = $3")).
		WithArgs(ledger.PaymentSuccess, sqlmock.AnyArg(), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = $1, paid_amount = $2, payment_id = $3")).
		WithArgs(ledger.OrderPaid, int64(9000), int64(5), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := svc.ApplyPayment(context.Background(), 11, 5, 9000)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderPaid, order.Status)
	require.NotNil(t, order.PaidAmount)
	assert.Equal(t, int64(9000), *order.PaidAmount)
	require.NotNil(t, order.PaymentID)
	assert.Equal(t, int64(5), *order.PaymentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPaymentAmountMismatch(t *testing.T) {
	svc, mock := newMockPaymentService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(11)).
		WillReturnRows(orderForUpdateRows(11, 9000, ledger.OrderPending, nil, nil, nil))
	mock.ExpectRollback()

	_, err := svc.ApplyPayment(context.Background(), 11, 5, 8000)
	assert.True(t, errs.Is(err, errs.CodeAmountMismatch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPaymentAuthorizedAmountMismatch(t *testing.T) {
	svc, mock := newMockPaymentService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(11)).
		WillReturnRows(orderForUpdateRows(11, 9000, ledger.OrderPending, nil, nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM payments WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(paymentForUpdateRows(5, 7000, ledger.PaymentInitiated))
	mock.ExpectRollback()

	_, err := svc.ApplyPayment(context.Background(), 11, 5, 9000)
	assert.True(t, errs.Is(err, errs.CodeAmountMismatch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPaymentAlreadyPaid(t *testing.T) {
	svc, mock := newMockPaymentService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(11)).
		WillReturnRows(orderForUpdateRows(11, 9000, ledger.OrderPaid, int64p(9000), nil, int64p(5)))
	mock.ExpectRollback()

	_, err := svc.ApplyPayment(context.Background(), 11, 5, 9000)
	assert.True(t, errs.Is(err, errs.CodeInvalidState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPaymentSettledPayment(t *testing.T) {
	svc, mock := newMockPaymentService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(11)).
		WillReturnRows(orderForUpdateRows(11, 9000, ledger.OrderPending, nil, nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM payments WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(paymentForUpdateRows(5, 9000, ledger.PaymentSuccess))
	mock.ExpectRollback()

	_, err := svc.ApplyPayment(context.Background(), 11, 5, 9000)
	assert.True(t, errs.Is(err, errs.CodeInvalidState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePaymentValidation(t *testing.T) {
	svc, _ := newMockPaymentService(t)

	_, err := svc.CreatePayment(context.Background(), &CreatePaymentRequest{Amount: 9000, Method: "CHECK", ServiceName: "payletter"})
	assert.True(t, errs.Is(err, errs.CodeValidation))

	_, err = svc.CreatePayment(context.Background(), &CreatePaymentRequest{Amount: -1, Method: "CARD", ServiceName: "payletter"})
	assert.True(t, errs.Is(err, errs.CodeValidation))
}
