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
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sqlmock "gopkg.in/DATA-DOG/go-sqlmock.v1"
)

func newMockService(t *testing.T) (*OrderService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.NewStoreWithDB(sqlx.NewDb(db, "postgres"))
	svc := NewOrderService(st, nil, NewStockCache(st, nil), nil, 5*time.Second)
	return svc, mock
}

func TestCreateOrderRequestValidate(t *testing.T) {
	opt := "large"
	cases := []struct {
		name string
		req  CreateOrderRequest
		ok   bool
	}{
		{"valid", CreateOrderRequest{UserID: 1, Items: []OrderItemRequest{{ProductID: 7, Quantity: 2, OptionName: &opt}}}, true},
		{"missing user", CreateOrderRequest{Items: []OrderItemRequest{{ProductID: 7, Quantity: 1}}}, false},
		{"no items", CreateOrderRequest{UserID: 1}, false},
		{"zero quantity", CreateOrderRequest{UserID: 1, Items: []OrderItemRequest{{ProductID: 7, Quantity: 0}}}, false},
		{"missing product", CreateOrderRequest{UserID: 1, Items: []OrderItemRequest{{Quantity: 1}}}, false},
		{"negative coupon", CreateOrderRequest{UserID: 1, Items: []OrderItemRequest{{ProductID: 7, Quantity: 1}}, CouponAmount: -100}, false},
		{"negative deposit", CreateOrderRequest{UserID: 1, Items: []OrderItemRequest{{ProductID: 7, Quantity: 1}}, DisposableCupDeposit: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errs.Is(err, errs.CodeValidation))
			}
		})
	}
}

func TestQuantityByProduct(t *testing.T) {
	req := CreateOrderRequest{
		UserID: 1,
		Items: []OrderItemRequest{
			{ProductID: 7, Quantity: 2},
			{ProductID: 8, Quantity: 1},
			{ProductID: 7, Quantity: 3},
		},
	}
	qty := req.quantityByProduct()
	assert.Equal(t, map[int64]int{7: 5, 8: 1}, qty)
}

func TestFailReason(t *testing.T) {
	assert.Equal(t, "out_of_stock", failReason(errs.New(errs.CodeOutOfStock, "no stock")))
	assert.Equal(t, "product_not_found", failReason(errs.NotFound("gone")))
	assert.Equal(t, "invalid_request", failReason(errs.Validation("bad")))
	assert.Equal(t, "invalid_state", failReason(errs.InvalidState("nope")))
	assert.Equal(t, "timeout", failReason(errs.New(errs.CodeTimeout, "slow")))
	assert.Equal(t, "storage_error", failReason(errs.New(errs.CodeStorage, "db down")))
}

func productForUpdateRows(id int64, price int64, stock int, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "price", "currency", "stock", "is_active", "is_refundable", "created_at", "updated_at"}).
		AddRow(id, "americano", price, "KRW", stock, active, true, time.Now(), time.Now())
}

func TestCreateOrderFlow(t *testing.T) {
	svc, mock := newMockService(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id IN ($1) ORDER BY id FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(productForUpdateRows(7, 4500, 10, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET stock = stock - $1")).
		WithArgs(2, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(11), now, now))
	mock.ExpectExec("INSERT INTO order_items").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM order_items WHERE order_id = $1 ORDER BY id")).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity", "canceled_qty", "unit_price", "product_name", "created_at"}).
			AddRow(int64(21), int64(11), int64(7), 2, 0, int64(4500), "americano", now))
	mock.ExpectCommit()

	req := &CreateOrderRequest{
		UserID: 42,
		Items:  []OrderItemRequest{{ProductID: 7, Quantity: 2}},
	}
	order, items, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(11), order.ID)
	assert.Equal(t, int64(9000), order.TotalAmount)
	assert.Equal(t, ledger.OrderPending, order.Status)
	require.NotNil(t, order.ExternalOrderNo)
	require.Len(t, items, 1)
	assert.Equal(t, int64(7), items[0].ProductID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderIdempotencyKeyRace(t *testing.T) {
	svc, mock := newMockService(t)
	now := time.Now()
	key := "idem-key-9"

	// Pre-check sees nothing, then a concurrent request wins the insert.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM orders WHERE idempotency_key = $1")).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id IN ($1) ORDER BY id FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(productForUpdateRows(7, 4500, 10, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET stock = stock - $1")).
		WithArgs(2, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "orders_idempotency_key_key"})
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM orders WHERE idempotency_key = $1")).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "total_amount", "status", "idempotency_key", "created_at", "updated_at"}).
			AddRow(int64(99), int64(42), int64(9000), ledger.OrderPending, key, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM order_items WHERE order_id = $1 ORDER BY id")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity", "canceled_qty", "unit_price", "product_name", "created_at"}).
			AddRow(int64(77), int64(99), int64(7), 2, 0, int64(4500), "americano", now))

	req := &CreateOrderRequest{
		UserID:         42,
		Items:          []OrderItemRequest{{ProductID: 7, Quantity: 2}},
		IdempotencyKey: key,
	}
	order, items, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(99), order.ID)
	require.Len(t, items, 1)
	assert.Equal(t, int64(99), items[0].OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id IN ($1) ORDER BY id FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(productForUpdateRows(7, 4500, 1, true))
	mock.ExpectRollback()

	req := &CreateOrderRequest{
		UserID: 42,
		Items:  []OrderItemRequest{{ProductID: 7, Quantity: 2}},
	}
	_, _, err := svc.CreateOrder(context.Background(), req)
	assert.True(t, errs.Is(err, errs.CodeOutOfStock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderInactiveProduct(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id IN ($1) ORDER BY id FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(productForUpdateRows(7, 4500, 10, false))
	mock.ExpectRollback()

	req := &CreateOrderRequest{
		UserID: 42,
		Items:  []OrderItemRequest{{ProductID: 7, Quantity: 1}},
	}
	_, _, err := svc.CreateOrder(context.Background(), req)
	assert.True(t, errs.Is(err, errs.CodeInvalidState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id IN ($1) ORDER BY id FOR UPDATE")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "currency", "stock", "is_active", "is_refundable", "created_at", "updated_at"}))
	mock.ExpectRollback()

	req := &CreateOrderRequest{
		UserID: 42,
		Items:  []OrderItemRequest{{ProductID: 404, Quantity: 1}},
	}
	_, _, err := svc.CreateOrder(context.Background(), req)
	assert.True(t, errs.Is(err, errs.CodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
