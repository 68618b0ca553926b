package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"payment-sub/internal/errs"
	"payment-sub/internal/ledger"
	"payment-sub/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder inserts a new order row, filling server-assigned fields
func (r queries) CreateOrder(ctx context.Context, order *models.Order) error {
	if _, err := ledger.ValidateAmount(order.TotalAmount); err != nil {
		return err
	}
	if order.Status == "" {
		order.Status = ledger.OrderPending
	}

	query := `
		INSERT INTO orders (user_id, total_amount, status, external_order_no, summary_title,
			coupon_amount, discount_amount, disposable_cup_deposit, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err := r.q.GetContext(ctx, order, query,
		order.UserID, order.TotalAmount, order.Status, order.ExternalOrderNo, order.SummaryTitle,
		order.CouponAmount, order.DiscountAmount, order.DisposableCupDeposit, order.IdempotencyKey)
	return errs.FromStorage(err, "order insert")
}

// CreateOrderItems inserts all items of an order as one statement batch
func (r queries) CreateOrderItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return errs.Validation("order requires at least one item")
	}
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, product_name, option_name)
		VALUES (:order_id, :product_id, :quantity, :unit_price, :product_name, :option_name)`

	_, err := sqlx.NamedExecContext(ctx, r.q, query, items)
	return errs.FromStorage(err, "order item insert")
}

// GetOrderByID retrieves an order by ID
func (r queries) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := r.q.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, errs.FromStorage(err, "order %d not found", id)
	}
	return &order, nil
}

// GetOrderForUpdate loads an order under a row lock. Every read-modify-write
// of paid_amount, refunded_amount or status goes through this lock so that
// concurrent settlements and refunds on one order serialize.
func (r queries) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := r.q.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, errs.FromStorage(err, "order %d not found", id)
	}
	return &order, nil
}

// GetOrderByIdempotencyKey returns nil without error when the key is unseen
func (r queries) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := r.q.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.FromStorage(err, "order by idempotency key")
	}
	return &order, nil
}

// FindOrders lists orders matching the filter
func (r queries) FindOrders(ctx context.Context, f OrderFilter, page Page) ([]models.Order, error) {
	query, args, err := buildQuery(r.q, "SELECT * FROM orders", f.conds(), page)
	if err != nil {
		return nil, err
	}
	var orders []models.Order
	if err := r.q.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, errs.FromStorage(err, "order list")
	}
	return orders, nil
}

// MarkOrderPaid records a settlement on a PENDING order. Caller holds the
// row lock and has already verified state and amount.
func (r queries) MarkOrderPaid(ctx context.Context, orderID, paymentID, paidAmount int64) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE orders SET status = $1, paid_amount = $2, payment_id = $3, updated_at = NOW() WHERE id = $4",
		ledger.OrderPaid, paidAmount, paymentID, orderID)
	return errs.FromStorage(err, "order %d", orderID)
}

// ApplyOrderRefund advances refunded_amount and status together. Caller
// holds the row lock and has already run the balance check.
func (r queries) ApplyOrderRefund(ctx context.Context, orderID, refundedAmount int64, status ledger.OrderStatus) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE orders SET refunded_amount = $1, status = $2, updated_at = NOW() WHERE id = $3",
		refundedAmount, status, orderID)
	return errs.FromStorage(err, "order %d", orderID)
}

// OrderPatch is a partial update of the order's freely mutable fields
type OrderPatch struct {
	SummaryTitle    *string `json:"summary_title,omitempty"`
	ExternalOrderNo *string `json:"external_order_no,omitempty"`
}

// UpdateOrder applies a partial update and returns the updated row. Money
// and status fields are deliberately absent: those change only through the
// workflow operations that hold the order row lock.
func (r queries) UpdateOrder(ctx context.Context, id int64, patch OrderPatch) (*models.Order, error) {
	set := []string{"updated_at = NOW()"}
	args := []interface{}{}
	if patch.SummaryTitle != nil {
		set = append(set, "summary_title = ?")
		args = append(args, *patch.SummaryTitle)
	}
	if patch.ExternalOrderNo != nil {
		set = append(set, "external_order_no = ?")
		args = append(args, *patch.ExternalOrderNo)
	}
	args = append(args, id)
	query := r.q.Rebind("UPDATE orders SET " + strings.Join(set, ", ") + " WHERE id = ? RETURNING *")

	var order models.Order
	if err := r.q.GetContext(ctx, &order, query, args...); err != nil {
		return nil, errs.FromStorage(err, "order %d not found", id)
	}
	return &order, nil
}

// DeleteOrder removes an order no refund or payment references, with its items
func (r queries) DeleteOrder(ctx context.Context, id int64) error {
	var referenced bool
	err := r.q.GetContext(ctx, &referenced,
		`SELECT EXISTS(SELECT 1 FROM refunds WHERE order_id = $1)
			OR EXISTS(SELECT 1 FROM orders WHERE id = $1 AND payment_id IS NOT NULL)`, id)
	if err != nil {
		return errs.FromStorage(err, "order %d", id)
	}
	if referenced {
		return errs.New(errs.CodeReferentialIntegrity, "order %d has payment or refund references", id)
	}

	if _, err := r.q.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = $1", id); err != nil {
		return errs.FromStorage(err, "order %d items", id)
	}
	res, err := r.q.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return errs.FromStorage(err, "order %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("order %d not found", id)
	}
	return nil
}

// GetOrderItemByID retrieves a single order item
func (r queries) GetOrderItemByID(ctx context.Context, id int64) (*models.OrderItem, error) {
	var item models.OrderItem
	err := r.q.GetContext(ctx, &item, "SELECT * FROM order_items WHERE id = $1", id)
	if err != nil {
		return nil, errs.FromStorage(err, "order item %d not found", id)
	}
	return &item, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (r queries) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.q.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, errs.FromStorage(err, "items of order %d", orderID)
	}
	return items, nil
}

// FindOrderItems lists items matching the filter
func (r queries) FindOrderItems(ctx context.Context, f OrderItemFilter, page Page) ([]models.OrderItem, error) {
	query, args, err := buildQuery(r.q, "SELECT * FROM order_items", f.conds(), page)
	if err != nil {
		return nil, err
	}
	var items []models.OrderItem
	if err := r.q.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, errs.FromStorage(err, "order item list")
	}
	return items, nil
}

// AddCanceledQty increments an item's canceled quantity, never past its
// ordered quantity. Caller holds the owning order's row lock.
func (r queries) AddCanceledQty(ctx context.Context, itemID int64, quantity int) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE order_items SET canceled_qty = canceled_qty + $1 WHERE id = $2 AND canceled_qty + $1 <= quantity",
		quantity, itemID)
	if err != nil {
		return errs.FromStorage(err, "order item %d", itemID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.FromStorage(err, "order item %d", itemID)
	}
	if n == 0 {
		return errs.New(errs.CodeRefundExceedsBalance, "cancel quantity %d exceeds remaining quantity of item %d", quantity, itemID)
	}
	return nil
}
