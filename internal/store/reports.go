package store

import (
	"context"
	"time"

	"payment-sub/internal/errs"
	"payment-sub/internal/ledger"

	"github.com/jmoiron/sqlx"
)

// SalesTotal aggregates paid amounts over a date range, optionally
// restricted to a status set. Zero-value bounds mean unbounded.
func (r queries) SalesTotal(ctx context.Context, from, to time.Time, statuses []ledger.OrderStatus) (int64, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return 0, errs.Validation("sales range end precedes start")
	}
	if len(statuses) == 0 {
		statuses = []ledger.OrderStatus{ledger.OrderPaid, ledger.OrderPartiallyCanceled, ledger.OrderCanceled}
	}

	query := "SELECT COALESCE(SUM(paid_amount), 0) FROM orders WHERE status IN (?)"
	args := []interface{}{statuses}
	if !from.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, from)
	}
	if !to.IsZero() {
		query += " AND created_at < ?"
		args = append(args, to)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return 0, errs.Wrap(errs.CodeValidation, err, "bad sales filter")
	}

	var total int64
	if err := r.q.GetContext(ctx, &total, r.q.Rebind(query), args...); err != nil {
		return 0, errs.FromStorage(err, "sales total")
	}
	return total, nil
}

// RefundTotalByPayment sums all refunds recorded against one payment
func (r queries) RefundTotalByPayment(ctx context.Context, paymentID int64) (int64, error) {
	var total int64
	err := r.q.GetContext(ctx, &total,
		"SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1", paymentID)
	if err != nil {
		return 0, errs.FromStorage(err, "refund total for payment %d", paymentID)
	}
	return total, nil
}

// StatusCount is one bucket of the order status breakdown
type StatusCount struct {
	Status ledger.OrderStatus `db:"status" json:"status"`
	Count  int64              `db:"count" json:"count"`
}

// OrderCountsByStatus groups order counts by status over a date range
func (r queries) OrderCountsByStatus(ctx context.Context, from, to time.Time) ([]StatusCount, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, errs.Validation("count range end precedes start")
	}

	query := "SELECT status, COUNT(*) AS count FROM orders"
	args := []interface{}{}
	clause := " WHERE "
	if !from.IsZero() {
		query += clause + "created_at >= ?"
		args = append(args, from)
		clause = " AND "
	}
	if !to.IsZero() {
		query += clause + "created_at < ?"
		args = append(args, to)
	}
	query += " GROUP BY status ORDER BY status"

	var counts []StatusCount
	if err := r.q.SelectContext(ctx, &counts, r.q.Rebind(query), args...); err != nil {
		return nil, errs.FromStorage(err, "order status counts")
	}
	return counts, nil
}
