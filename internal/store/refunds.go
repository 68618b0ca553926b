package store

import (
	"context"

	"payment-sub/internal/errs"
	"payment-sub/internal/ledger"
	"payment-sub/internal/models"
)

// CreateRefund inserts a refund row. Balance checks against the targeted
// order or item happen in the workflow under the order's row lock before
// this insert.
func (r queries) CreateRefund(ctx context.Context, refund *models.Refund) error {
	if refund.PaymentID == 0 {
		return errs.Validation("refund requires a payment id")
	}
	if _, err := ledger.ValidateAmount(refund.Amount); err != nil {
		return err
	}
	if refund.Quantity != nil {
		if _, err := ledger.ValidateQuantity(*refund.Quantity); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO refunds (payment_id, order_id, order_item_id, reason, amount, quantity, refunded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := r.q.GetContext(ctx, refund, query,
		refund.PaymentID, refund.OrderID, refund.OrderItemID, refund.Reason,
		refund.Amount, refund.Quantity, refund.RefundedAt)
	return errs.FromStorage(err, "refund insert")
}

// GetRefundByID retrieves a refund by ID
func (r queries) GetRefundByID(ctx context.Context, id int64) (*models.Refund, error) {
	var refund models.Refund
	err := r.q.GetContext(ctx, &refund, "SELECT * FROM refunds WHERE id = $1", id)
	if err != nil {
		return nil, errs.FromStorage(err, "refund %d not found", id)
	}
	return &refund, nil
}

// FindRefunds lists refunds matching the filter
func (r queries) FindRefunds(ctx context.Context, f RefundFilter, page Page) ([]models.Refund, error) {
	query, args, err := buildQuery(r.q, "SELECT * FROM refunds", f.conds(), page)
	if err != nil {
		return nil, err
	}
	var refunds []models.Refund
	if err := r.q.SelectContext(ctx, &refunds, query, args...); err != nil {
		return nil, errs.FromStorage(err, "refund list")
	}
	return refunds, nil
}
