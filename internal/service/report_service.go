package service

import (
	"context"
	"time"

	"payment-sub/internal/ledger"
	"payment-sub/internal/store"
)

// ReportService exposes read-only aggregates over the repositories. It
// never mutates state; failures are limited to malformed filter input and
// storage errors.
type ReportService struct {
	store *store.Store
}

// NewReportService creates a new report service
func NewReportService(st *store.Store) *ReportService {
	return &ReportService{store: st}
}

// SalesTotal sums paid amounts over a date range for the given statuses
// (all settled statuses when empty).
func (r *ReportService) SalesTotal(ctx context.Context, from, to time.Time, statuses []ledger.OrderStatus) (int64, error) {
	return r.store.SalesTotal(ctx, from, to, statuses)
}

// RefundTotalByPayment sums refunds recorded against one payment
func (r *ReportService) RefundTotalByPayment(ctx context.Context, paymentID int64) (int64, error) {
	if _, err := r.store.GetPaymentByID(ctx, paymentID); err != nil {
		return 0, err
	}
	return r.store.RefundTotalByPayment(ctx, paymentID)
}

// OrderCountsByStatus groups order counts by status over a date range
func (r *ReportService) OrderCountsByStatus(ctx context.Context, from, to time.Time) ([]store.StatusCount, error) {
	return r.store.OrderCountsByStatus(ctx, from, to)
}
