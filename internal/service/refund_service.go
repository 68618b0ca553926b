package service

import (
	"context"
	"time"

	"payment-sub/internal/broker"
	"payment-sub/internal/errs"
	"payment-sub/internal/ledger"
	"payment-sub/internal/models"
	"payment-sub/internal/store"
	"payment-sub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RefundService applies whole-order and item-level refunds. Every refund
// runs its balance check while holding the order's row lock, so two
// concurrent refunds whose combined amount exceeds the remaining balance
// serialize: one commits, the other sees the updated balance and fails.
type RefundService struct {
	store          *store.Store
	stockCache     *StockCache
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
	txTimeout      time.Duration
}

// NewRefundService creates a new refund service
func NewRefundService(st *store.Store, stockCache *StockCache, eventPublisher *broker.EventPublisher, txTimeout time.Duration) *RefundService {
	return &RefundService{
		store:          st,
		stockCache:     stockCache,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		txTimeout:      txTimeout,
	}
}

func refundable(status ledger.OrderStatus) bool {
	return status == ledger.OrderPaid || status == ledger.OrderPartiallyCanceled
}

// RefundOrder refunds part or all of an order's paid balance. The refund
// row, the order's refunded_amount and its status commit together; status
// becomes CANCELED when the balance reaches zero, else PARTIALLY_CANCELED.
func (rs *RefundService) RefundOrder(ctx context.Context, orderID, amount int64, reason *string) (*models.Refund, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.RefundOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderTxLatency.WithLabelValues("refund_order").Observe(time.Since(start).Seconds())
	}()

	if amount <= 0 {
		return nil, errs.Validation("refund amount must be positive, got %d", amount)
	}

	txCtx, cancel := context.WithTimeout(ctx, rs.txTimeout)
	defer cancel()

	var refund models.Refund
	var order *models.Order
	err := rs.store.WithTx(txCtx, func(tx *store.Tx) error {
		var err error
		order, err = tx.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		if !refundable(order.Status) {
			return errs.InvalidState("order %d is %s, only PAID or PARTIALLY_CANCELED orders can be refunded", orderID, order.Status)
		}
		if order.PaymentID == nil {
			return errs.InvalidState("order %d has no payment to refund against", orderID)
		}
		if amount > order.RefundableBalance() {
			return errs.New(errs.CodeRefundExceedsBalance,
				"refund %d exceeds remaining balance %d of order %d", amount, order.RefundableBalance(), orderID)
		}

		now := time.Now()
		refund = models.Refund{
			PaymentID:  *order.PaymentID,
			OrderID:    &orderID,
			Reason:     reason,
			Amount:     amount,
			RefundedAt: &now,
		}
		if err := tx.CreateRefund(txCtx, &refund); err != nil {
			return err
		}

		newRefunded, err := ledger.AddAmount(order.Refunded(), amount)
		if err != nil {
			return err
		}
		status := ledger.StatusAfterRefund(order.Paid(), newRefunded)
		if !ledger.CanTransition(order.Status, status) && order.Status != status {
			return errs.InvalidState("order %d cannot move from %s to %s", orderID, order.Status, status)
		}
		if err := tx.ApplyOrderRefund(txCtx, orderID, newRefunded, status); err != nil {
			return err
		}

		order.RefundedAmount = &newRefunded
		order.Status = status
		return nil
	})
	if err != nil {
		util.RefundsRejectedTotal.WithLabelValues(failReason(err)).Inc()
		return nil, err
	}

	rs.recordRefund(ctx, "order", order, &refund)
	return &refund, nil
}

// RefundItemRequest carries the fields for an item-level refund
type RefundItemRequest struct {
	OrderItemID int64   `json:"order_item_id" binding:"required"`
	Quantity    int     `json:"quantity" binding:"required,min=1"`
	Amount      int64   `json:"amount" binding:"required"`
	Reason      *string `json:"reason,omitempty"`
}

// RefundOrderItem refunds a quantity of one line item. The owning order's
// row lock covers the item's canceled_qty update, the refund row, and the
// order's refunded_amount/status recomputation. A fully refundable product
// gets its canceled quantity restored to stock in the same transaction.
func (rs *RefundService) RefundOrderItem(ctx context.Context, req *RefundItemRequest) (*models.Refund, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.RefundOrderItem")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderTxLatency.WithLabelValues("refund_order_item").Observe(time.Since(start).Seconds())
	}()

	if _, err := ledger.ValidateQuantity(req.Quantity); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, errs.Validation("refund amount must be positive, got %d", req.Amount)
	}

	txCtx, cancel := context.WithTimeout(ctx, rs.txTimeout)
	defer cancel()

	var refund models.Refund
	var order *models.Order
	var restock struct {
		productID int64
		quantity  int
	}
	err := rs.store.WithTx(txCtx, func(tx *store.Tx) error {
		item, err := tx.GetOrderItemByID(txCtx, req.OrderItemID)
		if err != nil {
			return err
		}

		// Lock the order first: it serializes all balance math for its items.
		order, err = tx.GetOrderForUpdate(txCtx, item.OrderID)
		if err != nil {
			return err
		}
		if !refundable(order.Status) {
			return errs.InvalidState("order %d is %s, only PAID or PARTIALLY_CANCELED orders can be refunded", order.ID, order.Status)
		}
		if order.PaymentID == nil {
			return errs.InvalidState("order %d has no payment to refund against", order.ID)
		}
		if req.Quantity > item.RemainingQty() {
			return errs.New(errs.CodeRefundExceedsBalance,
				"refund quantity %d exceeds remaining quantity %d of item %d", req.Quantity, item.RemainingQty(), item.ID)
		}
		if req.Amount > order.RefundableBalance() {
			return errs.New(errs.CodeRefundExceedsBalance,
				"refund %d exceeds remaining balance %d of order %d", req.Amount, order.RefundableBalance(), order.ID)
		}

		if err := tx.AddCanceledQty(txCtx, item.ID, req.Quantity); err != nil {
			return err
		}

		now := time.Now()
		refund = models.Refund{
			PaymentID:   *order.PaymentID,
			OrderID:     &order.ID,
			OrderItemID: &item.ID,
			Reason:      req.Reason,
			Amount:      req.Amount,
			Quantity:    &req.Quantity,
			RefundedAt:  &now,
		}
		if err := tx.CreateRefund(txCtx, &refund); err != nil {
			return err
		}

		newRefunded, err := ledger.AddAmount(order.Refunded(), req.Amount)
		if err != nil {
			return err
		}
		status := ledger.StatusAfterRefund(order.Paid(), newRefunded)
		if !ledger.CanTransition(order.Status, status) && order.Status != status {
			return errs.InvalidState("order %d cannot move from %s to %s", order.ID, order.Status, status)
		}
		if err := tx.ApplyOrderRefund(txCtx, order.ID, newRefunded, status); err != nil {
			return err
		}

		product, err := tx.GetProductByID(txCtx, item.ProductID)
		if err != nil {
			// A deleted product only skips the restock; anything else
			// has to roll the refund back.
			if !errs.Is(err, errs.CodeNotFound) {
				return err
			}
		} else if product.IsRefundable && product.Stock != nil {
			if err := tx.RestoreStock(txCtx, item.ProductID, req.Quantity); err != nil {
				return err
			}
			restock.productID = item.ProductID
			restock.quantity = req.Quantity
		}

		order.RefundedAmount = &newRefunded
		order.Status = status
		return nil
	})
	if err != nil {
		util.RefundsRejectedTotal.WithLabelValues(failReason(err)).Inc()
		return nil, err
	}

	if restock.quantity > 0 {
		rs.stockCache.Release(ctx, restock.productID, restock.quantity)
	}

	rs.recordRefund(ctx, "item", order, &refund)
	return &refund, nil
}

// GetRefund retrieves a refund by ID
func (rs *RefundService) GetRefund(ctx context.Context, refundID int64) (*models.Refund, error) {
	return rs.store.GetRefundByID(ctx, refundID)
}

// ListRefunds lists refunds matching the filter
func (rs *RefundService) ListRefunds(ctx context.Context, f store.RefundFilter, page store.Page) ([]models.Refund, error) {
	return rs.store.FindRefunds(ctx, f, page)
}

func (rs *RefundService) recordRefund(ctx context.Context, scope string, order *models.Order, refund *models.Refund) {
	util.RefundsTotal.WithLabelValues(scope).Inc()
	util.RefundedAmountTotal.Add(float64(refund.Amount))
	if order.Status == ledger.OrderCanceled {
		util.OrdersCanceledTotal.Inc()
	}

	rs.logger.Info("refund recorded",
		zap.Int64("refund_id", refund.ID),
		zap.Int64("order_id", order.ID),
		zap.String("scope", scope),
		zap.Int64("amount", refund.Amount),
		zap.String("order_status", string(order.Status)))

	if rs.eventPublisher == nil {
		return
	}

	event := &models.OrderRefundedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderRefunded,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		PaymentID:      refund.PaymentID,
		RefundID:       refund.ID,
		OrderItemID:    refund.OrderItemID,
		Amount:         refund.Amount,
		RefundedAmount: order.Refunded(),
		OrderStatus:    string(order.Status),
	}
	if err := rs.eventPublisher.PublishOrderRefunded(ctx, event); err != nil {
		rs.logger.Error("failed to publish OrderRefunded event", zap.Error(err))
	}

	if order.Status == ledger.OrderCanceled {
		canceled := &models.OrderCanceledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderCanceled,
				Timestamp: time.Now(),
			},
			OrderID: order.ID,
			Reason:  "refunded in full",
		}
		if err := rs.eventPublisher.PublishOrderCanceled(ctx, canceled); err != nil {
			rs.logger.Error("failed to publish OrderCanceled event", zap.Error(err))
		}
	}
}
