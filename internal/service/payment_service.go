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

// PaymentService creates payments and applies them to orders
type PaymentService struct {
	store          *store.Store
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
	txTimeout      time.Duration
}

// NewPaymentService creates a new payment service
func NewPaymentService(st *store.Store, eventPublisher *broker.EventPublisher, txTimeout time.Duration) *PaymentService {
	return &PaymentService{
		store:          st,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		txTimeout:      txTimeout,
	}
}

// CreatePaymentRequest carries the fields for a new INITIATED payment
type CreatePaymentRequest struct {
	Amount      int64   `json:"amount" binding:"required"`
	Method      string  `json:"method" binding:"required"`
	ServiceName string  `json:"service_name" binding:"required"`
	OnlineURL   *string `json:"online_url,omitempty"`
	MobileURL   *string `json:"mobile_url,omitempty"`
}

// CreatePayment records a new INITIATED payment
func (ps *PaymentService) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*models.Payment, error) {
	method, err := ledger.ParsePaymentMethod(req.Method)
	if err != nil {
		return nil, err
	}
	if _, err := ledger.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	payment := &models.Payment{
		Amount:      req.Amount,
		Method:      method,
		ServiceName: req.ServiceName,
		Status:      ledger.PaymentInitiated,
		OnlineURL:   req.OnlineURL,
		MobileURL:   req.MobileURL,
	}
	if err := ps.store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	util.PaymentsInitiatedTotal.Inc()
	ps.logger.Info("payment initiated",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("amount", payment.Amount),
		zap.String("method", string(payment.Method)))
	return payment, nil
}

// ApplyPayment settles a PENDING order with a payment. The order row lock
// serializes this against concurrent settlements and refunds; the order
// moves to PAID and the payment to SUCCESS in the same transaction. Full
// payment is required: paidAmount must equal both the order total and the
// payment's authorized amount.
func (ps *PaymentService) ApplyPayment(ctx context.Context, orderID, paymentID, paidAmount int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ApplyPayment")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderTxLatency.WithLabelValues("apply_payment").Observe(time.Since(start).Seconds())
	}()

	if _, err := ledger.ValidateAmount(paidAmount); err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithTimeout(ctx, ps.txTimeout)
	defer cancel()

	var order *models.Order
	err := ps.store.WithTx(txCtx, func(tx *store.Tx) error {
		var err error
		order, err = tx.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.Status != ledger.OrderPending {
			return errs.InvalidState("order %d is %s, only PENDING orders accept payment", orderID, order.Status)
		}
		if paidAmount != order.TotalAmount {
			return errs.New(errs.CodeAmountMismatch,
				"paid amount %d does not match order total %d", paidAmount, order.TotalAmount)
		}

		payment, err := tx.GetPaymentForUpdate(txCtx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != ledger.PaymentInitiated {
			return errs.InvalidState("payment %d is %s, cannot apply", paymentID, payment.Status)
		}
		if payment.Amount != paidAmount {
			return errs.New(errs.CodeAmountMismatch,
				"payment %d authorizes %d, order requires %d", paymentID, payment.Amount, paidAmount)
		}

		now := time.Now()
		if err := tx.MarkPaymentStatus(txCtx, paymentID, ledger.PaymentSuccess, &now); err != nil {
			return err
		}
		if err := tx.MarkOrderPaid(txCtx, orderID, paymentID, paidAmount); err != nil {
			return err
		}

		order.Status = ledger.OrderPaid
		order.PaidAmount = &paidAmount
		order.PaymentID = &paymentID
		return nil
	})
	if err != nil {
		util.PaymentsFailedTotal.WithLabelValues(failReason(err)).Inc()
		return nil, err
	}

	util.PaymentsAppliedTotal.Inc()
	util.OrdersPaidTotal.Inc()
	ps.logger.Info("payment applied",
		zap.Int64("order_id", orderID),
		zap.Int64("payment_id", paymentID),
		zap.Int64("paid_amount", paidAmount))

	if ps.eventPublisher != nil {
		event := &models.OrderPaidEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderPaid,
				Timestamp: time.Now(),
			},
			OrderID:    orderID,
			PaymentID:  paymentID,
			PaidAmount: paidAmount,
		}
		if err := ps.eventPublisher.PublishOrderPaid(ctx, event); err != nil {
			ps.logger.Error("failed to publish OrderPaid event", zap.Error(err))
		}
	}

	return order, nil
}

// MarkPaymentFailed finalizes an INITIATED payment as FAILED
func (ps *PaymentService) MarkPaymentFailed(ctx context.Context, paymentID int64) error {
	txCtx, cancel := context.WithTimeout(ctx, ps.txTimeout)
	defer cancel()

	return ps.store.WithTx(txCtx, func(tx *store.Tx) error {
		payment, err := tx.GetPaymentForUpdate(txCtx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != ledger.PaymentInitiated {
			return errs.InvalidState("payment %d is %s, cannot fail", paymentID, payment.Status)
		}
		return tx.MarkPaymentStatus(txCtx, paymentID, ledger.PaymentFailed, nil)
	})
}

// AttachPayletterDetail records provider settlement data for a payment.
// A second detail for the same payment fails with DUPLICATE_KEY.
func (ps *PaymentService) AttachPayletterDetail(ctx context.Context, detail *models.PayletterDetail) error {
	if _, err := ps.store.GetPaymentByID(ctx, detail.PaymentID); err != nil {
		return err
	}
	return ps.store.CreatePayletterDetail(ctx, detail)
}

// GetPayment retrieves a payment and, when present, its provider detail
func (ps *PaymentService) GetPayment(ctx context.Context, paymentID int64) (*models.Payment, *models.PayletterDetail, error) {
	payment, err := ps.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	detail, err := ps.store.GetPayletterDetailByPaymentID(ctx, paymentID)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return payment, nil, nil
		}
		return nil, nil, err
	}
	return payment, detail, nil
}
