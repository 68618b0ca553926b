package worker

import (
	"context"

	"payment-sub/internal/broker"
	"payment-sub/internal/errs"
	"payment-sub/internal/models"
	"payment-sub/internal/service"
	"payment-sub/internal/store"
	"payment-sub/internal/util"

	"go.uber.org/zap"
)

// SettlementWorker consumes gateway payment notifications and applies them
// to orders. Notifications are idempotent: each event id is recorded once
// applied, and domain rejections (already paid, amount mismatch) do not
// block the partition.
type SettlementWorker struct {
	consumer       *broker.Consumer
	store          *store.Store
	paymentService *service.PaymentService
	logger         *zap.Logger
}

// NewSettlementWorker creates a new settlement worker
func NewSettlementWorker(consumer *broker.Consumer, st *store.Store, paymentService *service.PaymentService) *SettlementWorker {
	return &SettlementWorker{
		consumer:       consumer,
		store:          st,
		paymentService: paymentService,
		logger:         util.GetLogger(),
	}
}

// Start starts consuming until the context is canceled
func (w *SettlementWorker) Start(ctx context.Context) error {
	handler := broker.NewEventHandler()
	handler.OnPaymentNotified(w.handleNotification)
	return w.consumer.StartConsuming(ctx, handler.HandleMessage)
}

// Stop stops the worker
func (w *SettlementWorker) Stop() error {
	return w.consumer.Close()
}

func (w *SettlementWorker) handleNotification(ctx context.Context, event *models.PaymentNotification) error {
	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("notification already processed", zap.String("event_id", event.EventID))
		return nil
	}

	w.logger.Info("applying gateway payment notification",
		zap.String("event_id", event.EventID),
		zap.Int64("order_id", event.OrderID),
		zap.Int64("payment_id", event.PaymentID))

	if _, err := w.paymentService.ApplyPayment(ctx, event.OrderID, event.PaymentID, event.PaidAmount); err != nil {
		// Domain rejections are terminal for this notification; only
		// storage failures are worth redelivering.
		if errs.Retryable(err) {
			return err
		}
		w.logger.Warn("notification rejected",
			zap.String("event_id", event.EventID),
			zap.String("code", string(errs.CodeOf(err))),
			zap.Error(err))
	}

	return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}
