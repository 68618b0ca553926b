package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"payment-sub/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessageRoutesPaymentNotification(t *testing.T) {
	handler := NewEventHandler()

	var got *models.PaymentNotification
	handler.OnPaymentNotified(func(ctx context.Context, event *models.PaymentNotification) error {
		got = event
		return nil
	})

	notification := models.PaymentNotification{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypePaymentNotified,
			Timestamp: time.Now(),
		},
		OrderID:    11,
		PaymentID:  5,
		PaidAmount: 9000,
		TID:        "tid-abc",
	}
	payload, err := json.Marshal(notification)
	require.NoError(t, err)

	err = handler.HandleMessage(context.Background(), kafka.Message{Value: payload})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(11), got.OrderID)
	assert.Equal(t, int64(5), got.PaymentID)
	assert.Equal(t, int64(9000), got.PaidAmount)
	assert.Equal(t, "evt-1", got.EventID)
}

func TestHandleMessageIgnoresUnknownEvent(t *testing.T) {
	handler := NewEventHandler()

	called := false
	handler.OnPaymentNotified(func(ctx context.Context, event *models.PaymentNotification) error {
		called = true
		return nil
	})

	payload, err := json.Marshal(models.BaseEvent{
		EventID:   "evt-2",
		EventType: models.EventTypeOrderCreated,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	err = handler.HandleMessage(context.Background(), kafka.Message{Value: payload})
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestHandleMessageBadPayload(t *testing.T) {
	handler := NewEventHandler()
	err := handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("not-json")})
	assert.Error(t, err)
}
