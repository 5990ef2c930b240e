package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/larder/larder-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedAck struct {
	acked    int
	nacked   int
	requeued bool
	rejected int
}

func (r *recordedAck) Ack(uint64, bool) error { r.acked++; return nil }

func (r *recordedAck) Nack(_ uint64, _ bool, requeue bool) error {
	r.nacked++
	r.requeued = requeue
	return nil
}

func (r *recordedAck) Reject(uint64, bool) error { r.rejected++; return nil }

type retryCall struct {
	attempt int
}

func newTestConsumer() (*Consumer, *[]retryCall) {
	var calls []retryCall
	c := &Consumer{
		queueName: "inventory.menu-events",
		handlers:  make(map[string]MessageHandler),
		logger:    logger.Nop(),
	}
	c.retry = func(_ context.Context, _ amqp.Delivery, attempt int) error {
		calls = append(calls, retryCall{attempt: attempt})
		return nil
	}
	return c, &calls
}

func delivery(t *testing.T, ack amqp.Acknowledger, eventType string, headers amqp.Table) amqp.Delivery {
	t.Helper()
	event, err := NewEvent(eventType, "menu-service", "corr-7", map[string]string{"menu_item_id": "m-1"})
	require.NoError(t, err)
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body, Headers: headers}
}

func TestConsumer_HandleMessage(t *testing.T) {
	t.Run("success acks and carries the correlation id", func(t *testing.T) {
		c, retries := newTestConsumer()
		var seen string
		c.RegisterHandler(EventMenuItemDeleted, func(ctx context.Context, e *Event) error {
			seen = CorrelationID(ctx)
			return nil
		})
		ack := &recordedAck{}

		c.handleMessage(context.Background(), delivery(t, ack, EventMenuItemDeleted, nil))

		assert.Equal(t, 1, ack.acked)
		assert.Equal(t, "corr-7", seen)
		assert.Empty(t, *retries)
	})

	t.Run("unknown event type is dropped", func(t *testing.T) {
		c, _ := newTestConsumer()
		ack := &recordedAck{}

		c.handleMessage(context.Background(), delivery(t, ack, "menu.item.renamed", nil))

		assert.Equal(t, 1, ack.acked)
	})

	t.Run("undecodable body is dead-lettered", func(t *testing.T) {
		c, _ := newTestConsumer()
		ack := &recordedAck{}

		c.handleMessage(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{")})

		assert.Equal(t, 1, ack.rejected)
		assert.Zero(t, ack.acked)
	})

	t.Run("first failure is retried", func(t *testing.T) {
		c, retries := newTestConsumer()
		c.RegisterHandler(EventMenuItemDeleted, func(context.Context, *Event) error { return errors.New("db down") })
		ack := &recordedAck{}

		c.handleMessage(context.Background(), delivery(t, ack, EventMenuItemDeleted, nil))

		require.Len(t, *retries, 1)
		assert.Equal(t, 1, (*retries)[0].attempt)
		assert.Equal(t, 1, ack.acked)
	})

	t.Run("last attempt is dead-lettered", func(t *testing.T) {
		c, retries := newTestConsumer()
		c.RegisterHandler(EventMenuItemDeleted, func(context.Context, *Event) error { return errors.New("db down") })
		ack := &recordedAck{}

		c.handleMessage(context.Background(), delivery(t, ack, EventMenuItemDeleted, amqp.Table{attemptHeader: int32(MaxAttempts - 1)}))

		assert.Empty(t, *retries)
		assert.Equal(t, 1, ack.rejected)
	})

	t.Run("failed retry publish requeues", func(t *testing.T) {
		c, _ := newTestConsumer()
		c.RegisterHandler(EventMenuItemDeleted, func(context.Context, *Event) error { return errors.New("db down") })
		c.retry = func(context.Context, amqp.Delivery, int) error { return errors.New("channel closed") }
		ack := &recordedAck{}

		c.handleMessage(context.Background(), delivery(t, ack, EventMenuItemDeleted, nil))

		assert.Equal(t, 1, ack.nacked)
		assert.True(t, ack.requeued)
		assert.Zero(t, ack.acked)
	})
}

func TestAttemptOf(t *testing.T) {
	assert.Equal(t, 0, attemptOf(amqp.Delivery{}))
	assert.Equal(t, 2, attemptOf(amqp.Delivery{Headers: amqp.Table{attemptHeader: int32(2)}}))
	assert.Equal(t, 1, attemptOf(amqp.Delivery{Headers: amqp.Table{attemptHeader: int64(1)}}))
	assert.Equal(t, 0, attemptOf(amqp.Delivery{Headers: amqp.Table{attemptHeader: "3"}}))
}

func TestCorrelationID(t *testing.T) {
	assert.Empty(t, CorrelationID(context.Background()))
	assert.Equal(t, "req-1", CorrelationID(WithCorrelationID(context.Background(), "req-1")))
}
