package rabbitmq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"go.uber.org/zap"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{7, maxBackoff},
		{40, maxBackoff},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestAttemptFromHeaders(t *testing.T) {
	assert.Equal(t, 1, attemptFromHeaders(nil, false))
	assert.Equal(t, 2, attemptFromHeaders(nil, true))
	assert.Equal(t, 3, attemptFromHeaders(amqp.Table{"x-death": []interface{}{amqp.Table{}, amqp.Table{}}}, true))
}

var testTopology = ConsumerConfig{
	Queue:       "analysis.requests",
	Exchange:    "fiapx.analysis",
	DLQ:         "analysis.requests.dlq",
	StatusQueue: "analysis.status",
	Prefetch:    1,
	WorkerCount: 2,
	BaseDelayMs: 10,
}

func TestConsumerRequeuesUntilHandled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	rmqContainer, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	cfg := testTopology
	cfg.URL = rmqURL

	var calls atomic.Int32
	done := make(chan []byte, 1)
	handler := func(_ context.Context, body []byte) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		done <- body
		return nil
	}

	consumer, err := NewConsumer(cfg, handler, zap.NewNop())
	require.NoError(t, err)
	defer consumer.Close()
	require.NoError(t, consumer.Ping(ctx))

	conn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer conn.Close()
	pub, err := NewPublisher(conn, cfg.Exchange)
	require.NoError(t, err)
	defer pub.Close()

	runCtx, stop := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		_ = consumer.Start(runCtx)
		close(stopped)
	}()

	require.NoError(t, pub.PublishRequest(ctx, []byte(`{"request_id":"x"}`)))

	select {
	case body := <-done:
		assert.JSONEq(t, `{"request_id":"x"}`, string(body))
	case <-time.After(30 * time.Second):
		t.Fatal("message was not redelivered")
	}
	assert.Equal(t, int32(2), calls.Load())

	stop()
	<-stopped
}

func TestStatusAndDLQPublishers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	rmqContainer, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	conn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer conn.Close()

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, Declare(ch, testTopology))

	pub, err := NewPublisher(conn, testTopology.Exchange)
	require.NoError(t, err)

	require.NoError(t, NewStatusPublisher(pub).PublishStatus(ctx, "ocr.state", []byte(`{"to":"OCR_COMPLETE"}`)))
	require.NoError(t, NewDLQPublisher(pub, testTopology.DLQ).PublishToDLQ(ctx, []byte(`{}`), "unmarshal_error"))

	require.Eventually(t, func() bool {
		msg, ok, err := ch.Get(testTopology.StatusQueue, true)
		if err != nil || !ok {
			return false
		}
		return msg.Type == "ocr.state" && string(msg.Body) == `{"to":"OCR_COMPLETE"}`
	}, 10*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		msg, ok, err := ch.Get(testTopology.DLQ, true)
		if err != nil || !ok {
			return false
		}
		return msg.Headers["x-dlq-reason"] == "unmarshal_error"
	}, 10*time.Second, 100*time.Millisecond)
}
