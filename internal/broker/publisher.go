// Package broker carries saga outcomes over Redis streams: one durable
// stream per topic, appended in order, consumed by a consumer group with
// bounded redelivery and a dead-letter stream.
package broker

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Stream names shared by the publisher and consumer.
const (
	StreamReadyApproval = "payment.ready-approval"
	StreamApproval      = "payment.approval"
	StreamReadyFail     = "payment.ready-fail"
	StreamDeadLetter    = "payment.dead-letter"
)

// StreamAppender is the minimal client surface used by the Publisher.
type StreamAppender interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Publisher appends outcome messages to the payment streams.
type Publisher struct {
	client StreamAppender
	maxLen int64
}

// NewPublisher constructs a stream publisher. maxLen bounds each stream
// approximately; zero disables trimming.
func NewPublisher(client StreamAppender, maxLen int64) *Publisher {
	return &Publisher{client: client, maxLen: maxLen}
}

// ReadyApproval publishes the reservation correlation for a freshly
// persisted PENDING order.
func (p *Publisher) ReadyApproval(ctx context.Context, orderNumber string, paymentID int64) error {
	return p.append(ctx, StreamReadyApproval, map[string]any{
		"order_number": orderNumber,
		"payment_id":   strconv.FormatInt(paymentID, 10),
		"outcome":      "ready-approval",
	})
}

// Approval publishes a COMPLETED outcome.
func (p *Publisher) Approval(ctx context.Context, orderNumber string) error {
	return p.append(ctx, StreamApproval, map[string]any{
		"order_number": orderNumber,
		"outcome":      "approval",
	})
}

// ReadyFail publishes a FAILED outcome.
func (p *Publisher) ReadyFail(ctx context.Context, orderNumber string) error {
	return p.append(ctx, StreamReadyFail, map[string]any{
		"order_number": orderNumber,
		"outcome":      "ready-fail",
	})
}

func (p *Publisher) append(ctx context.Context, stream string, values map[string]any) error {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}
