package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Spaces-Place/space-place-payment/internal/payment"
)

// ReservationUpdater applies outcome messages to the reservation service.
// Every method is idempotent on redelivery by collaborator contract.
type ReservationUpdater interface {
	ConfirmPaymentID(ctx context.Context, orderNumber string, paymentID int64) error
	Approve(ctx context.Context, orderNumber string) error
	Fail(ctx context.Context, orderNumber string) error
}

// ConsumerClient is the minimal client surface used by the Consumer.
type ConsumerClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// ConsumerConfig configures the outcome consumer.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Block    time.Duration
	Retry    payment.RetryPolicy
	Logf     func(format string, args ...any)
}

// Consumer drains the payment streams and propagates each outcome to the
// reservation service. A message is acknowledged only after successful
// propagation; once the retry policy is exhausted it is moved to the
// dead-letter stream and acknowledged, never dropped silently.
type Consumer struct {
	client       ConsumerClient
	reservations ReservationUpdater
	group        string
	consumer     string
	block        time.Duration
	retry        payment.RetryPolicy
	logf         func(format string, args ...any)

	streams []string
}

// NewConsumer constructs a Consumer over the three payment streams.
func NewConsumer(client ConsumerClient, reservations ReservationUpdater, cfg ConsumerConfig) *Consumer {
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	retry := cfg.Retry
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 3
	}
	baseShouldRetry := retry.ShouldRetry
	retry.ShouldRetry = func(err error) bool {
		// Undecodable messages go straight to the dead letter.
		if errors.Is(err, errMalformed) {
			return false
		}
		if baseShouldRetry != nil {
			return baseShouldRetry(err)
		}
		return !errors.Is(err, context.Canceled) &&
			!errors.Is(err, context.DeadlineExceeded)
	}
	return &Consumer{
		client:       client,
		reservations: reservations,
		group:        cfg.Group,
		consumer:     cfg.Consumer,
		block:        block,
		retry:        retry,
		logf:         logf,
		streams:      []string{StreamReadyApproval, StreamApproval, StreamReadyFail},
	}
}

// Run consumes until the context ends. On startup it first drains this
// consumer's pending entries, which is the redelivery path after a crash.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroups(ctx); err != nil {
		return err
	}

	if err := c.readOnce(ctx, "0", 0); err != nil && !errors.Is(err, redis.Nil) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logf("broker: drain pending: %v", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.readOnce(ctx, ">", c.block)
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logf("broker: read: %v", err)
			if err := sleepBrief(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) ensureGroups(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group on %s: %w", stream, err)
		}
	}
	return nil
}

func (c *Consumer) readOnce(ctx context.Context, id string, block time.Duration) error {
	ids := make([]string, 0, len(c.streams)*2)
	ids = append(ids, c.streams...)
	for range c.streams {
		ids = append(ids, id)
	}

	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  ids,
		Count:    16,
	}
	if block > 0 {
		args.Block = block
	} else {
		// Negative disables BLOCK so a pending drain returns immediately.
		args.Block = -1
	}

	streams, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		return err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			c.process(ctx, stream.Stream, msg)
		}
	}
	return nil
}

// process propagates one message. Ack on success or after dead-lettering;
// a message left unacked is redelivered from the pending list.
func (c *Consumer) process(ctx context.Context, stream string, msg redis.XMessage) {
	err := c.retry.Do(ctx, func() error {
		return c.apply(ctx, stream, msg)
	})
	if err == nil {
		if ackErr := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); ackErr != nil {
			c.logf("broker: ack %s on %s: %v", msg.ID, stream, ackErr)
		}
		return
	}
	if ctx.Err() != nil {
		// Shutting down mid-message: leave it pending for redelivery.
		return
	}

	c.logf("broker: message %s on %s exhausted retries: %v", msg.ID, stream, err)
	if dlqErr := c.deadLetter(ctx, stream, msg, err); dlqErr != nil {
		c.logf("broker: dead-letter %s on %s: %v", msg.ID, stream, dlqErr)
		return
	}
	if ackErr := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); ackErr != nil {
		c.logf("broker: ack %s on %s: %v", msg.ID, stream, ackErr)
	}
}

func (c *Consumer) apply(ctx context.Context, stream string, msg redis.XMessage) error {
	orderNumber, err := stringValue(msg, "order_number")
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	switch stream {
	case StreamReadyApproval:
		paymentID, err := int64Value(msg, "payment_id")
		if err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		return c.reservations.ConfirmPaymentID(ctx, orderNumber, paymentID)
	case StreamApproval:
		return c.reservations.Approve(ctx, orderNumber)
	case StreamReadyFail:
		return c.reservations.Fail(ctx, orderNumber)
	default:
		return fmt.Errorf("%w: unexpected stream %s", errMalformed, stream)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, stream string, msg redis.XMessage, cause error) error {
	values := map[string]any{
		"source_stream": stream,
		"source_id":     msg.ID,
		"error":         cause.Error(),
	}
	for k, v := range msg.Values {
		values[k] = v
	}
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamDeadLetter,
		Values: values,
	}).Err()
}

// errMalformed marks undecodable messages; they go straight to the dead
// letter since a retry can never succeed.
var errMalformed = errors.New("malformed outcome message")

func stringValue(msg redis.XMessage, key string) (string, error) {
	raw, ok := msg.Values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("invalid %s", key)
	}
	return s, nil
}

func int64Value(msg redis.XMessage, key string) (int64, error) {
	s, err := stringValue(msg, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return v, nil
}

func sleepBrief(ctx context.Context) error {
	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
