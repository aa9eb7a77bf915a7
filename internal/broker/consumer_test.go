package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Spaces-Place/space-place-payment/internal/payment"
)

type confirmedID struct {
	orderNumber string
	paymentID   int64
}

type fakeUpdater struct {
	mu       sync.Mutex
	confirms []confirmedID
	approves []string
	fails    []string
	err      error
}

func (f *fakeUpdater) ConfirmPaymentID(_ context.Context, orderNumber string, paymentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.confirms = append(f.confirms, confirmedID{orderNumber, paymentID})
	return nil
}

func (f *fakeUpdater) Approve(_ context.Context, orderNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.approves = append(f.approves, orderNumber)
	return nil
}

func (f *fakeUpdater) Fail(_ context.Context, orderNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.fails = append(f.fails, orderNumber)
	return nil
}

func (f *fakeUpdater) snapshot() (confirms []confirmedID, approves, fails []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]confirmedID(nil), f.confirms...),
		append([]string(nil), f.approves...),
		append([]string(nil), f.fails...)
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Group:    "test-group",
		Consumer: "consumer-1",
		Block:    20 * time.Millisecond,
		Retry: payment.RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
		Logf: func(string, ...any) {},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func runConsumer(t *testing.T, c *Consumer) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Errorf("consumer did not stop")
		}
	})
	return cancel
}

func TestConsumer_PropagatesOutcomes(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	updater := &fakeUpdater{}
	consumer := NewConsumer(client, updater, testConsumerConfig())
	runConsumer(t, consumer)

	pub := NewPublisher(client, 0)
	if err := pub.ReadyApproval(ctx, "ORD-1", 7); err != nil {
		t.Fatalf("ReadyApproval: %v", err)
	}
	if err := pub.Approval(ctx, "ORD-1"); err != nil {
		t.Fatalf("Approval: %v", err)
	}
	if err := pub.ReadyFail(ctx, "ORD-2"); err != nil {
		t.Fatalf("ReadyFail: %v", err)
	}

	waitFor(t, func() bool {
		confirms, approves, fails := updater.snapshot()
		return len(confirms) == 1 && len(approves) == 1 && len(fails) == 1
	})

	confirms, approves, fails := updater.snapshot()
	if confirms[0] != (confirmedID{"ORD-1", 7}) {
		t.Fatalf("unexpected confirm: %+v", confirms[0])
	}
	if approves[0] != "ORD-1" || fails[0] != "ORD-2" {
		t.Fatalf("unexpected outcomes: approves=%v fails=%v", approves, fails)
	}
}

func TestConsumer_AcksProcessedMessages(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	updater := &fakeUpdater{}
	consumer := NewConsumer(client, updater, testConsumerConfig())
	runConsumer(t, consumer)

	pub := NewPublisher(client, 0)
	if err := pub.Approval(ctx, "ORD-1"); err != nil {
		t.Fatalf("Approval: %v", err)
	}

	waitFor(t, func() bool {
		_, approves, _ := updater.snapshot()
		return len(approves) == 1
	})
	waitFor(t, func() bool {
		pending, err := client.XPending(ctx, StreamApproval, "test-group").Result()
		return err == nil && pending.Count == 0
	})
}

func TestConsumer_DeadLettersExhaustedMessages(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	updater := &fakeUpdater{err: errors.New("reservation unreachable")}
	consumer := NewConsumer(client, updater, testConsumerConfig())
	runConsumer(t, consumer)

	pub := NewPublisher(client, 0)
	if err := pub.Approval(ctx, "ORD-1"); err != nil {
		t.Fatalf("Approval: %v", err)
	}

	waitFor(t, func() bool {
		msgs, err := client.XRange(ctx, StreamDeadLetter, "-", "+").Result()
		return err == nil && len(msgs) == 1
	})

	msgs, err := client.XRange(ctx, StreamDeadLetter, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange dead-letter: %v", err)
	}
	if msgs[0].Values["order_number"] != "ORD-1" {
		t.Fatalf("dead letter lost payload: %v", msgs[0].Values)
	}
	if msgs[0].Values["source_stream"] != StreamApproval {
		t.Fatalf("dead letter missing source stream: %v", msgs[0].Values)
	}

	// Exhausted messages are acked, not redelivered forever.
	waitFor(t, func() bool {
		pending, err := client.XPending(ctx, StreamApproval, "test-group").Result()
		return err == nil && pending.Count == 0
	})
}

func TestConsumer_MalformedMessageSkipsRetries(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	updater := &fakeUpdater{}
	consumer := NewConsumer(client, updater, testConsumerConfig())
	runConsumer(t, consumer)

	// payment_id missing on the correlation stream.
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamReadyApproval,
		Values: map[string]any{"order_number": "ORD-1"},
	}).Err(); err != nil {
		t.Fatalf("XAdd: %v", err)
	}

	waitFor(t, func() bool {
		msgs, err := client.XRange(ctx, StreamDeadLetter, "-", "+").Result()
		return err == nil && len(msgs) == 1
	})

	confirms, _, _ := updater.snapshot()
	if len(confirms) != 0 {
		t.Fatalf("malformed message must not reach the updater: %+v", confirms)
	}
}

func TestConsumer_DrainsPendingOnStart(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	cfg := testConsumerConfig()

	// Simulate a crash: a message delivered to this consumer but never acked.
	if err := client.XGroupCreateMkStream(ctx, StreamApproval, cfg.Group, "0").Err(); err != nil {
		t.Fatalf("XGroupCreateMkStream: %v", err)
	}
	pub := NewPublisher(client, 0)
	if err := pub.Approval(ctx, "ORD-1"); err != nil {
		t.Fatalf("Approval: %v", err)
	}
	if err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Streams:  []string{StreamApproval, ">"},
		Count:    1,
		Block:    -1,
	}).Err(); err != nil {
		t.Fatalf("XReadGroup: %v", err)
	}

	updater := &fakeUpdater{}
	consumer := NewConsumer(client, updater, cfg)
	runConsumer(t, consumer)

	waitFor(t, func() bool {
		_, approves, _ := updater.snapshot()
		return len(approves) == 1 && approves[0] == "ORD-1"
	})
}
