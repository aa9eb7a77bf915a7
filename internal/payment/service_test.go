package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	events []OutcomeEvent
}

func (b *captureBroadcaster) BroadcastOutcome(ev OutcomeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *captureBroadcaster) all() []OutcomeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]OutcomeEvent(nil), b.events...)
}

type fixture struct {
	members      *InMemoryMemberClient
	spaces       *InMemorySpaceClient
	reservations *InMemoryReservationClient
	gateway      *InMemoryGateway
	store        *InMemoryOrderStore
	notifier     *InMemoryNotifier
	events       *captureBroadcaster
	svc          *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		members:      NewInMemoryMemberClient(),
		spaces:       NewInMemorySpaceClient(),
		reservations: NewInMemoryReservationClient(),
		gateway:      NewInMemoryGateway(),
		store:        NewInMemoryOrderStore(),
		notifier:     NewInMemoryNotifier(),
		events:       &captureBroadcaster{},
	}
	f.members.SetName("user-1", "Kim")
	f.spaces.SetQuote("space-1", Quote{SpaceName: "Studio A", TotalAmount: 15000, Quantity: 1})
	f.svc = NewService(
		f.members, f.spaces, f.reservations, f.gateway, f.store, f.notifier,
		f.events, "http://payment.local", func(string, ...any) {},
	)
	return f
}

func readyReq() ReadyRequest {
	return ReadyRequest{SpaceID: "space-1", UseDate: "2026-09-01", StartTime: "10:00", EndTime: "12:00"}
}

func ident() Identity {
	return Identity{UserID: "user-1", Name: "Kim"}
}

func hasEvent(events []StoredEvent, orderNumber, name string) bool {
	for _, ev := range events {
		if ev.OrderNumber == orderNumber && ev.Event == name {
			return true
		}
	}
	return false
}

func TestService_Ready_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	redirect, err := f.svc.Ready(ctx, readyReq(), ident(), "tok")
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if redirect != "http://pay.example/T1" {
		t.Fatalf("unexpected redirect: %s", redirect)
	}

	rec, err := f.store.GetByOrderNumber(ctx, "ORD-1")
	if err != nil {
		t.Fatalf("GetByOrderNumber: %v", err)
	}
	if rec.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", rec.Status)
	}
	if rec.Amount != 15000 || rec.TID != "T1" || rec.SpaceName != "Studio A" || rec.UserName != "Kim" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	msgs := f.notifier.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(msgs))
	}
	if msgs[0].Topic != "payment.ready-approval" || msgs[0].OrderNumber != "ORD-1" || msgs[0].PaymentID != rec.ID {
		t.Fatalf("unexpected notification: %+v", msgs[0])
	}

	if !hasEvent(f.store.Events(), "ORD-1", "ready") {
		t.Fatalf("missing ready audit event: %+v", f.store.Events())
	}

	events := f.events.all()
	if len(events) != 1 || events[0].Status != StatusPending {
		t.Fatalf("unexpected broadcast: %+v", events)
	}
}

func TestService_Ready_CallbackURLs(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Ready(context.Background(), readyReq(), ident(), "tok"); err != nil {
		t.Fatalf("Ready: %v", err)
	}

	prep := f.gateway.prepared["T1"]
	for leg, got := range map[string]string{
		"approval": prep.ApprovalURL,
		"cancel":   prep.CancelURL,
		"fail":     prep.FailURL,
	} {
		want := "http://payment.local/api/v1/payments/kakao/" + leg + "?order_number=ORD-1"
		if got != want {
			t.Fatalf("%s url = %s, want %s", leg, got, want)
		}
	}
	if prep.ItemName != "Studio A" || prep.TotalAmount != 15000 || prep.Quantity != 1 {
		t.Fatalf("unexpected prepare request: %+v", prep)
	}
}

func TestService_Ready_IdentityFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ready(context.Background(), readyReq(), Identity{UserID: "unknown"}, "tok")
	if !errors.Is(err, ErrCollaboratorRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}

	if f.gateway.PrepareCalls() != 0 {
		t.Fatalf("gateway must not be touched on identity failure")
	}
	if len(f.notifier.Messages()) != 0 {
		t.Fatalf("no notification expected: %+v", f.notifier.Messages())
	}
	if _, err := f.store.GetByOrderNumber(context.Background(), "ORD-1"); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("no record expected, got %v", err)
	}
}

func TestService_Ready_QuoteFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ready(context.Background(), ReadyRequest{SpaceID: "nope"}, ident(), "tok")
	if !errors.Is(err, ErrCollaboratorRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if f.gateway.PrepareCalls() != 0 {
		t.Fatalf("gateway must not be touched on quote failure")
	}
}

// fixedReservation always assigns the same order number, which is what a
// retried ready phase looks like from this service.
type fixedReservation struct {
	InMemoryReservationClient
	orderNumber string
}

func (r *fixedReservation) Ready(context.Context, ReservationRegistration, string) (string, error) {
	return r.orderNumber, nil
}

func TestService_Ready_RetryReusesStoredRecord(t *testing.T) {
	f := newFixture(t)
	res := &fixedReservation{orderNumber: "ORD-1"}
	f.svc = NewService(
		f.members, f.spaces, res, f.gateway, f.store, f.notifier,
		f.events, "http://payment.local", func(string, ...any) {},
	)
	ctx := context.Background()

	if _, err := f.svc.Ready(ctx, readyReq(), ident(), "tok"); err != nil {
		t.Fatalf("first Ready: %v", err)
	}
	redirect, err := f.svc.Ready(ctx, readyReq(), ident(), "tok")
	if err != nil {
		t.Fatalf("second Ready: %v", err)
	}
	// A fresh handle is minted, but the stored record keeps the original.
	if redirect != "http://pay.example/T2" {
		t.Fatalf("unexpected redirect: %s", redirect)
	}
	rec, err := f.store.GetByOrderNumber(ctx, "ORD-1")
	if err != nil {
		t.Fatalf("GetByOrderNumber: %v", err)
	}
	if rec.TID != "T1" {
		t.Fatalf("stored handle must stay immutable, got %s", rec.TID)
	}

	msgs := f.notifier.Messages()
	if len(msgs) != 2 || msgs[0].PaymentID != msgs[1].PaymentID {
		t.Fatalf("correlation must repeat the stored payment id: %+v", msgs)
	}
}

func TestService_Approve_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Ready(ctx, readyReq(), ident(), "tok"); err != nil {
		t.Fatalf("Ready: %v", err)
	}

	rec, err := f.svc.Approve(ctx, "ORD-1", "pg-token", ident())
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if rec.Status != StatusCompleted || rec.PaymentMethod != "MONEY" || rec.Amount != 15000 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	msgs := f.notifier.Messages()
	if len(msgs) != 2 || msgs[1].Topic != "payment.approval" {
		t.Fatalf("expected approval notification, got %+v", msgs)
	}
	if !hasEvent(f.store.Events(), "ORD-1", "completed") {
		t.Fatalf("missing completed audit event")
	}

	events := f.events.all()
	if events[len(events)-1].Status != StatusCompleted {
		t.Fatalf("unexpected broadcast: %+v", events)
	}
}

func TestService_Approve_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Approve(context.Background(), "ORD-missing", "pg-token", ident())
	if !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestService_Approve_RedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Ready(ctx, readyReq(), ident(), "tok"); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if _, err := f.svc.Approve(ctx, "ORD-1", "pg-token", ident()); err != nil {
		t.Fatalf("first Approve: %v", err)
	}

	rec, err := f.svc.Approve(ctx, "ORD-1", "pg-token", ident())
	if err != nil {
		t.Fatalf("second Approve: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("expected stored outcome, got %+v", rec)
	}

	var approvals int
	for _, msg := range f.notifier.Messages() {
		if msg.Topic == "payment.approval" {
			approvals++
		}
	}
	if approvals != 1 {
		t.Fatalf("redelivery must not publish again, got %d approvals", approvals)
	}
}

func TestService_Approve_GatewayFailureKeepsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Ready(ctx, readyReq(), ident(), "tok"); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	// Point the record at a handle the gateway will reject.
	f.store.mu.Lock()
	rec := f.store.records["ORD-1"]
	rec.TID = "T-unknown"
	f.store.records["ORD-1"] = rec
	f.store.mu.Unlock()

	if _, err := f.svc.Approve(ctx, "ORD-1", "pg-token", ident()); !errors.Is(err, ErrCollaboratorRejected) {
		t.Fatalf("expected gateway rejection, got %v", err)
	}
	stored, err := f.store.GetByOrderNumber(ctx, "ORD-1")
	if err != nil {
		t.Fatalf("GetByOrderNumber: %v", err)
	}
	if stored.Status != StatusPending {
		t.Fatalf("failed authorize must keep PENDING, got %s", stored.Status)
	}
}

func TestService_Approve_AmountMismatchIsFlagged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.spaces.SetQuote("space-1", Quote{SpaceName: "Studio A", TotalAmount: 10000, Quantity: 1})

	if _, err := f.svc.Ready(ctx, readyReq(), ident(), "tok"); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	f.gateway.SetApproval("T1", Approval{PaymentMethod: "CARD", Amount: 9000})

	rec, err := f.svc.Approve(ctx, "ORD-1", "pg-token", ident())
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	// The gateway figure wins, and the divergence is recorded.
	if rec.Amount != 9000 || rec.PaymentMethod != "CARD" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	var found bool
	for _, ev := range f.store.Events() {
		if ev.Event == "amount_mismatch" {
			found = true
			if !strings.Contains(ev.Detail, "10000") || !strings.Contains(ev.Detail, "9000") {
				t.Fatalf("mismatch detail incomplete: %s", ev.Detail)
			}
		}
	}
	if !found {
		t.Fatalf("missing amount_mismatch audit event: %+v", f.store.Events())
	}
}

func TestService_Fail_MarksAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Ready(ctx, readyReq(), ident(), "tok"); err != nil {
		t.Fatalf("Ready: %v", err)
	}

	rec, err := f.svc.Fail(ctx, "ORD-1")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", rec.Status)
	}

	msgs := f.notifier.Messages()
	if msgs[len(msgs)-1].Topic != "payment.ready-fail" {
		t.Fatalf("expected ready-fail notification, got %+v", msgs)
	}
}

func TestService_Fail_RedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Ready(ctx, readyReq(), ident(), "tok"); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if _, err := f.svc.Fail(ctx, "ORD-1"); err != nil {
		t.Fatalf("first Fail: %v", err)
	}
	rec, err := f.svc.Fail(ctx, "ORD-1")
	if err != nil {
		t.Fatalf("second Fail: %v", err)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("expected stored state, got %+v", rec)
	}

	var fails int
	for _, msg := range f.notifier.Messages() {
		if msg.Topic == "payment.ready-fail" {
			fails++
		}
	}
	if fails != 1 {
		t.Fatalf("expected a single ready-fail notification, got %d", fails)
	}
}

func TestService_Cancel_UpdatesReservationSynchronously(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Ready(ctx, readyReq(), ident(), "tok"); err != nil {
		t.Fatalf("Ready: %v", err)
	}

	rec, err := f.svc.Cancel(ctx, "ORD-1", "tok")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if rec.Status != StatusCanceled {
		t.Fatalf("expected CANCELED, got %s", rec.Status)
	}
	if !f.reservations.WasCanceled("ORD-1") {
		t.Fatalf("reservation must be updated on cancel")
	}

	// Cancellation has no broker topic.
	for _, msg := range f.notifier.Messages() {
		if msg.Topic != "payment.ready-approval" {
			t.Fatalf("unexpected notification on cancel: %+v", msg)
		}
	}
}

func TestService_Cancel_TerminalIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Ready(ctx, readyReq(), ident(), "tok"); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if _, err := f.svc.Approve(ctx, "ORD-1", "pg-token", ident()); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	rec, err := f.svc.Cancel(ctx, "ORD-1", "tok")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("terminal record must be returned unchanged, got %s", rec.Status)
	}
	if f.reservations.WasCanceled("ORD-1") {
		t.Fatalf("reservation must not be touched for a terminal record")
	}
}

func TestService_List_ClampsPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 3 {
		if _, err := f.svc.Ready(ctx, readyReq(), ident(), "tok"); err != nil {
			t.Fatalf("Ready: %v", err)
		}
	}

	records, err := f.svc.List(ctx, "user-1", -5, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	records, err = f.svc.List(ctx, "user-1", 1, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record with skip/limit, got %d", len(records))
	}

	records, err = f.svc.List(ctx, "someone-else", 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records for other user, got %d", len(records))
	}
}
