package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"

	"golang.org/x/sync/errgroup"
)

// MemberClient resolves a requester's profile from the member service.
type MemberClient interface {
	GetMember(ctx context.Context, userID, bearer string) (string, error)
}

// SpaceClient quotes an order intent against the space service.
type SpaceClient interface {
	PreOrder(ctx context.Context, req ReadyRequest, bearer string) (Quote, error)
}

// ReservationRegistration is the payload for registering a pending
// reservation; the reservation service answers with the order number.
type ReservationRegistration struct {
	ReadyRequest
	UserName  string
	SpaceName string
}

// ReservationClient covers the reservation calls made on the request path.
// The consumer-path updates live behind the broker.
type ReservationClient interface {
	Ready(ctx context.Context, reg ReservationRegistration, bearer string) (string, error)
	Cancel(ctx context.Context, orderNumber, bearer string) error
}

// PrepareRequest is the gateway prepare payload. Each prepare call mints a
// new charge handle at the provider; it is not idempotent.
type PrepareRequest struct {
	OrderNumber string
	UserID      string
	ItemName    string
	Quantity    int
	TotalAmount int64
	ApprovalURL string
	CancelURL   string
	FailURL     string
}

// ApproveRequest is the gateway authorize payload.
type ApproveRequest struct {
	TID         string
	OrderNumber string
	UserID      string
	PGToken     string
}

// PaymentGateway is the external payment provider (prepare/authorize).
type PaymentGateway interface {
	Prepare(ctx context.Context, req PrepareRequest) (Prepared, error)
	Approve(ctx context.Context, req ApproveRequest) (Approval, error)
}

// OrderStore persists order records. CreatePending is upsert-if-absent on
// the order number; Complete runs the authorize callback under the row lock
// so no two authorize calls race for the same order.
type OrderStore interface {
	CreatePending(ctx context.Context, rec Order) (Order, bool, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (Order, error)
	Complete(ctx context.Context, orderNumber string, authorize func(Order) (Approval, error)) (Order, error)
	MarkFailed(ctx context.Context, orderNumber string) (Order, bool, error)
	MarkCanceled(ctx context.Context, orderNumber string) (Order, bool, error)
	ListByUser(ctx context.Context, userID string, skip, limit int) ([]Order, error)
	AddEvent(ctx context.Context, orderNumber, event, detail string) error
}

// OutcomeNotifier hands saga outcomes to the asynchronous channel.
type OutcomeNotifier interface {
	ReadyApproval(ctx context.Context, orderNumber string, paymentID int64) error
	Approval(ctx context.Context, orderNumber string) error
	ReadyFail(ctx context.Context, orderNumber string) error
}

// OutcomeEvent is broadcast to live subscribers on every transition.
type OutcomeEvent struct {
	OrderNumber string `json:"order_number"`
	Status      Status `json:"status"`
	Amount      int64  `json:"amount"`
}

// EventBroadcaster fans transitions out to live subscribers (best effort).
type EventBroadcaster interface {
	BroadcastOutcome(ev OutcomeEvent)
}

// Service drives a single order through PENDING to a terminal state across
// the member, space, reservation, and gateway collaborators.
type Service struct {
	members      MemberClient
	spaces       SpaceClient
	reservations ReservationClient
	gateway      PaymentGateway
	store        OrderStore
	notifier     OutcomeNotifier
	events       EventBroadcaster
	callbackBase string
	logf         func(format string, args ...any)
}

// NewService constructs a Service. callbackBase is the externally reachable
// base URL embedded in the gateway's redirect callbacks. events may be nil.
func NewService(
	members MemberClient,
	spaces SpaceClient,
	reservations ReservationClient,
	gateway PaymentGateway,
	store OrderStore,
	notifier OutcomeNotifier,
	events EventBroadcaster,
	callbackBase string,
	logf func(format string, args ...any),
) *Service {
	if logf == nil {
		logf = log.Printf
	}
	return &Service{
		members:      members,
		spaces:       spaces,
		reservations: reservations,
		gateway:      gateway,
		store:        store,
		notifier:     notifier,
		events:       events,
		callbackBase: callbackBase,
		logf:         logf,
	}
}

// Ready runs the synchronous phase: quote, register the reservation to fix
// the order number, prepare the gateway charge, persist PENDING, and hand
// the reservation correlation to the broker. Returns the redirect URL the
// user must visit to authorize the charge.
//
// Failures before the record is written leave no record. An orphaned
// reservation or prepare handle is tolerated: nothing has been captured and
// the reservation service expires unconfirmed holds on its own.
func (s *Service) Ready(ctx context.Context, req ReadyRequest, ident Identity, bearer string) (string, error) {
	var userName string
	var quote Quote

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		name, err := s.members.GetMember(gctx, ident.UserID, bearer)
		if err != nil {
			return fmt.Errorf("member lookup: %w", err)
		}
		userName = name
		return nil
	})
	g.Go(func() error {
		q, err := s.spaces.PreOrder(gctx, req, bearer)
		if err != nil {
			return fmt.Errorf("space pre-order: %w", err)
		}
		quote = q
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	// Linearization point: the reservation service assigns the order number
	// the rest of the saga is keyed on.
	orderNumber, err := s.reservations.Ready(ctx, ReservationRegistration{
		ReadyRequest: req,
		UserName:     userName,
		SpaceName:    quote.SpaceName,
	}, bearer)
	if err != nil {
		return "", fmt.Errorf("reservation ready: %w", err)
	}

	prepared, err := s.gateway.Prepare(ctx, PrepareRequest{
		OrderNumber: orderNumber,
		UserID:      ident.UserID,
		ItemName:    quote.SpaceName,
		Quantity:    quote.Quantity,
		TotalAmount: quote.TotalAmount,
		ApprovalURL: s.callbackURL("approval", orderNumber),
		CancelURL:   s.callbackURL("cancel", orderNumber),
		FailURL:     s.callbackURL("fail", orderNumber),
	})
	if err != nil {
		return "", fmt.Errorf("gateway prepare: %w", err)
	}

	rec, created, err := s.store.CreatePending(ctx, Order{
		OrderNumber: orderNumber,
		SpaceID:     req.SpaceID,
		SpaceName:   quote.SpaceName,
		UserID:      ident.UserID,
		UserName:    userName,
		TID:         prepared.TID,
		Status:      StatusPending,
		Amount:      quote.TotalAmount,
	})
	if err != nil {
		return "", fmt.Errorf("persist pending order: %w", err)
	}
	if !created {
		// Retried ready phase: keep the originally stored handle so the
		// record's TID stays immutable. The freshly minted handle is orphaned
		// at the provider, which is acceptable before capture.
		s.logf("ready retried for order %s, reusing stored record", orderNumber)
	}
	s.audit(ctx, orderNumber, "ready", "")

	if err := s.notifier.ReadyApproval(ctx, orderNumber, rec.ID); err != nil {
		return "", fmt.Errorf("publish ready-approval: %w", err)
	}

	s.broadcast(rec)
	return prepared.RedirectURL, nil
}

// Approve runs the confirm phase: authorize the prepared charge under the
// record's row lock, reconcile the authorized amount, persist COMPLETED, and
// publish the approval outcome. Re-delivery on a terminal order is a no-op
// returning the stored outcome.
func (s *Service) Approve(ctx context.Context, orderNumber, pgToken string, ident Identity) (Order, error) {
	updated, err := s.store.Complete(ctx, orderNumber, func(rec Order) (Approval, error) {
		approval, err := s.gateway.Approve(ctx, ApproveRequest{
			TID:         rec.TID,
			OrderNumber: rec.OrderNumber,
			UserID:      rec.UserID,
			PGToken:     pgToken,
		})
		if err != nil {
			return Approval{}, fmt.Errorf("gateway approve: %w", err)
		}
		if approval.Amount != rec.Amount {
			// The gateway figure is stored as authoritative, but a divergence
			// from the quote is never accepted silently.
			s.logf("amount mismatch for order %s: quoted %d, authorized %d",
				rec.OrderNumber, rec.Amount, approval.Amount)
			s.audit(ctx, rec.OrderNumber, "amount_mismatch",
				fmt.Sprintf("quoted=%d authorized=%d", rec.Amount, approval.Amount))
		}
		return approval, nil
	})
	if errors.Is(err, ErrAlreadyFinal) {
		return updated, nil
	}
	if err != nil {
		return Order{}, err
	}

	s.audit(ctx, orderNumber, "completed", updated.PaymentMethod)
	if err := s.notifier.Approval(ctx, orderNumber); err != nil {
		return Order{}, fmt.Errorf("publish approval: %w", err)
	}

	s.broadcast(updated)
	return updated, nil
}

// Fail marks a pending order FAILED and publishes the outcome. Already
// terminal orders are a no-op returning the stored state.
func (s *Service) Fail(ctx context.Context, orderNumber string) (Order, error) {
	rec, changed, err := s.store.MarkFailed(ctx, orderNumber)
	if err != nil {
		return Order{}, err
	}
	if !changed {
		return rec, nil
	}

	s.audit(ctx, orderNumber, "failed", "")
	if err := s.notifier.ReadyFail(ctx, orderNumber); err != nil {
		return Order{}, fmt.Errorf("publish ready-fail: %w", err)
	}

	s.broadcast(rec)
	return rec, nil
}

// Cancel marks a pending order CANCELED and updates the reservation
// synchronously; cancellation has no broker topic. Already terminal orders
// are a no-op returning the stored state.
func (s *Service) Cancel(ctx context.Context, orderNumber, bearer string) (Order, error) {
	rec, changed, err := s.store.MarkCanceled(ctx, orderNumber)
	if err != nil {
		return Order{}, err
	}
	if !changed {
		return rec, nil
	}

	s.audit(ctx, orderNumber, "canceled", "")
	if err := s.reservations.Cancel(ctx, orderNumber, bearer); err != nil {
		return Order{}, fmt.Errorf("reservation cancel: %w", err)
	}

	s.broadcast(rec)
	return rec, nil
}

// List returns the caller's own order records. limit is clamped to 1..100.
func (s *Service) List(ctx context.Context, userID string, skip, limit int) ([]Order, error) {
	if skip < 0 {
		skip = 0
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListByUser(ctx, userID, skip, limit)
}

func (s *Service) callbackURL(leg, orderNumber string) string {
	return fmt.Sprintf("%s/api/v1/payments/kakao/%s?order_number=%s",
		s.callbackBase, leg, url.QueryEscape(orderNumber))
}

// audit appends a payment event row; failures are logged, never fatal.
func (s *Service) audit(ctx context.Context, orderNumber, event, detail string) {
	if err := s.store.AddEvent(ctx, orderNumber, event, detail); err != nil {
		s.logf("audit event %q for order %s: %v", event, orderNumber, err)
	}
}

func (s *Service) broadcast(rec Order) {
	if s.events == nil {
		return
	}
	s.events.BroadcastOutcome(OutcomeEvent{
		OrderNumber: rec.OrderNumber,
		Status:      rec.Status,
		Amount:      rec.Amount,
	})
}
