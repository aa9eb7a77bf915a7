package payment

import (
	"context"
	"fmt"
	"sync"
)

// NewInMemoryMemberClient constructs an in-memory member client.
func NewInMemoryMemberClient() *InMemoryMemberClient {
	return &InMemoryMemberClient{names: make(map[string]string)}
}

// InMemoryMemberClient resolves member names from a local map.
type InMemoryMemberClient struct {
	mu    sync.Mutex
	names map[string]string
}

// SetName registers a member name for lookups.
func (c *InMemoryMemberClient) SetName(userID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[userID] = name
}

func (c *InMemoryMemberClient) GetMember(ctx context.Context, userID, bearer string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.names[userID]
	if !ok {
		return "", fmt.Errorf("member %s: %w", userID, ErrCollaboratorRejected)
	}
	return name, nil
}

// NewInMemorySpaceClient constructs an in-memory space client.
func NewInMemorySpaceClient() *InMemorySpaceClient {
	return &InMemorySpaceClient{quotes: make(map[string]Quote)}
}

// InMemorySpaceClient serves quotes from a local map keyed by space id.
type InMemorySpaceClient struct {
	mu     sync.Mutex
	quotes map[string]Quote
}

// SetQuote registers the quote returned for a space.
func (c *InMemorySpaceClient) SetQuote(spaceID string, q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[spaceID] = q
}

func (c *InMemorySpaceClient) PreOrder(ctx context.Context, req ReadyRequest, bearer string) (Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[req.SpaceID]
	if !ok {
		return Quote{}, fmt.Errorf("space %s: %w", req.SpaceID, ErrCollaboratorRejected)
	}
	return q, nil
}

// NewInMemoryReservationClient constructs an in-memory reservation client.
func NewInMemoryReservationClient() *InMemoryReservationClient {
	return &InMemoryReservationClient{canceled: make(map[string]bool)}
}

// InMemoryReservationClient assigns sequential order numbers and records
// cancellations.
type InMemoryReservationClient struct {
	mu       sync.Mutex
	seq      int
	canceled map[string]bool
}

func (c *InMemoryReservationClient) Ready(ctx context.Context, reg ReservationRegistration, bearer string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return fmt.Sprintf("ORD-%d", c.seq), nil
}

func (c *InMemoryReservationClient) Cancel(ctx context.Context, orderNumber, bearer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled[orderNumber] = true
	return nil
}

// WasCanceled reports whether a cancel reached the reservation side.
func (c *InMemoryReservationClient) WasCanceled(orderNumber string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled[orderNumber]
}

// NewInMemoryGateway constructs an in-memory payment gateway.
func NewInMemoryGateway() *InMemoryGateway {
	return &InMemoryGateway{
		approvals: make(map[string]Approval),
		prepared:  make(map[string]PrepareRequest),
	}
}

// InMemoryGateway mints deterministic handles and records prepare calls.
type InMemoryGateway struct {
	mu        sync.Mutex
	seq       int
	prepared  map[string]PrepareRequest
	approvals map[string]Approval
}

// SetApproval fixes the authorize answer for a handle. Without one, the
// gateway echoes the prepared amount with a default method.
func (g *InMemoryGateway) SetApproval(tid string, a Approval) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approvals[tid] = a
}

func (g *InMemoryGateway) Prepare(ctx context.Context, req PrepareRequest) (Prepared, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	tid := fmt.Sprintf("T%d", g.seq)
	g.prepared[tid] = req
	return Prepared{TID: tid, RedirectURL: "http://pay.example/" + tid}, nil
}

func (g *InMemoryGateway) Approve(ctx context.Context, req ApproveRequest) (Approval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prep, ok := g.prepared[req.TID]
	if !ok {
		return Approval{}, fmt.Errorf("tid %s: %w", req.TID, ErrCollaboratorRejected)
	}
	if a, ok := g.approvals[req.TID]; ok {
		return a, nil
	}
	return Approval{PaymentMethod: "MONEY", Amount: prep.TotalAmount}, nil
}

// PrepareCalls returns how many charges have been prepared.
func (g *InMemoryGateway) PrepareCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// NewInMemoryNotifier constructs an in-memory outcome notifier.
func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{}
}

// NotifierMessage is one recorded outcome notification.
type NotifierMessage struct {
	Topic       string
	OrderNumber string
	PaymentID   int64
}

// InMemoryNotifier records notifications instead of publishing them.
type InMemoryNotifier struct {
	mu       sync.Mutex
	messages []NotifierMessage
}

func (n *InMemoryNotifier) ReadyApproval(ctx context.Context, orderNumber string, paymentID int64) error {
	n.record(NotifierMessage{Topic: "payment.ready-approval", OrderNumber: orderNumber, PaymentID: paymentID})
	return nil
}

func (n *InMemoryNotifier) Approval(ctx context.Context, orderNumber string) error {
	n.record(NotifierMessage{Topic: "payment.approval", OrderNumber: orderNumber})
	return nil
}

func (n *InMemoryNotifier) ReadyFail(ctx context.Context, orderNumber string) error {
	n.record(NotifierMessage{Topic: "payment.ready-fail", OrderNumber: orderNumber})
	return nil
}

func (n *InMemoryNotifier) record(msg NotifierMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

// Messages returns a copy of all recorded notifications.
func (n *InMemoryNotifier) Messages() []NotifierMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotifierMessage, len(n.messages))
	copy(out, n.messages)
	return out
}
