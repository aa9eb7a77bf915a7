package payment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// NewInMemoryOrderStore constructs an in-memory order store.
func NewInMemoryOrderStore() *InMemoryOrderStore {
	return &InMemoryOrderStore{records: make(map[string]Order)}
}

// InMemoryOrderStore keeps order records in a map. It mirrors the Postgres
// store's semantics: upsert-if-absent creation, terminal states stay put,
// and completion runs the authorize callback under the store lock.
type InMemoryOrderStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]Order
	events  []StoredEvent
}

// StoredEvent is one recorded audit entry.
type StoredEvent struct {
	OrderNumber string
	Event       string
	Detail      string
}

func (s *InMemoryOrderStore) CreatePending(ctx context.Context, rec Order) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.OrderNumber]; ok {
		return existing, false, nil
	}
	s.nextID++
	rec.ID = s.nextID
	rec.Status = StatusPending
	rec.CreatedAt = time.Now()
	s.records[rec.OrderNumber] = rec
	return rec, true, nil
}

func (s *InMemoryOrderStore) GetByOrderNumber(ctx context.Context, orderNumber string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[orderNumber]
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	return rec, nil
}

func (s *InMemoryOrderStore) Complete(ctx context.Context, orderNumber string, authorize func(Order) (Approval, error)) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[orderNumber]
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	if rec.Status != StatusPending {
		return rec, ErrAlreadyFinal
	}
	approval, err := authorize(rec)
	if err != nil {
		return Order{}, err
	}
	rec.Status = StatusCompleted
	rec.PaymentMethod = approval.PaymentMethod
	rec.Amount = approval.Amount
	s.records[orderNumber] = rec
	return rec, nil
}

func (s *InMemoryOrderStore) MarkFailed(ctx context.Context, orderNumber string) (Order, bool, error) {
	return s.mark(orderNumber, StatusFailed)
}

func (s *InMemoryOrderStore) MarkCanceled(ctx context.Context, orderNumber string) (Order, bool, error) {
	return s.mark(orderNumber, StatusCanceled)
}

func (s *InMemoryOrderStore) mark(orderNumber string, to Status) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[orderNumber]
	if !ok {
		return Order{}, false, ErrUnknownOrder
	}
	if rec.Status != StatusPending {
		return rec, false, nil
	}
	rec.Status = to
	s.records[orderNumber] = rec
	return rec, true, nil
}

func (s *InMemoryOrderStore) ListByUser(ctx context.Context, userID string, skip, limit int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Order
	for _, rec := range s.records {
		if rec.UserID == userID {
			all = append(all, rec)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if skip >= len(all) {
		return nil, nil
	}
	all = all[skip:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *InMemoryOrderStore) AddEvent(ctx context.Context, orderNumber, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, StoredEvent{OrderNumber: orderNumber, Event: event, Detail: detail})
	return nil
}

// Events returns a copy of the recorded audit entries.
func (s *InMemoryOrderStore) Events() []StoredEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredEvent, len(s.events))
	copy(out, s.events)
	return out
}
