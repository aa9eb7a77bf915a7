package payment

import "time"

// Status captures the lifecycle state of an order record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Order is the persisted payment record, keyed by the reservation-assigned
// order number. TID is the gateway handle minted during prepare; it is set
// once at creation and never changes.
type Order struct {
	ID            int64     `json:"payment_id"`
	OrderNumber   string    `json:"order_number"`
	SpaceID       string    `json:"space_id"`
	SpaceName     string    `json:"space_name"`
	UserID        string    `json:"user_id"`
	UserName      string    `json:"user_name"`
	TID           string    `json:"-"`
	Status        Status    `json:"status"`
	Amount        int64     `json:"amount"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReadyRequest is the order intent submitted by the user.
type ReadyRequest struct {
	SpaceID   string `json:"space_id" binding:"required"`
	UseDate   string `json:"use_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Identity is the requester resolved from a bearer credential.
type Identity struct {
	UserID string
	Name   string
}

// Quote is the pricing collaborator's answer for an order intent.
type Quote struct {
	SpaceName   string
	TotalAmount int64
	Quantity    int
}

// Prepared is the gateway's answer to a prepare call: the charge handle
// plus the user-facing redirect target.
type Prepared struct {
	TID         string
	RedirectURL string
}

// Approval is the gateway's answer to an authorize call.
type Approval struct {
	PaymentMethod string
	Amount        int64
}
