package clients

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Spaces-Place/space-place-payment/internal/payment"
)

// Authenticator resolves a bearer credential to a requester identity.
type Authenticator struct {
	http *resty.Client
}

// NewAuthenticator constructs an authenticator backed by the member service.
func NewAuthenticator(baseURL string, timeout time.Duration) *Authenticator {
	return &Authenticator{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}
}

type verifyResponse struct {
	UserID *string `json:"user_id"`
	Name   *string `json:"name"`
}

// Authenticate verifies the token with the member service and returns the
// requester. A 4xx means the credential is invalid.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (payment.Identity, error) {
	var out verifyResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeader("Authorization", bearerHeader(token)).
		SetResult(&out).
		Get("/members/me")
	if err := classify("member", resp, err); err != nil {
		return payment.Identity{}, err
	}
	if out.UserID == nil || *out.UserID == "" {
		return payment.Identity{}, missing("member", "user_id")
	}
	ident := payment.Identity{UserID: *out.UserID}
	if out.Name != nil {
		ident.Name = *out.Name
	}
	return ident, nil
}
