package clients

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

// MemberClient looks up requester profiles on the member service.
type MemberClient struct {
	http *resty.Client
}

// NewMemberClient constructs a member client for the given base URL.
func NewMemberClient(baseURL string, timeout time.Duration) *MemberClient {
	return &MemberClient{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}
}

type memberResponse struct {
	Name *string `json:"name"`
}

// GetMember resolves the member's display name, propagating the caller's
// bearer credential.
func (c *MemberClient) GetMember(ctx context.Context, userID, bearer string) (string, error) {
	var out memberResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", bearerHeader(bearer)).
		SetResult(&out).
		Get("/members/" + userID)
	if err := classify("member", resp, err); err != nil {
		return "", err
	}
	if out.Name == nil || *out.Name == "" {
		return "", missing("member", "name")
	}
	return *out.Name, nil
}
