package clients

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Spaces-Place/space-place-payment/internal/payment"
)

// SpaceClient quotes order intents against the space service.
type SpaceClient struct {
	http *resty.Client
}

// NewSpaceClient constructs a space client for the given base URL.
func NewSpaceClient(baseURL string, timeout time.Duration) *SpaceClient {
	return &SpaceClient{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}
}

type preOrderResponse struct {
	SpaceName   *string `json:"space_name"`
	TotalAmount *int64  `json:"total_amount"`
	Quantity    *int    `json:"quantity"`
}

// PreOrder asks the space service for the name and price of the intent.
func (c *SpaceClient) PreOrder(ctx context.Context, req payment.ReadyRequest, bearer string) (payment.Quote, error) {
	var out preOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", bearerHeader(bearer)).
		SetBody(req).
		SetResult(&out).
		Post("/spaces/pre-order")
	if err := classify("space", resp, err); err != nil {
		return payment.Quote{}, err
	}
	if out.SpaceName == nil || *out.SpaceName == "" {
		return payment.Quote{}, missing("space", "space_name")
	}
	if out.TotalAmount == nil {
		return payment.Quote{}, missing("space", "total_amount")
	}
	if out.Quantity == nil {
		return payment.Quote{}, missing("space", "quantity")
	}
	return payment.Quote{
		SpaceName:   *out.SpaceName,
		TotalAmount: *out.TotalAmount,
		Quantity:    *out.Quantity,
	}, nil
}
