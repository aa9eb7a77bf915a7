package clients

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Spaces-Place/space-place-payment/internal/payment"
)

// ReservationClient talks to the reservation service. Request-path calls
// propagate the caller's bearer token; consumer-path updates authenticate
// with the configured service credential.
type ReservationClient struct {
	http         *resty.Client
	serviceToken string
}

// NewReservationClient constructs a reservation client for the given base
// URL. serviceToken is the credential used by the broker consumer.
func NewReservationClient(baseURL, serviceToken string, timeout time.Duration) *ReservationClient {
	return &ReservationClient{
		http:         resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		serviceToken: serviceToken,
	}
}

type reservationReadyRequest struct {
	SpaceID   string `json:"space_id"`
	UseDate   string `json:"use_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	UserName  string `json:"user_name"`
	SpaceName string `json:"space_name"`
}

type reservationReadyResponse struct {
	OrderNumber *string `json:"order_number"`
}

// Ready registers a pending reservation and returns the assigned order
// number. This fixes the identifier the rest of the saga is keyed on.
func (c *ReservationClient) Ready(ctx context.Context, reg payment.ReservationRegistration, bearer string) (string, error) {
	var out reservationReadyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", bearerHeader(bearer)).
		SetBody(reservationReadyRequest{
			SpaceID:   reg.SpaceID,
			UseDate:   reg.UseDate,
			StartTime: reg.StartTime,
			EndTime:   reg.EndTime,
			UserName:  reg.UserName,
			SpaceName: reg.SpaceName,
		}).
		SetResult(&out).
		Post("/reservations/kakao/ready")
	if err := classify("reservation", resp, err); err != nil {
		return "", err
	}
	if out.OrderNumber == nil || *out.OrderNumber == "" {
		return "", missing("reservation", "order_number")
	}
	return *out.OrderNumber, nil
}

// Cancel updates the reservation after a user-initiated cancellation. The
// update is idempotent on the reservation side.
func (c *ReservationClient) Cancel(ctx context.Context, orderNumber, bearer string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", bearerHeader(bearer)).
		SetBody(map[string]string{"order_number": orderNumber}).
		Patch("/reservations/kakao/cancel")
	return classify("reservation", resp, err)
}

// ConfirmPaymentID correlates the pending reservation with the stored
// payment record. Consumer path; idempotent on redelivery.
func (c *ReservationClient) ConfirmPaymentID(ctx context.Context, orderNumber string, paymentID int64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", bearerHeader(c.serviceToken)).
		SetBody(map[string]any{"payment_id": paymentID, "order_number": orderNumber}).
		Patch("/reservations/kakao/ready")
	return classify("reservation", resp, err)
}

// Approve confirms the reservation after a completed payment. Consumer
// path; idempotent on redelivery.
func (c *ReservationClient) Approve(ctx context.Context, orderNumber string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", bearerHeader(c.serviceToken)).
		SetBody(map[string]string{"order_number": orderNumber}).
		Patch("/reservations/kakao/approve")
	return classify("reservation", resp, err)
}

// Fail releases the reservation after a failed payment. Consumer path;
// idempotent on redelivery.
func (c *ReservationClient) Fail(ctx context.Context, orderNumber string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", bearerHeader(c.serviceToken)).
		SetBody(map[string]string{"order_number": orderNumber}).
		Patch("/reservations/kakao/fail")
	return classify("reservation", resp, err)
}
