package clients

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Spaces-Place/space-place-payment/internal/payment"
)

// KakaoClient is the KakaoPay gateway client. Prepare and Approve are not
// idempotent at the provider: every prepare call mints a new charge handle.
type KakaoClient struct {
	http *resty.Client
	cid  string
}

// NewKakaoClient constructs a gateway client. cid is the merchant code
// ("TC0ONETIME" on the sandbox).
func NewKakaoClient(baseURL, secretKey, cid string, timeout time.Duration) *KakaoClient {
	return &KakaoClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Authorization", "SECRET_KEY "+secretKey),
		cid: cid,
	}
}

type kakaoReadyRequest struct {
	CID            string `json:"cid"`
	PartnerOrderID string `json:"partner_order_id"`
	PartnerUserID  string `json:"partner_user_id"`
	ItemName       string `json:"item_name"`
	Quantity       int    `json:"quantity"`
	TotalAmount    int64  `json:"total_amount"`
	TaxFreeAmount  int64  `json:"tax_free_amount"`
	ApprovalURL    string `json:"approval_url"`
	CancelURL      string `json:"cancel_url"`
	FailURL        string `json:"fail_url"`
}

type kakaoReadyResponse struct {
	TID               *string `json:"tid"`
	NextRedirectPCURL *string `json:"next_redirect_pc_url"`
}

// Prepare opens a charge at the gateway and returns the handle plus the
// user-facing redirect target.
func (c *KakaoClient) Prepare(ctx context.Context, req payment.PrepareRequest) (payment.Prepared, error) {
	var out kakaoReadyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(kakaoReadyRequest{
			CID:            c.cid,
			PartnerOrderID: req.OrderNumber,
			PartnerUserID:  req.UserID,
			ItemName:       req.ItemName,
			Quantity:       req.Quantity,
			TotalAmount:    req.TotalAmount,
			TaxFreeAmount:  req.TotalAmount,
			ApprovalURL:    req.ApprovalURL,
			CancelURL:      req.CancelURL,
			FailURL:        req.FailURL,
		}).
		SetResult(&out).
		Post("/online/v1/payment/ready")
	if err := classify("kakaopay", resp, err); err != nil {
		return payment.Prepared{}, err
	}
	if out.TID == nil || *out.TID == "" {
		return payment.Prepared{}, missing("kakaopay", "tid")
	}
	if out.NextRedirectPCURL == nil || *out.NextRedirectPCURL == "" {
		return payment.Prepared{}, missing("kakaopay", "next_redirect_pc_url")
	}
	return payment.Prepared{TID: *out.TID, RedirectURL: *out.NextRedirectPCURL}, nil
}

type kakaoApproveRequest struct {
	CID            string `json:"cid"`
	TID            string `json:"tid"`
	PartnerOrderID string `json:"partner_order_id"`
	PartnerUserID  string `json:"partner_user_id"`
	PGToken        string `json:"pg_token"`
}

type kakaoApproveResponse struct {
	PaymentMethodType *string `json:"payment_method_type"`
	Amount            *struct {
		Total *int64 `json:"total"`
	} `json:"amount"`
}

// Approve authorizes a prepared charge with the user's pg_token and returns
// the settled method and amount.
func (c *KakaoClient) Approve(ctx context.Context, req payment.ApproveRequest) (payment.Approval, error) {
	var out kakaoApproveResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(kakaoApproveRequest{
			CID:            c.cid,
			TID:            req.TID,
			PartnerOrderID: req.OrderNumber,
			PartnerUserID:  req.UserID,
			PGToken:        req.PGToken,
		}).
		SetResult(&out).
		Post("/online/v1/payment/approve")
	if err := classify("kakaopay", resp, err); err != nil {
		return payment.Approval{}, err
	}
	if out.PaymentMethodType == nil || *out.PaymentMethodType == "" {
		return payment.Approval{}, missing("kakaopay", "payment_method_type")
	}
	if out.Amount == nil || out.Amount.Total == nil {
		return payment.Approval{}, missing("kakaopay", "amount.total")
	}
	return payment.Approval{
		PaymentMethod: *out.PaymentMethodType,
		Amount:        *out.Amount.Total,
	}, nil
}
