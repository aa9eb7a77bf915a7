// Package clients holds the outbound HTTP clients for the member, space,
// reservation, and KakaoPay collaborators. Clients never retry; reliability
// policy belongs to the orchestrator and the broker consumer.
package clients

import (
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/Spaces-Place/space-place-payment/internal/payment"
)

// classify maps a transport error or non-2xx response onto the error
// taxonomy: network/timeout/5xx are unavailable, 4xx is rejected.
func classify(service string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %v: %w", service, err, payment.ErrCollaboratorUnavailable)
	}
	code := resp.StatusCode()
	switch {
	case code >= 500:
		return fmt.Errorf("%s returned %d: %w", service, code, payment.ErrCollaboratorUnavailable)
	case code >= 400:
		return fmt.Errorf("%s returned %d: %w", service, code, payment.ErrCollaboratorRejected)
	}
	return nil
}

// missing reports a response that parsed but lacks a required field.
func missing(service, field string) error {
	return fmt.Errorf("%s response field %q: %w", service, field, payment.ErrMissingField)
}

func bearerHeader(token string) string {
	return "Bearer " + token
}
