package payment

import "errors"

// ErrCollaboratorUnavailable signals a network failure, timeout, or 5xx
// from a collaborator. Surfaced to callers as a generic internal error and
// never retried within the request.
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

// ErrCollaboratorRejected signals a 4xx from a collaborator (bad input).
var ErrCollaboratorRejected = errors.New("collaborator rejected request")

// ErrMissingField signals a collaborator response without a required field.
var ErrMissingField = errors.New("collaborator response missing required field")

// ErrUnknownOrder signals that no record exists for the order number.
var ErrUnknownOrder = errors.New("unknown order")

// ErrAlreadyFinal signals a confirm attempt on a terminal order. Callers
// treat it as an idempotent no-op and return the stored outcome.
var ErrAlreadyFinal = errors.New("order already in a terminal state")
