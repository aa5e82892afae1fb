package models

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrPaymentMismatch       = errors.New("payment intent does not match order")
	ErrPaymentIncomplete     = errors.New("payment has not succeeded")
	ErrSignature             = errors.New("invalid webhook signature")
	ErrUpstream              = errors.New("payment provider error")
	ErrIdempotencyInProgress = errors.New("a request with this idempotency key is still in progress")
	ErrUnauthorized          = errors.New("authentication required")
	ErrForbidden             = errors.New("forbidden")
)

// ValidationError describes a rejected field of an incoming request
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InvalidTransitionError names both ends of a rejected status change
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

func (e InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// UpstreamError wraps a failed call to the payment provider. Retryable is set
// for transport failures, rate limiting and provider 5xx responses.
type UpstreamError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
