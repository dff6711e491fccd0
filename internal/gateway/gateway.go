package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Gateway is the outbound SMS delivery port. Implementations do not retry;
// retries are owned by the retry scheduler so the transport stays stateless
// and swappable.
type Gateway interface {
	Send(ctx context.Context, to string, body string) (*SendResult, error)
}

// SendResult stores carrier call metadata for audit and persistence.
type SendResult struct {
	ProviderMessageID string
	StatusCode        int
	Body              string
}

// CodeTransportFailure is the synthetic carrier code recorded when the call
// never produced a carrier error payload (connect failure, timeout). It is
// unknown to the classifier on purpose, which makes it retryable by default.
const CodeTransportFailure = 0

// DeliveryError is the typed failure shape consumed by the error classifier.
type DeliveryError struct {
	Code       int
	StatusCode int
	Message    string
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "delivery error")

	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ErrorCode extracts the carrier error code from a send failure.
// Non-DeliveryError failures map to CodeTransportFailure.
func ErrorCode(err error) int {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Code
	}
	return CodeTransportFailure
}
