package domain

import (
	"fmt"
	"strings"
	"time"
)

// FinalStatus represents the delivery lifecycle state of a usage log entry.
type FinalStatus string

const (
	StatusPendingRetry FinalStatus = "PENDING_RETRY"
	StatusRetrying     FinalStatus = "RETRYING"
	StatusSent         FinalStatus = "SENT"
	StatusDelivered    FinalStatus = "DELIVERED"
	StatusFailed       FinalStatus = "FAILED"
)

func (s FinalStatus) String() string { return string(s) }

func (s FinalStatus) IsValid() bool {
	switch s {
	case StatusPendingRetry, StatusRetrying, StatusSent, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further send attempts may happen for the
// entry. DELIVERED and SENT entries still accept delivery confirmations.
func (s FinalStatus) IsTerminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Precedence orders statuses for commutative delivery-callback updates.
// A status update is applied only when it outranks the stored one, so
// DELIVERED wins regardless of callback arrival order.
func (s FinalStatus) Precedence() int {
	switch s {
	case StatusDelivered:
		return 5
	case StatusFailed:
		return 4
	case StatusSent:
		return 3
	case StatusRetrying:
		return 2
	case StatusPendingRetry:
		return 1
	default:
		return 0
	}
}

func ParseFinalStatusFromString(s string) (FinalStatus, error) {
	st := FinalStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Direction distinguishes carrier-originated messages from replies we send.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

func (d Direction) String() string { return string(d) }

func (d Direction) IsValid() bool {
	switch d {
	case DirectionInbound, DirectionOutbound:
		return true
	}
	return false
}

func ParseDirectionFromString(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", fmt.Errorf("%w: invalid direction %q", ErrValidation, s)
	}
	return d, nil
}

// MaxSMSContent is the single-segment SMS character limit.
const MaxSMSContent = 1600

// UsageLogEntry is the append-only audit record for every message attempt.
// It is the single source of truth for the retry pipeline: all retry state
// lives here and the scheduler re-derives its work from a query each tick.
type UsageLogEntry struct {
	ID                string
	UserID            *string
	PhoneNumber       string
	Direction         Direction
	Content           string
	Success           bool
	DurationMs        int64
	ErrorCode         *int
	ErrorMessage      *string
	RetryCount        int
	MaxRetries        int
	NextRetryAt       *time.Time
	FinalStatus       FinalStatus
	ProviderMessageID *string
	DeliveredAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (e *UsageLogEntry) Validate() error {
	if _, err := NormalizePhone(e.PhoneNumber); err != nil {
		return err
	}
	if !e.Direction.IsValid() {
		return fmt.Errorf("%w: invalid direction %q", ErrValidation, e.Direction)
	}
	if !e.FinalStatus.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.FinalStatus)
	}
	if e.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if contentLen := len([]rune(e.Content)); contentLen > MaxSMSContent {
		return fmt.Errorf("%w: content exceeds %d characters (got %d)", ErrValidation, MaxSMSContent, contentLen)
	}
	if e.RetryCount < 0 || e.RetryCount > e.MaxRetries {
		return fmt.Errorf("%w: retry count %d outside [0, %d]", ErrValidation, e.RetryCount, e.MaxRetries)
	}
	if (e.FinalStatus == StatusPendingRetry) != (e.NextRetryAt != nil) {
		return fmt.Errorf("%w: next retry timestamp must be set exactly when status is %s", ErrValidation, StatusPendingRetry)
	}
	return nil
}
