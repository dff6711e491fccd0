package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MappingStatus represents the lifecycle state of a phone mapping.
type MappingStatus string

const (
	MappingStatusActive   MappingStatus = "ACTIVE"
	MappingStatusInactive MappingStatus = "INACTIVE"
)

func (s MappingStatus) String() string { return string(s) }

func (s MappingStatus) IsValid() bool {
	switch s {
	case MappingStatusActive, MappingStatusInactive:
		return true
	}
	return false
}

// PhoneMapping binds an E.164 phone number to a tenant user. At most one
// active mapping may exist per phone number; reassignment requires the prior
// mapping to be deactivated first. Rows are soft-deactivated, never deleted.
type PhoneMapping struct {
	ID          string
	PhoneNumber string
	UserID      string
	Status      MappingStatus
	CreatedAt   time.Time
	VerifiedAt  *time.Time
}

func (m *PhoneMapping) Validate() error {
	if _, err := NormalizePhone(m.PhoneNumber); err != nil {
		return err
	}
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("%w: invalid mapping status %q", ErrValidation, m.Status)
	}
	return nil
}

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// NormalizePhone strips formatting characters and validates the result
// against E.164. A leading "00" international prefix is rewritten to "+".
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if strings.HasPrefix(cleaned, "00") {
		cleaned = "+" + cleaned[2:]
	}

	if !e164Pattern.MatchString(cleaned) {
		return "", fmt.Errorf("%w: phone number %q is not E.164", ErrValidation, raw)
	}

	return cleaned, nil
}
