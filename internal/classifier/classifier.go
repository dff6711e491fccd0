package classifier

import (
	"time"
)

// Classification is the retry policy derived from a carrier error code.
type Classification struct {
	Code       int
	Retryable  bool
	MaxRetries int
	BaseDelay  time.Duration
}

// Override replaces the retry budget and base delay for a single code.
// MaxRetries of zero makes the code terminal.
type Override struct {
	MaxRetries int
	BaseDelay  time.Duration
}

const (
	defaultUnknownMaxRetries = 2
	defaultUnknownBaseDelay  = 120 * time.Second
)

// Carrier error codes observed in production. Terminal codes are failures
// where retrying is known futile: bad numbers, blocked content, opt-outs.
const (
	CodeQueueOverflow      = 30001
	CodeAccountSuspended   = 30002
	CodeUnreachableHandset = 30003
	CodeCarrierUnavailable = 30009
	CodeRateLimitExceeded  = 30022
	CodeTooManyRequests    = 20429
	CodeServiceUnavailable = 20503

	CodeInvalidToNumber    = 21211
	CodeRegionNotEnabled   = 21408
	CodeRecipientOptedOut  = 21610
	CodeBlockedByCarrier   = 30004
	CodeLandlineRecipient  = 30006
	CodeMessageFiltered    = 30007
	CodeInvalidMessageBody = 21602
)

var knownCodes = map[int]Classification{
	// Transient network and capacity classes get a short budget; rate-limit
	// classes back off longer so we do not amplify the pressure that caused
	// the rejection in the first place.
	CodeQueueOverflow:      {Code: CodeQueueOverflow, Retryable: true, MaxRetries: 3, BaseDelay: 60 * time.Second},
	CodeUnreachableHandset: {Code: CodeUnreachableHandset, Retryable: true, MaxRetries: 2, BaseDelay: 300 * time.Second},
	CodeCarrierUnavailable: {Code: CodeCarrierUnavailable, Retryable: true, MaxRetries: 3, BaseDelay: 120 * time.Second},
	CodeRateLimitExceeded:  {Code: CodeRateLimitExceeded, Retryable: true, MaxRetries: 3, BaseDelay: 300 * time.Second},
	CodeTooManyRequests:    {Code: CodeTooManyRequests, Retryable: true, MaxRetries: 3, BaseDelay: 300 * time.Second},
	CodeServiceUnavailable: {Code: CodeServiceUnavailable, Retryable: true, MaxRetries: 3, BaseDelay: 60 * time.Second},

	CodeAccountSuspended:   {Code: CodeAccountSuspended, Retryable: false},
	CodeInvalidToNumber:    {Code: CodeInvalidToNumber, Retryable: false},
	CodeRegionNotEnabled:   {Code: CodeRegionNotEnabled, Retryable: false},
	CodeRecipientOptedOut:  {Code: CodeRecipientOptedOut, Retryable: false},
	CodeBlockedByCarrier:   {Code: CodeBlockedByCarrier, Retryable: false},
	CodeLandlineRecipient:  {Code: CodeLandlineRecipient, Retryable: false},
	CodeMessageFiltered:    {Code: CodeMessageFiltered, Retryable: false},
	CodeInvalidMessageBody: {Code: CodeInvalidMessageBody, Retryable: false},
}

// Classifier maps carrier error codes to deterministic retry policies.
// The zero value uses the built-in table with no overrides.
type Classifier struct {
	overrides map[int]Override
}

func New(overrides map[int]Override) *Classifier {
	return &Classifier{overrides: overrides}
}

// Classify is a pure lookup: same code, same classification, every call.
// Unknown codes default to a conservative retryable policy so a new carrier
// code never silently drops a message, while the small budget bounds cost.
func (c *Classifier) Classify(code int) Classification {
	classification, ok := knownCodes[code]
	if !ok {
		classification = Classification{
			Code:       code,
			Retryable:  true,
			MaxRetries: defaultUnknownMaxRetries,
			BaseDelay:  defaultUnknownBaseDelay,
		}
	}

	if c != nil && c.overrides != nil {
		if override, ok := c.overrides[code]; ok {
			classification.MaxRetries = override.MaxRetries
			classification.BaseDelay = override.BaseDelay
			classification.Retryable = override.MaxRetries > 0
		}
	}

	return classification
}

// Backoff computes the delay before the given retry attempt using
// exponential growth seeded by the classification's base delay:
// delay = base * 2^(attempt-1), capped at maxBackoff.
func (cl Classification) Backoff(attempt int) time.Duration {
	const maxBackoff = time.Hour

	if attempt < 1 {
		attempt = 1
	}

	delay := cl.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}

	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
