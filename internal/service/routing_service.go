package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aydintuna/sms-router/internal/agent"
	"github.com/aydintuna/sms-router/internal/classifier"
	"github.com/aydintuna/sms-router/internal/domain"
	"github.com/aydintuna/sms-router/internal/gateway"
	"github.com/aydintuna/sms-router/internal/observability"
	"github.com/aydintuna/sms-router/internal/ratelimit"
	"github.com/aydintuna/sms-router/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	sendScope = "send"

	// GuidanceReply is returned in the webhook acknowledgment for phone
	// numbers without an active mapping; no agent is involved.
	GuidanceReply = "This number is not linked to an account yet. Register your phone number in your account settings to start messaging."

	// apologyReply is sent when the agent fails; the inbound message is
	// terminal at that point and the agent is never re-invoked for it.
	apologyReply = "Sorry, something went wrong while handling your message. Please try again in a moment."
)

// DedupCache is the idempotency port for carrier webhook replays.
type DedupCache interface {
	MarkIfFirst(ctx context.Context, providerMessageID string) (bool, error)
	Forget(ctx context.Context, providerMessageID string) error
}

// InboundMessage is a carrier-originated SMS after transport decoding.
type InboundMessage struct {
	ProviderMessageID string
	From              string
	Body              string
}

// RoutingService orchestrates inbound webhook processing: identity
// resolution, agent dispatch, outbound delivery, and retry queuing. It owns
// the usage log together with the retry scheduler; nothing else writes it.
type RoutingService struct {
	phones     repository.PhoneMappingRepository
	usage      repository.UsageLogRepository
	carrier    gateway.Gateway
	agent      agent.Agent
	classifier *classifier.Classifier
	dedup      DedupCache
	limiter    ratelimit.RateLimiter
	logger     *zap.Logger
	metrics    *observability.Metrics
	phoneLocks *keyedMutex
	now        func() time.Time
}

func NewRoutingService(
	phones repository.PhoneMappingRepository,
	usage repository.UsageLogRepository,
	carrier gateway.Gateway,
	agentClient agent.Agent,
	errClassifier *classifier.Classifier,
	dedupCache DedupCache,
	limiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*RoutingService, error) {
	if phones == nil {
		return nil, fmt.Errorf("phone mapping repository is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage log repository is required")
	}
	if carrier == nil {
		return nil, fmt.Errorf("delivery gateway is required")
	}
	if agentClient == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if errClassifier == nil {
		errClassifier = classifier.New(nil)
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RoutingService{
		phones:     phones,
		usage:      usage,
		carrier:    carrier,
		agent:      agentClient,
		classifier: errClassifier,
		dedup:      dedupCache,
		limiter:    limiter,
		logger:     logger,
		phoneLocks: newKeyedMutex(),
		now:        time.Now,
	}, nil
}

func (s *RoutingService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// HandleInbound processes one carrier webhook delivery. The returned string,
// when non-empty, is a reply the handler embeds in the carrier-format
// acknowledgment (used for the unregistered-number guidance path).
//
// Carriers deliver webhooks at least once; replays of an already-seen
// provider message id are no-ops.
func (s *RoutingService) HandleInbound(ctx context.Context, msg InboundMessage) (string, error) {
	if strings.TrimSpace(msg.ProviderMessageID) == "" {
		return "", fmt.Errorf("%w: provider message id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(msg.Body) == "" {
		return "", fmt.Errorf("%w: message body is required", domain.ErrValidation)
	}

	phone, err := domain.NormalizePhone(msg.From)
	if err != nil {
		return "", err
	}

	first, err := s.markFirstDelivery(ctx, msg.ProviderMessageID)
	if err != nil {
		return "", err
	}
	if !first {
		s.metrics.IncInboundWebhook("duplicate")
		s.logger.Info("duplicate inbound webhook ignored",
			zap.String("providerMessageId", msg.ProviderMessageID),
		)
		return "", nil
	}

	// Serialize per phone number so one conversation stays in arrival
	// order; unrelated numbers proceed concurrently.
	s.phoneLocks.Lock(phone)
	defer s.phoneLocks.Unlock(phone)

	started := s.now()

	userID, err := s.phones.Resolve(ctx, phone)
	if errors.Is(err, domain.ErrNotFound) {
		// Deactivated and unknown numbers take the same path: no agent,
		// no user attribution, a guidance reply in the acknowledgment.
		if logErr := s.recordUnidentifiedInbound(ctx, msg, phone); logErr != nil {
			s.logger.Error("failed to record unidentified inbound message",
				zap.String("providerMessageId", msg.ProviderMessageID),
				zap.Error(logErr),
			)
		}
		s.metrics.IncInboundWebhook("unidentified")
		return GuidanceReply, nil
	}
	if err != nil {
		s.forgetDelivery(ctx, msg.ProviderMessageID)
		return "", fmt.Errorf("failed to resolve phone number: %w", err)
	}

	duplicate, err := s.recordInbound(ctx, msg, phone, userID)
	if err != nil {
		s.forgetDelivery(ctx, msg.ProviderMessageID)
		return "", fmt.Errorf("failed to record inbound message: %w", err)
	}
	if duplicate {
		s.metrics.IncInboundWebhook("duplicate")
		return "", nil
	}

	agentStart := s.now()
	reply, agentErr := s.agent.Reply(ctx, userID, msg.Body)
	s.metrics.ObserveAgentDuration(s.now().Sub(agentStart))

	if agentErr != nil {
		// Terminal for this inbound message: re-invoking the agent could
		// duplicate its side effects. The user gets a generic apology.
		s.logger.Error("agent failed",
			zap.String("userId", userID),
			zap.String("providerMessageId", msg.ProviderMessageID),
			zap.Error(agentErr),
		)
		s.metrics.IncInboundWebhook("agent_failed")
		reply = apologyReply
	} else {
		s.metrics.IncInboundWebhook("processed")
	}

	if _, err := s.SendOutbound(ctx, &userID, phone, reply, s.now().Sub(started)); err != nil {
		return "", err
	}

	return "", nil
}

// SendOutbound writes the audit entry, then attempts carrier delivery. The
// entry is created in the claimed RETRYING state before the send so a crash
// between "send attempted" and "result recorded" leaves a retry-eligible
// trace that the scheduler's stale-claim rescue picks up.
func (s *RoutingService) SendOutbound(ctx context.Context, userID *string, phone string, body string, processing time.Duration) (*domain.UsageLogEntry, error) {
	// Bookkeeping must survive a canceled webhook request; the retry path
	// depends on the audit trail being there.
	logCtx := context.WithoutCancel(ctx)

	if runes := []rune(body); len(runes) > domain.MaxSMSContent {
		body = string(runes[:domain.MaxSMSContent])
	}

	entry := &domain.UsageLogEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		PhoneNumber: phone,
		Direction:   domain.DirectionOutbound,
		Content:     body,
		DurationMs:  processing.Milliseconds(),
		FinalStatus: domain.StatusRetrying,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.usage.Create(logCtx, entry); err != nil {
		return nil, fmt.Errorf("failed to create outbound usage entry: %w", err)
	}

	if err := s.limiter.Wait(ctx, sendScope); err != nil {
		// The entry stays claimed; the stale-claim rescue will retry it.
		return entry, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	s.metrics.IncSendsInFlight()
	sendStart := s.now()
	result, sendErr := s.carrier.Send(ctx, phone, body)
	s.metrics.ObserveSendDuration(s.now().Sub(sendStart))
	s.metrics.DecSendsInFlight()

	if sendErr == nil {
		if err := s.usage.MarkSent(logCtx, entry.ID, result.ProviderMessageID); err != nil {
			return entry, fmt.Errorf("failed to mark entry sent: %w", err)
		}
		entry.FinalStatus = domain.StatusSent
		entry.ProviderMessageID = &result.ProviderMessageID
		s.metrics.IncMessageSent()
		return entry, nil
	}

	if err := s.resolveFailedAttempt(logCtx, entry, 1, sendErr); err != nil {
		return entry, err
	}
	return entry, nil
}

// resolveFailedAttempt classifies a send failure and moves the claimed entry
// to its next state: PENDING_RETRY with a backoff, or FAILED when the code
// is terminal or the retry budget is spent. Shared with the retry scheduler.
func (s *RoutingService) resolveFailedAttempt(ctx context.Context, entry *domain.UsageLogEntry, attempt int, sendErr error) error {
	code := gateway.ErrorCode(sendErr)
	message := sendErr.Error()
	classification := s.classifier.Classify(code)

	maxRetries := entry.MaxRetries
	if maxRetries <= 0 {
		maxRetries = classification.MaxRetries
	}

	if !classification.Retryable {
		if err := s.usage.MarkFailed(ctx, entry.ID, entry.RetryCount, &code, &message); err != nil {
			return fmt.Errorf("failed to mark entry failed: %w", err)
		}
		entry.FinalStatus = domain.StatusFailed
		s.metrics.IncMessageFailed("permanent_error")
		s.logger.Warn("message failed with terminal carrier error",
			zap.String("entryId", entry.ID),
			zap.Int("errorCode", code),
		)
		return nil
	}

	if attempt >= maxRetries {
		if err := s.usage.MarkFailed(ctx, entry.ID, attempt, &code, &message); err != nil {
			return fmt.Errorf("failed to mark entry failed: %w", err)
		}
		entry.FinalStatus = domain.StatusFailed
		entry.RetryCount = attempt
		s.metrics.IncMessageFailed("retry_exhausted")
		s.logger.Warn("message failed after exhausting retries",
			zap.String("entryId", entry.ID),
			zap.Int("retryCount", attempt),
			zap.Int("errorCode", code),
		)
		return nil
	}

	nextRetryAt := s.now().UTC().Add(classification.Backoff(attempt))
	if err := s.usage.ScheduleRetry(ctx, entry.ID, attempt, maxRetries, nextRetryAt, &code, &message); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	entry.FinalStatus = domain.StatusPendingRetry
	entry.RetryCount = attempt
	entry.MaxRetries = maxRetries
	entry.NextRetryAt = &nextRetryAt
	s.metrics.IncRetryScheduled()
	return nil
}

// ApplyDeliveryStatus records a delivery-status callback. This is a
// confirmation channel only: it never triggers a send, and it is
// order-independent with respect to the synchronous send result.
func (s *RoutingService) ApplyDeliveryStatus(ctx context.Context, providerMessageID string, carrierStatus string) error {
	if strings.TrimSpace(providerMessageID) == "" {
		return fmt.Errorf("%w: provider message id is required", domain.ErrValidation)
	}

	var status domain.FinalStatus
	var deliveredAt *time.Time

	switch strings.ToLower(strings.TrimSpace(carrierStatus)) {
	case "queued", "sending", "sent":
		status = domain.StatusSent
	case "delivered":
		status = domain.StatusDelivered
		now := s.now().UTC()
		deliveredAt = &now
	case "failed", "undelivered":
		status = domain.StatusFailed
	default:
		return fmt.Errorf("%w: unknown delivery status %q", domain.ErrValidation, carrierStatus)
	}

	applied, err := s.usage.ApplyDeliveryStatus(ctx, providerMessageID, status, deliveredAt)
	if err != nil {
		return fmt.Errorf("failed to apply delivery status: %w", err)
	}
	if !applied {
		// Unknown id or an outranked status; both are fine under
		// at-least-once callback delivery.
		s.logger.Debug("delivery status not applied",
			zap.String("providerMessageId", providerMessageID),
			zap.String("status", carrierStatus),
		)
	}
	return nil
}

// markFirstDelivery consults the Redis dedup cache, falling back to the
// usage log when Redis is unavailable so replays stay no-ops either way.
func (s *RoutingService) markFirstDelivery(ctx context.Context, providerMessageID string) (bool, error) {
	if s.dedup != nil {
		first, err := s.dedup.MarkIfFirst(ctx, providerMessageID)
		if err == nil {
			return first, nil
		}
		s.logger.Warn("dedup cache unavailable, falling back to usage log",
			zap.Error(err),
		)
	}

	_, err := s.usage.GetInboundByProviderMessageID(ctx, providerMessageID)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check inbound dedup: %w", err)
	}
	return false, nil
}

func (s *RoutingService) forgetDelivery(ctx context.Context, providerMessageID string) {
	if s.dedup == nil {
		return
	}
	// Processing failed before any side effect; let the carrier's own
	// retry reprocess the webhook.
	if err := s.dedup.Forget(context.WithoutCancel(ctx), providerMessageID); err != nil {
		s.logger.Warn("failed to clear dedup marker", zap.Error(err))
	}
}

// recordInbound persists the received message before the agent is invoked.
// The unique inbound index makes this the durable replay backstop: a
// concurrent duplicate loses the insert and is dropped.
func (s *RoutingService) recordInbound(ctx context.Context, msg InboundMessage, phone string, userID string) (bool, error) {
	now := s.now().UTC()
	providerMessageID := msg.ProviderMessageID
	entry := &domain.UsageLogEntry{
		ID:                uuid.NewString(),
		UserID:            &userID,
		PhoneNumber:       phone,
		Direction:         domain.DirectionInbound,
		Content:           msg.Body,
		Success:           true,
		FinalStatus:       domain.StatusDelivered,
		ProviderMessageID: &providerMessageID,
		DeliveredAt:       &now,
		CreatedAt:         now,
	}

	if err := s.usage.Create(context.WithoutCancel(ctx), entry); err != nil {
		if existing, lookupErr := s.usage.GetInboundByProviderMessageID(ctx, providerMessageID); lookupErr == nil && existing != nil {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (s *RoutingService) recordUnidentifiedInbound(ctx context.Context, msg InboundMessage, phone string) error {
	now := s.now().UTC()
	providerMessageID := msg.ProviderMessageID
	errMessage := "phone number has no active mapping"
	entry := &domain.UsageLogEntry{
		ID:                uuid.NewString(),
		PhoneNumber:       phone,
		Direction:         domain.DirectionInbound,
		Content:           msg.Body,
		Success:           false,
		FinalStatus:       domain.StatusFailed,
		ErrorMessage:      &errMessage,
		ProviderMessageID: &providerMessageID,
		CreatedAt:         now,
	}
	return s.usage.Create(context.WithoutCancel(ctx), entry)
}
