package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aydintuna/sms-router/internal/domain"
	"github.com/aydintuna/sms-router/internal/gateway"
	"github.com/aydintuna/sms-router/internal/observability"
	"github.com/aydintuna/sms-router/internal/ratelimit"
	"github.com/aydintuna/sms-router/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultScanInterval    = 2 * time.Minute
	defaultRetryBatchSize  = 50
	defaultStaleClaimAfter = 10 * time.Minute
)

// RetryScheduler periodically scans the usage log for due retries, claims
// each entry with a conditional update, and re-attempts carrier delivery.
// Multiple instances may scan concurrently; the claim guarantees each entry
// is sent by at most one of them.
type RetryScheduler struct {
	usage           repository.UsageLogRepository
	carrier         gateway.Gateway
	routing         *RoutingService
	limiter         ratelimit.RateLimiter
	logger          *zap.Logger
	metrics         *observability.Metrics
	interval        time.Duration
	batchSize       int
	staleClaimAfter time.Duration
	now             func() time.Time
}

type RetrySchedulerOptions struct {
	Interval        time.Duration
	BatchSize       int
	StaleClaimAfter time.Duration
}

func NewRetryScheduler(
	usage repository.UsageLogRepository,
	carrier gateway.Gateway,
	routing *RoutingService,
	limiter ratelimit.RateLimiter,
	logger *zap.Logger,
	opts RetrySchedulerOptions,
) (*RetryScheduler, error) {
	if usage == nil {
		return nil, fmt.Errorf("usage log repository is required")
	}
	if carrier == nil {
		return nil, fmt.Errorf("delivery gateway is required")
	}
	if routing == nil {
		return nil, fmt.Errorf("routing service is required")
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultScanInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultRetryBatchSize
	}
	if opts.StaleClaimAfter <= 0 {
		opts.StaleClaimAfter = defaultStaleClaimAfter
	}

	return &RetryScheduler{
		usage:           usage,
		carrier:         carrier,
		routing:         routing,
		limiter:         limiter,
		logger:          logger,
		interval:        opts.Interval,
		batchSize:       opts.BatchSize,
		staleClaimAfter: opts.StaleClaimAfter,
		now:             time.Now,
	}, nil
}

func (s *RetryScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs the scan loop until ctx is canceled. One scan runs immediately
// so pending work left over from a restart is picked up without waiting a
// full interval.
func (s *RetryScheduler) Start(ctx context.Context) error {
	s.logger.Info("retry scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("batchSize", s.batchSize),
	)

	s.ScanOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce processes a single batch of due entries. Per-entry failures are
// logged and skipped so one broken entry cannot stall the batch.
func (s *RetryScheduler) ScanOnce(ctx context.Context) {
	staleClaimBefore := s.now().UTC().Add(-s.staleClaimAfter)

	entries, err := s.usage.GetDueForRetry(ctx, s.batchSize, staleClaimBefore)
	if err != nil {
		s.logger.Error("failed to fetch due retries", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}

	s.logger.Info("processing due retries", zap.Int("count", len(entries)))

	for i := range entries {
		if ctx.Err() != nil {
			return
		}
		if err := s.processEntry(ctx, &entries[i], staleClaimBefore); err != nil {
			s.logger.Error("retry attempt failed",
				zap.String("entryId", entries[i].ID),
				zap.Error(err),
			)
		}
	}
}

func (s *RetryScheduler) processEntry(ctx context.Context, entry *domain.UsageLogEntry, staleClaimBefore time.Time) error {
	claimed, err := s.usage.ClaimForRetry(ctx, entry.ID, staleClaimBefore)
	if err != nil {
		return fmt.Errorf("failed to claim entry: %w", err)
	}
	if !claimed {
		// Another instance got there first, or the status moved on.
		return nil
	}

	if err := s.limiter.Wait(ctx, sendScope); err != nil {
		// Leave the claim in place; the stale-claim rescue reschedules it.
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	s.metrics.IncSendsInFlight()
	sendStart := s.now()
	result, sendErr := s.carrier.Send(ctx, entry.PhoneNumber, entry.Content)
	s.metrics.ObserveSendDuration(s.now().Sub(sendStart))
	s.metrics.DecSendsInFlight()

	if sendErr == nil {
		if err := s.usage.MarkSent(ctx, entry.ID, result.ProviderMessageID); err != nil {
			return fmt.Errorf("failed to mark entry sent: %w", err)
		}
		s.metrics.IncMessageSent()
		s.logger.Info("retry delivered",
			zap.String("entryId", entry.ID),
			zap.Int("attempt", entry.RetryCount+1),
		)
		return nil
	}

	return s.routing.resolveFailedAttempt(ctx, entry, entry.RetryCount+1, sendErr)
}
