package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aydintuna/sms-router/internal/domain"
	"github.com/aydintuna/sms-router/internal/repository"
	"go.uber.org/zap"
)

// UsageSummary is the rollup served by the analytics endpoints. Success rate
// and cost count only outbound traffic; inbound messages are free.
type UsageSummary struct {
	UserID        *string          `json:"userId,omitempty"`
	From          *time.Time       `json:"from,omitempty"`
	To            *time.Time       `json:"to,omitempty"`
	InboundTotal  int64            `json:"inboundTotal"`
	OutboundTotal int64            `json:"outboundTotal"`
	Outbound      map[string]int64 `json:"outbound"`
	SuccessRate   float64          `json:"successRate"`
	EstimatedCost float64          `json:"estimatedCost"`
}

type AnalyticsService struct {
	usage          repository.UsageLogRepository
	costPerMessage float64
	logger         *zap.Logger
}

func NewAnalyticsService(usage repository.UsageLogRepository, costPerMessage float64, logger *zap.Logger) (*AnalyticsService, error) {
	if usage == nil {
		return nil, fmt.Errorf("usage log repository is required")
	}
	if costPerMessage < 0 {
		return nil, fmt.Errorf("cost per message must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AnalyticsService{
		usage:          usage,
		costPerMessage: costPerMessage,
		logger:         logger,
	}, nil
}

// Summary aggregates usage counts for the given scope. A nil UserID yields
// the system-wide rollup.
func (s *AnalyticsService) Summary(ctx context.Context, params repository.SummaryParams) (*UsageSummary, error) {
	if params.From != nil && params.To != nil && params.To.Before(*params.From) {
		return nil, fmt.Errorf("%w: time range end precedes start", domain.ErrValidation)
	}

	counts, err := s.usage.CountsByStatus(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage counts: %w", err)
	}

	summary := &UsageSummary{
		UserID:   params.UserID,
		From:     params.From,
		To:       params.To,
		Outbound: make(map[string]int64),
	}

	var succeeded int64
	for _, c := range counts {
		switch c.Direction {
		case domain.DirectionInbound:
			summary.InboundTotal += c.Count
		case domain.DirectionOutbound:
			summary.OutboundTotal += c.Count
			summary.Outbound[string(c.Status)] += c.Count
			if c.Status == domain.StatusSent || c.Status == domain.StatusDelivered {
				succeeded += c.Count
			}
		}
	}

	if summary.OutboundTotal > 0 {
		summary.SuccessRate = float64(succeeded) / float64(summary.OutboundTotal)
	}
	summary.EstimatedCost = s.costPerMessage * float64(succeeded)

	return summary, nil
}
