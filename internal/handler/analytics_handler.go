package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aydintuna/sms-router/internal/domain"
	"github.com/aydintuna/sms-router/internal/repository"
	"github.com/aydintuna/sms-router/internal/service"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type SummaryProvider interface {
	Summary(ctx context.Context, params repository.SummaryParams) (*service.UsageSummary, error)
}

type AnalyticsHandler struct {
	analytics SummaryProvider
	logger    *zap.Logger
}

func NewAnalyticsHandler(analytics SummaryProvider, logger *zap.Logger) (*AnalyticsHandler, error) {
	if analytics == nil {
		return nil, errors.New("analytics service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsHandler{analytics: analytics, logger: logger}, nil
}

func (h *AnalyticsHandler) Register(app *fiber.App) {
	app.Get("/v1/analytics/summary", h.SystemSummary)
	app.Get("/v1/analytics/users/:userId/summary", h.UserSummary)
}

func (h *AnalyticsHandler) SystemSummary(c *fiber.Ctx) error {
	params, err := summaryParams(c, nil)
	if err != nil {
		return err
	}
	return h.respond(c, params)
}

func (h *AnalyticsHandler) UserSummary(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	if userID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "user id is required")
	}

	params, err := summaryParams(c, &userID)
	if err != nil {
		return err
	}
	return h.respond(c, params)
}

func (h *AnalyticsHandler) respond(c *fiber.Ctx, params repository.SummaryParams) error {
	summary, err := h.analytics.Summary(c.UserContext(), params)
	if errors.Is(err, domain.ErrValidation) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		h.logger.Error("failed to build usage summary", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to build usage summary")
	}
	return c.JSON(summary)
}

// summaryParams reads the optional RFC 3339 "from" and "to" query bounds.
func summaryParams(c *fiber.Ctx, userID *string) (repository.SummaryParams, error) {
	params := repository.SummaryParams{UserID: userID}

	for _, bound := range []struct {
		name   string
		target **time.Time
	}{
		{name: "from", target: &params.From},
		{name: "to", target: &params.To},
	} {
		raw := strings.TrimSpace(c.Query(bound.name))
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return params, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %q timestamp, expected RFC 3339", bound.name))
		}
		*bound.target = &parsed
	}

	return params, nil
}
