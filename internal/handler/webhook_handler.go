package handler

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"

	"github.com/aydintuna/sms-router/internal/domain"
	"github.com/aydintuna/sms-router/internal/service"
	"github.com/aydintuna/sms-router/internal/signature"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// InboundRouter is the slice of the routing service the webhook handler uses.
type InboundRouter interface {
	HandleInbound(ctx context.Context, msg service.InboundMessage) (string, error)
	ApplyDeliveryStatus(ctx context.Context, providerMessageID string, carrierStatus string) error
}

type WebhookHandler struct {
	router    InboundRouter
	validator *signature.Validator
	logger    *zap.Logger
}

func NewWebhookHandler(router InboundRouter, validator *signature.Validator, logger *zap.Logger) (*WebhookHandler, error) {
	if router == nil {
		return nil, errors.New("inbound router is required")
	}
	if validator == nil {
		return nil, errors.New("signature validator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{router: router, validator: validator, logger: logger}, nil
}

func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/webhooks/inbound", h.HandleInbound)
	app.Post("/webhooks/status", h.HandleStatus)
}

// HandleInbound receives a carrier message webhook. The signature covers the
// raw body, so it is checked before any form parsing. The acknowledgment is
// carrier-format XML; a non-empty reply from the router rides back in it so
// no outbound send is needed for the guidance path.
func (h *WebhookHandler) HandleInbound(c *fiber.Ctx) error {
	if !h.validator.Valid(c.Body(), c.Get(signature.Header)) {
		h.logger.Warn("rejected inbound webhook with invalid signature",
			zap.String("remoteAddr", c.IP()),
		)
		return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook signature")
	}

	msg := service.InboundMessage{
		ProviderMessageID: c.FormValue("MessageSid"),
		From:              c.FormValue("From"),
		Body:              c.FormValue("Body"),
	}

	reply, err := h.router.HandleInbound(c.UserContext(), msg)
	if errors.Is(err, domain.ErrValidation) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		// A 5xx makes the carrier redeliver; the dedup marker was
		// released so the retry will be processed.
		h.logger.Error("inbound webhook processing failed",
			zap.String("providerMessageId", msg.ProviderMessageID),
			zap.Error(err),
		)
		return fiber.NewError(fiber.StatusInternalServerError, "inbound processing failed")
	}

	c.Set(fiber.HeaderContentType, "text/xml")
	return c.SendString(ackResponse(reply))
}

// HandleStatus receives delivery-status callbacks for outbound messages.
func (h *WebhookHandler) HandleStatus(c *fiber.Ctx) error {
	if !h.validator.Valid(c.Body(), c.Get(signature.Header)) {
		h.logger.Warn("rejected status webhook with invalid signature",
			zap.String("remoteAddr", c.IP()),
		)
		return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook signature")
	}

	providerMessageID := c.FormValue("MessageSid")
	status := c.FormValue("MessageStatus")

	err := h.router.ApplyDeliveryStatus(c.UserContext(), providerMessageID, status)
	if errors.Is(err, domain.ErrValidation) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		h.logger.Error("status webhook processing failed",
			zap.String("providerMessageId", providerMessageID),
			zap.Error(err),
		)
		return fiber.NewError(fiber.StatusInternalServerError, "status processing failed")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func ackResponse(reply string) string {
	if reply == "" {
		return `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	}

	var escaped bytes.Buffer
	// Static reply texts today, but escape anyway.
	_ = xml.EscapeText(&escaped, []byte(reply))
	return `<?xml version="1.0" encoding="UTF-8"?><Response><Message>` + escaped.String() + `</Message></Response>`
}
