package handler

import (
	"errors"
	"net/url"

	"github.com/aydintuna/sms-router/internal/domain"
	"github.com/aydintuna/sms-router/internal/repository"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// PhoneMappingHandler exposes the operator surface of the identity store.
// Registration is assumed to happen after out-of-band verification; the API
// itself does not run a verification flow.
type PhoneMappingHandler struct {
	phones repository.PhoneMappingRepository
	logger *zap.Logger
}

type registerMappingRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	UserID      string `json:"userId"`
}

func NewPhoneMappingHandler(phones repository.PhoneMappingRepository, logger *zap.Logger) (*PhoneMappingHandler, error) {
	if phones == nil {
		return nil, errors.New("phone mapping repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PhoneMappingHandler{phones: phones, logger: logger}, nil
}

func (h *PhoneMappingHandler) Register(app *fiber.App) {
	app.Post("/v1/phone-mappings", h.RegisterMapping)
	app.Post("/v1/phone-mappings/:phone/deactivate", h.DeactivateMapping)
	app.Get("/v1/phone-mappings/:phone", h.GetMapping)
}

func (h *PhoneMappingHandler) RegisterMapping(c *fiber.Ctx) error {
	var req registerMappingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "userId is required")
	}

	phone, err := domain.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return err
	}

	mapping, err := h.phones.Register(c.UserContext(), phone, req.UserID)
	if errors.Is(err, domain.ErrConflict) {
		return fiber.NewError(fiber.StatusConflict, "phone number is actively mapped to another user")
	}
	if err != nil {
		h.logger.Error("failed to register phone mapping",
			zap.String("userId", req.UserID),
			zap.Error(err),
		)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to register phone mapping")
	}

	return c.Status(fiber.StatusCreated).JSON(mapping)
}

func (h *PhoneMappingHandler) DeactivateMapping(c *fiber.Ctx) error {
	phone, err := phoneParam(c)
	if err != nil {
		return err
	}

	err = h.phones.Deactivate(c.UserContext(), phone)
	if errors.Is(err, domain.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no active mapping for phone number")
	}
	if err != nil {
		h.logger.Error("failed to deactivate phone mapping", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to deactivate phone mapping")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *PhoneMappingHandler) GetMapping(c *fiber.Ctx) error {
	phone, err := phoneParam(c)
	if err != nil {
		return err
	}

	mapping, err := h.phones.GetByPhone(c.UserContext(), phone)
	if errors.Is(err, domain.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "phone number is not mapped")
	}
	if err != nil {
		h.logger.Error("failed to fetch phone mapping", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch phone mapping")
	}

	return c.JSON(mapping)
}

// phoneParam decodes and normalizes the ":phone" path segment. The leading
// plus arrives percent-encoded.
func phoneParam(c *fiber.Ctx) (string, error) {
	raw, err := url.PathUnescape(c.Params("phone"))
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid phone number encoding")
	}
	return domain.NormalizePhone(raw)
}
