package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/aydintuna/sms-router/internal/domain"
	"github.com/aydintuna/sms-router/internal/service"
	"github.com/aydintuna/sms-router/internal/signature"
	"github.com/aydintuna/sms-router/internal/transport"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type stubRouter struct {
	handleInboundFn       func(ctx context.Context, msg service.InboundMessage) (string, error)
	applyDeliveryStatusFn func(ctx context.Context, providerMessageID string, carrierStatus string) error
}

func (s *stubRouter) HandleInbound(ctx context.Context, msg service.InboundMessage) (string, error) {
	if s.handleInboundFn != nil {
		return s.handleInboundFn(ctx, msg)
	}
	return "", nil
}

func (s *stubRouter) ApplyDeliveryStatus(ctx context.Context, providerMessageID string, carrierStatus string) error {
	if s.applyDeliveryStatusFn != nil {
		return s.applyDeliveryStatusFn(ctx, providerMessageID, carrierStatus)
	}
	return nil
}

func newWebhookApp(t *testing.T, router *stubRouter) (*fiber.App, *signature.Validator) {
	t.Helper()

	validator, err := signature.NewValidator("test-secret")
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	h, err := NewWebhookHandler(router, validator, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWebhookHandler() error = %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	h.Register(app)
	return app, validator
}

func signedForm(t *testing.T, validator *signature.Validator, path string, form url.Values) *http.Request {
	t.Helper()

	body := form.Encode()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(signature.Header, validator.Sign([]byte(body)))
	return req
}

func TestInboundWebhookAck(t *testing.T) {
	t.Parallel()

	var got service.InboundMessage
	router := &stubRouter{
		handleInboundFn: func(ctx context.Context, msg service.InboundMessage) (string, error) {
			got = msg
			return "", nil
		},
	}
	app, validator := newWebhookApp(t, router)

	form := url.Values{}
	form.Set("MessageSid", "SM1")
	form.Set("From", "+15551234567")
	form.Set("Body", "hello")

	resp, err := app.Test(signedForm(t, validator, "/webhooks/inbound", form))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/xml") {
		t.Fatalf("content type = %q, want text/xml", ct)
	}

	payload, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(payload), "<Response></Response>") {
		t.Fatalf("body = %s, want empty ack", payload)
	}

	if got.ProviderMessageID != "SM1" || got.From != "+15551234567" || got.Body != "hello" {
		t.Fatalf("router received %+v", got)
	}
}

func TestInboundWebhookGuidanceReply(t *testing.T) {
	t.Parallel()

	router := &stubRouter{
		handleInboundFn: func(ctx context.Context, msg service.InboundMessage) (string, error) {
			return service.GuidanceReply, nil
		},
	}
	app, validator := newWebhookApp(t, router)

	form := url.Values{}
	form.Set("MessageSid", "SM1")
	form.Set("From", "+15559990000")
	form.Set("Body", "hello")

	resp, err := app.Test(signedForm(t, validator, "/webhooks/inbound", form))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(payload), "<Message>") {
		t.Fatalf("body = %s, want guidance message in ack", payload)
	}
	if !strings.Contains(string(payload), "not linked to an account") {
		t.Fatalf("body = %s, want guidance text", payload)
	}
}

func TestInboundWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	router := &stubRouter{
		handleInboundFn: func(ctx context.Context, msg service.InboundMessage) (string, error) {
			t.Error("handler must not be reached with a bad signature")
			return "", nil
		},
	}
	app, _ := newWebhookApp(t, router)

	form := url.Values{}
	form.Set("MessageSid", "SM1")
	form.Set("From", "+15551234567")
	form.Set("Body", "hello")

	body := form.Encode()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(signature.Header, "deadbeef")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestInboundWebhookMissingSignature(t *testing.T) {
	t.Parallel()

	app, _ := newWebhookApp(t, &stubRouter{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader("From=%2B15551234567"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestInboundWebhookValidationError(t *testing.T) {
	t.Parallel()

	router := &stubRouter{
		handleInboundFn: func(ctx context.Context, msg service.InboundMessage) (string, error) {
			return "", domain.ErrValidation
		},
	}
	app, validator := newWebhookApp(t, router)

	form := url.Values{}
	form.Set("MessageSid", "SM1")
	form.Set("From", "garbage")
	form.Set("Body", "hello")

	resp, err := app.Test(signedForm(t, validator, "/webhooks/inbound", form))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInboundWebhookInternalErrorTriggersRedelivery(t *testing.T) {
	t.Parallel()

	router := &stubRouter{
		handleInboundFn: func(ctx context.Context, msg service.InboundMessage) (string, error) {
			return "", errors.New("database down")
		},
	}
	app, validator := newWebhookApp(t, router)

	form := url.Values{}
	form.Set("MessageSid", "SM1")
	form.Set("From", "+15551234567")
	form.Set("Body", "hello")

	resp, err := app.Test(signedForm(t, validator, "/webhooks/inbound", form))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 so the carrier redelivers", resp.StatusCode)
	}
}

func TestStatusWebhook(t *testing.T) {
	t.Parallel()

	var gotID, gotStatus string
	router := &stubRouter{
		applyDeliveryStatusFn: func(ctx context.Context, providerMessageID string, carrierStatus string) error {
			gotID = providerMessageID
			gotStatus = carrierStatus
			return nil
		},
	}
	app, validator := newWebhookApp(t, router)

	form := url.Values{}
	form.Set("MessageSid", "SM_out_1")
	form.Set("MessageStatus", "delivered")

	resp, err := app.Test(signedForm(t, validator, "/webhooks/status", form))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if gotID != "SM_out_1" || gotStatus != "delivered" {
		t.Fatalf("router received id=%q status=%q", gotID, gotStatus)
	}
}

func TestStatusWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	app, _ := newWebhookApp(t, &stubRouter{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/status", strings.NewReader("MessageSid=SM1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(signature.Header, "bad")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestStatusWebhookUnknownStatus(t *testing.T) {
	t.Parallel()

	router := &stubRouter{
		applyDeliveryStatusFn: func(ctx context.Context, providerMessageID string, carrierStatus string) error {
			return domain.ErrValidation
		},
	}
	app, validator := newWebhookApp(t, router)

	form := url.Values{}
	form.Set("MessageSid", "SM1")
	form.Set("MessageStatus", "teleported")

	resp, err := app.Test(signedForm(t, validator, "/webhooks/status", form))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
