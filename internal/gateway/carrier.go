package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultCarrierTimeout = 10 * time.Second

// CarrierConfig holds the credentials and endpoint of the carrier REST API.
type CarrierConfig struct {
	APIURL     string
	AccountSID string
	AuthToken  string
	FromNumber string
	Timeout    time.Duration
}

type carrierMessageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type carrierErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// CarrierClient sends messages through a Twilio-compatible carrier API.
// Every call is bounded by a hard timeout; a stuck carrier must not pin the
// webhook handler pool.
type CarrierClient struct {
	client     *resty.Client
	messageURL string
	fromNumber string
}

func NewCarrierClient(cfg CarrierConfig) (*CarrierClient, error) {
	client := resty.New()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCarrierTimeout
	}
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	client.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	return NewCarrierClientWithClient(cfg, client)
}

func NewCarrierClientWithClient(cfg CarrierConfig, client *resty.Client) (*CarrierClient, error) {
	apiURL := strings.TrimSuffix(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		return nil, fmt.Errorf("carrier api url is required")
	}
	if _, err := url.ParseRequestURI(apiURL); err != nil {
		return nil, fmt.Errorf("invalid carrier api url: %w", err)
	}
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, fmt.Errorf("carrier account sid is required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("carrier from number is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultCarrierTimeout)
	}
	client.SetRetryCount(0)

	return &CarrierClient{
		client:     client,
		messageURL: fmt.Sprintf("%s/Accounts/%s/Messages.json", apiURL, cfg.AccountSID),
		fromNumber: strings.TrimSpace(cfg.FromNumber),
	}, nil
}

func (c *CarrierClient) Send(ctx context.Context, to string, body string) (*SendResult, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("carrier client is not initialized")
	}
	if strings.TrimSpace(to) == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	if body == "" {
		return nil, fmt.Errorf("message body is required")
	}

	var success carrierMessageResponse
	var failure carrierErrorResponse

	response, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   to,
			"From": c.fromNumber,
			"Body": body,
		}).
		SetResult(&success).
		SetError(&failure).
		Post(c.messageURL)
	if err != nil {
		return nil, &DeliveryError{
			Code:    CodeTransportFailure,
			Message: "carrier request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &DeliveryError{
			Code:    CodeTransportFailure,
			Message: "carrier returned empty response",
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		if strings.TrimSpace(success.SID) == "" {
			return nil, &DeliveryError{
				Code:       CodeTransportFailure,
				StatusCode: statusCode,
				Message:    "carrier accepted message without a sid",
			}
		}
		return &SendResult{
			ProviderMessageID: success.SID,
			StatusCode:        statusCode,
			Body:              strings.TrimSpace(response.String()),
		}, nil
	}

	message := strings.TrimSpace(failure.Message)
	if message == "" {
		message = fmt.Sprintf("carrier returned status %d", statusCode)
	}

	return nil, &DeliveryError{
		Code:       failure.Code,
		StatusCode: statusCode,
		Message:    message,
	}
}
