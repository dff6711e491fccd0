package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultAgentTimeout = 30 * time.Second

// OpenAIConfig configures the OpenAI-compatible agent backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIAgent answers user messages through an OpenAI-compatible chat API.
type OpenAIAgent struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIAgent(cfg OpenAIConfig) (*OpenAIAgent, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("agent api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("agent model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAgentTimeout
	}

	return &OpenAIAgent{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: timeout,
	}, nil
}

func (a *OpenAIAgent) Reply(ctx context.Context, userID string, message string) (string, error) {
	if a == nil || a.client == nil {
		return "", fmt.Errorf("agent is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		// The user id scopes the agent's context per tenant.
		User: userID,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: message,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("agent completion failed: %w", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("agent returned empty reply")
	}

	return resp.Choices[0].Message.Content, nil
}
