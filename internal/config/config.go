package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/aydintuna/sms-router/internal/classifier"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	CarrierAPIURL     string `env:"CARRIER_API_URL,required=true"`
	CarrierAccountSID string `env:"CARRIER_ACCOUNT_SID,required=true"`
	CarrierAuthToken  string `env:"CARRIER_AUTH_TOKEN,required=true"`
	CarrierFromNumber string `env:"CARRIER_FROM_NUMBER,required=true"`
	WebhookSecret     string `env:"WEBHOOK_SECRET,required=true"`

	AgentAPIKey     string `env:"AGENT_API_KEY"`
	AgentBaseURL    string `env:"AGENT_BASE_URL"`
	AgentModel      string `env:"AGENT_MODEL,default=gpt-4o-mini"`
	AgentTimeoutSec int    `env:"AGENT_TIMEOUT_SEC,default=30"`

	GatewayTimeoutSec    int `env:"GATEWAY_TIMEOUT_SEC,default=10"`
	RetryScanIntervalSec int `env:"RETRY_SCAN_INTERVAL_SEC,default=120"`
	RetryBatchSize       int `env:"RETRY_BATCH_SIZE,default=50"`
	SendRateLimitPerSec  int `env:"SEND_RATE_LIMIT_PER_SEC,default=100"`
	DedupTTLSec          int `env:"DEDUP_TTL_SEC,default=86400"`

	// ClassifierOverrides tunes retry policy per carrier error code without a
	// deploy, e.g. "30001=5:30,21602=0:0" (code=maxRetries:baseDelaySeconds).
	ClassifierOverrides string `env:"CLASSIFIER_OVERRIDES"`

	CostPerMessage float64 `env:"COST_PER_MESSAGE,default=0.0075"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := cfg.ParseClassifierOverrides(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSec) * time.Second
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSec) * time.Second
}

func (c *Config) RetryScanInterval() time.Duration {
	return time.Duration(c.RetryScanIntervalSec) * time.Second
}

func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLSec) * time.Second
}

// ParseClassifierOverrides parses CLASSIFIER_OVERRIDES into the classifier's
// override map. An empty value yields an empty map.
func (c *Config) ParseClassifierOverrides() (map[int]classifier.Override, error) {
	overrides := make(map[int]classifier.Override)

	raw := strings.TrimSpace(c.ClassifierOverrides)
	if raw == "" {
		return overrides, nil
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		code, policy, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid classifier override %q: want code=maxRetries:baseDelaySeconds", item)
		}
		maxRetriesRaw, baseDelayRaw, ok := strings.Cut(policy, ":")
		if !ok {
			return nil, fmt.Errorf("invalid classifier override %q: want code=maxRetries:baseDelaySeconds", item)
		}

		codeValue, err := strconv.Atoi(strings.TrimSpace(code))
		if err != nil {
			return nil, fmt.Errorf("invalid classifier override code %q: %w", code, err)
		}
		maxRetries, err := strconv.Atoi(strings.TrimSpace(maxRetriesRaw))
		if err != nil || maxRetries < 0 {
			return nil, fmt.Errorf("invalid classifier override max retries %q", maxRetriesRaw)
		}
		baseDelaySec, err := strconv.Atoi(strings.TrimSpace(baseDelayRaw))
		if err != nil || baseDelaySec < 0 {
			return nil, fmt.Errorf("invalid classifier override base delay %q", baseDelayRaw)
		}

		overrides[codeValue] = classifier.Override{
			MaxRetries: maxRetries,
			BaseDelay:  time.Duration(baseDelaySec) * time.Second,
		}
	}

	return overrides, nil
}
