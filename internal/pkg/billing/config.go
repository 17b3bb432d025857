package billing

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cadencepay/cadence/internal/pkg/env"
)

// Unmatched-event behaviours: what the reconciliation engine does with an
// authorisation event whose merchant reference matches no transaction.
const (
	UnmatchedBehaviourCreate = "create"
	UnmatchedBehaviourRetry  = "retry"
)

// AccountConfig is the per-gateway-account configuration. One account per
// deployment; the scheduler and reconciliation engine receive it at
// construction rather than resolving it from global state.
type AccountConfig struct {
	APIKey             string   `validate:"required"`
	MerchantAccount    string   `validate:"required"`
	HMACKeys           []string `validate:"required,min=1,dive,required"`
	TestMode           bool
	RetryPolicy        []string `validate:"required,min=1"`
	UnmatchedBehaviour string   `validate:"oneof=create retry"`
	InvoicePrefix      string   `validate:"required"`
}

var configValidator = validator.New()

// Validate reports the first configuration problem, or nil.
func (c *AccountConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid gateway account config: %w", err)
	}
	// Fail fast on malformed policy entries rather than mid-cycle.
	for i := range c.RetryPolicy {
		if _, err := parseRetryPolicyEntry(c.RetryPolicy[i]); err != nil {
			return fmt.Errorf("invalid gateway account config: %w", err)
		}
	}
	return nil
}

// LoadAccountConfigFromEnv reads GATEWAY_* keys. HMAC keys and the retry
// policy are comma-separated; HMAC key order is the rotation order.
func LoadAccountConfigFromEnv() (*AccountConfig, error) {
	cfg := &AccountConfig{
		APIKey:             strings.TrimSpace(env.GetEnv("GATEWAY_API_KEY", "")),
		MerchantAccount:    strings.TrimSpace(env.GetEnv("GATEWAY_MERCHANT_ACCOUNT", "")),
		HMACKeys:           splitList(env.GetEnv("GATEWAY_HMAC_KEYS", "")),
		TestMode:           env.GetEnv("GATEWAY_TEST_MODE", "true") == "true",
		RetryPolicy:        splitList(env.GetEnv("GATEWAY_RETRY_POLICY", "skip")),
		UnmatchedBehaviour: strings.TrimSpace(env.GetEnv("GATEWAY_UNMATCHED_BEHAVIOUR", UnmatchedBehaviourCreate)),
		InvoicePrefix:      strings.TrimSpace(env.GetEnv("GATEWAY_INVOICE_PREFIX", "CADENCE")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
