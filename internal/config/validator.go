package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validator checks configuration values before the engine starts.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole config and returns the first problem found.
func (v *Validator) Validate(cfg *Config) error {
	if err := v.ValidateProcessor(cfg.Processor); err != nil {
		return err
	}
	if cfg.Janitor.Enabled {
		if err := v.ValidateJanitor(cfg.Janitor); err != nil {
			return err
		}
	}
	switch cfg.Providers.Default {
	case "anthropic", "openai", "mock", "":
	default:
		return fmt.Errorf("unknown default provider: %s", cfg.Providers.Default)
	}
	return nil
}

// ValidateAPIKey validates a provider API key format.
func (v *Validator) ValidateAPIKey(key, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}
	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}
	return nil
}

// ValidateProcessor enforces the processor invariants: auto-execute needs at
// least one detection dialect, and enums must be known values.
func (v *Validator) ValidateProcessor(p ProcessorConfig) error {
	if p.AutoExecute && !p.XMLEnabled && !p.NativeEnabled {
		return fmt.Errorf("auto_execute requires xml_enabled or native_enabled")
	}
	switch p.Strategy {
	case "sequential", "parallel", "":
	default:
		return fmt.Errorf("unknown execution strategy: %s", p.Strategy)
	}
	switch p.ResultPlacement {
	case "user_message", "assistant_message", "inline_edit", "":
	default:
		return fmt.Errorf("unknown result placement: %s", p.ResultPlacement)
	}
	if p.MaxCallsPerResponse < 0 {
		return fmt.Errorf("max_calls_per_response cannot be negative")
	}
	return nil
}

// ValidateJanitor checks the sweep schedule and run TTL.
func (v *Validator) ValidateJanitor(j JanitorConfig) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("invalid janitor schedule: %w", err)
	}
	if j.RunTTL != "" {
		if _, err := time.ParseDuration(j.RunTTL); err != nil {
			return fmt.Errorf("invalid janitor run_ttl: %w", err)
		}
	}
	return nil
}
