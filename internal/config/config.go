// Package config loads and validates engine configuration from a JSON file
// with AGENTCORE_-prefixed environment overrides.
package config

import (
	"os"
	"path/filepath"
)

// Config is the top-level engine configuration.
type Config struct {
	// DataDir roots the SQLite store and default log file.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`
	Processor ProcessorConfig `json:"processor" mapstructure:"processor"`
	Gateway   GatewayConfig   `json:"gateway" mapstructure:"gateway"`
	Janitor   JanitorConfig   `json:"janitor" mapstructure:"janitor"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ProvidersConfig holds model provider credentials and defaults.
type ProvidersConfig struct {
	Default   string         `json:"default" mapstructure:"default"` // anthropic, openai, mock
	Anthropic ProviderConfig `json:"anthropic" mapstructure:"anthropic"`
	OpenAI    ProviderConfig `json:"openai" mapstructure:"openai"`
}

// ProviderConfig configures a single provider.
type ProviderConfig struct {
	APIKey    string  `json:"api_key" mapstructure:"api_key"`
	Model     string  `json:"model" mapstructure:"model"`
	MaxTokens int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temp      float64 `json:"temperature" mapstructure:"temperature"`
}

// ProcessorConfig carries the response-processor defaults applied to runs
// that do not override them.
type ProcessorConfig struct {
	XMLEnabled            bool     `json:"xml_enabled" mapstructure:"xml_enabled"`
	NativeEnabled         bool     `json:"native_enabled" mapstructure:"native_enabled"`
	AutoExecute           bool     `json:"auto_execute" mapstructure:"auto_execute"`
	ExecuteWhileStreaming bool     `json:"execute_while_streaming" mapstructure:"execute_while_streaming"`
	Strategy              string   `json:"strategy" mapstructure:"strategy"` // sequential, parallel
	ResultPlacement       string   `json:"result_placement" mapstructure:"result_placement"`
	MaxCallsPerResponse   int      `json:"max_calls_per_response" mapstructure:"max_calls_per_response"`
	TerminatingTools      []string `json:"terminating_tools" mapstructure:"terminating_tools"`
	MaxAutoContinues      int      `json:"max_auto_continues" mapstructure:"max_auto_continues"`
}

// GatewayConfig configures the websocket streaming gateway.
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
	MetricsPath  string `json:"metrics_path" mapstructure:"metrics_path"`
}

// JanitorConfig configures the stale-run sweeper.
type JanitorConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron expression
	RunTTL   string `json:"run_ttl" mapstructure:"run_ttl"`   // duration, e.g. "30m"
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Providers: ProvidersConfig{
			Default:   "anthropic",
			Anthropic: ProviderConfig{Model: "claude-sonnet-4-20250514", MaxTokens: 4096},
			OpenAI:    ProviderConfig{Model: "gpt-4o", MaxTokens: 4096},
		},
		Processor: ProcessorConfig{
			XMLEnabled:            true,
			NativeEnabled:         true,
			AutoExecute:           true,
			ExecuteWhileStreaming: true,
			Strategy:              "sequential",
			ResultPlacement:       "user_message",
			TerminatingTools:      []string{"ask", "complete"},
			MaxAutoContinues:      25,
		},
		Gateway: GatewayConfig{
			Enabled:     true,
			Port:        8090,
			MetricsPath: "/metrics",
		},
		Janitor: JanitorConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
			RunTTL:   "30m",
		},
	}
}

// DefaultDataDir resolves the data directory, creating nothing.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".agentcore"), nil
}
