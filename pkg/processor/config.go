package processor

import (
	"errors"
	"fmt"
)

// Strategy selects how a batch of detected calls is executed.
type Strategy string

const (
	// StrategySequential runs calls one at a time in detection order.
	StrategySequential Strategy = "sequential"
	// StrategyParallel fans calls out to goroutines and joins them.
	StrategyParallel Strategy = "parallel"
)

// ResultPlacement selects the conversation role that carries a tagged-dialect
// tool result back to the model. Native results always use the tool role.
type ResultPlacement string

const (
	PlacementUserMessage      ResultPlacement = "user_message"
	PlacementAssistantMessage ResultPlacement = "assistant_message"
	// PlacementInlineEdit is accepted for compatibility and falls back to
	// assistant placement.
	PlacementInlineEdit ResultPlacement = "inline_edit"
)

// Config controls detection and execution for one processor.
type Config struct {
	// XMLEnabled turns on tagged-content call detection in response text.
	XMLEnabled bool `json:"xml_enabled" mapstructure:"xml_enabled"`

	// NativeEnabled turns on structured provider tool calls.
	NativeEnabled bool `json:"native_enabled" mapstructure:"native_enabled"`

	// AutoExecute runs detected calls. When false, calls are detected and
	// persisted but never invoked.
	AutoExecute bool `json:"auto_execute" mapstructure:"auto_execute"`

	// ExecuteWhileStreaming dispatches a call the moment it parses instead
	// of waiting for the stream to end.
	ExecuteWhileStreaming bool `json:"execute_while_streaming" mapstructure:"execute_while_streaming"`

	// Strategy picks sequential or parallel batch execution.
	Strategy Strategy `json:"strategy" mapstructure:"strategy"`

	// ResultPlacement picks the role carrying tagged-dialect results.
	ResultPlacement ResultPlacement `json:"result_placement" mapstructure:"result_placement"`

	// MaxCallsPerResponse caps accepted calls per model response.
	// Zero means unlimited.
	MaxCallsPerResponse int `json:"max_calls_per_response" mapstructure:"max_calls_per_response"`

	// TerminatingTools lists function names whose successful execution ends
	// the agent turn.
	TerminatingTools []string `json:"terminating_tools" mapstructure:"terminating_tools"`
}

// DefaultConfig returns the configuration used when the caller does not
// override behavior: both dialects on, sequential eager execution.
func DefaultConfig() Config {
	return Config{
		XMLEnabled:            true,
		NativeEnabled:         true,
		AutoExecute:           true,
		ExecuteWhileStreaming: true,
		Strategy:              StrategySequential,
		ResultPlacement:       PlacementUserMessage,
		TerminatingTools:      []string{"ask", "complete"},
	}
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	if c.AutoExecute && !c.XMLEnabled && !c.NativeEnabled {
		return errors.New("auto_execute requires at least one detection dialect")
	}
	switch c.Strategy {
	case StrategySequential, StrategyParallel:
	default:
		return fmt.Errorf("unknown execution strategy: %q", c.Strategy)
	}
	switch c.ResultPlacement {
	case PlacementUserMessage, PlacementAssistantMessage, PlacementInlineEdit:
	default:
		return fmt.Errorf("unknown result placement: %q", c.ResultPlacement)
	}
	if c.MaxCallsPerResponse < 0 {
		return errors.New("max_calls_per_response cannot be negative")
	}
	return nil
}
