package llm

import (
	"context"
	"fmt"
)

// Provider is a model backend that can stream or complete a request.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Stream starts a streaming model call.
	Stream(ctx context.Context, req Request) (Stream, error)

	// Complete makes a blocking model call and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// NewProvider creates a provider by name.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
