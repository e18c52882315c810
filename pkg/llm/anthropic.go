package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	anthropicMessages := []anthropic.MessageParam{}

	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			continue // System messages handled separately
		}

		// Tool results travel as user-role tool_result blocks
		if msg.Role == RoleTool {
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
			continue
		}

		// Assistant messages that invoked tools
		if msg.Role == RoleAssistant && len(msg.ToolCalls) > 0 {
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, decodeArguments(tc.Arguments), tc.Name))
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
			continue
		}

		if msg.Role == RoleUser {
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		} else if msg.Role == RoleAssistant {
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  anthropicMessages,
		MaxTokens: int64(maxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := []anthropic.ToolUnionParam{}
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			}

			if required, ok := tool.Parameters["required"]; ok {
				if reqSlice, ok := required.([]interface{}); ok {
					strSlice := make([]string, len(reqSlice))
					for i, v := range reqSlice {
						strSlice[i], _ = v.(string)
					}
					toolParam.InputSchema.Required = strSlice
				} else if strSlice, ok := required.([]string); ok {
					toolParam.InputSchema.Required = strSlice
				}
			}

			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	return params
}

// Stream starts a streaming call to Anthropic Claude.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	params := p.buildParams(req)
	out := NewChunkStream(32)
	go p.pump(ctx, params, out)
	return out, nil
}

func (p *AnthropicProvider) pump(ctx context.Context, params anthropic.MessageNewParams, out *ChunkStream) {
	defer out.CloseSend()

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}

	type partial struct {
		id   string
		name string
	}
	partials := map[int64]*partial{} // content block index -> tool_use identity

	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			out.Fail(fmt.Errorf("accumulate stream event: %w", err))
			return
		}

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if variant.ContentBlock.Type != "tool_use" {
				continue
			}
			pc := &partial{id: variant.ContentBlock.ID, name: variant.ContentBlock.Name}
			partials[variant.Index] = pc
			if !out.Send(Chunk{ToolCalls: []ToolCallDelta{{
				Index: int(variant.Index),
				ID:    pc.id,
				Name:  pc.name,
			}}}) {
				return
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				if !out.Send(Chunk{Content: delta.Text}) {
					return
				}
			case anthropic.InputJSONDelta:
				pc := partials[variant.Index]
				if pc == nil || delta.PartialJSON == "" {
					continue
				}
				if !out.Send(Chunk{ToolCalls: []ToolCallDelta{{
					Index:     int(variant.Index),
					ID:        pc.id,
					Name:      pc.name,
					Arguments: delta.PartialJSON,
				}}}) {
					return
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		out.Fail(fmt.Errorf("anthropic stream: %w", err))
		return
	}

	// Finish reason and usage arrive via message_delta; Accumulate collected them.
	out.Send(Chunk{
		FinishReason: mapAnthropicStopReason(msg.StopReason),
		Usage: &Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	})
}

// Complete makes a blocking call to Anthropic Claude.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params := p.buildParams(req)

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	content := ""
	toolCalls := []ToolCall{}

	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: b.JSON.Input.Raw(),
			})
		}
	}

	return &Response{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: mapAnthropicStopReason(response.StopReason),
		Usage: &Usage{
			PromptTokens:     int(response.Usage.InputTokens),
			CompletionTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

// decodeArguments turns a raw JSON argument string into the object form the
// SDK expects when replaying assistant tool calls.
func decodeArguments(raw string) interface{} {
	var v map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return map[string]interface{}{}
	}
	return v
}

func mapAnthropicStopReason(sr anthropic.StopReason) FinishReason {
	switch sr {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return FinishReasonStop
	case anthropic.StopReasonMaxTokens:
		return FinishReasonLength
	case anthropic.StopReasonToolUse:
		return FinishReasonToolCalls
	default:
		return FinishReasonStop
	}
}
