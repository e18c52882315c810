package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockResponse is one scripted model response. Chunks are replayed in order;
// when Err is set the stream terminates with it after the chunks.
type MockResponse struct {
	Chunks []Chunk
	Err    error
}

// MockProvider replays scripted responses. Each Stream or Complete call
// consumes the next script entry. Requests are recorded for assertions.
type MockProvider struct {
	mu       sync.Mutex
	script   []MockResponse
	requests []Request
}

// NewMockProvider creates a mock provider with the given script.
func NewMockProvider(script ...MockResponse) *MockProvider {
	return &MockProvider{script: script}
}

// Enqueue appends a scripted response.
func (p *MockProvider) Enqueue(resp MockResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, resp)
}

// Requests returns the requests seen so far.
func (p *MockProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

func (p *MockProvider) next(req Request) (MockResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.script) == 0 {
		return MockResponse{}, fmt.Errorf("mock provider script exhausted after %d calls", len(p.requests)-1)
	}
	resp := p.script[0]
	p.script = p.script[1:]
	return resp, nil
}

// Stream replays the next scripted response as a chunk stream.
func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	resp, err := p.next(req)
	if err != nil {
		return nil, err
	}

	out := NewChunkStream(len(resp.Chunks) + 1)
	go func() {
		defer out.CloseSend()
		for _, c := range resp.Chunks {
			select {
			case <-ctx.Done():
				out.Fail(ctx.Err())
				return
			default:
			}
			if !out.Send(c) {
				return
			}
		}
		if resp.Err != nil {
			out.Fail(resp.Err)
		}
	}()
	return out, nil
}

// Complete aggregates the next scripted response into a Response.
func (p *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.next(req)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	agg := &Response{FinishReason: FinishReasonStop}
	calls := map[int]*ToolCall{}
	order := []int{}

	for _, c := range resp.Chunks {
		agg.Content += c.Content
		for _, d := range c.ToolCalls {
			tc, ok := calls[d.Index]
			if !ok {
				tc = &ToolCall{}
				calls[d.Index] = tc
				order = append(order, d.Index)
			}
			if d.ID != "" {
				tc.ID = d.ID
			}
			if d.Name != "" {
				tc.Name = d.Name
			}
			tc.Arguments += d.Arguments
		}
		if c.FinishReason != "" {
			agg.FinishReason = c.FinishReason
		}
		if c.Usage != nil {
			u := *c.Usage
			agg.Usage = &u
		}
	}

	for _, idx := range order {
		agg.ToolCalls = append(agg.ToolCalls, *calls[idx])
	}

	return agg, nil
}
