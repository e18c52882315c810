package thread

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps threads and messages in process memory. Used by the demo
// command and tests; same contract as the SQLite store.
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]*Thread
	messages map[string][]Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[string]*Thread),
		messages: make(map[string][]Message),
	}
}

func (s *MemoryStore) CreateThread(ctx context.Context) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	th := &Thread{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	s.threads[th.ID] = th

	cp := *th
	return &cp, nil
}

func (s *MemoryStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	cp := *th
	return &cp, nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, params AddMessageParams) (*Message, error) {
	if params.ThreadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}
	if params.Type == "" {
		return nil, fmt.Errorf("message type is required")
	}

	content, err := encodeJSON(params.Content)
	if err != nil {
		return nil, err
	}
	metadata, err := encodeJSON(params.Metadata)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[params.ThreadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, params.ThreadID)
	}

	msg := Message{
		ID:           uuid.NewString(),
		ThreadID:     params.ThreadID,
		Type:         params.Type,
		Content:      content,
		IsLLMMessage: params.IsLLMMessage,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}

	s.messages[params.ThreadID] = append(s.messages[params.ThreadID], msg)
	th.UpdatedAt = msg.CreatedAt

	cp := msg
	return &cp, nil
}

func (s *MemoryStore) Messages(ctx context.Context, threadID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages[threadID]))
	copy(out, s.messages[threadID])
	return out, nil
}

func (s *MemoryStore) LLMMessages(ctx context.Context, threadID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for _, m := range s.messages[threadID] {
		if m.IsLLMMessage {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
