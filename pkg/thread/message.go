package thread

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType classifies a persisted message.
type MessageType string

const (
	TypeUser          MessageType = "user"
	TypeAssistant     MessageType = "assistant"
	TypeTool          MessageType = "tool"
	TypeStatus        MessageType = "status"
	TypeResponseStart MessageType = "response_start"
	TypeResponseEnd   MessageType = "response_end"
)

// Thread groups the messages of one conversation.
type Thread struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted unit of a thread. Content and Metadata are JSON
// documents owned by the store once saved.
type Message struct {
	ID           string          `json:"id"`
	ThreadID     string          `json:"thread_id"`
	Type         MessageType     `json:"type"`
	Content      json.RawMessage `json:"content"`
	IsLLMMessage bool            `json:"is_llm_message"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DecodeContent unmarshals the content document into v.
func (m *Message) DecodeContent(v interface{}) error {
	if len(m.Content) == 0 {
		return fmt.Errorf("message %s has no content", m.ID)
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("decode message content: %w", err)
	}
	return nil
}

// AddMessageParams carries one message to persist. Content and Metadata may
// be any JSON-encodable value; json.RawMessage passes through untouched.
type AddMessageParams struct {
	ThreadID     string
	Type         MessageType
	Content      interface{}
	IsLLMMessage bool
	Metadata     interface{}
}

func encodeJSON(v interface{}) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return t, nil
	case []byte:
		return json.RawMessage(t), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode message field: %w", err)
		}
		return b, nil
	}
}
