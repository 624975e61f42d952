package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// UnmarshalJSON accepts any casing the backend emits ("User", "user", "USER").
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = Role(strings.ToLower(s))
	return nil
}

// FlexID is a thread id that deserializes from either a JSON string or number.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// ThreadKind distinguishes plain conversations from programming sessions.
type ThreadKind string

const (
	KindConversation ThreadKind = "conversation"
	KindProgramming  ThreadKind = "programming"
)

// Thread is a conversation thread as the backend reports it.
type Thread struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Preview        string     `json:"preview"`
	Kind           ThreadKind `json:"thread_type,omitempty"`
	Model          string     `json:"model,omitempty"`
	PermissionMode string     `json:"permission_mode,omitempty"`
	MessageCount   int        `json:"message_count,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// threadWire mirrors Thread but tolerates numeric ids.
type threadWire struct {
	ID             FlexID     `json:"id"`
	Title          string     `json:"title"`
	Preview        string     `json:"preview"`
	Kind           ThreadKind `json:"thread_type"`
	Model          string     `json:"model"`
	PermissionMode string     `json:"permission_mode"`
	MessageCount   int        `json:"message_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (t *Thread) UnmarshalJSON(data []byte) error {
	var w threadWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.ID = string(w.ID)
	t.Title = w.Title
	t.Preview = w.Preview
	t.Kind = w.Kind
	t.Model = w.Model
	t.PermissionMode = w.PermissionMode
	t.MessageCount = w.MessageCount
	t.CreatedAt = w.CreatedAt
	t.UpdatedAt = w.UpdatedAt
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// Message is one message within a thread. During streaming, tokens accumulate
// in Partial; Finalize promotes them to Content.
type Message struct {
	ID            int64     `json:"id"`
	ThreadID      string    `json:"thread_id"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	Streaming     bool      `json:"is_streaming,omitempty"`
	Partial       string    `json:"partial_content,omitempty"`
	RenderVersion uint64    `json:"render_version,omitempty"`
}

// AppendToken adds a streamed token to the partial content.
func (m *Message) AppendToken(token string) {
	m.Partial += token
	m.RenderVersion++
}

// Finalize moves partial content into content and ends streaming. No-op when
// the message is not streaming.
func (m *Message) Finalize() {
	if !m.Streaming {
		return
	}
	m.Content = m.Partial
	m.Partial = ""
	m.Streaming = false
	m.RenderVersion++
}

// Display returns the text a renderer should show for the message right now.
func (m *Message) Display() string {
	if m.Streaming {
		return m.Partial
	}
	return m.Content
}

// StreamRequest is the body of a streaming prompt submission.
type StreamRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	ReplyTo   int64  `json:"reply_to,omitempty"`
}

// NewStreamRequest builds a request that opens a new thread.
func NewStreamRequest(prompt string) StreamRequest {
	return StreamRequest{
		Prompt:    prompt,
		SessionID: uuid.NewString(),
	}
}

// WithThread builds a request that continues an existing thread.
func WithThread(prompt, threadID string) StreamRequest {
	return StreamRequest{
		Prompt:    prompt,
		SessionID: uuid.NewString(),
		ThreadID:  threadID,
	}
}

// NewPendingThreadID mints a provisional client-side thread id. The backend
// may adopt it as canonical or hand back its own id in a confirmation event.
func NewPendingThreadID() string {
	return uuid.NewString()
}

// TitleFromPrompt derives a thread title from the first prompt, truncated to
// 40 runes.
func TitleFromPrompt(prompt string) string {
	runes := []rune(strings.TrimSpace(prompt))
	if len(runes) <= 40 {
		return string(runes)
	}
	return string(runes[:37]) + "..."
}

// ParseMessageID converts a backend message id that may arrive as a string.
func ParseMessageID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
