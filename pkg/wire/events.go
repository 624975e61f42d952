// Package wire decodes raw transport payloads into typed domain events. It
// covers the SSE token stream and the WebSocket control channel, and is
// deliberately total over arbitrary network input: malformed frames produce
// errors or ignorable events, never panics.
package wire

import "encoding/json"

// Event is a decoded domain event. Concrete types below cover every frame the
// sync engine reacts to; anything unrecognized decodes to Ping.
type Event interface {
	EventType() string
}

// Meta carries optional flattened metadata some backends attach to content
// frames.
type Meta struct {
	Seq       uint64 `json:"seq,omitempty"`
	Timestamp uint64 `json:"timestamp,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// ContentDelta is one streamed token of assistant output.
type ContentDelta struct {
	Text string
	Meta Meta
}

// Reasoning is one streamed token of model thinking output.
type Reasoning struct {
	Text string
}

// ThreadInfo confirms a thread id assignment, optionally with a server title.
type ThreadInfo struct {
	ThreadID string
	Title    *string
}

// MessageInfo carries the backend id of the completed assistant message.
type MessageInfo struct {
	MessageID int64
}

// Done is a completion signal from a backend that did not include a message
// id.
type Done struct{}

// ThreadUpdated reports server-side thread metadata changes.
type ThreadUpdated struct {
	ThreadID    string
	Title       *string
	Description *string
}

// StreamError is a backend-reported stream failure.
type StreamError struct {
	Message string
	Code    string
}

// SkillsInjected lists skills the backend added to the session.
type SkillsInjected struct {
	Skills []string
}

// OAuthConsentRequired asks the user to complete an OAuth grant.
type OAuthConsentRequired struct {
	Provider  string
	URL       string
	SkillName string
}

// ContextCompacted reports a context-window compaction pass.
type ContextCompacted struct {
	MessagesRemoved int
	TokensFreed     int
	TokensUsed      *int
	TokenLimit      *int
}

// TodosUpdated carries the backend's current todo list as raw JSON; the sync
// engine passes it through untouched.
type TodosUpdated struct {
	Todos json.RawMessage
}

// Usage reports context-window consumption. Absent counters stay nil so the
// UI never shows a bogus zero.
type Usage struct {
	ContextWindowUsed  *int
	ContextWindowLimit *int
}

// SystemInit describes the backend session after startup.
type SystemInit struct {
	CLISessionID   string
	PermissionMode string
	Model          string
	ToolCount      int
}

// RateLimited tells the client to back off, possibly after an account swap.
type RateLimited struct {
	Message          string
	CurrentAccountID string
	NextAccountID    *string
	RetryAfterSecs   uint64
}

// Cancelled reports that the backend aborted the stream.
type Cancelled struct {
	Reason string
}

// Ping is a keepalive or an unrecognized event type; callers ignore it.
type Ping struct{}

func (ContentDelta) EventType() string         { return "content-delta" }
func (Reasoning) EventType() string            { return "reasoning" }
func (ThreadInfo) EventType() string           { return "thread-info" }
func (MessageInfo) EventType() string          { return "message-info" }
func (Done) EventType() string                 { return "done" }
func (ThreadUpdated) EventType() string        { return "thread-updated" }
func (StreamError) EventType() string          { return "error" }
func (SkillsInjected) EventType() string       { return "skills-injected" }
func (OAuthConsentRequired) EventType() string { return "oauth-consent-required" }
func (ContextCompacted) EventType() string     { return "context-compacted" }
func (TodosUpdated) EventType() string         { return "todos-updated" }
func (Usage) EventType() string                { return "usage" }
func (SystemInit) EventType() string           { return "system-init" }
func (RateLimited) EventType() string          { return "rate-limited" }
func (Cancelled) EventType() string            { return "cancelled" }
func (Ping) EventType() string                 { return "ping" }
