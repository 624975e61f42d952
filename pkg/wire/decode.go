package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DecodeError reports a payload that could not be decoded for a recognized
// event type. Callers log it and drop the frame; the stream stays open.
type DecodeError struct {
	Type    string
	Snippet string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s event: %v (payload %q)", e.Type, e.Err, e.Snippet)
}

func (e *DecodeError) Unwrap() error { return e.Err }

const snippetLen = 120

// snippet truncates a payload for log output.
func snippet(data string) string {
	if len(data) <= snippetLen {
		return data
	}
	return data[:snippetLen] + "..."
}

func decodeErr(eventType, data string, err error) error {
	return &DecodeError{Type: eventType, Snippet: snippet(data), Err: err}
}

// Decode turns an event type plus raw JSON payload into a typed Event.
// Unrecognized event types decode to Ping rather than failing; a stream of
// unknown frames must never kill the connection.
func Decode(eventType, data string) (Event, error) {
	switch normalizeType(eventType) {
	case "content", "text", "message", "chunk", "delta", "content_block_delta", "content_delta":
		return decodeContent(eventType, data)
	case "reasoning", "thinking":
		return decodeReasoning(eventType, data)
	case "thread_info":
		return decodeThreadInfo(eventType, data)
	case "user_message_saved":
		return decodeUserMessageSaved(eventType, data)
	case "message_info":
		return decodeMessageInfo(eventType, data)
	case "done":
		return decodeDone(data), nil
	case "thread_updated":
		return decodeThreadUpdated(eventType, data)
	case "error":
		return decodeStreamError(eventType, data)
	case "skills_injected":
		return decodeSkillsInjected(eventType, data)
	case "oauth_consent_required":
		return decodeOAuthConsent(eventType, data)
	case "context_compacted":
		return decodeContextCompacted(eventType, data)
	case "todos_updated":
		return decodeTodosUpdated(eventType, data)
	case "usage":
		return decodeUsage(eventType, data)
	case "system_init":
		return decodeSystemInit(eventType, data)
	case "rate_limited":
		return decodeRateLimited(eventType, data)
	case "cancelled":
		return decodeCancelled(eventType, data)
	case "ping":
		return Ping{}, nil
	default:
		// Unknown event types are ignored, not errors.
		return Ping{}, nil
	}
}

// normalizeType folds the hyphenated and underscored spellings backends use
// for the same event into one form.
func normalizeType(eventType string) string {
	return strings.ReplaceAll(strings.TrimSpace(eventType), "-", "_")
}

// genericValue parses a payload into a generic JSON object. This is the
// named normalization step for payloads that may carry duplicate keys: the
// decoder extracts fields from the map, where the last occurrence of a
// repeated key wins, instead of letting typed deserialization reject the
// frame.
func genericValue(eventType, data string) (map[string]json.RawMessage, error) {
	var v map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return v, nil
}

func stringField(v map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, key := range keys {
		raw, ok := v[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
	}
	return "", false
}

func int64Field(v map[string]json.RawMessage, key string) (int64, bool) {
	raw, ok := v[key]
	if !ok {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	// Some backends quote numeric ids.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func uint64Field(v map[string]json.RawMessage, key string) (uint64, bool) {
	raw, ok := v[key]
	if !ok {
		return 0, false
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

func decodeContent(eventType, data string) (Event, error) {
	v, err := genericValue(eventType, data)
	if err != nil {
		return nil, err
	}

	// Top-level aliases first, then the OpenAI-style nested delta object.
	text, ok := stringField(v, "text", "content", "data", "chunk", "token")
	if !ok {
		if raw, present := v["delta"]; present {
			var delta map[string]json.RawMessage
			if err := json.Unmarshal(raw, &delta); err == nil {
				text, _ = stringField(delta, "content", "text", "data")
			}
		}
	}

	var meta Meta
	if seq, ok := uint64Field(v, "seq"); ok {
		meta.Seq = seq
	}
	if ts, ok := uint64Field(v, "timestamp"); ok {
		meta.Timestamp = ts
	}
	meta.SessionID, _ = stringField(v, "session_id")
	meta.ThreadID, _ = stringField(v, "thread_id")

	return ContentDelta{Text: text, Meta: meta}, nil
}

func decodeReasoning(eventType, data string) (Event, error) {
	v, err := genericValue(eventType, data)
	if err != nil {
		return nil, err
	}
	text, _ := stringField(v, "text", "content", "data")
	return Reasoning{Text: text}, nil
}

func decodeThreadInfo(eventType, data string) (Event, error) {
	var payload struct {
		ThreadID string  `json:"thread_id"`
		Title    *string `json:"title"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return ThreadInfo{ThreadID: payload.ThreadID, Title: payload.Title}, nil
}

// decodeUserMessageSaved treats the save confirmation as a thread id
// confirmation. Payloads from older backends repeat keys, so extraction goes
// through the generic value; a missing thread_id falls back to the message
// id.
func decodeUserMessageSaved(eventType, data string) (Event, error) {
	v, err := genericValue(eventType, data)
	if err != nil {
		return nil, err
	}

	messageID, _ := int64Field(v, "message_id")
	threadID, ok := stringField(v, "thread_id")
	if !ok {
		threadID = strconv.FormatInt(messageID, 10)
	}

	return ThreadInfo{ThreadID: threadID}, nil
}

func decodeMessageInfo(eventType, data string) (Event, error) {
	var payload struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return MessageInfo{MessageID: payload.MessageID}, nil
}

// decodeDone tolerates legacy backends that omit the message id: those
// payloads yield a bare Done signal instead of an error.
func decodeDone(data string) Event {
	var payload struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err == nil && payload.MessageID != "" {
		id, err := strconv.ParseInt(payload.MessageID, 10, 64)
		if err != nil {
			// An id we cannot read is no id at all.
			return Done{}
		}
		return MessageInfo{MessageID: id}
	}

	var numeric struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal([]byte(data), &numeric); err == nil && numeric.MessageID != 0 {
		return MessageInfo{MessageID: numeric.MessageID}
	}

	return Done{}
}

func decodeThreadUpdated(eventType, data string) (Event, error) {
	var payload struct {
		ThreadID    string  `json:"thread_id"`
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return ThreadUpdated{
		ThreadID:    payload.ThreadID,
		Title:       payload.Title,
		Description: payload.Description,
	}, nil
}

func decodeStreamError(eventType, data string) (Event, error) {
	var payload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return StreamError{Message: payload.Message, Code: payload.Code}, nil
}

func decodeSkillsInjected(eventType, data string) (Event, error) {
	var payload struct {
		Skills []string `json:"skills"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return SkillsInjected{Skills: payload.Skills}, nil
}

func decodeOAuthConsent(eventType, data string) (Event, error) {
	var payload struct {
		Provider  string `json:"provider"`
		URL       string `json:"url"`
		SkillName string `json:"skill_name"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return OAuthConsentRequired{
		Provider:  payload.Provider,
		URL:       payload.URL,
		SkillName: payload.SkillName,
	}, nil
}

func decodeContextCompacted(eventType, data string) (Event, error) {
	var payload struct {
		MessagesRemoved int  `json:"messages_removed"`
		TokensFreed     int  `json:"tokens_freed"`
		TokensUsed      *int `json:"tokens_used"`
		TokenLimit      *int `json:"token_limit"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return ContextCompacted{
		MessagesRemoved: payload.MessagesRemoved,
		TokensFreed:     payload.TokensFreed,
		TokensUsed:      payload.TokensUsed,
		TokenLimit:      payload.TokenLimit,
	}, nil
}

func decodeTodosUpdated(eventType, data string) (Event, error) {
	v, err := genericValue(eventType, data)
	if err != nil {
		return nil, err
	}
	todos, ok := v["todos"]
	if !ok {
		todos = json.RawMessage("[]")
	}
	return TodosUpdated{Todos: todos}, nil
}

// decodeUsage keeps absent counters nil. Zero is a real value the backend can
// report; nil means "not sent", and the UI must not conflate the two.
func decodeUsage(eventType, data string) (Event, error) {
	var payload struct {
		Used  *int `json:"context_window_used"`
		Limit *int `json:"context_window_limit"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return Usage{ContextWindowUsed: payload.Used, ContextWindowLimit: payload.Limit}, nil
}

func decodeSystemInit(eventType, data string) (Event, error) {
	var payload struct {
		CLISessionID   string `json:"cli_session_id"`
		PermissionMode string `json:"permission_mode"`
		Model          string `json:"model"`
		ToolCount      int    `json:"tool_count"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return SystemInit{
		CLISessionID:   payload.CLISessionID,
		PermissionMode: payload.PermissionMode,
		Model:          payload.Model,
		ToolCount:      payload.ToolCount,
	}, nil
}

func decodeRateLimited(eventType, data string) (Event, error) {
	var payload struct {
		Message          string  `json:"message"`
		CurrentAccountID string  `json:"current_account_id"`
		NextAccountID    *string `json:"next_account_id"`
		RetryAfterSecs   uint64  `json:"retry_after_secs"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return RateLimited{
		Message:          payload.Message,
		CurrentAccountID: payload.CurrentAccountID,
		NextAccountID:    payload.NextAccountID,
		RetryAfterSecs:   payload.RetryAfterSecs,
	}, nil
}

func decodeCancelled(eventType, data string) (Event, error) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, decodeErr(eventType, data, err)
	}
	return Cancelled{Reason: payload.Reason}, nil
}
