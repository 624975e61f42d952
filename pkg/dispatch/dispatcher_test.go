package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandtui/strand/pkg/store"
	"github.com/strandtui/strand/pkg/wire"
)

func strPtr(s string) *string { return &s }

func TestStreamingLifecycleThroughDispatcher(t *testing.T) {
	st := store.New()
	d := New(st, nil, nil)

	pendingID := st.CreatePendingThread("What is Rust?", store.KindConversation)
	d.MarkStreamStarted()
	assert.True(t, d.Status().StreamActive)

	d.Apply(pendingID, wire.ContentDelta{Text: "Rust is "})
	d.Apply(pendingID, wire.ContentDelta{Text: "a systems language."})
	d.Apply(pendingID, wire.ThreadInfo{ThreadID: "backend-thread-123", Title: strPtr("Rust Programming")})
	d.Apply(pendingID, wire.MessageInfo{MessageID: 42})

	assert.Equal(t, 1, st.ThreadCount())
	thread, ok := st.Thread("backend-thread-123")
	require.True(t, ok)
	assert.Equal(t, "Rust Programming", thread.Title)

	msgs := st.Messages("backend-thread-123")
	require.Len(t, msgs, 2)
	assert.Equal(t, "What is Rust?", msgs[0].Content)
	assert.Equal(t, int64(42), msgs[1].ID)
	assert.Equal(t, "Rust is a systems language.", msgs[1].Content)
	assert.False(t, msgs[1].Streaming)

	status := d.Status()
	assert.False(t, status.StreamActive)
	assert.Equal(t, "idle", status.Activity)
}

func TestDeltaCarryingStaleThreadIDLandsInRealThread(t *testing.T) {
	st := store.New()
	d := New(st, nil, nil)

	pendingID := st.CreatePendingThread("hello", store.KindConversation)
	d.Apply(pendingID, wire.ThreadInfo{ThreadID: "real-1"})

	// The frame itself addresses the pending id the server no longer uses.
	d.Apply("ignored", wire.ContentDelta{Text: "tok", Meta: wire.Meta{ThreadID: pendingID}})

	msgs := st.Messages("real-1")
	require.NotEmpty(t, msgs)
	assert.Equal(t, "tok", msgs[len(msgs)-1].Display())
}

func TestStreamErrorRecorded(t *testing.T) {
	st := store.New()
	d := New(st, nil, nil)

	id := st.CreatePendingThread("q", store.KindConversation)
	d.MarkStreamStarted()
	d.Apply(id, wire.StreamError{Message: "model overloaded", Code: "overloaded"})

	status := d.Status()
	assert.False(t, status.StreamActive)
	assert.Equal(t, "model overloaded", status.LastStreamError)

	errs := st.Errors(id)
	require.Len(t, errs, 1)
	assert.Equal(t, "overloaded", errs[0].Code)
}

func TestCancelledMarksPlaceholder(t *testing.T) {
	st := store.New()
	d := New(st, nil, nil)

	id := st.CreatePendingThread("q", store.KindConversation)
	d.Apply(id, wire.ContentDelta{Text: "partial"})
	d.Apply(id, wire.Cancelled{Reason: "user"})

	msgs := st.Messages(id)
	last := msgs[len(msgs)-1]
	assert.False(t, last.Streaming)
	assert.Contains(t, last.Content, "[Cancelled]")
}

func TestSystemInitAndUsagePopulateStatus(t *testing.T) {
	d := New(store.New(), nil, nil)

	d.Apply("", wire.SystemInit{CLISessionID: "sess-9", Model: "opus", PermissionMode: "default", ToolCount: 12})
	used, limit := 1200, 200000
	d.Apply("", wire.Usage{ContextWindowUsed: &used, ContextWindowLimit: &limit})

	status := d.Status()
	assert.Equal(t, "sess-9", status.SessionID)
	assert.Equal(t, "opus", status.Model)
	require.NotNil(t, status.ContextTokensUsed)
	assert.Equal(t, 1200, *status.ContextTokensUsed)

	// A usage frame without counters must not zero the known values.
	d.Apply("", wire.Usage{})
	status = d.Status()
	require.NotNil(t, status.ContextTokensUsed)
	assert.Equal(t, 1200, *status.ContextTokensUsed)
}

func TestRateLimitedNotice(t *testing.T) {
	d := New(store.New(), nil, nil)
	d.Apply("", wire.RateLimited{Message: "slow down", RetryAfterSecs: 30})

	status := d.Status()
	assert.True(t, status.RateLimited)
	assert.Equal(t, "slow down", status.RateLimitNotice)

	d.MarkStreamStarted()
	assert.False(t, d.Status().RateLimited)
}

func TestPermissionRequestQueue(t *testing.T) {
	d := New(store.New(), nil, nil)

	d.ApplyControl(wire.PermissionRequest{RequestID: "req-1", ToolName: "Bash", ToolInput: json.RawMessage(`{}`)})
	d.ApplyControl(wire.PermissionRequest{RequestID: "req-2", ToolName: "Edit"})

	assert.Len(t, d.PendingPermissions(), 2)

	req, ok := d.TakePermission("req-1")
	require.True(t, ok)
	assert.Equal(t, "Bash", req.ToolName)
	assert.Len(t, d.PendingPermissions(), 1)

	_, ok = d.TakePermission("req-1")
	assert.False(t, ok)
}

func TestAgentStatusUpdates(t *testing.T) {
	st := store.New()
	d := New(st, nil, nil)

	d.ApplyControl(wire.AgentStatus{ThreadID: "t-1", State: "tool_use", Tool: "Bash", Model: "sonnet"})

	status := d.Status()
	assert.Equal(t, "tool_use", status.Activity)
	assert.Equal(t, "Bash", status.ActivityTool)
	assert.Equal(t, "sonnet", status.Model)
}

func TestRunConsumesControlFrames(t *testing.T) {
	d := New(store.New(), nil, nil)
	frames := make(chan wire.ControlMessage, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx, frames)
		close(done)
	}()

	frames <- wire.Connected{SessionID: "s-1"}
	assert.Eventually(t, func() bool {
		return d.Status().SessionID == "s-1"
	}, 5*time.Second, 10*time.Millisecond)

	close(frames)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
}

func TestRedrawCoalesced(t *testing.T) {
	st := store.New()
	d := New(st, nil, nil)
	id := st.CreatePendingThread("q", store.KindConversation)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.redrawLoop(ctx)

	for i := 0; i < 50; i++ {
		d.Apply(id, wire.ContentDelta{Text: "x"})
	}

	select {
	case <-d.Redraw():
	case <-time.After(5 * time.Second):
		t.Fatal("no redraw notification")
	}
	// Fifty deltas collapse into at most a couple of pending notifications.
	assert.LessOrEqual(t, len(d.Redraw()), 1)
}
