package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeControlPermissionRequest(t *testing.T) {
	msg, err := DecodeControl([]byte(`{
		"type": "permission_request",
		"request_id": "req-123",
		"tool_name": "Bash",
		"tool_input": {"command": "ls -la"},
		"description": "List directory contents",
		"timestamp": 1234567890
	}`))
	require.NoError(t, err)

	req, ok := msg.(PermissionRequest)
	require.True(t, ok)
	assert.Equal(t, "req-123", req.RequestID)
	assert.Equal(t, "Bash", req.ToolName)
	assert.JSONEq(t, `{"command":"ls -la"}`, string(req.ToolInput))
	assert.Equal(t, uint64(1234567890), req.Timestamp)
}

func TestDecodeControlConnected(t *testing.T) {
	msg, err := DecodeControl([]byte(`{"type":"connected","session_id":"s-1","timestamp":99}`))
	require.NoError(t, err)
	assert.Equal(t, Connected{SessionID: "s-1", Timestamp: 99}, msg)
}

func TestDecodeControlAgentStatus(t *testing.T) {
	msg, err := DecodeControl([]byte(`{
		"type": "agent_status",
		"thread_id": "t-1",
		"state": "tool_use",
		"model": "sonnet",
		"tool": "Bash",
		"timestamp": 5
	}`))
	require.NoError(t, err)

	status := msg.(AgentStatus)
	assert.Equal(t, "t-1", status.ThreadID)
	assert.Equal(t, "tool_use", status.State)
	assert.Equal(t, "Bash", status.Tool)
}

func TestDecodeControlPlanApprovalRequest(t *testing.T) {
	msg, err := DecodeControl([]byte(`{
		"type": "plan_approval_request",
		"thread_id": "thread-plan-1",
		"request_id": "plan-req-123",
		"plan_summary": {"title": "Add dark mode", "phases": ["a", "b"]},
		"timestamp": "2024-01-15T10:30:00Z"
	}`))
	require.NoError(t, err)

	req := msg.(PlanApprovalRequest)
	assert.Equal(t, "thread-plan-1", req.ThreadID)
	assert.Equal(t, "plan-req-123", req.RequestID)
}

func TestDecodeControlUnknownTypeIsRaw(t *testing.T) {
	msg, err := DecodeControl([]byte(`{"type":"future_thing","x":1}`))
	require.NoError(t, err)

	raw := msg.(RawControl)
	assert.Equal(t, "future_thing", raw.Type)
	assert.JSONEq(t, `{"type":"future_thing","x":1}`, string(raw.Raw))
}

func TestDecodeControlMalformed(t *testing.T) {
	_, err := DecodeControl([]byte("not json"))
	require.Error(t, err)
	var decErr *DecodeError
	assert.ErrorAs(t, err, &decErr)
}

func TestCommandResponseWireShape(t *testing.T) {
	resp := NewCommandResponse("req-123", true, "Permission granted")
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "command_response", parsed["type"])
	assert.Equal(t, "req-123", parsed["request_id"])
	result := parsed["result"].(map[string]any)
	assert.Equal(t, "success", result["status"])
	inner := result["data"].(map[string]any)
	assert.Equal(t, true, inner["allowed"])
	assert.Equal(t, "Permission granted", inner["message"])
}

func TestCommandResponseOmitsEmptyMessage(t *testing.T) {
	resp := NewCommandResponse("req-456", false, "")
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"message"`)
}

func TestCancelPermissionWireShape(t *testing.T) {
	data, err := json.Marshal(NewCancelPermission("req-9"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"cancel_permission","request_id":"req-9"}`, string(data))
}

func TestPlanApprovalResponseWireShape(t *testing.T) {
	data, err := json.Marshal(NewPlanApprovalResponse("req-7", true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"plan_approval_response","request_id":"req-7","approved":true}`, string(data))

	data, err = json.Marshal(NewPlanApprovalResponse("req-8", false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"plan_approval_response","request_id":"req-8","approved":false}`, string(data))
}
