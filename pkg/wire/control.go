package wire

import (
	"encoding/json"
	"time"
)

// ControlMessage is a typed incoming WebSocket control frame.
type ControlMessage interface {
	ControlType() string
}

// Connected confirms the control channel is established.
type Connected struct {
	SessionID string `json:"session_id"`
	Timestamp uint64 `json:"timestamp"`
}

// AgentStatus reports what the agent on a thread is doing right now.
type AgentStatus struct {
	ThreadID  string `json:"thread_id"`
	State     string `json:"state"`
	Model     string `json:"model"`
	Tool      string `json:"tool,omitempty"`
	Timestamp uint64 `json:"timestamp"`
}

// PermissionRequest asks the user to approve a tool invocation.
type PermissionRequest struct {
	RequestID   string          `json:"request_id"`
	ToolName    string          `json:"tool_name"`
	ToolInput   json.RawMessage `json:"tool_input"`
	Description string          `json:"description"`
	Timestamp   uint64          `json:"timestamp"`
}

// ThreadStatusUpdate feeds the dashboard's per-thread status column.
type ThreadStatusUpdate struct {
	ThreadID   string          `json:"thread_id"`
	Status     string          `json:"status"`
	WaitingFor json.RawMessage `json:"waiting_for,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PlanApprovalRequest asks the user to approve an agent plan.
type PlanApprovalRequest struct {
	ThreadID    string          `json:"thread_id"`
	RequestID   string          `json:"request_id"`
	PlanSummary json.RawMessage `json:"plan_summary"`
	Timestamp   time.Time       `json:"timestamp"`
}

// RawControl is a frame with an unrecognized type tag, kept for debugging.
type RawControl struct {
	Type string
	Raw  json.RawMessage
}

func (Connected) ControlType() string           { return "connected" }
func (AgentStatus) ControlType() string         { return "agent_status" }
func (PermissionRequest) ControlType() string   { return "permission_request" }
func (ThreadStatusUpdate) ControlType() string  { return "thread_status_update" }
func (PlanApprovalRequest) ControlType() string { return "plan_approval_request" }
func (m RawControl) ControlType() string        { return m.Type }

// DecodeControl decodes one incoming WebSocket text frame. Unknown type tags
// come back as RawControl; only malformed JSON is an error, and even that
// must not close the connection.
func DecodeControl(data []byte) (ControlMessage, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, decodeErr("control", string(data), err)
	}

	switch tag.Type {
	case "connected":
		var m Connected
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, decodeErr(tag.Type, string(data), err)
		}
		return m, nil
	case "agent_status":
		var m AgentStatus
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, decodeErr(tag.Type, string(data), err)
		}
		return m, nil
	case "permission_request":
		var m PermissionRequest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, decodeErr(tag.Type, string(data), err)
		}
		return m, nil
	case "thread_status_update":
		var m ThreadStatusUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, decodeErr(tag.Type, string(data), err)
		}
		return m, nil
	case "plan_approval_request":
		var m PlanApprovalRequest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, decodeErr(tag.Type, string(data), err)
		}
		return m, nil
	default:
		return RawControl{Type: tag.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// Outgoing is a message the client sends on the control channel. Each carries
// its own "type" discriminator in the serialized form.
type Outgoing interface {
	OutgoingType() string
}

// CommandResponse answers a permission request.
type CommandResponse struct {
	Type      string        `json:"type"`
	RequestID string        `json:"request_id"`
	Result    CommandResult `json:"result"`
}

// CommandResult wraps the permission decision.
type CommandResult struct {
	Status string         `json:"status"`
	Data   PermissionData `json:"data"`
}

// PermissionData is the allow/deny decision, optionally with a user message.
type PermissionData struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

// NewCommandResponse builds a permission decision for a request.
func NewCommandResponse(requestID string, allowed bool, message string) CommandResponse {
	return CommandResponse{
		Type:      "command_response",
		RequestID: requestID,
		Result: CommandResult{
			Status: "success",
			Data:   PermissionData{Allowed: allowed, Message: message},
		},
	}
}

// CancelPermission withdraws a pending permission request.
type CancelPermission struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

// NewCancelPermission builds a cancel for a pending permission request.
func NewCancelPermission(requestID string) CancelPermission {
	return CancelPermission{Type: "cancel_permission", RequestID: requestID}
}

// PlanApprovalResponse answers a plan approval request.
type PlanApprovalResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
}

// NewPlanApprovalResponse builds a plan approval decision.
func NewPlanApprovalResponse(requestID string, approved bool) PlanApprovalResponse {
	return PlanApprovalResponse{
		Type:      "plan_approval_response",
		RequestID: requestID,
		Approved:  approved,
	}
}

func (m CommandResponse) OutgoingType() string      { return m.Type }
func (m CancelPermission) OutgoingType() string     { return m.Type }
func (m PlanApprovalResponse) OutgoingType() string { return m.Type }
