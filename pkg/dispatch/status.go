package dispatch

import (
	"sync"

	"github.com/strandtui/strand/pkg/wire"
)

// Status is the app-level state the UI renders alongside the store: session
// identity, agent activity, stream health, and backend notices.
type Status struct {
	SessionID      string
	Model          string
	PermissionMode string

	// Activity of the agent on the active thread ("idle", "thinking",
	// "tool_use", ...), straight from agent_status frames.
	Activity     string
	ActivityTool string

	StreamActive    bool
	LastStreamError string

	// Liveness of the REST surface, set by periodic health checks. Tracked
	// separately from the socket state on purpose.
	BackendHealthy bool

	RateLimited     bool
	RateLimitNotice string

	ContextTokensUsed  *int
	ContextTokenLimit  *int
	ContextCompactions int
}

type statusTracker struct {
	mu      sync.RWMutex
	status  Status
	pending []wire.PermissionRequest
	plans   []wire.PlanApprovalRequest
}

func (t *statusTracker) snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *statusTracker) update(fn func(*Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.status)
}

func (t *statusTracker) addPermission(req wire.PermissionRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, req)
}

func (t *statusTracker) takePermission(requestID string) (wire.PermissionRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, req := range t.pending {
		if req.RequestID == requestID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return req, true
		}
	}
	return wire.PermissionRequest{}, false
}

func (t *statusTracker) permissions() []wire.PermissionRequest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]wire.PermissionRequest, len(t.pending))
	copy(out, t.pending)
	return out
}

func (t *statusTracker) addPlan(req wire.PlanApprovalRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.plans = append(t.plans, req)
}

func (t *statusTracker) takePlan(requestID string) (wire.PlanApprovalRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, req := range t.plans {
		if req.RequestID == requestID {
			t.plans = append(t.plans[:i], t.plans[i+1:]...)
			return req, true
		}
	}
	return wire.PlanApprovalRequest{}, false
}
