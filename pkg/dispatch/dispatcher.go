// Package dispatch is the single consumer between the transports and the
// store. One goroutine applies events in arrival order; everything else reads
// snapshots. Redraw notifications are rate-limited so token storms cost one
// repaint, not hundreds.
package dispatch

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/strandtui/strand/pkg/observability"
	"github.com/strandtui/strand/pkg/render"
	"github.com/strandtui/strand/pkg/store"
	"github.com/strandtui/strand/pkg/wire"
)

// redrawRate caps repaints per second; burst 1 keeps latency at one token.
const redrawRate = 30

// Dispatcher applies decoded events to the store and render caches.
type Dispatcher struct {
	store *store.Store
	lines *render.LinesCache
	log   *observability.Logger

	tracker statusTracker

	limiter   *rate.Limiter
	redrawReq chan struct{}
	redraw    chan struct{}
}

// New builds a Dispatcher over the given store and lines cache. The lines
// cache may be nil when no renderer is attached.
func New(st *store.Store, lines *render.LinesCache, log *observability.Logger) *Dispatcher {
	if log == nil {
		log = observability.NewLogger("dispatch")
	}
	return &Dispatcher{
		store:     st,
		lines:     lines,
		log:       log,
		limiter:   rate.NewLimiter(rate.Limit(redrawRate), 1),
		redrawReq: make(chan struct{}, 1),
		redraw:    make(chan struct{}, 1),
	}
}

// Redraw signals that the view is stale. At most one notification is pending
// at a time.
func (d *Dispatcher) Redraw() <-chan struct{} {
	return d.redraw
}

// Status returns a snapshot of app-level state.
func (d *Dispatcher) Status() Status {
	return d.tracker.snapshot()
}

// PendingPermissions returns outstanding permission requests, oldest first.
func (d *Dispatcher) PendingPermissions() []wire.PermissionRequest {
	return d.tracker.permissions()
}

// TakePermission removes and returns the request with the given id.
func (d *Dispatcher) TakePermission(requestID string) (wire.PermissionRequest, bool) {
	return d.tracker.takePermission(requestID)
}

// TakePlanApproval removes and returns the plan request with the given id.
func (d *Dispatcher) TakePlanApproval(requestID string) (wire.PlanApprovalRequest, bool) {
	return d.tracker.takePlan(requestID)
}

// SetBackendHealthy records the REST liveness bit.
func (d *Dispatcher) SetBackendHealthy(healthy bool) {
	d.tracker.update(func(s *Status) { s.BackendHealthy = healthy })
}

// Run consumes control frames until the channel closes or the context ends.
// It also owns the redraw coalescing loop. Callers run exactly one Run per
// Dispatcher.
func (d *Dispatcher) Run(ctx context.Context, frames <-chan wire.ControlMessage) {
	go d.redrawLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-frames:
			if !ok {
				return
			}
			d.ApplyControl(msg)
		}
	}
}

// Apply handles one stream event in the context of the thread the stream was
// opened for. Event-carried thread ids win over the stream's.
func (d *Dispatcher) Apply(threadID string, ev wire.Event) {
	observability.EventsDecoded.WithLabelValues(ev.EventType()).Inc()

	switch e := ev.(type) {
	case wire.ContentDelta:
		target := threadID
		if e.Meta.ThreadID != "" {
			target = e.Meta.ThreadID
		}
		d.store.AppendToken(target, e.Text)
		d.notifyRedraw()

	case wire.Reasoning:
		d.tracker.update(func(s *Status) { s.Activity = "thinking" })
		d.notifyRedraw()

	case wire.ThreadInfo:
		d.store.ReconcileThreadID(threadID, e.ThreadID, e.Title)
		d.notifyRedraw()

	case wire.MessageInfo:
		d.store.FinalizeMessage(threadID, e.MessageID)
		d.tracker.update(func(s *Status) {
			s.StreamActive = false
			s.Activity = "idle"
		})
		d.notifyRedraw()

	case wire.Done:
		d.tracker.update(func(s *Status) {
			s.StreamActive = false
			s.Activity = "idle"
		})
		d.notifyRedraw()

	case wire.ThreadUpdated:
		target := threadID
		if e.ThreadID != "" {
			target = e.ThreadID
		}
		d.store.UpdateThreadMetadata(target, store.ThreadUpdate{Title: e.Title})
		d.notifyRedraw()

	case wire.StreamError:
		d.store.AddError(threadID, e.Code, e.Message)
		d.tracker.update(func(s *Status) {
			s.StreamActive = false
			s.LastStreamError = e.Message
		})
		d.notifyRedraw()

	case wire.Cancelled:
		d.store.CancelStreaming(threadID)
		d.tracker.update(func(s *Status) {
			s.StreamActive = false
			s.Activity = "idle"
		})
		d.notifyRedraw()

	case wire.SystemInit:
		d.tracker.update(func(s *Status) {
			s.SessionID = e.CLISessionID
			s.Model = e.Model
			s.PermissionMode = e.PermissionMode
		})

	case wire.Usage:
		d.tracker.update(func(s *Status) {
			if e.ContextWindowUsed != nil {
				s.ContextTokensUsed = e.ContextWindowUsed
			}
			if e.ContextWindowLimit != nil {
				s.ContextTokenLimit = e.ContextWindowLimit
			}
		})
		d.notifyRedraw()

	case wire.ContextCompacted:
		d.tracker.update(func(s *Status) {
			s.ContextCompactions++
			if e.TokensUsed != nil {
				s.ContextTokensUsed = e.TokensUsed
			}
			if e.TokenLimit != nil {
				s.ContextTokenLimit = e.TokenLimit
			}
		})
		d.notifyRedraw()

	case wire.RateLimited:
		d.tracker.update(func(s *Status) {
			s.RateLimited = true
			s.RateLimitNotice = e.Message
		})
		d.log.Warn("backend rate limited", "retry_after_secs", e.RetryAfterSecs)
		d.notifyRedraw()

	case wire.SkillsInjected, wire.OAuthConsentRequired, wire.TodosUpdated, wire.Ping:
		// Informational; nothing in the store changes.
	}
}

// MarkStreamStarted flips the stream-active bit before the first event lands.
func (d *Dispatcher) MarkStreamStarted() {
	d.tracker.update(func(s *Status) {
		s.StreamActive = true
		s.LastStreamError = ""
		s.RateLimited = false
		s.RateLimitNotice = ""
	})
}

// ApplyControl handles one WebSocket control frame.
func (d *Dispatcher) ApplyControl(msg wire.ControlMessage) {
	switch m := msg.(type) {
	case wire.Connected:
		d.tracker.update(func(s *Status) { s.SessionID = m.SessionID })
		d.notifyRedraw()

	case wire.AgentStatus:
		d.tracker.update(func(s *Status) {
			s.Activity = m.State
			s.ActivityTool = m.Tool
			if m.Model != "" {
				s.Model = m.Model
			}
		})
		if m.ThreadID != "" {
			d.store.TouchThread(m.ThreadID)
		}
		d.notifyRedraw()

	case wire.ThreadStatusUpdate:
		d.store.TouchThread(m.ThreadID)
		d.notifyRedraw()

	case wire.PermissionRequest:
		d.tracker.addPermission(m)
		d.notifyRedraw()

	case wire.PlanApprovalRequest:
		d.tracker.addPlan(m)
		d.notifyRedraw()

	case wire.RawControl:
		d.log.Debug("ignoring unknown control frame", "type", m.Type)
	}
}

func (d *Dispatcher) notifyRedraw() {
	select {
	case d.redrawReq <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) redrawLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.redrawReq:
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case d.redraw <- struct{}{}:
		default:
		}
	}
}
