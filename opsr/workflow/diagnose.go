// Package workflow implements the multi-step device-health-check procedure:
// resolve a target from the inventory, resolve the stream scope, fetch the
// last-event status record, and classify it against the staleness
// threshold. Every failure path terminates in a verdict with a
// human-readable reason; the engine never returns an error to its caller.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// Verdict is the terminal classification of one diagnostic run.
type Verdict string

const (
	VerdictHealthy    Verdict = "healthy"
	VerdictStale      Verdict = "stale"
	VerdictNeverSeen  Verdict = "never-seen"
	VerdictUnresolved Verdict = "unresolved"
)

// State enumerates the stages of the diagnostic state machine.
type State int

const (
	StateResolveTarget State = iota
	StateResolveScope
	StateFetchStatus
	StateClassify
	StateDone
)

func (s State) String() string {
	switch s {
	case StateResolveTarget:
		return "resolve-target"
	case StateResolveScope:
		return "resolve-scope"
	case StateFetchStatus:
		return "fetch-status"
	case StateClassify:
		return "classify"
	default:
		return "done"
	}
}

// Target is the inventory view of a device the engine can check.
// TrackingID is the identifier the status table is keyed by; devices
// without one cannot be tracked.
type Target struct {
	UID        string `json:"uid"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type"`
	Serial     string `json:"serial"`
	TrackingID string `json:"tracking_id"`
}

// StatusRecord is the last-known-activity record for a (scope, target) pair.
type StatusRecord struct {
	LastTimestamp int64 `json:"last_timestamp"` // epoch seconds
}

// DiagnosticContext threads one workflow run. It is owned exclusively by a
// single invocation and never persisted beyond the resulting report.
type DiagnosticContext struct {
	TargetCriteria string
	ScopeID        string
	ResolvedTarget string // tracking id, empty until resolved
	TargetName     string
	Status         *StatusRecord // nil means no record exists
	Verdict        Verdict
	Reason         string
	FailedAt       State // stage that terminalized an unresolved run
}

// Report is the caller-facing outcome of one run.
type Report struct {
	Verdict       Verdict   `json:"verdict"`
	Reason        string    `json:"reason"`
	Stage         string    `json:"stage"` // stage that produced the terminal verdict
	TargetUID     string    `json:"target_uid,omitempty"`
	TargetName    string    `json:"target_name,omitempty"`
	ScopeID       string    `json:"scope_id,omitempty"`
	LastEventTime string    `json:"last_event_time,omitempty"`
	MinutesSince  int64     `json:"minutes_since,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Options configures an Engine.
type Options struct {
	// StaleThreshold is the age beyond which a last event is stale.
	StaleThreshold time.Duration
	// DefaultScopeID is used when the caller supplies no scope.
	DefaultScopeID string
	// BatchLimit caps how many targets a batch run checks.
	BatchLimit int
	// BatchConcurrency bounds parallel state machines in batch mode.
	BatchConcurrency int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultStaleThreshold applies when Options carries none.
const DefaultStaleThreshold = 15 * time.Minute

// Engine runs diagnostic state machines. It holds no mutable state across
// invocations; each run owns its DiagnosticContext.
type Engine struct {
	inventory ports.Tool
	status    ports.Tool
	tracer    ports.Tracer
	opts      Options
}

// NewEngine creates a diagnostic engine over the inventory-lookup and
// status-lookup tools. A nil tracer disables tracing.
func NewEngine(inventory, status ports.Tool, tracer ports.Tracer, opts Options) *Engine {
	if tracer == nil {
		tracer = noTrace{}
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = DefaultStaleThreshold
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 50
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{inventory: inventory, status: status, tracer: tracer, opts: opts}
}

// Run executes the full state machine for one target criteria. scopeID may
// be empty, in which case the configured default applies.
func (e *Engine) Run(ctx context.Context, criteria, scopeID string) *Report {
	dc := &DiagnosticContext{TargetCriteria: criteria, ScopeID: scopeID}

	spanCtx, finish := e.tracer.StartSpan(ctx, "diagnose", map[string]any{
		"criteria": criteria,
	})
	defer finish(nil)

	state := StateResolveTarget
	for state != StateDone {
		if err := spanCtx.Err(); err != nil {
			terminal(dc, state, VerdictUnresolved, "run cancelled: %v", err)
			break
		}
		switch state {
		case StateResolveTarget:
			state = e.resolveTarget(spanCtx, dc)
		case StateResolveScope:
			state = e.resolveScope(dc)
		case StateFetchStatus:
			state = e.fetchStatus(spanCtx, dc)
		case StateClassify:
			state = e.classify(dc)
		}
	}

	return e.reportFrom(dc)
}

// CheckDirect skips target resolution for callers that already hold a
// tracking id.
func (e *Engine) CheckDirect(ctx context.Context, scopeID, trackingID, name string) *Report {
	dc := &DiagnosticContext{
		ScopeID:        scopeID,
		ResolvedTarget: trackingID,
		TargetName:     name,
	}
	state := StateResolveScope
	for state != StateDone {
		if err := ctx.Err(); err != nil {
			terminal(dc, state, VerdictUnresolved, "run cancelled: %v", err)
			break
		}
		switch state {
		case StateResolveScope:
			state = e.resolveScope(dc)
		case StateFetchStatus:
			state = e.fetchStatus(ctx, dc)
		case StateClassify:
			state = e.classify(dc)
		}
	}
	return e.reportFrom(dc)
}

// resolveTarget queries the inventory tool and requires exactly one match
// with a usable tracking id.
func (e *Engine) resolveTarget(ctx context.Context, dc *DiagnosticContext) State {
	if dc.TargetCriteria == "" {
		return terminal(dc, StateResolveTarget, VerdictUnresolved, "target criteria required")
	}

	args, _ := json.Marshal(map[string]any{
		"operation":   "find",
		"search_term": dc.TargetCriteria,
	})
	res := e.inventory.Invoke(ctx, args)
	if !res.OK {
		return terminal(dc, StateResolveTarget, VerdictUnresolved,
			"inventory lookup failed (%s): %s", res.ErrorKind, res.ErrorMessage)
	}

	var payload struct {
		Devices []Target `json:"devices"`
	}
	if err := decodePayload(res.Payload, &payload); err != nil {
		return terminal(dc, StateResolveTarget, VerdictUnresolved,
			"inventory payload malformed: %v", err)
	}

	switch len(payload.Devices) {
	case 0:
		return terminal(dc, StateResolveTarget, VerdictUnresolved,
			"target not found: no devices match %q", dc.TargetCriteria)
	case 1:
		// fall through
	default:
		names := make([]string, 0, len(payload.Devices))
		for _, d := range payload.Devices {
			names = append(names, fmt.Sprintf("%s (%s)", d.Name, d.UID))
		}
		return terminal(dc, StateResolveTarget, VerdictUnresolved,
			"ambiguous target %q: %d candidates: %s",
			dc.TargetCriteria, len(payload.Devices), strings.Join(names, ", "))
	}

	target := payload.Devices[0]
	if target.TrackingID == "" {
		return terminal(dc, StateResolveTarget, VerdictUnresolved,
			"target %q has no usable identifier for status tracking", target.Name)
	}

	dc.ResolvedTarget = target.TrackingID
	dc.TargetName = target.Name
	return StateResolveScope
}

// resolveScope uses the explicitly supplied scope id, else the configured
// default. The engine never blocks waiting for interactive input; a
// missing scope is a distinguished terminal state the caller must resolve
// and resubmit.
func (e *Engine) resolveScope(dc *DiagnosticContext) State {
	if dc.ScopeID == "" {
		dc.ScopeID = e.opts.DefaultScopeID
	}
	if dc.ScopeID == "" {
		return terminal(dc, StateResolveScope, VerdictUnresolved,
			"scope required: supply a stream id or configure a default")
	}
	return StateFetchStatus
}

// fetchStatus queries the status tool keyed by (scope, target). An absent
// record is not an error; it flows to Classify as a nil record.
func (e *Engine) fetchStatus(ctx context.Context, dc *DiagnosticContext) State {
	args, _ := json.Marshal(map[string]any{
		"stream_id":  dc.ScopeID,
		"device_uid": dc.ResolvedTarget,
	})
	res := e.status.Invoke(ctx, args)
	if !res.OK {
		return terminal(dc, StateFetchStatus, VerdictUnresolved,
			"status lookup failed (%s): %s", res.ErrorKind, res.ErrorMessage)
	}

	var payload struct {
		Found  bool          `json:"found"`
		Record *StatusRecord `json:"record"`
	}
	if err := decodePayload(res.Payload, &payload); err != nil {
		return terminal(dc, StateFetchStatus, VerdictUnresolved,
			"status payload malformed: %v", err)
	}

	if !payload.Found || payload.Record == nil {
		dc.Status = nil
		return StateClassify
	}
	if payload.Record.LastTimestamp <= 0 {
		return terminal(dc, StateFetchStatus, VerdictUnresolved,
			"status record has invalid timestamp %d", payload.Record.LastTimestamp)
	}

	dc.Status = payload.Record
	return StateClassify
}

// classify produces the verdict from the status record age. The staleness
// threshold comes from configuration only.
func (e *Engine) classify(dc *DiagnosticContext) State {
	if dc.Status == nil {
		return terminal(dc, StateClassify, VerdictNeverSeen,
			"no events have ever been recorded for this target in scope %s", dc.ScopeID)
	}

	now := e.opts.Now()
	last := time.Unix(dc.Status.LastTimestamp, 0).UTC()
	age := now.Sub(last)
	minutes := int64(age.Minutes())

	if age <= e.opts.StaleThreshold {
		return terminal(dc, StateClassify, VerdictHealthy,
			"target is actively reporting: last event %s (%d minutes ago)",
			last.Format("2006-01-02 15:04:05 UTC"), minutes)
	}
	return terminal(dc, StateClassify, VerdictStale,
		"no recent events: last event %s (%d minutes ago), older than the %s threshold",
		last.Format("2006-01-02 15:04:05 UTC"), minutes, e.opts.StaleThreshold)
}

// terminal records the verdict and the stage that produced it.
func terminal(dc *DiagnosticContext, at State, v Verdict, format string, args ...any) State {
	dc.Verdict = v
	dc.Reason = fmt.Sprintf(format, args...)
	dc.FailedAt = at
	return StateDone
}

func (e *Engine) reportFrom(dc *DiagnosticContext) *Report {
	r := &Report{
		Verdict:    dc.Verdict,
		Reason:     dc.Reason,
		Stage:      dc.FailedAt.String(),
		TargetUID:  dc.ResolvedTarget,
		TargetName: dc.TargetName,
		ScopeID:    dc.ScopeID,
		CheckedAt:  e.opts.Now().UTC(),
	}
	if dc.Status != nil {
		last := time.Unix(dc.Status.LastTimestamp, 0).UTC()
		r.LastEventTime = last.Format("2006-01-02 15:04:05 UTC")
		r.MinutesSince = int64(e.opts.Now().Sub(last).Minutes())
	}
	return r
}

type noTrace struct{}

func (noTrace) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (noTrace) Event(ctx context.Context, name string, attrs map[string]any) {}

// decodePayload converts the generic tool payload into a typed view.
func decodePayload(payload map[string]any, v any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
