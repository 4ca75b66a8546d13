package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/sourcegraph/conc/pool"
)

// BatchReport aggregates independent diagnostic runs over every tracked
// target in a scope.
type BatchReport struct {
	ScopeID           string    `json:"scope_id"`
	Total             int       `json:"total"`
	Healthy           int       `json:"healthy"`
	Stale             int       `json:"stale"`
	NeverSeen         int       `json:"never_seen"`
	Unresolved        int       `json:"unresolved"`
	HealthyPercentage float64   `json:"healthy_percentage"`
	OverallStatus     string    `json:"overall_status"`
	Recommendations   []string  `json:"recommendations,omitempty"`
	Reports           []*Report `json:"reports"`
}

// healthyFleetThreshold is the percentage of healthy targets above which
// the fleet as a whole reads as healthy.
const healthyFleetThreshold = 80.0

// RunAll checks every target the inventory lists, each through its own
// state machine starting at the scope stage. Individual failures become
// unresolved entries; they never abort the batch.
func (e *Engine) RunAll(ctx context.Context, scopeID string, limit int) *BatchReport {
	if scopeID == "" {
		scopeID = e.opts.DefaultScopeID
	}
	br := &BatchReport{ScopeID: scopeID, Reports: []*Report{}}
	if scopeID == "" {
		br.OverallStatus = "unresolved"
		br.Recommendations = append(br.Recommendations,
			"supply a stream id or configure a default before running a fleet check")
		return br
	}
	if limit <= 0 || limit > e.opts.BatchLimit {
		limit = e.opts.BatchLimit
	}

	spanCtx, finish := e.tracer.StartSpan(ctx, "diagnose.batch", map[string]any{
		"scope": scopeID,
		"limit": limit,
	})
	defer finish(nil)

	args, _ := json.Marshal(map[string]any{
		"operation": "list",
		"limit":     limit,
	})
	res := e.inventory.Invoke(spanCtx, args)
	if !res.OK {
		br.OverallStatus = "unresolved"
		br.Recommendations = append(br.Recommendations,
			fmt.Sprintf("inventory listing failed (%s): %s", res.ErrorKind, res.ErrorMessage))
		return br
	}

	var payload struct {
		Devices []Target `json:"devices"`
	}
	if err := decodePayload(res.Payload, &payload); err != nil {
		br.OverallStatus = "unresolved"
		br.Recommendations = append(br.Recommendations,
			fmt.Sprintf("inventory payload malformed: %v", err))
		return br
	}

	br.Total = len(payload.Devices)
	br.Reports = make([]*Report, len(payload.Devices))

	p := pool.New().WithMaxGoroutines(e.opts.BatchConcurrency)
	for i, target := range payload.Devices {
		p.Go(func() {
			br.Reports[i] = e.runForTarget(spanCtx, scopeID, target)
		})
	}
	p.Wait()

	for _, r := range br.Reports {
		switch r.Verdict {
		case VerdictHealthy:
			br.Healthy++
		case VerdictStale:
			br.Stale++
		case VerdictNeverSeen:
			br.NeverSeen++
		default:
			br.Unresolved++
		}
	}

	if br.Total > 0 {
		pct := float64(br.Healthy) / float64(br.Total) * 100
		br.HealthyPercentage = math.Round(pct*10) / 10
	}
	if br.HealthyPercentage > healthyFleetThreshold {
		br.OverallStatus = "healthy"
	} else {
		br.OverallStatus = "issues_detected"
	}
	br.Recommendations = recommendations(br)

	return br
}

// runForTarget runs the per-target portion of the state machine: scope is
// already resolved, and the target either has a tracking id or is
// unresolvable on the spot.
func (e *Engine) runForTarget(ctx context.Context, scopeID string, target Target) *Report {
	dc := &DiagnosticContext{
		ScopeID:        scopeID,
		ResolvedTarget: target.TrackingID,
		TargetName:     target.Name,
	}
	if target.TrackingID == "" {
		terminal(dc, StateResolveTarget, VerdictUnresolved,
			"target %q has no usable identifier for status tracking", target.Name)
		return e.reportFrom(dc)
	}

	state := StateFetchStatus
	for state != StateDone {
		if err := ctx.Err(); err != nil {
			terminal(dc, state, VerdictUnresolved, "run cancelled: %v", err)
			break
		}
		switch state {
		case StateFetchStatus:
			state = e.fetchStatus(ctx, dc)
		case StateClassify:
			state = e.classify(dc)
		}
	}
	return e.reportFrom(dc)
}

func recommendations(br *BatchReport) []string {
	var recs []string
	if br.Total == 0 {
		return append(recs, "no tracked targets found in the inventory")
	}
	if br.Stale > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d target(s) have gone quiet; check connectivity and event forwarding", br.Stale))
	}
	if br.NeverSeen > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d target(s) have never reported; verify they are enrolled in scope %s",
			br.NeverSeen, br.ScopeID))
	}
	if br.Unresolved > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d target(s) could not be checked; review their inventory records", br.Unresolved))
	}
	if len(recs) == 0 {
		recs = append(recs, "all targets reporting within threshold; no action needed")
	}
	return recs
}
