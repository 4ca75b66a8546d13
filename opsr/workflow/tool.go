package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

const diagnoseToolSchema = `{
  "type": "object",
  "properties": {
    "operation": {
      "type": "string",
      "enum": ["troubleshoot_device", "check_all_devices", "check_device_events"],
      "description": "Diagnostic operation to run"
    },
    "criteria": {
      "type": "string",
      "description": "Device name, serial, or uid to troubleshoot"
    },
    "device_uid": {
      "type": "string",
      "description": "Tracking id for a direct status check"
    },
    "stream_id": {
      "type": "string",
      "description": "Event stream scope; falls back to the configured default"
    },
    "limit": {
      "type": "integer",
      "minimum": 1,
      "description": "Max targets for a fleet-wide check"
    }
  },
  "required": ["operation"],
  "additionalProperties": false
}`

type diagnoseArgs struct {
	Operation string `json:"operation"`
	Criteria  string `json:"criteria"`
	DeviceUID string `json:"device_uid"`
	StreamID  string `json:"stream_id"`
	Limit     int    `json:"limit"`
}

// DiagnoseTool adapts the workflow engine to the tool interface so the
// router can dispatch health checks like any other capability.
type DiagnoseTool struct {
	engine *Engine
}

func NewDiagnoseTool(engine *Engine) *DiagnoseTool {
	return &DiagnoseTool{engine: engine}
}

func (t *DiagnoseTool) Name() string { return "diagnose" }

func (t *DiagnoseTool) Description() string {
	return "Checks whether tracked devices are actively reporting events: troubleshoot one device by name or serial, check a known device uid directly, or sweep the whole fleet."
}

func (t *DiagnoseTool) Schema() []byte { return []byte(diagnoseToolSchema) }

func (t *DiagnoseTool) Invoke(ctx context.Context, args json.RawMessage) ports.ToolResult {
	var a diagnoseArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ports.FailResult(ports.ErrorKindBadRequest, "invalid arguments: %v", err)
	}

	switch a.Operation {
	case "troubleshoot_device":
		if a.Criteria == "" {
			return ports.FailResult(ports.ErrorKindBadRequest, "criteria is required for troubleshoot_device")
		}
		report := t.engine.Run(ctx, a.Criteria, a.StreamID)
		return ports.OKResult(map[string]any{
			"report":   report,
			"response": renderReport(report),
		})

	case "check_device_events":
		if a.DeviceUID == "" {
			return ports.FailResult(ports.ErrorKindBadRequest, "device_uid is required for check_device_events")
		}
		report := t.engine.CheckDirect(ctx, a.StreamID, a.DeviceUID, a.DeviceUID)
		return ports.OKResult(map[string]any{
			"report":   report,
			"response": renderReport(report),
		})

	case "check_all_devices":
		batch := t.engine.RunAll(ctx, a.StreamID, a.Limit)
		return ports.OKResult(map[string]any{
			"batch":    batch,
			"response": renderBatch(batch),
		})

	default:
		return ports.FailResult(ports.ErrorKindBadRequest, "unknown operation %q", a.Operation)
	}
}

// renderReport formats a single-target verdict for conversational output.
func renderReport(r *Report) string {
	var b strings.Builder
	name := r.TargetName
	if name == "" {
		name = r.TargetUID
	}
	if name == "" {
		name = "target"
	}
	fmt.Fprintf(&b, "%s: %s\n", name, strings.ToUpper(string(r.Verdict)))
	fmt.Fprintf(&b, "  %s\n", r.Reason)
	if r.ScopeID != "" {
		fmt.Fprintf(&b, "  scope: %s\n", r.ScopeID)
	}
	if r.LastEventTime != "" {
		fmt.Fprintf(&b, "  last event: %s (%d minutes ago)\n", r.LastEventTime, r.MinutesSince)
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderBatch formats a fleet sweep for conversational output.
func renderBatch(br *BatchReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fleet check for scope %s: %s\n", br.ScopeID, br.OverallStatus)
	fmt.Fprintf(&b, "  %d checked: %d healthy (%.1f%%), %d stale, %d never seen, %d unresolved\n",
		br.Total, br.Healthy, br.HealthyPercentage, br.Stale, br.NeverSeen, br.Unresolved)
	for _, r := range br.Reports {
		if r.Verdict == VerdictHealthy {
			continue
		}
		name := r.TargetName
		if name == "" {
			name = r.TargetUID
		}
		fmt.Fprintf(&b, "  - %s: %s (%s)\n", name, r.Verdict, r.Reason)
	}
	for _, rec := range br.Recommendations {
		fmt.Fprintf(&b, "  recommendation: %s\n", rec)
	}
	return strings.TrimRight(b.String(), "\n")
}

var _ ports.Tool = (*DiagnoseTool)(nil)
