// Package tools holds the concrete backend capabilities the router can
// dispatch to. Every tool validates its own arguments and folds failures
// into the uniform result envelope.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// InventorySchema defines the JSON schema for inventory tool parameters.
const InventorySchema = `{
  "type": "object",
  "properties": {
    "operation": {
      "type": "string",
      "enum": ["list", "find", "query"],
      "description": "list all devices, find by name/type/serial/uid, or query with a connectivity filter"
    },
    "search_term": {
      "type": "string",
      "description": "Name, type, serial, or uid fragment for the find operation"
    },
    "connectivity": {
      "type": "string",
      "description": "Connectivity state filter for the query operation"
    },
    "limit": {
      "type": "integer",
      "minimum": 1,
      "maximum": 500,
      "default": 50
    },
    "offset": {
      "type": "integer",
      "minimum": 0,
      "default": 0,
      "description": "Devices to skip before the limit is applied"
    }
  },
  "required": ["operation"],
  "additionalProperties": false
}`

// Device is the directory's record of one managed device.
type Device struct {
	UID               string `json:"uid"`
	Name              string `json:"name"`
	DeviceType        string `json:"device_type"`
	Serial            string `json:"serial"`
	SoftwareVersion   string `json:"software_version"`
	ConnectivityState string `json:"connectivity_state"`
	// TrackingID keys the device in the event status table. Devices not
	// yet enrolled for event tracking have none.
	TrackingID string `json:"tracking_id"`
}

// Directory is the upstream device-directory API.
type Directory interface {
	Devices(ctx context.Context) ([]Device, error)
}

// HTTPDirectory fetches the device list from a REST directory endpoint.
type HTTPDirectory struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPDirectory(baseURL, token string, timeout time.Duration) *HTTPDirectory {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDirectory) Devices(ctx context.Context) ([]Device, error) {
	u, err := url.Parse(d.baseURL + "/api/devices")
	if err != nil {
		return nil, fmt.Errorf("directory url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Devices []Device `json:"devices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("directory payload: %w", err)
	}
	return payload.Devices, nil
}

// InventoryTool exposes the device directory to the router and the
// diagnostic workflow. Directory responses are cached briefly so a fleet
// sweep does not hammer the upstream API.
type InventoryTool struct {
	directory Directory
	cache     ports.Cache
	cacheTTL  int // seconds
}

func NewInventoryTool(directory Directory, cache ports.Cache, cacheTTLSeconds int) *InventoryTool {
	if cacheTTLSeconds <= 0 {
		cacheTTLSeconds = 60
	}
	return &InventoryTool{directory: directory, cache: cache, cacheTTL: cacheTTLSeconds}
}

func (t *InventoryTool) Name() string { return "inventory" }

func (t *InventoryTool) Description() string {
	return "Looks up managed devices in the directory: list the fleet, find a device by name, serial, or uid, or filter by connectivity state."
}

func (t *InventoryTool) Schema() []byte { return []byte(InventorySchema) }

func (t *InventoryTool) Invoke(ctx context.Context, args json.RawMessage) ports.ToolResult {
	var params struct {
		Operation    string `json:"operation"`
		SearchTerm   string `json:"search_term"`
		Connectivity string `json:"connectivity"`
		Limit        int    `json:"limit"`
		Offset       int    `json:"offset"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ports.FailResult(ports.ErrorKindBadRequest, "invalid arguments: %v", err)
	}
	if params.Limit <= 0 {
		params.Limit = 50
	}
	if params.Limit > 500 {
		params.Limit = 500
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	devices, err := t.devices(ctx)
	if err != nil {
		kind := ports.ErrorKindUpstream
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ports.ErrorKindTimeout
		}
		return ports.FailResult(kind, "device directory unavailable: %v", err)
	}

	switch params.Operation {
	case "list":
		// already have the full fleet
	case "find":
		if params.SearchTerm == "" {
			return ports.FailResult(ports.ErrorKindBadRequest, "search_term is required for find")
		}
		devices = filterDevices(devices, func(d Device) bool {
			term := strings.ToLower(params.SearchTerm)
			return strings.Contains(strings.ToLower(d.Name), term) ||
				strings.Contains(strings.ToLower(d.DeviceType), term) ||
				strings.EqualFold(d.Serial, params.SearchTerm) ||
				strings.EqualFold(d.UID, params.SearchTerm)
		})
	case "query":
		if params.Connectivity == "" {
			return ports.FailResult(ports.ErrorKindBadRequest, "connectivity is required for query")
		}
		devices = filterDevices(devices, func(d Device) bool {
			return strings.EqualFold(d.ConnectivityState, params.Connectivity)
		})
	default:
		return ports.FailResult(ports.ErrorKindBadRequest, "unknown operation %q", params.Operation)
	}

	matched := len(devices)
	if params.Offset >= len(devices) {
		devices = devices[:0]
	} else {
		devices = devices[params.Offset:]
	}
	if len(devices) > params.Limit {
		devices = devices[:params.Limit]
	}

	return ports.OKResult(map[string]any{
		"devices": devices,
		"total":   matched,
		"count":   len(devices),
	})
}

const inventoryCacheKey = "inventory:devices"

// devices returns the fleet, from cache when fresh.
func (t *InventoryTool) devices(ctx context.Context) ([]Device, error) {
	if t.cache != nil {
		if raw, ok := t.cache.Get(ctx, inventoryCacheKey); ok {
			var cached []Device
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	devices, err := t.directory.Devices(ctx)
	if err != nil {
		return nil, err
	}

	if t.cache != nil {
		if raw, err := json.Marshal(devices); err == nil {
			_ = t.cache.Set(ctx, inventoryCacheKey, raw, t.cacheTTL)
		}
	}
	return devices, nil
}

func filterDevices(devices []Device, keep func(Device) bool) []Device {
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// Ensure InventoryTool implements the Tool interface.
var _ ports.Tool = (*InventoryTool)(nil)
