package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsrouter/opsr/routing/adapters"
	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

var testFleet = []Device{
	{UID: "d1", Name: "edge-fw-01", DeviceType: "firewall", Serial: "SN001", ConnectivityState: "online", TrackingID: "t1"},
	{UID: "d2", Name: "edge-fw-02", DeviceType: "firewall", Serial: "SN002", ConnectivityState: "offline", TrackingID: "t2"},
	{UID: "d3", Name: "core-sw-01", DeviceType: "switch", Serial: "SN003", ConnectivityState: "online"},
}

func newDirectoryServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		require.Equal(t, "/api/devices", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"devices": testFleet})
	}))
}

func decodeDevices(t *testing.T, result ports.ToolResult) []Device {
	t.Helper()
	require.True(t, result.OK, result.ErrorMessage)
	raw, err := json.Marshal(result.Payload["devices"])
	require.NoError(t, err)
	var devices []Device
	require.NoError(t, json.Unmarshal(raw, &devices))
	return devices
}

func TestInventory_List(t *testing.T) {
	server := newDirectoryServer(t, nil)
	defer server.Close()

	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "", time.Second), nil, 0)
	result := tool.Invoke(context.Background(), json.RawMessage(`{"operation": "list"}`))

	devices := decodeDevices(t, result)
	assert.Len(t, devices, 3)
}

func TestInventory_FindByName(t *testing.T) {
	server := newDirectoryServer(t, nil)
	defer server.Close()

	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "", time.Second), nil, 0)
	result := tool.Invoke(context.Background(),
		json.RawMessage(`{"operation": "find", "search_term": "edge-fw-01"}`))

	devices := decodeDevices(t, result)
	require.Len(t, devices, 1)
	assert.Equal(t, "d1", devices[0].UID)
	assert.Equal(t, "t1", devices[0].TrackingID)
}

func TestInventory_FindBySerial(t *testing.T) {
	server := newDirectoryServer(t, nil)
	defer server.Close()

	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "", time.Second), nil, 0)
	result := tool.Invoke(context.Background(),
		json.RawMessage(`{"operation": "find", "search_term": "SN003"}`))

	devices := decodeDevices(t, result)
	require.Len(t, devices, 1)
	assert.Equal(t, "core-sw-01", devices[0].Name)
}

func TestInventory_FindByDeviceType(t *testing.T) {
	server := newDirectoryServer(t, nil)
	defer server.Close()

	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "", time.Second), nil, 0)
	result := tool.Invoke(context.Background(),
		json.RawMessage(`{"operation": "find", "search_term": "switch"}`))

	devices := decodeDevices(t, result)
	require.Len(t, devices, 1)
	assert.Equal(t, "core-sw-01", devices[0].Name)
}

func TestInventory_ListWithOffset(t *testing.T) {
	server := newDirectoryServer(t, nil)
	defer server.Close()

	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "", time.Second), nil, 0)
	result := tool.Invoke(context.Background(),
		json.RawMessage(`{"operation": "list", "limit": 1, "offset": 1}`))

	devices := decodeDevices(t, result)
	require.Len(t, devices, 1)
	assert.Equal(t, "d2", devices[0].UID)
	assert.Equal(t, 3, result.Payload["total"])
	assert.Equal(t, 1, result.Payload["count"])
}

func TestInventory_OffsetPastEnd(t *testing.T) {
	server := newDirectoryServer(t, nil)
	defer server.Close()

	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "", time.Second), nil, 0)
	result := tool.Invoke(context.Background(),
		json.RawMessage(`{"operation": "list", "offset": 10}`))

	devices := decodeDevices(t, result)
	assert.Empty(t, devices)
	assert.Equal(t, 3, result.Payload["total"])
}

func TestInventory_FindRequiresSearchTerm(t *testing.T) {
	server := newDirectoryServer(t, nil)
	defer server.Close()

	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "", time.Second), nil, 0)
	result := tool.Invoke(context.Background(), json.RawMessage(`{"operation": "find"}`))

	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindBadRequest, result.ErrorKind)
}

func TestInventory_QueryByConnectivity(t *testing.T) {
	server := newDirectoryServer(t, nil)
	defer server.Close()

	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "", time.Second), nil, 0)
	result := tool.Invoke(context.Background(),
		json.RawMessage(`{"operation": "query", "connectivity": "offline"}`))

	devices := decodeDevices(t, result)
	require.Len(t, devices, 1)
	assert.Equal(t, "edge-fw-02", devices[0].Name)
}

func TestInventory_CacheAvoidsRepeatCalls(t *testing.T) {
	var calls atomic.Int64
	server := newDirectoryServer(t, &calls)
	defer server.Close()

	cache := adapters.NewLRUCache(16)
	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "", time.Second), cache, 60)

	for i := 0; i < 3; i++ {
		result := tool.Invoke(context.Background(), json.RawMessage(`{"operation": "list"}`))
		require.True(t, result.OK, result.ErrorMessage)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestInventory_UpstreamDown(t *testing.T) {
	server := newDirectoryServer(t, nil)
	server.Close()

	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "", time.Second), nil, 0)
	result := tool.Invoke(context.Background(), json.RawMessage(`{"operation": "list"}`))

	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindUpstream, result.ErrorKind)
}

func TestInventory_UpstreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "", time.Second), nil, 0)
	result := tool.Invoke(context.Background(), json.RawMessage(`{"operation": "list"}`))

	assert.False(t, result.OK)
	assert.Contains(t, result.ErrorMessage, "500")
}

func TestInventory_BearerTokenForwarded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"devices": []Device{}})
	}))
	defer server.Close()

	tool := NewInventoryTool(NewHTTPDirectory(server.URL, "sekrit", time.Second), nil, 0)
	result := tool.Invoke(context.Background(), json.RawMessage(`{"operation": "list"}`))
	assert.True(t, result.OK, result.ErrorMessage)
}
