package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

func TestHTTPCall_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "probe-1", r.Header.Get("X-Probe"))
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "pong")
	}))
	defer server.Close()

	tool := NewHTTPCallTool(5 * time.Second)
	args := fmt.Sprintf(`{"url": %q, "headers": {"X-Probe": "probe-1"}}`, server.URL)

	result := tool.Invoke(context.Background(), json.RawMessage(args))
	require.True(t, result.OK, result.ErrorMessage)
	assert.Equal(t, http.StatusOK, result.Payload["status"])
	assert.Equal(t, "pong", result.Payload["body"])
	assert.Equal(t, false, result.Payload["truncated"])
}

func TestHTTPCall_PostJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name": "edge-9", "enabled": true}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "dev-42"}`)
	}))
	defer server.Close()

	tool := NewHTTPCallTool(5 * time.Second)
	args := fmt.Sprintf(`{"method": "POST", "url": %q, "body": {"name": "edge-9", "enabled": true}}`, server.URL)

	result := tool.Invoke(context.Background(), json.RawMessage(args))
	require.True(t, result.OK, result.ErrorMessage)
	assert.Equal(t, http.StatusCreated, result.Payload["status"])

	data, ok := result.Payload["data"].(map[string]any)
	require.True(t, ok, "json response should be decoded")
	assert.Equal(t, "dev-42", data["id"])
}

func TestHTTPCall_QueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "offline", r.URL.Query().Get("state"))
	}))
	defer server.Close()

	tool := NewHTTPCallTool(5 * time.Second)
	args := fmt.Sprintf(`{"url": %q, "query": {"limit": "5", "state": "offline"}}`, server.URL)

	result := tool.Invoke(context.Background(), json.RawMessage(args))
	require.True(t, result.OK, result.ErrorMessage)
}

func TestHTTPCall_AuthTypes(t *testing.T) {
	cases := []struct {
		authType string
		header   string
		want     string
	}{
		{"bearer", "Authorization", "Bearer tok-1"},
		{"basic", "Authorization", "Basic tok-1"},
		{"api-key", "X-API-Key", "tok-1"},
	}
	for _, tc := range cases {
		t.Run(tc.authType, func(t *testing.T) {
			var got string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get(tc.header)
			}))
			defer server.Close()

			tool := NewHTTPCallTool(5 * time.Second)
			args := fmt.Sprintf(`{"url": %q, "auth_token": "tok-1", "auth_type": %q}`,
				server.URL, tc.authType)

			result := tool.Invoke(context.Background(), json.RawMessage(args))
			require.True(t, result.OK, result.ErrorMessage)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHTTPCall_DeleteAllowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	tool := NewHTTPCallTool(5 * time.Second)
	args := fmt.Sprintf(`{"method": "DELETE", "url": %q}`, server.URL)

	result := tool.Invoke(context.Background(), json.RawMessage(args))
	require.True(t, result.OK, result.ErrorMessage)
	assert.Equal(t, http.StatusNoContent, result.Payload["status"])
}

func TestHTTPCall_RejectsUnknownMethod(t *testing.T) {
	tool := NewHTTPCallTool(time.Second)

	result := tool.Invoke(context.Background(),
		json.RawMessage(`{"method": "TRACE", "url": "http://example.com"}`))
	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindBadRequest, result.ErrorKind)
}

func TestHTTPCall_RejectsRelativeURL(t *testing.T) {
	tool := NewHTTPCallTool(time.Second)

	result := tool.Invoke(context.Background(), json.RawMessage(`{"url": "/just/a/path"}`))
	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindBadRequest, result.ErrorKind)
}

func TestHTTPCall_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from now on

	tool := NewHTTPCallTool(time.Second)
	args := fmt.Sprintf(`{"url": %q}`, server.URL)

	result := tool.Invoke(context.Background(), json.RawMessage(args))
	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindUpstream, result.ErrorKind)
}

func TestHTTPCall_TruncatesLargeBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, maxCallBody+100))
	}))
	defer server.Close()

	tool := NewHTTPCallTool(5 * time.Second)
	args := fmt.Sprintf(`{"url": %q}`, server.URL)

	result := tool.Invoke(context.Background(), json.RawMessage(args))
	require.True(t, result.OK, result.ErrorMessage)
	assert.Equal(t, true, result.Payload["truncated"])
	assert.Len(t, result.Payload["body"], maxCallBody)
}
