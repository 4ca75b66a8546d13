package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// HTTPCallSchema defines the JSON schema for generic REST calls.
const HTTPCallSchema = `{
  "type": "object",
  "properties": {
    "method": {
      "type": "string",
      "enum": ["GET", "HEAD", "POST", "PUT", "DELETE", "PATCH"],
      "default": "GET",
      "description": "HTTP method"
    },
    "url": {
      "type": "string",
      "description": "Absolute http(s) URL to call"
    },
    "query": {
      "type": "object",
      "additionalProperties": {"type": "string"},
      "description": "Query parameters merged into the URL"
    },
    "headers": {
      "type": "object",
      "additionalProperties": {"type": "string"},
      "description": "Extra request headers"
    },
    "body": {
      "description": "JSON request body; objects and arrays are sent as application/json, strings as text/plain"
    },
    "auth_token": {
      "type": "string",
      "description": "Credential attached per auth_type"
    },
    "auth_type": {
      "type": "string",
      "enum": ["bearer", "basic", "api-key"],
      "default": "bearer",
      "description": "How auth_token is attached: Authorization Bearer/Basic, or X-API-Key"
    }
  },
  "required": ["url"],
  "additionalProperties": false
}`

// maxCallBody bounds how much of a response is returned to the caller.
const maxCallBody = 16 * 1024

// HTTPCallTool makes ad-hoc REST calls against arbitrary endpoints. The
// response body is truncated; JSON responses are decoded so the caller
// gets structure instead of a string.
type HTTPCallTool struct {
	client *http.Client
}

func NewHTTPCallTool(timeout time.Duration) *HTTPCallTool {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCallTool{client: &http.Client{Timeout: timeout}}
}

func (t *HTTPCallTool) Name() string { return "httpcall" }

func (t *HTTPCallTool) Description() string {
	return "Calls an HTTP endpoint (GET/HEAD/POST/PUT/DELETE/PATCH) with optional query parameters, JSON body, and bearer, basic, or API-key auth; reports status, latency, and the truncated body."
}

func (t *HTTPCallTool) Schema() []byte { return []byte(HTTPCallSchema) }

var allowedHTTPMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodHead:   true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodPatch:  true,
}

func (t *HTTPCallTool) Invoke(ctx context.Context, args json.RawMessage) ports.ToolResult {
	var params struct {
		Method    string            `json:"method"`
		URL       string            `json:"url"`
		Query     map[string]string `json:"query"`
		Headers   map[string]string `json:"headers"`
		Body      json.RawMessage   `json:"body"`
		AuthToken string            `json:"auth_token"`
		AuthType  string            `json:"auth_type"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ports.FailResult(ports.ErrorKindBadRequest, "invalid arguments: %v", err)
	}
	if params.Method == "" {
		params.Method = http.MethodGet
	}
	params.Method = strings.ToUpper(params.Method)
	if !allowedHTTPMethods[params.Method] {
		return ports.FailResult(ports.ErrorKindBadRequest, "method %q not allowed", params.Method)
	}

	u, err := url.Parse(params.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ports.FailResult(ports.ErrorKindBadRequest, "url must be absolute http(s)")
	}
	if len(params.Query) > 0 {
		q := u.Query()
		for k, v := range params.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	reqBody, contentType, err := encodeCallBody(params.Body)
	if err != nil {
		return ports.FailResult(ports.ErrorKindBadRequest, "%v", err)
	}

	req, err := http.NewRequestWithContext(ctx, params.Method, u.String(), reqBody)
	if err != nil {
		return ports.FailResult(ports.ErrorKindBadRequest, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}
	if params.AuthToken != "" {
		switch strings.ToLower(params.AuthType) {
		case "", "bearer":
			req.Header.Set("Authorization", "Bearer "+params.AuthToken)
		case "basic":
			req.Header.Set("Authorization", "Basic "+params.AuthToken)
		case "api-key":
			req.Header.Set("X-API-Key", params.AuthToken)
		default:
			return ports.FailResult(ports.ErrorKindBadRequest, "auth_type %q not supported", params.AuthType)
		}
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		kind := ports.ErrorKindUpstream
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			kind = ports.ErrorKindTimeout
		}
		return ports.FailResult(kind, "call failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCallBody+1))
	if err != nil {
		return ports.FailResult(ports.ErrorKindUpstream, "read response: %v", err)
	}
	truncated := len(body) > maxCallBody
	if truncated {
		body = body[:maxCallBody]
	}

	payload := map[string]any{
		"status":       resp.StatusCode,
		"latency_ms":   elapsed.Milliseconds(),
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(body),
		"truncated":    truncated,
	}
	// A complete JSON response is also surfaced decoded.
	if !truncated && strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			payload["data"] = decoded
		}
	}
	return ports.OKResult(payload)
}

// encodeCallBody turns the raw body argument into a reader plus content
// type. JSON strings are unwrapped and sent as plain text the way the
// caller wrote them; everything else ships as JSON.
func encodeCallBody(raw json.RawMessage) (io.Reader, string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.NewReader(text), "text/plain", nil
	}
	if !json.Valid(raw) {
		return nil, "", errors.New("body must be valid JSON")
	}
	return bytes.NewReader(raw), "application/json", nil
}

// Ensure HTTPCallTool implements the Tool interface.
var _ ports.Tool = (*HTTPCallTool)(nil)
