package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avandres/stepflow/internal/tool"
	"github.com/avandres/stepflow/pkg/schema"
)

const httpParamSchema = `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "minLength": 1},
    "method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"]},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {}
  },
  "additionalProperties": false
}`

type httpParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

// HTTPTool performs an HTTP request and returns status, headers, and the
// decoded body. JSON response bodies are decoded; everything else comes
// back as a string.
type HTTPTool struct {
	client *http.Client
	spec   tool.Spec
}

// NewHTTPTool creates the http.request tool. client may be nil for a
// default with a 30 second overall timeout.
func NewHTTPTool(client *http.Client) *HTTPTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTool{
		client: client,
		spec: tool.Spec{
			Description: "Perform an HTTP request and return status, headers, and body.",
			ParamSchema: json.RawMessage(httpParamSchema),
			Retry: &schema.RetryPolicy{
				MaxAttempts: 3,
				Backoff:     "exponential",
			},
		},
	}
}

func (t *HTTPTool) Name() string    { return "http.request" }
func (t *HTTPTool) Spec() tool.Spec { return t.spec }

func (t *HTTPTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p httpParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidParameters,
			"invalid http.request parameters: %s", err.Error()).WithCause(err)
	}
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if p.Body != nil {
		raw, err := json.Marshal(p.Body)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidParameters,
				"cannot encode request body: %s", err.Error()).WithCause(err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidParameters,
			"cannot build request: %s", err.Error()).WithCause(err)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolFailed,
			"http request failed: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolFailed,
			"read response body: %s", err.Error()).WithCause(err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var decoded any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			decoded = v
		}
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    decoded,
	}, nil
}

var _ tool.Tool = (*HTTPTool)(nil)
