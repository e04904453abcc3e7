package httpbridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/fluxwire/toolbus"
)

const defaultTimeoutMs = 30000

// Tools implements the toolbus.ToolBackend interface.
func (s *Server) Tools() []toolbus.ToolSpec {
	return []toolbus.ToolSpec{
		{
			Name: "http_request",
			Description: "Send an HTTP request and return the response status, headers " +
				"and body. The timeout bounds the whole round trip.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{
				"method": {
					Type:        "string",
					Description: "HTTP method",
					Enum:        []any{"GET", "POST", "PUT", "DELETE"},
				},
				"url":        {Type: "string", Description: "Absolute URL to request"},
				"headers":    {Type: "object", Description: "Request headers"},
				"body":       {Type: "string", Description: "Request body"},
				"timeout_ms": {Type: "integer", Description: "Round-trip deadline in milliseconds", Default: defaultTimeoutMs},
			}, "method", "url"),
		},
	}
}

// ExecuteTool implements the toolbus.ToolBackend interface. The timeout_ms
// argument is layered onto the caller's context, so session close cancels the
// round trip even before the deadline.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if name != "http_request" {
		return nil, fmt.Errorf("tool not found: %s", name)
	}

	method := cast.ToString(args["method"])
	url := cast.ToString(args["url"])
	timeout := time.Duration(cast.ToInt(args["timeout_ms"])) * time.Millisecond

	s.logger.Debug("executing tool",
		slog.String("tool", name),
		slog.String("method", method),
		slog.String("url", url))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if raw := cast.ToString(args["body"]); raw != "" {
		body = strings.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range cast.ToStringMapString(args["headers"]) {
		req.Header.Set(key, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    string(respBody),
	}, nil
}
