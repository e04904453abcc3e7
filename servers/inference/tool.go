package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/cast"

	"github.com/fluxwire/toolbus"
)

// Tools implements the toolbus.ToolBackend interface.
func (s *Server) Tools() []toolbus.ToolSpec {
	return []toolbus.ToolSpec{
		{
			Name:        "generate",
			Description: "Generate a completion for a prompt using a named model.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{
				"model":       {Type: "string", Description: "Model to run"},
				"prompt":      {Type: "string", Description: "Prompt text"},
				"temperature": {Type: "number", Description: "Sampling temperature", Default: 0.7},
				"max_tokens":  {Type: "integer", Description: "Token budget for the completion", Default: 512},
			}, "model", "prompt"),
		},
		{
			Name:        "list_models",
			Description: "List the models available on the inference daemon.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{}),
		},
	}
}

// ExecuteTool implements the toolbus.ToolBackend interface. The outbound HTTP
// call carries the caller's context, so session close or a caller deadline
// cancels an in-flight generation.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.logger.Debug("executing tool", slog.String("tool", name))

	switch name {
	case "generate":
		return s.generate(ctx, args)
	case "list_models":
		return s.listModels(ctx)
	default:
		return nil, fmt.Errorf("tool not found: %s", name)
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (s *Server) generate(ctx context.Context, args map[string]any) (any, error) {
	reqBody := generateRequest{
		Model:  cast.ToString(args["model"]),
		Prompt: cast.ToString(args["prompt"]),
		Stream: false,
		Options: map[string]any{
			"temperature": cast.ToFloat64(args["temperature"]),
			"num_predict": cast.ToInt(args["max_tokens"]),
		},
	}

	var resp generateResponse
	if err := s.post(ctx, "/api/generate", reqBody, &resp); err != nil {
		return nil, err
	}

	return map[string]any{
		"model":    resp.Model,
		"response": resp.Response,
	}, nil
}

type listModelsResponse struct {
	Models []modelInfo `json:"models"`
}

type modelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

func (s *Server) listModels(ctx context.Context) (any, error) {
	var resp listModelsResponse
	if err := s.get(ctx, "/api/tags", &resp); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(resp.Models))
	for _, model := range resp.Models {
		names = append(names, model.Name)
	}
	return names, nil
}

func (s *Server) post(ctx context.Context, path string, body, out any) error {
	bs, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(bs))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return s.do(req, out)
}

func (s *Server) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return s.do(req, out)
}

func (s *Server) do(req *http.Request, out any) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bs, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("inference daemon returned %s: %s", resp.Status, bs)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
