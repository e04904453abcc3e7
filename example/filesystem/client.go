package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fluxwire/toolbus"
)

// client is a minimal line-protocol client: one request out, one newline-
// terminated response back.
type client struct {
	reader *bufio.Reader
	writer io.Writer
}

func newClient(reader io.Reader, writer io.Writer) *client {
	return &client{
		reader: bufio.NewReader(reader),
		writer: writer,
	}
}

func (c *client) request(method string, params any) (toolbus.Envelope, error) {
	id := toolbus.RequestID(strconv.Quote(uuid.New().String()))
	frame := toolbus.EncodeEnvelope(toolbus.NewRequest(id, method, params))

	if _, err := c.writer.Write(append(frame, '\n')); err != nil {
		return toolbus.Envelope{}, fmt.Errorf("failed to write request: %w", err)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return toolbus.Envelope{}, fmt.Errorf("failed to read response: %w", err)
	}

	env, derr := toolbus.DecodeEnvelope([]byte(strings.TrimSuffix(line, "\n")))
	if derr != nil {
		return toolbus.Envelope{}, fmt.Errorf("invalid response: %w", derr)
	}
	return env, nil
}

func (c *client) run() error {
	env, err := c.request(toolbus.MethodInitialize, map[string]any{
		"clientInfo": toolbus.Info{Name: "filesystem-example-client", Version: "0.1.0"},
	})
	if err != nil {
		return err
	}
	if env.Error != nil {
		return fmt.Errorf("initialize failed: %w", env.Error)
	}
	fmt.Printf("initialized: %s\n", env.Result)

	env, err = c.request(toolbus.MethodToolsList, nil)
	if err != nil {
		return err
	}
	var tools struct {
		Tools []toolbus.ToolSpec `json:"tools"`
	}
	if err := json.Unmarshal(env.Result, &tools); err != nil {
		return fmt.Errorf("failed to unmarshal tool list: %w", err)
	}
	fmt.Println("available tools:")
	for _, tool := range tools.Tools {
		fmt.Printf("  %s\n", tool.Name)
	}

	env, err = c.request(toolbus.MethodToolsCall, map[string]any{
		"name": "write_file",
		"arguments": map[string]any{
			"path":    "example.txt",
			"content": "written through the example client\n",
		},
	})
	if err != nil {
		return err
	}
	if env.Error != nil {
		return fmt.Errorf("write_file failed: %w", env.Error)
	}

	env, err = c.request(toolbus.MethodToolsCall, map[string]any{
		"name":      "read_file",
		"arguments": map[string]any{"path": "example.txt"},
	})
	if err != nil {
		return err
	}
	if env.Error != nil {
		return fmt.Errorf("read_file failed: %w", env.Error)
	}
	fmt.Printf("read_file result: %s\n", env.Result)

	env, err = c.request(toolbus.MethodResourcesRead, map[string]any{
		"uri": "file://example.txt",
	})
	if err != nil {
		return err
	}
	if env.Error != nil {
		return fmt.Errorf("resources/read failed: %w", env.Error)
	}
	fmt.Printf("resource contents: %s\n", env.Result)

	return nil
}
