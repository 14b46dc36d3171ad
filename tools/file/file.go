// Package file provides sandbox-scoped file tools (§4.6, §F.9): read,
// write, list, and remove, each implementing fabric.Tool against a
// fabric.Sandbox rather than the host file system directly, so the same
// tool works identically whether the sandbox is a container or an
// in-memory stub in tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nevindra/fabric"
)

const maxReadChars = 8000

var readSchema = json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to the sandbox workspace"}},"required":["path"]}`)
var writeSchema = json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to the sandbox workspace"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`)
var listSchema = json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory path relative to the sandbox workspace (empty or '.' for root)"}}}`)
var removeSchema = json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File or directory path relative to the sandbox workspace"}},"required":["path"]}`)

// ReadTool reads a file from the sandbox workspace. Read-only: does not
// need replay.
type ReadTool struct{}

func (ReadTool) Definition() fabric.ToolDefinition {
	return fabric.ToolDefinition{
		Name:        "file_read",
		Description: "Read a file from the sandbox workspace. Returns the file content (truncated to 8000 chars if large).",
		Parameters:  readSchema,
	}
}
func (ReadTool) NeedsReplay() bool { return false }
func (ReadTool) Call(ctx context.Context, sb fabric.Sandbox, args json.RawMessage) (fabric.ToolResult, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return fabric.ToolResult{}, fmt.Errorf("invalid args: %w", err)
	}
	data, err := sb.ReadFile(ctx, p.Path)
	if err != nil {
		return fabric.ToolResult{}, err
	}
	content := string(data)
	if len(content) > maxReadChars {
		content = content[:maxReadChars] + "\n... (truncated)"
	}
	return fabric.ToolResult{Content: content}, nil
}

// WriteTool writes content to a file in the sandbox workspace, creating
// parent directories as needed. Mutates sandbox state, so it needs replay
// (§4.4, §F.9).
type WriteTool struct{}

func (WriteTool) Definition() fabric.ToolDefinition {
	return fabric.ToolDefinition{
		Name:        "file_write",
		Description: "Write content to a file in the sandbox workspace. Creates parent directories if needed.",
		Parameters:  writeSchema,
	}
}
func (WriteTool) NeedsReplay() bool { return true }
func (WriteTool) Call(ctx context.Context, sb fabric.Sandbox, args json.RawMessage) (fabric.ToolResult, error) {
	var p struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return fabric.ToolResult{}, fmt.Errorf("invalid args: %w", err)
	}
	if err := sb.WriteFile(ctx, p.Path, []byte(p.Content)); err != nil {
		return fabric.ToolResult{}, err
	}
	return fabric.ToolResult{Content: fmt.Sprintf("written %d bytes to %s", len(p.Content), p.Path)}, nil
}

// ListTool lists the entries of a sandbox directory. Read-only.
type ListTool struct{}

func (ListTool) Definition() fabric.ToolDefinition {
	return fabric.ToolDefinition{
		Name:        "file_list",
		Description: "List files and directories in a sandbox workspace directory.",
		Parameters:  listSchema,
	}
}
func (ListTool) NeedsReplay() bool { return false }
func (ListTool) Call(ctx context.Context, sb fabric.Sandbox, args json.RawMessage) (fabric.ToolResult, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return fabric.ToolResult{}, fmt.Errorf("invalid args: %w", err)
	}
	path := p.Path
	if path == "" {
		path = "."
	}
	entries, err := sb.ListDir(ctx, path)
	if err != nil {
		return fabric.ToolResult{}, err
	}
	var out string
	for _, e := range entries {
		kind := "file"
		if e.IsDir {
			kind = "dir"
		}
		out += kind + "\t" + e.Name + "\n"
	}
	return fabric.ToolResult{Content: out}, nil
}

// RemoveTool deletes a file or directory from the sandbox workspace.
// Mutates sandbox state, so it needs replay.
type RemoveTool struct{}

func (RemoveTool) Definition() fabric.ToolDefinition {
	return fabric.ToolDefinition{
		Name:        "file_remove",
		Description: "Delete a file or directory from the sandbox workspace.",
		Parameters:  removeSchema,
	}
}
func (RemoveTool) NeedsReplay() bool { return true }
func (RemoveTool) Call(ctx context.Context, sb fabric.Sandbox, args json.RawMessage) (fabric.ToolResult, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return fabric.ToolResult{}, fmt.Errorf("invalid args: %w", err)
	}
	if err := sb.Remove(ctx, p.Path); err != nil {
		return fabric.ToolResult{}, err
	}
	return fabric.ToolResult{Content: "removed " + p.Path}, nil
}

// RegisterAll registers every file tool on reg.
func RegisterAll(reg *fabric.ToolRegistry) {
	reg.Register(ReadTool{})
	reg.Register(WriteTool{})
	reg.Register(ListTool{})
	reg.Register(RemoveTool{})
}
