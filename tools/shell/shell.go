// Package shell provides a sandbox-scoped shell execution tool (§4.6,
// §F.9): a single shell_exec tool that runs a command inside a
// fabric.Sandbox via sh -c, rather than os/exec directly, so the same
// tool works identically against a container or an in-memory stub.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nevindra/fabric"
)

const (
	defaultTimeoutSeconds = 30
	maxTimeoutSeconds     = 300
	maxOutputChars        = 4000
)

var blockedSubstrings = []string{"rm -rf /", "sudo ", "mkfs", "> /dev/", "dd if="}

var execSchema = json.RawMessage(`{"type":"object","properties":{"command":{"type":"string","description":"Shell command to execute"},"timeout":{"type":"integer","description":"Timeout in seconds (default 30, max 300)"}},"required":["command"]}`)

// ExecTool runs a shell command inside the sandbox workspace. Not
// replayable: shell side effects aren't assumed deterministic or
// reproducible (§F.9).
type ExecTool struct{}

func (ExecTool) Definition() fabric.ToolDefinition {
	return fabric.ToolDefinition{
		Name:        "shell_exec",
		Description: "Execute a shell command in the sandbox workspace. Returns stdout + stderr.",
		Parameters:  execSchema,
	}
}

func (ExecTool) NeedsReplay() bool { return false }

func (ExecTool) Call(ctx context.Context, sb fabric.Sandbox, args json.RawMessage) (fabric.ToolResult, error) {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return fabric.ToolResult{}, fmt.Errorf("invalid args: %w", err)
	}
	if params.Command == "" {
		return fabric.ToolResult{IsError: true, Content: "command is required"}, nil
	}

	lower := strings.ToLower(params.Command)
	for _, b := range blockedSubstrings {
		if strings.Contains(lower, b) {
			return fabric.ToolResult{IsError: true, Content: "command blocked for safety: " + b}, nil
		}
	}

	timeout := defaultTimeoutSeconds
	if params.Timeout > 0 {
		timeout = params.Timeout
	}
	if timeout > maxTimeoutSeconds {
		timeout = maxTimeoutSeconds
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	result, err := sb.Exec(cmdCtx, "sh", []string{"-c", params.Command})
	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return fabric.ToolResult{IsError: true, Content: fmt.Sprintf("command timed out after %ds", timeout)}, nil
		}
		return fabric.ToolResult{}, err
	}

	output := result.Stdout
	if result.Stderr != "" {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += result.Stderr
	}
	if len(output) > maxOutputChars {
		output = output[:maxOutputChars] + "\n... (truncated)"
	}
	if output == "" {
		output = "(no output)"
	}

	if result.ExitCode != 0 {
		return fabric.ToolResult{IsError: true, Content: output}, nil
	}
	return fabric.ToolResult{Content: output}, nil
}

// RegisterAll registers every shell tool on reg.
func RegisterAll(reg *fabric.ToolRegistry) {
	reg.Register(ExecTool{})
}
