// Package done provides the built-in terminal-signal tool (§4.3.2,
// §F.9): a tool with one optional summary argument that an agent calls to
// signal it has finished its turn. The LLM Worker treats a response where every tool call
// names this tool as a done signal and emits FinishedEvent.
package done

import (
	"context"
	"encoding/json"

	"github.com/nevindra/fabric"
)

var schema = json.RawMessage(`{"type":"object","properties":{"summary":{"type":"string","description":"Short summary of what was accomplished"}}}`)

// Tool signals that the agent has finished its turn. Read-only: does
// not need replay.
type Tool struct{}

func (Tool) Definition() fabric.ToolDefinition {
	return fabric.ToolDefinition{
		Name:        "done",
		Description: "Call this when the task is complete and no further tool calls are needed.",
		Parameters:  schema,
	}
}

func (Tool) NeedsReplay() bool { return false }

func (Tool) Call(_ context.Context, _ fabric.Sandbox, args json.RawMessage) (fabric.ToolResult, error) {
	var p struct {
		Summary string `json:"summary"`
	}
	if len(args) > 0 {
		_ = json.Unmarshal(args, &p)
	}
	if p.Summary == "" {
		return fabric.ToolResult{Content: "done"}, nil
	}
	return fabric.ToolResult{Content: p.Summary}, nil
}

// RegisterAll registers the done tool on reg.
func RegisterAll(reg *fabric.ToolRegistry) {
	reg.Register(Tool{})
}
