package fabric

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Tool is one callable capability exposed to the LLM (§4.6). Implementations
// declare a JSON Schema that bounds their arguments and a NeedsReplay flag:
// tools that mutate sandbox file-system state must return true so Sandbox
// Replay can re-execute them when reconstructing sandbox state from the
// event log.
type Tool interface {
	// Definition is the wire shape sent to the LLM: name, description, and
	// a JSON Schema for arguments.
	Definition() ToolDefinition
	// NeedsReplay reports whether this tool's effects must be replayed to
	// reconstruct sandbox state. Read-only or informational tools return false.
	NeedsReplay() bool
	// Call executes the tool against the given sandbox.
	Call(ctx context.Context, sb Sandbox, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution, folded back into the
// thread as a ToolResult event (§4.3.1 step 5 / §4.3.2).
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolRegistry holds all registered tools, keyed by name, and dispatches
// execution with schema validation in front of every call.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *ToolRegistry) Register(t Tool) {
	name := t.Definition().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Lookup returns the tool registered under name, if any.
func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns tool definitions in registration order — the list
// sent to the LLM alongside the folded message history (§4.3.1 step 2).
func (r *ToolRegistry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// NeedsReplay reports whether the named tool must be replayed when
// reconstructing sandbox state (§4.4). Unknown tools report false.
func (r *ToolRegistry) NeedsReplay(name string) bool {
	t, ok := r.tools[name]
	return ok && t.NeedsReplay()
}

// Dispatch looks up the tool by name, validates args against its declared
// schema, and calls it. A missing tool or a schema validation failure
// returns *ToolValidationError rather than calling into the tool — the
// Tool Worker folds this into a ToolResult{IsError: true} (§4.3.2 step 1).
func (r *ToolRegistry) Dispatch(ctx context.Context, sb Sandbox, name string, args json.RawMessage) (ToolResult, error) {
	t, ok := r.tools[name]
	if !ok {
		return ToolResult{}, &ToolValidationError{Tool: name, Reason: "unknown tool"}
	}
	if err := validateArgs(t.Definition().Parameters, args); err != nil {
		return ToolResult{}, &ToolValidationError{Tool: name, Reason: err.Error()}
	}
	result, err := t.Call(ctx, sb, args)
	if err != nil {
		return ToolResult{}, &ToolRuntimeError{Tool: name, Err: err}
	}
	return result, nil
}

// validateArgs compiles schema (a JSON Schema document) and validates args
// against it. An empty schema allows any arguments.
func validateArgs(schema json.RawMessage, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}
	var argsDoc any
	if len(args) == 0 {
		argsDoc = map[string]any{}
	} else if err := json.Unmarshal(args, &argsDoc); err != nil {
		return fmt.Errorf("unmarshal args: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return compiled.Validate(argsDoc)
}
