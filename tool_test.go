package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type mockTool struct {
	name        string
	schema      json.RawMessage
	needsReplay bool
	content     string
	err         error
}

func (m mockTool) Definition() ToolDefinition {
	return ToolDefinition{Name: m.name, Description: "mock tool", Parameters: m.schema}
}
func (m mockTool) NeedsReplay() bool { return m.needsReplay }
func (m mockTool) Call(_ context.Context, _ Sandbox, _ json.RawMessage) (ToolResult, error) {
	if m.err != nil {
		return ToolResult{}, m.err
	}
	return ToolResult{Content: m.content}, nil
}

func TestToolRegistryDispatch(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(mockTool{name: "greet", content: "hello"})

	defs := reg.Definitions()
	if len(defs) != 1 || defs[0].Name != "greet" {
		t.Fatalf("expected 1 definition 'greet', got %v", defs)
	}

	res, err := reg.Dispatch(context.Background(), nil, "greet", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hello" {
		t.Errorf("got %q, want %q", res.Content, "hello")
	}
}

func TestToolRegistryUnknownTool(t *testing.T) {
	reg := NewToolRegistry()

	_, err := reg.Dispatch(context.Background(), nil, "nonexistent", nil)
	var valErr *ToolValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ToolValidationError, got %T: %v", err, err)
	}
}

func TestToolRegistryEmpty(t *testing.T) {
	reg := NewToolRegistry()

	defs := reg.Definitions()
	if len(defs) != 0 {
		t.Errorf("expected 0 definitions, got %d", len(defs))
	}
}

func TestToolRegistryMultipleTools(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(mockTool{name: "greet", content: "hello from greet"})
	reg.Register(mockTool{name: "calc", content: "result from calc"})

	defs := reg.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}

	res, err := reg.Dispatch(context.Background(), nil, "greet", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hello from greet" {
		t.Errorf("greet: got %q", res.Content)
	}

	res, err = reg.Dispatch(context.Background(), nil, "calc", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "result from calc" {
		t.Errorf("calc: got %q", res.Content)
	}
}

func TestToolRegistryCallErrorWrapsAsToolRuntimeError(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(mockTool{name: "fail", err: errors.New("tool broken")})

	_, err := reg.Dispatch(context.Background(), nil, "fail", nil)
	var runtimeErr *ToolRuntimeError
	if !errors.As(err, &runtimeErr) {
		t.Fatalf("expected *ToolRuntimeError, got %T: %v", err, err)
	}
	if runtimeErr.Tool != "fail" {
		t.Errorf("Tool = %q, want %q", runtimeErr.Tool, "fail")
	}
}

func TestToolRegistryReRegisterReplacesNotDuplicates(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(mockTool{name: "greet", content: "v1"})
	reg.Register(mockTool{name: "greet", content: "v2"})

	if len(reg.Definitions()) != 1 {
		t.Fatalf("expected re-registration to replace, got %d definitions", len(reg.Definitions()))
	}
	res, _ := reg.Dispatch(context.Background(), nil, "greet", nil)
	if res.Content != "v2" {
		t.Errorf("got %q, want %q (latest registration)", res.Content, "v2")
	}
}

func TestToolRegistryNeedsReplay(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(mockTool{name: "read", needsReplay: false})
	reg.Register(mockTool{name: "write", needsReplay: true})

	if reg.NeedsReplay("read") {
		t.Error("read tool should not need replay")
	}
	if !reg.NeedsReplay("write") {
		t.Error("write tool should need replay")
	}
	if reg.NeedsReplay("unknown") {
		t.Error("unknown tool should report false, not panic")
	}
}

func TestToolRegistrySchemaValidation(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
	reg := NewToolRegistry()
	reg.Register(mockTool{name: "read_file", schema: schema, content: "ok"})

	// Valid args.
	_, err := reg.Dispatch(context.Background(), nil, "read_file", json.RawMessage(`{"path":"a.txt"}`))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	// Missing required field.
	_, err = reg.Dispatch(context.Background(), nil, "read_file", json.RawMessage(`{}`))
	var valErr *ToolValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ToolValidationError for missing required field, got %T: %v", err, err)
	}

	// Wrong type.
	_, err = reg.Dispatch(context.Background(), nil, "read_file", json.RawMessage(`{"path":42}`))
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ToolValidationError for wrong type, got %T: %v", err, err)
	}
}
