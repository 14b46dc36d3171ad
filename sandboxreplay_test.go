package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

type replayTool struct {
	name        string
	needsReplay bool
	calls       int
	err         error
}

func (t *replayTool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.name, Description: "replay test tool"}
}
func (t *replayTool) NeedsReplay() bool { return t.needsReplay }
func (t *replayTool) Call(ctx context.Context, sb Sandbox, args json.RawMessage) (ToolResult, error) {
	t.calls++
	if t.err != nil {
		return ToolResult{}, t.err
	}
	return ToolResult{Content: "replayed"}, nil
}

func TestReplaySandboxReplaysOnlyFlaggedTools(t *testing.T) {
	write := &replayTool{name: "write_file", needsReplay: true}
	read := &replayTool{name: "read_file", needsReplay: false}
	tools := NewToolRegistry()
	tools.Register(write)
	tools.Register(read)

	envs := []Envelope{
		envelopeFor(CompletedEvent{
			AssistantMessage: "working",
			ToolCalls: []ToolCall{
				{ID: "c1", Name: "write_file"},
				{ID: "c2", Name: "read_file"},
			},
		}, 1),
	}

	if err := ReplaySandbox(context.Background(), &fakeSandbox{}, tools, envs, nil); err != nil {
		t.Fatal(err)
	}
	if write.calls != 1 {
		t.Errorf("expected write_file replayed once, got %d", write.calls)
	}
	if read.calls != 0 {
		t.Errorf("expected read_file not replayed, got %d", read.calls)
	}
}

func TestReplaySandboxSkipsNonCompletedEnvelopes(t *testing.T) {
	write := &replayTool{name: "write_file", needsReplay: true}
	tools := NewToolRegistry()
	tools.Register(write)

	envs := []Envelope{
		envelopeFor(PromptedEvent{Text: "go"}, 1),
		envelopeFor(ToolResultEvent{CallID: "c1", Output: "ok"}, 2),
		envelopeFor(FinishedEvent{}, 3),
	}

	if err := ReplaySandbox(context.Background(), &fakeSandbox{}, tools, envs, nil); err != nil {
		t.Fatal(err)
	}
	if write.calls != 0 {
		t.Errorf("expected no replay calls for non-Completed envelopes, got %d", write.calls)
	}
}

func TestReplaySandboxLogsErrorsWithoutHalting(t *testing.T) {
	failing := &replayTool{name: "flaky", needsReplay: true, err: errors.New("replay failed")}
	following := &replayTool{name: "after", needsReplay: true}
	tools := NewToolRegistry()
	tools.Register(failing)
	tools.Register(following)

	envs := []Envelope{
		envelopeFor(CompletedEvent{
			AssistantMessage: "working",
			ToolCalls: []ToolCall{
				{ID: "c1", Name: "flaky"},
				{ID: "c2", Name: "after"},
			},
		}, 1),
	}

	err := ReplaySandbox(context.Background(), &fakeSandbox{}, tools, envs, slog.Default())
	if err != nil {
		t.Fatalf("expected ReplaySandbox to swallow per-call errors, got %v", err)
	}
	if failing.calls != 1 {
		t.Errorf("expected flaky tool attempted once, got %d", failing.calls)
	}
	if following.calls != 1 {
		t.Errorf("expected the call after a failure to still be attempted, got %d", following.calls)
	}
}

func TestDispatchReplayReturnsCallID(t *testing.T) {
	tool := &replayTool{name: "write_file", needsReplay: true}
	tools := NewToolRegistry()
	tools.Register(tool)

	res, callID, err := DispatchReplay(context.Background(), &fakeSandbox{}, tools, ToolCall{ID: "c9", Name: "write_file"})
	if err != nil {
		t.Fatal(err)
	}
	if callID != "c9" {
		t.Errorf("callID = %q, want %q", callID, "c9")
	}
	if res.Content != "replayed" {
		t.Errorf("Content = %q, want %q", res.Content, "replayed")
	}
}

func TestDispatchReplayPropagatesDispatchError(t *testing.T) {
	tools := NewToolRegistry()

	_, _, err := DispatchReplay(context.Background(), &fakeSandbox{}, tools, ToolCall{ID: "c1", Name: "missing"})
	var valErr *ToolValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ToolValidationError, got %T: %v", err, err)
	}
}
