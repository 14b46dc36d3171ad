package fabric

import (
	"errors"
	"testing"
)

func TestStorageErrorUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	e := &StorageError{Op: "push", Err: inner}
	if !errors.Is(e, inner) {
		t.Errorf("errors.Is(e, inner) = false, want true")
	}
	if got, want := e.Error(), "storage: push: disk full"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestDuplicateErrorMessage(t *testing.T) {
	e := &DuplicateError{StreamID: "agent-runtime", AggregateType: "agent", AggregateID: "a1", Sequence: 3}
	want := "storage: duplicate sequence 3 for agent-runtime/agent/a1"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestLLMErrorUnwrapAs(t *testing.T) {
	inner := errors.New("503")
	e := &LLMError{Provider: "anthropic", Err: inner}
	var target *LLMError
	if !errors.As(e, &target) {
		t.Fatal("errors.As failed to match *LLMError")
	}
	if target.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", target.Provider)
	}
}

func TestToolRuntimeErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	e := &ToolRuntimeError{Tool: "shell_exec", Err: inner}
	if !errors.Is(e, inner) {
		t.Error("expected errors.Is to find wrapped error")
	}
}

func TestErrorTypesImplementError(t *testing.T) {
	var _ error = (*StorageError)(nil)
	var _ error = (*DuplicateError)(nil)
	var _ error = (*DecodeError)(nil)
	var _ error = (*LaggedError)(nil)
	var _ error = (*ToolValidationError)(nil)
	var _ error = (*ToolRuntimeError)(nil)
	var _ error = (*LLMError)(nil)
	var _ error = (*TimeoutError)(nil)
	var _ error = (*HandlerInvariantError)(nil)
}
