package fabric

import (
	"context"
	"log/slog"
)

// ReplaySandbox reconstructs sandbox file-system state from the ordered
// event log of one thread aggregate (§4.4 "Sandbox Replay"). It iterates
// envs in sequence order; for each Completed event it re-dispatches every
// tool call whose registered tool declares NeedsReplay, against sb, with
// the original call id preserved for logging. Errors during replay are
// logged but never halt the walk — the original ToolResult remains the
// authoritative record of whether that call succeeded live (§4.4).
func ReplaySandbox(ctx context.Context, sb Sandbox, tools *ToolRegistry, envs []Envelope, logger *slog.Logger) error {
	if logger == nil {
		logger = nopLogger
	}
	for _, env := range envs {
		if env.EventType != (CompletedEvent{}).EventType() {
			continue
		}
		var ev CompletedEvent
		if err := decodeInto(env.Data, &ev); err != nil {
			logger.Warn("replay: skip undecodable Completed event", "aggregate_id", env.AggregateID, "sequence", env.Sequence, "error", err)
			continue
		}
		for _, tc := range ev.ToolCalls {
			if !tools.NeedsReplay(tc.Name) {
				continue
			}
			if _, _, err := DispatchReplay(ctx, sb, tools, tc); err != nil {
				logger.Warn("replay: tool call failed", "call_id", tc.ID, "tool", tc.Name, "error", err)
			}
		}
	}
	return nil
}

// DispatchReplay re-decodes tc's arguments and invokes the tool on sb,
// returning whatever ToolRegistry.Dispatch returns. Separated from
// ReplaySandbox so tests can assert on individual call outcomes.
func DispatchReplay(ctx context.Context, sb Sandbox, tools *ToolRegistry, tc ToolCall) (ToolResult, string, error) {
	res, err := tools.Dispatch(ctx, sb, tc.Name, tc.Args)
	return res, tc.ID, err
}
