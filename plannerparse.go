package fabric

import (
	"context"
	"regexp"
	"strings"
)

// TaskParser decomposes natural-language input into an ordered task list
// (§4.5.1 "LLM-Driven Parsing"). This module ships no LLM-backed
// implementation; callers supply one. Without one, or when it fails or
// returns no tasks, the verbatim single-task decomposition below is used.
type TaskParser interface {
	ParseTasks(ctx context.Context, userInput string, attachments []PlanAttachment) ([]Task, error)
}

// ContextCompactor reduces accumulated task results into a summary bounded
// by a token budget (§4.5.2).
type ContextCompactor interface {
	Compact(ctx context.Context, state PlannerState, maxTokens int) (summary string, removedTaskIDs []int, err error)
}

// urlPattern is the permissive URL extraction pattern referenced by §4.5.1
// ("Parser extracts URLs via a permissive URL pattern; file references are
// deferred"). It matches http(s) URLs without attempting full RFC 3986
// validation — good enough to spot links a human pasted into a prompt.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// parseTasks runs parser if supplied, otherwise applies the §4.5.1
// fallback: a single Processing task whose description is the verbatim
// user input, augmented with URL attachments extracted from the text.
func parseTasks(userInput string, attachments []PlanAttachment, parser TaskParser) ([]Task, error) {
	if parser != nil {
		tasks, err := parser.ParseTasks(context.Background(), userInput, attachments)
		if err == nil && len(tasks) > 0 {
			return assignIDs(tasks), nil
		}
		// Parse failure or an LLM that returned nothing falls through to
		// the fallback rather than propagating the error (§4.5.1
		// "Fallback: LLM unavailable or parse failure").
	}
	attachments = append(append([]PlanAttachment(nil), attachments...), extractLinkAttachments(userInput)...)
	return []Task{{
		ID:          1,
		Description: userInput,
		Kind:        NodeProcessing,
		Status:      TaskPlanned,
		Attachments: attachments,
	}}, nil
}

// extractLinkAttachments returns one PlanAttachment per URL found in text.
func extractLinkAttachments(text string) []PlanAttachment {
	matches := urlPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]PlanAttachment, 0, len(matches))
	for _, m := range matches {
		out = append(out, PlanAttachment{Kind: AttachmentLink, Value: m})
	}
	return out
}

// assignIDs fills sequential ids and Planned status into tasks returned by
// a TaskParser that only supplied description/kind/attachments.
func assignIDs(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		t.ID = i + 1
		if t.Status == "" {
			t.Status = TaskPlanned
		}
		out[i] = t
	}
	return out
}

// compactContext runs compactor if supplied, otherwise falls back to a
// local heuristic: concatenate completed task results, truncate to
// maxTokens (estimated via estimateTokens), and report the id of every
// completed task with a non-empty result as removed.
func compactContext(state PlannerState, maxTokens int, compactor ContextCompactor) (string, []int, error) {
	if compactor != nil {
		return compactor.Compact(context.Background(), state, maxTokens)
	}

	var b strings.Builder
	var removed []int
	for _, t := range state.Tasks {
		if t.Status != TaskCompleted || t.Result == "" {
			continue
		}
		b.WriteString(t.Result)
		b.WriteString("\n")
		removed = append(removed, t.ID)
	}
	summary := truncateToTokens(b.String(), maxTokens)
	return summary, removed, nil
}

// estimateTokens is a conservative chars/4 heuristic, not a model-specific
// tokenizer (§F.9 "Context compaction token estimation").
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// truncateToTokens trims s so that estimateTokens(s) <= maxTokens,
// truncating by character count derived from the same chars/4 heuristic.
func truncateToTokens(s string, maxTokens int) string {
	if maxTokens <= 0 || estimateTokens(s) <= maxTokens {
		return s
	}
	maxChars := maxTokens * 4
	if maxChars >= len(s) {
		return s
	}
	return s[:maxChars]
}
