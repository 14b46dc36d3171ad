package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for LLM, tool, and event-store observability spans and
// metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrToolCount = attribute.Key("llm.tool_count")
	AttrToolNames = attribute.Key("llm.tool_names")

	AttrStreamChunks = attribute.Key("llm.stream_chunks")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrStreamID      = attribute.Key("event.stream_id")
	AttrAggregateType = attribute.Key("event.aggregate_type")
	AttrAggregateID   = attribute.Key("event.aggregate_id")
	AttrEventType     = attribute.Key("event.type")
	AttrSequence      = attribute.Key("event.sequence")
)
